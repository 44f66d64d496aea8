package whisper

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New()

// StripMarkdown renders markdown as plain text: one line per block, with
// formatting, images and code blocks removed.
func StripMarkdown(src string) string {
	if IsBlank(src) {
		return ""
	}
	lines := make([]string, 0, 8)
	for _, b := range ParseBlocks(src) {
		lines = append(lines, b.Content)
	}
	return strings.Join(lines, "\n")
}

// ParseBlocks converts markdown into structured content blocks. Headings keep
// their level; every other block (paragraphs, list items, quotes) becomes a
// paragraph. Empty blocks are dropped.
func ParseBlocks(src string) []Block {
	source := []byte(src)
	doc := markdown.Parser().Parse(text.NewReader(source))

	var blocks []Block
	add := func(b Block) {
		b.Content = strings.TrimSpace(b.Content)
		if b.Content != "" {
			blocks = append(blocks, b)
		}
	}

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			add(Block{Type: BlockHeading, Content: inlineText(node, source), Level: node.Level})
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph, *ast.TextBlock:
			add(Block{Type: BlockParagraph, Content: inlineText(node, source)})
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock, *ast.ThematicBreak:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return blocks
}

// RenderBlocks turns blocks back into markdown text, one block per line.
func RenderBlocks(blocks []Block) string {
	lines := make([]string, 0, len(blocks))
	for _, b := range blocks {
		content := strings.TrimSpace(b.Content)
		if content == "" {
			continue
		}
		if b.Type == BlockHeading {
			level := b.Level
			if level < 1 || level > 6 {
				level = 1
			}
			content = strings.Repeat("#", level) + " " + content
		}
		lines = append(lines, content)
	}
	return strings.Join(lines, "\n")
}

// ValidateBlocks rejects unknown block types and out-of-range heading levels.
func ValidateBlocks(blocks []Block) error {
	for i, b := range blocks {
		switch b.Type {
		case BlockParagraph:
		case BlockHeading:
			if b.Level < 1 || b.Level > 6 {
				return fmt.Errorf("content block %d: heading level must be between 1 and 6", i)
			}
		default:
			return fmt.Errorf("content block %d: unknown block type %q", i, b.Type)
		}
	}
	return nil
}

// inlineText concatenates the text under n, skipping images and
// turning soft line breaks into spaces.
func inlineText(n ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := c.(type) {
		case *ast.Image, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			sb.Write(node.Segment.Value(source))
			if node.SoftLineBreak() || node.HardLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(node.Value)
		case *ast.AutoLink:
			sb.Write(node.Label(source))
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return whitespaceRegex.ReplaceAllString(sb.String(), " ")
}
