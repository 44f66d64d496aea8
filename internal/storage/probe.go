package storage

import (
	"io"
	"strings"

	"github.com/dhowden/tag"
	"github.com/gabriel-vasile/mimetype"

	"github.com/phantompen/pen/internal/errors"
)

// Info describes a stored recording.
type Info struct {
	ContentType string `json:"content_type"`
	Extension   string `json:"extension"`
	Title       string `json:"title,omitempty"`
	Size        int64  `json:"size_bytes"`
}

// IsAudio reports whether the content can be sent to speech-to-text.
// Video containers (webm, mp4) are accepted since browsers record into them.
func (i *Info) IsAudio() bool {
	return strings.HasPrefix(i.ContentType, "audio/") ||
		strings.HasPrefix(i.ContentType, "video/") ||
		i.ContentType == "application/ogg"
}

// Probe sniffs the blob's content type and reads an embedded title tag when
// the container carries one.
func (s *Store) Probe(id string) (*Info, error) {
	f, err := s.Open(id)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	info := &Info{
		ContentType: mt.String(),
		Extension:   mt.Extension(),
		Size:        st.Size(),
	}
	// Parameters such as charset are not useful to upstreams.
	if i := strings.IndexByte(info.ContentType, ';'); i >= 0 {
		info.ContentType = strings.TrimSpace(info.ContentType[:i])
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, errors.NewInternal(err)
	}
	if m, err := tag.ReadFrom(f); err == nil {
		info.Title = strings.TrimSpace(m.Title())
	}
	return info, nil
}
