package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"

	"github.com/phantompen/pen/internal/app"
	"github.com/phantompen/pen/internal/errors"
	"github.com/phantompen/pen/internal/logging"
	"github.com/phantompen/pen/internal/ops"
	"github.com/phantompen/pen/internal/web"
	"github.com/phantompen/pen/internal/whisper"
)

// newCLIApp creates the CLI application with all commands. a may be nil for
// help and version output.
func newCLIApp(a *app.App) *cli.App {
	cliApp := &cli.App{
		Name:    "pen",
		Usage:   "Voice notes into memoir",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "Act as this user (defaults to mcp_user)"},
		},
		Commands: []*cli.Command{
			serveCmd(a),
			mcpCmd(a),
			createCmd(a),
			blankCmd(a),
			fetchCmd(a),
			updateCmd(a),
			titleCmd(a),
			visibilityCmd(a),
			deleteCmd(a),
			listCmd(a),
			searchCmd(a),
			memoirsCmd(a),
			regenerateCmd(a),
			scheduleCmd(a),
			transcribeCmd(a),
			uploadsCmd(a),
			userCmd(a),
			tokenCmd(a),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	cliApp.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return cliApp
}

// serveCmd creates the serve command.
func serveCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API, event stream and memoir pages",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "Listen address (defaults to http.host:http.port)"},
		},
		Action: func(c *cli.Context) error {
			ctx := c.Context
			if _, err := a.Recover(ctx); err != nil {
				return outputError(err)
			}
			if a.Cfg.Auth.JWTSecret == "" {
				a.Log.Warn("auth.jwt_secret is not set; every API call will be anonymous")
			}

			addr := c.String("addr")
			if addr == "" {
				addr = a.Cfg.Addr()
			}
			srv, err := web.NewServer(web.Deps{
				Env:      a.Env,
				Issuer:   a.Issuer,
				Verifier: a.Verifier,
				Hub:      a.Hub,
				Log:      a.Log.WithField(logging.FieldComponent, "web"),
			}, Version, addr)
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			return web.Run(ctx, srv, a.Log)
		},
	}
}

// mcpCmd creates the mcp command, the explicit form of piped mode.
func mcpCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Run the MCP server on stdio",
		Action: func(c *cli.Context) error {
			return runMCP(a)
		},
	}
}

// createCmd creates the create command.
func createCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Create a whisper (reads the transcript from --text or stdin)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "Whisper title"},
			&cli.StringFlag{Name: "text", Usage: "Transcript text"},
		},
		Action: func(c *cli.Context) error {
			text, err := readTranscript(c)
			if err != nil {
				return outputError(err)
			}
			if text == "" {
				return outputError(errors.NewInvalidRequest("transcript is required (use --text or pipe it via stdin)"))
			}
			out, err := ops.CreateWhisper(c.Context, a.Env, ops.CreateWhisperInput{
				Caller:     callerOf(c, a),
				Title:      c.String("title"),
				Transcript: text,
			})
			return output(c, out, err)
		},
	}
}

// blankCmd creates the blank command.
func blankCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "blank",
		Usage: "Create an empty whisper",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "Whisper title"},
		},
		Action: func(c *cli.Context) error {
			out, err := ops.CreateBlankNote(c.Context, a.Env, ops.CreateBlankNoteInput{
				Caller: callerOf(c, a),
				Title:  c.String("title"),
			})
			return output(c, out, err)
		},
	}
}

// fetchCmd creates the fetch command.
func fetchCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "Fetch a whisper",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			id, err := requireArg(c, 0, "id")
			if err != nil {
				return outputError(err)
			}
			out, err := ops.FetchWhisper(c.Context, a.Env, callerOf(c, a), id)
			return output(c, out, err)
		},
	}
}

// updateCmd creates the update command.
func updateCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "update",
		Usage:     "Replace a whisper's transcript (reads from --text or stdin)",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "text", Usage: "Transcript text"},
		},
		Action: func(c *cli.Context) error {
			id, err := requireArg(c, 0, "id")
			if err != nil {
				return outputError(err)
			}
			text, err := readTranscript(c)
			if err != nil {
				return outputError(err)
			}
			out, err := ops.UpdateTranscript(c.Context, a.Env, ops.UpdateTranscriptInput{
				Caller:     callerOf(c, a),
				ID:         id,
				Transcript: text,
			})
			return output(c, out, err)
		},
	}
}

// titleCmd creates the title command.
func titleCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "title",
		Usage:     "Rename a whisper",
		ArgsUsage: "<id> <title...>",
		Action: func(c *cli.Context) error {
			id, err := requireArg(c, 0, "id")
			if err != nil {
				return outputError(err)
			}
			out, err := ops.UpdateTitle(c.Context, a.Env, ops.UpdateTitleInput{
				Caller: callerOf(c, a),
				ID:     id,
				Title:  strings.Join(c.Args().Tail(), " "),
			})
			return output(c, out, err)
		},
	}
}

// visibilityCmd creates the visibility command.
func visibilityCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "visibility",
		Usage:     "Set or toggle whether a whisper is public",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "public", Usage: "New visibility; omit to toggle"},
		},
		Action: func(c *cli.Context) error {
			id, err := requireArg(c, 0, "id")
			if err != nil {
				return outputError(err)
			}
			input := ops.SetVisibilityInput{Caller: callerOf(c, a), ID: id}
			if c.IsSet("public") {
				public := c.Bool("public")
				input.Public = &public
			}
			out, err := ops.SetVisibility(c.Context, a.Env, input)
			return output(c, out, err)
		},
	}
}

// deleteCmd creates the delete command.
func deleteCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a whisper and its memoirs",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			id, err := requireArg(c, 0, "id")
			if err != nil {
				return outputError(err)
			}
			out, err := ops.DeleteWhisper(c.Context, a.Env, callerOf(c, a), id)
			return output(c, out, err)
		},
	}
}

// listCmd creates the list command.
func listCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List whispers, most recently updated first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Max results"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Usage: "Pagination offset"},
		},
		Action: func(c *cli.Context) error {
			out, err := ops.ListWhispers(c.Context, a.Env, ops.ListInput{
				Caller: callerOf(c, a),
				Limit:  c.Int("limit"),
				Offset: c.Int("offset"),
			})
			return output(c, out, err)
		},
	}
}

// searchCmd creates the search command.
func searchCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Full-text search over titles and transcripts",
		ArgsUsage: "<query...>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Max results"},
		},
		Action: func(c *cli.Context) error {
			query := strings.Join(c.Args().Slice(), " ")
			if strings.TrimSpace(query) == "" {
				return outputError(errors.NewInvalidRequest("query is required"))
			}
			out, err := ops.SearchWhispers(c.Context, a.Env, ops.SearchInput{
				Caller: callerOf(c, a),
				Query:  query,
				Limit:  c.Int("limit"),
			})
			return output(c, out, err)
		},
	}
}

// memoirsCmd creates the memoirs command.
func memoirsCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "memoirs",
		Usage: "List memoir entries (your own, or another user's public ones)",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Max entries"},
			&cli.StringFlag{Name: "public", Usage: "Show the public memoir of this user ID"},
		},
		Action: func(c *cli.Context) error {
			if userID := c.String("public"); userID != "" {
				out, err := ops.PublicMemoirs(c.Context, a.Env, userID, c.Int("limit"))
				return output(c, out, err)
			}
			out, err := ops.ListMemoirs(c.Context, a.Env, callerOf(c, a), c.Int("limit"))
			return output(c, out, err)
		},
	}
}

// regenerateCmd creates the regenerate command.
func regenerateCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "regenerate",
		Usage:     "Synthesize a whisper's memoir entries now",
		ArgsUsage: "<whisper-id>",
		Action: func(c *cli.Context) error {
			id, err := requireArg(c, 0, "whisper-id")
			if err != nil {
				return outputError(err)
			}
			out, err := ops.RegenerateMemoirs(c.Context, a.Env, callerOf(c, a), id)
			return output(c, out, err)
		},
	}
}

// scheduleCmd creates the schedule command.
func scheduleCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "schedule",
		Usage:     "Show the latest memoir schedule of a whisper",
		ArgsUsage: "<whisper-id>",
		Action: func(c *cli.Context) error {
			id, err := requireArg(c, 0, "whisper-id")
			if err != nil {
				return outputError(err)
			}
			out, err := ops.ScheduleStatus(c.Context, a.Env, callerOf(c, a), id)
			return output(c, out, err)
		},
	}
}

// transcribeCmd creates the transcribe command.
func transcribeCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "transcribe",
		Usage:     "Transcribe a recording into a new whisper or append it to one",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "whisper", Aliases: []string{"w"}, Usage: "Append to this whisper ID"},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "Hide upload progress"},
		},
		Action: func(c *cli.Context) error {
			path, err := requireArg(c, 0, "file")
			if err != nil {
				return outputError(err)
			}
			caller := callerOf(c, a)
			blobID, err := uploadFile(c.Context, a, caller, path, progressWriter(c))
			if err != nil {
				return outputError(err)
			}
			out, err := ops.Transcribe(c.Context, a.Env, ops.TranscribeInput{
				Caller:    caller,
				StorageID: blobID,
				WhisperID: c.String("whisper"),
			})
			return output(c, out, err)
		},
	}
}

// progressWriter is where upload progress goes, or nil when it is hidden.
func progressWriter(c *cli.Context) io.Writer {
	if c.Bool("quiet") {
		return nil
	}
	return c.App.ErrWriter
}

// uploadFile stores the file at path as the caller's upload, drawing a
// progress bar to progress when it is non-nil.
func uploadFile(ctx context.Context, a *app.App, caller, path string, progress io.Writer) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.NewInvalidRequest(fmt.Sprintf("cannot open %s: %v", path, err))
	}
	defer f.Close()

	var r io.Reader = f
	if progress != nil {
		info, err := f.Stat()
		if err != nil {
			return "", errors.NewInternal(err)
		}
		bar := progressbar.NewOptions64(info.Size(),
			progressbar.OptionSetWriter(progress),
			progressbar.OptionSetDescription("uploading "+humanize.Bytes(uint64(info.Size()))),
			progressbar.OptionShowBytes(true),
			progressbar.OptionClearOnFinish(),
		)
		defer bar.Finish()
		reader := progressbar.NewReader(f, bar)
		r = &reader
	}

	blob, err := ops.UploadAudio(ctx, a.Env, caller, r)
	if err != nil {
		return "", err
	}
	return blob.ID, nil
}

// uploadsCmd creates the uploads command.
func uploadsCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "uploads",
		Usage: "List transcription uploads",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "Filter by status: completed|failed"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Max results"},
		},
		Action: func(c *cli.Context) error {
			out, err := ops.ListUploads(c.Context, a.Env, ops.ListUploadsInput{
				Caller: callerOf(c, a),
				Status: whisper.UploadStatus(c.String("status")),
				Limit:  c.Int("limit"),
			})
			return output(c, out, err)
		},
	}
}

// userCmd creates the user command and its subcommands.
func userCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "user",
		Usage: "Manage the user profile",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Show the profile",
				Action: func(c *cli.Context) error {
					out, err := ops.GetMe(c.Context, a.Env, callerOf(c, a))
					return output(c, out, err)
				},
			},
			{
				Name:  "sync",
				Usage: "Create the profile or refresh its identity fields",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email"},
					&cli.StringFlag{Name: "first-name"},
					&cli.StringFlag{Name: "last-name"},
					&cli.StringFlag{Name: "picture", Usage: "Profile picture URL"},
				},
				Action: func(c *cli.Context) error {
					out, err := ops.UpsertUser(c.Context, a.Env, ops.UpsertUserInput{
						Caller:         callerOf(c, a),
						Email:          c.String("email"),
						FirstName:      c.String("first-name"),
						LastName:       c.String("last-name"),
						ProfilePicture: c.String("picture"),
					})
					return output(c, out, err)
				},
			},
			{
				Name:  "style",
				Usage: "Update memoir style answers",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "voice", Usage: whisper.VoiceSceneFocused + "|" + whisper.VoiceReflectionFocused},
					&cli.StringFlag{Name: "writing", Usage: whisper.WritingCleanSimple + "|" + whisper.WritingMusicalDescriptive},
					&cli.StringFlag{Name: "candor", Usage: whisper.CandorFullyCandid + "|" + whisper.CandorSoftenedDetails},
					&cli.StringFlag{Name: "humor", Usage: whisper.HumorNatural + "|" + whisper.HumorBackground},
					&cli.StringFlag{Name: "feeling", Usage: "What readers should feel"},
					&cli.StringFlag{Name: "opener", Usage: "Preferred opening line"},
					&cli.BoolFlag{Name: "complete", Usage: "Also mark onboarding as completed"},
				},
				Action: func(c *cli.Context) error {
					style := whisper.StyleProfile{
						VoiceStyle:    c.String("voice"),
						WritingStyle:  c.String("writing"),
						CandorLevel:   c.String("candor"),
						HumorStyle:    c.String("humor"),
						FeelingIntent: c.String("feeling"),
						Opener:        c.String("opener"),
					}
					if c.Bool("complete") {
						out, err := ops.CompleteOnboarding(c.Context, a.Env, callerOf(c, a), style)
						return output(c, out, err)
					}
					out, err := ops.UpdateStyle(c.Context, a.Env, callerOf(c, a), style)
					return output(c, out, err)
				},
			},
			{
				Name:      "public",
				Usage:     "Make the memoir page public or private",
				ArgsUsage: "<true|false>",
				Action: func(c *cli.Context) error {
					raw, err := requireArg(c, 0, "value")
					if err != nil {
						return outputError(err)
					}
					public, perr := strconv.ParseBool(raw)
					if perr != nil {
						return outputError(errors.NewInvalidRequest(fmt.Sprintf("invalid value %q: want true or false", raw)))
					}
					out, err := ops.SetMemoirPublic(c.Context, a.Env, callerOf(c, a), public)
					return output(c, out, err)
				},
			},
			{
				Name:  "delete",
				Usage: "Delete the profile and every whisper",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "Confirm deletion"},
				},
				Action: func(c *cli.Context) error {
					if !c.Bool("yes") {
						return outputError(errors.NewInvalidRequest("refusing to delete without --yes"))
					}
					out, err := ops.DeleteUser(c.Context, a.Env, callerOf(c, a))
					return output(c, out, err)
				},
			},
		},
	}
}

// tokenCmd creates the token command.
func tokenCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue a bearer token for the HTTP API",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "upload", Usage: "Issue a short-lived upload ticket instead"},
		},
		Action: func(c *cli.Context) error {
			caller := callerOf(c, a)
			if caller == "" {
				return outputError(errors.NewNotAuthenticated())
			}
			issue, ttl := a.Issuer.Issue, a.Cfg.Auth.TokenTTL
			if c.Bool("upload") {
				issue, ttl = a.Issuer.IssueUpload, a.Cfg.Auth.UploadTTL
			}
			tok, err := issue(caller)
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}
			return outputJSON(c, map[string]any{
				"token":      tok,
				"subject":    caller,
				"expires_in": int(ttl.Seconds()),
			})
		},
	}
}

// Helper functions

// callerOf returns --user, falling back to mcp_user.
func callerOf(c *cli.Context, a *app.App) string {
	if u := strings.TrimSpace(c.String("user")); u != "" {
		return u
	}
	return a.Cfg.MCPUser
}

// requireArg returns positional argument i or an INVALID_REQUEST error.
func requireArg(c *cli.Context, i int, name string) (string, error) {
	v := strings.TrimSpace(c.Args().Get(i))
	if v == "" {
		return "", errors.NewInvalidRequest(name + " is required")
	}
	return v, nil
}

// readTranscript returns --text, or stdin when it is piped.
func readTranscript(c *cli.Context) (string, error) {
	if c.IsSet("text") {
		return c.String("text"), nil
	}
	if !stdinHasData() {
		return "", nil
	}
	data, err := io.ReadAll(c.App.Reader)
	if err != nil {
		return "", errors.NewInternal(err)
	}
	return strings.TrimSpace(string(data)), nil
}

// output writes v as JSON, or the formatted error.
func output(c *cli.Context, v any, err error) error {
	if err != nil {
		return outputError(err)
	}
	return outputJSON(c, v)
}

// outputJSON writes v to the app's writer as indented JSON.
func outputJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if pErr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", pErr.Code, pErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
var stdinHasData = func() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}
