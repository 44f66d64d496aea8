// Package web serves the Phantom Pen JSON API, the live event stream and the
// public memoir page.
package web

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/phantompen/pen/internal/auth"
	"github.com/phantompen/pen/internal/events"
	"github.com/phantompen/pen/internal/logging"
	"github.com/phantompen/pen/internal/ops"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// eventsPath is the websocket endpoint, the only route taking session tokens
// from the query string.
const eventsPath = "/api/events"

// Deps are the collaborators the server needs.
type Deps struct {
	Env      *ops.Env
	Issuer   *auth.Issuer
	Verifier *auth.Verifier
	Hub      *events.Hub
	Log      logrus.FieldLogger
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(deps Deps, version string) (http.Handler, error) {
	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, err
	}
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, err
	}

	log := logging.OrDiscard(deps.Log)
	h := &Handlers{
		env:      deps.Env,
		issuer:   deps.Issuer,
		hub:      deps.Hub,
		renderer: NewRenderer(templateSub, version, log),
		version:  version,
		log:      log,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.HandleHealth)

	mux.HandleFunc("POST /api/whispers", h.HandleCreateWhisper)
	mux.HandleFunc("POST /api/whispers/blank", h.HandleCreateBlank)
	mux.HandleFunc("GET /api/whispers", h.HandleListWhispers)
	mux.HandleFunc("GET /api/whispers/search", h.HandleSearchWhispers)
	mux.HandleFunc("GET /api/whispers/{id}", h.HandleGetWhisper)
	mux.HandleFunc("PUT /api/whispers/{id}/transcript", h.HandleUpdateTranscript)
	mux.HandleFunc("PUT /api/whispers/{id}/content", h.HandleUpdateContent)
	mux.HandleFunc("PUT /api/whispers/{id}/title", h.HandleUpdateTitle)
	mux.HandleFunc("PUT /api/whispers/{id}/visibility", h.HandleSetVisibility)
	mux.HandleFunc("DELETE /api/whispers/{id}", h.HandleDeleteWhisper)
	mux.HandleFunc("GET /api/whispers/{id}/schedule", h.HandleScheduleStatus)
	mux.HandleFunc("POST /api/whispers/{id}/regenerate", h.HandleRegenerate)

	mux.HandleFunc("GET /api/memoirs", h.HandleListMemoirs)

	mux.HandleFunc("GET /api/public/whispers/{id}", h.HandleGetPublicWhisper)
	mux.HandleFunc("GET /api/public/memoirs/{userID}", h.HandlePublicMemoirs)

	mux.HandleFunc("POST /api/users/me", h.HandleUpsertMe)
	mux.HandleFunc("GET /api/users/me", h.HandleGetMe)
	mux.HandleFunc("PUT /api/users/me/style", h.HandleUpdateStyle)
	mux.HandleFunc("POST /api/users/me/onboarding", h.HandleCompleteOnboarding)
	mux.HandleFunc("PUT /api/users/me/memoir-public", h.HandleSetMemoirPublic)
	mux.HandleFunc("DELETE /api/users/me", h.HandleDeleteMe)

	mux.HandleFunc("POST /api/uploads/ticket", h.HandleUploadTicket)
	mux.HandleFunc("POST /api/uploads", h.HandleUpload)
	mux.HandleFunc("GET /api/uploads", h.HandleListUploads)
	mux.HandleFunc("POST /api/transcribe", h.HandleTranscribe)

	mux.HandleFunc("GET "+eventsPath, h.HandleEvents)

	mux.HandleFunc("GET /memoir/{userID}", h.HandleMemoirPage)
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(staticSub)))

	var handler http.Handler = mux
	handler = auth.Middleware(deps.Verifier, eventsPath)(handler)
	handler = securityHeaders(handler)
	handler = accessLog(log)(handler)
	handler = requestID(handler)
	return handler, nil
}

// NewServer creates the HTTP server listening on addr.
func NewServer(deps Deps, version, addr string) (*http.Server, error) {
	handler, err := NewHandler(deps, version)
	if err != nil {
		return nil, err
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}

// Run starts the HTTP server and handles graceful shutdown on SIGINT/SIGTERM
// or when ctx is cancelled.
func Run(ctx context.Context, srv *http.Server, log logrus.FieldLogger) error {
	log = logging.OrDiscard(log)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.WithField("addr", srv.Addr).Infof("Phantom Pen API running at http://%s", srv.Addr)

	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		log.Warn("server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
