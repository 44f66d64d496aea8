package web

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/phantompen/pen/internal/auth"
	"github.com/phantompen/pen/internal/errors"
	"github.com/phantompen/pen/internal/events"
	"github.com/phantompen/pen/internal/ops"
	"github.com/phantompen/pen/internal/whisper"
)

// maxJSONBody caps JSON request bodies.
const maxJSONBody = 1 << 20

// Handlers contains HTTP route handlers for the JSON API and memoir page.
type Handlers struct {
	env      *ops.Env
	issuer   *auth.Issuer
	hub      *events.Hub
	renderer *Renderer
	version  string
	log      logrus.FieldLogger
}

// caller returns the session subject. Upload tickets do not count as a session.
func caller(r *http.Request) string {
	id := auth.FromContext(r.Context())
	if id == nil || id.Purpose != "" {
		return ""
	}
	return id.Subject
}

// decodeJSON reads a JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if err == io.EOF {
			return errors.NewInvalidRequest("request body is required")
		}
		return errors.NewInvalidRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

// respond writes out as JSON, or the error envelope when err is set.
func respond(w http.ResponseWriter, status int, out any, err error) {
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, status, out)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.env.DB.PingContext(r.Context()); err != nil {
		renderError(w, errors.NewInternal(err))
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": h.version,
	})
}

// --- whispers ---

type whisperBody struct {
	Title      string          `json:"title"`
	Transcript string          `json:"transcript"`
	Content    []whisper.Block `json:"content"`
}

// HandleCreateWhisper handles POST /api/whispers.
func (h *Handlers) HandleCreateWhisper(w http.ResponseWriter, r *http.Request) {
	var body whisperBody
	if err := decodeJSON(w, r, &body); err != nil {
		renderError(w, err)
		return
	}
	out, err := ops.CreateWhisper(r.Context(), h.env, ops.CreateWhisperInput{
		Caller:     caller(r),
		Title:      body.Title,
		Transcript: body.Transcript,
		Content:    body.Content,
	})
	respond(w, http.StatusCreated, out, err)
}

// HandleCreateBlank handles POST /api/whispers/blank.
func (h *Handlers) HandleCreateBlank(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &body); err != nil {
			renderError(w, err)
			return
		}
	}
	out, err := ops.CreateBlankNote(r.Context(), h.env, ops.CreateBlankNoteInput{Caller: caller(r), Title: body.Title})
	respond(w, http.StatusCreated, out, err)
}

// HandleListWhispers handles GET /api/whispers.
func (h *Handlers) HandleListWhispers(w http.ResponseWriter, r *http.Request) {
	out, err := ops.ListWhispers(r.Context(), h.env, ops.ListInput{
		Caller: caller(r),
		Limit:  parseIntParam(r, "limit", ops.DefaultListLimit),
		Offset: parseIntParam(r, "offset", 0),
	})
	respond(w, http.StatusOK, out, err)
}

// HandleSearchWhispers handles GET /api/whispers/search?q=.
func (h *Handlers) HandleSearchWhispers(w http.ResponseWriter, r *http.Request) {
	out, err := ops.SearchWhispers(r.Context(), h.env, ops.SearchInput{
		Caller: caller(r),
		Query:  r.URL.Query().Get("q"),
		Limit:  parseIntParam(r, "limit", 0),
	})
	respond(w, http.StatusOK, out, err)
}

// HandleGetWhisper handles GET /api/whispers/{id}.
func (h *Handlers) HandleGetWhisper(w http.ResponseWriter, r *http.Request) {
	out, err := ops.FetchWhisper(r.Context(), h.env, caller(r), r.PathValue("id"))
	respond(w, http.StatusOK, out, err)
}

// HandleGetPublicWhisper handles GET /api/public/whispers/{id}.
func (h *Handlers) HandleGetPublicWhisper(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	out, err := ops.FetchPublicWhisper(r.Context(), h.env, id)
	if err == nil && out == nil {
		err = errors.NewNotFound("whisper", id)
	}
	respond(w, http.StatusOK, out, err)
}

// HandleUpdateTranscript handles PUT /api/whispers/{id}/transcript.
func (h *Handlers) HandleUpdateTranscript(w http.ResponseWriter, r *http.Request) {
	var body whisperBody
	if err := decodeJSON(w, r, &body); err != nil {
		renderError(w, err)
		return
	}
	out, err := ops.UpdateTranscript(r.Context(), h.env, ops.UpdateTranscriptInput{
		Caller:     caller(r),
		ID:         r.PathValue("id"),
		Transcript: body.Transcript,
		Content:    body.Content,
	})
	respond(w, http.StatusOK, out, err)
}

// HandleUpdateContent handles PUT /api/whispers/{id}/content.
func (h *Handlers) HandleUpdateContent(w http.ResponseWriter, r *http.Request) {
	var body whisperBody
	if err := decodeJSON(w, r, &body); err != nil {
		renderError(w, err)
		return
	}
	out, err := ops.UpdateContent(r.Context(), h.env, ops.UpdateContentInput{
		Caller:  caller(r),
		ID:      r.PathValue("id"),
		Content: body.Content,
	})
	respond(w, http.StatusOK, out, err)
}

// HandleUpdateTitle handles PUT /api/whispers/{id}/title.
func (h *Handlers) HandleUpdateTitle(w http.ResponseWriter, r *http.Request) {
	var body whisperBody
	if err := decodeJSON(w, r, &body); err != nil {
		renderError(w, err)
		return
	}
	out, err := ops.UpdateTitle(r.Context(), h.env, ops.UpdateTitleInput{
		Caller: caller(r),
		ID:     r.PathValue("id"),
		Title:  body.Title,
	})
	respond(w, http.StatusOK, out, err)
}

// HandleSetVisibility handles PUT /api/whispers/{id}/visibility. A missing
// or null "public" toggles.
func (h *Handlers) HandleSetVisibility(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Public *bool `json:"public"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &body); err != nil {
			renderError(w, err)
			return
		}
	}
	out, err := ops.SetVisibility(r.Context(), h.env, ops.SetVisibilityInput{
		Caller: caller(r),
		ID:     r.PathValue("id"),
		Public: body.Public,
	})
	respond(w, http.StatusOK, out, err)
}

// HandleDeleteWhisper handles DELETE /api/whispers/{id}.
func (h *Handlers) HandleDeleteWhisper(w http.ResponseWriter, r *http.Request) {
	out, err := ops.DeleteWhisper(r.Context(), h.env, caller(r), r.PathValue("id"))
	respond(w, http.StatusOK, out, err)
}

// HandleScheduleStatus handles GET /api/whispers/{id}/schedule.
func (h *Handlers) HandleScheduleStatus(w http.ResponseWriter, r *http.Request) {
	out, err := ops.ScheduleStatus(r.Context(), h.env, caller(r), r.PathValue("id"))
	respond(w, http.StatusOK, out, err)
}

// HandleRegenerate handles POST /api/whispers/{id}/regenerate.
func (h *Handlers) HandleRegenerate(w http.ResponseWriter, r *http.Request) {
	out, err := ops.RegenerateMemoirs(r.Context(), h.env, caller(r), r.PathValue("id"))
	respond(w, http.StatusOK, out, err)
}

// --- memoirs ---

// HandleListMemoirs handles GET /api/memoirs.
func (h *Handlers) HandleListMemoirs(w http.ResponseWriter, r *http.Request) {
	out, err := ops.ListMemoirs(r.Context(), h.env, caller(r), parseIntParam(r, "limit", 0))
	respond(w, http.StatusOK, out, err)
}

// HandlePublicMemoirs handles GET /api/public/memoirs/{userID}.
func (h *Handlers) HandlePublicMemoirs(w http.ResponseWriter, r *http.Request) {
	out, err := ops.PublicMemoirs(r.Context(), h.env, r.PathValue("userID"), parseIntParam(r, "limit", 0))
	respond(w, http.StatusOK, out, err)
}

// HandleMemoirPage handles GET /memoir/{userID}, the public memoir page.
func (h *Handlers) HandleMemoirPage(w http.ResponseWriter, r *http.Request) {
	out, err := ops.PublicMemoirs(r.Context(), h.env, r.PathValue("userID"), 0)
	if err != nil {
		h.renderer.renderErrorPage(w, r, err)
		return
	}

	entries := make([]MemoirEntry, 0, len(out.Items))
	for _, m := range out.Items {
		entries = append(entries, MemoirEntry{Date: m.Date, Title: m.Title, HTML: renderMarkdown(m.Content)})
	}
	author := out.DisplayName
	if author == "" {
		author = "Anonymous"
	}
	h.renderer.renderPage(w, http.StatusOK, "memoir", MemoirPageData{
		PageData:     PageData{Title: author, Version: h.version},
		Author:       author,
		MemoirPublic: out.MemoirPublic,
		Entries:      entries,
	})
}

// --- users ---

// HandleUpsertMe handles POST /api/users/me.
func (h *Handlers) HandleUpsertMe(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email          string `json:"email"`
		FirstName      string `json:"first_name"`
		LastName       string `json:"last_name"`
		ProfilePicture string `json:"profile_picture"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		renderError(w, err)
		return
	}
	out, err := ops.UpsertUser(r.Context(), h.env, ops.UpsertUserInput{
		Caller:         caller(r),
		Email:          body.Email,
		FirstName:      body.FirstName,
		LastName:       body.LastName,
		ProfilePicture: body.ProfilePicture,
	})
	respond(w, http.StatusOK, out, err)
}

// HandleGetMe handles GET /api/users/me.
func (h *Handlers) HandleGetMe(w http.ResponseWriter, r *http.Request) {
	out, err := ops.GetMe(r.Context(), h.env, caller(r))
	respond(w, http.StatusOK, out, err)
}

// HandleUpdateStyle handles PUT /api/users/me/style.
func (h *Handlers) HandleUpdateStyle(w http.ResponseWriter, r *http.Request) {
	var style whisper.StyleProfile
	if err := decodeJSON(w, r, &style); err != nil {
		renderError(w, err)
		return
	}
	out, err := ops.UpdateStyle(r.Context(), h.env, caller(r), style)
	respond(w, http.StatusOK, out, err)
}

// HandleCompleteOnboarding handles POST /api/users/me/onboarding.
func (h *Handlers) HandleCompleteOnboarding(w http.ResponseWriter, r *http.Request) {
	var style whisper.StyleProfile
	if err := decodeJSON(w, r, &style); err != nil {
		renderError(w, err)
		return
	}
	out, err := ops.CompleteOnboarding(r.Context(), h.env, caller(r), style)
	respond(w, http.StatusOK, out, err)
}

// HandleSetMemoirPublic handles PUT /api/users/me/memoir-public.
func (h *Handlers) HandleSetMemoirPublic(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Public *bool `json:"public"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		renderError(w, err)
		return
	}
	if body.Public == nil {
		renderError(w, errors.NewInvalidRequest("public is required"))
		return
	}
	out, err := ops.SetMemoirPublic(r.Context(), h.env, caller(r), *body.Public)
	respond(w, http.StatusOK, out, err)
}

// HandleDeleteMe handles DELETE /api/users/me.
func (h *Handlers) HandleDeleteMe(w http.ResponseWriter, r *http.Request) {
	out, err := ops.DeleteUser(r.Context(), h.env, caller(r))
	respond(w, http.StatusOK, out, err)
}

// --- ingestion ---

// HandleUploadTicket handles POST /api/uploads/ticket. The returned token
// authorizes a single upload and expires quickly.
func (h *Handlers) HandleUploadTicket(w http.ResponseWriter, r *http.Request) {
	subject := caller(r)
	if subject == "" {
		renderError(w, errors.NewNotAuthenticated())
		return
	}
	if h.issuer == nil {
		renderError(w, errors.NewInternal(auth.ErrNoSecret))
		return
	}
	tok, err := h.issuer.IssueUpload(subject)
	if err != nil {
		renderError(w, errors.NewInternal(err))
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{
		"token":      tok,
		"upload_url": "/api/uploads?token=" + tok,
		"expires_in": int(h.env.Cfg.Auth.UploadTTL / time.Second),
	})
}

// HandleUpload handles POST /api/uploads with the raw recording as the body.
// Session tokens and upload tickets are both accepted.
func (h *Handlers) HandleUpload(w http.ResponseWriter, r *http.Request) {
	subject := auth.Subject(r.Context())
	out, err := ops.UploadAudio(r.Context(), h.env, subject, r.Body)
	respond(w, http.StatusCreated, out, err)
}

// HandleTranscribe handles POST /api/transcribe.
func (h *Handlers) HandleTranscribe(w http.ResponseWriter, r *http.Request) {
	var body struct {
		StorageID string `json:"storage_id"`
		WhisperID string `json:"whisper_id"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		renderError(w, err)
		return
	}
	out, err := ops.Transcribe(r.Context(), h.env, ops.TranscribeInput{
		Caller:    caller(r),
		StorageID: body.StorageID,
		WhisperID: body.WhisperID,
	})
	respond(w, http.StatusOK, out, err)
}

// HandleListUploads handles GET /api/uploads?status=.
func (h *Handlers) HandleListUploads(w http.ResponseWriter, r *http.Request) {
	out, err := ops.ListUploads(r.Context(), h.env, ops.ListUploadsInput{
		Caller: caller(r),
		Status: whisper.UploadStatus(r.URL.Query().Get("status")),
		Limit:  parseIntParam(r, "limit", 0),
	})
	respond(w, http.StatusOK, out, err)
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
