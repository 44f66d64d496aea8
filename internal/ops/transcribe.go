package ops

import (
	"context"
	"fmt"
	"io"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/phantompen/pen/internal/db"
	"github.com/phantompen/pen/internal/errors"
	"github.com/phantompen/pen/internal/llm"
	"github.com/phantompen/pen/internal/logging"
	"github.com/phantompen/pen/internal/storage"
	"github.com/phantompen/pen/internal/whisper"
)

// UploadAudio stores a recording for a later Transcribe call. The recording
// is held as a pending upload owned by caller; nobody else can transcribe it.
func UploadAudio(ctx context.Context, env *Env, caller string, r io.Reader) (*storage.Blob, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if env.Blobs == nil {
		return nil, errors.NewInternal(fmt.Errorf("blob storage is not configured"))
	}
	blob, err := env.Blobs.Put(r, env.cfg().MaxUploadBytes)
	if err != nil {
		return nil, err
	}
	now := env.now().UnixMilli()
	err = db.InsertUpload(ctx, env.DB, &whisper.Upload{
		ID:        ulid.Make().String(),
		UserID:    caller,
		StorageID: blob.ID,
		Status:    whisper.UploadPending,
		SizeBytes: blob.Size,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		env.releaseBlob(context.WithoutCancel(ctx), blob.ID)
		return nil, err
	}
	return blob, nil
}

// TranscribeInput contains parameters for the Transcribe operation.
type TranscribeInput struct {
	Caller    string
	StorageID string

	// WhisperID appends the text to an existing whisper; empty creates one.
	WhisperID string
}

// TranscribeOutput contains the result of the Transcribe operation.
type TranscribeOutput struct {
	Text     string            `json:"text"`
	Created  bool              `json:"created"`
	Whisper  *whisper.Whisper  `json:"whisper"`
	Upload   *whisper.Upload   `json:"upload"`
	Schedule *whisper.Schedule `json:"schedule,omitempty"`
}

// Transcribe converts one of the caller's pending uploads to text and appends
// it to a whisper, creating one when no target is given. The pending upload
// is consumed whether or not transcription succeeded, and the recording is
// deleted once no pending upload references it.
func Transcribe(ctx context.Context, env *Env, input TranscribeInput) (out *TranscribeOutput, err error) {
	if err := requireCaller(input.Caller); err != nil {
		return nil, err
	}
	if input.StorageID == "" {
		return nil, errors.NewInvalidRequest("storage id is required")
	}
	if env.Blobs == nil || env.Transcriber == nil {
		return nil, errors.NewInternal(fmt.Errorf("transcription is not configured"))
	}

	pending, err := claimUpload(ctx, env, input.Caller, input.StorageID)
	if err != nil {
		return nil, err
	}

	log := env.log().WithFields(logrus.Fields{
		logging.FieldUserID: input.Caller,
		"storage_id":        input.StorageID,
	})
	var (
		info  *storage.Info
		owned bool
	)
	defer func() {
		if err != nil {
			env.settleFailedUpload(ctx, log, pending, info, owned, err)
		}
		env.releaseBlob(context.WithoutCancel(ctx), input.StorageID)
	}()

	if input.WhisperID != "" {
		if _, err := loadOwned(ctx, env.DB, input.Caller, input.WhisperID); err != nil {
			return nil, err
		}
		owned = true
	}

	info, err = env.Blobs.Probe(input.StorageID)
	if err != nil {
		return nil, err
	}
	if !info.IsAudio() {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unsupported content type %q", info.ContentType))
	}

	text, err := env.transcribe(ctx, input.StorageID, info)
	if err != nil {
		return nil, err
	}

	out = &TranscribeOutput{Text: text}
	if input.WhisperID != "" {
		w, _, err := mutateOwned(ctx, env, input.Caller, input.WhisperID, func(w *whisper.Whisper) (bool, error) {
			w.Transcript = whisper.AppendTranscript(w.Transcript, text)
			w.Content = append(w.Content, whisper.ParseBlocks(text)...)
			w.Revision++
			return true, nil
		})
		if err != nil {
			return nil, err
		}
		out.Whisper = w
	} else {
		title := env.titleFor(ctx, text, info)
		w, err := insertWhisper(ctx, env, input.Caller, title, text, whisper.ParseBlocks(text))
		if err != nil {
			return nil, err
		}
		out.Whisper = w
		out.Created = true
	}

	pending.WhisperID = out.Whisper.ID
	out.Upload = env.finishUpload(ctx, log, pending, info, whisper.UploadCompleted, "")
	out.Schedule = env.reschedule(ctx, out.Whisper)
	return out, nil
}

// claimUpload returns the caller's pending upload of storageID. A recording
// held only by other users is UNAUTHORIZED; an unknown one is NOT_FOUND.
func claimUpload(ctx context.Context, env *Env, caller, storageID string) (*whisper.Upload, error) {
	u, err := db.GetPendingUpload(ctx, env.DB, caller, storageID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}
	n, cerr := db.CountPendingUploads(ctx, env.DB, storageID)
	if cerr != nil {
		return nil, cerr
	}
	if n > 0 {
		return nil, errors.NewUnauthorized("upload")
	}
	return nil, err
}

// settleFailedUpload records a failure against a whisper the caller owns.
// Any other failure drops the pending record.
func (e *Env) settleFailedUpload(ctx context.Context, log logrus.FieldLogger, u *whisper.Upload, info *storage.Info, owned bool, cause error) {
	if owned {
		e.finishUpload(ctx, log, u, info, whisper.UploadFailed, cause.Error())
		return
	}
	if err := db.DeleteUpload(context.WithoutCancel(ctx), e.DB, u.ID); err != nil {
		log.WithError(err).Warn("failed to drop pending upload")
	}
}

// finishUpload stores the outcome of a transcription on its upload record.
// Failures to record are logged only.
func (e *Env) finishUpload(ctx context.Context, log logrus.FieldLogger, u *whisper.Upload, info *storage.Info, status whisper.UploadStatus, msg string) *whisper.Upload {
	u.Status = status
	u.Error = msg
	u.UpdatedAt = e.now().UnixMilli()
	if info != nil {
		u.ContentType = info.ContentType
		u.SizeBytes = info.Size
	}
	if err := db.UpdateUpload(context.WithoutCancel(ctx), e.DB, u); err != nil {
		log.WithError(err).WithField(logging.FieldWhisperID, u.WhisperID).Warn("failed to record upload")
		return nil
	}
	return u
}

// releaseBlob deletes a recording once no pending upload references it.
func (e *Env) releaseBlob(ctx context.Context, storageID string) {
	log := e.log().WithField("storage_id", storageID)
	n, err := db.CountPendingUploads(ctx, e.DB, storageID)
	if err != nil {
		log.WithError(err).Warn("failed to count pending uploads")
		return
	}
	if n > 0 {
		return
	}
	if err := e.Blobs.Delete(storageID); err != nil {
		log.WithError(err).Warn("failed to delete uploaded recording")
	}
}

func (e *Env) transcribe(ctx context.Context, storageID string, info *storage.Info) (string, error) {
	data, err := e.Blobs.Read(storageID)
	if err != nil {
		return "", err
	}

	tctx, cancel := context.WithTimeout(ctx, e.cfg().TranscriptionTimeout)
	defer cancel()

	text, err := e.Transcriber.Transcribe(tctx, llm.Audio{
		Name:        storageID + info.Extension,
		ContentType: info.ContentType,
		Data:        data,
	})
	if err != nil {
		if errors.Is(err, errors.ErrUpstreamTranscription) {
			return "", err
		}
		return "", errors.NewUpstreamTranscription(err)
	}
	text = whisper.NormalizeText(text)
	if text == "" {
		return "", errors.NewUpstreamTranscription(fmt.Errorf("transcription returned no text"))
	}
	return text, nil
}

// titleFor picks a title for a whisper created from a recording: the
// recording's own title tag, then a generated one, then the default.
func (e *Env) titleFor(ctx context.Context, text string, info *storage.Info) string {
	if t := whisper.NormalizeTitle(info.Title); t != "" {
		return t
	}
	if e.Titler != nil {
		t, err := e.Titler.GenerateTitle(ctx, text)
		if err == nil {
			if t = whisper.NormalizeTitle(t); t != "" {
				return t
			}
		} else {
			e.log().WithError(err).Warn("title generation failed")
		}
	}
	return whisper.DefaultTitle
}

// ListUploadsInput contains parameters for the ListUploads operation.
type ListUploadsInput struct {
	Caller string
	Status whisper.UploadStatus
	Limit  int
}

// UploadsOutput is a list of upload records.
type UploadsOutput struct {
	Items []whisper.Upload `json:"items"`
}

// ListUploads returns the caller's upload records, newest first. An empty
// status lists every record.
func ListUploads(ctx context.Context, env *Env, input ListUploadsInput) (*UploadsOutput, error) {
	if err := requireCaller(input.Caller); err != nil {
		return nil, err
	}
	switch input.Status {
	case "", whisper.UploadPending, whisper.UploadCompleted, whisper.UploadFailed:
	default:
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unknown upload status %q", input.Status))
	}
	items, err := db.ListUploadsByUser(ctx, env.DB, input.Caller, input.Status, clampLimit(input.Limit, DefaultMemoirLimit, MaxMemoirLimit))
	if err != nil {
		return nil, err
	}
	return &UploadsOutput{Items: items}, nil
}
