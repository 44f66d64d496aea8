// Package whisper holds the Phantom Pen domain types: whispers (captured
// notes), the memoirs synthesized from them, synthesis schedules, users with
// their style profiles, and voice upload records.
package whisper

// Whisper is a user-owned note. Its transcript grows through transcription and
// is freely editable afterwards.
type Whisper struct {
	// ID is a ULID
	ID string `json:"id"`

	// UserID is the owning user's auth subject. Immutable after creation.
	UserID string `json:"user_id"`

	Title      string  `json:"title"`
	Transcript string  `json:"transcript"`
	Content    []Block `json:"content,omitempty"`

	// Public controls anonymous visibility. Memoirs mirror it.
	Public bool `json:"public"`

	// Revision counts content-affecting mutations (transcript and content
	// edits). Synthesis runs compare it to detect superseded results.
	Revision int64 `json:"revision"`

	// CreatedAt and UpdatedAt are Unix milliseconds. UpdatedAt strictly
	// increases on every mutation.
	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// Block types for structured content.
const (
	BlockParagraph = "paragraph"
	BlockHeading   = "heading"
)

// Block is one unit of structured whisper content.
type Block struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Level   int    `json:"level,omitempty"`
}

// Memoir is a synthesized narrative entry derived from exactly one whisper.
type Memoir struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	WhisperID string `json:"whisper_id"`

	// Date is the in-narrative date label, "DD MMM YYYY".
	Date    string `json:"date"`
	Title   string `json:"title"`
	Content string `json:"content"`

	// Public is copied from the source whisper.
	Public bool `json:"public"`

	GeneratedAt int64 `json:"generated_at"`
	CreatedAt   int64 `json:"created_at"`
	UpdatedAt   int64 `json:"updated_at"`
}

// ScheduleStatus is the state of a synthesis schedule row.
type ScheduleStatus string

const (
	ScheduleActive     ScheduleStatus = "active"
	ScheduleProcessing ScheduleStatus = "processing"
	ScheduleFailed     ScheduleStatus = "failed"
)

// Valid reports whether s is a known status.
func (s ScheduleStatus) Valid() bool {
	switch s {
	case ScheduleActive, ScheduleProcessing, ScheduleFailed:
		return true
	}
	return false
}

// Schedule is the durable ticket for one pending, running or failed
// memoir generation run. At most one active schedule exists per whisper.
type Schedule struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	WhisperID   string         `json:"whisper_id"`
	ScheduledAt int64          `json:"scheduled_at"`
	Status      ScheduleStatus `json:"status"`
	Error       string         `json:"error,omitempty"`

	// JobHandle identifies the delayed job in the in-process queue.
	JobHandle string `json:"job_handle,omitempty"`

	// Revision is the whisper revision this schedule was created for.
	Revision int64 `json:"revision"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// UploadStatus is the outcome of a voice upload.
type UploadStatus string

const (
	UploadPending   UploadStatus = "pending"
	UploadCompleted UploadStatus = "completed"
	UploadFailed    UploadStatus = "failed"
)

// Upload records one voice upload. It is pending from the moment the
// recording is stored until a Transcribe call consumes it; only its owner
// may consume it.
type Upload struct {
	ID          string       `json:"id"`
	UserID      string       `json:"user_id"`
	WhisperID   string       `json:"whisper_id,omitempty"`
	StorageID   string       `json:"storage_id"`
	Status      UploadStatus `json:"status"`
	ContentType string       `json:"content_type,omitempty"`
	SizeBytes   int64        `json:"size_bytes"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   int64        `json:"created_at"`
	UpdatedAt   int64        `json:"updated_at"`
}

// Defaults used when creating whispers.
const (
	DefaultTitle   = "Untitled"
	MaxTitleChars  = 200
	PreviewChars   = 280
	TitleHintChars = 500
)

// NextUpdatedAt returns the updated-at value for a mutation at now, keeping
// it strictly greater than prev.
func NextUpdatedAt(prev, now int64) int64 {
	if now <= prev {
		return prev + 1
	}
	return now
}
