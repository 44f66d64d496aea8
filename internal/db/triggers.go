package db

import (
	"context"
	"sync"

	"github.com/phantompen/pen/internal/whisper"
)

// ChangeOp identifies the kind of write a hook is reacting to.
type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// WhisperChange describes one whisper write. Old is nil on insert, New is nil on delete.
type WhisperChange struct {
	Op  ChangeOp
	Old *whisper.Whisper
	New *whisper.Whisper
}

// UserChange describes one user write. Old is nil on insert, New is nil on delete.
type UserChange struct {
	Op  ChangeOp
	Old *whisper.User
	New *whisper.User
}

// WhisperHook runs inside the transaction of a whisper write.
// A returned error aborts the whole transaction.
type WhisperHook func(ctx context.Context, tx *Tx, ch WhisperChange) error

// UserHook runs inside the transaction of a user write.
type UserHook func(ctx context.Context, tx *Tx, ch UserChange) error

// Triggers is an explicit registry of after-write hooks.
type Triggers struct {
	mu      sync.RWMutex
	whisper []WhisperHook
	user    []UserHook
}

// NewTriggers returns an empty registry.
func NewTriggers() *Triggers {
	return &Triggers{}
}

// OnWhisper registers a hook for whisper inserts, updates and deletes.
func (t *Triggers) OnWhisper(h WhisperHook) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.whisper = append(t.whisper, h)
}

// OnUser registers a hook for user inserts, updates and deletes.
func (t *Triggers) OnUser(h UserHook) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.user = append(t.user, h)
}

func (tx *Tx) fireWhisper(ctx context.Context, ch WhisperChange) error {
	if tx.triggers == nil {
		return nil
	}
	tx.triggers.mu.RLock()
	hooks := append([]WhisperHook(nil), tx.triggers.whisper...)
	tx.triggers.mu.RUnlock()

	for _, h := range hooks {
		if err := h(ctx, tx, ch); err != nil {
			return err
		}
	}
	return nil
}

func (tx *Tx) fireUser(ctx context.Context, ch UserChange) error {
	if tx.triggers == nil {
		return nil
	}
	tx.triggers.mu.RLock()
	hooks := append([]UserHook(nil), tx.triggers.user...)
	tx.triggers.mu.RUnlock()

	for _, h := range hooks {
		if err := h(ctx, tx, ch); err != nil {
			return err
		}
	}
	return nil
}
