package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_DeliversToOwnerOnly(t *testing.T) {
	h := NewHub()
	mine, cancelMine := h.Subscribe("u1")
	defer cancelMine()
	theirs, cancelTheirs := h.Subscribe("u2")
	defer cancelTheirs()

	h.Publish(Event{Type: WhisperCreated, UserID: "u1", WhisperID: "w1"})

	select {
	case e := <-mine:
		assert.Equal(t, WhisperCreated, e.Type)
		assert.Equal(t, "w1", e.WhisperID)
		assert.NotZero(t, e.Timestamp)
	default:
		t.Fatal("owner did not receive event")
	}

	select {
	case e := <-theirs:
		t.Fatalf("other user received %v", e)
	default:
	}
}

func TestHub_SlowSubscriberDropsEvents(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("u1")
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		h.Publish(Event{Type: MemoirGenerated, UserID: "u1"})
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestHub_CancelAndClose(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("u1")
	require.Equal(t, 1, h.Subscribers("u1"))

	cancel()
	cancel()
	assert.Equal(t, 0, h.Subscribers("u1"))
	_, open := <-ch
	assert.False(t, open)

	other, otherCancel := h.Subscribe("u2")
	h.Close()
	_, open = <-other
	assert.False(t, open)
	otherCancel()

	late, _ := h.Subscribe("u3")
	_, open = <-late
	assert.False(t, open, "subscribing after close yields a closed channel")
}
