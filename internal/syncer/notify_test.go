package syncer

import (
	"testing"

	"github.com/hyperjump/kagami/internal/models"
)

func TestHub_PublishAndUnsubscribe(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	token, events := hub.Subscribe(4)
	hub.Publish(Event{Family: models.FamilySync, JobID: "job-1", Type: EventStarted})

	event := <-events
	if event.JobID != "job-1" || event.Type != EventStarted {
		t.Errorf("unexpected event %+v", event)
	}
	if event.At.IsZero() {
		t.Error("expected the publish timestamp to be set")
	}

	hub.Unsubscribe(token)
	if _, ok := <-events; ok {
		t.Error("expected the channel to be closed after unsubscribe")
	}

	// Publishing with no subscribers must not panic.
	hub.Publish(Event{Family: models.FamilySync, JobID: "job-2", Type: EventCompleted})
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	_, events := hub.Subscribe(1)
	hub.Publish(Event{JobID: "a", Type: EventProgress})
	hub.Publish(Event{JobID: "b", Type: EventProgress})
	hub.Publish(Event{JobID: "c", Type: EventProgress})

	// Only the first event fit the buffer; the rest were dropped.
	event := <-events
	if event.JobID != "a" {
		t.Errorf("expected the first event to survive, got %q", event.JobID)
	}
	select {
	case extra, ok := <-events:
		if ok {
			t.Errorf("unexpected buffered event %+v", extra)
		}
	default:
	}
}

func TestHub_CloseClosesSubscribers(t *testing.T) {
	hub := NewHub()
	_, first := hub.Subscribe(1)
	_, second := hub.Subscribe(1)
	hub.Close()

	if _, ok := <-first; ok {
		t.Error("expected first channel closed")
	}
	if _, ok := <-second; ok {
		t.Error("expected second channel closed")
	}
}
