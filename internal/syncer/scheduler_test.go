package syncer

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kagami/internal/models"
	"github.com/hyperjump/kagami/internal/remote"
)

func TestScheduler_StartStop(t *testing.T) {
	source := remote.NewMockSource()
	s, orch, _ := newTestSync(t, source)

	sched := NewScheduler(orch, s, zap.NewNop())
	sched.Start()
	done := make(chan struct{})
	go func() {
		sched.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_TickSkipsWhenActive(t *testing.T) {
	mock := remote.NewMockSource()
	mock.AddRecords(models.EntityFeature, featureRecords(1)...)
	source := newGatedSource(mock)
	s, orch, _ := newTestSync(t, source)
	defer source.open()

	id, err := orch.StartSync(context.Background(), []string{"feature"}, SyncOptions{})
	if err != nil {
		t.Fatalf("failed to start sync: %v", err)
	}
	<-source.started

	sched := NewScheduler(orch, s, zap.NewNop())
	sched.tick()

	active, err := orch.GetActiveSyncs(context.Background())
	if err != nil {
		t.Fatalf("failed to list active syncs: %v", err)
	}
	if len(active) != 1 {
		t.Errorf("expected the tick to be skipped, got %d active jobs", len(active))
	}
	if active[0].ID != id {
		t.Errorf("unexpected active job %s", active[0].ID)
	}
}

func TestScheduler_TickStartsSyncWhenIdle(t *testing.T) {
	source := remote.NewMockSource()
	source.AddRecords(models.EntityFeature, featureRecords(1)...)
	s, orch, _ := newTestSync(t, source)

	sched := NewScheduler(orch, s, zap.NewNop())
	sched.tick()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		jobs, err := s.ListActiveJobs(context.Background(), models.FamilySync)
		if err != nil {
			t.Fatalf("failed to list jobs: %v", err)
		}
		if len(jobs) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("scheduled sync never completed")
}
