package history_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ieee0824/ctc-finetune/internal/history"
	"github.com/ieee0824/ctc-finetune/trainer"
)

func openStore(t *testing.T) (*history.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	store, err := history.Open(path)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, path
}

func TestRunLifecycle(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	if err := store.StartRun(ctx, history.Run{ID: "run-a", OutputDir: "/out", BaseModel: "base", StartedAt: started}); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	entries := []trainer.Entry{
		{Step: 500, Epoch: 0.5, Metrics: map[string]float64{"loss": 3.2, "learning_rate": 5e-5}},
		{Step: 500, Epoch: 0.5, Metrics: map[string]float64{"eval_loss": 2.9, "eval_wer": 0.8}},
		{Step: 1000, Epoch: 1, Metrics: map[string]float64{"loss": 1.5}},
	}
	for _, e := range entries {
		if err := store.Record(ctx, "run-a", e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := store.Entries(ctx, "run-a")
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(got) != 2 || got[0].Step != 500 || len(got[0].Metrics) != 4 || got[1].Metrics["loss"] != 1.5 {
		t.Fatalf("unexpected entries: %+v", got)
	}

	wer := 0.8
	st := &trainer.State{GlobalStep: 1000, BestWER: &wer}
	if err := store.FinishRun(ctx, "run-a", history.StatusCompleted, st, nil); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	run, err := store.Run(ctx, "run")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != history.StatusCompleted || run.GlobalStep != 1000 || run.BestWER == nil || *run.BestWER != 0.8 {
		t.Fatalf("unexpected run: %+v", run)
	}
	if !run.StartedAt.Equal(started) || run.FinishedAt == nil || run.BaseModel != "base" {
		t.Fatalf("unexpected run times: %+v", run)
	}

	if err := store.StartRun(ctx, history.Run{ID: "run-a", OutputDir: "/out"}); err != nil {
		t.Fatalf("resume StartRun: %v", err)
	}
	run, err = store.Run(ctx, "run-a")
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != history.StatusRunning || run.FinishedAt != nil || !run.StartedAt.Equal(started) {
		t.Fatalf("resumed run: %+v", run)
	}
}

func TestRecordCreatesRun(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()
	if err := store.Record(ctx, "implicit", trainer.Entry{Step: 2, Metrics: map[string]float64{"loss": 1}}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	run, err := store.Run(ctx, "implicit")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.GlobalStep != 2 || run.Status != history.StatusRunning {
		t.Fatalf("unexpected run: %+v", run)
	}
}

func TestRunsOrderAndLookup(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"aa1", "aa2", "b_1"} {
		if err := store.StartRun(ctx, history.Run{ID: id, StartedAt: base.Add(time.Duration(i) * 100 * time.Millisecond)}); err != nil {
			t.Fatal(err)
		}
	}
	runs, err := store.Runs(ctx)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 3 || runs[0].ID != "b_1" || runs[2].ID != "aa1" {
		t.Fatalf("unexpected order: %+v", runs)
	}

	tests := []struct {
		id      string
		want    string
		wantErr bool
	}{
		{"aa1", "aa1", false},
		{"b", "b_1", false},
		{"aa", "", true},
		{"a_", "", true},
		{"zz", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			run, err := store.Run(ctx, tt.id)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", run)
				}
				return
			}
			if err != nil || run.ID != tt.want {
				t.Fatalf("Run(%q) = %+v, %v", tt.id, run, err)
			}
		})
	}
	if _, err := store.Run(ctx, "zz"); !errors.Is(err, history.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteCascades(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()
	if err := store.Record(ctx, "gone", trainer.Entry{Step: 1, Metrics: map[string]float64{"loss": 1}}); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	entries, err := store.Entries(ctx, "gone")
	if err != nil || len(entries) != 0 {
		t.Fatalf("entries after delete = %+v, %v", entries, err)
	}
	if err := store.Delete(ctx, "gone"); !errors.Is(err, history.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := store.FinishRun(ctx, "gone", history.StatusFailed, nil, errors.New("boom")); !errors.Is(err, history.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	store, path := openStore(t)
	ctx := context.Background()
	if err := store.StartRun(ctx, history.Run{ID: "persist"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
	reopened, err := history.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if _, err := reopened.Run(ctx, "persist"); err != nil {
		t.Fatalf("Run after reopen: %v", err)
	}
}
