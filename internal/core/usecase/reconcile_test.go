package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kirillkom/smart-notes/internal/core/domain"
)

func TestSweepPrunesOrphanedVectors(t *testing.T) {
	repo := newNoteRepoFake()
	vectors := newVectorIndexFake()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	seedNote(repo, vectors, "processed", "a", nil, domain.StatusProcessed, now.Add(-time.Hour))
	seedNote(repo, vectors, "failed", "b", nil, domain.StatusFailed, now)
	seedNote(repo, vectors, "fresh-pending", "c", nil, domain.StatusPending, now.Add(-time.Minute))
	seedNote(repo, vectors, "stale-pending", "d", nil, domain.StatusPending, now.Add(-time.Hour))
	seedNote(repo, vectors, "missing", "e", nil, domain.StatusProcessed, now)
	delete(repo.notes, "missing")

	uc := NewReconciler(repo, vectors, 10*time.Minute)
	uc.now = fixedClock(now)

	report, err := uc.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if report.Scanned != 5 || report.Pruned != 3 || report.Failed != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	for _, id := range []string{"failed", "stale-pending", "missing"} {
		if vectors.has(id) {
			t.Fatalf("expected %s pruned", id)
		}
	}
	for _, id := range []string{"processed", "fresh-pending"} {
		if !vectors.has(id) {
			t.Fatalf("expected %s kept", id)
		}
	}
}

func TestReconcileNoteReportsLookupFailure(t *testing.T) {
	repo := newNoteRepoFake()
	repo.getErr = errors.New("db down")
	vectors := newVectorIndexFake()
	vectors.entries["x"] = vectorEntry{}
	uc := NewReconciler(repo, vectors, time.Minute)

	pruned, err := uc.ReconcileNote(context.Background(), "x")
	if err == nil || pruned {
		t.Fatalf("expected lookup failure without pruning, got pruned=%v err=%v", pruned, err)
	}
	if !vectors.has("x") {
		t.Fatalf("vector must be kept when the store is unreachable")
	}
}

// reindexingRepo commits a processed version of the note right after the
// first read, the way a concurrent re-index in another process would.
type reindexingRepo struct {
	*noteRepoFake
	gets   int
	commit func()
}

func (r *reindexingRepo) Get(ctx context.Context, id string) (*domain.Note, error) {
	note, err := r.noteRepoFake.Get(ctx, id)
	r.gets++
	if r.gets == 1 && r.commit != nil {
		r.commit()
	}
	return note, err
}

type restorerFake struct {
	restored []string
}

func (f *restorerFake) RestoreVector(_ context.Context, note *domain.Note) error {
	f.restored = append(f.restored, note.ID)
	return nil
}

func TestReconcileNoteRestoresVectorCommittedDuringPrune(t *testing.T) {
	base := newNoteRepoFake()
	vectors := newVectorIndexFake()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	seedNote(base, vectors, "n1", "garden tomatoes", nil, domain.StatusFailed, now.Add(-time.Minute))
	repo := &reindexingRepo{noteRepoFake: base, commit: func() {
		base.mu.Lock()
		base.notes["n1"] = &domain.Note{ID: "n1", RawText: "garden tomatoes", Status: domain.StatusProcessed, UpdatedAt: now}
		base.mu.Unlock()
	}}
	restorer := &restorerFake{}
	uc := NewReconciler(repo, vectors, time.Minute).WithRestorer(restorer)

	pruned, err := uc.ReconcileNote(context.Background(), "n1")
	if err != nil {
		t.Fatalf("ReconcileNote() error = %v", err)
	}
	if pruned {
		t.Fatalf("a note committed during the prune must not count as pruned")
	}
	if len(restorer.restored) != 1 || restorer.restored[0] != "n1" {
		t.Fatalf("expected vector restore for n1, got %v", restorer.restored)
	}
}

func TestReconcileNoteWithIndexerRestoresSearchableVector(t *testing.T) {
	f := newIndexerFixture()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	seedNote(f.repo, f.vectors, "n1", "garden tomatoes", nil, domain.StatusFailed, now.Add(-time.Minute))
	repo := &reindexingRepo{noteRepoFake: f.repo, commit: func() {
		f.repo.mu.Lock()
		f.repo.notes["n1"] = &domain.Note{ID: "n1", RawText: "garden tomatoes harvest", Tags: []string{"garden"}, Status: domain.StatusProcessed, UpdatedAt: now}
		f.repo.mu.Unlock()
	}}
	uc := NewReconciler(repo, f.vectors, time.Minute).WithRestorer(f.uc)

	if _, err := uc.ReconcileNote(context.Background(), "n1"); err != nil {
		t.Fatalf("ReconcileNote() error = %v", err)
	}
	if !f.vectors.has("n1") {
		t.Fatalf("expected restored vector for n1")
	}
	f.vectors.mu.Lock()
	entry := f.vectors.entries["n1"]
	f.vectors.mu.Unlock()
	if !entry.meta.UpdatedAt.Equal(now) || len(entry.meta.Tags) != 1 || entry.meta.Tags[0] != "garden" {
		t.Fatalf("restored vector must carry committed metadata, got %+v", entry.meta)
	}
}
