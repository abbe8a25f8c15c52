package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/smart-notes/internal/core/domain"
	"github.com/kirillkom/smart-notes/internal/core/ports"
)

const reconcilePageSize = 256

// vectorRestorer rewrites the vector of a processed note from committed state.
type vectorRestorer interface {
	RestoreVector(ctx context.Context, note *domain.Note) error
}

type Reconciler struct {
	repo     ports.NoteRepository
	vectors  ports.VectorIndex
	restorer vectorRestorer
	grace    time.Duration
	now      func() time.Time
}

// NewReconciler builds the sweep that prunes vector entries with no committed
// note. Pending notes younger than grace are left alone.
func NewReconciler(repo ports.NoteRepository, vectors ports.VectorIndex, grace time.Duration) *Reconciler {
	return &Reconciler{
		repo:    repo,
		vectors: vectors,
		grace:   grace,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithRestorer lets the reconciler put back a vector it pruned while a
// concurrent re-index committed the note.
func (uc *Reconciler) WithRestorer(r vectorRestorer) *Reconciler {
	uc.restorer = r
	return uc
}

func (uc *Reconciler) ReconcileNote(ctx context.Context, noteID string) (bool, error) {
	note, err := uc.repo.Get(ctx, noteID)
	if err != nil && !domain.IsKind(err, domain.ErrNoteNotFound) {
		return false, fmt.Errorf("load note %s: %w", noteID, err)
	}
	if !uc.orphaned(note) {
		return false, nil
	}

	if err := uc.vectors.Delete(ctx, noteID); err != nil {
		return false, fmt.Errorf("prune vector %s: %w", noteID, err)
	}

	// A re-index may have committed between the read and the delete.
	current, err := uc.repo.Get(ctx, noteID)
	if err != nil && !domain.IsKind(err, domain.ErrNoteNotFound) {
		return true, fmt.Errorf("reload note %s: %w", noteID, err)
	}
	if current.Processed() {
		if uc.restorer == nil {
			slog.Warn("vector_pruned_under_processed_note", "note_id", noteID)
			return true, nil
		}
		if err := uc.restorer.RestoreVector(ctx, current); err != nil {
			return true, fmt.Errorf("restore vector %s: %w", noteID, err)
		}
		slog.Info("vector_restored", "note_id", noteID)
		return false, nil
	}

	slog.Info("vector_pruned", "note_id", noteID)
	return true, nil
}

func (uc *Reconciler) Sweep(ctx context.Context) (domain.SweepReport, error) {
	var report domain.SweepReport
	cursor := ""
	for {
		ids, next, err := uc.vectors.ListIDs(ctx, cursor, reconcilePageSize)
		if err != nil {
			return report, fmt.Errorf("list vector ids: %w", err)
		}
		for _, id := range ids {
			report.Scanned++
			pruned, err := uc.ReconcileNote(ctx, id)
			if err != nil {
				report.Failed++
				slog.Warn("reconcile_note_failed", "note_id", id, "error", err)
				continue
			}
			if pruned {
				report.Pruned++
			}
		}
		if next == "" || len(ids) == 0 {
			return report, nil
		}
		cursor = next
	}
}

func (uc *Reconciler) orphaned(note *domain.Note) bool {
	if note == nil {
		return true
	}
	switch note.Status {
	case domain.StatusProcessed:
		return false
	case domain.StatusFailed:
		return true
	default:
		return uc.now().Sub(note.UpdatedAt) > uc.grace
	}
}
