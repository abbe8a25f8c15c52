package usecase

import (
	"context"
	"fmt"

	"github.com/kirillkom/smart-notes/internal/core/domain"
	"github.com/kirillkom/smart-notes/internal/core/ports"
)

const statusPageSize = 500

type StatusService struct {
	repo    ports.NoteRepository
	vectors ports.VectorIndex
}

func NewStatusService(repo ports.NoteRepository, vectors ports.VectorIndex) *StatusService {
	return &StatusService{repo: repo, vectors: vectors}
}

// Status pages through both stores. The two counts are not taken atomically.
func (uc *StatusService) Status(ctx context.Context) (domain.IndexStatus, error) {
	var status domain.IndexStatus

	cursor := ""
	for {
		page, err := uc.repo.List(ctx, cursor, statusPageSize)
		if err != nil {
			return status, fmt.Errorf("list notes: %w", err)
		}
		for _, note := range page.Notes {
			status.Notes++
			switch note.Status {
			case domain.StatusProcessed:
				status.Processed++
			case domain.StatusFailed:
				status.Failed++
			default:
				status.Pending++
			}
		}
		if page.NextCursor == "" || len(page.Notes) == 0 {
			break
		}
		cursor = page.NextCursor
	}

	cursor = ""
	for {
		ids, next, err := uc.vectors.ListIDs(ctx, cursor, statusPageSize)
		if err != nil {
			return status, fmt.Errorf("list vector ids: %w", err)
		}
		status.Vectors += len(ids)
		if next == "" || len(ids) == 0 {
			break
		}
		cursor = next
	}
	return status, nil
}
