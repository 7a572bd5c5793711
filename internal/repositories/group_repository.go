package repositories

import (
	"context"

	"github.com/aviz85/gemini-video-playground/internal/models"
)

// GroupRepository defines data access for video groups.
type GroupRepository interface {
	Create(ctx context.Context, group models.VideoGroup) error
	FindByID(ctx context.Context, id string) (models.VideoGroup, error)
	ListByOwner(ctx context.Context, ownerID string) ([]models.VideoGroup, error)
	Delete(ctx context.Context, ownerID, id string) error
}
