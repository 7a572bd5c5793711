package repositories

import (
	"context"

	"github.com/aviz85/gemini-video-playground/internal/models"
)

// VideoRepository exposes data access for uploaded videos.
type VideoRepository interface {
	Create(ctx context.Context, video models.Video) error
	FindByID(ctx context.Context, id string) (models.Video, error)
	ListByGroup(ctx context.Context, groupID string) ([]models.Video, error)
}
