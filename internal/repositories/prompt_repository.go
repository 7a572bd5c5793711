package repositories

import (
	"context"

	"github.com/aviz85/gemini-video-playground/internal/models"
)

// PromptRepository defines CRUD over prompt templates.
type PromptRepository interface {
	Create(ctx context.Context, prompt models.Prompt) error
	FindByID(ctx context.Context, id string) (models.Prompt, error)
	ListByOwner(ctx context.Context, ownerID string) ([]models.Prompt, error)
	Update(ctx context.Context, prompt models.Prompt) error
	Delete(ctx context.Context, ownerID, id string) error
}
