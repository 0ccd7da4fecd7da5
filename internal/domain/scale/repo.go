package scale

import (
	"context"

	"github.com/google/uuid"
)

type ScaleRepository interface {
	Create(ctx context.Context, s *Scale) error
	GetByID(ctx context.Context, id uuid.UUID) (*Scale, error)
	GetByAbbreviation(ctx context.Context, abbreviation string) (*Scale, error)
	Update(ctx context.Context, s *Scale) error
	Deactivate(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Scale, int, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Scale, int, error)
}
