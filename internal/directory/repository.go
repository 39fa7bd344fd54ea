package directory

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists users.
type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
}

// Resolver is the read side the scheduling core consumes.
type Resolver interface {
	Resolve(ctx context.Context, id uuid.UUID) (*User, error)
}
