package repository

import (
	"context"

	"github.com/google/uuid"
)

// GroupResolver maps a user's email address to the tenant group it belongs to
type GroupResolver interface {
	// ResolveGroupForEmail returns the group ID and true, or false when the
	// email does not belong to any group. A blank email is simply not found.
	ResolveGroupForEmail(ctx context.Context, email string) (uuid.UUID, bool, error)
}
