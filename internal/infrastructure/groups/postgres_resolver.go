package groups

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresResolver looks groups up in tenant_group_members. Rows keyed by a
// full address win over rows keyed by "@domain".
type PostgresResolver struct {
	pool *pgxpool.Pool
}

// NewPostgresResolver creates a resolver on an open pool
func NewPostgresResolver(pool *pgxpool.Pool) *PostgresResolver {
	return &PostgresResolver{pool: pool}
}

// ResolveGroupForEmail implements the GroupResolver interface
func (r *PostgresResolver) ResolveGroupForEmail(ctx context.Context, email string) (uuid.UUID, bool, error) {
	address, domain, ok := normalizeEmail(email)
	if !ok {
		return uuid.Nil, false, nil
	}

	var groupID uuid.UUID
	err := r.pool.QueryRow(ctx, `
		SELECT group_id FROM tenant_group_members
		WHERE email = $1 OR email = $2
		ORDER BY (email = $1) DESC
		LIMIT 1`, address, "@"+domain).Scan(&groupID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to resolve group: %w", err)
	}
	return groupID, true, nil
}

// AddMember maps an address, or "@domain", to a group
func (r *PostgresResolver) AddMember(ctx context.Context, key string, groupID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tenant_group_members (email, group_id)
		VALUES (lower($1), $2)
		ON CONFLICT (email) DO UPDATE SET group_id = EXCLUDED.group_id`, key, groupID)
	if err != nil {
		return fmt.Errorf("failed to add group member: %w", err)
	}
	return nil
}
