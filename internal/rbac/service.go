package rbac

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Service reads role and permission grants from PostgreSQL.
type Service struct {
	pool *pgxpool.Pool
}

// NewService constructs a Service backed by the provided pool.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// EffectivePermissions returns deduplicated permission names for a user.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("rbac: service not initialised")
	}
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT p.name
FROM user_roles ur
JOIN role_permissions rp ON rp.role_id = ur.role_id
JOIN permissions p ON p.id = rp.permission_id
WHERE ur.user_id = $1
ORDER BY p.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		perms = append(perms, name)
	}
	return perms, rows.Err()
}

// EnsurePermissions upserts the named permissions so they can be granted to roles.
func (s *Service) EnsurePermissions(ctx context.Context, names []string) error {
	if s == nil || s.pool == nil {
		return errors.New("rbac: service not initialised")
	}
	for _, name := range names {
		name = strings.TrimSpace(strings.ToLower(name))
		if name == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, `INSERT INTO permissions (name, description) VALUES ($1, '')
ON CONFLICT (name) DO NOTHING`, name); err != nil {
			return err
		}
	}
	return nil
}
