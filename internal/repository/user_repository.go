package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/helpdesk-labs/ticket-assignment/internal/domain"
)

// UserRepository reads the user directory.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	ListByRoles(ctx context.Context, roles ...domain.Role) ([]domain.User, error)
	// ListDeveloperLoads counts OPEN and IN_PROGRESS tickets per active
	// developer, ordered by developer id. An empty ids slice means all developers.
	ListDeveloperLoads(ctx context.Context, ids []string) ([]domain.DeveloperLoad, error)
}

type userRepository struct {
	db DBTX
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(db DBTX) UserRepository {
	return &userRepository{db: db}
}

const userColumns = `id, name, email, role, active, created_at`

func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `
        SELECT ` + userColumns + `
        FROM users WHERE id=$1`

	user, err := scanUser(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	return user, nil
}

func (r *userRepository) ListByRoles(ctx context.Context, roles ...domain.Role) ([]domain.User, error) {
	const query = `
        SELECT ` + userColumns + `
        FROM users WHERE active AND role = ANY($1) ORDER BY id`

	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = string(role)
	}
	rows, err := r.db.Query(ctx, query, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

func (r *userRepository) ListDeveloperLoads(ctx context.Context, ids []string) ([]domain.DeveloperLoad, error) {
	const query = `
        SELECT u.id, COUNT(t.id)
        FROM users u
        LEFT JOIN tickets t ON t.assignee_id = u.id AND t.status IN ('OPEN', 'IN_PROGRESS')
        WHERE u.role = 'developer' AND u.active AND (cardinality($1::text[]) = 0 OR u.id = ANY($1::text[]))
        GROUP BY u.id
        ORDER BY u.id`

	if ids == nil {
		ids = []string{}
	}
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loads []domain.DeveloperLoad
	for rows.Next() {
		var (
			load  domain.DeveloperLoad
			count int64
		)
		if err := rows.Scan(&load.DeveloperID, &count); err != nil {
			return nil, err
		}
		load.ActiveTickets = int(count)
		loads = append(loads, load)
	}
	return loads, rows.Err()
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		user domain.User
		role string
	)
	if err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&role,
		&user.Active,
		&user.CreatedAt,
	); err != nil {
		return nil, err
	}
	user.Role = domain.Role(role)
	return &user, nil
}
