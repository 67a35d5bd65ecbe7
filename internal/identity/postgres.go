package identity

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresStore persists principals in the users table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var userColumns = []string{"id", "name", "email", "phone_number", "role", "password_hash", "enabled", "created_at"}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*Principal, error) {
	query, args, err := psql.
		Select(userColumns...).
		From("users").
		Where(sq.Eq{"email": NormalizeEmail(email)}).
		ToSql()
	if err != nil {
		return nil, err
	}
	return s.scanOne(ctx, query, args)
}

func (s *PostgresStore) FindByID(ctx context.Context, id int64) (*Principal, error) {
	query, args, err := psql.
		Select(userColumns...).
		From("users").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, err
	}
	return s.scanOne(ctx, query, args)
}

func (s *PostgresStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	query, args, err := psql.
		Select("1").
		From("users").
		Where(sq.Eq{"email": NormalizeEmail(email)}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, err
	}

	var one int
	err = s.pool.QueryRow(ctx, query, args...).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("identity: exists by email: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) Save(ctx context.Context, p *Principal) (*Principal, error) {
	query, args, err := psql.
		Insert("users").
		Columns("name", "email", "phone_number", "role", "password_hash", "enabled").
		Values(p.Name, NormalizeEmail(p.Email), p.PhoneNumber, string(p.Role), p.PasswordHash, p.Enabled).
		Suffix("RETURNING id, created_at").
		ToSql()
	if err != nil {
		return nil, err
	}

	saved := *p
	saved.Email = NormalizeEmail(p.Email)
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&saved.ID, &saved.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("identity: save: %w", err)
	}
	return &saved, nil
}

func (s *PostgresStore) Update(ctx context.Context, p *Principal) (*Principal, error) {
	query, args, err := psql.
		Update("users").
		Set("name", p.Name).
		Set("phone_number", p.PhoneNumber).
		Set("enabled", p.Enabled).
		Where(sq.Eq{"id": p.ID}).
		ToSql()
	if err != nil {
		return nil, err
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("identity: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return s.FindByID(ctx, p.ID)
}

func (s *PostgresStore) scanOne(ctx context.Context, query string, args []interface{}) (*Principal, error) {
	var p Principal
	var role string
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&p.ID, &p.Name, &p.Email, &p.PhoneNumber, &role, &p.PasswordHash, &p.Enabled, &p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("identity: lookup: %w", err)
	}
	p.Role = Role(role)
	return &p, nil
}
