package blacklist

import (
	"context"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresStore persists the revocation set in the blacklisted_tokens table:
// unique token column plus secondary indexes on user_id and expires_at. The
// unique constraint is the rotation serialization point.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Insert(ctx context.Context, entry Entry) error {
	blacklistedAt := entry.BlacklistedAt
	if blacklistedAt.IsZero() {
		blacklistedAt = time.Now()
	}

	query, args, err := psql.
		Insert("blacklisted_tokens").
		Columns("token", "user_id", "blacklisted_at", "expires_at", "reason").
		Values(entry.Token, entry.UserID, blacklistedAt, entry.ExpiresAt, entry.Reason).
		ToSql()
	if err != nil {
		return err
	}

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicate
		}
		return storeErr("insert", err)
	}
	return nil
}

func (s *PostgresStore) Exists(ctx context.Context, tokenValue string) (bool, error) {
	query, args, err := psql.
		Select("1").
		From("blacklisted_tokens").
		Where(sq.Eq{"token": tokenValue}).
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
		return false, storeErr("exists", err)
	}
	return true, nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query, args, err := psql.
		Delete("blacklisted_tokens").
		Where(sq.Lt{"expires_at": now}).
		ToSql()
	if err != nil {
		return 0, err
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, storeErr("delete expired", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) DeleteByUser(ctx context.Context, userID int64) (int64, error) {
	query, args, err := psql.
		Delete("blacklisted_tokens").
		Where(sq.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return 0, err
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, storeErr("delete by user", err)
	}
	return tag.RowsAffected(), nil
}
