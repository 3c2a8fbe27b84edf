package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/aryan0dhankhar/identitycore/internal/domain"
)

const selectUserColumns = `
	SELECT id, username, email, phone, password_hash, tenant_id, status,
	       failed_attempts, lock_until, last_login_at, deleted_at, created_at, updated_at
	FROM users`

// PostgresUserRepository implements domain.UserStore using PostgreSQL
type PostgresUserRepository struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewPostgresUserRepository creates a new user repository
func NewPostgresUserRepository(db *sql.DB, logger *slog.Logger) *PostgresUserRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresUserRepository{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		u         domain.User
		phone     sql.NullString
		status    string
		lockUntil sql.NullTime
		lastLogin sql.NullTime
		deletedAt sql.NullTime
	)
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&phone,
		&u.PasswordHash,
		&u.TenantID,
		&status,
		&u.FailedAttempts,
		&lockUntil,
		&lastLogin,
		&deletedAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Phone = phone.String
	u.State = domain.LifecycleFromColumns(status, timePtr(lockUntil), timePtr(deletedAt))
	u.LastLoginAt = timePtr(lastLogin)
	return &u, nil
}

// FindUserByIdentifier matches username, email or phone among non-deleted
// users. A miss is (nil, nil).
func (r *PostgresUserRepository) FindUserByIdentifier(ctx context.Context, identifier string) (*domain.User, error) {
	query := selectUserColumns + `
	WHERE deleted_at IS NULL AND (username = $1 OR email = $1 OR phone = $1)
	ORDER BY created_at
	LIMIT 1`

	u, err := scanUser(r.db.QueryRowContext(ctx, query, identifier))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, r.storeError("find user by identifier", err)
	}
	return u, nil
}

// FindUserByID returns a non-deleted user.
func (r *PostgresUserRepository) FindUserByID(ctx context.Context, id string) (*domain.User, error) {
	query := selectUserColumns + ` WHERE id = $1 AND deleted_at IS NULL`

	u, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, r.storeError("find user by id", err)
	}
	return u, nil
}

// CreateUser inserts u, assigning an ID when empty and stamping timestamps.
func (r *PostgresUserRepository) CreateUser(ctx context.Context, u *domain.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if err := r.checkIdentifiers(ctx, r.db, u); err != nil {
		return err
	}
	status, lockUntil, deletedAt := u.State.Columns()

	query := `
		INSERT INTO users (id, username, email, phone, password_hash, tenant_id, status,
		                   failed_attempts, lock_until, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		u.ID,
		u.Username,
		u.Email,
		nullString(u.Phone),
		u.PasswordHash,
		u.TenantID,
		status,
		u.FailedAttempts,
		lockUntil,
		deletedAt,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return r.storeError("create user", err)
	}
	return nil
}

// UpdateUser applies mutate to the row under SELECT ... FOR UPDATE so that
// concurrent read-modify-write cycles on the same user serialize.
func (r *PostgresUserRepository) UpdateUser(ctx context.Context, id string, mutate func(u *domain.User) error) (*domain.User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, r.storeError("begin update user", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := selectUserColumns + ` WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`
	u, err := scanUser(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, r.storeError("lock user", err)
	}

	before := u.Identifiers()
	if err := mutate(u); err != nil {
		return nil, err
	}
	if !slices.Equal(before, u.Identifiers()) {
		if err := r.checkIdentifiers(ctx, tx, u); err != nil {
			return nil, err
		}
	}
	u.UpdatedAt = r.now()
	status, lockUntil, deletedAt := u.State.Columns()

	update := `
		UPDATE users
		SET username = $2, email = $3, phone = $4, password_hash = $5, status = $6,
		    failed_attempts = $7, lock_until = $8, last_login_at = $9, deleted_at = $10,
		    updated_at = $11
		WHERE id = $1`
	_, err = tx.ExecContext(ctx, update,
		u.ID,
		u.Username,
		u.Email,
		nullString(u.Phone),
		u.PasswordHash,
		status,
		u.FailedAttempts,
		lockUntil,
		u.LastLoginAt,
		deletedAt,
		u.UpdatedAt,
	)
	if err != nil {
		return nil, r.storeError("update user", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, r.storeError("commit update user", err)
	}
	return u, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// checkIdentifiers rejects u when any of its identifiers is already used
// by another live user in any of the three columns. The per-column unique
// indexes cannot see a phone that equals someone else's username.
func (r *PostgresUserRepository) checkIdentifiers(ctx context.Context, q queryRower, u *domain.User) error {
	ids := u.Identifiers()
	if u.State.IsDeleted() || len(ids) == 0 {
		return nil
	}
	query := `
		SELECT EXISTS (
			SELECT 1 FROM users
			WHERE deleted_at IS NULL AND id <> $1
			  AND (username = ANY($2) OR email = ANY($2) OR phone = ANY($2))
		)`
	var taken bool
	if err := q.QueryRowContext(ctx, query, u.ID, pq.Array(ids)).Scan(&taken); err != nil {
		return r.storeError("check identifiers", err)
	}
	if taken {
		return domain.Validation("username, email or phone already in use")
	}
	return nil
}

// storeError classifies a database/sql or driver error.
func (r *PostgresUserRepository) storeError(op string, err error) error {
	return classify(r.logger, op, "user", err)
}

// classify maps sql.ErrNoRows to NotFound(kind), unique violations to
// Validation and everything else to StoreUnavailable.
func classify(logger *slog.Logger, op, kind string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotFound(kind)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return domain.Validation("username, email or phone already in use")
	}
	logger.Error("credential store call failed",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	return domain.StoreUnavailable(fmt.Errorf("%s: %w", op, err))
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
