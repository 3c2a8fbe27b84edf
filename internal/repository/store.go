package repository

import (
	"database/sql"
	"log/slog"

	"github.com/aryan0dhankhar/identitycore/internal/domain"
)

// PostgresStore is the Postgres-backed domain.CredentialStore.
type PostgresStore struct {
	*PostgresUserRepository
	*PostgresRoleRepository
}

var _ domain.CredentialStore = (*PostgresStore)(nil)

// NewPostgresStore builds both repositories over db.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		PostgresUserRepository: NewPostgresUserRepository(db, logger),
		PostgresRoleRepository: NewPostgresRoleRepository(db, logger),
	}
}
