package postgres

import (
	"context"

	"github.com/upb/authaudit/config"
	"go.uber.org/zap"
)

// RepositoryFactory owns the audit database connection and the repository on top of it
type RepositoryFactory struct {
	db     *DB
	logger *zap.Logger
}

// NewRepositoryFactory connects to the audit database
func NewRepositoryFactory(cfg *config.DatabaseConfig, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := NewDB(*cfg, logger)
	if err != nil {
		return nil, err
	}
	return &RepositoryFactory{db: db, logger: logger}, nil
}

// InitAuditSchema creates the audit table if it does not exist
func (f *RepositoryFactory) InitAuditSchema(ctx context.Context) error {
	return f.db.InitAuditSchema(ctx)
}

// AuditRepository returns the audit repository
func (f *RepositoryFactory) AuditRepository() *AuditRepository {
	return NewAuditRepository(f.db, f.logger)
}

// Close closes the database connection
func (f *RepositoryFactory) Close() error {
	return f.db.Close()
}
