package cmdutil

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/warden-auth/warden/internal/auth"
	"github.com/warden-auth/warden/internal/config"
	"github.com/warden-auth/warden/internal/db/bunx"
	"github.com/warden-auth/warden/internal/repository"
	"github.com/warden-auth/warden/internal/services/iam"
)

// IAMServiceBundle bundles the service with its underlying DB connection so
// callers can reuse the connection for other repositories when necessary.
type IAMServiceBundle struct {
	Service iam.Service
	DB      *bun.DB
}

// Close stops the service workers and releases the database connection.
func (b *IAMServiceBundle) Close(ctx context.Context) {
	if b == nil {
		return
	}
	if b.Service != nil {
		if err := b.Service.Close(ctx); err != nil {
			fmt.Printf("WARNING: service shutdown: %v\n", err)
		}
	}
	if b.DB != nil {
		_ = bunx.Close(b.DB)
	}
}

// NewIAMServiceBundle centralizes IAM service construction for CLI commands.
// It wires repositories, initializes the enforcer, and returns a ready-to-use
// service. Background workers are not started; CLI commands are one-shot and
// flush explicitly when they record usage.
func NewIAMServiceBundle(ctx context.Context, cfg *config.Config) (*IAMServiceBundle, error) {
	db, err := bunx.NewDB(cfg.DatabaseURL, cfg.MaxDBConnections)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	enforcer, err := auth.InitEnforcer(db)
	if err != nil {
		_ = bunx.Close(db)
		return nil, fmt.Errorf("failed to initialize enforcer: %w", err)
	}

	svc, err := iam.NewService(ctx, iam.ServiceDependencies{
		Users:        repository.NewBunUserRepository(db),
		Teams:        repository.NewBunTeamRepository(db),
		Permissions:  repository.NewBunPermissionRepository(db),
		APIKeys:      repository.NewBunAPIKeyRepository(db),
		MappedGroups: repository.NewBunMappedGroupRepository(db),
		Enforcer:     enforcer,
	}, iam.ServiceConfig{Config: cfg})
	if err != nil {
		_ = bunx.Close(db)
		return nil, fmt.Errorf("failed to create IAM service: %w", err)
	}

	return &IAMServiceBundle{
		Service: svc,
		DB:      db,
	}, nil
}
