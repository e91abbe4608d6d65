package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/warden-auth/warden/internal/auth"
	"github.com/warden-auth/warden/internal/db/bunx"
	"github.com/warden-auth/warden/internal/middleware"
	"github.com/warden-auth/warden/internal/repository"
	"github.com/warden-auth/warden/internal/server"
	"github.com/warden-auth/warden/internal/services/iam"
	"github.com/warden-auth/warden/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Warden server",
	Long:  `Starts the HTTP server exposing the authentication endpoints and the management API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Telemetry is optional; an unset endpoint yields a no-op shutdown.
		otelShutdown, err := telemetry.Init(cmd.Context(), cfg.Observability)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := otelShutdown(ctx); err != nil {
				log.Printf("WARNING: telemetry shutdown: %v", err)
			}
		}()

		// Connect to database
		db, err := bunx.NewDB(cfg.DatabaseURL, cfg.MaxDBConnections)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer bunx.Close(db)

		log.Printf("Connected to database")

		enforcer, err := auth.InitEnforcer(db)
		if err != nil {
			return fmt.Errorf("configure enforcer: %w", err)
		}

		iamService, err := iam.NewService(cmd.Context(), iam.ServiceDependencies{
			Users:        repository.NewBunUserRepository(db),
			Teams:        repository.NewBunTeamRepository(db),
			Permissions:  repository.NewBunPermissionRepository(db),
			APIKeys:      repository.NewBunAPIKeyRepository(db),
			MappedGroups: repository.NewBunMappedGroupRepository(db),
			Enforcer:     enforcer,
		}, iam.ServiceConfig{Config: cfg})
		if err != nil {
			return fmt.Errorf("create IAM service: %w", err)
		}

		// Launch the usage tracker before the first request can arrive.
		iamService.Start()
		log.Printf("IAM service initialized with authenticators")

		var chiMiddleware []func(http.Handler) http.Handler

		// Authentication first: resolve a principal (or a categorized
		// rejection) for every request carrying credentials.
		chiMiddleware = append(chiMiddleware, middleware.MultiAuthMiddleware(iamService))

		// Route authorization against the stored policies.
		authzMiddleware, err := middleware.NewAuthzMiddleware(middleware.AuthzDependencies{
			Authorizer: iamService,
		})
		if err != nil {
			return fmt.Errorf("configure authorization middleware: %w", err)
		}
		chiMiddleware = append(chiMiddleware, authzMiddleware)

		// Server-side SSO flow is only mounted when fully configured.
		var relyingParty *auth.RelyingParty
		if cfg.OIDC.SSOEnabled() {
			relyingParty, err = auth.NewRelyingParty(cmd.Context(), &cfg.OIDC)
			if err != nil {
				return fmt.Errorf("failed to create relying party: %w", err)
			}
			log.Printf("SSO login flow enabled for issuer %s", cfg.OIDC.Issuer)
		}

		healthHandler := func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"status":"ok","ldap_enabled":%t,"oidc_enabled":%t}`,
				cfg.LDAP.Enabled, cfg.OIDC.Enabled)
		}

		// Assemble the shared router with the production-specific middleware.
		handler, err := server.NewH2CHandler(server.RouterOptions{
			IAMService:    iamService,
			Cfg:           cfg,
			RelyingParty:  relyingParty,
			Middleware:    chiMiddleware,
			HealthHandler: healthHandler,
		})
		if err != nil {
			return fmt.Errorf("assemble router: %w", err)
		}

		srv := &http.Server{
			Addr:         cfg.ServerAddr,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		// Start server in goroutine
		serverErrors := make(chan error, 1)
		go func() {
			log.Printf("Starting server on %s", cfg.ServerAddr)
			log.Printf("Server URL: %s", cfg.ServerURL)
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		// SIGHUP forces a usage flush and drops the key cache, so operators
		// can observe fresh state without a restart.
		reload := make(chan os.Signal, 1)
		signal.Notify(reload, syscall.SIGHUP)

		for {
			select {
			case err := <-serverErrors:
				return fmt.Errorf("server error: %w", err)

			case sig := <-reload:
				log.Printf("Received signal %v, flushing usage and clearing key cache", sig)
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := iamService.FlushUsage(ctx); err != nil {
					log.Printf("ERROR: usage flush failed: %v", err)
				}
				iamService.ClearKeyCache()
				cancel()

			case sig := <-shutdown:
				log.Printf("Received signal %v, shutting down gracefully", sig)

				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				if err := srv.Shutdown(ctx); err != nil {
					srv.Close()
					return fmt.Errorf("graceful shutdown failed: %w", err)
				}

				// Drain the usage tracker before the DB connection goes away.
				if err := iamService.Close(ctx); err != nil {
					log.Printf("WARNING: service shutdown: %v", err)
				}

				log.Printf("Server stopped")
				return nil
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
