package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/hairizuanbinnoorazman/guiagent/cmd/guiagent/handlers"
	"github.com/hairizuanbinnoorazman/guiagent/database"
	"github.com/hairizuanbinnoorazman/guiagent/run"
	"github.com/hairizuanbinnoorazman/guiagent/runner"
)

var autoMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and run workers",
	RunE:  runServer,
}

func init() {
	serveCmd.Flags().BoolVar(&autoMigrate, "migrate", false, "apply pending migrations before serving")
	rootCmd.AddCommand(serveCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := newLogger(cfg.Log)
	log.Info(ctx, "starting server", map[string]interface{}{
		"version": Version,
		"commit":  Commit,
		"date":    BuildDate,
	})

	db, closeDB, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}
	defer closeDB()

	log.Info(ctx, "database connected", map[string]interface{}{
		"driver":   cfg.Database.Driver,
		"host":     cfg.Database.Host,
		"database": cfg.Database.Database,
	})

	if autoMigrate {
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("failed to get database instance: %w", err)
		}
		if err := database.RunMigrations(sqlDB, cfg.Database.Driver, cfg.Database.MigrationsPath); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info(ctx, "migrations applied", nil)
	}

	runStore := run.NewMySQLStore(db, log)

	artifacts, err := newArtifactStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	invoker, err := newModel(ctx, cfg.Model, log)
	if err != nil {
		return fmt.Errorf("failed to initialize model: %w", err)
	}

	pipeline := runner.NewPipeline(agentConfig(cfg), invoker, newOperatorFactory(cfg.Operator, log), runStore, artifacts, log)
	runs := runner.New(cfg.Agent.MaxConcurrentRuns, runStore, pipeline, log)
	runs.Start(ctx)

	authMiddleware := handlers.NewAuthMiddleware(cfg.Server.APITokenHash, cfg.Server.ReadOnlyTokenHash, log)
	if !authMiddleware.Enabled() {
		log.Warn(ctx, "api authentication disabled", nil)
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", handlers.HealthHandler).Methods(http.MethodGet)

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(authMiddleware.Handler)
	apiRouter.Use(handlers.WriteScopeMiddleware)

	runHandler := handlers.NewRunHandler(runStore, runs, artifacts, operatorNames, log)
	runHandler.Register(apiRouter)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info(ctx, "server listening", map[string]interface{}{
			"address": addr,
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info(ctx, "shutting down server", nil)

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if err := runs.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("runs did not stop in time: %w", err)
	}

	log.Info(ctx, "server stopped", nil)
	return nil
}
