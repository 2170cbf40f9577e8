package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hairizuanbinnoorazman/guiagent/cmd/guiagent/handlers"
	"github.com/hairizuanbinnoorazman/guiagent/operator/remote"
)

var deviceOperator string

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Serve a local operator as a remote device agent",
	Long:  `Exposes GET /screenshot and POST /execute for a local operator so a guiagent server can drive it with the "remote" operator.`,
	RunE:  runDevice,
}

func init() {
	deviceCmd.Flags().StringVarP(&deviceOperator, "operator", "o", "", "operator to expose, overrides device.operator")
	rootCmd.AddCommand(deviceCmd)
}

func runDevice(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := newLogger(cfg.Log)

	name := cfg.Device.Operator
	if deviceOperator != "" {
		name = deviceOperator
	}
	if name == OperatorRemote {
		return fmt.Errorf("device agent cannot expose the remote operator")
	}

	op, err := newOperatorFactory(cfg.Operator, log).Open(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to open operator: %w", err)
	}
	if closer, ok := op.(io.Closer); ok {
		defer closer.Close()
	}

	auth := handlers.NewAuthMiddleware(cfg.Device.TokenHash, "", log)
	router := remote.NewServer(op, log).Router()
	router.HandleFunc("/health", handlers.HealthHandler).Methods(http.MethodGet)
	router.Use(auth.Handler)

	addr := fmt.Sprintf("%s:%d", cfg.Device.Host, cfg.Device.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Info(ctx, "device agent listening", map[string]interface{}{
			"address":  addr,
			"operator": name,
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "device agent error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("device agent forced to shutdown: %w", err)
	}

	log.Info(ctx, "device agent stopped", nil)
	return nil
}
