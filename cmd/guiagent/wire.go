package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gorm.io/gorm"

	"github.com/hairizuanbinnoorazman/guiagent/agent"
	"github.com/hairizuanbinnoorazman/guiagent/artifact"
	"github.com/hairizuanbinnoorazman/guiagent/database"
	"github.com/hairizuanbinnoorazman/guiagent/logger"
	"github.com/hairizuanbinnoorazman/guiagent/model"
	"github.com/hairizuanbinnoorazman/guiagent/operator"
	"github.com/hairizuanbinnoorazman/guiagent/operator/browser"
	"github.com/hairizuanbinnoorazman/guiagent/operator/filesystem"
	"github.com/hairizuanbinnoorazman/guiagent/operator/remote"
	"github.com/hairizuanbinnoorazman/guiagent/operator/shell"
	"github.com/hairizuanbinnoorazman/guiagent/retry"
	"github.com/hairizuanbinnoorazman/guiagent/runner"
)

// Operator names accepted by runs.
const (
	OperatorBrowser    = "browser"
	OperatorShell      = "shell"
	OperatorFilesystem = "filesystem"
	OperatorRemote     = "remote"
)

var operatorNames = []string{OperatorBrowser, OperatorShell, OperatorFilesystem, OperatorRemote}

func newLogger(cfg LogConfig) logger.Logger {
	return logger.NewLogrusLoggerWithOptions(logger.Options{
		Level:  cfg.Level,
		Format: cfg.Format,
		Output: os.Stderr,
	})
}

func dbConfig(cfg DatabaseConfig) database.Config {
	return database.Config{
		Driver:       cfg.Driver,
		Host:         cfg.Host,
		Port:         cfg.Port,
		User:         cfg.User,
		Password:     cfg.Password,
		Database:     cfg.Database,
		Path:         cfg.Path,
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	}
}

// openDatabase connects and returns a close func for the pool.
func openDatabase(cfg DatabaseConfig) (*gorm.DB, func(), error) {
	db, err := database.Connect(dbConfig(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	return db, func() { sqlDB.Close() }, nil
}

// newArtifactStore returns nil when storage is disabled.
func newArtifactStore(ctx context.Context, cfg StorageConfig) (artifact.Store, error) {
	if strings.EqualFold(cfg.Type, "none") {
		return nil, nil
	}
	return artifact.New(ctx, artifact.Config{
		Type:          cfg.Type,
		BaseDir:       cfg.BaseDir,
		Bucket:        cfg.S3Bucket,
		Region:        cfg.S3Region,
		Endpoint:      cfg.S3Endpoint,
		PresignExpiry: cfg.S3PresignExpiry,
	})
}

func newModel(ctx context.Context, cfg ModelConfig, log logger.Logger) (model.Invoker, error) {
	var provider model.Provider
	switch strings.ToLower(cfg.Provider) {
	case "openai", "":
		provider = model.NewOpenAIProvider(cfg.BaseURL, cfg.APIKey, cfg.Name, cfg.Timeout)
	case "bedrock":
		p, err := model.NewBedrockProvider(ctx, cfg.BedrockRegion, cfg.Name)
		if err != nil {
			return nil, err
		}
		provider = p
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.Provider)
	}

	policy := model.BatchPolicy(cfg.MalformedPolicy)
	switch policy {
	case "", model.MalformedSkip, model.MalformedDropBatch:
	default:
		return nil, fmt.Errorf("unsupported malformed policy: %s", cfg.MalformedPolicy)
	}

	return model.New(model.Config{
		Provider:    provider,
		Logger:      log,
		MaxPixels:   cfg.MaxPixels,
		MaxWidth:    cfg.MaxWidth,
		MaxImages:   cfg.MaxImages,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
		Policy:      policy,
	})
}

func retryConfigs(cfg RetryConfig) agent.RetryConfigs {
	return agent.RetryConfigs{
		Model:      retryConfig(cfg.Model),
		Screenshot: retryConfig(cfg.Screenshot),
		Execute:    retryConfig(cfg.Execute),
	}
}

func retryConfig(p RetryPolicy) retry.Config {
	c := retry.Config{MaxRetries: p.MaxRetries}
	if p.InitialInterval > 0 {
		c.NewBackoff = retry.Exponential(p.InitialInterval, p.MaxInterval)
	}
	return c
}

func agentConfig(cfg *Config) runner.AgentConfig {
	return runner.AgentConfig{
		SystemPrompt: cfg.Agent.SystemPrompt,
		Retry:        retryConfigs(cfg.Retry),
		MaxLoopCount: cfg.Agent.MaxLoopCount,
		LoopInterval: cfg.Agent.LoopInterval,
	}
}

// newOperatorFactory opens a fresh operator per run from the operator section.
func newOperatorFactory(cfg OperatorConfig, log logger.Logger) runner.OperatorFactory {
	return runner.OperatorFactoryFunc(func(ctx context.Context, name string) (operator.Operator, error) {
		switch name {
		case OperatorBrowser:
			return browser.Launch(ctx, browser.Config{
				RemoteURL: cfg.Browser.RemoteURL,
				ExecPath:  cfg.Browser.ExecPath,
				Headless:  cfg.Browser.Headless,
				Width:     cfg.Browser.Width,
				Height:    cfg.Browser.Height,
				StartURL:  cfg.Browser.StartURL,
				Logger:    log.WithField("operator", OperatorBrowser),
			})
		case OperatorShell:
			return shell.New(shell.Config{
				Shell:          cfg.Shell.Shell,
				Dir:            cfg.Shell.Dir,
				CommandTimeout: cfg.Shell.CommandTimeout,
				Logger:         log.WithField("operator", OperatorShell),
			}), nil
		case OperatorFilesystem:
			return filesystem.NewOS(cfg.Filesystem.Root, filesystem.Config{}), nil
		case OperatorRemote:
			return remote.NewClient(cfg.Remote.URL, cfg.Remote.Token, cfg.Remote.Timeout), nil
		}
		return nil, fmt.Errorf("unknown operator: %s", name)
	})
}
