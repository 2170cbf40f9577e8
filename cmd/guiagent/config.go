package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Storage  StorageConfig
	Log      LogConfig
	Model    ModelConfig
	Agent    AgentConfig
	Retry    RetryConfig
	Operator OperatorConfig
	Device   DeviceConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// APITokenHash is the bcrypt hash of the read-write bearer token. Auth is
	// disabled when both hashes are empty.
	APITokenHash      string
	ReadOnlyTokenHash string
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver         string
	Host           string
	Port           int
	User           string
	Password       string
	Database       string
	Path           string
	MaxOpenConns   int
	MaxIdleConns   int
	MigrationsPath string
}

// StorageConfig holds screenshot artifact storage configuration.
type StorageConfig struct {
	Type            string // "local", "s3" or "none"
	BaseDir         string
	S3Bucket        string
	S3Region        string
	S3Endpoint      string
	S3PresignExpiry time.Duration
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string
	Format string
}

// ModelConfig selects and tunes the vision model.
type ModelConfig struct {
	Provider      string // "openai" or "bedrock"
	BaseURL       string
	APIKey        string
	Name          string
	Timeout       time.Duration
	BedrockRegion string

	MaxPixels       int
	MaxWidth        int
	MaxImages       int
	MaxTokens       int
	Temperature     float64
	TopP            float64
	MalformedPolicy string
}

// AgentConfig holds agent loop configuration.
type AgentConfig struct {
	SystemPrompt      string
	SystemPromptFile  string
	MaxLoopCount      int
	LoopInterval      time.Duration
	MaxConcurrentRuns int
}

// RetryPolicy is the retry budget of one operation class.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// RetryConfig holds the per-class retry budgets.
type RetryConfig struct {
	Model      RetryPolicy
	Screenshot RetryPolicy
	Execute    RetryPolicy
}

// OperatorConfig holds the settings of every operator variant.
type OperatorConfig struct {
	Browser    BrowserConfig
	Shell      ShellConfig
	Filesystem FilesystemConfig
	Remote     RemoteConfig
}

type BrowserConfig struct {
	RemoteURL string
	ExecPath  string
	Headless  bool
	Width     int
	Height    int
	StartURL  string
}

type ShellConfig struct {
	Shell          string
	Dir            string
	CommandTimeout time.Duration
}

type FilesystemConfig struct {
	Root string
}

type RemoteConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// DeviceConfig configures the device agent served by "guiagent device".
type DeviceConfig struct {
	Host      string
	Port      int
	Operator  string
	TokenHash string
}

// LoadConfig loads configuration from file and environment variables.
// Environment variables use the GUIAGENT_ prefix, e.g. GUIAGENT_MODEL_API_KEY.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("GUIAGENT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config

	config.Server.Host = v.GetString("server.host")
	config.Server.Port = v.GetInt("server.port")
	config.Server.ReadTimeout = v.GetDuration("server.read_timeout")
	config.Server.WriteTimeout = v.GetDuration("server.write_timeout")
	config.Server.APITokenHash = v.GetString("server.api_token_hash")
	config.Server.ReadOnlyTokenHash = v.GetString("server.readonly_token_hash")

	config.Database.Driver = v.GetString("database.driver")
	config.Database.Host = v.GetString("database.host")
	config.Database.Port = v.GetInt("database.port")
	config.Database.User = v.GetString("database.user")
	config.Database.Password = v.GetString("database.password")
	config.Database.Database = v.GetString("database.database")
	config.Database.Path = v.GetString("database.path")
	config.Database.MaxOpenConns = v.GetInt("database.max_open_conns")
	config.Database.MaxIdleConns = v.GetInt("database.max_idle_conns")
	config.Database.MigrationsPath = v.GetString("database.migrations_path")

	config.Storage.Type = v.GetString("storage.type")
	config.Storage.BaseDir = v.GetString("storage.base_dir")
	config.Storage.S3Bucket = v.GetString("storage.s3_bucket")
	config.Storage.S3Region = v.GetString("storage.s3_region")
	config.Storage.S3Endpoint = v.GetString("storage.s3_endpoint")
	config.Storage.S3PresignExpiry = v.GetDuration("storage.s3_presign_expiry")

	config.Log.Level = v.GetString("log.level")
	config.Log.Format = v.GetString("log.format")

	config.Model.Provider = v.GetString("model.provider")
	config.Model.BaseURL = v.GetString("model.base_url")
	config.Model.APIKey = v.GetString("model.api_key")
	config.Model.Name = v.GetString("model.name")
	config.Model.Timeout = v.GetDuration("model.timeout")
	config.Model.BedrockRegion = v.GetString("model.bedrock_region")
	config.Model.MaxPixels = v.GetInt("model.max_pixels")
	config.Model.MaxWidth = v.GetInt("model.max_width")
	config.Model.MaxImages = v.GetInt("model.max_images")
	config.Model.MaxTokens = v.GetInt("model.max_tokens")
	config.Model.Temperature = v.GetFloat64("model.temperature")
	config.Model.TopP = v.GetFloat64("model.top_p")
	config.Model.MalformedPolicy = v.GetString("model.malformed_policy")

	config.Agent.SystemPrompt = v.GetString("agent.system_prompt")
	config.Agent.SystemPromptFile = v.GetString("agent.system_prompt_file")
	config.Agent.MaxLoopCount = v.GetInt("agent.max_loop_count")
	config.Agent.LoopInterval = v.GetDuration("agent.loop_interval")
	config.Agent.MaxConcurrentRuns = v.GetInt("agent.max_concurrent_runs")

	config.Retry.Model = retryPolicy(v, "retry.model")
	config.Retry.Screenshot = retryPolicy(v, "retry.screenshot")
	config.Retry.Execute = retryPolicy(v, "retry.execute")

	config.Operator.Browser.RemoteURL = v.GetString("operator.browser.remote_url")
	config.Operator.Browser.ExecPath = v.GetString("operator.browser.exec_path")
	config.Operator.Browser.Headless = v.GetBool("operator.browser.headless")
	config.Operator.Browser.Width = v.GetInt("operator.browser.width")
	config.Operator.Browser.Height = v.GetInt("operator.browser.height")
	config.Operator.Browser.StartURL = v.GetString("operator.browser.start_url")
	config.Operator.Shell.Shell = v.GetString("operator.shell.shell")
	config.Operator.Shell.Dir = v.GetString("operator.shell.dir")
	config.Operator.Shell.CommandTimeout = v.GetDuration("operator.shell.command_timeout")
	config.Operator.Filesystem.Root = v.GetString("operator.filesystem.root")
	config.Operator.Remote.URL = v.GetString("operator.remote.url")
	config.Operator.Remote.Token = v.GetString("operator.remote.token")
	config.Operator.Remote.Timeout = v.GetDuration("operator.remote.timeout")

	config.Device.Host = v.GetString("device.host")
	config.Device.Port = v.GetInt("device.port")
	config.Device.Operator = v.GetString("device.operator")
	config.Device.TokenHash = v.GetString("device.token_hash")

	if config.Agent.SystemPromptFile != "" {
		data, err := os.ReadFile(config.Agent.SystemPromptFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read system prompt file: %w", err)
		}
		config.Agent.SystemPrompt = string(data)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.api_token_hash", "")
	v.SetDefault("server.readonly_token_hash", "")

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.database", "guiagent")
	v.SetDefault("database.path", "./guiagent.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.migrations_path", "")

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.base_dir", "./artifacts")
	v.SetDefault("storage.s3_bucket", "")
	v.SetDefault("storage.s3_region", "us-east-1")
	v.SetDefault("storage.s3_endpoint", "")
	v.SetDefault("storage.s3_presign_expiry", "15m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("model.provider", "openai")
	v.SetDefault("model.base_url", "http://localhost:8000/v1")
	v.SetDefault("model.api_key", "")
	v.SetDefault("model.name", "ui-tars")
	v.SetDefault("model.timeout", "60s")
	v.SetDefault("model.bedrock_region", "us-east-1")
	v.SetDefault("model.max_pixels", 0)
	v.SetDefault("model.max_width", 0)
	v.SetDefault("model.max_images", 0)
	v.SetDefault("model.max_tokens", 0)
	v.SetDefault("model.temperature", 0)
	v.SetDefault("model.top_p", 0)
	v.SetDefault("model.malformed_policy", "skip")

	v.SetDefault("agent.system_prompt", "")
	v.SetDefault("agent.system_prompt_file", "")
	v.SetDefault("agent.max_loop_count", 100)
	v.SetDefault("agent.loop_interval", "0s")
	v.SetDefault("agent.max_concurrent_runs", 2)

	for _, class := range []string{"model", "screenshot", "execute"} {
		v.SetDefault("retry."+class+".max_retries", 3)
		v.SetDefault("retry."+class+".initial_interval", "0s")
		v.SetDefault("retry."+class+".max_interval", "10s")
	}

	v.SetDefault("operator.browser.remote_url", "")
	v.SetDefault("operator.browser.exec_path", "")
	v.SetDefault("operator.browser.headless", true)
	v.SetDefault("operator.browser.width", 1280)
	v.SetDefault("operator.browser.height", 800)
	v.SetDefault("operator.browser.start_url", "about:blank")
	v.SetDefault("operator.shell.shell", "sh")
	v.SetDefault("operator.shell.dir", "")
	v.SetDefault("operator.shell.command_timeout", "30s")
	v.SetDefault("operator.filesystem.root", ".")
	v.SetDefault("operator.remote.url", "http://localhost:9000")
	v.SetDefault("operator.remote.token", "")
	v.SetDefault("operator.remote.timeout", "30s")

	v.SetDefault("device.host", "0.0.0.0")
	v.SetDefault("device.port", 9000)
	v.SetDefault("device.operator", "browser")
	v.SetDefault("device.token_hash", "")
}

func retryPolicy(v *viper.Viper, prefix string) RetryPolicy {
	return RetryPolicy{
		MaxRetries:      v.GetInt(prefix + ".max_retries"),
		InitialInterval: v.GetDuration(prefix + ".initial_interval"),
		MaxInterval:     v.GetDuration(prefix + ".max_interval"),
	}
}
