package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// LogLevel specifies the logging verbosity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogFormat specifies the log output format.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

// AuthMode selects how remedy authenticates against ServiceNow.
type AuthMode string

const (
	AuthBasic  AuthMode = "basic"  // Username and password from the environment
	AuthOAuth2 AuthMode = "oauth2" // Client credentials grant
)

// StoreBackend selects where RunRecords are persisted.
type StoreBackend string

const (
	StoreYAML     StoreBackend = "yaml"     // One YAML file per run under state_dir
	StoreSQLite   StoreBackend = "sqlite"   // Single SQLite database file
	StorePostgres StoreBackend = "postgres" // Shared Postgres table
)

// ArchiveBackend selects where raw action output is archived.
type ArchiveBackend string

const (
	ArchiveNone  ArchiveBackend = "none"
	ArchiveLocal ArchiveBackend = "local"
	ArchiveMinIO ArchiveBackend = "minio"
)

// Compression selects the archive compression codec.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

// PathsConfig holds path configuration.
type PathsConfig struct {
	Catalog     string `toml:"catalog"`
	UseCasesDir string `toml:"use_cases_dir"`
	StateDir    string `toml:"state_dir"`
	LogsDir     string `toml:"logs_dir"`
}

// ServiceNowConfig holds the ticketing system connection settings.
// Credentials are never stored in the file, only the names of the
// environment variables that carry them.
type ServiceNowConfig struct {
	Endpoint        string        `toml:"endpoint"`
	Auth            AuthMode      `toml:"auth"`
	UsernameEnv     string        `toml:"username_env"`
	PasswordEnv     string        `toml:"password_env"`
	ClientIDEnv     string        `toml:"client_id_env"`
	ClientSecretEnv string        `toml:"client_secret_env"`
	TokenURL        string        `toml:"token_url"`
	RequestTimeout  time.Duration `toml:"request_timeout"`
}

// RunnerConfig holds the interpreters and limits used to run actions.
type RunnerConfig struct {
	Python        string        `toml:"python"`
	Node          string        `toml:"node"`
	PowerShell    string        `toml:"powershell"`
	Shell         string        `toml:"shell"`
	ActionTimeout time.Duration `toml:"action_timeout"` // 0 disables the limit
	KillGrace     time.Duration `toml:"kill_grace"`
}

// StoreConfig holds RunRecord persistence settings.
type StoreConfig struct {
	Backend     StoreBackend `toml:"backend"`
	SQLitePath  string       `toml:"sqlite_path"`
	PostgresEnv string       `toml:"postgres_dsn_env"`
	PoolSize    int          `toml:"pool_size"`
}

// MinIOConfig holds object storage settings for the archive.
type MinIOConfig struct {
	Endpoint     string `toml:"endpoint"`
	Bucket       string `toml:"bucket"`
	Prefix       string `toml:"prefix"`
	AccessKeyEnv string `toml:"access_key_env"`
	SecretKeyEnv string `toml:"secret_key_env"`
	UseSSL       bool   `toml:"use_ssl"`
}

// ArchiveConfig holds action output archive settings.
type ArchiveConfig struct {
	Backend     ArchiveBackend `toml:"backend"`
	Dir         string         `toml:"dir"`
	Compression Compression    `toml:"compression"`
	Recipients  []string       `toml:"recipients"` // age X25519 public keys
	// IdentityFile holds the age private keys used to read encrypted
	// entries back. Only needed by the output command.
	IdentityFile string      `toml:"identity_file"`
	MinIO        MinIOConfig `toml:"minio"`
}

// ResumeConfig controls how interrupted runs continue.
type ResumeConfig struct {
	// ReplayInterrupted re-runs an action whose pre-execution checkpoint
	// was saved but whose result never was. When false the action is
	// recorded as failed and the ticket is reassigned.
	ReplayInterrupted bool `toml:"replay_interrupted"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  LogLevel  `toml:"level"`
	Format LogFormat `toml:"format"`
	File   string    `toml:"file"`
}

// Config is the main configuration struct for remedy.
type Config struct {
	Version    string           `toml:"version"`
	Paths      PathsConfig      `toml:"paths"`
	ServiceNow ServiceNowConfig `toml:"servicenow"`
	Runner     RunnerConfig     `toml:"runner"`
	Store      StoreConfig      `toml:"store"`
	Archive    ArchiveConfig    `toml:"archive"`
	Resume     ResumeConfig     `toml:"resume"`
	Logging    LoggingConfig    `toml:"logging"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Version: "1",
		Paths: PathsConfig{
			Catalog:     "flow_details.yml",
			UseCasesDir: "UseCases",
			StateDir:    ".remedy/state",
			LogsDir:     ".remedy/logs",
		},
		ServiceNow: ServiceNowConfig{
			Auth:            AuthBasic,
			UsernameEnv:     "SERVICENOW_USERNAME",
			PasswordEnv:     "SERVICENOW_PASSWORD",
			ClientIDEnv:     "SERVICENOW_CLIENT_ID",
			ClientSecretEnv: "SERVICENOW_CLIENT_SECRET",
			RequestTimeout:  30 * time.Second,
		},
		Runner: RunnerConfig{
			Python:     "python3",
			Node:       "node",
			PowerShell: "pwsh",
			Shell:      "bash",
			KillGrace:  3 * time.Second,
		},
		Store: StoreConfig{
			Backend:     StoreYAML,
			SQLitePath:  ".remedy/state/runs.db",
			PostgresEnv: "REMEDY_POSTGRES_DSN",
			PoolSize:    4,
		},
		Archive: ArchiveConfig{
			Backend:     ArchiveNone,
			Dir:         ".remedy/archive",
			Compression: CompressionZstd,
			MinIO: MinIOConfig{
				AccessKeyEnv: "MINIO_ACCESS_KEY",
				SecretKeyEnv: "MINIO_SECRET_KEY",
				UseSSL:       true,
			},
		},
		Resume: ResumeConfig{
			ReplayInterrupted: true,
		},
		Logging: LoggingConfig{
			Level:  LogLevelInfo,
			Format: LogFormatJSON,
		},
	}
}

// Load loads configuration from file, merging with defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Use defaults if no config file
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// LoadFromDir loads configuration from the standard locations in a directory.
// Applies in order: defaults -> ~/.remedy/config.toml -> .remedy/config.toml
// Later configs override earlier ones (project-level takes precedence).
func LoadFromDir(dir string) (*Config, error) {
	cfg := Default()

	home, err := os.UserHomeDir()
	if err == nil {
		globalConfig := filepath.Join(home, ".remedy", "config.toml")
		if data, err := os.ReadFile(globalConfig); err == nil {
			if _, err := toml.Decode(string(data), cfg); err != nil {
				return nil, fmt.Errorf("parsing global config: %w", err)
			}
		}
	}

	projectConfig := filepath.Join(dir, ".remedy", "config.toml")
	if data, err := os.ReadFile(projectConfig); err == nil {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing project config: %w", err)
		}
	}

	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("config version is required")
	}
	if c.Paths.Catalog == "" {
		return fmt.Errorf("catalog is required")
	}
	if c.Paths.UseCasesDir == "" {
		return fmt.Errorf("use_cases_dir is required")
	}
	if c.Paths.StateDir == "" {
		return fmt.Errorf("state_dir is required")
	}
	switch c.ServiceNow.Auth {
	case AuthBasic, AuthOAuth2:
	default:
		return fmt.Errorf("unknown servicenow auth %q", c.ServiceNow.Auth)
	}
	if c.ServiceNow.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout must not be negative")
	}
	if c.Runner.ActionTimeout < 0 {
		return fmt.Errorf("action_timeout must not be negative")
	}
	if c.Runner.KillGrace <= 0 {
		return fmt.Errorf("kill_grace must be positive")
	}
	switch c.Store.Backend {
	case StoreYAML, StoreSQLite, StorePostgres:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.Archive.Backend {
	case ArchiveNone, ArchiveLocal:
	case ArchiveMinIO:
		if c.Archive.MinIO.Endpoint == "" || c.Archive.MinIO.Bucket == "" {
			return fmt.Errorf("minio archive needs endpoint and bucket")
		}
	default:
		return fmt.Errorf("unknown archive backend %q", c.Archive.Backend)
	}
	switch c.Archive.Compression {
	case CompressionNone, CompressionZstd, CompressionLZ4:
	default:
		return fmt.Errorf("unknown archive compression %q", c.Archive.Compression)
	}
	return nil
}

// CatalogPath returns the absolute flow catalog path.
func (c *Config) CatalogPath(baseDir string) string {
	return resolve(baseDir, c.Paths.Catalog)
}

// UseCasesDir returns the absolute directory holding one subdirectory per flow.
func (c *Config) UseCasesDir(baseDir string) string {
	return resolve(baseDir, c.Paths.UseCasesDir)
}

// StateDir returns the absolute state directory path.
func (c *Config) StateDir(baseDir string) string {
	return resolve(baseDir, c.Paths.StateDir)
}

// LogsDir returns the absolute logs directory path.
func (c *Config) LogsDir(baseDir string) string {
	return resolve(baseDir, c.Paths.LogsDir)
}

// LogFile returns the absolute log file path. Relative names live in LogsDir.
func (c *Config) LogFile(baseDir string) string {
	if filepath.IsAbs(c.Logging.File) {
		return c.Logging.File
	}
	return filepath.Join(c.LogsDir(baseDir), c.Logging.File)
}

// SQLitePath returns the absolute SQLite database path.
func (c *Config) SQLitePath(baseDir string) string {
	return resolve(baseDir, c.Store.SQLitePath)
}

// ArchiveDir returns the absolute local archive directory.
func (c *Config) ArchiveDir(baseDir string) string {
	return resolve(baseDir, c.Archive.Dir)
}

// ArchiveIdentityFile returns the resolved age identity file, or "" when none is configured.
func (c *Config) ArchiveIdentityFile(baseDir string) string {
	if c.Archive.IdentityFile == "" {
		return ""
	}
	return resolve(baseDir, c.Archive.IdentityFile)
}

// BasicCredentials returns the ServiceNow username and password from the environment.
func (c *Config) BasicCredentials() (string, string) {
	return os.Getenv(c.ServiceNow.UsernameEnv), os.Getenv(c.ServiceNow.PasswordEnv)
}

// ClientCredentials returns the OAuth client id and secret from the environment.
func (c *Config) ClientCredentials() (string, string) {
	return os.Getenv(c.ServiceNow.ClientIDEnv), os.Getenv(c.ServiceNow.ClientSecretEnv)
}

// PostgresDSN returns the Postgres connection string from the environment.
func (c *Config) PostgresDSN() string {
	return os.Getenv(c.Store.PostgresEnv)
}

// MinIOCredentials returns the archive access and secret keys from the environment.
func (c *Config) MinIOCredentials() (string, string) {
	return os.Getenv(c.Archive.MinIO.AccessKeyEnv), os.Getenv(c.Archive.MinIO.SecretKeyEnv)
}

func resolve(baseDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}
