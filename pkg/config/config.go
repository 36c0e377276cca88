package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

const (
	envPrefix      = "PGBM"
	configFileName = ".pg-backup-manager"
)

// Config is the full runtime configuration of the server and the CLI.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Probe     ProbeConfig     `mapstructure:"probe"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	S3        S3Config        `mapstructure:"s3"`
	Broker    BrokerConfig    `mapstructure:"broker"`
	Log       LogConfig       `mapstructure:"log"`

	BackupDir  string `mapstructure:"backup_dir"`
	StagingDir string `mapstructure:"staging_dir"`
	PgBinDir   string `mapstructure:"pg_bin_dir"`
	SecretKey  string `mapstructure:"secret_key"`
}

type ServerConfig struct {
	Addr        string   `mapstructure:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	LoginRate   int      `mapstructure:"login_rate"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type AuthConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type JobsConfig struct {
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	BackupTimeout  time.Duration `mapstructure:"backup_timeout"`
	RestoreTimeout time.Duration `mapstructure:"restore_timeout"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
}

type ProbeConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type SchedulerConfig struct {
	Tick time.Duration `mapstructure:"tick"`
}

type S3Config struct {
	UploadLimitKB   int `mapstructure:"upload_limit_kb"`
	DownloadLimitKB int `mapstructure:"download_limit_kb"`
	PartSizeMB      int `mapstructure:"part_size_mb"`
}

type BrokerConfig struct {
	URL      string        `mapstructure:"url"`
	ClientID string        `mapstructure:"client_id"`
	Topic    string        `mapstructure:"topic"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	dataDir := filepath.Join(os.TempDir(), "pg-backup-manager")
	if home, err := homedir.Dir(); err == nil {
		dataDir = filepath.Join(home, ".pg-backup-manager")
	}

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.login_rate", 10)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", filepath.Join(dataDir, "metadata.db"))
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("jobs.max_concurrent", 4)
	v.SetDefault("jobs.backup_timeout", 2*time.Hour)
	v.SetDefault("jobs.restore_timeout", 4*time.Hour)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_interval", 2*time.Second)
	v.SetDefault("probe.timeout", 5*time.Second)
	v.SetDefault("scheduler.tick", time.Minute)
	v.SetDefault("s3.part_size_mb", 50)
	v.SetDefault("broker.client_id", "pg-backup-manager")
	v.SetDefault("broker.topic", "pg-backup-manager/jobs")
	v.SetDefault("broker.timeout", 10*time.Second)
	v.SetDefault("client.retries", 3)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("backup_dir", filepath.Join(dataDir, "backups"))
	v.SetDefault("staging_dir", filepath.Join(dataDir, "staging"))
}

// Init wires .env loading, environment variables and the config file into v.
// A missing config file is not an error; a malformed one is.
func Init(v *viper.Viper, cfgFile string) error {
	// Variables already present in the environment win over .env.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	SetDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return err
		}
		v.AddConfigPath(home)
		v.AddConfigPath(".")
		v.SetConfigName(configFileName)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// Load decodes v into a Config and checks the values the server cannot run without.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if c.Jobs.MaxConcurrent < 1 {
		return errors.New("jobs.max_concurrent must be at least 1")
	}
	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be at least 1")
	}
	if c.Scheduler.Tick <= 0 {
		return errors.New("scheduler.tick must be positive")
	}
	if c.BackupDir == "" || c.StagingDir == "" {
		return errors.New("backup_dir and staging_dir are required")
	}
	return nil
}

// PgBinary returns the path of a PostgreSQL client binary, honouring pg_bin_dir.
func (c *Config) PgBinary(name string) string {
	if c.PgBinDir == "" {
		return name
	}
	return filepath.Join(c.PgBinDir, name)
}
