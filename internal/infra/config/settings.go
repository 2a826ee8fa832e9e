package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/YoshitsuguKoike/repairdesk/internal/app/config"
)

// DefaultSettingFile is looked up in the working directory when no path is given
const DefaultSettingFile = "repairdesk.yaml"

// EnvPrefix prefixes every environment override
const EnvPrefix = "REPAIRDESK_"

// RawSettings represents the structure of repairdesk.yaml.
// Pointer fields distinguish "unset" from zero values.
type RawSettings struct {
	Server    RawServer    `yaml:"server"`
	Store     RawStore     `yaml:"store"`
	Signature RawSignature `yaml:"signature"`
	Archive   RawArchive   `yaml:"archive"`
	Auth      RawAuth      `yaml:"auth"`
	Log       RawLog       `yaml:"log"`
}

type RawServer struct {
	Addr            *string        `yaml:"addr,omitempty"`
	PublicOrigin    *string        `yaml:"public_origin,omitempty"`
	ShutdownTimeout *time.Duration `yaml:"shutdown_timeout,omitempty"`
}

type RawStore struct {
	Driver        *string `yaml:"driver,omitempty"`
	SQLitePath    *string `yaml:"sqlite_path,omitempty"`
	PostgresDSN   *string `yaml:"postgres_dsn,omitempty"`
	PrivilegedDSN *string `yaml:"privileged_dsn,omitempty"`
}

type RawSignature struct {
	TokenTTL       *time.Duration `yaml:"token_ttl,omitempty"`
	PollInterval   *time.Duration `yaml:"poll_interval,omitempty"`
	PollMaxBackoff *time.Duration `yaml:"poll_max_backoff,omitempty"`
	MaxImageBytes  *int           `yaml:"max_image_bytes,omitempty"`
}

type RawArchive struct {
	Type     *string `yaml:"type,omitempty"`
	BaseDir  *string `yaml:"base_dir,omitempty"`
	S3Bucket *string `yaml:"s3_bucket,omitempty"`
	S3Prefix *string `yaml:"s3_prefix,omitempty"`
	S3Region *string `yaml:"s3_region,omitempty"`
}

type RawAuth struct {
	JWTSecret  *string `yaml:"jwt_secret,omitempty"`
	CLIShopID  *string `yaml:"cli_shop_id,omitempty"`
	CLISubject *string `yaml:"cli_subject,omitempty"`
}

type RawLog struct {
	Level *string `yaml:"level,omitempty"`
}

// LoadSettings loads configuration.
// Priority: REPAIRDESK_* environment > YAML file > defaults.
// An empty path falls back to REPAIRDESK_CONFIG, then ./repairdesk.yaml.
// A missing default file is not an error; a missing explicit file is.
func LoadSettings(path string) (*config.AppConfig, error) {
	settings := &RawSettings{}
	configSource := "default"
	settingPath := ""

	explicit := path != ""
	if !explicit {
		if v := os.Getenv(EnvPrefix + "CONFIG"); v != "" {
			path, explicit = v, true
		} else {
			path = DefaultSettingFile
		}
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, settings); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		configSource = "yaml"
		settingPath = path
	case explicit || !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	envApplied, err := applyEnv(settings, os.LookupEnv)
	if err != nil {
		return nil, err
	}
	if envApplied && configSource == "default" {
		configSource = "env"
	}

	applyDefaults(settings)

	cfg := buildAppConfig(settings, configSource, settingPath)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays REPAIRDESK_* variables and reports whether any was set
func applyEnv(s *RawSettings, lookup func(string) (string, bool)) (bool, error) {
	applied := false
	str := func(key string, dst **string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = &v
			applied = true
		}
	}
	var errs []error
	dur := func(key string, dst **time.Duration) {
		if v, ok := lookup(EnvPrefix + key); ok {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = &d
			applied = true
		}
	}
	num := func(key string, dst **int) {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = &n
			applied = true
		}
	}

	str("SERVER_ADDR", &s.Server.Addr)
	str("PUBLIC_ORIGIN", &s.Server.PublicOrigin)
	dur("SHUTDOWN_TIMEOUT", &s.Server.ShutdownTimeout)

	str("STORE_DRIVER", &s.Store.Driver)
	str("SQLITE_PATH", &s.Store.SQLitePath)
	str("POSTGRES_DSN", &s.Store.PostgresDSN)
	str("PRIVILEGED_DSN", &s.Store.PrivilegedDSN)

	dur("TOKEN_TTL", &s.Signature.TokenTTL)
	dur("POLL_INTERVAL", &s.Signature.PollInterval)
	dur("POLL_MAX_BACKOFF", &s.Signature.PollMaxBackoff)
	num("MAX_IMAGE_BYTES", &s.Signature.MaxImageBytes)

	str("ARCHIVE_TYPE", &s.Archive.Type)
	str("ARCHIVE_DIR", &s.Archive.BaseDir)
	str("S3_BUCKET", &s.Archive.S3Bucket)
	str("S3_PREFIX", &s.Archive.S3Prefix)
	str("S3_REGION", &s.Archive.S3Region)

	str("JWT_SECRET", &s.Auth.JWTSecret)
	str("SHOP_ID", &s.Auth.CLIShopID)
	str("SUBJECT", &s.Auth.CLISubject)

	str("LOG_LEVEL", &s.Log.Level)

	return applied, errors.Join(errs...)
}

// applyDefaults fills in default values for any nil fields
func applyDefaults(s *RawSettings) {
	setStr := func(dst **string, v string) {
		if *dst == nil {
			*dst = &v
		}
	}
	setDur := func(dst **time.Duration, v time.Duration) {
		if *dst == nil {
			*dst = &v
		}
	}

	setStr(&s.Server.Addr, ":8080")
	setStr(&s.Server.PublicOrigin, "http://localhost:8080")
	setDur(&s.Server.ShutdownTimeout, 10*time.Second)

	setStr(&s.Store.Driver, config.DriverSQLite)
	setStr(&s.Store.SQLitePath, "repairdesk.db")
	setStr(&s.Store.PostgresDSN, "")
	setStr(&s.Store.PrivilegedDSN, "")

	setDur(&s.Signature.TokenTTL, 72*time.Hour)
	setDur(&s.Signature.PollInterval, 5*time.Second)
	setDur(&s.Signature.PollMaxBackoff, 0)
	if s.Signature.MaxImageBytes == nil {
		v := 512 * 1024
		s.Signature.MaxImageBytes = &v
	}

	setStr(&s.Archive.Type, "none")
	setStr(&s.Archive.BaseDir, "archive")
	setStr(&s.Archive.S3Bucket, "")
	setStr(&s.Archive.S3Prefix, "interventions")
	setStr(&s.Archive.S3Region, "")

	setStr(&s.Auth.JWTSecret, "")
	setStr(&s.Auth.CLIShopID, "")
	setStr(&s.Auth.CLISubject, "cli")

	setStr(&s.Log.Level, "warn")
}

// buildAppConfig converts RawSettings to AppConfig
func buildAppConfig(s *RawSettings, configSource, settingPath string) *config.AppConfig {
	return config.NewAppConfig(
		config.ServerConfig{
			Addr:            *s.Server.Addr,
			PublicOrigin:    *s.Server.PublicOrigin,
			ShutdownTimeout: *s.Server.ShutdownTimeout,
		},
		config.StoreConfig{
			Driver:        strings.ToLower(*s.Store.Driver),
			SQLitePath:    *s.Store.SQLitePath,
			PostgresDSN:   *s.Store.PostgresDSN,
			PrivilegedDSN: *s.Store.PrivilegedDSN,
		},
		config.SignatureConfig{
			TokenTTL:       *s.Signature.TokenTTL,
			PollInterval:   *s.Signature.PollInterval,
			PollMaxBackoff: *s.Signature.PollMaxBackoff,
			MaxImageBytes:  *s.Signature.MaxImageBytes,
		},
		config.ArchiveConfig{
			Type:     strings.ToLower(*s.Archive.Type),
			BaseDir:  *s.Archive.BaseDir,
			S3Bucket: *s.Archive.S3Bucket,
			S3Prefix: *s.Archive.S3Prefix,
			S3Region: *s.Archive.S3Region,
		},
		config.AuthConfig{
			JWTSecret:  *s.Auth.JWTSecret,
			CLIShopID:  *s.Auth.CLIShopID,
			CLISubject: *s.Auth.CLISubject,
		},
		*s.Log.Level,
		configSource,
		settingPath,
	)
}

// Validate rejects configurations the services cannot run with
func Validate(cfg config.Config) error {
	var errs []error
	switch cfg.Store().Driver {
	case config.DriverSQLite:
		if cfg.Store().SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for the sqlite driver"))
		}
	case config.DriverPostgres:
		if cfg.Store().PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn is required for the postgres driver"))
		}
	case config.DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of sqlite, postgres, memory", cfg.Store().Driver))
	}

	switch cfg.Archive().Type {
	case "none", "mock", "local":
	case "s3":
		if cfg.Archive().S3Bucket == "" {
			errs = append(errs, errors.New("archive.s3_bucket is required for the s3 archive"))
		}
	default:
		errs = append(errs, fmt.Errorf("archive.type %q is not one of none, mock, local, s3", cfg.Archive().Type))
	}

	sig := cfg.Signature()
	if sig.TokenTTL <= 0 {
		errs = append(errs, errors.New("signature.token_ttl must be positive"))
	}
	if sig.PollInterval <= 0 {
		errs = append(errs, errors.New("signature.poll_interval must be positive"))
	}
	if sig.PollMaxBackoff < 0 {
		errs = append(errs, errors.New("signature.poll_max_backoff must not be negative"))
	}
	if sig.MaxImageBytes <= 0 {
		errs = append(errs, errors.New("signature.max_image_bytes must be positive"))
	}
	if cfg.Server().PublicOrigin == "" {
		errs = append(errs, errors.New("server.public_origin is required"))
	}
	return errors.Join(errs...)
}

// parseDuration accepts Go durations or a bare number of seconds
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return 0, fmt.Errorf("invalid duration %q", s)
}

// CreateDefaultSettings creates a default repairdesk.yaml content
func CreateDefaultSettings() []byte {
	settings := &RawSettings{}
	applyDefaults(settings)

	data, _ := yaml.Marshal(settings)
	return data
}
