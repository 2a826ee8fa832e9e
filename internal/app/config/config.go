package config

import "time"

// Config provides read-only access to application configuration.
// This interface abstracts the configuration source (YAML, ENV, defaults)
// and ensures the app layer doesn't depend on infrastructure details.
type Config interface {
	Server() ServerConfig
	Store() StoreConfig
	Signature() SignatureConfig
	Archive() ArchiveConfig
	Auth() AuthConfig
	LogLevel() string

	// Metadata
	ConfigSource() string // "yaml", "env", or "default"
	SettingPath() string  // Path to the YAML file if one was loaded
}

// ServerConfig configures the HTTP surface
type ServerConfig struct {
	Addr            string
	PublicOrigin    string // Origin used in signing URLs
	ShutdownTimeout time.Duration
}

// Store drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// StoreConfig selects and configures the persistence backend
type StoreConfig struct {
	Driver      string
	SQLitePath  string
	PostgresDSN string
	// PrivilegedDSN connects as the table owner for the privileged route.
	// Empty means PostgresDSN.
	PrivilegedDSN string
}

// SignatureConfig holds the signing lifecycle knobs
type SignatureConfig struct {
	TokenTTL       time.Duration
	PollInterval   time.Duration
	PollMaxBackoff time.Duration // 0 keeps a fixed poll interval
	MaxImageBytes  int
}

// ArchiveConfig configures where signed reports are archived
type ArchiveConfig struct {
	Type     string // none, mock, local, s3
	BaseDir  string
	S3Bucket string
	S3Prefix string
	S3Region string
}

// AuthConfig configures bearer token verification and the CLI identity
type AuthConfig struct {
	JWTSecret  string
	CLIShopID  string
	CLISubject string
}

// AppConfig is the concrete implementation of Config interface.
type AppConfig struct {
	server    ServerConfig
	store     StoreConfig
	signature SignatureConfig
	archive   ArchiveConfig
	auth      AuthConfig
	logLevel  string

	configSource string
	settingPath  string
}

// NewAppConfig creates a new AppConfig
func NewAppConfig(
	server ServerConfig,
	store StoreConfig,
	signature SignatureConfig,
	archive ArchiveConfig,
	auth AuthConfig,
	logLevel string,
	configSource, settingPath string,
) *AppConfig {
	return &AppConfig{
		server:       server,
		store:        store,
		signature:    signature,
		archive:      archive,
		auth:         auth,
		logLevel:     logLevel,
		configSource: configSource,
		settingPath:  settingPath,
	}
}

func (c *AppConfig) Server() ServerConfig       { return c.server }
func (c *AppConfig) Store() StoreConfig         { return c.store }
func (c *AppConfig) Signature() SignatureConfig { return c.signature }
func (c *AppConfig) Archive() ArchiveConfig     { return c.archive }
func (c *AppConfig) Auth() AuthConfig           { return c.auth }
func (c *AppConfig) LogLevel() string           { return c.logLevel }
func (c *AppConfig) ConfigSource() string       { return c.configSource }
func (c *AppConfig) SettingPath() string        { return c.settingPath }

// SigningURL builds the customer-facing URL for a token
func (c *AppConfig) SigningURL(token string) string {
	return SigningURL(c.server.PublicOrigin, token)
}

// SigningURL joins origin and token as {origin}/sign/{token}
func SigningURL(origin, token string) string {
	for len(origin) > 0 && origin[len(origin)-1] == '/' {
		origin = origin[:len(origin)-1]
	}
	return origin + "/sign/" + token
}
