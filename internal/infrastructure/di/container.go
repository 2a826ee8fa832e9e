package di

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/repairdesk/internal/adapter/controller/httpapi"
	storagegateway "github.com/YoshitsuguKoike/repairdesk/internal/adapter/gateway/storage"
	"github.com/YoshitsuguKoike/repairdesk/internal/adapter/presenter"
	"github.com/YoshitsuguKoike/repairdesk/internal/app"
	"github.com/YoshitsuguKoike/repairdesk/internal/app/config"
	"github.com/YoshitsuguKoike/repairdesk/internal/application/port/output"
	"github.com/YoshitsuguKoike/repairdesk/internal/application/service"
	"github.com/YoshitsuguKoike/repairdesk/internal/domain/model/access"
	"github.com/YoshitsuguKoike/repairdesk/internal/infrastructure/metrics"
	"github.com/YoshitsuguKoike/repairdesk/internal/infrastructure/persistence/memory"
	"github.com/YoshitsuguKoike/repairdesk/internal/infrastructure/persistence/postgres"
	"github.com/YoshitsuguKoike/repairdesk/internal/infrastructure/persistence/route"
	"github.com/YoshitsuguKoike/repairdesk/internal/infrastructure/persistence/sqlite"
	"github.com/YoshitsuguKoike/repairdesk/internal/pkg/clock"
)

// Container is the DI container that holds all dependencies
// This implements manual dependency injection for Clean Architecture
type Container struct {
	cfg  config.Config
	opts Options

	// Infrastructure Layer - Database
	sqlDB          *sql.DB
	pgPool         *pgxpool.Pool
	pgPrivileged   *pgxpool.Pool
	memoryTables   *memory.Tables
	router         *route.Router
	registry       *prometheus.Registry
	metrics        *metrics.Metrics
	storageGateway output.StorageGateway

	// Application Layer - Services
	validator *service.ReportValidator
	issuer    *service.TokenIssuer
	resolver  *service.SignatureResolver
	poller    *service.StatusPoller
	query     *service.InterventionQueryService

	// Adapter Layer
	presenter output.Presenter
	qr        *presenter.QRPresenter
	auth      *httpapi.Authenticator
}

// Options holds the process-level choices that are not configuration
type Options struct {
	OutputFormat string // Output format (cli, json)
	OutputWriter io.Writer
	Clock        clock.Clock
	Logger       app.Logger
	Fs           afero.Fs // Filesystem of the local archive
}

// NewContainer creates and initializes the DI container
func NewContainer(ctx context.Context, cfg config.Config, opts Options) (*Container, error) {
	if opts.OutputWriter == nil {
		opts.OutputWriter = os.Stdout
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	opts.Logger = app.OrDefault(opts.Logger)

	c := &Container{cfg: cfg, opts: opts}

	// Initialize dependencies in dependency order
	if err := c.initializeInfrastructure(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize infrastructure: %w", err)
	}
	if err := c.initializeApplication(); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize application: %w", err)
	}
	c.initializeAdapters()
	return c, nil
}

// initializeInfrastructure opens the store and the archive
func (c *Container) initializeInfrastructure(ctx context.Context) error {
	c.registry = prometheus.NewRegistry()
	c.metrics = metrics.New(c.registry)

	direct, privileged, err := c.openStore(ctx)
	if err != nil {
		return err
	}
	c.router = route.NewRouter(direct, privileged, c.opts.Logger, c.metrics)

	c.storageGateway, err = c.openArchive(ctx)
	return err
}

func (c *Container) openStore(ctx context.Context) (route.PersistenceRoute, route.PersistenceRoute, error) {
	store := c.cfg.Store()
	switch store.Driver {
	case config.DriverSQLite, "":
		db, err := sqlite.Open(ctx, store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		c.sqlDB = db
		return sqlite.NewInterventionRepository(db, sqlite.ModeDirect),
			sqlite.NewInterventionRepository(db, sqlite.ModePrivileged), nil

	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, store.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		c.pgPool = pool
		privileged := pool
		if store.PrivilegedDSN != "" && store.PrivilegedDSN != store.PostgresDSN {
			if privileged, err = postgres.Connect(ctx, store.PrivilegedDSN); err != nil {
				return nil, nil, err
			}
			c.pgPrivileged = privileged
		}
		return postgres.NewInterventionStore(pool, postgres.ModeDirect),
			postgres.NewInterventionStore(privileged, postgres.ModePrivileged), nil

	case config.DriverMemory:
		c.memoryTables = memory.NewTables()
		return memory.NewInterventionStore(c.memoryTables, false),
			memory.NewInterventionStore(c.memoryTables, true), nil
	}
	return nil, nil, fmt.Errorf("unknown store driver: %s", store.Driver)
}

func (c *Container) openArchive(ctx context.Context) (output.StorageGateway, error) {
	archive := c.cfg.Archive()
	switch archive.Type {
	case "none", "":
		return nil, nil

	case "local":
		gw, err := storagegateway.NewLocalStorageGateway(c.opts.Fs, archive.BaseDir, c.opts.Clock)
		if err != nil {
			return nil, fmt.Errorf("failed to create local storage gateway: %w", err)
		}
		return gw, nil

	case "s3":
		if archive.S3Bucket == "" {
			return nil, errors.New("S3 bucket name is required for S3 storage")
		}
		gw, err := storagegateway.NewS3StorageGateway(ctx, storagegateway.S3Config{
			BucketName: archive.S3Bucket,
			Prefix:     archive.S3Prefix,
			Region:     archive.S3Region,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 storage gateway: %w", err)
		}
		return gw, nil

	case "mock":
		return storagegateway.NewMockStorageGateway(), nil
	}
	return nil, fmt.Errorf("unknown archive type: %s", archive.Type)
}

// initializeApplication initializes application layer components
func (c *Container) initializeApplication() error {
	validator, err := service.NewReportValidator()
	if err != nil {
		return err
	}
	c.validator = validator

	sig := c.cfg.Signature()
	origin := c.cfg.Server().PublicOrigin
	c.issuer = service.NewTokenIssuer(c.router, service.IssuerConfig{
		TokenTTL:     sig.TokenTTL,
		PublicOrigin: origin,
	}, c.opts.Clock, c.opts.Logger, c.metrics)

	c.resolver = service.NewSignatureResolver(c.router, c.storageGateway, sig.MaxImageBytes, c.opts.Clock, c.opts.Logger, c.metrics)
	c.poller = service.NewStatusPoller(c.router, service.PollerConfig{
		Interval:   sig.PollInterval,
		MaxBackoff: sig.PollMaxBackoff,
	}, c.opts.Clock, c.opts.Logger, c.metrics)
	c.query = service.NewInterventionQueryService(c.router, origin, c.opts.Clock)
	return nil
}

// initializeAdapters initializes adapter layer components
func (c *Container) initializeAdapters() {
	switch c.opts.OutputFormat {
	case "json":
		c.presenter = presenter.NewJSONPresenter(c.opts.OutputWriter)
	default: // "cli"
		c.presenter = presenter.NewCLIPresenter(c.opts.OutputWriter)
	}
	c.qr = presenter.NewQRPresenter(presenter.DefaultQRSize)
	c.auth = httpapi.NewAuthenticator(c.cfg.Auth().JWTSecret)
}

// Config returns the loaded configuration
func (c *Container) Config() config.Config { return c.cfg }

// Logger returns the process logger
func (c *Container) Logger() app.Logger { return c.opts.Logger }

// Clock returns the clock every service shares
func (c *Container) Clock() clock.Clock { return c.opts.Clock }

// Repository returns the dual-route intervention repository
func (c *Container) Repository() *route.Router { return c.router }

// Metrics returns the service instruments
func (c *Container) Metrics() *metrics.Metrics { return c.metrics }

// Registry returns the Prometheus registry the instruments live in
func (c *Container) Registry() *prometheus.Registry { return c.registry }

// GetStorageGateway returns the archive, nil when archiving is off
func (c *Container) GetStorageGateway() output.StorageGateway { return c.storageGateway }

func (c *Container) Validator() *service.ReportValidator { return c.validator }

func (c *Container) Issuer() *service.TokenIssuer { return c.issuer }

func (c *Container) Resolver() *service.SignatureResolver { return c.resolver }

func (c *Container) Query() *service.InterventionQueryService { return c.query }

// GetPresenter returns the presenter
func (c *Container) GetPresenter() output.Presenter { return c.presenter }

func (c *Container) QR() *presenter.QRPresenter { return c.qr }

func (c *Container) Authenticator() *httpapi.Authenticator { return c.auth }

// NewWorkflow creates a technician session. The caller closes it.
func (c *Container) NewWorkflow() *service.SignatureWorkflow {
	return service.NewSignatureWorkflow(
		c.issuer, c.poller, c.router, c.validator,
		c.cfg.Server().PublicOrigin, c.opts.Clock, c.opts.Logger, c.metrics,
	)
}

// TechnicianContext returns ctx acting as the CLI's configured technician
func (c *Container) TechnicianContext(ctx context.Context) (context.Context, error) {
	auth := c.cfg.Auth()
	if auth.CLIShopID == "" {
		return nil, errors.New("auth.cli_shop_id is not configured (set REPAIRDESK_SHOP_ID)")
	}
	return access.WithPrincipal(ctx, access.Technician(auth.CLISubject, auth.CLIShopID)), nil
}

// HTTPHandler builds the HTTP surface
func (c *Container) HTTPHandler() (http.Handler, error) {
	return httpapi.NewRouter(httpapi.Options{
		Issuer:      c.issuer,
		Validator:   c.validator,
		Signing:     c.resolver,
		Query:       c.query,
		QR:          c.qr,
		Auth:        c.auth,
		Metrics:     c.metrics,
		Gatherer:    c.registry,
		Logger:      c.opts.Logger,
		StoreName:   c.cfg.Store().Driver,
		HealthProbe: c.Ping,
		// A data URL is a third larger than the image it carries
		MaxBodyBytes: int64(c.cfg.Signature().MaxImageBytes)*4/3 + 4096,
	})
}

// Ping checks that the store answers
func (c *Container) Ping(ctx context.Context) error {
	switch {
	case c.sqlDB != nil:
		return c.sqlDB.PingContext(ctx)
	case c.pgPool != nil:
		return c.pgPool.Ping(ctx)
	}
	return nil
}

// Migrate applies the store schema. SQLite databases are migrated when
// opened; Postgres needs this once per database.
func (c *Container) Migrate(ctx context.Context) error {
	switch {
	case c.sqlDB != nil:
		return sqlite.NewMigrator(c.sqlDB).Migrate(ctx)
	case c.pgPrivileged != nil:
		return postgres.Migrate(ctx, c.pgPrivileged)
	case c.pgPool != nil:
		return postgres.Migrate(ctx, c.pgPool)
	}
	return nil
}

// Close closes all resources held by the container
func (c *Container) Close() error {
	if c.pgPrivileged != nil {
		c.pgPrivileged.Close()
	}
	if c.pgPool != nil {
		c.pgPool.Close()
	}
	if c.sqlDB != nil {
		return c.sqlDB.Close()
	}
	return nil
}
