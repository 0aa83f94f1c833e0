package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-grid/pkg/simplegrid"
	"github.com/tendant/simple-grid/pkg/simplegrid/repo/memory"
	repopg "github.com/tendant/simple-grid/pkg/simplegrid/repo/postgres"
	fsstorage "github.com/tendant/simple-grid/pkg/simplegrid/storage/fs"
	memorystorage "github.com/tendant/simple-grid/pkg/simplegrid/storage/memory"
	gridstorage "github.com/tendant/simple-grid/pkg/simplegrid/storage/postgres"
	s3storage "github.com/tendant/simple-grid/pkg/simplegrid/storage/s3"
	sqlitestorage "github.com/tendant/simple-grid/pkg/simplegrid/storage/sqlite"
)

// Storage types
const (
	StorageGrid   = "grid"
	StorageMemory = "memory"
	StorageFS     = "fs"
	StorageS3     = "s3"
	StorageSQLite = "sqlite"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:           "8080",
		Environment:    "development",
		Prefix:         "grid",
		StorageType:    StorageGrid,
		Host:           "localhost",
		StorePort:      gridstorage.DefaultPort,
		Database:       "grid",
		ConnectTimeout: simplegrid.DefaultConnectTimeout,
		FSBaseDir:      "./data/grid",
		SQLitePath:     "./data/grid.db",
		DatabaseType:   "memory",
		Schemas: []SchemaConfig{
			{Kind: "document", Slots: []string{"file", "thumbnail"}},
		},
	}
}

// ServerConfig represents configuration for the grid server
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing

	// Gateway
	Prefix       string
	CacheControl *simplegrid.CacheControl // nil selects simplegrid.DefaultCacheControl

	// Blob store
	StorageType    string // grid, memory, fs, s3, sqlite
	Host           string
	StorePort      int
	Database       string
	Username       string
	Password       string
	StoreSchema    string // Postgres search_path for the grid tables
	ConnectTimeout time.Duration
	FSBaseDir      string
	SQLitePath     string
	S3             s3storage.Config

	// Document persistence
	DatabaseURL  string
	DatabaseType string // "memory", "postgres"
	DBSchema     string

	Schemas []SchemaConfig
}

// SchemaConfig declares the attachment slots of one document kind
type SchemaConfig struct {
	Kind  string
	Slots []string
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	if c.Prefix == "" || strings.Contains(c.Prefix, "/") {
		return fmt.Errorf("prefix must be a single non-empty path segment, got %q", c.Prefix)
	}

	if c.CacheControl != nil && c.CacheControl.MaxAge != nil && *c.CacheControl.MaxAge < 0 {
		return errors.New("cache_control max_age cannot be negative")
	}

	if c.ConnectTimeout <= 0 {
		return errors.New("connect timeout must be positive")
	}

	switch c.StorageType {
	case StorageGrid:
		if c.Host == "" {
			return errors.New("host is required for grid storage")
		}
		if c.StorePort <= 0 || c.StorePort > 65535 {
			return fmt.Errorf("invalid grid store port %d", c.StorePort)
		}
		if c.Database == "" {
			return errors.New("database is required for grid storage")
		}
	case StorageMemory:
	case StorageFS:
		if c.FSBaseDir == "" {
			return errors.New("filesystem base directory is required")
		}
	case StorageS3:
		if c.S3.Bucket == "" {
			return errors.New("s3 bucket is required")
		}
	case StorageSQLite:
		if c.SQLitePath == "" {
			return errors.New("sqlite path is required")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", c.StorageType)
	}

	if c.DatabaseType != "memory" && c.DatabaseType != "postgres" {
		return errors.New("database_type must be 'memory' or 'postgres'")
	}

	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}

	if _, err := c.BuildSchemas(); err != nil {
		return err
	}

	return nil
}

// GridConfig returns the connection settings of the grid store
func (c *ServerConfig) GridConfig() gridstorage.Config {
	return gridstorage.Config{
		Host:     c.Host,
		Port:     c.StorePort,
		Database: c.Database,
		Username: c.Username,
		Password: c.Password,
		Schema:   c.StoreSchema,
	}
}

// BuildBlobStore creates the configured blob store. The backend is dialed on
// first use, bounded by ConnectTimeout.
func (c *ServerConfig) BuildBlobStore() *simplegrid.LazyStore {
	return simplegrid.NewLazyStore(c.dialer(), c.ConnectTimeout)
}

func (c *ServerConfig) dialer() simplegrid.Dialer {
	switch c.StorageType {
	case StorageMemory:
		return func(ctx context.Context) (simplegrid.BlobStore, error) {
			return memorystorage.New(), nil
		}

	case StorageFS:
		fsConfig := fsstorage.Config{BaseDir: c.FSBaseDir}
		return func(ctx context.Context) (simplegrid.BlobStore, error) {
			return fsstorage.New(fsConfig)
		}

	case StorageS3:
		s3Config := c.S3
		return func(ctx context.Context) (simplegrid.BlobStore, error) {
			return s3storage.New(ctx, s3Config)
		}

	case StorageSQLite:
		path := c.SQLitePath
		return func(ctx context.Context) (simplegrid.BlobStore, error) {
			return sqlitestorage.Open(ctx, path)
		}

	default:
		gridConfig := c.GridConfig()
		return func(ctx context.Context) (simplegrid.BlobStore, error) {
			backend, err := gridstorage.Dial(ctx, gridConfig)
			if err != nil {
				return nil, err
			}
			if err := backend.EnsureSchema(ctx); err != nil {
				backend.Close()
				return nil, err
			}
			return backend, nil
		}
	}
}

// BuildSchemas creates the attachment schemas of the configured document kinds
func (c *ServerConfig) BuildSchemas() ([]*simplegrid.Schema, error) {
	seen := make(map[string]bool, len(c.Schemas))
	schemas := make([]*simplegrid.Schema, 0, len(c.Schemas))
	for _, sc := range c.Schemas {
		if seen[sc.Kind] {
			return nil, fmt.Errorf("document kind %q declared twice", sc.Kind)
		}
		seen[sc.Kind] = true
		schema, err := simplegrid.NewSchema(sc.Kind, sc.Slots...)
		if err != nil {
			return nil, fmt.Errorf("invalid schema for kind %q: %w", sc.Kind, err)
		}
		schemas = append(schemas, schema)
	}
	return schemas, nil
}

// BuildService creates a documents Service writing attachments to store
func (c *ServerConfig) BuildService(ctx context.Context, store simplegrid.BlobStore, logger *slog.Logger) (simplegrid.Service, error) {
	repo, err := c.buildRepository(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}

	schemas, err := c.BuildSchemas()
	if err != nil {
		return nil, err
	}

	options := []simplegrid.Option{
		simplegrid.WithRepository(repo),
		simplegrid.WithBlobStore(store),
	}
	for _, schema := range schemas {
		options = append(options, simplegrid.WithSchema(schema))
	}
	if logger != nil {
		options = append(options, simplegrid.WithLogger(logger))
	}

	return simplegrid.New(options...)
}

// buildRepository creates a Repository based on the configuration
func (c *ServerConfig) buildRepository(ctx context.Context) (simplegrid.Repository, error) {
	switch c.DatabaseType {
	case "memory":
		return memory.New(), nil
	case "postgres":
		if c.DatabaseURL == "" {
			return nil, errors.New("database_url is required for postgres")
		}
		cfg, err := pgxpool.ParseConfig(c.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		if schema := c.DBSchema; schema != "" {
			cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
				_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
				return err
			}
		}
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create pgx pool: %w", err)
		}
		repo := repopg.NewWithPool(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to create documents schema: %w", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}
