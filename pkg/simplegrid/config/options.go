package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tendant/simple-grid/pkg/simplegrid"
	s3storage "github.com/tendant/simple-grid/pkg/simplegrid/storage/s3"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithPrefix sets the gateway path prefix
func WithPrefix(prefix string) Option {
	return func(c *ServerConfig) error {
		c.Prefix = strings.Trim(prefix, "/")
		return nil
	}
}

// WithCacheControl sets the gateway cache policy; nil restores the default
func WithCacheControl(cc *simplegrid.CacheControl) Option {
	return func(c *ServerConfig) error {
		c.CacheControl = cc
		return nil
	}
}

// WithGridStorage selects the Postgres grid store
func WithGridStorage(host string, port int, database, username, password string) Option {
	return func(c *ServerConfig) error {
		c.StorageType = StorageGrid
		if host != "" {
			c.Host = host
		}
		if port != 0 {
			c.StorePort = port
		}
		if database != "" {
			c.Database = database
		}
		c.Username = username
		c.Password = password
		return nil
	}
}

// WithMemoryStorage selects the in-memory store
func WithMemoryStorage() Option {
	return func(c *ServerConfig) error {
		c.StorageType = StorageMemory
		return nil
	}
}

// WithFilesystemStorage selects the filesystem store
func WithFilesystemStorage(baseDir string) Option {
	return func(c *ServerConfig) error {
		if baseDir == "" {
			return fmt.Errorf("filesystem base directory cannot be empty")
		}
		c.StorageType = StorageFS
		c.FSBaseDir = baseDir
		return nil
	}
}

// WithS3Storage selects the S3 store
func WithS3Storage(s3Config s3storage.Config) Option {
	return func(c *ServerConfig) error {
		if s3Config.Bucket == "" {
			return fmt.Errorf("s3 bucket cannot be empty")
		}
		c.StorageType = StorageS3
		c.S3 = s3Config
		return nil
	}
}

// WithSQLiteStorage selects the single-file store
func WithSQLiteStorage(path string) Option {
	return func(c *ServerConfig) error {
		if path == "" {
			return fmt.Errorf("sqlite path cannot be empty")
		}
		c.StorageType = StorageSQLite
		c.SQLitePath = path
		return nil
	}
}

// WithConnectTimeout bounds the blob store dial
func WithConnectTimeout(d time.Duration) Option {
	return func(c *ServerConfig) error {
		c.ConnectTimeout = d
		return nil
	}
}

// WithDatabase configures the documents repository
func WithDatabase(dbType, url string) Option {
	return func(c *ServerConfig) error {
		if dbType != "memory" && dbType != "postgres" {
			return fmt.Errorf("database type must be 'memory' or 'postgres', got: %s", dbType)
		}
		if dbType == "postgres" && url == "" {
			return fmt.Errorf("database URL is required for postgres")
		}
		c.DatabaseType = dbType
		c.DatabaseURL = url
		return nil
	}
}

// WithDocumentSchema declares, or replaces, the slots of a document kind
func WithDocumentSchema(kind string, slots ...string) Option {
	return func(c *ServerConfig) error {
		for i := range c.Schemas {
			if c.Schemas[i].Kind == kind {
				c.Schemas[i].Slots = slots
				return nil
			}
		}
		c.Schemas = append(c.Schemas, SchemaConfig{Kind: kind, Slots: slots})
		return nil
	}
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
