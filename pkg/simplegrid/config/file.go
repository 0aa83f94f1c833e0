package config

import (
	"fmt"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/tendant/simple-grid/pkg/simplegrid"
)

// FileConfig is the on-disk form of the gateway options:
//
//	host: db.internal
//	port: 5432
//	database: grid
//	username: grid
//	password: secret
//	prefix: files
//	storage: grid://
//	cache_control:
//	  max_age: 3600
//	  public: true
//	schemas:
//	  document: [file, thumbnail]
type FileConfig struct {
	Host         string                   `yaml:"host" json:"host"`
	Port         int                      `yaml:"port" json:"port"`
	Database     string                   `yaml:"database" json:"database"`
	Username     string                   `yaml:"username" json:"username"`
	Password     string                   `yaml:"password" json:"password"`
	Prefix       string                   `yaml:"prefix" json:"prefix"`
	Storage      string                   `yaml:"storage" json:"storage"`
	CacheControl *simplegrid.CacheControl `yaml:"cache_control" json:"cache_control"`
	Schemas      map[string][]string      `yaml:"schemas" json:"schemas"`
}

// WithFile applies a YAML, JSON or TOML configuration file. Keys that are
// absent leave the current value alone.
func WithFile(path string) Option {
	return func(c *ServerConfig) error {
		var fc FileConfig
		if err := cleanenv.ReadConfig(path, &fc); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		return fc.apply(c)
	}
}

func (fc *FileConfig) apply(c *ServerConfig) error {
	// storage comes first so explicit connection keys win over the URL
	if fc.Storage != "" {
		if err := applyStorageURL(fc.Storage, c); err != nil {
			return err
		}
	}
	if fc.Host != "" {
		c.Host = fc.Host
	}
	if fc.Port != 0 {
		c.StorePort = fc.Port
	}
	if fc.Database != "" {
		c.Database = fc.Database
	}
	if fc.Username != "" {
		c.Username = fc.Username
	}
	if fc.Password != "" {
		c.Password = fc.Password
	}
	if fc.Prefix != "" {
		c.Prefix = strings.Trim(fc.Prefix, "/")
	}
	if cc := fc.CacheControl; cc != nil && !cacheControlEmpty(cc) {
		c.CacheControl = cc
	}
	if len(fc.Schemas) > 0 {
		c.Schemas = nil
		for _, kind := range sortedKeys(fc.Schemas) {
			c.Schemas = append(c.Schemas, SchemaConfig{Kind: kind, Slots: fc.Schemas[kind]})
		}
	}
	return nil
}

// cacheControlEmpty reports a section with no keys set, which keeps the
// current policy. cleanenv may allocate the struct even when the key is absent.
func cacheControlEmpty(cc *simplegrid.CacheControl) bool {
	return !cc.NoCache && cc.MaxAge == nil && !cc.Public && !cc.MustRevalidate && len(cc.Extras) == 0
}
