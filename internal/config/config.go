// Package config handles configuration loading for the fiscal gateway.
//
// Configuration is loaded from a YAML file with support for environment
// variable expansion (${VAR} or $VAR syntax). This allows sensitive values
// like database credentials and the API secret to be injected at runtime.
//
// # Configuration Sections
//
//   - server: HTTP server settings (port, API secret)
//   - storage: Database connection (MongoDB URI, database name)
//   - sefaz: Authority settings (environment, timeouts, sync tuning)
//   - logging: Log level and format
//
// # Example Configuration
//
//	server:
//	  port: 8080
//	  apiSecret: ${API_SECRET}
//
//	storage:
//	  mongodb:
//	    uri: ${MONGODB_URI}
//	    database: fiscal
//
//	sefaz:
//	  environment: production
//	  timeout: 60s
//
// See [Load] for loading configuration from a file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/pkg/sefaz"
)

// Config is the root configuration structure
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Sefaz   SefazConfig   `yaml:"sefaz"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port int `yaml:"port"`
	// APISecret guards every /api route; requests must present it in the
	// X-Api-Secret header.
	APISecret    string        `yaml:"apiSecret"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

// StorageConfig holds database settings
type StorageConfig struct {
	MongoDB MongoDBConfig `yaml:"mongodb"`
}

// MongoDBConfig holds MongoDB connection settings
type MongoDBConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
	GridFS   struct {
		BucketName     string `yaml:"bucketName"`
		ChunkSizeBytes int    `yaml:"chunkSizeBytes"`
	} `yaml:"gridfs"`
}

// SefazConfig holds authority protocol settings
type SefazConfig struct {
	// Environment selects production or staging endpoints.
	Environment string `yaml:"environment"`
	// Timeout applies to each SOAP exchange.
	Timeout time.Duration `yaml:"timeout"`
	// SignatureHash selects the XML signature digest, sha1 or sha256.
	// The authority still accepts both.
	SignatureHash string `yaml:"signatureHash"`
	// MaxSyncLoops caps distribution queries per sync run when the
	// request carries no budget of its own.
	MaxSyncLoops int `yaml:"maxSyncLoops"`
	// AdvanceOnEmpty moves the cursor past empty ranges.
	AdvanceOnEmpty *bool `yaml:"advanceOnEmpty"`
}

// LoggingConfig holds log output settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		// Sync runs hold the request open while paging the feed.
		c.Server.WriteTimeout = 5 * time.Minute
	}
	if c.Storage.MongoDB.Database == "" {
		c.Storage.MongoDB.Database = "fiscal"
	}
	if c.Storage.MongoDB.GridFS.BucketName == "" {
		c.Storage.MongoDB.GridFS.BucketName = "raw_documents"
	}
	if c.Storage.MongoDB.GridFS.ChunkSizeBytes == 0 {
		c.Storage.MongoDB.GridFS.ChunkSizeBytes = 261120 // 255KB
	}
	if c.Sefaz.Environment == "" {
		c.Sefaz.Environment = string(sefaz.EnvProduction)
	}
	if c.Sefaz.Timeout == 0 {
		c.Sefaz.Timeout = 60 * time.Second
	}
	if c.Sefaz.SignatureHash == "" {
		c.Sefaz.SignatureHash = "sha1"
	}
	if c.Sefaz.MaxSyncLoops == 0 {
		c.Sefaz.MaxSyncLoops = 10
	}
	if c.Sefaz.AdvanceOnEmpty == nil {
		advance := true
		c.Sefaz.AdvanceOnEmpty = &advance
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

func (c *Config) validate() error {
	if c.Storage.MongoDB.URI == "" {
		return fmt.Errorf("storage.mongodb.uri is required")
	}
	if c.Server.APISecret == "" {
		return fmt.Errorf("server.apiSecret is required")
	}
	if !sefaz.Environment(c.Sefaz.Environment).Valid() {
		return fmt.Errorf("sefaz.environment must be production or staging, got %q", c.Sefaz.Environment)
	}
	switch c.Sefaz.SignatureHash {
	case "sha1", "sha256":
	default:
		return fmt.Errorf("sefaz.signatureHash must be sha1 or sha256, got %q", c.Sefaz.SignatureHash)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}

// SefazEnvironment returns the typed authority environment.
func (c *SefazConfig) SefazEnvironment() sefaz.Environment {
	return sefaz.Environment(c.Environment)
}

// SyncOptionsAdvance reports whether the cursor advances past empty ranges.
func (c *SefazConfig) SyncOptionsAdvance() bool {
	if c.AdvanceOnEmpty == nil {
		return true
	}
	return *c.AdvanceOnEmpty
}
