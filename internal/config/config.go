package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	SourceHTTP     = "http"
	SourcePostgres = "postgres"
	SourceMongo    = "mongo"

	DefaultTokenEnv = "TABLESCOPE_TOKEN"
	DefaultTimeout  = 15 * time.Second
	DefaultPageSize = 50
	maxPageSize     = 1000
)

// SourceConfig selects where records come from: the REST backend or a
// database read directly.
type SourceConfig struct {
	Type     string        `yaml:"type"`
	BaseURL  string        `yaml:"base_url,omitempty"`
	Token    string        `yaml:"token,omitempty"`
	TokenEnv string        `yaml:"token_env,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
	PageSize int           `yaml:"page_size,omitempty"`
}

type DatabaseConfig struct {
	Type         string `yaml:"type"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Database     string `yaml:"database"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	SSLMode      string `yaml:"sslmode"`
	URI          string `yaml:"uri"`
	AuthDatabase string `yaml:"auth_database"`
	// Schema limits the postgres source to one schema; public by default.
	Schema       string `yaml:"schema,omitempty"`
}

type Config struct {
	Source   SourceConfig   `yaml:"source"`
	Database DatabaseConfig `yaml:"database,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.Normalize()
	return cfg
}

func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.Normalize()
	return &config, nil
}

// Normalize fills defaults and canonical source names the way LoadConfig does.
func (c *Config) Normalize() {
	hasDatabase := c.Database != (DatabaseConfig{})
	if hasDatabase {
		c.Database.Type = normalizeDatabaseType(c.Database.Type)
	}

	c.Source.Type = strings.ToLower(strings.TrimSpace(c.Source.Type))
	switch c.Source.Type {
	case "":
		if c.Source.BaseURL == "" && hasDatabase {
			c.Source.Type = c.Database.Type
		} else {
			c.Source.Type = SourceHTTP
		}
	case "postgresql":
		c.Source.Type = SourcePostgres
	case "mongodb":
		c.Source.Type = SourceMongo
	case "https", "rest":
		c.Source.Type = SourceHTTP
	}

	if c.Source.Type != SourceHTTP && !hasDatabase {
		c.Database.Type = c.Source.Type
	}

	if c.Database.Type == "postgres" && c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.Type == "postgres" && c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.Type == "mongo" && c.Database.Port == 0 {
		c.Database.Port = 27017
	}

	if c.Source.TokenEnv == "" {
		c.Source.TokenEnv = DefaultTokenEnv
	}
	if c.Source.Timeout <= 0 {
		c.Source.Timeout = DefaultTimeout
	}
	if c.Source.PageSize <= 0 {
		c.Source.PageSize = DefaultPageSize
	}
	if c.Source.PageSize > maxPageSize {
		c.Source.PageSize = maxPageSize
	}
}

// Validate reports settings the selected source cannot work without.
func (c *Config) Validate() error {
	switch c.Source.Type {
	case SourceHTTP:
		if strings.TrimSpace(c.Source.BaseURL) == "" {
			return errors.New("source.base_url is required for the http source")
		}
	case SourcePostgres:
		if c.Database.Host == "" || c.Database.Database == "" {
			return errors.New("database.host and database.database are required for the postgres source")
		}
	case SourceMongo:
		if c.Database.URI == "" && c.Database.Host == "" {
			return errors.New("database.uri or database.host is required for the mongo source")
		}
		if c.Database.Database == "" {
			return errors.New("database.database is required for the mongo source")
		}
	default:
		return fmt.Errorf("unsupported source type %q", c.Source.Type)
	}
	return nil
}

// Token returns the bearer token: the literal value when set, otherwise the
// content of the configured environment variable.
func (c *Config) Token() string {
	if token := strings.TrimSpace(c.Source.Token); token != "" {
		return token
	}
	return strings.TrimSpace(os.Getenv(c.Source.TokenEnv))
}

// LoadEnv reads .env style files into the process environment. Missing files
// are ignored and variables already set win.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

func (c *Config) GetConnectionString() string {
	if c.Database.Type != "" && c.Database.Type != "postgres" {
		return ""
	}

	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.Username,
		c.Database.Password,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

func (c *Config) GetMongoURI() string {
	if c.Database.URI != "" {
		return c.Database.URI
	}

	host := c.Database.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Database.Port
	if port == 0 {
		port = 27017
	}

	var credentials string
	if c.Database.Username != "" {
		credentials = url.QueryEscape(c.Database.Username)
		if c.Database.Password != "" {
			credentials = fmt.Sprintf("%s:%s", credentials, url.QueryEscape(c.Database.Password))
		}
		credentials += "@"
	}

	targetDatabase := strings.TrimSpace(c.Database.Database)
	if targetDatabase != "" {
		targetDatabase = "/" + targetDatabase
	}

	uri := fmt.Sprintf("mongodb://%s%s:%d%s", credentials, host, port, targetDatabase)

	if c.Database.AuthDatabase != "" {
		uri = fmt.Sprintf("%s?authSource=%s", uri, url.QueryEscape(c.Database.AuthDatabase))
	}

	return uri
}

func normalizeDatabaseType(dbType string) string {
	dbType = strings.ToLower(strings.TrimSpace(dbType))
	if dbType == "" {
		return "postgres"
	}

	switch dbType {
	case "postgres", "postgresql":
		return "postgres"
	case "mongo", "mongodb":
		return "mongo"
	default:
		return dbType
	}
}
