// Package config loads the optional genretree TOML configuration file.
//
// A config file sets defaults for the build command; explicit command-line
// flags always win. Secrets never live in the file: the Neo4j password is
// read from NEO4J_PASSWORD.
//
//	roots = ["pop", "rock"]
//	top_k = 300
//	format = "json"
//	workers = 4
//
//	[cache]
//	url = "redis://localhost:6379/0"
//	backend = "badger"    # local cache when url is empty: file or badger
//
//	[mongo]
//	uri = "mongodb://localhost:27017"
//	database = "genretree"
//	collection = "trees"
//
//	[neo4j]
//	uri = "neo4j://localhost:7687"
//	username = "neo4j"
//
//	[trace]
//	file = "genretree-trace.json"
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"

	gterrors "github.com/matzehuels/genretree/pkg/errors"
	"github.com/matzehuels/genretree/pkg/export"
)

// FileName is the config file looked up in the working directory.
const FileName = "genretree.toml"

// EnvNeo4jPassword holds the Neo4j password.
const EnvNeo4jPassword = "NEO4J_PASSWORD"

// Config mirrors the config file.
type Config struct {
	Roots   []string `toml:"roots"`
	TopK    int      `toml:"top_k"`
	Format  string   `toml:"format"`
	Output  string   `toml:"output"`
	Workers int      `toml:"workers" validate:"gte=0,lte=1024"`

	Cache   Cache   `toml:"cache"`
	Mongo   Mongo   `toml:"mongo"`
	Neo4j   Neo4j   `toml:"neo4j"`
	Metrics Metrics `toml:"metrics"`
	Trace   Trace   `toml:"trace"`

	// Path is the file the config was read from, empty for defaults.
	Path string `toml:"-"`
}

// Cache selects the cache backend.
type Cache struct {
	// URL selects Redis (redis:// or rediss://). Empty means a local cache.
	URL string `toml:"url"`

	// Backend picks the local cache: "file" (default) or "badger".
	Backend  string   `toml:"backend" validate:"omitempty,oneof=file badger"`
	Dir      string   `toml:"dir"`
	Disabled bool     `toml:"disabled"`
	TTL      Duration `toml:"ttl"`
}

// Mongo configures the MongoDB sink. An empty URI disables it.
type Mongo struct {
	URI        string `toml:"uri"`
	Database   string `toml:"database" validate:"excludesall=/.$"`
	Collection string `toml:"collection" validate:"excludes=$"`
}

// Neo4j configures the Neo4j sink. An empty URI disables it.
type Neo4j struct {
	URI      string `toml:"uri"`
	Username string `toml:"username"`
	Database string `toml:"database"`
}

// Metrics configures the Prometheus textfile.
type Metrics struct {
	File string `toml:"file"`
}

// Trace configures the OpenTelemetry span file.
type Trace struct {
	File string `toml:"file"`
}

// Duration is a time.Duration written as a Go duration string ("168h").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Load reads and validates the config file at path. Unknown keys are
// rejected so typos do not go unnoticed.
func Load(path string) (*Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if errors.Is(err, os.ErrNotExist) {
		return nil, gterrors.Wrap(gterrors.ErrCodeFileNotFound, err, "config file %s", path)
	}
	if err != nil {
		return nil, gterrors.Wrap(gterrors.ErrCodeInvalidConfig, err, "parse %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, gterrors.New(gterrors.ErrCodeInvalidConfig, "%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.Path = path
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Find loads path if set, otherwise FileName from the working directory or
// the user config directory. No file found yields an empty config.
func Find(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	for _, candidate := range candidates() {
		if _, err := os.Stat(candidate); err == nil {
			return Load(candidate)
		}
	}
	return &Config{}, nil
}

func candidates() []string {
	out := []string{FileName}
	if dir, err := os.UserConfigDir(); err == nil {
		out = append(out, filepath.Join(dir, "genretree", "config.toml"))
	}
	return out
}

// validate checks the struct tags. Field names in messages are the
// config file keys.
var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}()

// Validate checks field values. Empty fields are valid and mean "default".
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return validationError(err)
	}
	if c.Cache.TTL.Duration < 0 {
		return gterrors.New(gterrors.ErrCodeInvalidConfig, "cache.ttl must not be negative (got %s)", c.Cache.TTL.Duration)
	}
	if err := gterrors.ValidateTopK(c.TopK); err != nil {
		return err
	}
	for _, r := range c.Roots {
		if err := gterrors.ValidateGenreName(r); err != nil {
			return gterrors.Wrap(gterrors.ErrCodeInvalidConfig, err, "roots")
		}
	}
	if c.Format != "" {
		if err := export.ValidateFormat(c.Format); err != nil {
			return err
		}
	}
	if c.Cache.URL != "" {
		if err := gterrors.ValidateURI(c.Cache.URL, "redis", "rediss"); err != nil {
			return err
		}
	}
	if c.Mongo.URI != "" {
		if err := gterrors.ValidateURI(c.Mongo.URI, "mongodb", "mongodb+srv"); err != nil {
			return err
		}
	}
	if c.Neo4j.URI != "" {
		if err := gterrors.ValidateURI(c.Neo4j.URI, "neo4j", "neo4j+s", "neo4j+ssc", "bolt", "bolt+s", "bolt+ssc"); err != nil {
			return err
		}
	}
	return nil
}

// validationError turns validator output into a single config error.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return gterrors.Wrap(gterrors.ErrCodeInvalidConfig, err, "validate config")
	}
	msgs := make([]string, len(fieldErrs))
	for i, fe := range fieldErrs {
		key := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs[i] = fmt.Sprintf("%s: must satisfy %s=%s (got %v)", key, fe.Tag(), fe.Param(), fe.Value())
		} else {
			msgs[i] = fmt.Sprintf("%s: must satisfy %s (got %v)", key, fe.Tag(), fe.Value())
		}
	}
	return gterrors.New(gterrors.ErrCodeInvalidConfig, "%s", strings.Join(msgs, "; "))
}

// Neo4jPassword returns the Neo4j password from the environment.
func Neo4jPassword() string {
	return os.Getenv(EnvNeo4jPassword)
}
