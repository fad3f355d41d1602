// Package config loads the objenc command configuration from a YAML or
// JSONC file.
//
// The file is chosen by the --config flag or, when that is empty, by the
// OBJENC_CONFIG environment variable. Without either, Default is used.
// Files ending in .json or .jsonc are read as JSON with comments and
// trailing commas; everything else as YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/RobertWHurst/objenc"
)

// EnvVar names the environment variable holding the config file path.
const EnvVar = "OBJENC_CONFIG"

// Formats lists the accepted values of Config.Format.
var Formats = []string{"json", "msgpack", "cbor", "protobuf"}

// Config is the full command configuration.
type Config struct {
	Encoder Encoder `yaml:"encoder" json:"encoder"`
	Format  string  `yaml:"format" json:"format"`
	NATS    NATS    `yaml:"nats" json:"nats"`
	Store   Store   `yaml:"store" json:"store"`
	Log     Log     `yaml:"log" json:"log"`
}

// Encoder configures the ObjectEncoder.
type Encoder struct {
	Indent            string   `yaml:"indent" json:"indent"`
	SortKeys          bool     `yaml:"sort_keys" json:"sort_keys"`
	EscapeHTML        *bool    `yaml:"escape_html" json:"escape_html"`
	MaxDepth          int      `yaml:"max_depth" json:"max_depth"`
	TimeLocation      string   `yaml:"time_location" json:"time_location"`
	SuppressKinds     []string `yaml:"suppress_kinds" json:"suppress_kinds"`
	DatastorePackages []string `yaml:"datastore_packages" json:"datastore_packages"`
}

// NATS configures publishing.
type NATS struct {
	URL     string `yaml:"url" json:"url"`
	Service string `yaml:"service" json:"service"`
	Subject string `yaml:"subject" json:"subject"`
}

// Store configures the document store.
type Store struct {
	Path       string `yaml:"path" json:"path"`
	Collection string `yaml:"collection" json:"collection"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// Log configures logging.
type Log struct {
	Level string `yaml:"level" json:"level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Encoder: Encoder{MaxDepth: objenc.DefaultMaxDepth},
		Format:  "json",
		NATS:    NATS{Service: "documents", Subject: "created"},
		Store:   Store{Collection: "documents"},
		Log:     Log{Level: "info"},
	}
}

// Load reads the file at path, or the file named by EnvVar when path is
// empty. With neither it returns Default.
func Load(path string) (Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads and validates the file at path.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data over Default and validates the result. ext selects
// the syntax: ".json" and ".jsonc" are JSONC, anything else YAML.
func Parse(data []byte, ext string) (Config, error) {
	cfg := Default()
	switch strings.ToLower(ext) {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.Encoder.MaxDepth < 0 {
		errs = append(errs, fmt.Errorf("encoder.max_depth must not be negative, got %d", c.Encoder.MaxDepth))
	}
	if c.Encoder.TimeLocation != "" {
		if _, err := time.LoadLocation(c.Encoder.TimeLocation); err != nil {
			errs = append(errs, fmt.Errorf("encoder.time_location: %w", err))
		}
	}
	for _, name := range c.Encoder.SuppressKinds {
		if _, ok := kindsByName[name]; !ok {
			errs = append(errs, fmt.Errorf("encoder.suppress_kinds: unknown kind %q", name))
		}
	}
	if !contains(Formats, c.Format) {
		errs = append(errs, fmt.Errorf("format must be one of %s, got %q", strings.Join(Formats, ", "), c.Format))
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Store.Path != "" && c.Store.Collection == "" {
		errs = append(errs, errors.New("store.collection is required when store.path is set"))
	}
	return errors.Join(errs...)
}

// EncoderOptions converts the encoder section into ObjectEncoder options.
func (c Config) EncoderOptions() ([]objenc.Option, error) {
	e := c.Encoder
	opts := []objenc.Option{
		objenc.WithMaxDepth(e.MaxDepth),
		objenc.WithSortKeys(e.SortKeys),
	}
	if e.Indent != "" {
		opts = append(opts, objenc.WithIndent("", e.Indent))
	}
	if e.EscapeHTML != nil {
		opts = append(opts, objenc.WithEscapeHTML(*e.EscapeHTML))
	}
	if e.TimeLocation != "" {
		loc, err := time.LoadLocation(e.TimeLocation)
		if err != nil {
			return nil, err
		}
		opts = append(opts, objenc.WithTimeLocation(loc))
	}
	if len(e.SuppressKinds) > 0 {
		kinds := make([]reflect.Kind, 0, len(e.SuppressKinds))
		for _, name := range e.SuppressKinds {
			kind, ok := kindsByName[name]
			if !ok {
				return nil, fmt.Errorf("unknown kind %q", name)
			}
			kinds = append(kinds, kind)
		}
		opts = append(opts, objenc.WithSuppressedKinds(kinds...))
	}
	if e.DatastorePackages != nil {
		opts = append(opts, objenc.WithDatastorePackages(e.DatastorePackages...))
	}
	return opts, nil
}

// LogLevel returns the parsed log level.
func (c Config) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

var kindsByName = func() map[string]reflect.Kind {
	m := make(map[string]reflect.Kind)
	for k := reflect.Bool; k <= reflect.UnsafePointer; k++ {
		m[k.String()] = k
	}
	return m
}()

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
