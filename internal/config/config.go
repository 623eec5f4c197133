package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

var configLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	configLogger = l
}

// ErrMissingConfig is returned by Validate when a required value is absent.
var ErrMissingConfig = errors.New("missing required configuration")

const (
	BackendREST   = "rest"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"

	SaveStrategyUpsert   = "upsert"
	SaveStrategyFallback = "fallback"

	SinkDir = "dir"
	SinkS3  = "s3"

	CompressionZstd = "zstd"
	CompressionGzip = "gzip"
	CompressionNone = "none"

	RendererMmark   = "mmark"
	RendererClassic = "classic"
)

// Config represents the complete configuration structure
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Backend BackendConfig `yaml:"backend"`
	Editor  EditorConfig  `yaml:"editor"`
	Export  ExportConfig  `yaml:"export"`
	Render  RenderConfig  `yaml:"render"`
	Logging LoggingConfig `yaml:"logging"`
}

type LoggingConfig struct {
	Level string `yaml:"level" default:"info"`
}

type ServerConfig struct {
	Host string `yaml:"host" default:"0.0.0.0"`
	Port string `yaml:"port" default:"12600"`

	// Mutating actions allowed per second for one browser session.
	RateLimit float64 `yaml:"rate_limit" default:"5"`
	RateBurst int     `yaml:"rate_burst" default:"10"`

	// Browser sessions idle this long are dropped. Past MaxSessions the
	// least recently seen session is dropped first.
	SessionIdleMinutes int `yaml:"session_idle_minutes" default:"60"`
	MaxSessions        int `yaml:"max_sessions" default:"1000"`
}

func (s ServerConfig) SessionIdle() time.Duration {
	return time.Duration(s.SessionIdleMinutes) * time.Minute
}

type BackendConfig struct {
	Type  string `yaml:"type" default:"rest"`
	URL   string `yaml:"url" default:""`
	Key   string `yaml:"key" default:""`
	Table string `yaml:"table" default:"adventcalendar"`

	// Zero leaves the platform default in place.
	TimeoutSeconds int `yaml:"timeout_seconds" default:"0"`

	SQLitePath  string `yaml:"sqlite_path" default:"./texts.db"`
	Compression string `yaml:"compression" default:"zstd"`
}

func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

type EditorConfig struct {
	SaveStrategy string `yaml:"save_strategy" default:"upsert"`
}

type ExportConfig struct {
	Sink string   `yaml:"sink" default:"dir"`
	Dir  string   `yaml:"dir" default:"./export"`
	S3   S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket" default:""`
	Prefix          string `yaml:"prefix" default:"texts/"`
	Endpoint        string `yaml:"endpoint" default:""`
	Region          string `yaml:"region" default:"auto"`
	AccessKeyID     string `yaml:"access_key_id" default:""`
	SecretAccessKey string `yaml:"secret_access_key" default:""`
}

type RenderConfig struct {
	Renderer    string `yaml:"renderer" default:"mmark"`
	SyntaxTheme string `yaml:"syntax_theme" default:"gruvbox"`
}

// Load reads the YAML file at path on top of the defaults and then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	config := &Config{}

	// Apply default values first
	applyDefaults(config)

	data, err := os.ReadFile(path)
	if err != nil {
		configLogger.Info().Str("path", path).Msg("Config file not found, using defaults")
	} else if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	ApplyEnv(config)
	return config, nil
}

// envOverrides maps environment variables onto configuration fields.
func envOverrides(c *Config) map[string]*string {
	return map[string]*string{
		"TEXTS_BACKEND":       &c.Backend.Type,
		"TEXTS_BACKEND_URL":   &c.Backend.URL,
		"TEXTS_BACKEND_KEY":   &c.Backend.Key,
		"TEXTS_TABLE":         &c.Backend.Table,
		"TEXTS_SQLITE_PATH":   &c.Backend.SQLitePath,
		"TEXTS_SAVE_STRATEGY": &c.Editor.SaveStrategy,
		"TEXTS_LOG_LEVEL":     &c.Logging.Level,
		"TEXTS_HOST":          &c.Server.Host,
		"TEXTS_PORT":          &c.Server.Port,
		"TEXTS_EXPORT_SINK":   &c.Export.Sink,
		"TEXTS_EXPORT_DIR":    &c.Export.Dir,
		"TEXTS_S3_BUCKET":     &c.Export.S3.Bucket,
		"TEXTS_S3_PREFIX":     &c.Export.S3.Prefix,
		"TEXTS_S3_ENDPOINT":   &c.Export.S3.Endpoint,
		"TEXTS_S3_REGION":     &c.Export.S3.Region,
		"TEXTS_S3_ACCESS_KEY": &c.Export.S3.AccessKeyID,
		"TEXTS_S3_SECRET_KEY": &c.Export.S3.SecretAccessKey,
		"TEXTS_RENDERER":      &c.Render.Renderer,
		"TEXTS_SYNTAX_THEME":  &c.Render.SyntaxTheme,
	}
}

// ApplyEnv overrides fields with any non-empty environment variable.
func ApplyEnv(c *Config) {
	for name, field := range envOverrides(c) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*field = v
		}
	}
}

// Validate fails fast on configurations that would otherwise run with
// empty credentials or unknown settings.
func (c *Config) Validate() error {
	switch c.Backend.Type {
	case BackendREST:
		if c.Backend.URL == "" {
			return fmt.Errorf("%w: backend url (TEXTS_BACKEND_URL)", ErrMissingConfig)
		}
		if c.Backend.Key == "" {
			return fmt.Errorf("%w: backend key (TEXTS_BACKEND_KEY)", ErrMissingConfig)
		}
		if c.Backend.Table == "" {
			return fmt.Errorf("%w: backend table", ErrMissingConfig)
		}
	case BackendSQLite:
		if c.Backend.SQLitePath == "" {
			return fmt.Errorf("%w: sqlite path", ErrMissingConfig)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown backend type %q", c.Backend.Type)
	}

	switch c.Backend.Compression {
	case "", CompressionZstd, CompressionGzip, CompressionNone:
	default:
		return fmt.Errorf("unknown compression %q", c.Backend.Compression)
	}

	if c.Server.SessionIdleMinutes <= 0 || c.Server.MaxSessions <= 0 {
		return fmt.Errorf("session limits must be positive, got %d minutes and %d sessions",
			c.Server.SessionIdleMinutes, c.Server.MaxSessions)
	}

	switch c.Editor.SaveStrategy {
	case SaveStrategyUpsert, SaveStrategyFallback:
	default:
		return fmt.Errorf("unknown save strategy %q", c.Editor.SaveStrategy)
	}

	switch c.Export.Sink {
	case SinkDir:
	case SinkS3:
		if c.Export.S3.Bucket == "" {
			return fmt.Errorf("%w: s3 bucket (TEXTS_S3_BUCKET)", ErrMissingConfig)
		}
	default:
		return fmt.Errorf("unknown export sink %q", c.Export.Sink)
	}

	switch c.Render.Renderer {
	case RendererMmark, RendererClassic:
	default:
		return fmt.Errorf("unknown renderer %q", c.Render.Renderer)
	}

	return nil
}

func ApplyDefaults(config interface{}) {
	applyDefaults(config)
}

func applyDefaults(config interface{}) {
	v := reflect.ValueOf(config)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	if v.Kind() != reflect.Struct {
		return
	}

	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.IsValid() || !field.CanSet() {
			continue
		}

		// Recursively apply defaults to nested structs
		if field.Kind() == reflect.Struct {
			applyDefaults(field.Addr().Interface())
			continue
		}

		defaultValue := fieldType.Tag.Get("default")
		if defaultValue == "" {
			continue
		}

		switch field.Kind() {
		case reflect.String:
			field.SetString(defaultValue)
		case reflect.Bool:
			if val, err := strconv.ParseBool(defaultValue); err == nil {
				field.SetBool(val)
			}
		case reflect.Int:
			if val, err := strconv.ParseInt(defaultValue, 10, 64); err == nil {
				field.SetInt(val)
			}
		case reflect.Float64:
			if val, err := strconv.ParseFloat(defaultValue, 64); err == nil {
				field.SetFloat(val)
			}
		case reflect.Slice:
			if field.Len() == 0 && field.Type().Elem().Kind() == reflect.String {
				parts := strings.Split(defaultValue, ",")
				slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
				for j, part := range parts {
					slice.Index(j).SetString(strings.TrimSpace(part))
				}
				field.Set(slice)
			}
		default:
			configLogger.Warn().
				Str("field_name", fieldType.Name).
				Str("field_type", field.Kind().String()).
				Msg("Unsupported field type for default value")
		}
	}
}
