// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads credkeep's runtime configuration.
//
// Sources are layered with koanf, later sources winning:
//
//  1. built-in defaults
//  2. a YAML file (validated against the generated JSON Schema)
//  3. a .env file, loaded into the process environment with godotenv
//  4. CREDKEEP_* environment variables (CREDKEEP_JWT_SECRET sets jwt-secret)
//  5. command-line flags that were explicitly set
//
// DATABASE_URL is honoured when database-url is unset.
package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/credkeep/internal/auth"
	"github.com/holomush/credkeep/internal/logging"
)

// EnvPrefix is stripped from environment variable names.
const EnvPrefix = "CREDKEEP_"

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config is the full runtime configuration. Keys are kebab-case in every
// source.
type Config struct {
	HTTPAddr           string        `koanf:"http-addr" jsonschema:"description=HTTP API listen address"`
	GRPCAddr           string        `koanf:"grpc-addr" jsonschema:"description=gRPC listen address; empty disables gRPC"`
	GRPCTLSDir         string        `koanf:"grpc-tls-dir" jsonschema:"description=Directory holding root-ca.crt and grpc.crt/.key; empty serves plaintext"`
	MetricsAddr        string        `koanf:"metrics-addr" jsonschema:"description=Metrics and health probe address; empty disables it"`
	LogFormat          string        `koanf:"log-format" jsonschema:"enum=json,enum=text"`
	LogLevel           string        `koanf:"log-level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Store              string        `koanf:"store" jsonschema:"enum=postgres,enum=memory"`
	DatabaseURL        string        `koanf:"database-url" jsonschema:"description=PostgreSQL connection URL"`
	AutoMigrate        bool          `koanf:"auto-migrate" jsonschema:"description=Apply pending migrations at startup"`
	DBConnectTimeout   time.Duration `koanf:"db-connect-timeout" jsonschema:"type=string,pattern=^([0-9]+(\\.[0-9]+)?(ns|us|ms|s|m|h))+$"`
	JWTSecret          string        `koanf:"jwt-secret" jsonschema:"description=Access token signing secret, at least 32 bytes"`
	JWTRefreshSecret   string        `koanf:"jwt-refresh-secret" jsonschema:"description=Refresh token signing secret, at least 32 bytes"`
	JWTExpiresIn       time.Duration `koanf:"jwt-expires-in" jsonschema:"type=string,pattern=^([0-9]+(\\.[0-9]+)?(ns|us|ms|s|m|h))+$"`
	JWTRefreshExpires  time.Duration `koanf:"jwt-refresh-expires-in" jsonschema:"type=string,pattern=^([0-9]+(\\.[0-9]+)?(ns|us|ms|s|m|h))+$"`
	JWTIssuer          string        `koanf:"jwt-issuer"`
	ResetTokenTTL      time.Duration `koanf:"reset-token-ttl" jsonschema:"type=string,pattern=^([0-9]+(\\.[0-9]+)?(ns|us|ms|s|m|h))+$"`
	PasswordMinEntropy float64       `koanf:"password-min-entropy" jsonschema:"minimum=0"`
	CORSAllowedOrigins []string      `koanf:"cors-allowed-origins" jsonschema:"description=Exact origins or globs such as https://*.example.com"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		HTTPAddr:           ":8080",
		MetricsAddr:        "127.0.0.1:9100",
		LogFormat:          "json",
		LogLevel:           "info",
		Store:              StorePostgres,
		DBConnectTimeout:   30 * time.Second,
		JWTExpiresIn:       auth.DefaultAccessTokenTTL,
		JWTRefreshExpires:  auth.DefaultRefreshTokenTTL,
		JWTIssuer:          "credkeep",
		ResetTokenTTL:      auth.ResetTokenExpiry,
		PasswordMinEntropy: auth.DefaultPasswordPolicy().MinEntropyBits,
	}
}

// defaultMap flattens Defaults into koanf keys.
func defaultMap() map[string]any {
	d := Defaults()
	return map[string]any{
		"http-addr":              d.HTTPAddr,
		"grpc-addr":              d.GRPCAddr,
		"grpc-tls-dir":           d.GRPCTLSDir,
		"metrics-addr":           d.MetricsAddr,
		"log-format":             d.LogFormat,
		"log-level":              d.LogLevel,
		"store":                  d.Store,
		"database-url":           d.DatabaseURL,
		"auto-migrate":           d.AutoMigrate,
		"db-connect-timeout":     d.DBConnectTimeout,
		"jwt-secret":             d.JWTSecret,
		"jwt-refresh-secret":     d.JWTRefreshSecret,
		"jwt-expires-in":         d.JWTExpiresIn,
		"jwt-refresh-expires-in": d.JWTRefreshExpires,
		"jwt-issuer":             d.JWTIssuer,
		"reset-token-ttl":        d.ResetTokenTTL,
		"password-min-entropy":   d.PasswordMinEntropy,
		"cors-allowed-origins":   d.CORSAllowedOrigins,
	}
}

// RegisterFlags adds one flag per key to fs, using the defaults as flag
// defaults. Secrets have no flags so they never appear in process listings.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Defaults()
	fs.String("http-addr", d.HTTPAddr, "HTTP API listen address")
	fs.String("grpc-addr", d.GRPCAddr, "gRPC listen address (empty = disabled)")
	fs.String("grpc-tls-dir", d.GRPCTLSDir, "gRPC TLS certificate directory (empty = plaintext)")
	fs.String("metrics-addr", d.MetricsAddr, "metrics/health HTTP address (empty = disabled)")
	fs.String("log-format", d.LogFormat, "log format (json or text)")
	fs.String("log-level", d.LogLevel, "log level (debug, info, warn, error)")
	fs.String("store", d.Store, "user store (postgres or memory)")
	fs.Bool("auto-migrate", d.AutoMigrate, "apply pending migrations at startup")
	fs.Duration("db-connect-timeout", d.DBConnectTimeout, "how long to wait for the database at startup")
	fs.Duration("jwt-expires-in", d.JWTExpiresIn, "access token lifetime")
	fs.Duration("jwt-refresh-expires-in", d.JWTRefreshExpires, "refresh token lifetime")
	fs.String("jwt-issuer", d.JWTIssuer, "token issuer claim")
	fs.Duration("reset-token-ttl", d.ResetTokenTTL, "password reset token lifetime")
	fs.Float64("password-min-entropy", d.PasswordMinEntropy, "minimum password entropy in bits")
	fs.StringSlice("cors-allowed-origins", d.CORSAllowedOrigins, "allowed CORS origins (globs allowed)")
}

// LoadOptions selects the sources Load reads.
type LoadOptions struct {
	// ConfigFile is a YAML file. When ConfigFileOptional is set a missing
	// file is skipped; otherwise it is an error.
	ConfigFile         string
	ConfigFileOptional bool

	// EnvFile is a dotenv file. A missing file is skipped unless
	// EnvFileRequired is set.
	EnvFile         string
	EnvFileRequired bool

	// Flags are layered last; only flags set on the command line override.
	Flags *pflag.FlagSet
}

// Load builds a Config from the layered sources. It does not validate.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")
	for key, val := range defaultMap() {
		if err := k.Set(key, val); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("key", key).Wrap(err)
		}
	}

	if opts.ConfigFile != "" {
		if err := loadFile(k, opts.ConfigFile, opts.ConfigFileOptional); err != nil {
			return nil, err
		}
	}

	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil {
			if !errors.Is(err, fs.ErrNotExist) || opts.EnvFileRequired {
				return nil, oops.Code("CONFIG_ENV_FILE_INVALID").With("path", opts.EnvFile).Wrap(err)
			}
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if opts.Flags != nil {
		if err := k.Load(posflag.Provider(opts.Flags, ".", k), nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("operation", "unmarshal").Wrap(err)
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	return &cfg, nil
}

// envKey maps CREDKEEP_JWT_SECRET to jwt-secret. List-valued keys are split
// on commas.
func envKey(name, value string) (string, any) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(name, EnvPrefix)), "_", "-")
	if key == "cors-allowed-origins" {
		var origins []string
		for _, o := range strings.Split(value, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		return key, origins
	}
	return key, value
}

func loadFile(k *koanf.Koanf, path string, optional bool) error {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return oops.Code("CONFIG_FILE_INVALID").With("path", path).Wrap(err)
	}
	if err := ValidateYAML(data); err != nil {
		return oops.Code("CONFIG_FILE_INVALID").With("path", path).Wrap(err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return oops.Code("CONFIG_FILE_INVALID").With("path", path).Wrap(err)
	}
	return nil
}

// Validate reports the first setting that must abort startup.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return oops.Code("CONFIG_INVALID").With("key", "http-addr").Errorf("http-addr is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return oops.Code("CONFIG_INVALID").With("key", "log-format").
			Errorf("log-format must be 'json' or 'text', got %q", c.LogFormat)
	}
	if _, err := c.Level(); err != nil {
		return oops.Code("CONFIG_INVALID").With("key", "log-level").Wrap(err)
	}
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return oops.Code("CONFIG_INVALID").With("key", "database-url").
				Errorf("database-url (or DATABASE_URL) is required for the postgres store")
		}
	default:
		return oops.Code("CONFIG_INVALID").With("key", "store").
			Errorf("store must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}
	if c.ResetTokenTTL <= 0 {
		return oops.Code("CONFIG_INVALID").With("key", "reset-token-ttl").Errorf("reset-token-ttl must be positive")
	}
	if c.PasswordMinEntropy < 0 {
		return oops.Code("CONFIG_INVALID").With("key", "password-min-entropy").
			Errorf("password-min-entropy must not be negative")
	}
	if err := c.TokenConfig().Validate(); err != nil {
		return oops.Code("CONFIG_INVALID").With("key", "jwt").Wrap(err)
	}
	return nil
}

// Level returns the parsed log level.
func (c *Config) Level() (slog.Level, error) {
	return logging.ParseLevel(c.LogLevel)
}

// TokenConfig returns the token issuer settings.
func (c *Config) TokenConfig() auth.TokenConfig {
	return auth.TokenConfig{
		AccessSecret:  []byte(c.JWTSecret),
		RefreshSecret: []byte(c.JWTRefreshSecret),
		AccessTTL:     c.JWTExpiresIn,
		RefreshTTL:    c.JWTRefreshExpires,
		Issuer:        c.JWTIssuer,
	}
}

// PasswordPolicy returns the policy for newly chosen passwords.
func (c *Config) PasswordPolicy() auth.PasswordPolicy {
	p := auth.DefaultPasswordPolicy()
	p.MinEntropyBits = c.PasswordMinEntropy
	return p
}

// LogValue keeps secrets and the database URL out of logs.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("http_addr", c.HTTPAddr),
		slog.String("grpc_addr", c.GRPCAddr),
		slog.Bool("grpc_tls", c.GRPCTLSDir != ""),
		slog.String("metrics_addr", c.MetricsAddr),
		slog.String("store", c.Store),
		slog.Bool("auto_migrate", c.AutoMigrate),
		slog.Duration("jwt_expires_in", c.JWTExpiresIn),
		slog.Duration("jwt_refresh_expires_in", c.JWTRefreshExpires),
		slog.Duration("reset_token_ttl", c.ResetTokenTTL),
		slog.Any("cors_allowed_origins", c.CORSAllowedOrigins),
	)
}
