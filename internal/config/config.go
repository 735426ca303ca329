// Package config loads, validates, and normalises portal configuration.
//
// Configuration is layered: defaults, then an optional YAML file, then
// environment overrides, then externally provisioned secrets. The secret
// names and the JSON_FILE_PATH / port 8050 surface match what the deployment
// descriptor provisions, so the binary drops into the existing stack.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/strongaya/federated-data-portal/internal/secrets"
)

// Names of the externally provisioned secrets.
const (
	SecretUsername                = "vantage6_service_username"
	SecretPassword                = "vantage6_service_password"
	SecretServerURL               = "vantage6_server_url"
	SecretServerPort              = "vantage6_server_port"
	SecretServerAPI               = "vantage6_server_api"
	SecretCollaboration           = "vantage6_collaboration"
	SecretPrivateKeyPath          = "vantage6_private_key_path"
	SecretAggregatingOrganisation = "vantage6_aggregating_organisation"
)

const (
	defaultPort            = 8050
	defaultShutdownTimeout = 15 * time.Second
	defaultSchemaPath      = "/app/schema.json"
	defaultRefreshInterval = 6 * time.Hour
	defaultRetention       = 100
	defaultTaskTimeout     = 10 * time.Minute
	defaultTaskImage       = "ghcr.io/strong-aya/triplestore-descriptives:latest"
	defaultTaskMethod      = "retrieve_collaboration_descriptives"
	defaultSubjectLabel    = "participant"
	defaultRateLimitWindow = 60 * time.Second
	defaultRateLimitMax    = 120
	defaultMetricsEnabled  = true
	defaultConfigEnvVar    = "PORTAL_CONFIG"
)

// Config captures runtime configuration for the portal.
type Config struct {
	Version   string          `yaml:"version"`
	HTTP      HTTPConfig      `yaml:"http"`
	Schema    SchemaConfig    `yaml:"schema"`
	Vantage6  Vantage6Config  `yaml:"vantage6"`
	Collector CollectorConfig `yaml:"collector"`
	Report    ReportConfig    `yaml:"report"`
	Auth      AuthConfig      `yaml:"auth"`
	CORS      CORSConfig      `yaml:"cors"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Metrics   MetricsConfig   `yaml:"metrics"`

	// SecretsDir is where provisioned secrets are mounted.
	SecretsDir string `yaml:"secretsDir"`
}

// HTTPConfig configures listener behaviour.
type HTTPConfig struct {
	Port            int      `yaml:"port"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`
}

// SchemaConfig locates the mounted global schema file.
type SchemaConfig struct {
	Path string `yaml:"path"`
}

// Vantage6Config captures the collaboration server connection. Credentials
// normally arrive through secrets rather than the YAML file.
type Vantage6Config struct {
	ServerURL               string   `yaml:"serverURL"`
	ServerPort              string   `yaml:"serverPort"`
	APIPath                 string   `yaml:"apiPath"`
	Username                string   `yaml:"username"`
	Password                string   `yaml:"password"`
	Collaboration           int      `yaml:"collaboration"`
	AggregatingOrganisation int      `yaml:"aggregatingOrganisation"`
	PrivateKeyPath          string   `yaml:"privateKeyPath"`
	TaskImage               string   `yaml:"taskImage"`
	TaskMethod              string   `yaml:"taskMethod"`
	TaskTimeout             Duration `yaml:"taskTimeout"`
}

// CollectorConfig controls the background refresh loop.
type CollectorConfig struct {
	RefreshInterval Duration `yaml:"refreshInterval"`
	Retention       int      `yaml:"retention"`
	MockResultPath  string   `yaml:"mockResultPath"`
}

// ReportConfig tunes presentation of the aggregated reports.
type ReportConfig struct {
	SubjectLabel string `yaml:"subjectLabel"`
}

// AuthConfig captures JWT validation settings for the admin endpoints.
type AuthConfig struct {
	Secret    string   `yaml:"secret"`
	Audiences []string `yaml:"audiences"`
	Issuer    string   `yaml:"issuer"`
}

// CORSConfig captures allowed origins.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// RateLimitConfig captures throttling settings applied at the portal edge.
type RateLimitConfig struct {
	Window Duration `yaml:"window"`
	Max    int      `yaml:"max"`
}

// MetricsConfig toggles metrics exposure.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Duration is a YAML-friendly wrapper over time.Duration supporting numeric
// millisecond inputs.
type Duration time.Duration

// AsDuration returns the underlying time.Duration.
func (d Duration) AsDuration() time.Duration {
	return time.Duration(d)
}

// MarshalYAML encodes the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.AsDuration().String(), nil
}

// UnmarshalYAML decodes scalar duration values from either Go duration
// strings or millisecond integers.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}

	switch value.Kind {
	case yaml.ScalarNode:
		txt := strings.TrimSpace(value.Value)
		if txt == "" {
			*d = Duration(0)
			return nil
		}
		if ms, err := strconv.Atoi(txt); err == nil {
			if ms < 0 {
				return fmt.Errorf("duration must be non-negative, got %d", ms)
			}
			*d = Duration(time.Duration(ms) * time.Millisecond)
			return nil
		}
		parsed, err := time.ParseDuration(txt)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", txt, err)
		}
		if parsed < 0 {
			return fmt.Errorf("duration must be non-negative, got %s", parsed)
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// DurationFrom constructs a Duration from a time.Duration.
func DurationFrom(d time.Duration) Duration {
	return Duration(d)
}

// Default returns baseline configuration values.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Port:            defaultPort,
			ShutdownTimeout: DurationFrom(defaultShutdownTimeout),
		},
		Schema: SchemaConfig{
			Path: defaultSchemaPath,
		},
		Vantage6: Vantage6Config{
			APIPath:     "/api",
			TaskImage:   defaultTaskImage,
			TaskMethod:  defaultTaskMethod,
			TaskTimeout: DurationFrom(defaultTaskTimeout),
		},
		Collector: CollectorConfig{
			RefreshInterval: DurationFrom(defaultRefreshInterval),
			Retention:       defaultRetention,
		},
		Report: ReportConfig{
			SubjectLabel: defaultSubjectLabel,
		},
		RateLimit: RateLimitConfig{
			Window: DurationFrom(defaultRateLimitWindow),
			Max:    defaultRateLimitMax,
		},
		Metrics: MetricsConfig{
			Enabled: defaultMetricsEnabled,
		},
		SecretsDir: secrets.DefaultDir,
	}
}

// envOverrides mirrors the environment surface of the deployment descriptor.
type envOverrides struct {
	Port               int      `envconfig:"PORT"`
	SchemaPath         string   `envconfig:"JSON_FILE_PATH"`
	SecretsDir         string   `envconfig:"SECRETS_DIR"`
	ShutdownTimeoutMS  int      `envconfig:"SHUTDOWN_TIMEOUT_MS"`
	RefreshIntervalMS  int      `envconfig:"REFRESH_INTERVAL_MS"`
	Retention          int      `envconfig:"SNAPSHOT_RETENTION"`
	MockResultPath     string   `envconfig:"MOCK_RESULT_PATH"`
	SubjectLabel       string   `envconfig:"SUBJECT_LABEL"`
	Version            string   `envconfig:"GIT_SHA"`
	JWTSecret          string   `envconfig:"JWT_SECRET"`
	JWTAudience        []string `envconfig:"JWT_AUDIENCE"`
	JWTIssuer          string   `envconfig:"JWT_ISSUER"`
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS"`
	RateLimitWindowMS  int      `envconfig:"RATE_LIMIT_WINDOW_MS"`
	RateLimitMax       int      `envconfig:"RATE_LIMIT_MAX"`
	MetricsEnabled     *bool    `envconfig:"METRICS_ENABLED"`
	TaskImage          string   `envconfig:"TASK_IMAGE"`
	TaskMethod         string   `envconfig:"TASK_METHOD"`
	TaskTimeoutMS      int      `envconfig:"TASK_TIMEOUT_MS"`
}

// Option customises the load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	paths      []string
	secretsDir string
	secretOpts []secrets.Option
	skipEnv    bool
}

// WithPath adds a YAML config path to attempt loading.
func WithPath(path string) Option {
	return func(o *loaderOptions) {
		if strings.TrimSpace(path) != "" {
			o.paths = append(o.paths, path)
		}
	}
}

// WithSecretsDir overrides the secrets directory (useful for tests).
func WithSecretsDir(dir string) Option {
	return func(o *loaderOptions) {
		o.secretsDir = dir
	}
}

// WithSecretOptions forwards options to the secret reader (useful for tests).
func WithSecretOptions(opts ...secrets.Option) Option {
	return func(o *loaderOptions) {
		o.secretOpts = append(o.secretOpts, opts...)
	}
}

// WithoutEnvironment skips the environment override layer (useful for tests).
func WithoutEnvironment() Option {
	return func(o *loaderOptions) {
		o.skipEnv = true
	}
}

// Load builds a Config from defaults, YAML files, environment overrides, and
// provisioned secrets (in that order).
func Load(opts ...Option) (Config, error) {
	options := loaderOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	cfg := Default()

	var overrides envOverrides
	if !options.skipEnv {
		if err := envconfig.Process("", &overrides); err != nil {
			return cfg, fmt.Errorf("parse environment: %w", err)
		}
	}

	paths := options.paths
	if !options.skipEnv {
		if envPath := strings.TrimSpace(overridesConfigPath()); envPath != "" {
			paths = append([]string{envPath}, paths...)
		}
	}

	for _, path := range paths {
		if strings.TrimSpace(path) == "" {
			continue
		}
		data, err := readFileIfExists(path)
		if err != nil {
			return cfg, err
		}
		if data == nil {
			continue
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config %q: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg, overrides)

	if options.secretsDir != "" {
		cfg.SecretsDir = options.secretsDir
	}

	reader := secrets.NewReader(cfg.SecretsDir, options.secretOpts...)
	if err := applySecrets(&cfg, reader); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func overridesConfigPath() string {
	return os.Getenv(defaultConfigEnvVar)
}

func readFileIfExists(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	return data, nil
}

func applyEnvOverrides(cfg *Config, o envOverrides) {
	if o.Port > 0 {
		cfg.HTTP.Port = o.Port
	}
	if o.ShutdownTimeoutMS > 0 {
		cfg.HTTP.ShutdownTimeout = DurationFrom(time.Duration(o.ShutdownTimeoutMS) * time.Millisecond)
	}
	if o.SchemaPath != "" {
		cfg.Schema.Path = o.SchemaPath
	}
	if o.SecretsDir != "" {
		cfg.SecretsDir = o.SecretsDir
	}
	if o.RefreshIntervalMS > 0 {
		cfg.Collector.RefreshInterval = DurationFrom(time.Duration(o.RefreshIntervalMS) * time.Millisecond)
	}
	if o.Retention > 0 {
		cfg.Collector.Retention = o.Retention
	}
	if o.MockResultPath != "" {
		cfg.Collector.MockResultPath = o.MockResultPath
	}
	if o.SubjectLabel != "" {
		cfg.Report.SubjectLabel = o.SubjectLabel
	}
	if o.Version != "" {
		cfg.Version = o.Version
	}
	if o.JWTSecret != "" {
		cfg.Auth.Secret = o.JWTSecret
	}
	if len(o.JWTAudience) > 0 {
		cfg.Auth.Audiences = o.JWTAudience
	}
	if o.JWTIssuer != "" {
		cfg.Auth.Issuer = o.JWTIssuer
	}
	if len(o.CORSAllowedOrigins) > 0 {
		cfg.CORS.AllowedOrigins = o.CORSAllowedOrigins
	}
	if o.RateLimitWindowMS > 0 {
		cfg.RateLimit.Window = DurationFrom(time.Duration(o.RateLimitWindowMS) * time.Millisecond)
	}
	if o.RateLimitMax > 0 {
		cfg.RateLimit.Max = o.RateLimitMax
	}
	if o.MetricsEnabled != nil {
		cfg.Metrics.Enabled = *o.MetricsEnabled
	}
	if o.TaskImage != "" {
		cfg.Vantage6.TaskImage = o.TaskImage
	}
	if o.TaskMethod != "" {
		cfg.Vantage6.TaskMethod = o.TaskMethod
	}
	if o.TaskTimeoutMS > 0 {
		cfg.Vantage6.TaskTimeout = DurationFrom(time.Duration(o.TaskTimeoutMS) * time.Millisecond)
	}
}

// applySecrets fills the vantage6 block from provisioned secrets. When none
// of the eight secrets resolve the portal runs in mock mode and serves data
// from the configured mock result file instead of the collaboration server.
func applySecrets(cfg *Config, reader *secrets.Reader) error {
	found := 0
	read := func(name string) string {
		value, ok := reader.Read(name)
		if ok {
			found++
		}
		return value
	}

	if v := read(SecretUsername); v != "" {
		cfg.Vantage6.Username = v
	}
	if v := read(SecretPassword); v != "" {
		cfg.Vantage6.Password = v
	}
	if v := read(SecretServerURL); v != "" {
		cfg.Vantage6.ServerURL = v
	}
	if v := read(SecretServerPort); v != "" {
		cfg.Vantage6.ServerPort = v
	}
	if v := read(SecretServerAPI); v != "" {
		cfg.Vantage6.APIPath = v
	}
	if v := read(SecretPrivateKeyPath); v != "" {
		cfg.Vantage6.PrivateKeyPath = v
	}
	if v := read(SecretCollaboration); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("secret %s: expected numeric collaboration id, got %q", SecretCollaboration, v)
		}
		cfg.Vantage6.Collaboration = id
	}
	if v := read(SecretAggregatingOrganisation); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("secret %s: expected numeric organisation id, got %q", SecretAggregatingOrganisation, v)
		}
		cfg.Vantage6.AggregatingOrganisation = id
	}

	return nil
}

// MockMode reports whether the portal should serve mock data because no
// collaboration server connection is configured.
func (c Config) MockMode() bool {
	v := c.Vantage6
	return v.ServerURL == "" && v.Username == "" && v.Password == "" && v.Collaboration == 0
}

// ServerBaseURL assembles the collaboration server base URL including the
// API path, e.g. https://server.example.org:443/api.
func (v Vantage6Config) ServerBaseURL() string {
	base := strings.TrimRight(v.ServerURL, "/")
	if v.ServerPort != "" {
		base = base + ":" + v.ServerPort
	}
	api := v.APIPath
	if api != "" && !strings.HasPrefix(api, "/") {
		api = "/" + api
	}
	return base + strings.TrimRight(api, "/")
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c Config) Validate() error {
	var errs []error

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port must be in (0, 65535], got %d", c.HTTP.Port))
	}
	if strings.TrimSpace(c.Schema.Path) == "" {
		errs = append(errs, errors.New("schema.path (JSON_FILE_PATH) must be provided"))
	}
	if c.Collector.Retention <= 0 {
		errs = append(errs, fmt.Errorf("collector.retention must be positive, got %d", c.Collector.Retention))
	}
	if c.Collector.RefreshInterval.AsDuration() < time.Minute {
		errs = append(errs, fmt.Errorf("collector.refreshInterval must be at least 1m, got %s", c.Collector.RefreshInterval.AsDuration()))
	}

	if !c.MockMode() {
		v := c.Vantage6
		if v.ServerURL == "" {
			errs = append(errs, fmt.Errorf("secret %s must be provided", SecretServerURL))
		} else if _, err := url.ParseRequestURI(v.ServerURL); err != nil {
			errs = append(errs, fmt.Errorf("secret %s: invalid url: %w", SecretServerURL, err))
		}
		if v.Username == "" {
			errs = append(errs, fmt.Errorf("secret %s must be provided", SecretUsername))
		}
		if v.Password == "" {
			errs = append(errs, fmt.Errorf("secret %s must be provided", SecretPassword))
		}
		if v.Collaboration <= 0 {
			errs = append(errs, fmt.Errorf("secret %s must be a positive collaboration id", SecretCollaboration))
		}
		if v.TaskImage == "" {
			errs = append(errs, errors.New("vantage6.taskImage must be provided"))
		}
	} else if c.Collector.MockResultPath == "" {
		errs = append(errs, errors.New("collector.mockResultPath must be provided when no vantage6 secrets are present"))
	}

	return errors.Join(errs...)
}
