// Package config provides centralized configuration management for the
// gateway using viper, with struct-tag validation via go-playground/validator.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// GatewayConfig is the complete, validated gateway configuration.
type GatewayConfig struct {
	Server        ServerConfig            `mapstructure:"server" validate:"required"`
	Services      map[string]ServiceConfig `mapstructure:"services" validate:"required,dive"`
	Auth          AuthConfig              `mapstructure:"auth" validate:"required"`
	RateLimit     RateLimitConfig         `mapstructure:"rate_limit" validate:"required"`
	Observability ObservabilityConfig     `mapstructure:"observability" validate:"required"`
	Discovery     DiscoveryConfig         `mapstructure:"discovery" validate:"required"`
	Logging       LoggingConfig           `mapstructure:"logging" validate:"required"`
	RouteOverrides []RouteOverride        `mapstructure:"route_overrides"`
	Persistence   PersistenceConfig       `mapstructure:"persistence"`
}

// PersistenceConfig controls optional Redis-backed snapshot persistence for
// circuit breaker state. The gateway is correct with Enabled=false: every
// instance simply starts every breaker Closed. Enabling it lets multiple
// gateway replicas share breaker state and survive restarts without
// re-learning a downed dependency from scratch.
type PersistenceConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	RedisURL       string        `mapstructure:"redis_url" validate:"required_if=Enabled true"`
	TLSEnabled     bool          `mapstructure:"tls_enabled"`
	TLSSkipVerify  bool          `mapstructure:"tls_skip_verify"`
	DB             int           `mapstructure:"db"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"omitempty,min=1ms,max=30s"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" validate:"omitempty,min=1ms,max=30s"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" validate:"omitempty,min=1ms,max=30s"`
	MaxRetries     int           `mapstructure:"max_retries"`
	PoolSize       int           `mapstructure:"pool_size"`
}

// ServerConfig defines the HTTP listener settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host" validate:"required,hostname_rfc1123|ip"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"min=1s,max=5m"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"min=1s,max=5m"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=1s,max=5m"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes" validate:"min=1024"`
	TrustedProxies  []string      `mapstructure:"trusted_proxies"`

	// RequestTimeout is the overall per-request deadline the dispatcher
	// enforces across the whole rate-limit/route/auth/breaker/call pipeline,
	// independent of any per-service timeout. A request that blows this
	// deadline gets a 504 Gateway Timeout and does not count against the
	// upstream's circuit breaker.
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"min=1ms,max=5m"`

	// GRPCHealthPort, when nonzero, starts a small gRPC server exposing the
	// standard grpc.health.v1.Health service for the gateway's own
	// liveness/readiness, alongside the HTTP /health endpoints. 0 disables it.
	GRPCHealthPort int `mapstructure:"grpc_health_port" validate:"omitempty,min=1,max=65535"`
	MaxRecvMsgSize int `mapstructure:"max_recv_msg_size" validate:"omitempty,min=1024,max=67108864"`
	MaxSendMsgSize int `mapstructure:"max_send_msg_size" validate:"omitempty,min=1024,max=67108864"`
}

// ServiceConfig describes one upstream gRPC backend.
type ServiceConfig struct {
	Address          string        `mapstructure:"address" validate:"required"`
	TLS              bool          `mapstructure:"tls"`
	ServerName       string        `mapstructure:"server_name"`
	CAFile           string        `mapstructure:"ca_file"`
	AutoDiscover     bool          `mapstructure:"auto_discover"`
	Timeout          time.Duration `mapstructure:"timeout" validate:"min=1ms,max=5m"`
	FailureThreshold int           `mapstructure:"failure_threshold" validate:"omitempty,min=1"`
	SuccessThreshold int           `mapstructure:"success_threshold" validate:"omitempty,min=1"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout" validate:"omitempty,min=1s,max=10m"`
}

// AuthConfig describes the auth service used for policy lookups and token
// validation.
type AuthConfig struct {
	ServiceAddress         string        `mapstructure:"service_address" validate:"required"`
	TLS                    bool          `mapstructure:"tls"`
	PolicyCacheTTL         time.Duration `mapstructure:"policy_cache_ttl" validate:"min=1s,max=1h"`
	PolicyCacheNegativeTTL time.Duration `mapstructure:"policy_cache_negative_ttl" validate:"min=1s,max=1h"`
	RequestTimeout         time.Duration `mapstructure:"request_timeout" validate:"min=1ms,max=1m"`

	// AdminToken gates POST /admin/refresh-routes: the caller's bearer
	// token must match it exactly. Left empty, the admin surface fails
	// closed (every request rejected) rather than accepting anything.
	AdminToken string `mapstructure:"admin_token"`
}

// RateLimitConfig is the wire form of the per-client limiter's parameters.
type RateLimitConfig struct {
	RequestsPerWindow int           `mapstructure:"requests_per_window" validate:"min=1"`
	Window            time.Duration `mapstructure:"window" validate:"min=1s,max=1h"`
	MaxTrackedClients int           `mapstructure:"max_tracked_clients" validate:"min=1"`
	ExcludedPaths     []string      `mapstructure:"excluded_paths"`
}

// ObservabilityConfig controls tracing/metrics export.
type ObservabilityConfig struct {
	OTelEndpoint   string `mapstructure:"otel_endpoint" validate:"required"`
	ServiceName    string `mapstructure:"service_name" validate:"required,min=1,max=100"`
	ServiceVersion string `mapstructure:"service_version" validate:"required"`
	Environment    string `mapstructure:"environment" validate:"required,oneof=development staging production"`
	Insecure       bool   `mapstructure:"insecure"`
	MetricsPath    string `mapstructure:"metrics_path" validate:"required"`
}

// DiscoveryConfig controls the reflection-based discovery control loop.
type DiscoveryConfig struct {
	RefreshInterval      time.Duration `mapstructure:"refresh_interval" validate:"min=60s,max=3600s"`
	BreakerStatsInterval time.Duration `mapstructure:"breaker_stats_interval" validate:"min=1s,max=5m"`
	StrictDedup          bool          `mapstructure:"strict_dedup"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// RouteOverride manually binds an HTTP route to a gRPC method, bypassing
// the naming-convention inference discovery would otherwise apply. Upstream
// must name one of Services' keys; Service is the fully-qualified gRPC
// service name carried through to the routing decision's GRPCMethod.
type RouteOverride struct {
	Upstream    string `mapstructure:"upstream" validate:"required"`
	Service     string `mapstructure:"service" validate:"required"`
	Method      string `mapstructure:"method" validate:"required"`
	HTTPMethod  string `mapstructure:"http_method" validate:"required,oneof=GET POST PUT DELETE PATCH"`
	PathPattern string `mapstructure:"path_pattern" validate:"required"`
}

var configValidator = validator.New()

// Load loads configuration from file and environment variables using viper.
func Load() (*GatewayConfig, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/api-gateway")

	v.AutomaticEnv()
	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg GatewayConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration using struct tags and custom rules.
func Validate(cfg *GatewayConfig) error {
	if err := configValidator.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.max_body_bytes", 10*1024*1024)
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("server.grpc_health_port", 0)
	v.SetDefault("server.max_recv_msg_size", 4*1024*1024)
	v.SetDefault("server.max_send_msg_size", 4*1024*1024)
	v.SetDefault("server.request_timeout", "30s")

	v.SetDefault("auth.policy_cache_ttl", "300s")
	v.SetDefault("auth.policy_cache_negative_ttl", "60s")
	v.SetDefault("auth.request_timeout", "2s")

	v.SetDefault("rate_limit.requests_per_window", 60)
	v.SetDefault("rate_limit.window", "1m")
	v.SetDefault("rate_limit.max_tracked_clients", 10000)
	v.SetDefault("rate_limit.excluded_paths", []string{
		"/health", "/health/liveness", "/health/readiness", "/metrics", "/api/health",
	})

	v.SetDefault("observability.otel_endpoint", "http://localhost:4317")
	v.SetDefault("observability.service_name", "api-gateway")
	v.SetDefault("observability.service_version", "0.1.0")
	v.SetDefault("observability.environment", "development")
	v.SetDefault("observability.insecure", true)
	v.SetDefault("observability.metrics_path", "/metrics")

	v.SetDefault("discovery.refresh_interval", "300s")
	v.SetDefault("discovery.breaker_stats_interval", "10s")
	v.SetDefault("discovery.strict_dedup", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("persistence.enabled", false)
	v.SetDefault("persistence.connect_timeout", "2s")
	v.SetDefault("persistence.read_timeout", "1s")
	v.SetDefault("persistence.write_timeout", "1s")
	v.SetDefault("persistence.max_retries", 3)
	v.SetDefault("persistence.pool_size", 10)
}

func validateCustomRules(cfg *GatewayConfig) error {
	if cfg.Discovery.RefreshInterval < 60*time.Second || cfg.Discovery.RefreshInterval > time.Hour {
		return fmt.Errorf("discovery refresh_interval (%v) must be between 60s and 1h", cfg.Discovery.RefreshInterval)
	}

	if cfg.Auth.PolicyCacheTTL <= 0 {
		return fmt.Errorf("auth policy_cache_ttl must be positive")
	}

	for name, svc := range cfg.Services {
		if svc.Address == "" {
			return fmt.Errorf("service %q: address is required", name)
		}
	}

	if cfg.Observability.Environment == "production" && cfg.Observability.Insecure {
		return fmt.Errorf("insecure OTLP export not allowed in production")
	}

	return nil
}

func formatValidationError(err error) error {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		var messages []string
		for _, fieldError := range validationErrors {
			messages = append(messages, fmt.Sprintf("field '%s' failed validation: %s (value: %v)",
				fieldError.Field(), fieldError.Tag(), fieldError.Value()))
		}
		return fmt.Errorf("validation errors: %s", strings.Join(messages, "; "))
	}
	return err
}
