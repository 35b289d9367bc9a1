// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, rate limiting, provider
// credentials and observability.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// ErrMissingSecret is wrapped by Load when a required API key or signing
// secret is absent. The process must refuse to serve in that case.
var ErrMissingSecret = errors.New("missing required secret")

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "pegasus-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// AuthConfig defines the identity provider settings.
type AuthConfig struct {
	JWTSecret  string        // JWT_SECRET (required)
	TokenTTL   time.Duration // TOKEN_TTL
	OwnerEmail string        // OWNER_EMAIL; profiles with this email are escalated to owner
}

// GenAIConfig defines the generative model settings.
type GenAIConfig struct {
	APIKey      string // GOOGLE_API_KEY (required)
	TextModel   string // TEXT_MODEL
	ImageModel  string // IMAGE_MODEL
	SearchModel string // SEARCH_MODEL
}

// Consultation maps a consultation type to the path segment of the lookup API.
type Consultation struct {
	Value   string `json:"value"`
	Label   string `json:"label"`
	APIPath string `json:"api_path"`
}

// InvestigationConfig defines the external lookup API settings.
type InvestigationConfig struct {
	APIKey        string         // INVESTIGATION_API_KEY (required)
	BaseURL       string         // INVESTIGATION_BASE_URL
	Timeout       time.Duration  // INVESTIGATION_TIMEOUT; 0 disables the client timeout
	Consultations []Consultation // CONSULTATION_TYPES
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DBPath         string // SQLite path
	MaxPromptRunes int    // upper bound on a submitted prompt

	// Providers
	Auth          AuthConfig
	GenAI         GenAIConfig
	Investigation InvestigationConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the environment, fills in defaults, normalizes values and
// validates the result. Blank variables count as unset.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              envStr("PORT", "8080"),
		ReadTimeout:       envDur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: envDur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      envDur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       envDur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    envInt("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(envStr("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(envStr("LOG_LEVEL", "info")),
		LogPretty:      envBool("LOG_PRETTY", false),
		SwaggerEnabled: envBool("SWAGGER_ENABLED", false),
		APIBasePath:    cleanBasePath(envStr("API_BASE_PATH", "/api/v1")),

		// App
		DBPath:         envStr("DB_PATH", "pegasus.db"),
		MaxPromptRunes: envInt("MAX_PROMPT_RUNES", 5000),

		// Providers
		Auth: AuthConfig{
			JWTSecret:  os.Getenv("JWT_SECRET"),
			TokenTTL:   envDur("TOKEN_TTL", 24*time.Hour),
			OwnerEmail: strings.ToLower(strings.TrimSpace(envStr("OWNER_EMAIL", ""))),
		},
		GenAI: GenAIConfig{
			APIKey:      os.Getenv("GOOGLE_API_KEY"),
			TextModel:   envStr("TEXT_MODEL", "gemini-2.0-flash"),
			ImageModel:  envStr("IMAGE_MODEL", "gemini-2.0-flash-exp"),
			SearchModel: envStr("SEARCH_MODEL", "gemini-2.0-flash"),
		},
		Investigation: InvestigationConfig{
			APIKey:  os.Getenv("INVESTIGATION_API_KEY"),
			BaseURL: strings.TrimRight(envStr("INVESTIGATION_BASE_URL", "https://zero-two.online/consultas"), "/"),
			Timeout: envDur("INVESTIGATION_TIMEOUT", 0),
		},

		// Rate limiting
		RateRPS:   envFloat("RATE_RPS", 5.0),
		RateBurst: envInt("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitList(envStr("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: envBool("ENABLE_HSTS", false),
			HSTSMaxAge: envDur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: envDur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     envBool("OTEL_ENABLED", false),
			Endpoint:    envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: envStr("OTEL_SERVICE_NAME", "pegasus-backend"),
			SampleRatio: envFloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	consultations, err := parseConsultations(envStr("CONSULTATION_TYPES", DefaultConsultationTypes))
	if err != nil {
		return cfg, err
	}
	cfg.Investigation.Consultations = consultations

	return cfg, cfg.Validate()
}

// Validate checks cfg. A missing secret is reported alone, wrapping
// ErrMissingSecret; otherwise every invalid setting is joined into one error.
func (c Config) Validate() error {
	for _, kv := range []struct{ key, val string }{
		{"GOOGLE_API_KEY", c.GenAI.APIKey},
		{"INVESTIGATION_API_KEY", c.Investigation.APIKey},
		{"JWT_SECRET", c.Auth.JWTSecret},
	} {
		if strings.TrimSpace(kv.val) == "" {
			return fmt.Errorf("%w: %s", ErrMissingSecret, kv.key)
		}
	}

	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error, fatal, panic", c.LogLevel))
	}
	check(strings.TrimSpace(c.Port) != "", "PORT must not be empty")
	check(c.ReadTimeout > 0 && c.ReadHeaderTimeout > 0 && c.WriteTimeout > 0 && c.IdleTimeout > 0,
		"READ/READ_HEADER/WRITE/IDLE timeouts must be positive")
	check(c.MaxHeaderBytes > 0, "MAX_HEADER_BYTES must be > 0")
	check(strings.TrimSpace(c.DBPath) != "", "DB_PATH must not be empty")
	check(c.MaxPromptRunes > 0, "MAX_PROMPT_RUNES must be > 0")
	check(len(c.Auth.JWTSecret) >= 16, "JWT_SECRET must be at least 16 bytes")
	check(c.Auth.TokenTTL > 0, "TOKEN_TTL must be > 0")
	check(c.Investigation.Timeout >= 0, "INVESTIGATION_TIMEOUT must be >= 0")
	check(strings.HasPrefix(c.Investigation.BaseURL, "http://") || strings.HasPrefix(c.Investigation.BaseURL, "https://"),
		"INVESTIGATION_BASE_URL must be an http(s) URL")
	check(len(c.Investigation.Consultations) > 0, "CONSULTATION_TYPES must list at least one consultation")
	check(c.RateRPS >= 0, "RATE_RPS must be >= 0")
	check(c.RateBurst >= 1, "RATE_BURST must be >= 1")
	check(c.Security.HSTSMaxAge >= 0, "HSTS_MAX_AGE must be >= 0")
	check(c.IdempotencyTTL > 0, "IDEMPOTENCY_TTL must be > 0")
	check(c.OTEL.SampleRatio >= 0 && c.OTEL.SampleRatio <= 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]")

	return errors.Join(errs...)
}

// DefaultConsultationTypes is the lookup table used when CONSULTATION_TYPES
// is unset. Format: value=apiPath:Label, comma separated.
const DefaultConsultationTypes = "cpf=cpf:CPF,nome=nome:Full name,telefone=telefone:Phone,email=email:Email,placa=placa:Vehicle plate,cnpj=cnpj:CNPJ"

// Lookup returns the consultation registered under value.
func (ic InvestigationConfig) Lookup(value string) (Consultation, bool) {
	for _, c := range ic.Consultations {
		if c.Value == value {
			return c, true
		}
	}
	return Consultation{}, false
}

// parseConsultations parses "value=apiPath:Label" entries. apiPath defaults
// to value and Label defaults to value.
func parseConsultations(s string) ([]Consultation, error) {
	var out []Consultation
	seen := map[string]bool{}
	for _, item := range splitList(s) {
		value, rest, _ := strings.Cut(item, "=")
		value = strings.TrimSpace(value)
		if value == "" {
			return nil, fmt.Errorf("CONSULTATION_TYPES: empty value in %q", item)
		}
		if seen[value] {
			return nil, fmt.Errorf("CONSULTATION_TYPES: duplicate value %q", value)
		}
		seen[value] = true
		path, label, _ := strings.Cut(rest, ":")
		c := Consultation{Value: value, APIPath: strings.Trim(strings.TrimSpace(path), "/"), Label: strings.TrimSpace(label)}
		if c.APIPath == "" {
			c.APIPath = value
		}
		if c.Label == "" {
			c.Label = value
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, errors.New("CONSULTATION_TYPES must list at least one consultation")
	}
	return out, nil
}
