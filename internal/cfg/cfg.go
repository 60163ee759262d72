package cfg

import (
	"errors"
	"flag"
	"fmt"
	"math"
)

// Auth modes.
const (
	AuthModeJWT    = "jwt"
	AuthModeStatic = "static"
)

// Store kinds selected by StoreKind.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

const minSigningKeyLen = 32

// Config adds app-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	DatabaseURL string
	SQLitePath  string

	ClaudeAPIKey       string
	ClaudeModel        string
	SummaryMaxTokens   int
	SummaryTemperature float64

	AuthMode          string
	AuthProjectID     string
	AuthIssuer        string
	AuthAudience      string
	AuthJWKSURL       string
	AuthSigningKey    string
	AuthStaticToken   string
	AuthStaticSubject string

	EnforceOwnership bool
	AllowClientIDs   bool
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL")
	fs.StringVar(&c.SQLitePath, "sqlite-path", "", "SQLite database file (used when database-url is empty; both empty = in-memory store)")

	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-5", "Claude model used for summaries")
	fs.IntVar(&c.SummaryMaxTokens, "summary-max-tokens", 256, "max tokens per generated summary (1..4096)")
	fs.Float64Var(&c.SummaryTemperature, "summary-temperature", 0.4, "sampling temperature for summaries (0..1)")

	fs.StringVar(&c.AuthMode, "auth-mode", AuthModeJWT, "credential verification: jwt or static")
	fs.StringVar(&c.AuthProjectID, "auth-project-id", "", "Firebase project ID; sets issuer, audience and JWKS defaults")
	fs.StringVar(&c.AuthIssuer, "auth-issuer", "", "expected JWT issuer")
	fs.StringVar(&c.AuthAudience, "auth-audience", "", "expected JWT audience")
	fs.StringVar(&c.AuthJWKSURL, "auth-jwks-url", "", "JWKS endpoint for RS256 token keys")
	fs.StringVar(&c.AuthSigningKey, "auth-signing-key", "", "HS256 signing key for development tokens")
	fs.StringVar(&c.AuthStaticToken, "auth-static-token", "", "shared bearer token (auth-mode=static)")
	fs.StringVar(&c.AuthStaticSubject, "auth-static-subject", "", "subject assigned to the static token (auth-mode=static)")

	fs.BoolVar(&c.EnforceOwnership, "enforce-ownership", false, "restrict get, update and summarize to the incident owner")
	fs.BoolVar(&c.AllowClientIDs, "allow-client-ids", true, "accept client-supplied incident IDs on create")
}

// StoreKind reports which incident store the configuration selects.
func (c *Config) StoreKind() string {
	switch {
	case c.DatabaseURL != "":
		return StorePostgres
	case c.SQLitePath != "":
		return StoreSQLite
	default:
		return StoreMemory
	}
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.DatabaseURL != "" && c.SQLitePath != "" {
		errs = append(errs, errors.New("DATABASE_URL and SQLITE_PATH are mutually exclusive"))
	}

	if c.ClaudeAPIKey == "" {
		errs = append(errs, errors.New("CLAUDE_API_KEY is required"))
	}
	if c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}
	if c.SummaryMaxTokens <= 0 || c.SummaryMaxTokens > 4096 {
		errs = append(errs, fmt.Errorf("invalid SUMMARY_MAX_TOKENS %d (must be 1..4096)", c.SummaryMaxTokens))
	}
	if math.IsNaN(c.SummaryTemperature) || c.SummaryTemperature < 0 || c.SummaryTemperature > 1 {
		errs = append(errs, fmt.Errorf("invalid SUMMARY_TEMPERATURE %v (must be 0..1)", c.SummaryTemperature))
	}

	errs = append(errs, c.validateAuth()...)

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (c *Config) validateAuth() []error {
	switch c.AuthMode {
	case AuthModeJWT:
		if c.AuthProjectID == "" && c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
			return []error{errors.New("AUTH_MODE=jwt requires AUTH_PROJECT_ID, AUTH_JWKS_URL or AUTH_SIGNING_KEY")}
		}
		if c.AuthSigningKey != "" && len(c.AuthSigningKey) < minSigningKeyLen {
			return []error{fmt.Errorf("AUTH_SIGNING_KEY must be at least %d bytes", minSigningKeyLen)}
		}
	case AuthModeStatic:
		var errs []error
		if c.AuthStaticToken == "" {
			errs = append(errs, errors.New("AUTH_MODE=static requires AUTH_STATIC_TOKEN"))
		}
		if c.AuthStaticSubject == "" {
			errs = append(errs, errors.New("AUTH_MODE=static requires AUTH_STATIC_SUBJECT"))
		}
		return errs
	default:
		return []error{fmt.Errorf("invalid AUTH_MODE %q (must be jwt or static)", c.AuthMode)}
	}
	return nil
}
