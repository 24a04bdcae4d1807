package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config adds service-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	DatabaseURL           string
	JWTSecret             string
	JWTIssuer             string
	JWTTTLMinutes         int
	BcryptCost            int
	SMSWebhookURL         string
	SMSAPIKey             string
	SMSFrom               string
	EmailWebhookURL       string
	EmailAPIKey           string
	EmailFrom             string
	PushWebhookURL        string
	PushAPIKey            string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory stores)")
	fs.StringVar(&c.JWTSecret, "jwt-secret", "", "HMAC secret for signing bearer tokens")
	fs.StringVar(&c.JWTIssuer, "jwt-issuer", "beacon", "issuer claim stamped on bearer tokens")
	fs.IntVar(&c.JWTTTLMinutes, "jwt-ttl-minutes", 1440, "bearer token lifetime in minutes (1..43200)")
	fs.IntVar(&c.BcryptCost, "bcrypt-cost", 0, "bcrypt cost for password hashing (0 = library default)")
	fs.StringVar(&c.SMSWebhookURL, "sms-webhook-url", "", "SMS gateway webhook URL (empty = channel disabled)")
	fs.StringVar(&c.SMSAPIKey, "sms-api-key", "", "API key for the SMS gateway")
	fs.StringVar(&c.SMSFrom, "sms-from", "", "sender number for outbound SMS")
	fs.StringVar(&c.EmailWebhookURL, "email-webhook-url", "", "email provider webhook URL (empty = channel disabled)")
	fs.StringVar(&c.EmailAPIKey, "email-api-key", "", "API key for the email provider")
	fs.StringVar(&c.EmailFrom, "email-from", "alerts@beacon.local", "sender address for outbound email")
	fs.StringVar(&c.PushWebhookURL, "push-webhook-url", "", "push provider webhook URL (empty = channel disabled)")
	fs.StringVar(&c.PushAPIKey, "push-api-key", "", "API key for the push provider")
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

	// Bearer tokens cannot be issued or verified without a secret
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.JWTIssuer == "" {
		errs = append(errs, errors.New("JWT_ISSUER is required"))
	}
	if c.JWTTTLMinutes <= 0 || c.JWTTTLMinutes > 43200 {
		errs = append(errs, fmt.Errorf("invalid JWT_TTL_MINUTES %d (must be 1..43200)", c.JWTTTLMinutes))
	}

	if c.BcryptCost < 0 || c.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("invalid BCRYPT_COST %d (must be 0..31)", c.BcryptCost))
	}

	// A channel with a webhook URL needs credentials to call it
	if c.SMSWebhookURL != "" && c.SMSAPIKey == "" {
		errs = append(errs, errors.New("SMS_API_KEY is required when SMS_WEBHOOK_URL is set"))
	}
	if c.EmailWebhookURL != "" && c.EmailAPIKey == "" {
		errs = append(errs, errors.New("EMAIL_API_KEY is required when EMAIL_WEBHOOK_URL is set"))
	}
	if c.PushWebhookURL != "" && c.PushAPIKey == "" {
		errs = append(errs, errors.New("PUSH_API_KEY is required when PUSH_WEBHOOK_URL is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
