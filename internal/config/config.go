package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/kursadbilgin/payout-engine/internal/disbursement"
	"github.com/kursadbilgin/payout-engine/internal/keys"
	"github.com/kursadbilgin/payout-engine/internal/ledger"
	"github.com/shopspring/decimal"
)

// Config is loaded from the environment once at process start. Infrastructure
// settings are optional here; each process checks what it needs via Require*.
type Config struct {
	DatabaseDSN      string `env:"DATABASE_DSN"`
	RabbitMQURL      string `env:"RABBITMQ_URL"`
	RedisURL         string `env:"REDIS_URL"`
	ResultWebhookURL string `env:"RESULT_WEBHOOK_URL"`
	ResultWebhookKey string `env:"RESULT_WEBHOOK_SECRET"`

	DistributorFamilySeed    string `env:"DISTRIBUTOR_FAMILY_SEED"`
	DistributorSecretNumbers string `env:"DISTRIBUTOR_SECRET_NUMBERS"`
	DistributorAccount       string `env:"DISTRIBUTOR_ACCOUNT"`

	LedgerNetwork      string `env:"LEDGER_NETWORK,default=testnet"`
	LedgerRPCURL       string `env:"LEDGER_RPC_URL"`
	LedgerTimeoutMS    int    `env:"LEDGER_TIMEOUT_MS,default=10000"`
	TransactionDelayMS int    `env:"TRANSACTION_DELAY_MS,default=1000"`
	MaxTransactionFee  int64  `env:"MAX_TRANSACTION_FEE,default=10000"`
	EstTxFee           string `env:"EST_TX_FEE,default=0.00003"`
	StoreWriteRetries  int    `env:"STORE_WRITE_RETRIES,default=3"`

	RunLockTTLSec  int    `env:"RUN_LOCK_TTL_SEC,default=60"`
	WorkerPrefetch int    `env:"WORKER_PREFETCH,default=1"`
	APIPort        int    `env:"API_PORT,default=8080"`
	MetricsPort    int    `env:"METRICS_PORT,default=9090"`
	LogLevel       string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values that are set. Presence is checked by the Require* methods.
func (c *Config) Validate() error {
	var errs []error

	if c.LedgerRPCURL != "" {
		if _, err := url.ParseRequestURI(c.LedgerRPCURL); err != nil {
			errs = append(errs, fmt.Errorf("LEDGER_RPC_URL is invalid: %w", err))
		}
	} else if _, err := ledger.Endpoint(c.LedgerNetwork); err != nil {
		errs = append(errs, fmt.Errorf("LEDGER_NETWORK: %w", err))
	}
	if c.ResultWebhookURL != "" {
		if _, err := url.ParseRequestURI(c.ResultWebhookURL); err != nil {
			errs = append(errs, fmt.Errorf("RESULT_WEBHOOK_URL is invalid: %w", err))
		}
	}
	if c.TransactionDelayMS < 0 {
		errs = append(errs, fmt.Errorf("TRANSACTION_DELAY_MS must not be negative"))
	}
	if c.MaxTransactionFee <= 0 {
		errs = append(errs, fmt.Errorf("MAX_TRANSACTION_FEE must be positive"))
	}
	if fee, err := decimal.NewFromString(strings.TrimSpace(c.EstTxFee)); err != nil || fee.IsNegative() {
		errs = append(errs, fmt.Errorf("EST_TX_FEE must be a non-negative decimal, got %q", c.EstTxFee))
	}
	if c.LedgerTimeoutMS <= 0 {
		errs = append(errs, fmt.Errorf("LEDGER_TIMEOUT_MS must be positive"))
	}
	if c.RunLockTTLSec <= 0 {
		errs = append(errs, fmt.Errorf("RUN_LOCK_TTL_SEC must be positive"))
	}
	if c.APIPort <= 0 || c.MetricsPort <= 0 {
		errs = append(errs, fmt.Errorf("API_PORT and METRICS_PORT must be positive"))
	}

	return errors.Join(errs...)
}

// RequireAPI checks the settings the batch API cannot start without.
func (c *Config) RequireAPI() error {
	return requireSet(map[string]string{
		"DATABASE_DSN": c.DatabaseDSN,
		"RABBITMQ_URL": c.RabbitMQURL,
		"REDIS_URL":    c.RedisURL,
	})
}

// RequireWorker checks the settings the payout worker cannot start without.
func (c *Config) RequireWorker() error {
	if err := c.RequireAPI(); err != nil {
		return err
	}
	return c.RequireSigner()
}

// RequireSigner checks that secret material for the funding account is configured.
func (c *Config) RequireSigner() error {
	if strings.TrimSpace(c.DistributorFamilySeed) == "" && strings.TrimSpace(c.DistributorSecretNumbers) == "" {
		return fmt.Errorf("DISTRIBUTOR_FAMILY_SEED or DISTRIBUTOR_SECRET_NUMBERS is required: %w", keys.ErrNoSecret)
	}
	return nil
}

// Settings builds the immutable run configuration for the disbursement engine.
func (c *Config) Settings() (disbursement.Settings, error) {
	endpoint, err := c.LedgerEndpoint()
	if err != nil {
		return disbursement.Settings{}, err
	}
	perTxFee, err := decimal.NewFromString(strings.TrimSpace(c.EstTxFee))
	if err != nil {
		return disbursement.Settings{}, fmt.Errorf("EST_TX_FEE: %w", err)
	}

	settings := disbursement.Settings{
		Endpoint:     endpoint,
		Delay:        time.Duration(c.TransactionDelayMS) * time.Millisecond,
		MaxFeeDrops:  c.MaxTransactionFee,
		PerTxFee:     perTxFee,
		WriteRetries: c.StoreWriteRetries,
	}
	if err := settings.Validate(); err != nil {
		return disbursement.Settings{}, err
	}
	return settings, nil
}

// LedgerEndpoint prefers LEDGER_RPC_URL over the well-known network endpoint.
func (c *Config) LedgerEndpoint() (string, error) {
	if endpoint := strings.TrimSpace(c.LedgerRPCURL); endpoint != "" {
		return endpoint, nil
	}
	return ledger.Endpoint(c.LedgerNetwork)
}

func (c *Config) LedgerOptions() ledger.RPCOptions {
	return ledger.RPCOptions{
		Timeout: time.Duration(c.LedgerTimeoutMS) * time.Millisecond,
	}
}

func (c *Config) KeyMaterial() keys.Material {
	return keys.Material{
		FamilySeed:    strings.TrimSpace(c.DistributorFamilySeed),
		SecretNumbers: keys.ParseSecretNumbers(c.DistributorSecretNumbers),
		Account:       strings.TrimSpace(c.DistributorAccount),
	}
}

func (c *Config) RunLockTTL() time.Duration {
	return time.Duration(c.RunLockTTLSec) * time.Second
}

// String renders the config for startup logs with secrets masked.
func (c *Config) String() string {
	masked := *c
	masked.DatabaseDSN = maskURLOrDSN(c.DatabaseDSN)
	masked.RabbitMQURL = maskURLOrDSN(c.RabbitMQURL)
	masked.RedisURL = maskURLOrDSN(c.RedisURL)
	masked.ResultWebhookKey = mask(c.ResultWebhookKey)
	masked.DistributorFamilySeed = mask(c.DistributorFamilySeed)
	masked.DistributorSecretNumbers = mask(c.DistributorSecretNumbers)

	type plain Config
	return fmt.Sprintf("%+v", plain(masked))
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
}

func maskURLOrDSN(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "****"
	}
	return u.Redacted()
}

func requireSet(values map[string]string) error {
	var missing []string
	for name, value := range values {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	slices.Sort(missing)
	return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
}
