package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Gateway modes
const (
	ModeTest = "test"
	ModeLive = "live"
)

// AppConfig is the process-wide configuration. It is loaded once at startup and
// must be treated as read-only afterwards.
type AppConfig struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	OpenSearch OpenSearchConfig
	Logging    LoggingConfig
	Payment    PaymentConfig
	Kashier    KashierConfig
	Paymob     PaymobConfig
}

type ServerConfig struct {
	Port           string
	Environment    string
	IPWhitelist    []string
	AllowedOrigins []string
	RateLimit      int
}

type DatabaseConfig struct {
	Path string
}

type RedisConfig struct {
	Addr string
	Pass string
	DB   int
}

type OpenSearchConfig struct {
	Enabled bool
	URL     string
	User    string
	Pass    string
}

type LoggingConfig struct {
	Level string
}

// PaymentConfig holds gateway-independent settings of the payment core
type PaymentConfig struct {
	Currency        string
	ReferencePrefix string
	AppURL          string
	SuccessURL      string
	FailureURL      string
	MethodGateways  map[string]string
	GatewayTimeout  time.Duration
	PendingTTL      time.Duration
	SweepSchedule   string
	DedupTTL        time.Duration
}

// KashierConfig holds the credentials and endpoints of the Kashier gateway
type KashierConfig struct {
	MerchantID  string `validate:"required"`
	APIKey      string `validate:"required"`
	SecretKey   string `validate:"required"`
	Mode        string `validate:"oneof=test live"`
	TestBaseURL string `validate:"required,url"`
	LiveBaseURL string `validate:"required,url"`
	CheckoutURL string `validate:"required,url"`
	Timeout     time.Duration
}

// BaseURL returns the FEP host for the configured mode
func (c KashierConfig) BaseURL() string {
	if c.Mode == ModeLive {
		return c.LiveBaseURL
	}
	return c.TestBaseURL
}

// Enabled reports whether the gateway has been configured at all
func (c KashierConfig) Enabled() bool {
	return c.MerchantID != ""
}

// Validate checks the gateway credentials
func (c KashierConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("kashier: invalid configuration: %w", err)
	}
	return nil
}

// PaymobConfig holds the credentials and endpoints of the Paymob gateway
type PaymobConfig struct {
	SecretKey           string `validate:"required"`
	PublicKey           string `validate:"required"`
	HMACSecret          string `validate:"required"`
	IntegrationIDs      []int  `validate:"min=1"`
	Mode                string `validate:"oneof=test live"`
	TestBaseURL         string `validate:"required,url"`
	LiveBaseURL         string `validate:"required,url"`
	CheckoutURLTemplate string `validate:"required"`
	Timeout             time.Duration
}

// BaseURL returns the API host for the configured mode
func (c PaymobConfig) BaseURL() string {
	if c.Mode == ModeLive {
		return c.LiveBaseURL
	}
	return c.TestBaseURL
}

// Enabled reports whether the gateway has been configured at all
func (c PaymobConfig) Enabled() bool {
	return c.SecretKey != ""
}

// Validate checks the gateway credentials
func (c PaymobConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("paymob: invalid configuration: %w", err)
	}
	return nil
}

var (
	validate = validator.New()

	instance *AppConfig
	once     sync.Once
	loadErr  error
)

// App returns the process configuration, loading it on first use
func App() (*AppConfig, error) {
	once.Do(func() {
		instance, loadErr = Load()
	})
	return instance, loadErr
}

// Load reads configuration from the .env file (if any) and the environment.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("APP_PORT", "9999")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_URL", "http://localhost:9999")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 120)
	v.SetDefault("DB_PATH", "data/storepay.db")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("OPENSEARCH_URL", "http://localhost:9200")
	v.SetDefault("ENABLE_OPENSEARCH_LOGGING", false)
	v.SetDefault("LOGGING_LEVEL", "info")

	v.SetDefault("PAYMENT_CURRENCY", "EGP")
	v.SetDefault("PAYMENT_REFERENCE_PREFIX", "Moda")
	v.SetDefault("PAYMENT_SUCCESS_URL", "http://localhost:3000/checkout/success")
	v.SetDefault("PAYMENT_FAILURE_URL", "http://localhost:3000/checkout/failure")
	v.SetDefault("PAYMENT_METHOD_MAP", "")
	v.SetDefault("PAYMENT_GATEWAY_TIMEOUT", "30s")
	v.SetDefault("PAYMENT_PENDING_TTL", "2h")
	v.SetDefault("PAYMENT_SWEEP_SCHEDULE", "0 */5 * * * *")
	v.SetDefault("PAYMENT_DEDUP_TTL", "24h")

	v.SetDefault("KASHIER_MODE", ModeTest)
	v.SetDefault("KASHIER_TEST_URL", "https://test-fep.kashier.io")
	v.SetDefault("KASHIER_LIVE_URL", "https://fep.kashier.io")
	v.SetDefault("KASHIER_CHECKOUT_URL", "https://checkout.kashier.io")

	v.SetDefault("PAYMOB_MODE", ModeTest)
	v.SetDefault("PAYMOB_TEST_URL", "https://accept.paymob.com")
	v.SetDefault("PAYMOB_LIVE_URL", "https://accept.paymob.com")
	v.SetDefault("PAYMOB_CHECKOUT_URL", "https://accept.paymob.com/unifiedcheckout/?publicKey={publicKey}&clientSecret={clientSecret}")

	gatewayTimeout, err := parseDuration(v, "PAYMENT_GATEWAY_TIMEOUT")
	if err != nil {
		return nil, err
	}
	pendingTTL, err := parseDuration(v, "PAYMENT_PENDING_TTL")
	if err != nil {
		return nil, err
	}
	dedupTTL, err := parseDuration(v, "PAYMENT_DEDUP_TTL")
	if err != nil {
		return nil, err
	}
	integrationIDs, err := parseIntList(v.GetString("PAYMOB_INTEGRATION_IDS"))
	if err != nil {
		return nil, fmt.Errorf("PAYMOB_INTEGRATION_IDS: %w", err)
	}

	cfg := &AppConfig{
		Server: ServerConfig{
			Port:           v.GetString("APP_PORT"),
			Environment:    v.GetString("APP_ENV"),
			IPWhitelist:    splitList(v.GetString("IP_WHITELIST")),
			AllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
			RateLimit:      v.GetInt("RATE_LIMIT_PER_MINUTE"),
		},
		Database: DatabaseConfig{
			Path: v.GetString("DB_PATH"),
		},
		Redis: RedisConfig{
			Addr: v.GetString("REDIS_ADDR"),
			Pass: v.GetString("REDIS_PASS"),
			DB:   v.GetInt("REDIS_DB"),
		},
		OpenSearch: OpenSearchConfig{
			Enabled: v.GetBool("ENABLE_OPENSEARCH_LOGGING"),
			URL:     v.GetString("OPENSEARCH_URL"),
			User:    v.GetString("OPENSEARCH_USER"),
			Pass:    v.GetString("OPENSEARCH_PASSWORD"),
		},
		Logging: LoggingConfig{
			Level: v.GetString("LOGGING_LEVEL"),
		},
		Payment: PaymentConfig{
			Currency:        strings.ToUpper(v.GetString("PAYMENT_CURRENCY")),
			ReferencePrefix: v.GetString("PAYMENT_REFERENCE_PREFIX"),
			AppURL:          strings.TrimRight(v.GetString("APP_URL"), "/"),
			SuccessURL:      v.GetString("PAYMENT_SUCCESS_URL"),
			FailureURL:      v.GetString("PAYMENT_FAILURE_URL"),
			MethodGateways:  ParseMethodMap(v.GetString("PAYMENT_METHOD_MAP")),
			GatewayTimeout:  gatewayTimeout,
			PendingTTL:      pendingTTL,
			SweepSchedule:   v.GetString("PAYMENT_SWEEP_SCHEDULE"),
			DedupTTL:        dedupTTL,
		},
		Kashier: KashierConfig{
			MerchantID:  v.GetString("KASHIER_MERCHANT_ID"),
			APIKey:      v.GetString("KASHIER_API_KEY"),
			SecretKey:   v.GetString("KASHIER_SECRET_KEY"),
			Mode:        v.GetString("KASHIER_MODE"),
			TestBaseURL: v.GetString("KASHIER_TEST_URL"),
			LiveBaseURL: v.GetString("KASHIER_LIVE_URL"),
			CheckoutURL: v.GetString("KASHIER_CHECKOUT_URL"),
			Timeout:     gatewayTimeout,
		},
		Paymob: PaymobConfig{
			SecretKey:           v.GetString("PAYMOB_SECRET_KEY"),
			PublicKey:           v.GetString("PAYMOB_PUBLIC_KEY"),
			HMACSecret:          v.GetString("PAYMOB_HMAC_SECRET"),
			IntegrationIDs:      integrationIDs,
			Mode:                v.GetString("PAYMOB_MODE"),
			TestBaseURL:         v.GetString("PAYMOB_TEST_URL"),
			LiveBaseURL:         v.GetString("PAYMOB_LIVE_URL"),
			CheckoutURLTemplate: v.GetString("PAYMOB_CHECKOUT_URL"),
			Timeout:             gatewayTimeout,
		},
	}

	if cfg.Kashier.Enabled() {
		if err := cfg.Kashier.Validate(); err != nil {
			return nil, err
		}
	}
	if cfg.Paymob.Enabled() {
		if err := cfg.Paymob.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// DefaultMethodGateways maps storefront payment methods to gateway names
func DefaultMethodGateways() map[string]string {
	return map[string]string{
		"card":             "kashier",
		"credit_card":      "kashier",
		"kashier":          "kashier",
		"wallet":           "kashier",
		"mobile_wallet":    "kashier",
		"paymob":           "paymob",
		"cod":              "cod",
		"cash_on_delivery": "cod",
	}
}

// ParseMethodMap parses "method:gateway,method:gateway" on top of the defaults.
// Malformed pairs are ignored.
func ParseMethodMap(raw string) map[string]string {
	methods := DefaultMethodGateways()
	for _, pair := range splitList(raw) {
		method, gateway, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		method = strings.ToLower(strings.TrimSpace(method))
		gateway = strings.ToLower(strings.TrimSpace(gateway))
		if method == "" || gateway == "" {
			continue
		}
		methods[method] = gateway
	}
	return methods
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func parseIntList(raw string) ([]int, error) {
	var out []int
	for _, item := range splitList(raw) {
		var n int
		if _, err := fmt.Sscanf(item, "%d", &n); err != nil {
			return nil, fmt.Errorf("invalid integer %q", item)
		}
		out = append(out, n)
	}
	return out, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
