package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// UnsetContentURL is the placeholder the rebranding templates write
// before a client's content address is known. The shell treats it the
// same as a missing address.
const UnsetContentURL = "__CONTENT_URL__"

type Config struct {
	Port           int
	APIKey         string
	VerboseLogging bool
	RateLimit      int
	PublicURL      string

	BrandFile string
	Brand     Brand

	Platform         string
	PlatformAPILevel int
	PushPermission   string

	PushRelayURL    string
	PushRelayAPIKey string
	VAPIDPublicKey  string
	VAPIDPrivateKey string

	TokenRetries      int
	TokenRetryDelay   time.Duration
	DeniedNoticeDelay time.Duration
	ReloadOnSameToken bool

	StoragePath string

	ChromePath       string
	ChromeRemoteURL  string
	ChromeProfileDir string
	ChromeHeadless   bool

	InstalledAppSchemes []string

	TelegramBotToken string
	TelegramChatID   int64
}

func Load() (*Config, error) {
	brand, brandFile, err := LoadBrandFromEnv()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:           getEnvInt("PORT", 8080),
		APIKey:         os.Getenv("API_KEY"),
		VerboseLogging: getEnvBool("VERBOSE_LOGGING", false),
		RateLimit:      getEnvInt("RATE_LIMIT", 100),
		PublicURL:      os.Getenv("PUBLIC_URL"),

		BrandFile: brandFile,
		Brand:     brand,

		Platform:         getEnvString("PLATFORM", "desktop"),
		PlatformAPILevel: getEnvInt("PLATFORM_API_LEVEL", 0),
		PushPermission:   getEnvString("PUSH_PERMISSION", "granted"),

		PushRelayURL:    os.Getenv("PUSH_RELAY_URL"),
		PushRelayAPIKey: os.Getenv("PUSH_RELAY_API_KEY"),
		VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),

		TokenRetries:      getEnvInt("TOKEN_RETRIES", 3),
		TokenRetryDelay:   getEnvDuration("TOKEN_RETRY_DELAY", time.Second),
		DeniedNoticeDelay: getEnvDuration("DENIED_NOTICE_DELAY", 1500*time.Millisecond),
		ReloadOnSameToken: getEnvBool("RELOAD_ON_SAME_TOKEN", true),

		StoragePath: getEnvString("STORAGE_PATH", "./data/brandshell.db"),

		ChromePath:       os.Getenv("CHROME_PATH"),
		ChromeRemoteURL:  os.Getenv("CHROME_REMOTE_URL"),
		ChromeProfileDir: getEnvString("CHROME_PROFILE_DIR", "./data/chrome"),
		ChromeHeadless:   getEnvBool("CHROME_HEADLESS", false),

		InstalledAppSchemes: getEnvList("INSTALLED_APP_SCHEMES"),

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   getEnvInt64("TELEGRAM_CHAT_ID", 0),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadBrandFromEnv reads the brand profile named by BRAND_FILE and
// applies the environment overrides. The default brand.yaml may be
// absent; an explicitly named file may not.
func LoadBrandFromEnv() (Brand, string, error) {
	brandFile := getEnvString("BRAND_FILE", "brand.yaml")
	brand, err := LoadBrand(brandFile)
	if err != nil {
		if !os.IsNotExist(err) || os.Getenv("BRAND_FILE") != "" {
			return Brand{}, brandFile, fmt.Errorf("failed to load brand profile: %w", err)
		}
		brand = Brand{}
	}
	brand.applyEnvOverrides()
	return brand, brandFile, nil
}

// applyEnvOverrides lets the environment win over the brand profile for
// the values operators most often patch per deployment.
func (b *Brand) applyEnvOverrides() {
	if v := os.Getenv("CONTENT_URL"); v != "" {
		b.ContentURL = v
	}
	if v := getEnvList("ALLOWED_DOMAINS"); len(v) > 0 {
		b.AllowedDomains = v
	}
	if v := os.Getenv("BRAND_NAME"); v != "" {
		b.Name = v
	}
	if v := os.Getenv("PACKAGE_ID"); v != "" {
		b.PackageID = v
	}
	b.applyDefaults()
}

func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API_KEY environment variable is required")
	}
	if c.TokenRetries < 0 {
		return fmt.Errorf("TOKEN_RETRIES must not be negative")
	}
	switch c.PushPermission {
	case "granted", "denied":
	default:
		return fmt.Errorf("PUSH_PERMISSION must be granted or denied, got %q", c.PushPermission)
	}
	if c.TelegramBotToken != "" && c.TelegramChatID == 0 {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	return nil
}

// ContentURLConfigured reports whether a usable content address was
// provided. A missing address is not a load error: the lifecycle turns
// it into its terminal configuration-error state.
func (c *Config) ContentURLConfigured() bool {
	u := strings.TrimSpace(c.Brand.ContentURL)
	return u != "" && u != UnsetContentURL
}

func (c *Config) IsPushRelayEnabled() bool {
	return c.PushRelayURL != ""
}

func (c *Config) IsTelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != 0
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
