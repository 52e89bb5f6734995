package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

//go:embed config.yml
var embeddedConfig []byte

type Config struct {
	Mode   string `mapstructure:"mode"`
	Server struct {
		HTTPPort    string        `mapstructure:"HTTPPort"`
		MetricsPort string        `mapstructure:"metricsPort"`
		Timeout     time.Duration `mapstructure:"HTTPTimeout"`
	} `mapstructure:"server"`
	Repositories struct {
		Postgres struct {
			Host     string `mapstructure:"host"`
			Password string `mapstructure:"password"`
			Port     string `mapstructure:"port"`
			Username string `mapstructure:"username"`
			DB       string `mapstructure:"db"`
			SSLMode  string `mapstructure:"sslmode"`
		} `mapstructure:"postgres"`
	} `mapstructure:"repositories"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Reset    ResetConfig    `mapstructure:"reset"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	OAuth    OAuthConfig    `mapstructure:"oauth"`
	Accounts AccountsConfig `mapstructure:"accounts"`
}

// AuthConfig drives the JWT session binder and authenticate middleware.
type AuthConfig struct {
	SecretKey    string        `mapstructure:"secretKey"`
	Issuer       string        `mapstructure:"issuer"`
	Audience     string        `mapstructure:"audience"`
	SessionTTL   time.Duration `mapstructure:"sessionTTL"`
	CookieName   string        `mapstructure:"cookieName"`
	CookieSecure bool          `mapstructure:"cookieSecure"`
}

// ResetConfig controls password-reset token issuance and the links embedded
// in outbound mail.
type ResetConfig struct {
	TokenTTL time.Duration `mapstructure:"tokenTTL"`
	BaseURL  string        `mapstructure:"baseURL"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// OAuthConfig carries per-provider credentials for the goth providers wired
// in main.
type OAuthConfig struct {
	CallbackBaseURL string              `mapstructure:"callbackBaseURL"`
	Providers       map[string]Provider `mapstructure:"providers"`
}

type Provider struct {
	ClientID     string `mapstructure:"clientID"`
	ClientSecret string `mapstructure:"clientSecret"`
}

// AccountsConfig holds account-policy knobs: the reserved username list and
// password length bounds.
type AccountsConfig struct {
	ReservedUsernames []string `mapstructure:"reservedUsernames"`
	PasswordMinLength int      `mapstructure:"passwordMinLength"`
	PasswordMaxLength int      `mapstructure:"passwordMaxLength"`
}

func InitConfig() (Config, error) {
	var config Config
	v := viper.New()

	// Add file-based config paths
	v.AddConfigPath(".")
	v.AddConfigPath("config")
	v.AddConfigPath("/app/config")

	v.SetConfigName("config")
	v.SetConfigType("yml")

	// Try to load file-based config
	err := v.ReadInConfig()
	if err != nil {
		fmt.Printf("Warning: Failed to find file-based config: %s. Falling back to embedded config.\n", err)
		if err = v.ReadConfig(bytes.NewReader(embeddedConfig)); err != nil {
			return Config{}, fmt.Errorf("failed to read embedded config: %s", err)
		}
	}

	// Unmarshal the config into the Config struct
	if err = v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %s", err)
	}

	// Secrets never live in the yml; env wins when set.
	applyEnvOverrides(&config)

	return config, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		cfg.Repositories.Postgres.Password = v
	}
	if v := os.Getenv("JWT_SECRET_KEY"); v != "" {
		cfg.Auth.SecretKey = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		cfg.SMTP.Password = v
	}
	for name, p := range cfg.OAuth.Providers {
		prefix := envPrefix(name)
		if v := os.Getenv(prefix + "_CLIENT_ID"); v != "" {
			p.ClientID = v
		}
		if v := os.Getenv(prefix + "_CLIENT_SECRET"); v != "" {
			p.ClientSecret = v
		}
		cfg.OAuth.Providers[name] = p
	}
}

func envPrefix(provider string) string {
	out := make([]rune, 0, len(provider))
	for _, r := range provider {
		if r >= 'a' && r <= 'z' {
			r = r - 'a' + 'A'
		}
		out = append(out, r)
	}
	return string(out)
}
