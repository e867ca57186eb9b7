package config

import (
	"os"
	"path"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Public  Public
	Private Private
}

type Public struct {
	Addr          string        `yaml:"addr"`
	BaseURL       string        `yaml:"base_url"` // external URL used when building activation/reset links
	CorsOrigin    string        `yaml:"cors_origin"`
	SecureCookies bool          `yaml:"secure_cookies"`
	JwtTTL        time.Duration `yaml:"jwt_ttl"`

	// Activation and reset tokens expire after this many day-buckets.
	TokenTTLDays   int `yaml:"token_ttl_days"`
	MinPasswordLen int `yaml:"min_password_len"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

type Private struct {
	Pg          Pg     `yaml:"pg"`
	JwtKey      string `yaml:"jwt_key"`
	TokenSecret string `yaml:"token_secret"` // keys the derived activation/reset tokens, independent from jwt_key
	Email       Email  `yaml:"email"`
}

type Pg struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Dbname   string `yaml:"dbname"`
}

type Email struct {
	SMTPServer string `yaml:"smtp_server"`
	SMTPPort   int    `yaml:"smtp_port"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	SenderName string `yaml:"sender_name"`
	Timeout    int    `yaml:"timeout"` // seconds
}

func (c *Config) JwtKey() string {
	return c.Private.JwtKey
}

func (c *Config) JwtTTL() time.Duration {
	return c.Public.JwtTTL
}

func mustLoadPath(configPath string, output interface{}) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}
	configFile, err := os.ReadFile(configPath)
	if err != nil {
		panic("can't read config file")
	}

	if err = yaml.Unmarshal(configFile, output); err != nil {
		panic("can't unmarshal config file")
	}
}

func MustLoad(configFolder string) *Config {
	var public Public
	mustLoadPath(path.Join(configFolder, "public.yaml"), &public)

	var private Private
	mustLoadPath(path.Join(configFolder, "private.yaml"), &private)

	cfg := &Config{public, private}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Public.Addr == "" {
		c.Public.Addr = ":8080"
	}
	if c.Public.TokenTTLDays == 0 {
		c.Public.TokenTTLDays = 3
	}
	if c.Public.MinPasswordLen == 0 {
		c.Public.MinPasswordLen = 8
	}
	if c.Public.JwtTTL == 0 {
		c.Public.JwtTTL = 24 * time.Hour
	}
}
