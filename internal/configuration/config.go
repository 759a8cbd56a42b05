package configuration

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/joho/godotenv"
)

const defaultConfigPath = "config.dev.json"

type MongoConfig struct {
	Uri                    string `json:"uri"`
	Database               string `json:"database"`
	MessagesCollection     string `json:"messagesCollection"`
	SessionsCollection     string `json:"sessionsCollection"`
	IncomingCallCollection string `json:"incomingCallCollection"`
}

type DatabaseConfig struct {
	Dsn string `json:"dsn"`
}

type RedisConfig struct {
	Addr string `json:"addr"`
}

type ServerConfig struct {
	AppPort        int      `json:"app_port"`
	SocketPort     int      `json:"socket_port"`
	SocketRoute    string   `json:"socket_route"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type AuthConfig struct {
	JwtSecret      string `json:"jwt_secret"`
	Issuer         string `json:"issuer"`
	Audience       string `json:"audience"`
	RtcTokenSecret string `json:"rtc_token_secret"`
	RtcTokenTTLSec int    `json:"rtc_token_ttl_sec"`
}

type CallConfig struct {
	AllotmentMinutes      int     `json:"allotment_minutes"`
	RatePerMinute         float64 `json:"rate_per_minute"`
	Currency              string  `json:"currency"`
	IncomingCallTTLSec    int     `json:"incoming_call_ttl_sec"`
	DialogCloseDelayMs    int     `json:"dialog_close_delay_ms"`
	TickIntervalMs        int     `json:"tick_interval_ms"`
	ExpirySweepIntervalMs int     `json:"expiry_sweep_interval_ms"`
}

type LogConfig struct {
	Level string `json:"level"`
}

type Config struct {
	Database     DatabaseConfig `json:"postgres"`
	ChatDatabase MongoConfig    `json:"mongo"`
	Redis        RedisConfig    `json:"redis"`
	Server       ServerConfig   `json:"server"`
	Auth         AuthConfig     `json:"auth"`
	Call         CallConfig     `json:"call"`
	Log          LogConfig      `json:"log"`
}

func LoadConfig(config_path string) (*Config, error) {
	file, err := os.ReadFile(config_path)
	if err != nil {
		return nil, err
	}

	var config Config
	err = json.Unmarshal(file, &config)
	if err != nil {
		return nil, err
	}

	config.applyEnv()
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// ConfigPath returns CONFIG_PATH after loading .env, or the dev config
func ConfigPath() string {
	_ = godotenv.Load()
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return defaultConfigPath
}

// applyEnv lets secrets and endpoints come from the environment
func (c *Config) applyEnv() {
	overrides := map[string]*string{
		"JWT_SECRET":       &c.Auth.JwtSecret,
		"RTC_TOKEN_SECRET": &c.Auth.RtcTokenSecret,
		"MONGO_URI":        &c.ChatDatabase.Uri,
		"REDIS_ADDR":       &c.Redis.Addr,
		"POSTGRES_DSN":     &c.Database.Dsn,
	}
	for key, field := range overrides {
		if v := os.Getenv(key); v != "" {
			*field = v
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.AppPort == 0 {
		c.Server.AppPort = 8080
	}
	if c.Server.SocketPort == 0 {
		c.Server.SocketPort = 8081
	}
	if c.Server.SocketRoute == "" {
		c.Server.SocketRoute = "ws"
	}
	if c.ChatDatabase.MessagesCollection == "" {
		c.ChatDatabase.MessagesCollection = "messages"
	}
	if c.ChatDatabase.SessionsCollection == "" {
		c.ChatDatabase.SessionsCollection = "call_sessions"
	}
	if c.ChatDatabase.IncomingCallCollection == "" {
		c.ChatDatabase.IncomingCallCollection = "incoming_call_requests"
	}
	if c.Auth.Audience == "" {
		c.Auth.Audience = "authenticated"
	}
	if c.Auth.RtcTokenTTLSec == 0 {
		c.Auth.RtcTokenTTLSec = 3600
	}
	if c.Call.AllotmentMinutes == 0 {
		c.Call.AllotmentMinutes = 15
	}
	if c.Call.Currency == "" {
		c.Call.Currency = "INR"
	}
	if c.Call.IncomingCallTTLSec == 0 {
		c.Call.IncomingCallTTLSec = 120
	}
	if c.Call.DialogCloseDelayMs == 0 {
		c.Call.DialogCloseDelayMs = 500
	}
	if c.Call.TickIntervalMs == 0 {
		c.Call.TickIntervalMs = 1000
	}
	if c.Call.ExpirySweepIntervalMs == 0 {
		c.Call.ExpirySweepIntervalMs = 5000
	}
}

func (c *Config) validate() error {
	var errs []error
	if c.Auth.JwtSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret (or JWT_SECRET) is required"))
	}
	if c.Auth.RtcTokenSecret == "" {
		errs = append(errs, errors.New("auth.rtc_token_secret (or RTC_TOKEN_SECRET) is required"))
	}
	if c.ChatDatabase.Uri == "" || c.ChatDatabase.Database == "" {
		errs = append(errs, errors.New("mongo.uri and mongo.database are required"))
	}
	if c.Call.RatePerMinute < 0 {
		errs = append(errs, errors.New("call.rate_per_minute cannot be negative"))
	}
	return errors.Join(errs...)
}

func (c CallConfig) IncomingCallTTL() time.Duration {
	return time.Duration(c.IncomingCallTTLSec) * time.Second
}

func (c CallConfig) DialogCloseDelay() time.Duration {
	return time.Duration(c.DialogCloseDelayMs) * time.Millisecond
}

func (c CallConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

func (c CallConfig) ExpirySweepInterval() time.Duration {
	return time.Duration(c.ExpirySweepIntervalMs) * time.Millisecond
}
