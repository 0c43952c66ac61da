package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bnema/accountctl/internal/domain"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	configName = "config"
	configType = "toml"
	envPrefix  = "ACCOUNTCTL"

	DataDirEnv     = "ACCOUNTCTL_DATA_DIR"
	defaultDataDir = ".accountctl"

	SessionBackendFile  = "file"
	SessionBackendRedis = "redis"

	SecretsBackendPass = "pass"
	SecretsBackendFile = "file"

	MinOperationTimeout = 5 * time.Second
	MaxOperationTimeout = 45 * time.Second
)

type Config struct {
	DataDir  string         `mapstructure:"data_dir"`
	Log      LogConfig      `mapstructure:"log"`
	Accounts AccountsConfig `mapstructure:"accounts"`
	Secrets  SecretsConfig  `mapstructure:"secrets"`
	Proxies  ProxiesConfig  `mapstructure:"proxies"`
	Sessions SessionsConfig `mapstructure:"sessions"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Platform PlatformConfig `mapstructure:"platform"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type AccountsConfig struct {
	Path string `mapstructure:"path"`
}

type SecretsConfig struct {
	// Backend "pass" tries the pass store first and falls back to files.
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	// PassDir overrides PASSWORD_STORE_DIR for the pass backend.
	PassDir string `mapstructure:"pass_dir"`
}

type ProxiesConfig struct {
	List            []string `mapstructure:"list"`
	File            string   `mapstructure:"file"`
	AssignmentsPath string   `mapstructure:"assignments_path"`
	// Required turns an exhausted pool into a per-account failure instead of a
	// degraded direct connection.
	Required bool `mapstructure:"required"`
}

type SessionsConfig struct {
	Backend     string        `mapstructure:"backend"`
	Dir         string        `mapstructure:"dir"`
	AbsoluteTTL time.Duration `mapstructure:"absolute_ttl"`
	IdleTTL     time.Duration `mapstructure:"idle_ttl"`
	Passphrase  string        `mapstructure:"passphrase"`
	KeyPath     string        `mapstructure:"key_path"`
	SaltPath    string        `mapstructure:"salt_path"`
	Redis       RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type AuthConfig struct {
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

type JobsConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type BrowserConfig struct {
	Headless   bool   `mapstructure:"headless"`
	Bin        string `mapstructure:"bin"`
	ControlURL string `mapstructure:"control_url"`
}

type PlatformConfig struct {
	Name            string          `mapstructure:"name"`
	HomeURL         string          `mapstructure:"home_url"`
	LoginURL        string          `mapstructure:"login_url"`
	RequiredCookies []string        `mapstructure:"required_cookies"`
	Selectors       SelectorsConfig `mapstructure:"selectors"`
}

type SelectorsConfig struct {
	Username           []string `mapstructure:"username"`
	Password           []string `mapstructure:"password"`
	Submit             []string `mapstructure:"submit"`
	SecondFactorInput  []string `mapstructure:"second_factor_input"`
	SecondFactorSubmit []string `mapstructure:"second_factor_submit"`
	LoggedIn           []string `mapstructure:"logged_in"`
	SecondFactorPrompt []string `mapstructure:"second_factor_prompt"`
	Suspended          []string `mapstructure:"suspended"`
	Challenge          []string `mapstructure:"challenge"`
	LoginError         []string `mapstructure:"login_error"`
	MessageInput       []string `mapstructure:"message_input"`
	MessageSend        []string `mapstructure:"message_send"`
}

// DefaultDataDir resolves the data directory from ACCOUNTCTL_DATA_DIR or ~/.accountctl.
func DefaultDataDir() (string, error) {
	if dir := strings.TrimSpace(os.Getenv(DataDirEnv)); dir != "" {
		return filepath.Abs(dir)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}

	return filepath.Join(homeDir, defaultDataDir), nil
}

// Load reads config.toml from dataDir into v, applying defaults and
// ACCOUNTCTL_* environment overrides. A missing config file is not an error.
func Load(v *viper.Viper, dataDir string) (Config, error) {
	if v == nil {
		v = viper.New()
	}

	v.SetConfigName(configName)
	v.SetConfigType(configType)
	v.AddConfigPath(dataDir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, dataDir)

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.DataDir = dataDir
	cfg.Auth.OperationTimeout = ClampOperationTimeout(cfg.Auth.OperationTimeout)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, dataDir string) {
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "console")
	v.SetDefault("accounts.path", filepath.Join(dataDir, "accounts.toml"))
	v.SetDefault("secrets.backend", SecretsBackendPass)
	v.SetDefault("secrets.dir", filepath.Join(dataDir, "secrets"))
	v.SetDefault("secrets.pass_dir", "")
	v.SetDefault("proxies.list", []string{})
	v.SetDefault("proxies.file", "")
	v.SetDefault("proxies.assignments_path", filepath.Join(dataDir, "proxy_assignments.toml"))
	v.SetDefault("proxies.required", false)
	v.SetDefault("sessions.backend", SessionBackendFile)
	v.SetDefault("sessions.dir", filepath.Join(dataDir, "sessions"))
	v.SetDefault("sessions.absolute_ttl", 720*time.Hour)
	v.SetDefault("sessions.idle_ttl", 168*time.Hour)
	v.SetDefault("sessions.passphrase", "")
	v.SetDefault("sessions.key_path", filepath.Join(dataDir, "session.key"))
	v.SetDefault("sessions.salt_path", filepath.Join(dataDir, "session.salt"))
	v.SetDefault("sessions.redis.addr", "127.0.0.1:6379")
	v.SetDefault("sessions.redis.username", "")
	v.SetDefault("sessions.redis.password", "")
	v.SetDefault("sessions.redis.db", 0)
	v.SetDefault("sessions.redis.prefix", "accountctl:session:")
	v.SetDefault("auth.operation_timeout", 30*time.Second)
	v.SetDefault("jobs.concurrency", 3)
	v.SetDefault("jobs.poll_interval", domain.DefaultPollInterval)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.bin", "")
	v.SetDefault("browser.control_url", "")
	v.SetDefault("platform.name", "")
	v.SetDefault("platform.home_url", "")
	v.SetDefault("platform.login_url", "")
	v.SetDefault("platform.required_cookies", []string{"auth_token"})
}

func (c Config) Validate() error {
	if c.Jobs.Concurrency < 0 {
		return fmt.Errorf("%w: jobs.concurrency must not be negative", ErrInvalidConfig)
	}
	if c.Jobs.PollInterval <= 0 || c.Jobs.PollInterval > domain.MaxPollInterval {
		return fmt.Errorf("%w: jobs.poll_interval must be in (0, %s]", ErrInvalidConfig, domain.MaxPollInterval)
	}
	if c.Sessions.AbsoluteTTL <= 0 || c.Sessions.IdleTTL <= 0 {
		return fmt.Errorf("%w: session ttls must be positive", ErrInvalidConfig)
	}
	if c.Sessions.IdleTTL > c.Sessions.AbsoluteTTL {
		return fmt.Errorf("%w: sessions.idle_ttl exceeds sessions.absolute_ttl", ErrInvalidConfig)
	}
	switch c.Sessions.Backend {
	case SessionBackendFile, SessionBackendRedis:
	default:
		return fmt.Errorf("%w: unknown sessions.backend %q", ErrInvalidConfig, c.Sessions.Backend)
	}
	switch c.Secrets.Backend {
	case SecretsBackendPass, SecretsBackendFile:
	default:
		return fmt.Errorf("%w: unknown secrets.backend %q", ErrInvalidConfig, c.Secrets.Backend)
	}
	if _, err := domain.ParseProxies(c.Proxies.List); err != nil {
		return fmt.Errorf("%w: proxies.list: %w", ErrInvalidConfig, err)
	}

	return nil
}

var ErrInvalidConfig = errors.New("invalid config")

// ClampOperationTimeout keeps per-operation browser timeouts within 5-45s.
func ClampOperationTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}
	if d < MinOperationTimeout {
		return MinOperationTimeout
	}
	if d > MaxOperationTimeout {
		return MaxOperationTimeout
	}
	return d
}

// ProxyRecords parses the static proxy list plus the optional proxy file, in that order.
func (c Config) ProxyRecords() ([]domain.ProxyRecord, error) {
	lines := append([]string{}, c.Proxies.List...)
	if strings.TrimSpace(c.Proxies.File) != "" {
		data, err := os.ReadFile(c.Proxies.File)
		if err != nil {
			return nil, fmt.Errorf("read proxy file: %w", err)
		}
		lines = append(lines, strings.Split(string(data), "\n")...)
	}

	records, err := domain.ParseProxies(lines)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return records, nil
}

func (c PlatformConfig) ToPlatform() domain.Platform {
	s := c.Selectors
	return domain.Platform{
		Name:            c.Name,
		HomeURL:         c.HomeURL,
		LoginURL:        c.LoginURL,
		RequiredCookies: c.RequiredCookies,
		Selectors: domain.PlatformSelectors{
			Username:           s.Username,
			Password:           s.Password,
			Submit:             s.Submit,
			SecondFactorInput:  s.SecondFactorInput,
			SecondFactorSubmit: s.SecondFactorSubmit,
			LoggedIn:           s.LoggedIn,
			SecondFactorPrompt: s.SecondFactorPrompt,
			Suspended:          s.Suspended,
			Challenge:          s.Challenge,
			LoginError:         s.LoginError,
			MessageInput:       s.MessageInput,
			MessageSend:        s.MessageSend,
		},
	}
}
