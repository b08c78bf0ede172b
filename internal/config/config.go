// Package config resolves settings from defaults, a TOML file, SECURESTORE_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	BackendKeyring = "keyring"
	BackendFile    = "file"

	defaultService    = "securestore"
	defaultRSABits    = 4096
	defaultLevel      = 34
	defaultRetryDelay = 100 * time.Millisecond
	defaultLogLevel   = "warn"
	defaultLogFormat  = "text"

	// KeyFile is the file backend's database inside storage.dir.
	KeyFile = "platform-keys.db"

	envPrefix = "SECURESTORE_"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Storage  StorageConfig  `toml:"storage"`
	Keystore KeystoreConfig `toml:"keystore"`
	Platform PlatformConfig `toml:"platform"`
	Retry    RetryConfig    `toml:"retry"`
	Logging  LoggingConfig  `toml:"logging"`
}

type StorageConfig struct {
	Dir string `toml:"dir"`
}

type KeystoreConfig struct {
	Backend string `toml:"backend"`
	Service string `toml:"service"`
	RSABits int    `toml:"rsa_bits"`
	// File overrides the file backend's database path.
	File string `toml:"file"`
}

type PlatformConfig struct {
	Level int `toml:"level"`
}

type RetryConfig struct {
	Delay time.Duration `toml:"delay"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type LoadOptions struct {
	ConfigPath string
	Env        map[string]string
	Flags      FlagOverrides
}

// FlagOverrides carries flags the user actually set; nil means unset.
type FlagOverrides struct {
	Dir      *string
	Backend  *string
	Level    *int
	LogLevel *string
}

// KeyFilePath is where the file backend keeps platform keys.
func (c Config) KeyFilePath() string {
	if c.Keystore.File != "" {
		return c.Keystore.File
	}
	return filepath.Join(c.Storage.Dir, KeyFile)
}

func DefaultConfig(opts LoadOptions) (Config, error) {
	dir, err := defaultDataDir(opts)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Storage: StorageConfig{Dir: dir},
		Keystore: KeystoreConfig{
			Backend: BackendKeyring,
			Service: defaultService,
			RSABits: defaultRSABits,
		},
		Platform: PlatformConfig{Level: defaultLevel},
		Retry:    RetryConfig{Delay: defaultRetryDelay},
		Logging: LoggingConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}, nil
}

func Load(opts LoadOptions) (Config, error) {
	cfg, err := DefaultConfig(opts)
	if err != nil {
		return Config{}, fmt.Errorf("resolve defaults: %w", err)
	}

	configPath, err := resolveConfigPath(opts)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}
	if err := loadAndApplyFile(configPath, opts.ConfigPath != "", &cfg); err != nil {
		return Config{}, err
	}
	if err := applyEnvOverrides(&cfg, opts); err != nil {
		return Config{}, err
	}
	applyFlagOverrides(&cfg, opts.Flags)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type rawConfig struct {
	Storage  *rawStorage  `toml:"storage"`
	Keystore *rawKeystore `toml:"keystore"`
	Platform *rawPlatform `toml:"platform"`
	Retry    *rawRetry    `toml:"retry"`
	Logging  *rawLogging  `toml:"logging"`
}

type rawStorage struct {
	Dir *string `toml:"dir"`
}

type rawKeystore struct {
	Backend *string `toml:"backend"`
	Service *string `toml:"service"`
	RSABits *int    `toml:"rsa_bits"`
	File    *string `toml:"file"`
}

type rawPlatform struct {
	Level *int `toml:"level"`
}

type rawRetry struct {
	Delay *string `toml:"delay"`
}

type rawLogging struct {
	Level  *string `toml:"level"`
	Format *string `toml:"format"`
}

// loadAndApplyFile tolerates a missing default file but not a missing
// explicitly requested one.
func loadAndApplyFile(path string, explicit bool, cfg *Config) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("read config file %q: %w", path, err)
	}

	var raw rawConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: parse TOML file %q: %v", ErrInvalidConfig, path, err)
	}
	return applyRawConfig(cfg, raw)
}

func applyRawConfig(cfg *Config, raw rawConfig) error {
	if raw.Storage != nil {
		setString(raw.Storage.Dir, &cfg.Storage.Dir)
	}
	if raw.Keystore != nil {
		setString(raw.Keystore.Backend, &cfg.Keystore.Backend)
		setString(raw.Keystore.Service, &cfg.Keystore.Service)
		setInt(raw.Keystore.RSABits, &cfg.Keystore.RSABits)
		setString(raw.Keystore.File, &cfg.Keystore.File)
	}
	if raw.Platform != nil {
		setInt(raw.Platform.Level, &cfg.Platform.Level)
	}
	if raw.Retry != nil {
		if err := setDuration("retry.delay", raw.Retry.Delay, &cfg.Retry.Delay); err != nil {
			return err
		}
	}
	if raw.Logging != nil {
		setString(raw.Logging.Level, &cfg.Logging.Level)
		setString(raw.Logging.Format, &cfg.Logging.Format)
	}
	return nil
}

func applyEnvOverrides(cfg *Config, opts LoadOptions) error {
	if value, ok := lookupEnv(opts, envPrefix+"DIR"); ok {
		cfg.Storage.Dir = value
	}
	if value, ok := lookupEnv(opts, envPrefix+"BACKEND"); ok {
		cfg.Keystore.Backend = value
	}
	if value, ok := lookupEnv(opts, envPrefix+"SERVICE"); ok {
		cfg.Keystore.Service = value
	}
	if value, ok := lookupEnv(opts, envPrefix+"KEY_FILE"); ok {
		cfg.Keystore.File = value
	}
	if value, ok := lookupEnv(opts, envPrefix+"RSA_BITS"); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: parse %sRSA_BITS: %v", ErrInvalidConfig, envPrefix, err)
		}
		cfg.Keystore.RSABits = parsed
	}
	if value, ok := lookupEnv(opts, envPrefix+"PLATFORM_LEVEL"); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: parse %sPLATFORM_LEVEL: %v", ErrInvalidConfig, envPrefix, err)
		}
		cfg.Platform.Level = parsed
	}
	if value, ok := lookupEnv(opts, envPrefix+"RETRY_DELAY"); ok {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%w: parse %sRETRY_DELAY: %v", ErrInvalidConfig, envPrefix, err)
		}
		cfg.Retry.Delay = d
	}
	if value, ok := lookupEnv(opts, envPrefix+"LOG_LEVEL"); ok {
		cfg.Logging.Level = value
	}
	if value, ok := lookupEnv(opts, envPrefix+"LOG_FORMAT"); ok {
		cfg.Logging.Format = value
	}
	return nil
}

func applyFlagOverrides(cfg *Config, flags FlagOverrides) {
	setString(flags.Dir, &cfg.Storage.Dir)
	setString(flags.Backend, &cfg.Keystore.Backend)
	setInt(flags.Level, &cfg.Platform.Level)
	setString(flags.LogLevel, &cfg.Logging.Level)
}

func validate(cfg Config) error {
	if cfg.Storage.Dir == "" {
		return fmt.Errorf("%w: storage.dir must not be empty", ErrInvalidConfig)
	}
	switch cfg.Keystore.Backend {
	case BackendKeyring, BackendFile:
	default:
		return fmt.Errorf("%w: keystore.backend must be %q or %q, got %q", ErrInvalidConfig, BackendKeyring, BackendFile, cfg.Keystore.Backend)
	}
	if cfg.Keystore.Service == "" {
		return fmt.Errorf("%w: keystore.service must not be empty", ErrInvalidConfig)
	}
	if cfg.Keystore.RSABits < 2048 || cfg.Keystore.RSABits%1024 != 0 {
		return fmt.Errorf("%w: keystore.rsa_bits must be a multiple of 1024 and >= 2048", ErrInvalidConfig)
	}
	if cfg.Platform.Level <= 0 {
		return fmt.Errorf("%w: platform.level must be > 0", ErrInvalidConfig)
	}
	if cfg.Retry.Delay < 0 || cfg.Retry.Delay > 10*time.Second {
		return fmt.Errorf("%w: retry.delay must be >= 0 and <= 10s", ErrInvalidConfig)
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: logging.format must be text or json", ErrInvalidConfig)
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: logging.level must be debug, info, warn or error", ErrInvalidConfig)
	}
	return nil
}

func setDuration(field string, raw *string, target *time.Duration) error {
	if raw == nil {
		return nil
	}
	d, err := time.ParseDuration(*raw)
	if err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, field, err)
	}
	*target = d
	return nil
}

func setString(raw *string, target *string) {
	if raw != nil {
		*target = *raw
	}
}

func setInt(raw *int, target *int) {
	if raw != nil {
		*target = *raw
	}
}

func resolveConfigPath(opts LoadOptions) (string, error) {
	if opts.ConfigPath != "" {
		return opts.ConfigPath, nil
	}
	if value, ok := lookupEnv(opts, envPrefix+"CONFIG"); ok {
		return value, nil
	}
	return defaultConfigPath(opts)
}

func lookupEnv(opts LoadOptions, key string) (string, bool) {
	if opts.Env != nil {
		if value, ok := opts.Env[key]; ok {
			return value, true
		}
	}
	return os.LookupEnv(key)
}

func defaultDataDir(opts LoadOptions) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}
	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "securestore"), nil
	}
	dataHome := filepath.Join(home, ".local", "share")
	if xdg, ok := lookupEnv(opts, "XDG_DATA_HOME"); ok && xdg != "" {
		dataHome = xdg
	}
	return filepath.Join(dataHome, "securestore"), nil
}

func defaultConfigPath(opts LoadOptions) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}
	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "securestore", "config.toml"), nil
	}
	configHome := filepath.Join(home, ".config")
	if xdg, ok := lookupEnv(opts, "XDG_CONFIG_HOME"); ok && xdg != "" {
		configHome = xdg
	}
	return filepath.Join(configHome, "securestore", "config.toml"), nil
}
