package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// SecurityConfig политика защиты целей
type SecurityConfig struct {
	RequireConfirmation bool     `yaml:"require_confirmation" toml:"require_confirmation"`
	AllowUnknownMedia   bool     `yaml:"allow_unknown_media" toml:"allow_unknown_media"`
	ExcludedTargets     []string `yaml:"excluded_targets" toml:"excluded_targets"`
	ProtectedPaths      []string `yaml:"protected_paths" toml:"protected_paths" validate:"dive,required"`
}

// WipeConfig параметры оркестратора
type WipeConfig struct {
	DefaultPattern string        `yaml:"default_pattern" toml:"default_pattern" validate:"omitempty,oneof=zero_fill one_fill random_fill nist_clear nist_purge dod_3pass dod_7pass gutmann_35"`
	ChunkSize      int           `yaml:"chunk_size" toml:"chunk_size" validate:"gte=512,lte=16777216"`
	MaxAttempts    int           `yaml:"max_attempts" toml:"max_attempts" validate:"gte=1,lte=10"`
	RetryBackoff   time.Duration `yaml:"retry_backoff" toml:"retry_backoff" validate:"gte=0"`
	MaxSpeedMBps   float64       `yaml:"max_speed_mbps" toml:"max_speed_mbps" validate:"gte=0,lte=10000"`
	MaxDuration    string        `yaml:"max_duration" toml:"max_duration"`
	AutoCertify    bool          `yaml:"auto_certify" toml:"auto_certify"`
}

// VerifyConfig параметры выборочной проверки
type VerifyConfig struct {
	SampleRatio float64 `yaml:"sample_ratio" toml:"sample_ratio" validate:"gt=0,lte=1"`
	MinBlocks   int     `yaml:"min_blocks" toml:"min_blocks" validate:"gte=1"`
}

// KeysConfig хранилище ключа подписи
type KeysConfig struct {
	KeystorePath  string `yaml:"keystore_path" toml:"keystore_path" validate:"required"`
	PassphraseEnv string `yaml:"passphrase_env" toml:"passphrase_env"`
	Bits          int    `yaml:"bits" toml:"bits" validate:"gte=2048,lte=8192"`
	Organization  string `yaml:"organization" toml:"organization"`
	Operator      string `yaml:"operator" toml:"operator"`
}

// LedgerConfig журнал выданных сертификатов
type LedgerConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path" validate:"required_if=Enabled true"`
}

// LoggingConfig параметры логирования
type LoggingConfig struct {
	Level      string `yaml:"level" toml:"level" validate:"oneof=DEBUG INFO WARN ERROR"`
	File       string `yaml:"file" toml:"file"`
	Structured bool   `yaml:"structured" toml:"structured"`
}

// ReportingConfig параметры отчётов
type ReportingConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	LocalPath string `yaml:"local_path" toml:"local_path" validate:"required_if=Enabled true"`
}

// Config конфигурация приложения
type Config struct {
	Security  SecurityConfig  `yaml:"security" toml:"security"`
	Wipe      WipeConfig      `yaml:"wipe" toml:"wipe"`
	Verify    VerifyConfig    `yaml:"verify" toml:"verify"`
	Keys      KeysConfig      `yaml:"keys" toml:"keys"`
	Ledger    LedgerConfig    `yaml:"ledger" toml:"ledger"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Reporting ReportingConfig `yaml:"reporting" toml:"reporting"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	return &Config{
		Security: SecurityConfig{
			RequireConfirmation: true,
			AllowUnknownMedia:   false,
			ExcludedTargets:     []string{},
			ProtectedPaths:      []string{"/", "/boot", "/boot/efi"},
		},
		Wipe: WipeConfig{
			DefaultPattern: "",
			ChunkSize:      4 * 1024, // 4KB
			MaxAttempts:    3,
			RetryBackoff:   50 * time.Millisecond,
			MaxSpeedMBps:   0, // без ограничения
			MaxDuration:    "",
			AutoCertify:    true,
		},
		Verify: VerifyConfig{
			SampleRatio: 0.01,
			MinBlocks:   16,
		},
		Keys: KeysConfig{
			KeystorePath:  "./keys/issuer.pem",
			PassphraseEnv: "WIPECERT_KEY_PASSPHRASE",
			Bits:          3072,
			Organization:  "",
			Operator:      "",
		},
		Ledger: LedgerConfig{
			Enabled: true,
			Path:    "./data/ledger.db",
		},
		Logging: LoggingConfig{
			Level:      "INFO",
			File:       "",
			Structured: true,
		},
		Reporting: ReportingConfig{
			Enabled:   true,
			LocalPath: "./reports",
		},
	}
}

// Load загружает конфигурацию из файла (YAML или TOML по расширению)
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// Незаданные поля сохраняют значения по умолчанию
	config := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate проверяет конфигурацию на валидность
func Validate(config *Config) error {
	if err := validate.Struct(config); err != nil {
		return err
	}

	// Размер чанка: степень двойки, кратная сектору
	if cs := config.Wipe.ChunkSize; cs%512 != 0 || cs&(cs-1) != 0 {
		return fmt.Errorf("chunk size must be a power of two multiple of 512, got %d", cs)
	}

	if config.Wipe.MaxDuration != "" {
		if _, err := time.ParseDuration(config.Wipe.MaxDuration); err != nil {
			return fmt.Errorf("invalid max duration format: %s", config.Wipe.MaxDuration)
		}
	}

	for _, path := range config.Security.ProtectedPaths {
		if filepath.Clean(path) == "." {
			return fmt.Errorf("invalid protected path: %s", path)
		}
	}

	return nil
}

// Save сохраняет конфигурацию в файл
func Save(config *Config, path string) error {
	if err := Validate(config); err != nil {
		return fmt.Errorf("cannot save invalid config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if strings.ToLower(filepath.Ext(path)) == ".toml" {
		var sb strings.Builder
		err = toml.NewEncoder(&sb).Encode(config)
		data = []byte(sb.String())
	} else {
		data, err = yaml.Marshal(config)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetMaxDuration возвращает максимальную длительность
func (config *Config) GetMaxDuration() time.Duration {
	if config.Wipe.MaxDuration == "" {
		return 0 // Без лимита
	}

	duration, err := time.ParseDuration(config.Wipe.MaxDuration)
	if err != nil {
		return 0
	}

	return duration
}

// MaxBytesPerSecond переводит лимит MB/s в байты
func (config *Config) MaxBytesPerSecond() int64 {
	return int64(config.Wipe.MaxSpeedMBps * 1024 * 1024)
}

// Passphrase читает пароль хранилища ключа из переменной окружения
func (config *Config) Passphrase() []byte {
	if config.Keys.PassphraseEnv == "" {
		return nil
	}
	v := os.Getenv(config.Keys.PassphraseEnv)
	if v == "" {
		return nil
	}
	return []byte(v)
}
