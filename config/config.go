package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	cierrors "certinv/internal/errors"
	"certinv/internal/logger"
	"certinv/internal/validation"
)

// Environment represents the application environment.
type Environment string

const (
	EnvDev  Environment = "dev"
	EnvProd Environment = "prod"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	DirectoryCertaaS  = "certaas"
	DirectoryVault    = "vault"
	DirectoryDisabled = "disabled"
)

const (
	defaultPort             = "52000"
	defaultMaxConns         = 10
	defaultDirectoryTimeout = 15 * time.Second
	defaultVaultMount       = "pki"
	defaultSessionTTL       = 12 * time.Hour
)

// Config holds application configuration.
type Config struct {
	Env                  Environment
	Port                 string
	TrustProxy           bool
	Logging              logger.Options
	Database             DatabaseConfig
	Directory            DirectoryConfig
	Auth                 AuthConfig
	ExpirationThresholds ExpirationThresholds
	RateLimit            RateLimitConfig
	SeedTeamsFile        string
}

type DatabaseConfig struct {
	Driver         string
	URL            string
	MigrateOnStart bool
	MaxConns       int32
}

// DirectoryConfig selects and configures the external certificate authority.
type DirectoryConfig struct {
	Kind        string
	URL         string
	Token       string
	Timeout     time.Duration
	TLSInsecure bool
	VaultAddr   string
	VaultToken  string
	VaultMount  string
}

type AuthConfig struct {
	Users         []UserSettings
	SessionTTL    time.Duration
	SecureCookies bool
}

// UserSettings is one operator allowed to sign in. PasswordHash is normally a
// bcrypt hash produced by `server hash-password`.
type UserSettings struct {
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`
	TOTPSecret   string `json:"totp_secret,omitempty"`
}

// ExpirationThresholds holds certificate expiration alert thresholds (in days).
type ExpirationThresholds struct {
	Critical int `json:"critical"`
	Warning  int `json:"warning"`
}

type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration
}

type SettingsFile struct {
	App          AppSettings         `json:"app"`
	Database     DatabaseSettings    `json:"database"`
	Directory    DirectorySettings   `json:"directory"`
	Auth         AuthSettings        `json:"auth"`
	Certificates CertificateSettings `json:"certificates"`
	RateLimit    RateLimitSettings   `json:"rate_limit"`
	Seed         SeedSettings        `json:"seed"`
}

type AppSettings struct {
	Env        string          `json:"env"`
	Port       int             `json:"port"`
	TrustProxy *bool           `json:"trust_proxy"`
	Logging    LoggingSettings `json:"logging"`
}

type LoggingSettings struct {
	Level    string `json:"level"`
	Format   string `json:"format"`
	Output   string `json:"output"`
	FilePath string `json:"file_path"`
}

type DatabaseSettings struct {
	Driver         string `json:"driver"`
	URL            string `json:"url"`
	MigrateOnStart *bool  `json:"migrate_on_start"`
	MaxConns       int    `json:"max_conns"`
}

type DirectorySettings struct {
	Kind           string        `json:"kind"`
	URL            string        `json:"url"`
	Token          string        `json:"token"`
	TimeoutSeconds int           `json:"timeout_seconds"`
	TLSInsecure    bool          `json:"tls_insecure"`
	Vault          VaultSettings `json:"vault"`
}

type VaultSettings struct {
	Addr  string `json:"addr"`
	Token string `json:"token"`
	Mount string `json:"mount"`
}

type AuthSettings struct {
	Users           []UserSettings `json:"users"`
	SessionTTLHours int            `json:"session_ttl_hours"`
	SecureCookies   *bool          `json:"secure_cookies"`
}

type CertificateSettings struct {
	ExpirationThresholds ExpirationThresholds `json:"expiration_thresholds"`
}

type RateLimitSettings struct {
	MaxRequests   int `json:"max_requests"`
	WindowSeconds int `json:"window_seconds"`
}

type SeedSettings struct {
	TeamsFile string `json:"teams_file"`
}

// Load builds the configuration from defaults, then the settings file when
// one is found, then environment variables, each layer overriding the last.
// A settings file that exists but cannot be parsed is an error.
func Load() (Config, error) {
	_ = godotenv.Load()

	env := parseEnv(getEnv("APP_ENV", "dev"))
	settings, settingsPath, err := loadSettingsFile(env)
	if err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("invalid settings file %s: %w", settingsPath, err)
	}
	if settings != nil && strings.TrimSpace(settings.App.Env) != "" && os.Getenv("APP_ENV") == "" {
		env = parseEnv(settings.App.Env)
	}

	cfg := defaults(env)
	if settings != nil {
		applySettings(&cfg, *settings)
	}
	applyEnv(&cfg)
	return cfg, nil
}

func defaults(env Environment) Config {
	return Config{
		Env:  env,
		Port: defaultPort,
		Logging: logger.Options{
			Level:  defaultLogLevel(env),
			Format: defaultLogFormat(env),
			Output: "stdout",
		},
		Database: DatabaseConfig{
			Driver:         DriverMemory,
			MigrateOnStart: true,
			MaxConns:       defaultMaxConns,
		},
		Directory: DirectoryConfig{
			Kind:       DirectoryDisabled,
			Timeout:    defaultDirectoryTimeout,
			VaultMount: defaultVaultMount,
		},
		Auth: AuthConfig{
			SessionTTL:    defaultSessionTTL,
			SecureCookies: env == EnvProd,
		},
		ExpirationThresholds: ExpirationThresholds{Critical: 7, Warning: 30},
		RateLimit:            RateLimitConfig{MaxRequests: 300, Window: time.Minute},
	}
}

func loadSettingsFile(env Environment) (*SettingsFile, string, error) {
	if settingsPath := strings.TrimSpace(getEnv("SETTINGS_PATH", "")); settingsPath != "" {
		settings, err := readSettings(settingsPath)
		return settings, settingsPath, err
	}
	candidates := []string{fmt.Sprintf("settings.%s.json", env), "settings.json", "/etc/certinv/settings.json"}
	for _, candidate := range candidates {
		absPath, absErr := filepath.Abs(candidate)
		if absErr != nil {
			continue
		}
		if _, statErr := os.Stat(absPath); statErr != nil {
			continue
		}
		settings, err := readSettings(absPath)
		return settings, absPath, err
	}
	return nil, "", os.ErrNotExist
}

func readSettings(path string) (*SettingsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var settings SettingsFile
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

func applySettings(cfg *Config, settings SettingsFile) {
	if settings.App.Port > 0 {
		cfg.Port = strconv.Itoa(settings.App.Port)
	}
	if settings.App.TrustProxy != nil {
		cfg.TrustProxy = *settings.App.TrustProxy
	}
	setString(&cfg.Logging.Level, settings.App.Logging.Level)
	setString(&cfg.Logging.Format, settings.App.Logging.Format)
	setString(&cfg.Logging.Output, settings.App.Logging.Output)
	setString(&cfg.Logging.FilePath, settings.App.Logging.FilePath)

	setString(&cfg.Database.URL, settings.Database.URL)
	if cfg.Database.URL != "" {
		cfg.Database.Driver = DriverPostgres
	}
	setString(&cfg.Database.Driver, settings.Database.Driver)
	if settings.Database.MigrateOnStart != nil {
		cfg.Database.MigrateOnStart = *settings.Database.MigrateOnStart
	}
	if settings.Database.MaxConns > 0 {
		cfg.Database.MaxConns = int32(settings.Database.MaxConns)
	}

	dir := settings.Directory
	setString(&cfg.Directory.URL, dir.URL)
	if cfg.Directory.URL != "" {
		cfg.Directory.Kind = DirectoryCertaaS
	}
	setString(&cfg.Directory.Kind, dir.Kind)
	setString(&cfg.Directory.Token, dir.Token)
	if dir.TimeoutSeconds > 0 {
		cfg.Directory.Timeout = time.Duration(dir.TimeoutSeconds) * time.Second
	}
	cfg.Directory.TLSInsecure = cfg.Directory.TLSInsecure || dir.TLSInsecure
	setString(&cfg.Directory.VaultAddr, dir.Vault.Addr)
	setString(&cfg.Directory.VaultToken, dir.Vault.Token)
	setString(&cfg.Directory.VaultMount, dir.Vault.Mount)

	if len(settings.Auth.Users) > 0 {
		cfg.Auth.Users = settings.Auth.Users
	}
	if settings.Auth.SessionTTLHours > 0 {
		cfg.Auth.SessionTTL = time.Duration(settings.Auth.SessionTTLHours) * time.Hour
	}
	if settings.Auth.SecureCookies != nil {
		cfg.Auth.SecureCookies = *settings.Auth.SecureCookies
	}

	if settings.Certificates.ExpirationThresholds.Critical > 0 {
		cfg.ExpirationThresholds.Critical = settings.Certificates.ExpirationThresholds.Critical
	}
	if settings.Certificates.ExpirationThresholds.Warning > 0 {
		cfg.ExpirationThresholds.Warning = settings.Certificates.ExpirationThresholds.Warning
	}
	if settings.RateLimit.MaxRequests > 0 {
		cfg.RateLimit.MaxRequests = settings.RateLimit.MaxRequests
	}
	if settings.RateLimit.WindowSeconds > 0 {
		cfg.RateLimit.Window = time.Duration(settings.RateLimit.WindowSeconds) * time.Second
	}
	setString(&cfg.SeedTeamsFile, settings.Seed.TeamsFile)
}

func applyEnv(cfg *Config) {
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.TrustProxy = getEnvBool("TRUST_PROXY", cfg.TrustProxy)
	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.Output = getEnv("LOG_OUTPUT", cfg.Logging.Output)
	cfg.Logging.FilePath = getEnv("LOG_FILE_PATH", cfg.Logging.FilePath)

	if url := getEnv("DATABASE_URL", ""); url != "" {
		cfg.Database.URL = url
		cfg.Database.Driver = DriverPostgres
	}
	cfg.Database.Driver = strings.ToLower(getEnv("DATABASE_DRIVER", cfg.Database.Driver))
	cfg.Database.MigrateOnStart = getEnvBool("DATABASE_MIGRATE", cfg.Database.MigrateOnStart)
	cfg.Database.MaxConns = int32(getEnvInt("DATABASE_MAX_CONNS", int(cfg.Database.MaxConns)))

	if url := getEnv("DIRECTORY_URL", ""); url != "" {
		cfg.Directory.URL = url
		cfg.Directory.Kind = DirectoryCertaaS
	}
	cfg.Directory.Kind = strings.ToLower(getEnv("DIRECTORY_KIND", cfg.Directory.Kind))
	cfg.Directory.Token = getEnv("DIRECTORY_TOKEN", cfg.Directory.Token)
	if seconds := getEnvInt("DIRECTORY_TIMEOUT_SECONDS", 0); seconds > 0 {
		cfg.Directory.Timeout = time.Duration(seconds) * time.Second
	}
	cfg.Directory.TLSInsecure = getEnvBool("DIRECTORY_TLS_INSECURE", cfg.Directory.TLSInsecure)
	cfg.Directory.VaultAddr = getEnv("VAULT_ADDR", cfg.Directory.VaultAddr)
	cfg.Directory.VaultToken = getEnv("VAULT_TOKEN", cfg.Directory.VaultToken)
	cfg.Directory.VaultMount = getEnv("VAULT_PKI_MOUNT", cfg.Directory.VaultMount)

	if users := parseUsersEnv(getEnv("AUTH_USERS", "")); len(users) > 0 {
		cfg.Auth.Users = users
	}
	if hours := getEnvInt("SESSION_TTL_HOURS", 0); hours > 0 {
		cfg.Auth.SessionTTL = time.Duration(hours) * time.Hour
	}
	cfg.Auth.SecureCookies = getEnvBool("SECURE_COOKIES", cfg.Auth.SecureCookies)

	cfg.ExpirationThresholds.Critical = getEnvInt("CERTINV_EXPIRE_CRITICAL", cfg.ExpirationThresholds.Critical)
	cfg.ExpirationThresholds.Warning = getEnvInt("CERTINV_EXPIRE_WARNING", cfg.ExpirationThresholds.Warning)
	cfg.RateLimit.MaxRequests = getEnvInt("RATE_LIMIT_MAX_REQUESTS", cfg.RateLimit.MaxRequests)
	if seconds := getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 0); seconds > 0 {
		cfg.RateLimit.Window = time.Duration(seconds) * time.Second
	}
	cfg.SeedTeamsFile = getEnv("SEED_TEAMS_FILE", cfg.SeedTeamsFile)
}

// parseUsersEnv reads "email:hash[:totp],email:hash" lists. Bcrypt hashes
// contain neither separator.
func parseUsersEnv(value string) []UserSettings {
	var users []UserSettings
	for _, entry := range strings.Split(value, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		user := UserSettings{Email: parts[0], PasswordHash: parts[1]}
		if len(parts) > 2 {
			user.TOTPSecret = parts[2]
		}
		users = append(users, user)
	}
	return users
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("%w: port %q", cierrors.ErrInvalidAddress, c.Port)
	}
	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres:
		if err := validation.ValidateDatabaseURL(c.Database.URL); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %q", cierrors.ErrInvalidDriver, c.Database.Driver)
	}
	switch c.Directory.Kind {
	case DirectoryDisabled:
	case DirectoryCertaaS:
		if err := validation.ValidateAddress(c.Directory.URL); err != nil {
			return fmt.Errorf("directory url: %w", err)
		}
	case DirectoryVault:
		if err := validation.ValidateAddress(c.Directory.VaultAddr); err != nil {
			return fmt.Errorf("vault addr: %w", err)
		}
		if strings.TrimSpace(c.Directory.VaultToken) == "" {
			return fmt.Errorf("%w: vault token is empty", cierrors.ErrInvalidDirectory)
		}
	default:
		return fmt.Errorf("%w: %q", cierrors.ErrInvalidDirectory, c.Directory.Kind)
	}
	for _, value := range []int{c.ExpirationThresholds.Critical, c.ExpirationThresholds.Warning} {
		if err := validation.ValidateExpirationThreshold(value); err != nil {
			return err
		}
	}
	if c.ExpirationThresholds.Critical > c.ExpirationThresholds.Warning {
		return fmt.Errorf("%w: critical exceeds warning", cierrors.ErrInvalidThreshold)
	}
	for _, user := range c.Auth.Users {
		if strings.TrimSpace(user.Email) == "" || strings.TrimSpace(user.PasswordHash) == "" {
			return fmt.Errorf("%w: auth user needs email and password hash", cierrors.ErrInvalidCredentials)
		}
	}
	return nil
}

// IsDev returns true if the environment is development.
func (c Config) IsDev() bool {
	return c.Env == EnvDev
}

// IsProd returns true if the environment is production.
func (c Config) IsProd() bool {
	return c.Env == EnvProd
}

func parseEnv(s string) Environment {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "prod", "production":
		return EnvProd
	default:
		return EnvDev
	}
}

func defaultLogLevel(env Environment) string {
	if env == EnvProd {
		return "info"
	}
	return "debug"
}

func defaultLogFormat(env Environment) string {
	if env == EnvProd {
		return "json"
	}
	return "console"
}

func setString(target *string, value string) {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		*target = trimmed
	}
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
