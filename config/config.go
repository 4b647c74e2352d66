package config

import (
	"os"
	"path"
	"strings"
	"time"

	"github.com/labstack/gommon/random"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/talkincode/wabot/pkg/common"
)

// SysConfig system configuration
type SysConfig struct {
	Appid    string `yaml:"appid"`
	Location string `yaml:"location"`
	Workdir  string `yaml:"workdir"`
	Debug    bool   `yaml:"debug"`
}

// WebConfig api server configuration
type WebConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	JwtSecret      string   `yaml:"jwt_secret"`
	JwtTTLHours    int      `yaml:"jwt_ttl_hours"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AdminUser      string   `yaml:"admin_user"`
	AdminEmail     string   `yaml:"admin_email"`
	AdminPassword  string   `yaml:"admin_password"`
}

// DBConfig database configuration.
// Type is one of postgres, mysql, sqlite, mongo, bolt.
type DBConfig struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Passwd   string `yaml:"passwd"`
	URL      string `yaml:"url"`
	MaxConn  int    `yaml:"max_conn"`
	IdleConn int    `yaml:"idle_conn"`
	Debug    bool   `yaml:"debug"`
}

// LogConfig logging configuration
type LogConfig struct {
	Mode       string `yaml:"mode"`
	FileEnable bool   `yaml:"file_enable"`
	Filename   string `yaml:"filename"`
}

// WhatsAppConfig bot runtime configuration
type WhatsAppConfig struct {
	DefaultCountryCode   string        `yaml:"default_country_code"`
	QRTimeout            time.Duration `yaml:"qr_timeout"`
	HealthInterval       time.Duration `yaml:"health_interval"`
	MaxHealthFailures    int           `yaml:"max_health_failures"`
	BulkWorkers          int           `yaml:"bulk_workers"`
	BulkRatePerSecond    float64       `yaml:"bulk_rate_per_second"`
	MediaMaxBytes        int64         `yaml:"media_max_bytes"`
	MediaDir             string        `yaml:"media_dir"`
	MessageRetentionDays int           `yaml:"message_retention_days"`
	AutoRestore          bool          `yaml:"auto_restore"`
	PrintQR              bool          `yaml:"print_qr"`
}

type AppConfig struct {
	System   SysConfig      `yaml:"system"`
	Web      WebConfig      `yaml:"web"`
	Database DBConfig       `yaml:"database"`
	Logger   LogConfig      `yaml:"logger"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`

	secretGenerated bool
}

// SecretGenerated reports whether the jwt secret was generated at load time
// because none was configured.
func (c *AppConfig) SecretGenerated() bool {
	return c.secretGenerated
}

func (c *AppConfig) GetLogDir() string {
	return path.Join(c.System.Workdir, "logs")
}

func (c *AppConfig) GetDataDir() string {
	return path.Join(c.System.Workdir, "data")
}

// GetWhatsmeowDBPath is the sqlite file used for device sessions when the
// application database cannot host them.
func (c *AppConfig) GetWhatsmeowDBPath() string {
	return path.Join(c.GetDataDir(), "whatsmeow.db")
}

func (c *AppConfig) GetBoltPath() string {
	return path.Join(c.GetDataDir(), "wabot.bolt")
}

// DatabaseIncomplete reports whether the configured database lacks the
// fields needed to connect. Callers fall back to the bolt file store.
func (c *AppConfig) DatabaseIncomplete() bool {
	switch strings.ToLower(c.Database.Type) {
	case "postgres", "postgresql", "mysql":
		return c.Database.Host == "" || c.Database.Name == ""
	case "mongo", "mongodb":
		return c.Database.URL == ""
	case "sqlite", "sqlite3":
		return c.Database.Name == ""
	}
	return false
}

// GetMediaDir is the only directory file_path sends may read from.
func (c *AppConfig) GetMediaDir() string {
	if c.WhatsApp.MediaDir != "" {
		return c.WhatsApp.MediaDir
	}
	return path.Join(c.System.Workdir, "media")
}

func (c *AppConfig) initDirs() {
	_ = os.MkdirAll(path.Join(c.System.Workdir, "logs"), 0o700)
	_ = os.MkdirAll(path.Join(c.System.Workdir, "data"), 0o700)
	_ = os.MkdirAll(c.GetMediaDir(), 0o700)
}

var DefaultAppConfig = &AppConfig{
	System: SysConfig{
		Appid:    "wabot",
		Location: "Asia/Tehran",
		Workdir:  "/var/wabot",
		Debug:    true,
	},
	Web: WebConfig{
		Host:           "0.0.0.0",
		Port:           5000,
		JwtTTLHours:    24,
		AllowedOrigins: []string{"http://localhost:3000"},
	},
	Database: DBConfig{
		Type:     "sqlite",
		Name:     "wabot.db",
		MaxConn:  100,
		IdleConn: 10,
	},
	Logger: LogConfig{
		Mode:       "development",
		FileEnable: true,
		Filename:   "/var/wabot/logs/wabot.log",
	},
	WhatsApp: WhatsAppConfig{
		DefaultCountryCode:   "98",
		QRTimeout:            3 * time.Minute,
		HealthInterval:       time.Minute,
		MaxHealthFailures:    10,
		BulkWorkers:          4,
		BulkRatePerSecond:    2,
		MediaMaxBytes:        16 << 20,
		MessageRetentionDays: 365,
		AutoRestore:          true,
	},
}

func LoadConfig(cfile string) *AppConfig {
	if cfile == "" {
		cfile = "wabot.yml"
	}
	if !common.FileExists(cfile) {
		cfile = "/etc/wabot.yml"
	}
	cfg := defaultCopy()
	if common.FileExists(cfile) {
		data, err := os.ReadFile(cfile)
		if err != nil {
			zap.S().Errorf("read config file %s error: %s", cfile, err)
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			zap.S().Errorf("load config file %s error: %s", cfile, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	cfg.initDirs()
	return cfg
}

func defaultCopy() *AppConfig {
	cfg := *DefaultAppConfig
	cfg.Web.AllowedOrigins = append([]string(nil), DefaultAppConfig.Web.AllowedOrigins...)
	return &cfg
}

func setEnvValue(name string, val *string) {
	if v := os.Getenv(name); v != "" {
		*val = v
	}
}

func setEnvIntValue(name string, val *int) {
	if v := os.Getenv(name); v != "" {
		if i, err := cast.ToIntE(v); err == nil {
			*val = i
		}
	}
}

func setEnvBoolValue(name string, val *bool) {
	if v := os.Getenv(name); v != "" {
		if b, err := cast.ToBoolE(v); err == nil {
			*val = b
		}
	}
}

func setEnvDurationValue(name string, val *time.Duration) {
	if v := os.Getenv(name); v != "" {
		if d, err := cast.ToDurationE(v); err == nil {
			*val = d
		}
	}
}

func (c *AppConfig) applyEnv() {
	setEnvValue("WABOT_SYSTEM_WORKER_DIR", &c.System.Workdir)
	setEnvValue("WABOT_SYSTEM_LOCATION", &c.System.Location)
	setEnvBoolValue("WABOT_SYSTEM_DEBUG", &c.System.Debug)

	setEnvIntValue("PORT", &c.Web.Port)
	setEnvValue("WABOT_WEB_HOST", &c.Web.Host)
	setEnvIntValue("WABOT_WEB_PORT", &c.Web.Port)
	setEnvValue("JWT_SECRET", &c.Web.JwtSecret)
	setEnvValue("WABOT_WEB_SECRET", &c.Web.JwtSecret)
	setEnvValue("WABOT_ADMIN_USER", &c.Web.AdminUser)
	setEnvValue("WABOT_ADMIN_EMAIL", &c.Web.AdminEmail)
	setEnvValue("WABOT_ADMIN_PASSWORD", &c.Web.AdminPassword)
	if v := os.Getenv("FRONTEND_URL"); v != "" {
		c.Web.AllowedOrigins = strings.Split(v, ",")
	}

	setEnvValue("WABOT_DB_TYPE", &c.Database.Type)
	setEnvValue("DB_HOST", &c.Database.Host)
	setEnvValue("WABOT_DB_HOST", &c.Database.Host)
	setEnvIntValue("DB_PORT", &c.Database.Port)
	setEnvIntValue("WABOT_DB_PORT", &c.Database.Port)
	setEnvValue("DB_NAME", &c.Database.Name)
	setEnvValue("WABOT_DB_NAME", &c.Database.Name)
	setEnvValue("DB_USER", &c.Database.User)
	setEnvValue("WABOT_DB_USER", &c.Database.User)
	setEnvValue("DB_PASSWORD", &c.Database.Passwd)
	setEnvValue("WABOT_DB_PWD", &c.Database.Passwd)
	setEnvBoolValue("WABOT_DB_DEBUG", &c.Database.Debug)
	if v := os.Getenv("MONGODB_URI"); v != "" {
		c.Database.Type = "mongo"
		c.Database.URL = v
	}
	setEnvValue("WABOT_DB_URL", &c.Database.URL)

	setEnvValue("WABOT_LOGGER_MODE", &c.Logger.Mode)
	setEnvBoolValue("WABOT_LOGGER_FILE_ENABLE", &c.Logger.FileEnable)

	setEnvValue("WABOT_WA_COUNTRY_CODE", &c.WhatsApp.DefaultCountryCode)
	setEnvDurationValue("WABOT_WA_QR_TIMEOUT", &c.WhatsApp.QRTimeout)
	setEnvDurationValue("WABOT_WA_HEALTH_INTERVAL", &c.WhatsApp.HealthInterval)
	setEnvIntValue("WABOT_WA_MAX_HEALTH_FAILURES", &c.WhatsApp.MaxHealthFailures)
	setEnvIntValue("WABOT_WA_BULK_WORKERS", &c.WhatsApp.BulkWorkers)
	setEnvIntValue("WABOT_WA_RETENTION_DAYS", &c.WhatsApp.MessageRetentionDays)
	setEnvValue("WABOT_WA_MEDIA_DIR", &c.WhatsApp.MediaDir)
	setEnvBoolValue("WABOT_WA_AUTO_RESTORE", &c.WhatsApp.AutoRestore)
	setEnvBoolValue("WABOT_WA_PRINT_QR", &c.WhatsApp.PrintQR)
}

func (c *AppConfig) applyDefaults() {
	if c.System.Workdir == "" {
		c.System.Workdir = DefaultAppConfig.System.Workdir
	}
	if c.Web.Port == 0 {
		c.Web.Port = DefaultAppConfig.Web.Port
	}
	if c.Web.JwtTTLHours <= 0 {
		c.Web.JwtTTLHours = 24
	}
	if c.Web.JwtSecret == "" {
		c.Web.JwtSecret = random.String(32)
		c.secretGenerated = true
	}
	if c.Database.Type == "" {
		c.Database.Type = "bolt"
	}
	if c.Logger.Filename == "" {
		c.Logger.Filename = path.Join(c.GetLogDir(), "wabot.log")
	}
	wa := &c.WhatsApp
	def := DefaultAppConfig.WhatsApp
	if wa.DefaultCountryCode == "" {
		wa.DefaultCountryCode = def.DefaultCountryCode
	}
	if wa.QRTimeout <= 0 {
		wa.QRTimeout = def.QRTimeout
	}
	if wa.HealthInterval <= 0 {
		wa.HealthInterval = def.HealthInterval
	}
	if wa.MaxHealthFailures <= 0 {
		wa.MaxHealthFailures = def.MaxHealthFailures
	}
	if wa.BulkWorkers <= 0 {
		wa.BulkWorkers = def.BulkWorkers
	}
	if wa.BulkRatePerSecond <= 0 {
		wa.BulkRatePerSecond = def.BulkRatePerSecond
	}
	if wa.MediaMaxBytes <= 0 {
		wa.MediaMaxBytes = def.MediaMaxBytes
	}
}
