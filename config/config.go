package config

import (
	"os"
	"path"
	"strings"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// DBConfig Database config
type DBConfig struct {
	Type     string `yaml:"type"` // postgres | sqlite
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Passwd   string `yaml:"passwd"`
	MaxConn  int    `yaml:"max_conn"`
	IdleConn int    `yaml:"idle_conn"`
	Debug    bool   `yaml:"debug"`
}

// SysConfig System config
type SysConfig struct {
	Appid    string `yaml:"appid"`
	Location string `yaml:"location"`
	Workdir  string `yaml:"workdir"`
	Debug    bool   `yaml:"debug"`
}

// LogConfig Logger config
type LogConfig struct {
	Mode       string `yaml:"mode"`
	FileEnable bool   `yaml:"file_enable"`
	Filename   string `yaml:"filename"`
}

// WebConfig admin api listener, disabled when Port is 0
type WebConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Secret string `yaml:"secret"` // jwt signing key, empty disables auth
}

// WhatsAppConfig session supervision settings
type WhatsAppConfig struct {
	QRTTL           int    `yaml:"qr_ttl"`          // seconds
	ReconnectDelay  int    `yaml:"reconnect_delay"` // seconds
	AutoConnect     bool   `yaml:"auto_connect"`
	Workers         int    `yaml:"workers"`
	DeviceOS        string `yaml:"device_os"`
	TicketIdleHours int    `yaml:"ticket_idle_hours"`
}

// MediaConfig inbound media storage
type MediaConfig struct {
	Root         string `yaml:"root"`
	PublicPrefix string `yaml:"public_prefix"`
}

type AppConfig struct {
	System   SysConfig      `yaml:"system"`
	Database DBConfig       `yaml:"database"`
	Logger   LogConfig      `yaml:"logger"`
	Web      WebConfig      `yaml:"web"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
	Media    MediaConfig    `yaml:"media"`
}

func (c *AppConfig) GetLogDir() string {
	return path.Join(c.System.Workdir, "logs")
}

func (c *AppConfig) GetDataDir() string {
	return path.Join(c.System.Workdir, "data")
}

func (c *AppConfig) GetMediaDir() string {
	if c.Media.Root != "" {
		return c.Media.Root
	}
	return path.Join(c.System.Workdir, "public", "uploads")
}

// QRTTL returns the pairing challenge lifetime, 60s when unset.
func (c *AppConfig) QRTTL() time.Duration {
	if c.WhatsApp.QRTTL <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.WhatsApp.QRTTL) * time.Second
}

// ReconnectDelay returns the delay before a recoverable reconnect, 5s when unset.
func (c *AppConfig) ReconnectDelay() time.Duration {
	if c.WhatsApp.ReconnectDelay <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.WhatsApp.ReconnectDelay) * time.Second
}

func (c *AppConfig) InitDirs() {
	_ = os.MkdirAll(c.GetLogDir(), 0o755)
	_ = os.MkdirAll(c.GetDataDir(), 0o755)
	_ = os.MkdirAll(c.GetMediaDir(), 0o755)
}

var DefaultAppConfig = &AppConfig{
	System: SysConfig{
		Appid:    "ToughWA",
		Location: "Asia/Shanghai",
		Workdir:  "/var/toughwa",
		Debug:    true,
	},
	Database: DBConfig{
		Type:     "postgres",
		Host:     "127.0.0.1",
		Port:     5432,
		Name:     "toughwa",
		User:     "postgres",
		Passwd:   "myroot",
		MaxConn:  100,
		IdleConn: 10,
		Debug:    false,
	},
	Logger: LogConfig{
		Mode:       "development",
		FileEnable: true,
		Filename:   "/var/toughwa/logs/toughwa.log",
	},
	Web: WebConfig{
		Host: "0.0.0.0",
		Port: 1818,
	},
	WhatsApp: WhatsAppConfig{
		QRTTL:          60,
		ReconnectDelay: 5,
		AutoConnect:    true,
		Workers:        16,
		DeviceOS:       "ToughWA",
	},
	Media: MediaConfig{
		PublicPrefix: "/uploads",
	},
}

// LoadConfig reads the yaml file (if any) and applies TOUGHWA_* env overrides.
func LoadConfig(cfile string) *AppConfig {
	if cfile == "" {
		cfile = "toughwa.yml"
	}
	cfg := new(AppConfig)
	*cfg = *DefaultAppConfig
	if _, err := os.Stat(cfile); err == nil {
		data, err := os.ReadFile(cfile)
		if err != nil {
			panic(err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			panic(err)
		}
	}

	setEnvValue("TOUGHWA_SYSTEM_WORKER_DIR", &cfg.System.Workdir)
	setEnvValue("TOUGHWA_SYSTEM_LOCATION", &cfg.System.Location)
	setEnvBoolValue("TOUGHWA_SYSTEM_DEBUG", &cfg.System.Debug)

	setEnvValue("TOUGHWA_DB_TYPE", &cfg.Database.Type)
	setEnvValue("TOUGHWA_DB_HOST", &cfg.Database.Host)
	setEnvValue("TOUGHWA_DB_NAME", &cfg.Database.Name)
	setEnvValue("TOUGHWA_DB_USER", &cfg.Database.User)
	setEnvValue("TOUGHWA_DB_PWD", &cfg.Database.Passwd)
	setEnvIntValue("TOUGHWA_DB_PORT", &cfg.Database.Port)
	setEnvBoolValue("TOUGHWA_DB_DEBUG", &cfg.Database.Debug)

	setEnvValue("TOUGHWA_LOGGER_MODE", &cfg.Logger.Mode)
	setEnvBoolValue("TOUGHWA_LOGGER_FILE_ENABLE", &cfg.Logger.FileEnable)

	setEnvValue("TOUGHWA_WEB_HOST", &cfg.Web.Host)
	setEnvIntValue("TOUGHWA_WEB_PORT", &cfg.Web.Port)
	setEnvValue("TOUGHWA_WEB_SECRET", &cfg.Web.Secret)

	setEnvIntValue("TOUGHWA_WA_QR_TTL", &cfg.WhatsApp.QRTTL)
	setEnvIntValue("TOUGHWA_WA_RECONNECT_DELAY", &cfg.WhatsApp.ReconnectDelay)
	setEnvBoolValue("TOUGHWA_WA_AUTO_CONNECT", &cfg.WhatsApp.AutoConnect)
	setEnvIntValue("TOUGHWA_WA_WORKERS", &cfg.WhatsApp.Workers)
	setEnvIntValue("TOUGHWA_WA_TICKET_IDLE_HOURS", &cfg.WhatsApp.TicketIdleHours)

	setEnvValue("TOUGHWA_MEDIA_ROOT", &cfg.Media.Root)
	setEnvValue("TOUGHWA_MEDIA_PUBLIC_PREFIX", &cfg.Media.PublicPrefix)

	return cfg
}

func setEnvValue(name string, val *string) {
	var evalue = os.Getenv(name)
	if evalue != "" {
		*val = evalue
	}
}

func setEnvBoolValue(name string, val *bool) {
	var evalue = strings.TrimSpace(os.Getenv(name))
	if evalue != "" {
		*val = cast.ToBool(evalue)
	}
}

func setEnvIntValue(name string, val *int) {
	var evalue = strings.TrimSpace(os.Getenv(name))
	if evalue == "" {
		return
	}
	if v, err := cast.ToIntE(evalue); err == nil {
		*val = v
	}
}
