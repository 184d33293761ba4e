package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the top-level typed configuration for the peripheral controller.
type Config struct {
	Serial    SerialConfig    `mapstructure:"serial"`
	MDB       MDBConfig       `mapstructure:"mdb"`
	Inventory InventoryConfig `mapstructure:"inventory"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	API       APIConfig       `mapstructure:"api"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Log       LogConfig       `mapstructure:"log"`
}

// SerialConfig describes the ASCII bridge serial port.
type SerialConfig struct {
	Port               string        `mapstructure:"port"`
	BaudRate           int           `mapstructure:"baud_rate"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeoutPause  time.Duration `mapstructure:"write_timeout_pause"`
}

// MDBConfig carries the timing and table parameters of the MDB session.
type MDBConfig struct {
	Denominations            []int         `mapstructure:"denominations"`
	BillTable                []int         `mapstructure:"bill_table"`
	PollInterval             time.Duration `mapstructure:"poll_interval"`
	EscrowDeadline           time.Duration `mapstructure:"escrow_deadline"`
	PayoutPollInterval       time.Duration `mapstructure:"payout_poll_interval"`
	PayoutDeadline           time.Duration `mapstructure:"payout_deadline"`
	CashlessEnableRetries    int           `mapstructure:"cashless_enable_retries"`
	CashlessResetTimeout     time.Duration `mapstructure:"cashless_reset_timeout"`
	CashlessApprovalTimeout  time.Duration `mapstructure:"cashless_approval_timeout"`
	DisplayTextMaxBytes      int           `mapstructure:"display_text_max_bytes"`
}

// InventoryConfig points at the write-through JSON snapshot.
type InventoryConfig struct {
	Path string `mapstructure:"path"`
}

// LedgerConfig selects the audit-ledger database.
type LedgerConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// APIConfig is the programmatic control surface listener.
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// WebSocketConfig is the EventBus's UI/telemetry fan-out listener.
type WebSocketConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	Path              string        `mapstructure:"path"`
	ReadBufferSize    int           `mapstructure:"read_buffer_size"`
	WriteBufferSize   int           `mapstructure:"write_buffer_size"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	PongTimeout       time.Duration `mapstructure:"pong_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	EnableCompression bool          `mapstructure:"enable_compression"`
}

// LogConfig configures the zap-backed logger.
type LogConfig struct {
	Level   string            `mapstructure:"level"`
	Format  string            `mapstructure:"format"`
	Output  string            `mapstructure:"output"`
	File    LogFileConfig     `mapstructure:"file"`
	Modules map[string]string `mapstructure:"modules"`
}

// LogFileConfig configures the lumberjack-rotated file sink.
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
	v    *viper.Viper
)

// Init loads configuration from configPath (or ./config.yaml, ./config/config.yaml)
// with SERIALCTL_-prefixed environment overrides, applying defaults for anything unset.
func Init(configPath string) error {
	var err error
	once.Do(func() {
		v = viper.New()

		if configPath != "" {
			v.SetConfigFile(configPath)
		} else {
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			v.AddConfigPath("./config")
			v.AddConfigPath(".")
		}

		v.SetEnvPrefix("SERIALCTL")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		setDefaults(v)

		if err = v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return
			}
		}

		cfg = &Config{}
		if err = v.Unmarshal(cfg); err != nil {
			return
		}
	})

	return err
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("serial.port", "/dev/ttyUSB0")
	v.SetDefault("serial.baud_rate", 115200)
	v.SetDefault("serial.read_timeout", "1s")
	v.SetDefault("serial.write_timeout_pause", "20ms")

	v.SetDefault("mdb.denominations", []int{10, 20, 50, 100, 200, 500})
	v.SetDefault("mdb.bill_table", []int{1000, 2000, 5000, 10000, 20000, 50000})
	v.SetDefault("mdb.poll_interval", "200ms")
	v.SetDefault("mdb.escrow_deadline", "5s")
	v.SetDefault("mdb.payout_poll_interval", "80ms")
	v.SetDefault("mdb.payout_deadline", "5s")
	v.SetDefault("mdb.cashless_enable_retries", 5)
	v.SetDefault("mdb.cashless_reset_timeout", "5s")
	v.SetDefault("mdb.cashless_approval_timeout", "30s")
	v.SetDefault("mdb.display_text_max_bytes", 32)

	v.SetDefault("inventory.path", "./data/inventory.json")

	v.SetDefault("ledger.driver", "sqlite")
	v.SetDefault("ledger.dsn", "./data/ledger.db")
	v.SetDefault("ledger.max_idle_conns", 10)
	v.SetDefault("ledger.max_open_conns", 50)
	v.SetDefault("ledger.conn_max_lifetime", "1h")
	v.SetDefault("ledger.log_level", "warn")
	v.SetDefault("ledger.auto_migrate", true)

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8090)
	v.SetDefault("api.mode", "release")

	v.SetDefault("websocket.host", "0.0.0.0")
	v.SetDefault("websocket.port", 8091)
	v.SetDefault("websocket.path", "/ws")
	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 1024)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_timeout", "60s")
	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.enable_compression", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "both")
	v.SetDefault("log.file.path", "./logs")
	v.SetDefault("log.file.filename", "mdbctl.log")
	v.SetDefault("log.file.max_size", 100)
	v.SetDefault("log.file.max_age", 30)
	v.SetDefault("log.file.max_backups", 7)
	v.SetDefault("log.file.compress", true)
}

// Get returns the current configuration snapshot.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Watch re-reads the whole configuration on file change, replaces the snapshot
// returned by Get, and passes it to callback. Nothing here re-applies a field
// to a running component: values copied at startup, such as the serial port
// of an open SerialLink, keep their startup value.
func Watch(callback func(*Config)) {
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		mu.Lock()
		defer mu.Unlock()

		newCfg := &Config{}
		if err := v.Unmarshal(newCfg); err != nil {
			fmt.Printf("config reload failed: %v\n", err)
			return
		}

		cfg = newCfg

		if callback != nil {
			callback(cfg)
		}
	})
}

// GetString returns a raw string value from the underlying viper instance.
func GetString(key string) string { return v.GetString(key) }

// GetInt returns a raw int value from the underlying viper instance.
func GetInt(key string) int { return v.GetInt(key) }

// GetBool returns a raw bool value from the underlying viper instance.
func GetBool(key string) bool { return v.GetBool(key) }

// GetFloat64 returns a raw float64 value from the underlying viper instance.
func GetFloat64(key string) float64 { return v.GetFloat64(key) }

// GetDuration returns a raw duration value from the underlying viper instance.
func GetDuration(key string) time.Duration { return v.GetDuration(key) }

// IsSet reports whether key has an explicit or default value.
func IsSet(key string) bool { return v.IsSet(key) }

// Set overrides a configuration value at runtime, primarily for tests.
func Set(key string, value interface{}) { v.Set(key, value) }
