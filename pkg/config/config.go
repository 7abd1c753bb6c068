package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	MongoDB MongoDBConfig `mapstructure:"mongodb"`
	Files   FilesConfig   `mapstructure:"files"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Lock    LockConfig    `mapstructure:"lock"`
	Etcd    EtcdConfig    `mapstructure:"etcd"`
	AMQP    AMQPConfig    `mapstructure:"amqp"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	Name string `mapstructure:"name"`
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

const (
	DriverAuto  = "auto"
	DriverMongo = "mongo"
	DriverFile  = "file"
)

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type MongoDBConfig struct {
	URI                string        `mapstructure:"uri"`
	Database           string        `mapstructure:"database"`
	ProductsCollection string        `mapstructure:"products_collection"`
	OrdersCollection   string        `mapstructure:"orders_collection"`
	CountersCollection string        `mapstructure:"counters_collection"`
	AuditCollection    string        `mapstructure:"audit_collection"`
	Timeout            time.Duration `mapstructure:"timeout"`
}

var mongoURIPattern = regexp.MustCompile(`(?i)^mongodb(\+srv)?://`)

// Usable reports whether the URI looks like a MongoDB connection string.
func (c *MongoDBConfig) Usable() bool {
	return mongoURIPattern.MatchString(c.URI)
}

type FilesConfig struct {
	Dir      string `mapstructure:"dir"`
	ReadOnly bool   `mapstructure:"read_only"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	PoolSize int           `mapstructure:"pool_size"`
	TTL      time.Duration `mapstructure:"ttl"`
}

func (c *RedisConfig) Enabled() bool { return c.Addr != "" }

const (
	DisciplineMutex = "mutex"
	DisciplineActor = "actor"
	DisciplineEtcd  = "etcd"
)

type LockConfig struct {
	Discipline string        `mapstructure:"discipline"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Prefix      string        `mapstructure:"prefix"`
	SessionTTL  int           `mapstructure:"session_ttl"`
	// Register announces this instance under ServicePrefix when endpoints
	// are configured.
	Register      bool   `mapstructure:"register"`
	ServicePrefix string `mapstructure:"service_prefix"`
	LeaseTTL      int64  `mapstructure:"lease_ttl"`
}

func (c *EtcdConfig) Enabled() bool { return len(c.Endpoints) > 0 }

type AMQPConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

func (c *AMQPConfig) Enabled() bool { return c.URL != "" }

type NotifyConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	Audit   bool          `mapstructure:"audit"`
}

type LogConfig struct {
	Level       string   `mapstructure:"level"`
	Encoding    string   `mapstructure:"encoding"`
	OutputPaths []string `mapstructure:"output_paths"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "storefront")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("storage.driver", DriverAuto)

	v.SetDefault("mongodb.uri", "")
	v.SetDefault("mongodb.database", "storefront")
	v.SetDefault("mongodb.products_collection", "products")
	v.SetDefault("mongodb.orders_collection", "orders")
	v.SetDefault("mongodb.counters_collection", "counters")
	v.SetDefault("mongodb.audit_collection", "audit_logs")
	v.SetDefault("mongodb.timeout", 10*time.Second)

	v.SetDefault("files.dir", "data")
	v.SetDefault("files.read_only", false)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.ttl", time.Minute)

	v.SetDefault("lock.discipline", DisciplineMutex)
	v.SetDefault("lock.timeout", 10*time.Second)

	v.SetDefault("etcd.endpoints", []string{})
	v.SetDefault("etcd.dial_timeout", 5*time.Second)
	v.SetDefault("etcd.prefix", "/storefront/locks/")
	v.SetDefault("etcd.session_ttl", 10)
	v.SetDefault("etcd.register", false)
	v.SetDefault("etcd.service_prefix", "/storefront/services/")
	v.SetDefault("etcd.lease_ttl", 30)

	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.exchange", "storefront")

	v.SetDefault("notify.timeout", 10*time.Second)
	v.SetDefault("notify.audit", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("log.output_paths", []string{"stdout"})
}

// Load reads the YAML file at configPath, if any, and applies environment
// overrides (STOREFRONT_<SECTION>_<KEY>, plus the legacy MONGODB_URI).
// A missing file is not an error; defaults and the environment still apply.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("STOREFRONT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("mongodb.uri", "STOREFRONT_MONGODB_URI", "MONGODB_URI"); err != nil {
		return nil, fmt.Errorf("failed to bind env: %w", err)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")

		// Read config file
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverAuto, DriverFile:
	case DriverMongo:
		if !c.MongoDB.Usable() {
			return fmt.Errorf("storage driver mongo needs a mongodb:// or mongodb+srv:// uri")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Lock.Discipline {
	case DisciplineMutex, DisciplineActor:
	case DisciplineEtcd:
		if !c.Etcd.Enabled() {
			return fmt.Errorf("lock discipline etcd needs etcd.endpoints")
		}
	default:
		return fmt.Errorf("unknown lock discipline %q", c.Lock.Discipline)
	}
	return nil
}

// StorageDriver resolves "auto" to mongo when a usable URI is configured.
func (c *Config) StorageDriver() string {
	if c.Storage.Driver != DriverAuto {
		return c.Storage.Driver
	}
	if c.MongoDB.Usable() {
		return DriverMongo
	}
	return DriverFile
}
