package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const defaultConfigPath = "./config/local.yaml"

type Config struct {
	Env      string   `yaml:"env" env:"ENV" env-default:"local"`
	LogLevel string   `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	HTTP     HTTP     `yaml:"http"`
	GRPC     GRPC     `yaml:"grpc"`
	MySQL    MySQL    `yaml:"mysql"`
	Redis    Redis    `yaml:"redis"`
	Kafka    Kafka    `yaml:"kafka"`
	Auth     Auth     `yaml:"auth"`
	Checkout Checkout `yaml:"checkout"`
}

type HTTP struct {
	Port    string        `yaml:"port" env:"HTTP_PORT" env-default:":8080"`
	Timeout time.Duration `yaml:"timeout" env-default:"10s"`
}

type GRPC struct {
	Port string `yaml:"port" env:"GRPC_PORT" env-default:":50051"`
}

type MySQL struct {
	DSN             string        `yaml:"dsn" env:"MYSQL_DSN" env-default:"root:root@tcp(localhost:3306)/storefront?parseTime=true&multiStatements=true"`
	MaxOpenConns    int           `yaml:"max_open_conns" env-default:"50"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env-default:"25"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env-default:"5m"`
	Migrate         bool          `yaml:"migrate" env:"MYSQL_MIGRATE" env-default:"true"`
}

type Redis struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	PoolSize int           `yaml:"pool_size" env-default:"100"`
	CartTTL  time.Duration `yaml:"cart_ttl" env:"CART_TTL" env-default:"336h"`
}

type Kafka struct {
	Brokers   []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	Topic     string   `yaml:"topic" env:"KAFKA_TOPIC" env-default:"storefront.orders"`
	Workers   int      `yaml:"workers" env-default:"4"`
	QueueSize int      `yaml:"queue_size" env-default:"10000"`
}

type Auth struct {
	JWTSecret string        `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"TOKEN_TTL" env-default:"24h"`
}

type Checkout struct {
	TxTimeout time.Duration `yaml:"tx_timeout" env:"CHECKOUT_TX_TIMEOUT" env-default:"5s"`
}

// Load reads the YAML file at path, overlaid with environment variables. An
// empty path reads the environment only.
func Load(path string) (*Config, error) {
	var cfg Config
	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("read env: %w", err)
		}
		return &cfg, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return &cfg, nil
}

// MustLoad reads the file named by CONFIG_PATH. Without it, ./config/local.yaml
// is used when present, otherwise only the environment.
func MustLoad() *Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = defaultConfigPath
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = ""
		}
	}

	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
