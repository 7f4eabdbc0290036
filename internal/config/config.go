package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	GeneralParams    GeneralParams
	HttpServerParams HttpServerParams
	MainDBParams     MainDBParams
	S3Params         S3Params
	RedisParams      RedisParams
	SyncParams       SyncParams
}

type GeneralParams struct {
	Env       string
	LogLevel  string
	SecretKey string
}

type HttpServerParams struct {
	Address        string
	Port           string
	AllowedOrigins []string
}

type MainDBParams struct {
	Username string
	Password string
	Name     string
	Port     int
	Host     string
	Timeout  int
	MaxConns int32
}

type S3Params struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	UseSSL          bool
	BucketName      string
	URLExpiry       time.Duration
}

// RedisParams configures notification fan-out. An empty URL disables it.
type RedisParams struct {
	URL string
}

type SyncParams struct {
	DocstoreDriver           string // memory or postgres
	CacheCapacity            int
	BatchLimit               int
	PermissiveMissingMembers bool
	MarkReadOnList           bool
	QueueWorkers             int
	QueueSize                int
	DBTimeout                time.Duration
}

type ConfigManager struct {
	v      *viper.Viper
	config *Config
}

// NewConfigManager reads the yaml file at configPath. Values may be
// overridden by APP_ prefixed environment variables, which are also read
// from a .env file in the working directory when one exists.
func NewConfigManager(configPath string) (*ConfigManager, error) {
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.AutomaticEnv()
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cm := &ConfigManager{v: v}
	cm.loadConfig()

	return cm, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general_params.env", "dev")
	v.SetDefault("http_server_params.http_server_address", "0.0.0.0")
	v.SetDefault("http_server_params.http_server_port", "8080")
	v.SetDefault("http_server_params.allowed_origins", []string{"*"})
	v.SetDefault("main_db_params.db_port", 5432)
	v.SetDefault("main_db_params.db_timeout", 5)
	v.SetDefault("main_db_params.max_conns", 32)
	v.SetDefault("s3_params.region", "us-east-1")
	v.SetDefault("s3_params.url_expiry", "24h")
	v.SetDefault("sync_params.docstore_driver", "postgres")
	v.SetDefault("sync_params.cache_capacity", 50)
	v.SetDefault("sync_params.batch_limit", 500)
	v.SetDefault("sync_params.mark_read_on_list", true)
	v.SetDefault("sync_params.queue_workers", 2)
	v.SetDefault("sync_params.queue_size", 256)
	v.SetDefault("sync_params.db_timeout", "5s")
}

// Extracting data from yaml file and loading into Config
func (cm *ConfigManager) loadConfig() {
	cm.config = &Config{
		GeneralParams: GeneralParams{
			Env:       cm.v.GetString("general_params.env"),
			LogLevel:  cm.v.GetString("general_params.log_level"),
			SecretKey: cm.v.GetString("general_params.secret_key"),
		},
		HttpServerParams: HttpServerParams{
			Address:        cm.v.GetString("http_server_params.http_server_address"),
			Port:           cm.v.GetString("http_server_params.http_server_port"),
			AllowedOrigins: cm.v.GetStringSlice("http_server_params.allowed_origins"),
		},
		MainDBParams: MainDBParams{
			Username: cm.v.GetString("main_db_params.db_username"),
			Password: cm.v.GetString("main_db_params.db_password"),
			Name:     cm.v.GetString("main_db_params.db_name"),
			Port:     cm.v.GetInt("main_db_params.db_port"),
			Host:     cm.v.GetString("main_db_params.db_host"),
			Timeout:  cm.v.GetInt("main_db_params.db_timeout"),
			MaxConns: cm.v.GetInt32("main_db_params.max_conns"),
		},
		S3Params: S3Params{
			Endpoint:        cm.v.GetString("s3_params.endpoint"),
			AccessKeyID:     cm.v.GetString("s3_params.access_key_id"),
			SecretAccessKey: cm.v.GetString("s3_params.secret_access_key"),
			Region:          cm.v.GetString("s3_params.region"),
			UseSSL:          cm.v.GetBool("s3_params.use_ssl"),
			BucketName:      cm.v.GetString("s3_params.bucket_name"),
			URLExpiry:       cm.v.GetDuration("s3_params.url_expiry"),
		},
		RedisParams: RedisParams{
			URL: cm.v.GetString("redis_params.url"),
		},
		SyncParams: SyncParams{
			DocstoreDriver:           cm.v.GetString("sync_params.docstore_driver"),
			CacheCapacity:            cm.v.GetInt("sync_params.cache_capacity"),
			BatchLimit:               cm.v.GetInt("sync_params.batch_limit"),
			PermissiveMissingMembers: cm.v.GetBool("sync_params.permissive_missing_members"),
			MarkReadOnList:           cm.v.GetBool("sync_params.mark_read_on_list"),
			QueueWorkers:             cm.v.GetInt("sync_params.queue_workers"),
			QueueSize:                cm.v.GetInt("sync_params.queue_size"),
			DBTimeout:                cm.v.GetDuration("sync_params.db_timeout"),
		},
	}
}

// Geting config instance
func (cm *ConfigManager) GetConfig() *Config {
	return cm.config
}

// Compiling a string to connect to main_db
func (db *MainDBParams) GetDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?connect_timeout=%d&sslmode=disable",
		db.Username,
		db.Password,
		db.Host,
		db.Port,
		db.Name,
		db.Timeout,
	)
}

func (h *HttpServerParams) GetAddress() string {
	return fmt.Sprintf(
		"%s:%s",
		h.Address,
		h.Port,
	)
}

// Enabled reports whether attachment storage is configured
func (s *S3Params) Enabled() bool {
	return s.Endpoint != ""
}

func (c *Config) Validate() error {
	// Checking secret key
	if c.GeneralParams.SecretKey == "" {
		return fmt.Errorf("parameter secret_key is required")
	}

	// Checking out enviroment variable
	switch c.GeneralParams.Env {
	case "dev", "prod", "test":
	default:
		return fmt.Errorf("env parameter is invalid: %s. try dev/prod/test instead", c.GeneralParams.Env)
	}

	// Checking http server parameters
	if c.HttpServerParams.Address == "" {
		return fmt.Errorf("http server address is required")
	}
	if c.HttpServerParams.Port == "" {
		return fmt.Errorf("http server port is required")
	}

	if err := c.SyncParams.validate(); err != nil {
		return err
	}

	// Main db is only needed when documents live in postgres
	if c.SyncParams.DocstoreDriver == "postgres" {
		db := c.MainDBParams
		if db.Host == "" {
			return fmt.Errorf("MainDB: host is required")
		}
		if db.Username == "" {
			return fmt.Errorf("MainDB: username is required")
		}
		if db.Password == "" {
			return fmt.Errorf("MainDB: password is requred")
		}
		if db.Port <= 0 || db.Port > 65535 {
			return fmt.Errorf("MainDB: port is invalid: %d", db.Port)
		}
	}

	// Checking S3 params, storage is optional
	if c.S3Params.Enabled() {
		if c.S3Params.AccessKeyID == "" {
			return fmt.Errorf("S3 access_key id is required")
		}
		if c.S3Params.SecretAccessKey == "" {
			return fmt.Errorf("S3 secret_access_key is required")
		}
		if c.S3Params.BucketName == "" {
			return fmt.Errorf("S3 bucket name is required")
		}
		if c.S3Params.URLExpiry <= 0 {
			return fmt.Errorf("S3 url_expiry must be positive")
		}
	}

	return nil
}

func (s *SyncParams) validate() error {
	switch s.DocstoreDriver {
	case "memory", "postgres":
	default:
		return fmt.Errorf("docstore_driver is invalid: %s. try memory/postgres instead", s.DocstoreDriver)
	}
	if s.CacheCapacity <= 0 {
		return fmt.Errorf("cache_capacity must be positive, got %d", s.CacheCapacity)
	}
	if s.BatchLimit <= 0 || s.BatchLimit > 500 {
		return fmt.Errorf("batch_limit must be between 1 and 500, got %d", s.BatchLimit)
	}
	if s.QueueWorkers <= 0 {
		return fmt.Errorf("queue_workers must be positive, got %d", s.QueueWorkers)
	}
	if s.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be positive, got %d", s.QueueSize)
	}
	if s.DBTimeout <= 0 {
		return fmt.Errorf("db_timeout must be positive")
	}
	return nil
}
