package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/blues/cfe/internal/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	LedgerBackendDatabase = "database"
	LedgerBackendChain    = "chain"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Metadata MetadataConfig `mapstructure:"metadata"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Task     TaskConfig     `mapstructure:"task"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port         string   `mapstructure:"port"`
	Mode         string   `mapstructure:"mode"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // postgres, sqlite
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	Path     string `mapstructure:"path"` // sqlite 文件路径
	LogSQL   bool   `mapstructure:"log_sql"`
}

// DSN 生成 postgres 连接串
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// LedgerConfig 账本配置
type LedgerConfig struct {
	Backend         string `mapstructure:"backend"`          // database, chain
	PlatformAddress string `mapstructure:"platform_address"` // 手续费收款地址
}

// ChainConfig 单链配置
type ChainConfig struct {
	ChainType     string                    `mapstructure:"chain_type"`    // 链类型 (ethereum, polygon, etc.)
	ChainId       int64                     `mapstructure:"chain_id"`      // 链ID
	RpcUrl        string                    `mapstructure:"rpc_url"`       // RPC节点URL
	PrivateKey    string                    `mapstructure:"private_key"`   // 平台操作账户私钥
	Confirmations int                       `mapstructure:"confirmations"` // 确认块数
	TxTimeout     time.Duration             `mapstructure:"tx_timeout"`    // 等待上链超时
	Contracts     map[string]ContractConfig `mapstructure:"contracts"`     // 该链上的合约配置
}

// ContractConfig 单个合约配置
type ContractConfig struct {
	Address  string `mapstructure:"address"`   // 合约地址
	ABIPath  string `mapstructure:"abi_path"`  // ABI文件路径，为空时使用内置托管合约ABI
	Enabled  bool   `mapstructure:"enabled"`   // 是否启用此合约
	BlockNum int64  `mapstructure:"block_num"` // 合约部署区块号
}

// MetadataConfig IPFS 元数据存储配置
type MetadataConfig struct {
	Provider string        `mapstructure:"provider"` // ipfs, memory
	APIURL   string        `mapstructure:"api_url"`  // IPFS HTTP API，用于上传
	Gateways []string      `mapstructure:"gateways"` // 按顺序回退的网关
	Timeout  time.Duration `mapstructure:"timeout"`  // 单个网关超时
	Workers  int           `mapstructure:"workers"`  // 批量拉取并发数
}

type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"` // 可容忍的陈旧时间
}

type TaskConfig struct {
	Interval       int  `mapstructure:"interval"`         // 秒
	AutoMarkFailed bool `mapstructure:"auto_mark_failed"` // 是否由平台自动标记过期活动失败
}

type MonitorConfig struct {
	Enabled   bool  `mapstructure:"enabled"`
	Interval  int   `mapstructure:"interval"`   // 秒
	BatchSize int64 `mapstructure:"batch_size"` // 每批区块数
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // 日志级别: debug, info, warn, error, fatal
	Output string `mapstructure:"output"` // 输出目标: stdout, stderr, file
	File   string `mapstructure:"file"`   // 日志文件路径（当output为file时使用）
}

// GetLevel 实现 logger.Settings 接口
func (l LogConfig) GetLevel() string {
	return l.Level
}

// GetOutput 实现 logger.Settings 接口
func (l LogConfig) GetOutput() string {
	return l.Output
}

// GetFile 实现 logger.Settings 接口
func (l LogConfig) GetFile() string {
	return l.File
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.allow_origins", []string{"*"})
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "crowdfunding")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "cfe.db")
	v.SetDefault("ledger.backend", LedgerBackendDatabase)
	v.SetDefault("ledger.platform_address", "")
	v.SetDefault("chain.chain_type", "ethereum")
	v.SetDefault("chain.chain_id", 1)
	v.SetDefault("chain.confirmations", 12)
	v.SetDefault("chain.tx_timeout", 2*time.Minute)
	v.SetDefault("metadata.provider", "ipfs")
	v.SetDefault("metadata.api_url", "http://127.0.0.1:5001")
	v.SetDefault("metadata.gateways", []string{"https://ipfs.io", "https://cloudflare-ipfs.com", "https://gateway.pinata.cloud"})
	v.SetDefault("metadata.timeout", 10*time.Second)
	v.SetDefault("metadata.workers", 8)
	v.SetDefault("cache.ttl", 15*time.Second)
	v.SetDefault("task.interval", 60)
	v.SetDefault("task.auto_mark_failed", false)
	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.interval", 60)
	v.SetDefault("monitor.batch_size", 500)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file", "logs/app.log")
}

// Load 加载配置：.env -> 配置文件 -> 环境变量
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file loaded: %v", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/cfe")

	return load(v)
}

// LoadFile 从指定文件加载配置
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	// 自动读取环境变量，database.host -> CFE_DATABASE_HOST
	v.SetEnvPrefix("cfe")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		logger.Warn("Could not find config file, using defaults: %v", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查配置组合是否可用
func (c *Config) Validate() error {
	switch c.Ledger.Backend {
	case LedgerBackendDatabase:
		if !common.IsHexAddress(c.Ledger.PlatformAddress) {
			return fmt.Errorf("ledger.platform_address must be a hex address, got %q", c.Ledger.PlatformAddress)
		}
		if common.HexToAddress(c.Ledger.PlatformAddress) == (common.Address{}) {
			return fmt.Errorf("ledger.platform_address must not be the zero address")
		}
	case LedgerBackendChain:
		if c.Chain.RpcUrl == "" {
			return fmt.Errorf("chain.rpc_url is required for the chain ledger")
		}
		if c.Chain.PrivateKey == "" {
			return fmt.Errorf("chain.private_key is required for the chain ledger")
		}
		if _, ok := c.Chain.Contracts["escrow"]; !ok {
			return fmt.Errorf("chain.contracts.escrow is required for the chain ledger")
		}
	default:
		return fmt.Errorf("unsupported ledger backend %q", c.Ledger.Backend)
	}

	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	switch c.Metadata.Provider {
	case "ipfs":
		if len(c.Metadata.Gateways) == 0 {
			return fmt.Errorf("metadata.gateways must list at least one gateway")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported metadata provider %q", c.Metadata.Provider)
	}

	if c.Task.Interval <= 0 {
		return fmt.Errorf("task.interval must be positive")
	}
	return nil
}
