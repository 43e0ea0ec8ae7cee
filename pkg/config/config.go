package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// TradingConfig 风控与信号参数。每次调用 Trading() 都会重新读取环境变量，
// 因此运行中修改环境变量即可生效。
type TradingConfig struct {
	MaxNotionalUSD   float64 `json:"maxNotionalUsd"`   // 单笔最大名义金额
	TradeNotionalUSD float64 `json:"tradeNotionalUsd"` // 自动循环 / execute-now 的下单金额
	MaxSlippageBps   float64 `json:"maxSlippageBps"`   // 最大滑点（bps）
	CooldownSec      int     `json:"cooldownSec"`      // 两笔交易最小间隔，同时也是循环间隔
	MaxDailyLossUSD  float64 `json:"maxDailyLossUsd"`  // 当日最大亏损
	BreakoutBps      float64 `json:"breakoutBps"`      // 突破阈值（bps）
}

// Cooldown 冷却时长
func (c TradingConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSec) * time.Second
}

// MaxSlippagePct 以百分比表示的最大滑点
func (c TradingConfig) MaxSlippagePct() float64 {
	return c.MaxSlippageBps / 100
}

// BaseConfig Base 链配置（全部来自环境变量）
type BaseConfig struct {
	PrivateKey           string  `json:"-"`
	Mnemonic             string  `json:"-"`
	DerivationPath       string  `json:"derivationPath"`
	RPCURL               string  `json:"rpcUrl"`
	ChainID              int64   `json:"chainId"`
	TokenAddress         string  `json:"tokenAddress"`
	USDCAddress          string  `json:"usdcAddress"`
	SwapRouter           string  `json:"swapRouter"`
	Quoter               string  `json:"quoter"`
	PoolFee              int64   `json:"poolFee"`
	KillSwitch           bool    `json:"killSwitch"`
	MaxNotionalUSD       float64 `json:"maxNotionalUsd"`
	CooldownSec          int     `json:"cooldownSec"`
	ExplorerURL          string  `json:"explorerUrl"`
	AllowUnprotectedSwap bool    `json:"allowUnprotectedSwap"`
}

// requiredBaseEnv 执行 Base 交易前必须存在的环境变量
var requiredBaseEnv = []string{"BASE_RPC_URL", "BASE_TOKEN_ADDRESS", "BASE_USDC_ADDRESS", "BASE_SWAP_ROUTER"}

// MissingEnv 返回缺失的 Base 环境变量名；私钥可以由 BASE_MNEMONIC 代替
func (c BaseConfig) MissingEnv() []string {
	var missing []string
	if strings.TrimSpace(c.PrivateKey) == "" && strings.TrimSpace(c.Mnemonic) == "" {
		missing = append(missing, "BASE_PRIVATE_KEY")
	}
	for _, k := range requiredBaseEnv {
		if strings.TrimSpace(os.Getenv(k)) == "" {
			missing = append(missing, k)
		}
	}
	return missing
}

// Validate 缺少任何必需变量时返回 *MissingEnvError
func (c BaseConfig) Validate() error {
	if missing := c.MissingEnv(); len(missing) > 0 {
		return &MissingEnvError{Scope: "base", Names: missing}
	}
	return nil
}

// ExplorerTxURL 交易浏览器链接
func (c BaseConfig) ExplorerTxURL(txHash string) string {
	return explorerURL(c.ExplorerURL, txHash)
}

// SolanaConfig Solana 配置
type SolanaConfig struct {
	RPCURL          string  `json:"rpcUrl"`
	PrivateKey      string  `json:"-"`
	JupiterQuoteURL string  `json:"jupiterQuoteUrl"`
	JupiterSwapURL  string  `json:"jupiterSwapUrl"`
	ExplorerURL     string  `json:"explorerUrl"`
	MinBalanceSOL   float64 `json:"minBalanceSol"`
	AirdropSOL      float64 `json:"airdropSol"`
	QuoteRPS        float64 `json:"quoteRps"`
}

// ExplorerTxURL 交易浏览器链接
func (c SolanaConfig) ExplorerTxURL(sig string) string {
	return explorerURL(c.ExplorerURL, sig)
}

// LLMConfig 规划器（chat-completion）配置
type LLMConfig struct {
	APIKey  string        `json:"-"`
	BaseURL string        `json:"baseUrl"`
	Model   string        `json:"model"`
	Timeout time.Duration `json:"timeout"`
	RPS     float64       `json:"rps"`
}

// Enabled 是否配置了 API key
func (c LLMConfig) Enabled() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

// ServerConfig 进程级配置
type ServerConfig struct {
	Listen          string `json:"listen"`
	ReceiptsBackend string `json:"receiptsBackend"` // jsonl | sqlite
	ReceiptsPath    string `json:"receiptsPath"`
	SQLitePath      string `json:"sqlitePath"`
	SecretDB        string `json:"secretDb"`
	SecretKey       string `json:"-"`
	MetricsListen   string `json:"metricsListen"`
	StartLoop       bool   `json:"startLoop"`
	PaperMode       bool   `json:"paperMode"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// MissingEnvError 配置缺失（立即报错，列出变量名）
type MissingEnvError struct {
	Scope string
	Names []string
}

func (e *MissingEnvError) Error() string {
	return fmt.Sprintf("missing %s configuration: %s", e.Scope, strings.Join(e.Names, ", "))
}

// ConfigFile 可选配置文件（YAML/JSON），只提供默认值，环境变量优先
type ConfigFile struct {
	Trading struct {
		MaxNotionalUSD   float64 `yaml:"max_notional_usd" json:"max_notional_usd"`
		TradeNotionalUSD float64 `yaml:"trade_notional_usd" json:"trade_notional_usd"`
		MaxSlippageBps   float64 `yaml:"max_slippage_bps" json:"max_slippage_bps"`
		CooldownSec      int     `yaml:"cooldown_sec" json:"cooldown_sec"`
		MaxDailyLossUSD  float64 `yaml:"max_daily_loss_usd" json:"max_daily_loss_usd"`
		BreakoutBps      float64 `yaml:"breakout_bps" json:"breakout_bps"`
	} `yaml:"trading" json:"trading"`
	Solana struct {
		RPCURL          string `yaml:"rpc_url" json:"rpc_url"`
		JupiterQuoteURL string `yaml:"jupiter_quote_url" json:"jupiter_quote_url"`
		JupiterSwapURL  string `yaml:"jupiter_swap_url" json:"jupiter_swap_url"`
		ExplorerURL     string `yaml:"explorer_url" json:"explorer_url"`
	} `yaml:"solana" json:"solana"`
	LLM struct {
		BaseURL string `yaml:"base_url" json:"base_url"`
		Model   string `yaml:"model" json:"model"`
	} `yaml:"llm" json:"llm"`
	Server struct {
		Listen          string `yaml:"listen" json:"listen"`
		ReceiptsBackend string `yaml:"receipts_backend" json:"receipts_backend"`
		ReceiptsPath    string `yaml:"receipts_path" json:"receipts_path"`
		SQLitePath      string `yaml:"sqlite_path" json:"sqlite_path"`
	} `yaml:"server" json:"server"`
	LogLevel string `yaml:"log_level" json:"log_level"`
	LogFile  string `yaml:"log_file" json:"log_file"`
}

var (
	fileMu     sync.RWMutex
	fileConfig *ConfigFile
	filePath   string
)

// LoadFile 加载配置文件；path 为空时清除已加载的文件配置
func LoadFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		fileMu.Lock()
		fileConfig, filePath = nil, ""
		fileMu.Unlock()
		return nil
	}
	cf, err := loadConfigFile(path)
	if err != nil {
		return fmt.Errorf("加载配置文件失败 %s: %w", path, err)
	}
	fileMu.Lock()
	fileConfig, filePath = cf, path
	fileMu.Unlock()
	return nil
}

// GetConfigPath 当前配置文件路径
func GetConfigPath() string {
	fileMu.RLock()
	defer fileMu.RUnlock()
	return filePath
}

func file() ConfigFile {
	fileMu.RLock()
	defer fileMu.RUnlock()
	if fileConfig == nil {
		return ConfigFile{}
	}
	return *fileConfig
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON）
func loadConfigFile(path string) (*ConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cf ConfigFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", path)
	}
	return &cf, nil
}

// Trading 读取风控参数（优先级：环境变量 > 配置文件 > 默认值）
func Trading() TradingConfig {
	cf := file().Trading
	return TradingConfig{
		MaxNotionalUSD:   parseFloatEnv("MAX_NOTIONAL_USD", orFloat(cf.MaxNotionalUSD, 100)),
		TradeNotionalUSD: parseFloatEnv("TRADE_NOTIONAL_USD", orFloat(cf.TradeNotionalUSD, 25)),
		MaxSlippageBps:   parseFloatEnv("MAX_SLIPPAGE_BPS", orFloat(cf.MaxSlippageBps, 100)),
		CooldownSec:      parseIntEnv("COOLDOWN_SEC", orInt(cf.CooldownSec, 60)),
		MaxDailyLossUSD:  parseFloatEnv("MAX_DAILY_LOSS_USD", orFloat(cf.MaxDailyLossUSD, 50)),
		BreakoutBps:      parseFloatEnv("BREAKOUT_BPS", orFloat(cf.BreakoutBps, 50)),
	}
}

// Base 读取 Base 链配置
func Base() BaseConfig {
	return BaseConfig{
		PrivateKey:           getEnv("BASE_PRIVATE_KEY", ""),
		Mnemonic:             getEnv("BASE_MNEMONIC", ""),
		DerivationPath:       getEnv("BASE_DERIVATION_PATH", "m/44'/60'/0'/0/0"),
		RPCURL:               getEnv("BASE_RPC_URL", ""),
		ChainID:              int64(parseIntEnv("BASE_CHAIN_ID", 8453)),
		TokenAddress:         getEnv("BASE_TOKEN_ADDRESS", ""),
		USDCAddress:          getEnv("BASE_USDC_ADDRESS", ""),
		SwapRouter:           getEnv("BASE_SWAP_ROUTER", ""),
		Quoter:               getEnv("BASE_QUOTER", "0x3d4e44Eb1374240CE5F1B871ab261CD16335B76a"),
		PoolFee:              int64(parseIntEnv("BASE_POOL_FEE", 500)),
		KillSwitch:           parseBoolEnv("BASE_KILL_SWITCH", false),
		MaxNotionalUSD:       parseFloatEnv("BASE_MAX_NOTIONAL_USD", 50),
		CooldownSec:          parseIntEnv("BASE_COOLDOWN_SEC", 60),
		ExplorerURL:          getEnv("BASE_EXPLORER_URL", "https://basescan.org/tx/"),
		AllowUnprotectedSwap: parseBoolEnv("BASE_ALLOW_UNPROTECTED_SWAP", false),
	}
}

// Solana 读取 Solana 配置
func Solana() SolanaConfig {
	cf := file().Solana
	return SolanaConfig{
		RPCURL:          getEnv("SOLANA_RPC_URL", orString(cf.RPCURL, "https://api.devnet.solana.com")),
		PrivateKey:      getEnv("SOLANA_PRIVATE_KEY", ""),
		JupiterQuoteURL: getEnv("JUPITER_QUOTE_URL", orString(cf.JupiterQuoteURL, "https://quote-api.jup.ag/v6/quote")),
		JupiterSwapURL:  getEnv("JUPITER_SWAP_URL", orString(cf.JupiterSwapURL, "https://quote-api.jup.ag/v6/swap")),
		ExplorerURL:     getEnv("SOLANA_EXPLORER_URL", orString(cf.ExplorerURL, "https://explorer.solana.com/tx/{tx}?cluster=devnet")),
		MinBalanceSOL:   parseFloatEnv("SOLANA_MIN_BALANCE_SOL", 0.01),
		AirdropSOL:      parseFloatEnv("SOLANA_AIRDROP_SOL", 1),
		QuoteRPS:        parseFloatEnv("JUPITER_RPS", 2),
	}
}

// LLM 读取规划器配置
func LLM() LLMConfig {
	cf := file().LLM
	key := getEnv("LLM_API_KEY", "")
	if key == "" {
		key = getEnv("OPENAI_API_KEY", "")
	}
	return LLMConfig{
		APIKey:  key,
		BaseURL: strings.TrimRight(getEnv("LLM_BASE_URL", orString(cf.BaseURL, "https://api.openai.com/v1")), "/"),
		Model:   getEnv("LLM_MODEL", orString(cf.Model, "gpt-4o-mini")),
		Timeout: time.Duration(parseIntEnv("LLM_TIMEOUT_SEC", 30)) * time.Second,
		RPS:     parseFloatEnv("LLM_RPS", 1),
	}
}

// Server 读取进程级配置
func Server() ServerConfig {
	cf := file().Server
	return ServerConfig{
		Listen:          getEnv("COPILOT_LISTEN", orString(cf.Listen, ":8080")),
		ReceiptsBackend: strings.ToLower(getEnv("RECEIPTS_BACKEND", orString(cf.ReceiptsBackend, "jsonl"))),
		ReceiptsPath:    getEnv("RECEIPTS_PATH", orString(cf.ReceiptsPath, "data/receipts.jsonl")),
		SQLitePath:      getEnv("RECEIPTS_SQLITE_PATH", orString(cf.SQLitePath, "data/receipts.db")),
		SecretDB:        getEnv("COPILOT_SECRET_DB", ""),
		SecretKey:       getEnv("COPILOT_SECRET_KEY", ""),
		MetricsListen:   getEnv("METRICS_LISTEN", ""),
		StartLoop:       parseBoolEnv("START_LOOP", false),
		PaperMode:       parseBoolEnv("PAPER_MODE", true),
	}
}

// Log 读取日志配置
func Log() LogConfig {
	cf := file()
	return LogConfig{
		Level:      getEnv("LOG_LEVEL", orString(cf.LogLevel, "info")),
		File:       getEnv("LOG_FILE", orString(cf.LogFile, "logs/copilot.log")),
		MaxSize:    parseIntEnv("LOG_MAX_SIZE_MB", 100),
		MaxBackups: parseIntEnv("LOG_MAX_BACKUPS", 3),
		MaxAge:     parseIntEnv("LOG_MAX_AGE_DAYS", 7),
		Compress:   parseBoolEnv("LOG_COMPRESS", true),
	}
}

// explorerURL 支持 "{tx}" 占位符，否则直接拼接在前缀后
func explorerURL(prefix, tx string) string {
	if prefix == "" || tx == "" {
		return ""
	}
	if strings.Contains(prefix, "{tx}") {
		return strings.ReplaceAll(prefix, "{tx}", tx)
	}
	return prefix + tx
}

func orFloat(v, def float64) float64 {
	if v != 0 {
		return v
	}
	return def
}

func orInt(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}

func orString(v, def string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseFloatEnv 解析浮点数环境变量
func parseFloatEnv(key string, defaultValue float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseBoolEnv 解析布尔环境变量
func parseBoolEnv(key string, defaultValue bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
