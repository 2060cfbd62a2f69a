package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"

	"QianKunJing/internal/model"
)

const (
	DefaultTimeout     = 60 * time.Second
	DefaultConcurrency = 4
	DefaultInventoryDB = "database/inventory.db"
)

// ServiceConfig CVE-Search服务配置，构造客户端时传入，之后不再变化
type ServiceConfig struct {
	BaseURL       string
	SkipTLSVerify bool
	Timeout       time.Duration
}

// Config 程序整体配置
type Config struct {
	Service              ServiceConfig
	InventoryDB          string
	Concurrency          int
	SkipMalformedEntries bool
	Extra                []model.Software
}

// fileConfig 配置文件结构，支持YAML和TOML
type fileConfig struct {
	CveURL               string           `yaml:"cve_url" toml:"cve_url"`
	CveIgnoreCert        bool             `yaml:"cve_ignore_cert" toml:"cve_ignore_cert"`
	Timeout              string           `yaml:"timeout" toml:"timeout"`
	InventoryDB          string           `yaml:"inventory_db" toml:"inventory_db"`
	Concurrency          int              `yaml:"concurrency" toml:"concurrency"`
	SkipMalformedEntries bool             `yaml:"skip_malformed_entries" toml:"skip_malformed_entries"`
	ExtraSoftware        []model.Software `yaml:"extra_software" toml:"extra_software"`
}

// Default 返回默认配置（未配置服务地址）
func Default() Config {
	return Config{
		Service: ServiceConfig{
			Timeout: DefaultTimeout,
		},
		InventoryDB: DefaultInventoryDB,
		Concurrency: DefaultConcurrency,
	}
}

// Load 读取配置文件（path为空时跳过），再用环境变量覆盖。
// 扩展名为 .toml 时按TOML解析，其余按YAML解析。
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		buf, err := ioutil.ReadFile(path)
		if err != nil {
			return cfg, xerrors.Errorf("读取配置文件失败: %w", err)
		}

		parse := Parse
		if strings.EqualFold(filepath.Ext(path), ".toml") {
			parse = ParseTOML
		}
		if err := parse(buf, &cfg); err != nil {
			return cfg, xerrors.Errorf("解析配置文件 %s 失败: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// Parse 将YAML内容合并到cfg
func Parse(buf []byte, cfg *Config) error {
	var fc fileConfig
	if err := yaml.Unmarshal(buf, &fc); err != nil {
		return xerrors.Errorf("yaml unmarshal error: %w", err)
	}
	return fc.apply(cfg)
}

// ParseTOML 将TOML内容合并到cfg
func ParseTOML(buf []byte, cfg *Config) error {
	var fc fileConfig
	if _, err := toml.Decode(string(buf), &fc); err != nil {
		return xerrors.Errorf("toml decode error: %w", err)
	}
	return fc.apply(cfg)
}

func (fc fileConfig) apply(cfg *Config) error {
	cfg.Service.BaseURL = fc.CveURL
	cfg.Service.SkipTLSVerify = fc.CveIgnoreCert
	if fc.Timeout != "" {
		d, err := time.ParseDuration(fc.Timeout)
		if err != nil {
			return xerrors.Errorf("无效的timeout %q: %w", fc.Timeout, err)
		}
		cfg.Service.Timeout = d
	}
	if fc.InventoryDB != "" {
		cfg.InventoryDB = fc.InventoryDB
	}
	if fc.Concurrency > 0 {
		cfg.Concurrency = fc.Concurrency
	}
	cfg.SkipMalformedEntries = fc.SkipMalformedEntries
	cfg.Extra = fc.ExtraSoftware
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Service.BaseURL = getEnv("QKJ_CVE_URL", cfg.Service.BaseURL)
	cfg.Service.SkipTLSVerify = getEnvBool("QKJ_CVE_IGNORE_CERT", cfg.Service.SkipTLSVerify)
	cfg.Service.Timeout = getEnvDuration("QKJ_TIMEOUT", cfg.Service.Timeout)
	cfg.InventoryDB = getEnv("QKJ_INVENTORY_DB", cfg.InventoryDB)
	if n := getEnvInt("QKJ_CONCURRENCY", cfg.Concurrency); n > 0 {
		cfg.Concurrency = n
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
