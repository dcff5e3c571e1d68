package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zhukovaskychina/xmysql-ibuf/logger"

	"gopkg.in/ini.v1"
)

/**
my.ini 样例:

[mysqld]
datadir                        = /var/lib/mysql
log-error                      = /var/log/mysql/error.log
innodb_page_size               = 16384
innodb_buffer_pool_pages       = 1024
innodb_change_buffering        = all
innodb_change_buffer_max_size  = 25
innodb_read_only               = 0
*/

// Cfg 引擎配置
type Cfg struct {
	Raw     *ini.File
	DataDir string

	// logs
	LogError string `default:"" yaml:"log_error" json:"log_error,omitempty"`
	LogInfos string `default:"" yaml:"log_infos" json:"log_infos,omitempty"`
	LogLevel string `default:"info" yaml:"log_level" json:"log_level,omitempty"`

	// innodb
	InnodbPageSize            int    `default:"16384" yaml:"innodb_page_size" json:"innodb_page_size,omitempty"`
	InnodbBufferPoolPages     int    `default:"1024" yaml:"innodb_buffer_pool_pages" json:"innodb_buffer_pool_pages,omitempty"`
	InnodbRedoLogDir          string `default:"redo" yaml:"innodb_redo_log_dir" json:"innodb_redo_log_dir,omitempty"`
	InnodbRedoLogBufferSize   int    `default:"1024" yaml:"innodb_redo_log_buffer_size" json:"innodb_redo_log_buffer_size,omitempty"`
	InnodbReadOnly            bool   `default:"false" yaml:"innodb_read_only" json:"innodb_read_only,omitempty"`
	InnodbChangeBuffering     string `default:"all" yaml:"innodb_change_buffering" json:"innodb_change_buffering,omitempty"`
	InnodbChangeBufferMaxSize int    `default:"25" yaml:"innodb_change_buffer_max_size" json:"innodb_change_buffer_max_size,omitempty"`
}

// NewCfg 创建默认配置
func NewCfg() *Cfg {
	return &Cfg{
		DataDir:                   "data",
		LogLevel:                  "info",
		InnodbPageSize:            16384,
		InnodbBufferPoolPages:     1024,
		InnodbRedoLogDir:          "redo",
		InnodbRedoLogBufferSize:   1024,
		InnodbReadOnly:            false,
		InnodbChangeBuffering:     "all",
		InnodbChangeBufferMaxSize: 25,
	}
}

// Load 从ini文件加载配置，文件不存在时返回默认配置
func (cfg *Cfg) Load(configPath string) error {
	if configPath == "" {
		return nil
	}
	if _, err := os.Stat(configPath); err != nil {
		logger.Warnf("config file %s not found, using defaults", configPath)
		return nil
	}

	raw, err := ini.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %v", configPath, err)
	}
	cfg.Raw = raw

	section := raw.Section("mysqld")
	if v := section.Key("datadir").String(); v != "" {
		cfg.DataDir = v
	}
	if v := section.Key("log-error").String(); v != "" {
		cfg.LogError = v
	}
	if v := section.Key("log_level").String(); v != "" {
		cfg.LogLevel = v
	}
	if v, err := section.Key("innodb_page_size").Int(); err == nil && v > 0 {
		cfg.InnodbPageSize = v
	}
	if v, err := section.Key("innodb_buffer_pool_pages").Int(); err == nil && v > 0 {
		cfg.InnodbBufferPoolPages = v
	}
	if v := section.Key("innodb_redo_log_dir").String(); v != "" {
		cfg.InnodbRedoLogDir = v
	}
	if v, err := section.Key("innodb_redo_log_buffer_size").Int(); err == nil && v > 0 {
		cfg.InnodbRedoLogBufferSize = v
	}
	if v, err := section.Key("innodb_read_only").Bool(); err == nil {
		cfg.InnodbReadOnly = v
	}
	if v := section.Key("innodb_change_buffering").String(); v != "" {
		cfg.InnodbChangeBuffering = strings.ToLower(v)
	}
	if v, err := section.Key("innodb_change_buffer_max_size").Int(); err == nil {
		cfg.InnodbChangeBufferMaxSize = v
	}

	return cfg.Validate()
}

// Validate 校验配置合法性
func (cfg *Cfg) Validate() error {
	if cfg.InnodbPageSize&(cfg.InnodbPageSize-1) != 0 {
		return fmt.Errorf("innodb_page_size must be a power of two, got %d", cfg.InnodbPageSize)
	}
	if cfg.InnodbChangeBufferMaxSize < 0 || cfg.InnodbChangeBufferMaxSize > 50 {
		return fmt.Errorf("innodb_change_buffer_max_size must be in [0, 50], got %d", cfg.InnodbChangeBufferMaxSize)
	}
	switch cfg.InnodbChangeBuffering {
	case "none", "inserts", "deletes", "purges", "changes", "all":
	default:
		return fmt.Errorf("unknown innodb_change_buffering mode %q", cfg.InnodbChangeBuffering)
	}
	return nil
}

// RedoLogPath redo日志目录的绝对路径
func (cfg *Cfg) RedoLogPath() string {
	if filepath.IsAbs(cfg.InnodbRedoLogDir) {
		return cfg.InnodbRedoLogDir
	}
	return filepath.Join(cfg.DataDir, cfg.InnodbRedoLogDir)
}
