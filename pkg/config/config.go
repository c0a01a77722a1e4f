package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-ini/ini"
	"github.com/sirupsen/logrus"
)

// Config 应用配置
type Config struct {
	Data     DataConfig     `ini:"data"`
	Fields   FieldsConfig   `ini:"fields"`
	Template TemplateConfig `ini:"template"`
	SAS      SASConfig      `ini:"sas"`
	Cache    CacheConfig    `ini:"cache"`
	History  HistoryConfig  `ini:"history"`
	Server   ServerConfig   `ini:"server"`
	Etcd     EtcdConfig     `ini:"etcd"`
}

// DataConfig 数据源配置
type DataConfig struct {
	Path           string `ini:"path"`            // 数据目录（sqlite/duckdb为库文件）
	Format         string `ini:"format"`          // sas7bdat/parquet/csv/sqlite/duckdb
	Library        string `ini:"library"`         // SAS源库名
	AnnualTable    string `ini:"annual_table"`    // 年度表
	QuarterlyTable string `ini:"quarterly_table"` // 季度表
}

// FieldsConfig 字段配置
type FieldsConfig struct {
	Canonical         string `ini:"canonical"`          // 空格或逗号分隔，为空用默认列表
	QuarterlyLookup   string `ini:"quarterly_lookup"`   // prcc_f:prccq,cshpri:cshprq
	QuarterlySuffixes string `ini:"quarterly_suffixes"` // q,y
	AliasQuarterly    bool   `ini:"alias_quarterly"`    // 季度改名列追加 AS 规范名
}

// TemplateConfig 脚本模板配置
type TemplateConfig struct {
	Libnames      string `ini:"libnames"`       // name=path;name=path
	Includes      string `ini:"includes"`       // 分号分隔
	MinDate       string `ini:"min_date"`       // 01JAN1990
	OutputLibrary string `ini:"output_library"` // 结果库
	LinkTable     string `ini:"link_table"`     // CCM链接表
	OrderBy       string `ini:"order_by"`
}

// SASConfig 外部引擎配置
type SASConfig struct {
	Binary    string        `ini:"binary"`
	Args      string        `ini:"args"`       // 空格分隔的额外参数
	ScriptDir string        `ini:"script_dir"` // 脚本输出目录
	Timeout   time.Duration `ini:"timeout"`    // 单个作业超时
}

// CacheConfig schema缓存配置
type CacheConfig struct {
	MaxBytes     int64         `ini:"max_bytes"`     // 最大缓存字节数
	TTL          time.Duration `ini:"ttl"`           // 条目存活时间，0表示只靠文件指纹失效
	SnapshotPath string        `ini:"snapshot_path"` // 快照文件路径，为空不持久化
}

// HistoryConfig 执行历史配置
type HistoryConfig struct {
	DBPath string `ini:"db_path"` // 为空不记录
}

// ServerConfig 服务配置
type ServerConfig struct {
	Port            int           `ini:"port"`
	Mode            string        `ini:"mode"`             // gin模式: debug/release
	BreakerFailures uint32        `ini:"breaker_failures"` // 同一张表连续失败多少次后暂停
	BreakerCooldown time.Duration `ini:"breaker_cooldown"`
}

// EtcdConfig etcd配置，用于跨主机的脚本锁
type EtcdConfig struct {
	Endpoints string `ini:"endpoints"` // etcd地址列表，逗号分隔，为空不加锁
	Prefix    string `ini:"prefix"`    // 键前缀
	TTL       int    `ini:"ttl"`       // 会话TTL（秒）
}

// Default 默认配置，与原有的单机目录布局一致
func Default() *Config {
	return &Config{
		Data: DataConfig{
			Path:           "/data/storage/wrds/comp/",
			Format:         "sas7bdat",
			Library:        "comp",
			AnnualTable:    "funda",
			QuarterlyTable: "fundq",
		},
		Fields: FieldsConfig{
			QuarterlyLookup:   "prcc_f:prccq,cshpri:cshprq",
			QuarterlySuffixes: "q,y",
		},
		Template: TemplateConfig{
			Libnames:      "comp=/data/storage/wrds/comp/;data=~/_data/big/",
			Includes:      "~/sas_macros/wrds/quarterize.sas;~/sas_macros/wrds/ccm.sas",
			MinDate:       "01JAN1990",
			OutputLibrary: "data",
			LinkTable:     "comp.ccmxpf_linktable",
			OrderBy:       "ORDER BY gvkey, datadate",
		},
		SAS: SASConfig{
			Binary:    "sas",
			ScriptDir: "/tmp",
			Timeout:   4 * time.Hour,
		},
		Cache: CacheConfig{
			MaxBytes: 16 * 1024 * 1024,
		},
		Server: ServerConfig{
			Port:            8080,
			Mode:            "release",
			BreakerFailures: 3,
			BreakerCooldown: 10 * time.Minute,
		},
		Etcd: EtcdConfig{
			Prefix: "/fundprep/lock/",
			TTL:    60,
		},
	}
}

// LoadConfig 加载配置文件，未设置的项保留默认值；filePath为空时返回默认配置
func LoadConfig(filePath string) (*Config, error) {
	cfg := Default()
	if filePath == "" {
		return cfg, nil
	}

	// 值中用分号分隔列表，只把前面带空格的 ; 和 # 视为行内注释
	file, err := ini.LoadSources(ini.LoadOptions{SpaceBeforeInlineComment: true}, filePath)
	if err != nil {
		logrus.Errorf("Failed to load config file: %v", err)
		return nil, err
	}
	if err := file.MapTo(cfg); err != nil {
		logrus.Errorf("Failed to map config file: %v", err)
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logrus.Infof("Config loaded successfully from: %s", filePath)
	return cfg, nil
}

// Validate 检查必填项
func (c *Config) Validate() error {
	if c.Data.AnnualTable == "" || c.Data.QuarterlyTable == "" {
		return fmt.Errorf("data.annual_table and data.quarterly_table are required")
	}
	if c.SAS.Binary == "" {
		return fmt.Errorf("sas.binary is required")
	}
	if _, err := c.QuarterlyLookup(); err != nil {
		return err
	}
	if _, err := c.Libnames(); err != nil {
		return err
	}
	return nil
}

// CanonicalFields 规范字段列表（小写），为nil表示使用默认列表
func (c *Config) CanonicalFields() []string {
	return lowerAll(splitList(c.Fields.Canonical, " ,\n\t"))
}

// QuarterlySuffixes 后缀列表（小写）
func (c *Config) QuarterlySuffixes() []string {
	return lowerAll(splitList(c.Fields.QuarterlySuffixes, " ,"))
}

// lowerAll SAS名称不区分大小写，与schema列名保持一致
func lowerAll(items []string) []string {
	for i, item := range items {
		items[i] = strings.ToLower(item)
	}
	return items
}

// QuarterlyLookup 解析 a:b,c:d
func (c *Config) QuarterlyLookup() (map[string]string, error) {
	lookup := make(map[string]string)
	for _, pair := range splitList(c.Fields.QuarterlyLookup, " ,") {
		k, v, ok := strings.Cut(pair, ":")
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("invalid fields.quarterly_lookup entry %q", pair)
		}
		lookup[strings.ToLower(k)] = strings.ToLower(v)
	}
	return lookup, nil
}

// Libname 库声明
type Libname struct {
	Name string
	Path string
}

// Libnames 解析 name=path;name=path
func (c *Config) Libnames() ([]Libname, error) {
	libs := make([]Libname, 0)
	for _, item := range splitList(c.Template.Libnames, ";") {
		name, path, ok := strings.Cut(item, "=")
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("invalid template.libnames entry %q", item)
		}
		libs = append(libs, Libname{Name: strings.TrimSpace(name), Path: strings.TrimSpace(path)})
	}
	return libs, nil
}

// Includes 宏文件列表
func (c *Config) Includes() []string {
	return splitList(c.Template.Includes, ";")
}

// SASArgs 额外参数
func (c *Config) SASArgs() []string {
	return strings.Fields(c.SAS.Args)
}

// ScriptPath 表对应的脚本路径
func (c *Config) ScriptPath(table string) string {
	return filepath.Join(c.SAS.ScriptDir, table+".sas")
}

// EtcdEndpoints etcd地址列表
func (c *Config) EtcdEndpoints() []string {
	return splitList(c.Etcd.Endpoints, ",")
}

// splitList 按任一分隔字符切分并去掉空项
func splitList(s, seps string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return strings.ContainsRune(seps, r)
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
