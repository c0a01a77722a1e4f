package model

import (
	"fmt"
	"strings"
)

// SchemaKind 表的类别
type SchemaKind string

const (
	SchemaAnnual    SchemaKind = "annual"    // 年度表 (funda)
	SchemaQuarterly SchemaKind = "quarterly" // 季度表 (fundq)
)

// DefaultCanonicalFields 默认请求的字段列表
var DefaultCanonicalFields = []string{
	"gvkey", "cik", "tic", "datadate", "fyear", "fyr", "fqtr", "rdq", "datafqtr", "datacqtr",
	"conm", "cusip", "sich", "at", "lt", "teq", "prcc_f", "cshpri", "txditc", "invt", "ppent", "pi", "ni", "ib",
	"sale", "re", "act", "lct", "csho", "xrd", "ajex", "oibdp", "oancf", "dvt", "dlc", "dltt", "pstk",
	"dp", "wcap", "xint", "gdwlia", "xi",
}

// DefaultQuarterlyLookup 季度表中不规则改名的字段
func DefaultQuarterlyLookup() map[string]string {
	return map[string]string{
		"prcc_f": "prccq",
		"cshpri": "cshprq",
	}
}

// DefaultQuarterlySuffixes 季度表依次尝试的后缀
var DefaultQuarterlySuffixes = []string{"q", "y"}

// FieldSet 字段解析配置
type FieldSet struct {
	Canonical         []string          // 有序的规范字段
	QuarterlyLookup   map[string]string // 规范字段 -> 季度列名
	QuarterlySuffixes []string          // 后缀探测顺序
}

// DefaultFieldSet 默认字段配置
func DefaultFieldSet() *FieldSet {
	return &FieldSet{
		Canonical:         append([]string(nil), DefaultCanonicalFields...),
		QuarterlyLookup:   DefaultQuarterlyLookup(),
		QuarterlySuffixes: append([]string(nil), DefaultQuarterlySuffixes...),
	}
}

// Normalized 返回小写副本，与Schema的列名规则一致；规范字段去重并保持顺序
func (f *FieldSet) Normalized() *FieldSet {
	out := &FieldSet{
		Canonical:         make([]string, 0, len(f.Canonical)),
		QuarterlyLookup:   make(map[string]string, len(f.QuarterlyLookup)),
		QuarterlySuffixes: make([]string, 0, len(f.QuarterlySuffixes)),
	}
	seen := make(map[string]struct{}, len(f.Canonical))
	for _, field := range f.Canonical {
		name := normalizeName(field)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out.Canonical = append(out.Canonical, name)
	}
	for from, to := range f.QuarterlyLookup {
		out.QuarterlyLookup[normalizeName(from)] = normalizeName(to)
	}
	for _, suffix := range f.QuarterlySuffixes {
		if s := normalizeName(suffix); s != "" {
			out.QuarterlySuffixes = append(out.QuarterlySuffixes, s)
		}
	}
	return out
}

// FieldMapping 规范字段到具体列名的映射
type FieldMapping struct {
	Canonical string `json:"canonical"`
	Column    string `json:"column"` // 为空表示未解析
}

// Resolved 是否已解析
func (m FieldMapping) Resolved() bool {
	return m.Column != ""
}

// Aliased 列名与规范名不同
func (m FieldMapping) Aliased() bool {
	return m.Resolved() && m.Column != m.Canonical
}

// UnresolvedFieldWarning 字段在某个schema中无对应列，非致命
type UnresolvedFieldWarning struct {
	Schema     SchemaKind `json:"schema"`
	Field      string     `json:"field"`
	Candidates []string   `json:"candidates,omitempty"` // 前缀相同的列，便于人工补充查找表
}

func (w UnresolvedFieldWarning) String() string {
	if w.Schema == SchemaAnnual {
		return fmt.Sprintf("A: %s", w.Field)
	}
	return fmt.Sprintf("Q: %s [%s]", w.Field, strings.Join(w.Candidates, ", "))
}

// Reconciliation 字段对齐结果
type Reconciliation struct {
	Annual     []FieldMapping           `json:"annual"`
	Quarterly  []FieldMapping           `json:"quarterly"`
	Unresolved []UnresolvedFieldWarning `json:"unresolved"`
}

// AnnualColumns 年度查询使用的列
func (r *Reconciliation) AnnualColumns() []string {
	return columns(r.Annual)
}

// QuarterlyColumns 季度查询使用的列
func (r *Reconciliation) QuarterlyColumns() []string {
	return columns(r.Quarterly)
}

// QuarterlyNames 季度列对应的规范名
func (r *Reconciliation) QuarterlyNames() []string {
	names := make([]string, 0, len(r.Quarterly))
	for _, m := range r.Quarterly {
		if m.Resolved() {
			names = append(names, m.Canonical)
		}
	}
	return names
}

func columns(mappings []FieldMapping) []string {
	cols := make([]string, 0, len(mappings))
	for _, m := range mappings {
		if m.Resolved() {
			cols = append(cols, m.Column)
		}
	}
	return cols
}
