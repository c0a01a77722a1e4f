package model

import (
	"sort"
	"strings"
)

// Schema 数据源实际暴露的列名集合
type Schema struct {
	Table   string   `json:"table"`   // 表名
	Columns []string `json:"columns"` // 按数据源声明顺序的列名
	index   map[string]struct{}
}

// NewSchema 创建Schema，列名统一转为小写并去重
func NewSchema(table string, columns []string) *Schema {
	s := &Schema{
		Table:   table,
		Columns: make([]string, 0, len(columns)),
		index:   make(map[string]struct{}, len(columns)),
	}
	for _, c := range columns {
		name := normalizeName(c)
		if name == "" {
			continue
		}
		if _, ok := s.index[name]; ok {
			continue
		}
		s.index[name] = struct{}{}
		s.Columns = append(s.Columns, name)
	}
	return s
}

// Has 判断列是否存在
func (s *Schema) Has(column string) bool {
	if s == nil {
		return false
	}
	if s.index == nil {
		for _, c := range s.Columns {
			if c == column {
				return true
			}
		}
		return false
	}
	_, ok := s.index[column]
	return ok
}

// WithPrefix 返回以prefix开头的列名（已排序）
func (s *Schema) WithPrefix(prefix string) []string {
	if s == nil {
		return nil
	}
	matched := make([]string, 0)
	for _, c := range s.Columns {
		if strings.HasPrefix(c, prefix) {
			matched = append(matched, c)
		}
	}
	sort.Strings(matched)
	return matched
}

// Size 估算占用字节数，供schema缓存计算容量
func (s *Schema) Size() int {
	if s == nil {
		return 0
	}
	n := len(s.Table)
	for _, c := range s.Columns {
		n += len(c)
	}
	return n
}

// normalizeName SAS名称不区分大小写，统一为小写
func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
