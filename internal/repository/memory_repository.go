package repository

import (
	"context"
	"fmt"
	"sync"

	"FundPrep/internal/model"
)

// MemorySchemaReader 内存中的schema，用于测试和预先导出的列清单
type MemorySchemaReader struct {
	mu      sync.RWMutex
	schemas map[string][]string
	reads   map[string]int
}

// NewMemorySchemaReader 创建内存schema仓库
func NewMemorySchemaReader(schemas map[string][]string) *MemorySchemaReader {
	r := &MemorySchemaReader{
		schemas: make(map[string][]string, len(schemas)),
		reads:   make(map[string]int),
	}
	for table, cols := range schemas {
		r.schemas[table] = append([]string(nil), cols...)
	}
	return r
}

// Set 设置表的列
func (r *MemorySchemaReader) Set(table string, columns []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[table] = append([]string(nil), columns...)
}

// ReadSchema 实现SchemaReader
func (r *MemorySchemaReader) ReadSchema(ctx context.Context, table string) (*model.Schema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cols, ok := r.schemas[table]
	if !ok {
		return nil, &SchemaReadError{Table: table, Path: "memory", Err: fmt.Errorf("table not found")}
	}
	r.reads[table]++
	return model.NewSchema(table, cols), nil
}

// Fingerprint 实现Fingerprinter，列变化时指纹变化
func (r *MemorySchemaReader) Fingerprint(table string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cols, ok := r.schemas[table]
	if !ok {
		return "", fmt.Errorf("table %s not found", table)
	}
	return fmt.Sprintf("%s@memory|%v", table, cols), nil
}

// Reads 表被读取的次数
func (r *MemorySchemaReader) Reads(table string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reads[table]
}
