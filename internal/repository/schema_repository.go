package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"FundPrep/internal/model"
)

// 支持的数据源格式
const (
	FormatSAS     = "sas7bdat"
	FormatParquet = "parquet"
	FormatCSV     = "csv"
	FormatSQLite  = "sqlite"
	FormatDuckDB  = "duckdb"
)

// SchemaReader 读取指定表声明的列名，不读取表内容
type SchemaReader interface {
	ReadSchema(ctx context.Context, table string) (*model.Schema, error)
}

// Fingerprinter 返回数据源的指纹，数据源变化时指纹随之变化
type Fingerprinter interface {
	Fingerprint(table string) (string, error)
}

// SchemaReadError 数据源缺失或格式错误
type SchemaReadError struct {
	Table string
	Path  string
	Err   error
}

func (e *SchemaReadError) Error() string {
	return fmt.Sprintf("read schema of %s (%s): %v", e.Table, e.Path, e.Err)
}

func (e *SchemaReadError) Unwrap() error {
	return e.Err
}

// NewSchemaReader 按格式创建SchemaReader
// 文件类格式中path为数据目录，sqlite/duckdb格式中path为数据库文件
func NewSchemaReader(format, path string) (SchemaReader, error) {
	switch strings.ToLower(format) {
	case FormatSAS, FormatParquet, FormatCSV:
		return NewDuckDBFileSchemaReader(path, strings.ToLower(format))
	case FormatDuckDB:
		return NewDuckDBTableSchemaReader(path)
	case FormatSQLite:
		return NewSQLiteSchemaReader(path)
	default:
		return nil, fmt.Errorf("unsupported data format: %q", format)
	}
}

// fileFingerprint 由路径、大小和修改时间组成
func fileFingerprint(path string) (string, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s|%d|%d", path, stat.Size(), stat.ModTime().UnixNano()), nil
}

// requireFile 文件不存在时返回SchemaReadError
func requireFile(table, path string) error {
	stat, err := os.Stat(path)
	if err != nil {
		return &SchemaReadError{Table: table, Path: path, Err: err}
	}
	if stat.IsDir() {
		return &SchemaReadError{Table: table, Path: path, Err: fmt.Errorf("is a directory")}
	}
	return nil
}

func tableFile(dir, table, ext string) string {
	return filepath.Join(dir, table+"."+ext)
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
