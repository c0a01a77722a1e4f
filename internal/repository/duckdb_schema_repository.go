package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"FundPrep/internal/model"

	"github.com/sirupsen/logrus"
)

// DuckDBSchemaReader 借助DuckDB读取文件或DuckDB库中表的列
// sas7bdat文件通过社区扩展read_stat读取
type DuckDBSchemaReader struct {
	db     *sql.DB
	dir    string // 文件类格式的数据目录
	dbPath string // duckdb格式的库文件
	format string

	extOnce sync.Once
	extErr  error
}

// NewDuckDBFileSchemaReader 读取目录下<table>.<format>文件
func NewDuckDBFileSchemaReader(dir, format string) (*DuckDBSchemaReader, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	return &DuckDBSchemaReader{db: db, dir: dir, format: format}, nil
}

// NewDuckDBTableSchemaReader 读取DuckDB库文件中的表
func NewDuckDBTableSchemaReader(dbPath string) (*DuckDBSchemaReader, error) {
	db, err := sql.Open("duckdb", dbPath+"?access_mode=read_only")
	if err != nil {
		return nil, &SchemaReadError{Path: dbPath, Err: err}
	}
	return &DuckDBSchemaReader{db: db, dbPath: dbPath, format: FormatDuckDB}, nil
}

func (r *DuckDBSchemaReader) Close() error {
	return r.db.Close()
}

// Path 表对应的文件
func (r *DuckDBSchemaReader) Path(table string) string {
	if r.format == FormatDuckDB {
		return r.dbPath
	}
	return tableFile(r.dir, table, r.format)
}

// Fingerprint 实现Fingerprinter
func (r *DuckDBSchemaReader) Fingerprint(table string) (string, error) {
	fp, err := fileFingerprint(r.Path(table))
	if err != nil {
		return "", err
	}
	return table + "@" + fp, nil
}

// ReadSchema 实现SchemaReader
func (r *DuckDBSchemaReader) ReadSchema(ctx context.Context, table string) (*model.Schema, error) {
	path := r.Path(table)
	if err := requireFile(table, path); err != nil {
		return nil, err
	}

	var query string
	switch r.format {
	case FormatSAS:
		if err := r.loadReadStat(ctx); err != nil {
			return nil, &SchemaReadError{Table: table, Path: path, Err: err}
		}
		query = fmt.Sprintf("DESCRIBE SELECT * FROM read_stat(%s)", quoteLiteral(path))
	case FormatParquet:
		query = fmt.Sprintf("DESCRIBE SELECT * FROM read_parquet(%s)", quoteLiteral(path))
	case FormatCSV:
		query = fmt.Sprintf("DESCRIBE SELECT * FROM read_csv_auto(%s)", quoteLiteral(path))
	case FormatDuckDB:
		query = fmt.Sprintf("DESCRIBE %s", quoteIdent(table))
	default:
		return nil, &SchemaReadError{Table: table, Path: path, Err: fmt.Errorf("unsupported format %q", r.format)}
	}

	columns, err := describeColumns(ctx, r.db, query)
	if err != nil {
		return nil, &SchemaReadError{Table: table, Path: path, Err: err}
	}
	if len(columns) == 0 {
		return nil, &SchemaReadError{Table: table, Path: path, Err: fmt.Errorf("no columns declared")}
	}

	logrus.Debugf("[DuckDBSchemaReader] %s: %d columns from %s", table, len(columns), path)
	return model.NewSchema(table, columns), nil
}

// loadReadStat 安装并加载read_stat扩展，仅执行一次
func (r *DuckDBSchemaReader) loadReadStat(ctx context.Context) error {
	r.extOnce.Do(func() {
		if _, err := r.db.ExecContext(ctx, "INSTALL read_stat FROM community"); err != nil {
			r.extErr = fmt.Errorf("install read_stat: %w", err)
			return
		}
		if _, err := r.db.ExecContext(ctx, "LOAD read_stat"); err != nil {
			r.extErr = fmt.Errorf("load read_stat: %w", err)
		}
	})
	return r.extErr
}

// describeColumns 取DESCRIBE结果的第一列（column_name）
func describeColumns(ctx context.Context, db *sql.DB, query string) ([]string, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0)
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		switch v := values[0].(type) {
		case string:
			names = append(names, v)
		case []byte:
			names = append(names, string(v))
		}
	}
	return names, rows.Err()
}
