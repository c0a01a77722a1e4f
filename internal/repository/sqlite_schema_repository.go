package repository

import (
	"context"
	"database/sql"
	"fmt"

	"FundPrep/internal/model"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// SQLiteSchemaReader 读取SQLite库中表的列
type SQLiteSchemaReader struct {
	db     *sql.DB
	dbPath string
}

func NewSQLiteSchemaReader(dbPath string) (*SQLiteSchemaReader, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?mode=ro")
	if err != nil {
		return nil, &SchemaReadError{Path: dbPath, Err: err}
	}
	return &SQLiteSchemaReader{db: db, dbPath: dbPath}, nil
}

func (r *SQLiteSchemaReader) Close() error {
	return r.db.Close()
}

// Fingerprint 实现Fingerprinter
func (r *SQLiteSchemaReader) Fingerprint(table string) (string, error) {
	fp, err := fileFingerprint(r.dbPath)
	if err != nil {
		return "", err
	}
	return table + "@" + fp, nil
}

// ReadSchema 实现SchemaReader
func (r *SQLiteSchemaReader) ReadSchema(ctx context.Context, table string) (*model.Schema, error) {
	if err := requireFile(table, r.dbPath); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, &SchemaReadError{Table: table, Path: r.dbPath, Err: err}
	}
	defer rows.Close()

	columns := make([]string, 0)
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return nil, &SchemaReadError{Table: table, Path: r.dbPath, Err: err}
		}
		columns = append(columns, name)
	}
	if err := rows.Err(); err != nil {
		return nil, &SchemaReadError{Table: table, Path: r.dbPath, Err: err}
	}

	// PRAGMA对不存在的表返回空结果
	if len(columns) == 0 {
		return nil, &SchemaReadError{Table: table, Path: r.dbPath, Err: fmt.Errorf("table not found")}
	}

	logrus.Debugf("[SQLiteSchemaReader] %s: %d columns", table, len(columns))
	return model.NewSchema(table, columns), nil
}
