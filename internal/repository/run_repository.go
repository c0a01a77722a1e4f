package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"FundPrep/internal/model"

	_ "modernc.org/sqlite"
)

// 记录中保留的输出上限
const maxStoredOutput = 64 * 1024

// RunRepository 作业执行历史，存储在SQLite中
type RunRepository struct {
	db *sql.DB
}

func NewRunRepository(dbPath string) (*RunRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA synchronous=NORMAL")
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS job_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			table_name TEXT NOT NULL,
			script_path TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			exit_code INTEGER NOT NULL,
			status TEXT NOT NULL,
			output TEXT
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create job_runs table: %w", err)
	}

	return &RunRepository{db: db}, nil
}

func (r *RunRepository) Close() error {
	return r.db.Close()
}

// Save 保存一条执行记录，回填ID
func (r *RunRepository) Save(ctx context.Context, rec *model.RunRecord) error {
	output := rec.Output
	if len(output) > maxStoredOutput {
		output = output[len(output)-maxStoredOutput:]
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO job_runs (table_name, script_path, started_at, duration_ms, exit_code, status, output)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.Table, rec.ScriptPath, rec.StartedAt.UnixMilli(), rec.Duration.Milliseconds(), rec.ExitCode, string(rec.Status), output)
	if err != nil {
		return fmt.Errorf("insert job run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rec.ID = id
	return nil
}

// Recent 按时间倒序返回最近的记录，table为空时返回所有表
func (r *RunRepository) Recent(ctx context.Context, table string, limit int) ([]*model.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, table_name, script_path, started_at, duration_ms, exit_code, status, output
		FROM job_runs
	`
	args := make([]interface{}, 0, 2)
	if table != "" {
		query += " WHERE table_name = ?"
		args = append(args, table)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]*model.RunRecord, 0)
	for rows.Next() {
		var rec model.RunRecord
		var startedAt, durationMs int64
		var status string
		var output sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Table, &rec.ScriptPath, &startedAt, &durationMs, &rec.ExitCode, &status, &output); err != nil {
			return nil, err
		}
		rec.StartedAt = time.UnixMilli(startedAt)
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		rec.Status = model.RunStatus(status)
		if output.Valid {
			rec.Output = output.String
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}
