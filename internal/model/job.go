package model

import "time"

// Job 一个待执行的SAS作业
type Job struct {
	Kind       SchemaKind `json:"kind"`
	TableOut   string     `json:"table_out"`   // 输出表名
	TableFrom  string     `json:"table_from"`  // 源表，如comp.funda
	ScriptPath string     `json:"script_path"` // 生成脚本的路径
	OrderBy    string     `json:"order_by"`
	Extras     string     `json:"extras"` // 追加在查询之后的SAS语句
}

// RunStatus 作业执行状态
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunSkipped   RunStatus = "skipped" // 没有可用字段，未调用外部引擎
)

// RunRecord 作业执行记录
type RunRecord struct {
	ID         int64         `json:"id"`
	Table      string        `json:"table"`
	ScriptPath string        `json:"script_path"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	ExitCode   int           `json:"exit_code"`
	Status     RunStatus     `json:"status"`
	Output     string        `json:"output"`
}
