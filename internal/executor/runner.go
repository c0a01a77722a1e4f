package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// ScriptRunner 调用外部引擎执行脚本，并把失败统一为ExternalProcessError
type ScriptRunner struct {
	executor JobExecutor
}

func NewScriptRunner(executor JobExecutor) *ScriptRunner {
	return &ScriptRunner{executor: executor}
}

// WriteScript 覆盖写入脚本
func WriteScript(path, body string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create script directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		return fmt.Errorf("write script %s: %w", path, err)
	}
	return nil
}

// Execute 阻塞执行已写出的脚本，非零退出码返回*ExternalProcessError，不重试
// 即使失败也返回Result，便于记录执行历史
func (r *ScriptRunner) Execute(ctx context.Context, table, scriptPath string) (*Result, error) {
	logrus.Infof("[ScriptRunner] Processing %s: %s", table, scriptPath)

	start := time.Now()
	result, err := r.executor.Execute(ctx, scriptPath)
	if err != nil {
		if result == nil {
			result = &Result{ExitCode: -1, Duration: time.Since(start)}
		}
		return result, &ExternalProcessError{
			Table:      table,
			ScriptPath: scriptPath,
			ExitCode:   result.ExitCode,
			Output:     result.Output,
			Err:        err,
		}
	}

	if result.ExitCode != 0 {
		logrus.Errorf("[ScriptRunner] %s exited with status %d after %s", table, result.ExitCode, result.Duration)
		return result, &ExternalProcessError{
			Table:      table,
			ScriptPath: scriptPath,
			ExitCode:   result.ExitCode,
			Output:     result.Output,
		}
	}

	logrus.Infof("[ScriptRunner] Done with %s in %s", table, result.Duration.Round(time.Millisecond))
	return result, nil
}
