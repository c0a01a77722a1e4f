package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// JobExecutor 同步执行外部作业，测试中可替换为记录调用的假实现
type JobExecutor interface {
	Execute(ctx context.Context, scriptPath string) (*Result, error)
}

// Result 外部进程执行结果
type Result struct {
	ExitCode int
	Output   []byte // stdout与stderr合并
	Duration time.Duration
}

// ProcessExecutor 以 "<binary> <args...> <scriptPath>" 方式调用解释器
type ProcessExecutor struct {
	Binary  string
	Args    []string
	Dir     string        // 工作目录，SAS的.log/.lst写在这里
	Timeout time.Duration // <=0表示不设超时
}

// NewProcessExecutor 创建执行器
func NewProcessExecutor(binary string, args []string, timeout time.Duration) *ProcessExecutor {
	return &ProcessExecutor{
		Binary:  binary,
		Args:    append([]string(nil), args...),
		Timeout: timeout,
	}
}

// Execute 阻塞直到进程退出；超时或取消时杀掉整个进程组
// 返回error仅表示进程未能正常运行，非零退出码通过Result.ExitCode返回
func (e *ProcessExecutor) Execute(ctx context.Context, scriptPath string) (*Result, error) {
	if e.Binary == "" {
		return nil, fmt.Errorf("executor binary is empty")
	}

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	args := append(append([]string(nil), e.Args...), scriptPath)
	cmd := exec.Command(e.Binary, args...)
	cmd.Dir = e.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", e.Binary, err)
	}
	logrus.Debugf("[Executor] started %s %v (pid %d)", e.Binary, args, cmd.Process.Pid)

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var err error
	select {
	case <-ctx.Done():
		syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
		return &Result{ExitCode: -1, Output: output.Bytes(), Duration: time.Since(start)},
			fmt.Errorf("execution of %s aborted: %w", scriptPath, ctx.Err())
	case err = <-done:
	}

	result := &Result{Output: output.Bytes(), Duration: time.Since(start)}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to execute %s: %w", e.Binary, err)
		}
		result.ExitCode = exitErr.ExitCode()
	}
	return result, nil
}
