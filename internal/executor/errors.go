package executor

import "fmt"

// 错误信息中保留的输出上限
const maxErrorOutput = 4096

// ExternalProcessError 外部引擎执行失败，携带捕获的输出
type ExternalProcessError struct {
	Table      string
	ScriptPath string
	ExitCode   int
	Output     []byte
	Err        error // 进程未能运行完成时的原因（启动失败、超时）
}

func (e *ExternalProcessError) Error() string {
	var msg string
	if e.Err != nil {
		msg = fmt.Sprintf("%s job (%s) failed: %v", e.Table, e.ScriptPath, e.Err)
	} else {
		msg = fmt.Sprintf("%s job (%s) exited with status %d", e.Table, e.ScriptPath, e.ExitCode)
	}
	if len(e.Output) > 0 {
		out := e.Output
		if len(out) > maxErrorOutput {
			out = out[len(out)-maxErrorOutput:]
		}
		msg += "\n" + string(out)
	}
	return msg
}

func (e *ExternalProcessError) Unwrap() error {
	return e.Err
}
