package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"FundPrep/internal/executor"
	"FundPrep/internal/model"
	"FundPrep/internal/repository"

	"github.com/sirupsen/logrus"
)

// Locker 跨进程互斥，保护固定路径上的脚本文件
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// RunRecorder 保存作业执行记录
type RunRecorder interface {
	Save(ctx context.Context, rec *model.RunRecord) error
}

// 脚本锁的key
const scriptLockKey = "scripts"

// RunOptions 一次运行的选项
type RunOptions struct {
	Annual    bool // 执行年度作业
	Quarterly bool // 执行季度作业
	AllFields bool // SELECT *，跳过字段对齐
	FailFast  bool // 第一个作业失败后不再执行第二个
}

// RenderedScript 渲染后的脚本
type RenderedScript struct {
	Job   model.Job `json:"job"`
	Body  string    `json:"body"`
	Empty bool      `json:"empty,omitempty"` // 没有解析出任何字段
}

// NoFieldsError 表没有解析出任何字段，作业未执行
type NoFieldsError struct {
	Table string
}

func (e *NoFieldsError) Error() string {
	return fmt.Sprintf("%s job skipped: no fields resolved", e.Table)
}

// RunReport 一次运行的结果
type RunReport struct {
	Reconciliation *model.Reconciliation `json:"reconciliation,omitempty"`
	Scripts        []*RenderedScript     `json:"scripts"`
	Runs           []*model.RunRecord    `json:"runs"`
}

// Pipeline 检查schema -> 对齐字段 -> 渲染 -> 执行
type Pipeline struct {
	reader     repository.SchemaReader
	reconciler *Reconciler
	renderer   *Renderer
	runner     *executor.ScriptRunner
	annual     model.Job
	quarterly  model.Job

	aliasQuarterly bool
	recorder       RunRecorder
	locker         Locker

	// 两个脚本共享固定路径，同一进程内的运行串行化
	mu sync.Mutex
}

func NewPipeline(reader repository.SchemaReader, reconciler *Reconciler, renderer *Renderer,
	runner *executor.ScriptRunner, annual, quarterly model.Job) *Pipeline {
	return &Pipeline{
		reader:     reader,
		reconciler: reconciler,
		renderer:   renderer,
		runner:     runner,
		annual:     annual,
		quarterly:  quarterly,
	}
}

// SetAliasQuarterly 季度列是否追加 AS 规范名
func (p *Pipeline) SetAliasQuarterly(alias bool) {
	p.aliasQuarterly = alias
}

// SetRecorder 设置执行记录存储
func (p *Pipeline) SetRecorder(recorder RunRecorder) {
	p.recorder = recorder
}

// SetLocker 设置跨进程锁
func (p *Pipeline) SetLocker(locker Locker) {
	p.locker = locker
}

// JobByTable 按类别或输出表名查找作业
func (p *Pipeline) JobByTable(name string) (model.Job, error) {
	for _, job := range []model.Job{p.annual, p.quarterly} {
		if name == string(job.Kind) || name == job.TableOut {
			return job, nil
		}
	}
	return model.Job{}, fmt.Errorf("unknown job %q", name)
}

// Plan 读取两个schema并对齐字段，任一schema读取失败即返回
func (p *Pipeline) Plan(ctx context.Context) (*model.Reconciliation, error) {
	annual, err := p.reader.ReadSchema(ctx, p.annual.TableOut)
	if err != nil {
		return nil, err
	}
	quarterly, err := p.reader.ReadSchema(ctx, p.quarterly.TableOut)
	if err != nil {
		return nil, err
	}
	return p.reconciler.Reconcile(annual, quarterly), nil
}

// Render 渲染两个脚本，allFields时不读取schema
func (p *Pipeline) Render(ctx context.Context, allFields bool) (*RunReport, error) {
	report := &RunReport{}

	var annualCols, quarterlyCols []string
	if allFields {
		annualCols = []string{AllFields}
		quarterlyCols = []string{AllFields}
	} else {
		rec, err := p.Plan(ctx)
		if err != nil {
			return nil, err
		}
		report.Reconciliation = rec
		annualCols = SelectColumns(rec.Annual, false)
		quarterlyCols = SelectColumns(rec.Quarterly, p.aliasQuarterly)
	}

	for _, item := range []struct {
		job  model.Job
		cols []string
	}{
		{p.annual, annualCols},
		{p.quarterly, quarterlyCols},
	} {
		body, err := p.renderer.Render(RenderInput{
			TableOut:  item.job.TableOut,
			Columns:   item.cols,
			TableFrom: item.job.TableFrom,
			OrderBy:   item.job.OrderBy,
			Extras:    item.job.Extras,
		})
		if err != nil {
			return nil, err
		}
		report.Scripts = append(report.Scripts, &RenderedScript{Job: item.job, Body: body, Empty: len(item.cols) == 0})
	}
	return report, nil
}

// WriteScripts 渲染并写出两个脚本，不执行
func (p *Pipeline) WriteScripts(ctx context.Context, allFields bool) (*RunReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	unlock, err := p.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	report, err := p.Render(ctx, allFields)
	if err != nil {
		return nil, err
	}
	if err := p.write(report); err != nil {
		return nil, err
	}
	return report, nil
}

// Run 写出两个脚本，再依次执行选中的作业（先年度后季度）
// 默认一个作业失败不影响另一个，所有失败合并返回；FailFast时遇错即停
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*RunReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	unlock, err := p.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	report, err := p.Render(ctx, opts.AllFields)
	if err != nil {
		return nil, err
	}
	if err := p.write(report); err != nil {
		return report, err
	}

	var errs []error
	for _, script := range report.Scripts {
		if !selected(script.Job.Kind, opts) {
			continue
		}
		var rec *model.RunRecord
		if script.Empty {
			rec, err = p.skip(ctx, script.Job)
		} else {
			rec, err = p.execute(ctx, script.Job)
		}
		report.Runs = append(report.Runs, rec)
		if err != nil {
			errs = append(errs, err)
			if opts.FailFast {
				break
			}
		}
	}
	return report, errors.Join(errs...)
}

func selected(kind model.SchemaKind, opts RunOptions) bool {
	switch kind {
	case model.SchemaAnnual:
		return opts.Annual
	case model.SchemaQuarterly:
		return opts.Quarterly
	}
	return false
}

func (p *Pipeline) write(report *RunReport) error {
	for _, script := range report.Scripts {
		if err := executor.WriteScript(script.Job.ScriptPath, script.Body); err != nil {
			return err
		}
		logrus.Infof("[Pipeline] wrote %s", script.Job.ScriptPath)
	}
	return nil
}

// skip 记录一个因无字段而跳过的作业
func (p *Pipeline) skip(ctx context.Context, job model.Job) (*model.RunRecord, error) {
	rec := &model.RunRecord{
		Table:      job.TableOut,
		ScriptPath: job.ScriptPath,
		StartedAt:  time.Now(),
		ExitCode:   -1,
		Status:     model.RunSkipped,
	}
	err := &NoFieldsError{Table: job.TableOut}
	logrus.Warnf("[Pipeline] %v", err)
	p.record(ctx, rec)
	return rec, err
}

// execute 执行单个作业并记录结果
func (p *Pipeline) execute(ctx context.Context, job model.Job) (*model.RunRecord, error) {
	startedAt := time.Now()
	result, runErr := p.runner.Execute(ctx, job.TableOut, job.ScriptPath)

	rec := &model.RunRecord{
		Table:      job.TableOut,
		ScriptPath: job.ScriptPath,
		StartedAt:  startedAt,
		Status:     model.RunSucceeded,
	}
	if result != nil {
		rec.ExitCode = result.ExitCode
		rec.Duration = result.Duration
		rec.Output = string(result.Output)
	}
	if runErr != nil {
		rec.Status = model.RunFailed
	}

	p.record(ctx, rec)
	return rec, runErr
}

// record 历史记录失败不影响作业结果
func (p *Pipeline) record(ctx context.Context, rec *model.RunRecord) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.Save(ctx, rec); err != nil {
		logrus.Warnf("[Pipeline] failed to record run of %s: %v", rec.Table, err)
	}
}

func (p *Pipeline) lock(ctx context.Context) (func(), error) {
	if p.locker == nil {
		return func() {}, nil
	}
	unlock, err := p.locker.Lock(ctx, scriptLockKey)
	if err != nil {
		return nil, fmt.Errorf("acquire script lock: %w", err)
	}
	return unlock, nil
}
