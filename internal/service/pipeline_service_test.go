package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"FundPrep/internal/executor"
	"FundPrep/internal/model"
	"FundPrep/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExecutor 记录调用，按脚本路径返回预设结果
type fakeExecutor struct {
	mu      sync.Mutex
	calls   []string
	bodies  map[string]string
	results map[string]*executor.Result
	errs    map[string]error
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		bodies:  make(map[string]string),
		results: make(map[string]*executor.Result),
		errs:    make(map[string]error),
	}
}

func (f *fakeExecutor) Execute(ctx context.Context, scriptPath string) (*executor.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, scriptPath)
	body, _ := os.ReadFile(scriptPath)
	f.bodies[scriptPath] = string(body)

	if err, ok := f.errs[scriptPath]; ok {
		return nil, err
	}
	if res, ok := f.results[scriptPath]; ok {
		return res, nil
	}
	return &executor.Result{ExitCode: 0, Output: []byte("ok"), Duration: time.Millisecond}, nil
}

type memoryRecorder struct {
	records []*model.RunRecord
}

func (m *memoryRecorder) Save(ctx context.Context, rec *model.RunRecord) error {
	rec.ID = int64(len(m.records) + 1)
	m.records = append(m.records, rec)
	return nil
}

type countingLocker struct {
	locks, unlocks int
	err            error
}

func (l *countingLocker) Lock(ctx context.Context, key string) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.locks++
	return func() { l.unlocks++ }, nil
}

type fixture struct {
	pipeline *Pipeline
	exec     *fakeExecutor
	reader   *repository.MemorySchemaReader
	dir      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	fields := model.DefaultFieldSet()
	fields.Canonical = []string{"gvkey", "prcc_f", "cshpri", "sich"}

	reader := repository.NewMemorySchemaReader(map[string][]string{
		"funda": {"gvkey", "datadate", "prcc_f", "cshpri", "sich"},
		"fundq": {"gvkey", "prccq", "cshprq", "datadate"},
	})

	annual := model.Job{
		Kind: model.SchemaAnnual, TableOut: "funda", TableFrom: "comp.funda",
		ScriptPath: filepath.Join(dir, "funda.sas"), OrderBy: "ORDER BY gvkey, datadate",
		Extras: AnnualExtras("funda", "data", "comp.ccmxpf_linktable"),
	}
	quarterly := model.Job{
		Kind: model.SchemaQuarterly, TableOut: "fundq", TableFrom: "comp.fundq",
		ScriptPath: filepath.Join(dir, "fundq.sas"), OrderBy: "ORDER BY gvkey, datadate",
		Extras: QuarterlyExtras("fundq", "data", "comp.ccmxpf_linktable"),
	}

	exec := newFakeExecutor()
	p := NewPipeline(reader, NewReconciler(fields), NewRenderer(DefaultRenderOptions()),
		executor.NewScriptRunner(exec), annual, quarterly)
	return &fixture{pipeline: p, exec: exec, reader: reader, dir: dir}
}

func TestPipeline_Plan(t *testing.T) {
	f := newFixture(t)

	rec, err := f.pipeline.Plan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"gvkey", "prcc_f", "cshpri", "sich"}, rec.AnnualColumns())
	assert.Equal(t, []string{"gvkey", "prccq", "cshprq"}, rec.QuarterlyColumns())
	require.Len(t, rec.Unresolved, 1)
	assert.Equal(t, "sich", rec.Unresolved[0].Field)
}

func TestPipeline_RunBothJobs(t *testing.T) {
	f := newFixture(t)
	recorder := &memoryRecorder{}
	f.pipeline.SetRecorder(recorder)

	report, err := f.pipeline.Run(context.Background(), RunOptions{Annual: true, Quarterly: true})
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join(f.dir, "funda.sas"), filepath.Join(f.dir, "fundq.sas")}, f.exec.calls)
	require.Len(t, report.Runs, 2)
	assert.Equal(t, model.RunSucceeded, report.Runs[0].Status)
	assert.Len(t, recorder.records, 2)

	fundq := f.exec.bodies[filepath.Join(f.dir, "fundq.sas")]
	assert.Contains(t, fundq, "SELECT gvkey,\n\tprccq,\n\tcshprq,")
	assert.NotContains(t, fundq, "sich")
}

func TestPipeline_WritesBothScriptsWhenOneJobSelected(t *testing.T) {
	f := newFixture(t)

	_, err := f.pipeline.Run(context.Background(), RunOptions{Quarterly: true})
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join(f.dir, "fundq.sas")}, f.exec.calls)
	assert.FileExists(t, filepath.Join(f.dir, "funda.sas"))
	assert.FileExists(t, filepath.Join(f.dir, "fundq.sas"))
}

func TestPipeline_AllFieldsBypassesSchemas(t *testing.T) {
	f := newFixture(t)
	// 两个表都不存在，SELECT * 模式不需要读取schema
	empty := repository.NewMemorySchemaReader(nil)
	f.pipeline.reader = empty

	report, err := f.pipeline.Run(context.Background(), RunOptions{Annual: true, AllFields: true})
	require.NoError(t, err)

	assert.Nil(t, report.Reconciliation)
	for _, s := range report.Scripts {
		assert.Contains(t, s.Body, "SELECT *,\n")
	}
	assert.Equal(t, 0, empty.Reads("funda"))
}

func TestPipeline_SchemaReadErrorAbortsBeforeScripts(t *testing.T) {
	f := newFixture(t)
	f.pipeline.reader = repository.NewMemorySchemaReader(map[string][]string{"funda": {"gvkey"}})

	_, err := f.pipeline.Run(context.Background(), RunOptions{Annual: true, Quarterly: true})
	require.Error(t, err)

	var readErr *repository.SchemaReadError
	require.True(t, errors.As(err, &readErr))
	assert.Equal(t, "fundq", readErr.Table)
	assert.Empty(t, f.exec.calls)
	assert.NoFileExists(t, filepath.Join(f.dir, "funda.sas"))
}

func TestPipeline_ExternalFailureContinuesToSecondJob(t *testing.T) {
	f := newFixture(t)
	recorder := &memoryRecorder{}
	f.pipeline.SetRecorder(recorder)
	fundaPath := filepath.Join(f.dir, "funda.sas")
	f.exec.results[fundaPath] = &executor.Result{ExitCode: 2, Output: []byte("ERROR: Libref COMP is not assigned.")}

	report, err := f.pipeline.Run(context.Background(), RunOptions{Annual: true, Quarterly: true})
	require.Error(t, err)

	var procErr *executor.ExternalProcessError
	require.True(t, errors.As(err, &procErr))
	assert.Equal(t, "funda", procErr.Table)
	assert.Equal(t, 2, procErr.ExitCode)
	assert.Contains(t, err.Error(), "Libref COMP is not assigned")

	assert.Len(t, f.exec.calls, 2)
	require.Len(t, report.Runs, 2)
	assert.Equal(t, model.RunFailed, report.Runs[0].Status)
	assert.Equal(t, model.RunSucceeded, report.Runs[1].Status)
	assert.Equal(t, model.RunFailed, recorder.records[0].Status)
}

func TestPipeline_UnresolvedTableDoesNotBlockOtherJob(t *testing.T) {
	f := newFixture(t)
	f.reader.Set("fundq", []string{"datacqtr_x", "foo"})

	report, err := f.pipeline.Run(context.Background(), RunOptions{Annual: true})
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join(f.dir, "funda.sas")}, f.exec.calls)
	require.Len(t, report.Runs, 1)
	assert.Equal(t, model.RunSucceeded, report.Runs[0].Status)

	// 季度脚本照常写出，只保留聚合列和固定过滤条件
	assert.True(t, report.Scripts[1].Empty)
	fundq, err := os.ReadFile(filepath.Join(f.dir, "fundq.sas"))
	require.NoError(t, err)
	assert.Contains(t, string(fundq), "SELECT MIN(datadate) AS comp_start")
	assert.Contains(t, string(fundq), "AND CONSOL='C'")
}

func TestPipeline_UnresolvedTableIsSkipped(t *testing.T) {
	f := newFixture(t)
	recorder := &memoryRecorder{}
	f.pipeline.SetRecorder(recorder)
	f.reader.Set("fundq", []string{"foo"})

	report, err := f.pipeline.Run(context.Background(), RunOptions{Annual: true, Quarterly: true})
	require.Error(t, err)

	var noFields *NoFieldsError
	require.True(t, errors.As(err, &noFields))
	assert.Equal(t, "fundq", noFields.Table)

	// 年度作业照常执行，季度作业不调用外部引擎
	assert.Equal(t, []string{filepath.Join(f.dir, "funda.sas")}, f.exec.calls)
	require.Len(t, report.Runs, 2)
	assert.Equal(t, model.RunSucceeded, report.Runs[0].Status)
	assert.Equal(t, model.RunSkipped, report.Runs[1].Status)
	require.Len(t, recorder.records, 2)
	assert.Equal(t, model.RunSkipped, recorder.records[1].Status)
}

func TestPipeline_FailFast(t *testing.T) {
	f := newFixture(t)
	f.exec.results[filepath.Join(f.dir, "funda.sas")] = &executor.Result{ExitCode: 1}

	report, err := f.pipeline.Run(context.Background(), RunOptions{Annual: true, Quarterly: true, FailFast: true})
	require.Error(t, err)

	assert.Len(t, f.exec.calls, 1)
	assert.Len(t, report.Runs, 1)
}

func TestPipeline_ExecutorErrorIsExternalProcessError(t *testing.T) {
	f := newFixture(t)
	fundqPath := filepath.Join(f.dir, "fundq.sas")
	f.exec.errs[fundqPath] = context.DeadlineExceeded

	_, err := f.pipeline.Run(context.Background(), RunOptions{Quarterly: true})

	var procErr *executor.ExternalProcessError
	require.True(t, errors.As(err, &procErr))
	assert.Equal(t, "fundq", procErr.Table)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPipeline_AliasQuarterly(t *testing.T) {
	f := newFixture(t)
	f.pipeline.SetAliasQuarterly(true)

	report, err := f.pipeline.Render(context.Background(), false)
	require.NoError(t, err)

	fundq := report.Scripts[1].Body
	assert.Contains(t, fundq, "prccq AS prcc_f")
	assert.Contains(t, fundq, "cshprq AS cshpri")
	assert.False(t, strings.Contains(report.Scripts[0].Body, " AS prcc_f"))
}

func TestPipeline_Locking(t *testing.T) {
	f := newFixture(t)
	locker := &countingLocker{}
	f.pipeline.SetLocker(locker)

	_, err := f.pipeline.WriteScripts(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, locker.locks)
	assert.Equal(t, 1, locker.unlocks)
	assert.Empty(t, f.exec.calls)

	locker.err = errors.New("etcd unavailable")
	_, err = f.pipeline.Run(context.Background(), RunOptions{Annual: true})
	assert.ErrorContains(t, err, "acquire script lock")
	assert.Empty(t, f.exec.calls)
}

func TestPipeline_JobByTable(t *testing.T) {
	f := newFixture(t)

	job, err := f.pipeline.JobByTable("fundq")
	require.NoError(t, err)
	assert.Equal(t, model.SchemaQuarterly, job.Kind)

	job, err = f.pipeline.JobByTable("annual")
	require.NoError(t, err)
	assert.Equal(t, "funda", job.TableOut)

	_, err = f.pipeline.JobByTable("crsp")
	assert.Error(t, err)
}
