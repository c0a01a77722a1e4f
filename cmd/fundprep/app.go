package main

import (
	"io"

	"FundPrep/internal/cache/lru"
	"FundPrep/internal/cache/snapshot"
	"FundPrep/internal/executor"
	"FundPrep/internal/model"
	"FundPrep/internal/repository"
	"FundPrep/internal/service"
	"FundPrep/pkg/config"
	"FundPrep/pkg/etcd"

	"github.com/sirupsen/logrus"
)

// app 按配置组装好的各组件
type app struct {
	cfg      *config.Config
	pipeline *service.Pipeline
	runs     *repository.RunRepository
	snapshot *snapshot.Manager
	schemas  *repository.CachedSchemaReader
	closers  []io.Closer
}

// newApp 组装流水线；withHistory为false时不打开执行历史库
func newApp(cfg *config.Config, withHistory bool) (*app, error) {
	a := &app{cfg: cfg}

	reader, err := repository.NewSchemaReader(cfg.Data.Format, cfg.Data.Path)
	if err != nil {
		return nil, err
	}
	if c, ok := reader.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	// schema缓存及其快照
	cache := lru.New(cfg.Cache.MaxBytes, cfg.Cache.TTL, (*model.Schema).Size)
	if cfg.Cache.SnapshotPath != "" {
		a.snapshot = snapshot.NewManager(cache, cfg.Cache.SnapshotPath)
		if _, err := a.snapshot.Load(); err != nil {
			logrus.Warnf("Schema cache snapshot ignored: %v", err)
		}
	}
	cached := repository.NewCachedSchemaReader(reader, cache)
	a.schemas = cached

	fields, err := fieldSet(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	libs, err := cfg.Libnames()
	if err != nil {
		a.Close()
		return nil, err
	}
	opts := service.RenderOptions{
		Includes: cfg.Includes(),
		MinDate:  cfg.Template.MinDate,
	}
	for _, l := range libs {
		opts.Libnames = append(opts.Libnames, service.Libname{Name: l.Name, Path: l.Path})
	}

	exec := executor.NewProcessExecutor(cfg.SAS.Binary, cfg.SASArgs(), cfg.SAS.Timeout)
	exec.Dir = cfg.SAS.ScriptDir

	annual, quarterly := jobs(cfg)
	a.pipeline = service.NewPipeline(cached, service.NewReconciler(fields), service.NewRenderer(opts),
		executor.NewScriptRunner(exec), annual, quarterly)
	a.pipeline.SetAliasQuarterly(cfg.Fields.AliasQuarterly)

	if withHistory && cfg.History.DBPath != "" {
		runs, err := repository.NewRunRepository(cfg.History.DBPath)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.runs = runs
		a.closers = append(a.closers, runs)
		a.pipeline.SetRecorder(runs)
	}

	if endpoints := cfg.EtcdEndpoints(); len(endpoints) > 0 {
		client, err := etcd.NewClient(endpoints, cfg.Etcd.Prefix, cfg.Etcd.TTL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, client)
		a.pipeline.SetLocker(client)
	}

	return a, nil
}

// Close 保存schema快照并释放资源
func (a *app) Close() {
	if a.schemas != nil {
		s := a.schemas.Stats()
		logrus.Debugf("Schema cache: %d entries, %d hits, %d misses", s.Entries, s.Hits, s.Misses)
	}
	if a.snapshot != nil {
		if err := a.snapshot.Save(); err != nil {
			logrus.Warnf("Failed to save schema cache snapshot: %v", err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i].Close()
	}
}

// resolveJob 路由参数到作业类别，熔断按类别计数
func (a *app) resolveJob(table string) (string, bool) {
	job, err := a.pipeline.JobByTable(table)
	if err != nil {
		return "", false
	}
	return string(job.Kind), true
}

func fieldSet(cfg *config.Config) (*model.FieldSet, error) {
	fields := model.DefaultFieldSet()
	if canonical := cfg.CanonicalFields(); canonical != nil {
		fields.Canonical = canonical
	}
	if suffixes := cfg.QuarterlySuffixes(); suffixes != nil {
		fields.QuarterlySuffixes = suffixes
	}
	lookup, err := cfg.QuarterlyLookup()
	if err != nil {
		return nil, err
	}
	fields.QuarterlyLookup = lookup
	return fields, nil
}

func jobs(cfg *config.Config) (model.Job, model.Job) {
	lib := cfg.Data.Library
	tpl := cfg.Template
	annual := model.Job{
		Kind:       model.SchemaAnnual,
		TableOut:   cfg.Data.AnnualTable,
		TableFrom:  lib + "." + cfg.Data.AnnualTable,
		ScriptPath: cfg.ScriptPath(cfg.Data.AnnualTable),
		OrderBy:    tpl.OrderBy,
		Extras:     service.AnnualExtras(cfg.Data.AnnualTable, tpl.OutputLibrary, tpl.LinkTable),
	}
	quarterly := model.Job{
		Kind:       model.SchemaQuarterly,
		TableOut:   cfg.Data.QuarterlyTable,
		TableFrom:  lib + "." + cfg.Data.QuarterlyTable,
		ScriptPath: cfg.ScriptPath(cfg.Data.QuarterlyTable),
		OrderBy:    tpl.OrderBy,
		Extras:     service.QuarterlyExtras(cfg.Data.QuarterlyTable, tpl.OutputLibrary, tpl.LinkTable),
	}
	return annual, quarterly
}
