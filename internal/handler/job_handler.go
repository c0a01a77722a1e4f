package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"FundPrep/internal/executor"
	"FundPrep/internal/model"
	"FundPrep/internal/repository"
	"FundPrep/internal/service"
	"FundPrep/pkg/common"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// JobHandler 作业相关接口
type JobHandler struct {
	pipeline *service.Pipeline
	runs     *repository.RunRepository
	// 作业的生命周期跟随服务而不是请求
	baseCtx context.Context
}

// NewJobHandler runs可以为nil，此时历史接口返回空列表
func NewJobHandler(pipeline *service.Pipeline, runs *repository.RunRepository) *JobHandler {
	return &JobHandler{
		pipeline: pipeline,
		runs:     runs,
		baseCtx:  context.Background(),
	}
}

// WithContext 设置作业使用的上下文，服务关闭时取消正在运行的作业
func (h *JobHandler) WithContext(ctx context.Context) *JobHandler {
	h.baseCtx = ctx
	return h
}

// Plan 字段对齐结果
// GET /fundprep/api/v1/plan
func (h *JobHandler) Plan(c *gin.Context) {
	rec, err := h.pipeline.Plan(c.Request.Context())
	if err != nil {
		logrus.Errorf("Failed to plan: %v", err)
		c.JSON(statusOf(err), common.NewErrorResponse(statusOf(err), err.Error()))
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(rec))
}

// Script 渲染后的脚本文本，不写文件
// GET /fundprep/api/v1/script/:table?all=true
func (h *JobHandler) Script(c *gin.Context) {
	job, err := h.pipeline.JobByTable(c.Param("table"))
	if err != nil {
		c.JSON(http.StatusNotFound, common.NewErrorResponse(404, err.Error()))
		return
	}

	report, err := h.pipeline.Render(c.Request.Context(), queryBool(c, "all"))
	if err != nil {
		logrus.Errorf("Failed to render %s: %v", job.TableOut, err)
		c.JSON(statusOf(err), common.NewErrorResponse(statusOf(err), err.Error()))
		return
	}

	for _, script := range report.Scripts {
		if script.Job.Kind == job.Kind {
			c.String(http.StatusOK, script.Body)
			return
		}
	}
	c.JSON(http.StatusNotFound, common.NewErrorResponse(404, "script not rendered"))
}

// Run 写出脚本并执行单个作业，阻塞直到完成
// 客户端断开不会中止作业，超时由执行器控制；开启历史时返回的runs带有记录ID
// POST /fundprep/api/v1/run/:table?all=true
func (h *JobHandler) Run(c *gin.Context) {
	job, err := h.pipeline.JobByTable(c.Param("table"))
	if err != nil {
		c.JSON(http.StatusNotFound, common.NewErrorResponse(404, err.Error()))
		return
	}

	opts := service.RunOptions{
		Annual:    job.Kind == model.SchemaAnnual,
		Quarterly: job.Kind == model.SchemaQuarterly,
		AllFields: queryBool(c, "all"),
	}

	report, err := h.pipeline.Run(h.baseCtx, opts)
	if err != nil {
		logrus.Errorf("Job %s failed: %v", job.TableOut, err)
		c.JSON(statusOf(err), common.NewJobFailureResponse(statusOf(err), err, report))
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(report))
}

// Runs 最近的执行记录
// GET /fundprep/api/v1/runs?table=funda&limit=20
func (h *JobHandler) Runs(c *gin.Context) {
	if h.runs == nil {
		c.JSON(http.StatusOK, common.NewSuccessResponse([]*model.RunRecord{}))
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, common.NewErrorResponse(400, "invalid limit"))
		return
	}

	records, err := h.runs.Recent(c.Request.Context(), c.Query("table"), limit)
	if err != nil {
		logrus.Errorf("Failed to list runs: %v", err)
		c.JSON(http.StatusInternalServerError, common.NewErrorResponse(500, err.Error()))
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(records))
}

// statusOf 外部进程失败记为502，无可用字段记为422，schema读取失败记为500
func statusOf(err error) int {
	var procErr *executor.ExternalProcessError
	if errors.As(err, &procErr) {
		return http.StatusBadGateway
	}
	var noFields *service.NoFieldsError
	if errors.As(err, &noFields) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func queryBool(c *gin.Context, key string) bool {
	v, err := strconv.ParseBool(c.DefaultQuery(key, "false"))
	return err == nil && v
}
