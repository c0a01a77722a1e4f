package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"FundPrep/internal/handler"
	"FundPrep/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve plans and scripts over HTTP and trigger runs on demand",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Server port (overrides server.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}

	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	logrus.Info("===========================================")
	logrus.Info("  FundPrep Script Service")
	logrus.Info("===========================================")
	logrus.Infof("Data: %s (%s)", cfg.Data.Path, cfg.Data.Format)
	logrus.Infof("Scripts: %s", cfg.SAS.ScriptDir)

	if cfg.Server.Mode == gin.ReleaseMode && !debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := setupRouter(a, handler.NewJobHandler(a.pipeline, a.runs).WithContext(cmd.Context()),
		middleware.NewRateLimiter(nil),
		middleware.NewJobBreaker(&middleware.JobBreakerConfig{
			FailureLimit: cfg.Server.BreakerFailures,
			Cooldown:     cfg.Server.BreakerCooldown,
		}))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("Starting server on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-cmd.Context().Done():
		logrus.Info("Shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}

func setupRouter(a *app, jobHandler *handler.JobHandler, limiters *middleware.RateLimiter,
	breaker *middleware.JobBreaker) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RateLimitMiddleware(limiters))

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})

	apiGroup := r.Group("/fundprep/api/v1")
	{
		apiGroup.GET("/plan", jobHandler.Plan)
		apiGroup.GET("/script/:table", jobHandler.Script)
		apiGroup.POST("/run/:table", middleware.JobBreakerMiddleware(breaker, a.resolveJob), jobHandler.Run)
		apiGroup.GET("/runs", jobHandler.Runs)
	}

	monitorGroup := r.Group("/monitor")
	{
		monitorGroup.GET("/breaker", func(c *gin.Context) {
			c.JSON(200, gin.H{
				"code":    200,
				"message": "success",
				"data":    breaker.Stats(),
			})
		})
		monitorGroup.GET("/cache", func(c *gin.Context) {
			data := gin.H{"schemas": a.schemas.Stats()}
			if a.snapshot != nil {
				data["snapshot"] = a.snapshot.Info()
			}
			c.JSON(200, gin.H{
				"code":    200,
				"message": "success",
				"data":    data,
			})
		})
		monitorGroup.GET("/ratelimit", func(c *gin.Context) {
			c.JSON(200, gin.H{
				"code":    200,
				"message": "success",
				"data":    limiters.Stats(),
			})
		})
	}

	return r
}
