// Package server 提供 HTTP Server 功能
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/KodaTao/WritingAgent/pkg/chassis"
	"github.com/KodaTao/WritingAgent/pkg/observability"
	"github.com/KodaTao/WritingAgent/pkg/scheduler"
	"github.com/KodaTao/WritingAgent/pkg/types"
)

// Server HTTP 服务器
type Server struct {
	app    *chassis.App
	engine *gin.Engine
	config *ServerConfig
	http   *http.Server
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host        string
	Port        int
	Mode        string // debug, release, test
	MetricsPath string // 为空时不暴露指标
}

// NewServer 创建 HTTP 服务器
func NewServer(app *chassis.App, config *ServerConfig) *Server {
	// 设置 Gin 模式
	switch config.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()

	// 添加中间件
	engine.Use(gin.Recovery())
	engine.Use(LoggerMiddleware())
	engine.Use(CORSMiddleware())

	server := &Server{
		app:    app,
		engine: engine,
		config: config,
	}

	// 注册路由
	server.setupRoutes()

	return server
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() {
	// 健康检查
	s.engine.GET("/health", s.healthCheck)

	if s.config.MetricsPath != "" {
		s.engine.GET(s.config.MetricsPath, gin.WrapH(observability.MetricsHandler()))
	}

	// API v1
	v1 := s.engine.Group("/api/v1")
	{
		// 对话接口
		v1.POST("/chat", s.chat)
		v1.POST("/chat/stream", s.chatStream)

		// 工具清单
		v1.GET("/tools", s.listTools)
		v1.GET("/tools/:name", s.getTool)

		// Session 管理
		v1.GET("/sessions", s.listSessions)
		v1.DELETE("/sessions/:id", s.deleteSession)

		// 人工确认
		v1.GET("/approvals", s.listApprovals)
		v1.POST("/approvals/:id", s.resolveApproval)

		// 调度任务
		v1.GET("/tasks", s.listTasks)
		v1.GET("/tasks/:id/runs", s.listTaskRuns)
		v1.DELETE("/tasks/:id", s.cancelTask)
	}
}

// Run 启动服务器，Shutdown 后返回 nil
func (s *Server) Run() error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	observability.Info("Starting HTTP server", "address", addr)

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 优雅关闭服务器
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// GetEngine 获取 Gin 引擎（用于测试）
func (s *Server) GetEngine() *gin.Engine {
	return s.engine
}

// 健康检查
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

// chatRequest HTTP 对话请求
type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message" binding:"required"`
}

func (r chatRequest) toChatRequest() types.ChatRequest {
	return types.ChatRequest{
		SessionID: r.SessionID,
		Message:   r.Message,
		Channel:   &types.ChannelContext{Type: "http"},
	}
}

// 对话接口
func (s *Server) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	resp, err := s.app.GetAgent().Chat(c.Request.Context(), req.toChatRequest())
	if err != nil {
		observability.Error("Chat failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Chat failed: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// 流式对话接口（SSE）
func (s *Server) chatStream(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	ch, err := s.app.GetAgent().ChatStream(c.Request.Context(), req.toChatRequest())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	for chunk := range ch {
		event := "message"
		if chunk.Done {
			event = "done"
		}
		c.SSEvent(event, chunk)
		c.Writer.Flush()
	}
}

// 列出能力清单
func (s *Server) listTools(c *gin.Context) {
	tools := s.app.GetRegistry().Manifest()
	c.JSON(http.StatusOK, gin.H{
		"tools": tools,
		"count": len(tools),
	})
}

// 获取单个工具
func (s *Server) getTool(c *gin.Context) {
	name := c.Param("name")

	for _, info := range s.app.GetRegistry().Manifest() {
		if info.Name == name {
			c.JSON(http.StatusOK, info)
			return
		}
	}

	c.JSON(http.StatusNotFound, gin.H{
		"error": "Tool not found: " + name,
	})
}

// 列出所有 Session
func (s *Server) listSessions(c *gin.Context) {
	sessions := s.app.GetAgent().ListSessions()
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// 删除 Session
func (s *Server) deleteSession(c *gin.Context) {
	id := c.Param("id")

	if s.app.GetAgent().DeleteSession(id) {
		c.JSON(http.StatusOK, gin.H{
			"message": "Session deleted",
		})
	} else {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Session not found: " + id,
		})
	}
}

// 列出待确认调用
func (s *Server) listApprovals(c *gin.Context) {
	approvals := s.app.GetAgent().PendingApprovals(c.Query("session_id"))
	c.JSON(http.StatusOK, gin.H{
		"approvals": approvals,
		"count":     len(approvals),
	})
}

// approvalRequest 确认请求
type approvalRequest struct {
	Approved *bool `json:"approved" binding:"required"`
}

// 确认或拒绝调用
func (s *Server) resolveApproval(c *gin.Context) {
	var req approvalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	id := c.Param("id")
	resp, err := s.app.GetAgent().ResolveApproval(c.Request.Context(), id, *req.Approved)
	if err != nil {
		status := http.StatusInternalServerError
		if chassis.IsNotFound(err) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// 列出调度任务
func (s *Server) listTasks(c *gin.Context) {
	tasks, err := s.app.GetScheduler().List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tasks": tasks,
		"count": len(tasks),
	})
}

// 列出任务执行记录
func (s *Server) listTaskRuns(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}

	runs, err := s.app.GetScheduler().Runs(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"count": len(runs),
	})
}

// 取消调度任务
func (s *Server) cancelTask(c *gin.Context) {
	id := c.Param("id")
	if err := s.app.GetScheduler().Cancel(c.Request.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, scheduler.ErrTaskNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Task canceled"})
}

// LoggerMiddleware 日志中间件
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		observability.Info("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", latency.Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
