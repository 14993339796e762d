package main

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"gemini-relay/core"
	"gemini-relay/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// App 处理器依赖
type App struct {
	chat    *core.ChatService
	titles  *core.TitleSummarizer
	rotator *core.KeyRotator
	models  []string
	driver  string
	limits  intakeLimits
	reqLog  *core.AsyncRequestLogger // 可为 nil
	log     *logrus.Logger
}

// handleRoot 静态存活检查
func handleRoot() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, models.StatusResponse{Status: "ok"})
	}
}

// handleHealth 健康检查，只暴露数量不暴露 Key
func (a *App) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "healthy"
		if a.rotator.Len() == 0 {
			status = "degraded"
		}
		c.JSON(http.StatusOK, models.HealthResponse{
			Status:      status,
			Gateway:     "gemini-relay",
			Driver:      a.driver,
			Models:      a.models,
			Credentials: a.rotator.Len(),
			Timestamp:   time.Now().Unix(),
		})
	}
}

// handleChat POST /chat
// 上游或配置失败时仍返回 200 + {error}，前端按 body 字段判断
func (a *App) handleChat() gin.HandlerFunc {
	return func(c *gin.Context) {
		req, err := parseChatRequest(c, a.limits)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, errUploadTooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			_ = c.Error(err)
			c.JSON(status, models.ChatResponse{Error: err.Error()})
			return
		}

		result := a.chat.Handle(c.Request.Context(), req)

		if a.reqLog != nil {
			a.reqLog.LogAttempts(requestID(c), models.RequestKindChat, result.KeyPrefix, result.Attempts)
		}
		if !result.OK() {
			_ = c.Error(result.Err)
		}
		c.JSON(http.StatusOK, result.Response())
	}
}

// handleGenerateTitle POST /generate_title，总是返回一个标题
func (a *App) handleGenerateTitle() gin.HandlerFunc {
	return func(c *gin.Context) {
		message := readTitleMessage(c)
		res := a.titles.Run(c.Request.Context(), message)

		if a.reqLog != nil && res.KeyPrefix != "" {
			entry := &models.RequestLog{
				RequestID: requestID(c),
				Kind:      models.RequestKindTitle,
				Model:     res.Model,
				KeyPrefix: res.KeyPrefix,
				Success:   res.Err == nil,
				Duration:  res.Duration.Milliseconds(),
			}
			if res.Err != nil {
				entry.ErrorMsg = a.rotator.Redact(res.Err.Error())
			}
			a.reqLog.Log(entry)
		}
		c.JSON(http.StatusOK, models.TitleResponse{Title: res.Title})
	}
}

// readTitleMessage JSON {message}/{text}，表单 message，或纯文本请求体
func readTitleMessage(c *gin.Context) string {
	switch c.ContentType() {
	case gin.MIMEJSON:
		var req models.TitleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return ""
		}
		if req.Message != "" {
			return req.Message
		}
		return req.Text
	case gin.MIMEPOSTForm, gin.MIMEMultipartPOSTForm:
		return c.PostForm("message")
	default:
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, 64<<10))
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(body))
	}
}

// handleStats GET /stats 按模型统计与最近请求
func (a *App) handleStats() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := models.StatsResponse{
			Models:    []models.ModelStatsResponse{},
			Recent:    []models.RequestLog{},
			Timestamp: time.Now().Unix(),
		}
		if a.reqLog == nil {
			c.JSON(http.StatusOK, resp)
			return
		}

		stats, err := a.reqLog.Stats()
		if err != nil {
			a.log.WithError(err).Error("Failed to load model stats")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load stats"})
			return
		}
		for _, s := range stats {
			resp.Models = append(resp.Models, models.ModelStatsResponse{
				Model:         s.ModelName,
				Success:       s.Success,
				Error:         s.Error,
				AvgLatency:    s.AvgLatency(),
				TotalRequests: s.TotalRequests,
			})
		}

		if recent, err := a.reqLog.Recent(20); err == nil {
			resp.Recent = recent
		}
		c.JSON(http.StatusOK, resp)
	}
}
