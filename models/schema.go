package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	RequestKindChat  = "chat"
	RequestKindTitle = "title"
)

// RequestLog 单次上游调用的元数据
// 不保存消息正文或历史，只记录模型、Key 前缀、结果与耗时
type RequestLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	RequestID string    `gorm:"index" json:"request_id"`
	Kind      string    `json:"kind"`
	Model     string    `gorm:"index" json:"model"`
	KeyPrefix string    `json:"key_prefix"`
	Success   bool      `json:"success"`
	Duration  int64     `json:"duration"` // 毫秒
	ErrorMsg  string    `json:"error_msg,omitempty"`
}

// ModelStats 按模型聚合的统计信息
type ModelStats struct {
	gorm.Model
	ModelName     string  `gorm:"uniqueIndex;not null" json:"model"`
	Success       int     `gorm:"default:0" json:"success"`
	Error         int     `gorm:"default:0" json:"error"`
	TotalLatency  float64 `gorm:"default:0" json:"total_latency"` // 毫秒
	RequestCount  int     `gorm:"default:0" json:"request_count"`
	TotalRequests int64   `gorm:"default:0" json:"total_requests"`
}

// AvgLatency 平均延迟（毫秒）
func (s ModelStats) AvgLatency() float64 {
	if s.RequestCount == 0 {
		return 0
	}
	return s.TotalLatency / float64(s.RequestCount)
}

// AutoMigrate 自动迁移数据库结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&RequestLog{},
		&ModelStats{},
	)
}
