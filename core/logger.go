package core

import (
	"sync"
	"time"

	"gemini-relay/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// 数据库中最多保留的请求日志条数
const maxStoredRequestLogs = 100

// AsyncRequestLogger 异步请求元数据记录器
// 业务 goroutine 只往 channel 里投递，批量写库由后台 worker 完成
type AsyncRequestLogger struct {
	db        *gorm.DB
	logChan   chan *models.RequestLog
	logger    *logrus.Logger
	batchSize int
	flushTime time.Duration
	wg        sync.WaitGroup
	quit      chan struct{}
	closeOnce sync.Once
}

// NewAsyncRequestLogger 创建并启动异步记录器
func NewAsyncRequestLogger(db *gorm.DB, logger *logrus.Logger) *AsyncRequestLogger {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	l := &AsyncRequestLogger{
		db:        db,
		logChan:   make(chan *models.RequestLog, 1000),
		logger:    logger,
		batchSize: 100,
		flushTime: 5 * time.Second,
		quit:      make(chan struct{}),
	}
	l.startWorker()
	return l
}

// Log 提交日志到队列，队列满时直接丢弃
func (l *AsyncRequestLogger) Log(log *models.RequestLog) {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	select {
	case l.logChan <- log:
	default:
		l.logger.Warn("Log channel full, dropping request log")
	}
}

// LogAttempts 每个候选模型的调用记录为一行
func (l *AsyncRequestLogger) LogAttempts(requestID, kind, keyPrefix string, attempts []models.AttemptRecord) {
	for _, a := range attempts {
		entry := &models.RequestLog{
			RequestID: requestID,
			Kind:      kind,
			Model:     a.Model,
			KeyPrefix: keyPrefix,
			Success:   a.OK(),
			Duration:  a.Duration.Milliseconds(),
		}
		if a.Err != nil {
			entry.ErrorMsg = truncate(a.Err.Error(), 200)
		}
		l.Log(entry)
	}
}

func (l *AsyncRequestLogger) startWorker() {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.workerLoop()
	}()
}

func (l *AsyncRequestLogger) workerLoop() {
	var batch []*models.RequestLog
	ticker := time.NewTicker(l.flushTime)
	defer ticker.Stop()

	for {
		select {
		case log := <-l.logChan:
			batch = append(batch, log)
			if len(batch) >= l.batchSize {
				l.flush(batch)
				batch = nil
			}
		case <-ticker.C:
			if len(batch) > 0 {
				l.flush(batch)
				batch = nil
			}
		case <-l.quit:
			// 退出前把队列里剩下的也写掉
			for {
				select {
				case log := <-l.logChan:
					batch = append(batch, log)
				default:
					l.flush(batch)
					return
				}
			}
		}
	}
}

// flush 批量写入、裁剪旧记录、更新按模型的统计
func (l *AsyncRequestLogger) flush(logs []*models.RequestLog) {
	if len(logs) == 0 {
		return
	}
	l.logger.Debugf("[Logger] Flushing %d logs to DB", len(logs))

	if err := l.db.CreateInBatches(logs, len(logs)).Error; err != nil {
		l.logger.Errorf("[Logger] Failed to flush logs: %v", err)
		return
	}

	l.prune()

	type statDelta struct {
		success      int
		failure      int
		totalLatency float64
		count        int
	}
	deltas := make(map[string]*statDelta)
	for _, log := range logs {
		if log.Model == "" {
			continue
		}
		d, ok := deltas[log.Model]
		if !ok {
			d = &statDelta{}
			deltas[log.Model] = d
		}
		d.count++
		if log.Success {
			d.success++
		} else {
			d.failure++
		}
		d.totalLatency += float64(log.Duration)
	}

	for model, d := range deltas {
		var stat models.ModelStats
		err := l.db.Where("model_name = ?", model).First(&stat).Error
		if err == nil {
			stat.Success += d.success
			stat.Error += d.failure
			stat.TotalLatency += d.totalLatency
			stat.RequestCount += d.count
			stat.TotalRequests += int64(d.count)
			err = l.db.Save(&stat).Error
		} else {
			err = l.db.Create(&models.ModelStats{
				ModelName:     model,
				Success:       d.success,
				Error:         d.failure,
				TotalLatency:  d.totalLatency,
				RequestCount:  d.count,
				TotalRequests: int64(d.count),
			}).Error
		}
		if err != nil {
			l.logger.WithField("model", model).Errorf("[Logger] Failed to update stats: %v", err)
		}
	}
}

// prune 只保留最新的 maxStoredRequestLogs 条
func (l *AsyncRequestLogger) prune() {
	var count int64
	l.db.Model(&models.RequestLog{}).Count(&count)
	if count <= maxStoredRequestLogs {
		return
	}
	var pivotID uint
	l.db.Model(&models.RequestLog{}).Select("id").Order("id desc").Offset(maxStoredRequestLogs).Limit(1).Scan(&pivotID)
	if pivotID > 0 {
		l.db.Where("id <= ?", pivotID).Delete(&models.RequestLog{})
	}
}

// Stats 按模型名排序的统计
func (l *AsyncRequestLogger) Stats() ([]models.ModelStats, error) {
	var stats []models.ModelStats
	err := l.db.Order("model_name asc").Find(&stats).Error
	return stats, err
}

// Recent 最近的请求日志（新的在前）
func (l *AsyncRequestLogger) Recent(limit int) ([]models.RequestLog, error) {
	if limit <= 0 || limit > maxStoredRequestLogs {
		limit = maxStoredRequestLogs
	}
	var logs []models.RequestLog
	err := l.db.Order("id desc").Limit(limit).Find(&logs).Error
	return logs, err
}

// Close 停止 worker 并写完剩余日志，可重复调用
func (l *AsyncRequestLogger) Close() {
	l.closeOnce.Do(func() {
		close(l.quit)
		l.wg.Wait()
	})
}
