package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const defaultLogMaxSizeMB = 50

// LogRotator 带大小轮转的日志文件 (io.Writer)
// 乒乓策略：超过上限时 relay.log -> relay.log.old，只保留一个备份
type LogRotator struct {
	mu          sync.Mutex
	filename    string
	maxSize     int64 // bytes
	file        *os.File
	currentSize int64
}

// NewLogRotator maxSizeMB <= 0 时使用 50MB
func NewLogRotator(filename string, maxSizeMB int) (*LogRotator, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = defaultLogMaxSizeMB
	}
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	r := &LogRotator{
		filename: filename,
		maxSize:  int64(maxSizeMB) * 1024 * 1024,
	}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *LogRotator) open() error {
	file, err := os.OpenFile(r.filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}
	r.file = file
	r.currentSize = stat.Size()
	return nil
}

func (r *LogRotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.currentSize > 0 && r.currentSize+int64(len(p)) > r.maxSize {
		if err := r.rotate(); err != nil {
			// 轮转失败时继续写当前文件
			fmt.Fprintf(os.Stderr, "log rotation failed: %v\n", err)
		}
	}
	if r.file == nil {
		return 0, os.ErrClosed
	}

	n, err := r.file.Write(p)
	r.currentSize += int64(n)
	return n, err
}

// BackupName 轮转后的备份文件名
func (r *LogRotator) BackupName() string {
	return r.filename + ".old"
}

func (r *LogRotator) rotate() error {
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}

	os.Remove(r.BackupName())
	renameErr := os.Rename(r.filename, r.BackupName())

	// 无论 rename 是否成功都要重新打开，否则后续日志全部丢失
	if err := r.open(); err != nil {
		return err
	}
	return renameErr
}

func (r *LogRotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
