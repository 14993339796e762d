package models

// ChatResponse /chat 响应，reply 与 error 有且只有一个
type ChatResponse struct {
	Reply string `json:"reply,omitempty"`
	Error string `json:"error,omitempty"`
}

// TitleResponse /generate_title 响应
type TitleResponse struct {
	Title string `json:"title"`
}

// StatusResponse 存活检查
type StatusResponse struct {
	Status string `json:"status"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status      string   `json:"status"`
	Gateway     string   `json:"gateway"`
	Driver      string   `json:"driver"`
	Models      []string `json:"models"`
	Credentials int      `json:"credentials"`
	Timestamp   int64    `json:"timestamp"`
}

// ModelStatsResponse 单个模型的统计
type ModelStatsResponse struct {
	Model         string  `json:"model"`
	Success       int     `json:"success"`
	Error         int     `json:"error"`
	AvgLatency    float64 `json:"avg_latency"`
	TotalRequests int64   `json:"total_requests"`
}

// StatsResponse /stats 响应
type StatsResponse struct {
	Models    []ModelStatsResponse `json:"models"`
	Recent    []RequestLog         `json:"recent"`
	Timestamp int64                `json:"timestamp"`
}
