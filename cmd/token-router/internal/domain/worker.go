package domain

import (
	"fmt"
	"time"
)

// WorkerStatus 执行节点状态
type WorkerStatus string

const (
	WorkerStatusActive      WorkerStatus = "active"
	WorkerStatusInactive    WorkerStatus = "inactive"
	WorkerStatusMaintenance WorkerStatus = "maintenance"
	WorkerStatusError       WorkerStatus = "error"
)

// Valid 校验状态
func (s WorkerStatus) Valid() bool {
	switch s {
	case WorkerStatusActive, WorkerStatusInactive, WorkerStatusMaintenance, WorkerStatusError:
		return true
	}
	return false
}

// Health thresholds.
const (
	HealthErrorBelow       = 30
	HealthMaintenanceBelow = 60
	MaxHealthScore         = 100

	DefaultMinHealthScore = 60
	DefaultMaxLoadPercent = 80
	DefaultStaleAfter     = 5 * time.Minute
)

// StatusForHealth 由健康分推导状态，这是健康→状态的唯一规则
func StatusForHealth(score int) WorkerStatus {
	switch {
	case score < HealthErrorBelow:
		return WorkerStatusError
	case score < HealthMaintenanceBelow:
		return WorkerStatusMaintenance
	default:
		return WorkerStatusActive
	}
}

// ValidateHealthScore 校验健康分
func ValidateHealthScore(score int) error {
	if score < 0 || score > MaxHealthScore {
		return fmt.Errorf("%w: %d", ErrInvalidHealthScore, score)
	}
	return nil
}

// Worker 执行节点
type Worker struct {
	WorkerID      string
	TenantID      string
	WorkerType    string
	Capacity      int
	CurrentLoad   int
	HealthScore   int
	Status        WorkerStatus
	Region        string
	Tags          []string
	LastHeartbeat time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// WorkerDescriptor 注册请求
type WorkerDescriptor struct {
	WorkerID   string
	WorkerType string
	Capacity   int
	Region     string
	Tags       []string
}

// Validate 校验注册参数
func (d WorkerDescriptor) Validate() error {
	if d.WorkerID == "" {
		return ErrInvalidWorkerID
	}
	if d.Capacity <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCapacity, d.Capacity)
	}
	return nil
}

// NewWorker 根据注册信息创建节点，新节点视为健康
func NewWorker(tenantID string, d WorkerDescriptor, now time.Time) *Worker {
	return &Worker{
		WorkerID:      d.WorkerID,
		TenantID:      tenantID,
		WorkerType:    d.WorkerType,
		Capacity:      d.Capacity,
		HealthScore:   MaxHealthScore,
		Status:        WorkerStatusActive,
		Region:        d.Region,
		Tags:          append([]string(nil), d.Tags...),
		LastHeartbeat: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// LoadRatio 负载率（0~1，容量为0时视为满载）
func (w *Worker) LoadRatio() float64 {
	if w.Capacity <= 0 {
		return 1
	}
	return float64(w.CurrentLoad) / float64(w.Capacity)
}

// LoadPercent 负载百分比
func (w *Worker) LoadPercent() float64 {
	return w.LoadRatio() * 100
}

// IsStale 心跳是否过期
func (w *Worker) IsStale(now time.Time, window time.Duration) bool {
	return now.Sub(w.LastHeartbeat) > window
}

// Clone 返回副本
func (w *Worker) Clone() *Worker {
	c := *w
	c.Tags = append([]string(nil), w.Tags...)
	return &c
}

// WorkerFilter 节点查询条件，所有非零字段以 AND 组合
type WorkerFilter struct {
	TenantID       string
	WorkerType     string
	Region         string
	Status         WorkerStatus
	MinHealthScore *int
	Limit          int
}

// AvailabilityFilter 可用节点查询条件。阈值为 nil 时使用默认值，显式 0 保留。
type AvailabilityFilter struct {
	WorkerType     string
	Region         string
	MinHealthScore *int
	MaxLoadPercent *float64
}

// WithDefaults 补齐未设置的阈值
func (f AvailabilityFilter) WithDefaults() AvailabilityFilter {
	if f.MinHealthScore == nil {
		v := DefaultMinHealthScore
		f.MinHealthScore = &v
	}
	if f.MaxLoadPercent == nil {
		v := float64(DefaultMaxLoadPercent)
		f.MaxLoadPercent = &v
	}
	return f
}

// Accepts 判断节点是否满足可用条件
func (f AvailabilityFilter) Accepts(w *Worker) bool {
	f = f.WithDefaults()
	if w.Status != WorkerStatusActive {
		return false
	}
	if w.HealthScore < *f.MinHealthScore {
		return false
	}
	if f.WorkerType != "" && w.WorkerType != f.WorkerType {
		return false
	}
	if f.Region != "" && w.Region != f.Region {
		return false
	}
	return w.LoadPercent() <= *f.MaxLoadPercent
}

// WorkerStats 节点聚合统计
type WorkerStats struct {
	Total         int   `json:"total"`
	Active        int   `json:"active"`
	Inactive      int   `json:"inactive"`
	Maintenance   int   `json:"maintenance"`
	Error         int   `json:"error"`
	Stale         int   `json:"stale"`
	TotalCapacity int64 `json:"total_capacity"`
	TotalLoad     int64 `json:"total_load"`
}
