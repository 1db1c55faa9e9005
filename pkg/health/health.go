package health

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Status 健康状态
type Status string

const (
	// StatusHealthy 健康
	StatusHealthy Status = "healthy"
	// StatusUnhealthy 不健康
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult 检查结果
type CheckResult struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Duration  string    `json:"duration"`
	Error     string    `json:"error,omitempty"`
}

// Checker 健康检查器接口
type Checker interface {
	// Check 执行健康检查
	Check(ctx context.Context) CheckResult
	// Name 检查器名称
	Name() string
}

// HealthChecker 健康检查管理器，并发执行所有检查
type HealthChecker struct {
	mu       sync.RWMutex
	checkers map[string]Checker
}

// NewHealthChecker 创建健康检查管理器
func NewHealthChecker(checkers ...Checker) *HealthChecker {
	h := &HealthChecker{checkers: make(map[string]Checker)}
	for _, c := range checkers {
		h.Register(c)
	}
	return h
}

// Register 注册检查器，同名覆盖
func (h *HealthChecker) Register(checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[checker.Name()] = checker
}

// Check 执行所有检查
func (h *HealthChecker) Check(ctx context.Context) map[string]CheckResult {
	h.mu.RLock()
	checkers := make([]Checker, 0, len(h.checkers))
	for _, checker := range h.checkers {
		checkers = append(checkers, checker)
	}
	h.mu.RUnlock()

	var mu sync.Mutex
	var wg sync.WaitGroup
	results := make(map[string]CheckResult, len(checkers))
	for _, checker := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			result := c.Check(ctx)
			mu.Lock()
			results[c.Name()] = result
			mu.Unlock()
		}(checker)
	}
	wg.Wait()
	return results
}

// Overall 汇总状态，任一不健康即不健康
func Overall(results map[string]CheckResult) Status {
	for _, r := range results {
		if r.Status != StatusHealthy {
			return StatusUnhealthy
		}
	}
	return StatusHealthy
}

// Ping 所有检查通过返回 nil，否则返回失败项
func (h *HealthChecker) Ping(ctx context.Context) error {
	results := h.Check(ctx)
	var failed []string
	for name, r := range results {
		if r.Status != StatusHealthy {
			failed = append(failed, fmt.Sprintf("%s: %s", name, r.Error))
		}
	}
	if len(failed) == 0 {
		return nil
	}
	sort.Strings(failed)
	return fmt.Errorf("unhealthy dependencies: %s", strings.Join(failed, "; "))
}

// PingChecker 基于 ping 函数的检查器（数据库、缓存、分析库）
type PingChecker struct {
	name   string
	pingFn func(context.Context) error
}

// NewPingChecker 创建检查器
func NewPingChecker(name string, pingFn func(context.Context) error) *PingChecker {
	return &PingChecker{name: name, pingFn: pingFn}
}

// Name 返回检查器名称
func (p *PingChecker) Name() string {
	return p.name
}

// Check 执行检查
func (p *PingChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	err := p.pingFn(ctx)
	result := CheckResult{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
		Duration:  time.Since(start).String(),
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
	}
	return result
}
