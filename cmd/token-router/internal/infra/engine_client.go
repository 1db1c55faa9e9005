package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"tokenrouter/cmd/token-router/internal/domain"
	"tokenrouter/pkg/resilience"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/sony/gobreaker"
)

// EngineConfig 执行引擎客户端配置
type EngineConfig struct {
	BaseURL    string                   `mapstructure:"base_url"`
	Timeout    time.Duration            `mapstructure:"timeout"`
	MaxRetries int                      `mapstructure:"max_retries"`
	RetryDelay time.Duration            `mapstructure:"retry_delay"`
	Breaker    resilience.BreakerConfig `mapstructure:"breaker"`
}

// EngineClient 执行引擎 HTTP 客户端，按 worker 熔断
type EngineClient struct {
	httpClient *http.Client
	baseURL    string
	retry      resilience.RetryPolicy
	breakerCfg resilience.BreakerConfig

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker

	log *log.Helper
}

// NewEngineClient 创建执行引擎客户端
func NewEngineClient(cfg EngineConfig, logger log.Logger) *EngineClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	helper := log.NewHelper(log.With(logger, "module", "infra/engine"))
	if cfg.Breaker.OnStateChange == nil {
		cfg.Breaker.OnStateChange = func(name string, from, to gobreaker.State) {
			helper.Warnf("engine breaker %s: %s -> %s", name, from, to)
		}
	}
	retry := resilience.DefaultRetryPolicy()
	retry.MaxRetries = cfg.MaxRetries
	retry.InitialDelay = cfg.RetryDelay
	retry.MaxDelay = 5 * time.Second
	retry.RetryableErrors = resilience.IsRetryable

	return &EngineClient{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		retry:      retry,
		breakerCfg: cfg.Breaker,
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
		log:        helper,
	}
}

// Execute 调用执行引擎
func (c *EngineClient) Execute(ctx context.Context, req *domain.EngineRequest) (*domain.EngineResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal engine request: %w", err)
	}

	cb := c.breaker(req.WorkerID)
	var result *domain.EngineResult
	err = resilience.Retry(ctx, c.retry, func() error {
		out, err := cb.Execute(func() (interface{}, error) {
			return c.doHTTPCall(ctx, req.WorkerID, body)
		})
		if err != nil {
			return err
		}
		result = out.(*domain.EngineResult)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("execute on worker %s: %w", req.WorkerID, err)
	}
	return result, nil
}

func (c *EngineClient) breaker(workerID string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	cb, ok := c.breakers[workerID]
	if !ok {
		cb = resilience.NewBreaker("engine:"+workerID, c.breakerCfg)
		c.breakers[workerID] = cb
	}
	return cb
}

func (c *EngineClient) doHTTPCall(ctx context.Context, workerID string, body []byte) (*domain.EngineResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/execute", bytes.NewReader(body))
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Worker-ID", workerID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("engine status %d: %s", resp.StatusCode, string(respBody))
	case resp.StatusCode != http.StatusOK:
		// 4xx 不重试
		return nil, resilience.Permanent(fmt.Errorf("engine status %d: %s", resp.StatusCode, string(respBody)))
	}

	var result domain.EngineResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, resilience.Permanent(fmt.Errorf("decode engine result: %w", err))
	}
	if result.TokensConsumed < 0 {
		result.TokensConsumed = 0
	}
	return &result, nil
}
