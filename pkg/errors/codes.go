package errors

import (
	"fmt"

	"github.com/go-kratos/kratos/v2/errors"
)

// 错误码规范：
// - 1xxxx: 通用错误（HTTP 4xx）
// - 2xxxx: 业务逻辑错误
// - 3xxxx: 数据访问错误
// - 4xxxx: 外部服务错误
// - 5xxxx: 系统级错误（HTTP 5xx）

// ==================== 通用错误 (10000-19999) ====================

const (
	CodeBadRequest       = 10000
	CodeUnauthorized     = 10001
	CodeForbidden        = 10002
	CodeNotFound         = 10003
	CodeConflict         = 10004
	CodeValidationFailed = 10005
)

// ==================== 业务逻辑错误 (20000-29999) ====================

const (
	// 钱包相关 (20000-20099)
	CodeWalletNotFound     = 20000
	CodeInsufficientTokens = 20001
	CodeInvalidAmount      = 20002
	CodeWalletInactive     = 20003
	CodeUpdateConflict     = 20004

	// 策略相关 (20100-20199)
	CodePolicyNotFound = 20100
	CodeInvalidPolicy  = 20101

	// 节点相关 (20200-20299)
	CodeWorkerNotFound = 20200
	CodeInvalidWorker  = 20201

	// 路由与执行 (20300-20399)
	CodeNoHealthyWorkers  = 20300
	CodeInvalidStrategy   = 20301
	CodeExecutionNotFound = 20302
)

// ==================== 外部服务错误 (40000-49999) ====================

const (
	CodeServiceUnavailable = 40001
	CodeCircuitBreakerOpen = 40003
)

// ==================== 系统错误 (50000-59999) ====================

const (
	CodeInternalServerError = 50000
)

// Reason 错误码对应的 reason 字符串
func Reason(code int) string {
	switch {
	case code >= 50000:
		return fmt.Sprintf("SYS_%d", code)
	case code >= 40000:
		return fmt.Sprintf("SVC_%d", code)
	case code >= 30000:
		return fmt.Sprintf("DATA_%d", code)
	case code >= 20000:
		return fmt.Sprintf("BIZ_%d", code)
	default:
		return fmt.Sprintf("REQ_%d", code)
	}
}

// ==================== 错误构造函数 ====================

// NewBusinessError 创建业务错误（2xxxx），status 为 HTTP 状态码
func NewBusinessError(status, code int, message string) *errors.Error {
	return errors.New(status, Reason(code), message)
}

// NewServiceError 创建外部服务错误（4xxxx）
func NewServiceError(code int, message string) *errors.Error {
	return errors.New(StatusServiceUnavailable, Reason(code), message)
}

// NewSystemError 创建系统错误（5xxxx）
func NewSystemError(code int, message string) *errors.Error {
	return errors.New(StatusInternalServerError, Reason(code), message)
}

// WrapBusinessError 包装业务错误，保留原始错误
func WrapBusinessError(status, code int, err error) *errors.Error {
	return NewBusinessError(status, code, err.Error()).WithCause(err)
}
