package errors

import (
	"time"

	"github.com/go-kratos/kratos/v2/errors"
)

// UnifiedErrorResponse 统一错误响应格式
type UnifiedErrorResponse struct {
	Success   bool              `json:"success"`              // 始终为false
	ErrorCode string            `json:"error_code"`           // reason
	Message   string            `json:"message"`              // 用户可读
	Timestamp string            `json:"timestamp"`            // ISO8601
	RequestID string            `json:"request_id,omitempty"` // 请求ID
	Path      string            `json:"path,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// UnifiedSuccessResponse 统一成功响应格式
type UnifiedSuccessResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp string      `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// NewErrorResponse 从错误生成响应和 HTTP 状态码
func NewErrorResponse(err error) (int, *UnifiedErrorResponse) {
	e := errors.FromError(err)
	return int(e.Code), &UnifiedErrorResponse{
		Success:   false,
		ErrorCode: e.Reason,
		Message:   e.Message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Details:   e.Metadata,
	}
}

// WithRequestID 添加请求ID
func (e *UnifiedErrorResponse) WithRequestID(requestID string) *UnifiedErrorResponse {
	e.RequestID = requestID
	return e
}

// WithPath 添加请求路径
func (e *UnifiedErrorResponse) WithPath(path string) *UnifiedErrorResponse {
	e.Path = path
	return e
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data interface{}) *UnifiedSuccessResponse {
	return &UnifiedSuccessResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// WithRequestID 添加请求ID
func (s *UnifiedSuccessResponse) WithRequestID(requestID string) *UnifiedSuccessResponse {
	s.RequestID = requestID
	return s
}
