package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReason(t *testing.T) {
	assert.Equal(t, "REQ_10003", Reason(CodeNotFound))
	assert.Equal(t, "BIZ_20001", Reason(CodeInsufficientTokens))
	assert.Equal(t, "SVC_40003", Reason(CodeCircuitBreakerOpen))
	assert.Equal(t, "SYS_50000", Reason(CodeInternalServerError))
}

func TestNewErrorResponse(t *testing.T) {
	status, resp := NewErrorResponse(NewBusinessError(StatusPaymentRequired, CodeInsufficientTokens, "need 50, have 10"))
	assert.Equal(t, 402, status)
	assert.False(t, resp.Success)
	assert.Equal(t, "BIZ_20001", resp.ErrorCode)
	assert.Equal(t, "need 50, have 10", resp.Message)
	assert.NotEmpty(t, resp.Timestamp)

	// 非 kratos 错误按 500 处理
	status, _ = NewErrorResponse(fmt.Errorf("boom"))
	assert.Equal(t, 500, status)
}

func TestWrapBusinessError(t *testing.T) {
	cause := fmt.Errorf("row locked")
	err := WrapBusinessError(StatusConflict, CodeUpdateConflict, cause)
	assert.Equal(t, int32(409), err.Code)
	assert.ErrorIs(t, err, cause)
}

func TestConstructorsAndRequestID(t *testing.T) {
	assert.Equal(t, int32(402), NewPaymentRequired("R", "m").Code)
	assert.Equal(t, int32(404), NewNotFound("R", "m").Code)
	assert.Equal(t, int32(500), NewInternalServerError("R", "m").Code)
	assert.Equal(t, int32(422), NewUnprocessable("IDEMPOTENCY_KEY_REUSED", "m").Code)

	_, resp := NewErrorResponse(NewNotFound("ROUTE_NOT_FOUND", "route not found"))
	assert.Equal(t, "req-1", resp.WithRequestID("req-1").RequestID)
	assert.Equal(t, "req-2", NewSuccessResponse(nil).WithRequestID("req-2").RequestID)
}
