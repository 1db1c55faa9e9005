package domain

import "errors"

var (
	// Wallet errors
	ErrWalletNotFound     = errors.New("wallet not found")
	ErrWalletExists       = errors.New("wallet already exists")
	ErrWalletInactive     = errors.New("wallet inactive")
	ErrInsufficientTokens = errors.New("insufficient tokens")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidDirection   = errors.New("invalid direction")

	// Policy errors
	ErrPolicyNotFound = errors.New("policy not found")
	ErrInvalidPolicy  = errors.New("invalid policy")

	// Worker errors
	ErrWorkerNotFound     = errors.New("worker not found")
	ErrInvalidWorkerID    = errors.New("invalid worker id")
	ErrInvalidCapacity    = errors.New("invalid capacity")
	ErrInvalidHealthScore = errors.New("invalid health score")
	ErrInvalidStatus      = errors.New("invalid worker status")
	ErrInvalidLoad        = errors.New("invalid load")

	// Routing errors
	ErrNoHealthyWorkers = errors.New("no healthy workers")
	ErrInvalidStrategy  = errors.New("invalid routing strategy")

	// Execution errors
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrConcurrentUpdateConflict 原子更新竞争失败，可重试
	ErrConcurrentUpdateConflict = errors.New("concurrent update conflict")

	// Common errors
	ErrForbidden = errors.New("forbidden")
)

// IsRetryable 判断错误是否可重试
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentUpdateConflict)
}
