package service

import (
	"errors"

	"tokenrouter/cmd/token-router/internal/domain"
	pkgerrors "tokenrouter/pkg/errors"
	"tokenrouter/pkg/resilience"
)

// toServiceError 领域错误 → kratos 错误
func toServiceError(err error) error {
	if err == nil {
		return nil
	}

	var (
		status int
		code   int
	)
	switch {
	case errors.Is(err, domain.ErrWalletNotFound):
		status, code = pkgerrors.StatusNotFound, pkgerrors.CodeWalletNotFound
	case errors.Is(err, domain.ErrPolicyNotFound):
		status, code = pkgerrors.StatusNotFound, pkgerrors.CodePolicyNotFound
	case errors.Is(err, domain.ErrWorkerNotFound):
		status, code = pkgerrors.StatusNotFound, pkgerrors.CodeWorkerNotFound
	case errors.Is(err, domain.ErrExecutionNotFound):
		status, code = pkgerrors.StatusNotFound, pkgerrors.CodeExecutionNotFound

	case errors.Is(err, domain.ErrInsufficientTokens):
		return pkgerrors.NewPaymentRequired(pkgerrors.Reason(pkgerrors.CodeInsufficientTokens), err.Error()).WithCause(err)

	case errors.Is(err, domain.ErrWalletInactive):
		status, code = pkgerrors.StatusForbidden, pkgerrors.CodeWalletInactive
	case errors.Is(err, domain.ErrForbidden):
		status, code = pkgerrors.StatusForbidden, pkgerrors.CodeForbidden

	case errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrInvalidDirection):
		status, code = pkgerrors.StatusBadRequest, pkgerrors.CodeInvalidAmount
	case errors.Is(err, domain.ErrInvalidPolicy):
		status, code = pkgerrors.StatusBadRequest, pkgerrors.CodeInvalidPolicy
	case errors.Is(err, domain.ErrInvalidWorkerID),
		errors.Is(err, domain.ErrInvalidCapacity),
		errors.Is(err, domain.ErrInvalidHealthScore),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrInvalidLoad):
		status, code = pkgerrors.StatusBadRequest, pkgerrors.CodeInvalidWorker
	case errors.Is(err, domain.ErrInvalidStrategy):
		status, code = pkgerrors.StatusBadRequest, pkgerrors.CodeInvalidStrategy

	case errors.Is(err, domain.ErrConcurrentUpdateConflict), errors.Is(err, domain.ErrWalletExists):
		status, code = pkgerrors.StatusConflict, pkgerrors.CodeUpdateConflict

	case errors.Is(err, domain.ErrNoHealthyWorkers):
		status, code = pkgerrors.StatusServiceUnavailable, pkgerrors.CodeNoHealthyWorkers
	case resilience.IsBreakerOpen(err):
		return pkgerrors.NewServiceError(pkgerrors.CodeCircuitBreakerOpen, "execution engine unavailable").WithCause(err)

	default:
		return pkgerrors.NewSystemError(pkgerrors.CodeInternalServerError, "internal error").WithCause(err)
	}
	return pkgerrors.WrapBusinessError(status, code, err)
}

func badRequest(message string) error {
	return pkgerrors.NewBadRequest(pkgerrors.Reason(pkgerrors.CodeValidationFailed), message)
}
