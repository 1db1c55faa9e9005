package server

import (
	nethttp "net/http"
	"strconv"

	"tokenrouter/cmd/token-router/internal/service"
	pkgerrors "tokenrouter/pkg/errors"
	"tokenrouter/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// handler 将 HTTP 请求转给 TokenService
type handler struct {
	svc *service.TokenService
}

func ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, pkgerrors.NewSuccessResponse(data).WithRequestID(c.GetHeader(middleware.RequestIDHeader)))
}

func fail(c *gin.Context, err error) {
	middleware.AbortWithError(c, err)
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		fail(c, pkgerrors.NewBadRequest("INVALID_REQUEST", "invalid request body: "+err.Error()))
		return false
	}
	return true
}

func queryInt(c *gin.Context, key string) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		fail(c, pkgerrors.NewBadRequest("INVALID_REQUEST", key+" must be an integer"))
		return 0, false
	}
	return n, true
}

func (h *handler) getWallet(c *gin.Context) {
	reply, err := h.svc.GetWallet(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, nethttp.StatusOK, reply)
}

func (h *handler) getLedger(c *gin.Context) {
	limit, valid := queryInt(c, "limit")
	if !valid {
		return
	}
	offset, valid := queryInt(c, "offset")
	if !valid {
		return
	}
	reply, err := h.svc.GetLedger(c.Request.Context(), c.Param("user_id"), limit, offset)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, nethttp.StatusOK, reply)
}

func (h *handler) adjustTokens(c *gin.Context) {
	var req service.AdjustRequest
	if !bindJSON(c, &req) {
		return
	}
	reply, err := h.svc.AdjustTokens(c.Request.Context(), c.Param("user_id"), &req)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, nethttp.StatusOK, reply)
}

func (h *handler) verifyWallet(c *gin.Context) {
	audit, err := h.svc.VerifyWallet(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, nethttp.StatusOK, audit)
}

func (h *handler) deactivateWallet(c *gin.Context) {
	reply, err := h.svc.DeactivateWallet(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, nethttp.StatusOK, reply)
}

func (h *handler) listPolicies(c *gin.Context) {
	reply, err := h.svc.ListPolicies(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, nethttp.StatusOK, reply)
}

func (h *handler) upsertPolicy(c *gin.Context) {
	var req service.PolicyRequest
	if !bindJSON(c, &req) {
		return
	}
	reply, err := h.svc.UpsertPolicy(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, nethttp.StatusOK, reply)
}

func (h *handler) registerWorker(c *gin.Context) {
	var req service.RegisterWorkerRequest
	if !bindJSON(c, &req) {
		return
	}
	reply, err := h.svc.RegisterWorker(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, nethttp.StatusCreated, reply)
}

func (h *handler) heartbeat(c *gin.Context) {
	if err := h.svc.Heartbeat(c.Request.Context(), c.Param("worker_id")); err != nil {
		fail(c, err)
		return
	}
	ok(c, nethttp.StatusOK, gin.H{"worker_id": c.Param("worker_id")})
}

func (h *handler) updateHealth(c *gin.Context) {
	var req struct {
		HealthScore *int `json:"health_score"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if req.HealthScore == nil {
		fail(c, pkgerrors.NewBadRequest("INVALID_REQUEST", "health_score is required"))
		return
	}
	reply, err := h.svc.UpdateHealth(c.Request.Context(), c.Param("worker_id"), *req.HealthScore)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, nethttp.StatusOK, reply)
}

func (h *handler) updateLoad(c *gin.Context) {
	var req struct {
		CurrentLoad *int `json:"current_load"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if req.CurrentLoad == nil {
		fail(c, pkgerrors.NewBadRequest("INVALID_REQUEST", "current_load is required"))
		return
	}
	reply, err := h.svc.UpdateLoad(c.Request.Context(), c.Param("worker_id"), *req.CurrentLoad)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, nethttp.StatusOK, reply)
}

func (h *handler) setStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status"`
	}
	if !bindJSON(c, &req) {
		return
	}
	reply, err := h.svc.SetStatus(c.Request.Context(), c.Param("worker_id"), req.Status)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, nethttp.StatusOK, reply)
}

func (h *handler) availableWorkers(c *gin.Context) {
	var req service.AvailableWorkersRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		fail(c, pkgerrors.NewBadRequest("INVALID_REQUEST", "invalid query: "+err.Error()))
		return
	}
	reply, err := h.svc.AvailableWorkers(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, nethttp.StatusOK, reply)
}

func (h *handler) workerStats(c *gin.Context) {
	stats, err := h.svc.WorkerStats(c.Request.Context(), c.Query("tenant_id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, nethttp.StatusOK, stats)
}

func (h *handler) workerMetrics(c *gin.Context) {
	metrics, err := h.svc.WorkerMetrics(c.Request.Context(), c.Param("worker_id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, nethttp.StatusOK, metrics)
}

func (h *handler) dispatch(c *gin.Context) {
	var req service.DispatchRequest
	if !bindJSON(c, &req) {
		return
	}
	reply, err := h.svc.Dispatch(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return
	}
	status := nethttp.StatusOK
	if req.Async {
		status = nethttp.StatusAccepted
	}
	ok(c, status, reply)
}

func (h *handler) getExecution(c *gin.Context) {
	reply, err := h.svc.GetExecution(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, nethttp.StatusOK, reply)
}
