package data

import (
	"context"
	"errors"
	"time"

	"tokenrouter/cmd/token-router/internal/domain"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WorkerPO 执行节点持久化对象
type WorkerPO struct {
	WorkerID      string         `gorm:"primaryKey;size:128"`
	TenantID      string         `gorm:"size:64;not null;index:idx_workers_tenant_status,priority:1"`
	WorkerType    string         `gorm:"size:64;index:idx_workers_type"`
	Capacity      int            `gorm:"not null"`
	CurrentLoad   int            `gorm:"not null;default:0"`
	HealthScore   int            `gorm:"not null;default:100"`
	Status        string         `gorm:"size:20;not null;index:idx_workers_tenant_status,priority:2"`
	Region        string         `gorm:"size:64"`
	Tags          pq.StringArray `gorm:"type:text[]"`
	LastHeartbeat time.Time      `gorm:"not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TableName 表名
func (WorkerPO) TableName() string {
	return "workers"
}

// workerRepo 节点仓储。每次更新只修改目标列，不做读改写。
type workerRepo struct {
	db  *gorm.DB
	log *log.Helper
}

func newWorkerRepo(db *gorm.DB, logger log.Logger) *workerRepo {
	return &workerRepo{db: db, log: log.NewHelper(log.With(logger, "module", "data/worker"))}
}

// Upsert 注册或刷新节点，冲突时保留健康分、状态与负载
func (r *workerRepo) Upsert(ctx context.Context, worker *domain.Worker) (*domain.Worker, error) {
	po := toWorkerPO(worker)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "worker_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"tenant_id", "worker_type", "capacity", "region", "tags", "last_heartbeat", "updated_at",
		}),
	}).Create(po).Error
	if err != nil {
		r.log.WithContext(ctx).Errorf("failed to upsert worker %s: %v", worker.WorkerID, err)
		return nil, err
	}
	return r.Get(ctx, worker.WorkerID)
}

// Get 获取节点
func (r *workerRepo) Get(ctx context.Context, workerID string) (*domain.Worker, error) {
	var po WorkerPO
	if err := r.db.WithContext(ctx).Where("worker_id = ?", workerID).First(&po).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrWorkerNotFound
		}
		return nil, err
	}
	return po.toDomain(), nil
}

// Touch 只更新心跳列
func (r *workerRepo) Touch(ctx context.Context, workerID string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&WorkerPO{}).
		Where("worker_id = ?", workerID).
		UpdateColumn("last_heartbeat", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrWorkerNotFound
	}
	return nil
}

// UpdateHealth 更新健康分与状态
func (r *workerRepo) UpdateHealth(ctx context.Context, workerID string, score int, status domain.WorkerStatus, at time.Time) (*domain.Worker, error) {
	return r.updateColumns(ctx, workerID, map[string]interface{}{
		"health_score": score,
		"status":       string(status),
		"updated_at":   at,
	})
}

// UpdateStatus 更新状态
func (r *workerRepo) UpdateStatus(ctx context.Context, workerID string, status domain.WorkerStatus, at time.Time) (*domain.Worker, error) {
	return r.updateColumns(ctx, workerID, map[string]interface{}{
		"status":     string(status),
		"updated_at": at,
	})
}

// SetLoad 设置负载
func (r *workerRepo) SetLoad(ctx context.Context, workerID string, load int, at time.Time) (*domain.Worker, error) {
	return r.updateColumns(ctx, workerID, map[string]interface{}{
		"current_load": load,
		"updated_at":   at,
	})
}

// AdjustLoad 单语句增减负载，结果不低于0
func (r *workerRepo) AdjustLoad(ctx context.Context, workerID string, delta int, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&WorkerPO{}).
		Where("worker_id = ?", workerID).
		UpdateColumns(map[string]interface{}{
			"current_load": gorm.Expr("GREATEST(current_load + ?, 0)", delta),
			"updated_at":   at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrWorkerNotFound
	}
	return nil
}

// List 按条件列出节点，条件均为参数化谓词
func (r *workerRepo) List(ctx context.Context, filter domain.WorkerFilter) ([]*domain.Worker, error) {
	q := r.db.WithContext(ctx).Model(&WorkerPO{})
	if filter.TenantID != "" {
		q = q.Where("tenant_id = ?", filter.TenantID)
	}
	if filter.WorkerType != "" {
		q = q.Where("worker_type = ?", filter.WorkerType)
	}
	if filter.Region != "" {
		q = q.Where("region = ?", filter.Region)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.MinHealthScore != nil {
		q = q.Where("health_score >= ?", *filter.MinHealthScore)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var pos []WorkerPO
	if err := q.Order("created_at ASC, worker_id ASC").Find(&pos).Error; err != nil {
		return nil, err
	}

	out := make([]*domain.Worker, 0, len(pos))
	for i := range pos {
		out = append(out, pos[i].toDomain())
	}
	return out, nil
}

func (r *workerRepo) updateColumns(ctx context.Context, workerID string, cols map[string]interface{}) (*domain.Worker, error) {
	res := r.db.WithContext(ctx).Model(&WorkerPO{}).
		Where("worker_id = ?", workerID).
		UpdateColumns(cols)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, domain.ErrWorkerNotFound
	}
	return r.Get(ctx, workerID)
}

func toWorkerPO(w *domain.Worker) *WorkerPO {
	return &WorkerPO{
		WorkerID:      w.WorkerID,
		TenantID:      w.TenantID,
		WorkerType:    w.WorkerType,
		Capacity:      w.Capacity,
		CurrentLoad:   w.CurrentLoad,
		HealthScore:   w.HealthScore,
		Status:        string(w.Status),
		Region:        w.Region,
		Tags:          pq.StringArray(w.Tags),
		LastHeartbeat: w.LastHeartbeat,
		CreatedAt:     w.CreatedAt,
		UpdatedAt:     w.UpdatedAt,
	}
}

func (po *WorkerPO) toDomain() *domain.Worker {
	return &domain.Worker{
		WorkerID:      po.WorkerID,
		TenantID:      po.TenantID,
		WorkerType:    po.WorkerType,
		Capacity:      po.Capacity,
		CurrentLoad:   po.CurrentLoad,
		HealthScore:   po.HealthScore,
		Status:        domain.WorkerStatus(po.Status),
		Region:        po.Region,
		Tags:          []string(po.Tags),
		LastHeartbeat: po.LastHeartbeat,
		CreatedAt:     po.CreatedAt,
		UpdatedAt:     po.UpdatedAt,
	}
}
