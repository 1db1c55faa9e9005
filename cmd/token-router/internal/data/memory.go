package data

import (
	"context"
	"sort"
	"sync"
	"time"

	"tokenrouter/cmd/token-router/internal/domain"
)

// memoryWallet 单钱包状态，mu 串行化同一钱包的所有修改
type memoryWallet struct {
	mu      sync.Mutex
	wallet  *domain.Wallet
	entries []*domain.LedgerEntry
}

// MemoryWalletStore 进程内钱包与账本存储（driver=memory 及测试使用）
type MemoryWalletStore struct {
	mu     sync.RWMutex
	byUser map[string]*memoryWallet
	byID   map[string]*memoryWallet
}

// NewMemoryWalletStore 创建内存钱包存储
func NewMemoryWalletStore() *MemoryWalletStore {
	return &MemoryWalletStore{
		byUser: make(map[string]*memoryWallet),
		byID:   make(map[string]*memoryWallet),
	}
}

// Create 创建钱包
func (s *MemoryWalletStore) Create(_ context.Context, wallet *domain.Wallet, entries []*domain.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byUser[wallet.UserID]; ok {
		return domain.ErrWalletExists
	}

	mw := &memoryWallet{wallet: wallet.Clone()}
	for _, e := range entries {
		mw.entries = append(mw.entries, cloneEntry(e))
	}
	s.byUser[wallet.UserID] = mw
	s.byID[wallet.ID] = mw
	return nil
}

// GetByUserID 获取钱包快照
func (s *MemoryWalletStore) GetByUserID(_ context.Context, userID string) (*domain.Wallet, error) {
	mw, ok := s.lookup(userID)
	if !ok {
		return nil, domain.ErrWalletNotFound
	}

	mw.mu.Lock()
	defer mw.mu.Unlock()
	return mw.wallet.Clone(), nil
}

// Mutate 在钱包锁内修改副本，成功后整体替换
func (s *MemoryWalletStore) Mutate(ctx context.Context, userID string, fn domain.WalletMutation) (*domain.Wallet, []*domain.LedgerEntry, error) {
	mw, ok := s.lookup(userID)
	if !ok {
		return nil, nil, domain.ErrWalletNotFound
	}

	mw.mu.Lock()
	defer mw.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	work := mw.wallet.Clone()
	entries, err := fn(work)
	if err != nil {
		return nil, nil, err
	}

	for _, e := range entries {
		mw.entries = append(mw.entries, cloneEntry(e))
	}
	mw.wallet = work

	out := make([]*domain.LedgerEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, cloneEntry(e))
	}
	return work.Clone(), out, nil
}

// ListDueForReset 获取到期钱包
func (s *MemoryWalletStore) ListDueForReset(_ context.Context, now time.Time, limit int) ([]*domain.Wallet, error) {
	s.mu.RLock()
	all := make([]*memoryWallet, 0, len(s.byUser))
	for _, mw := range s.byUser {
		all = append(all, mw)
	}
	s.mu.RUnlock()

	var due []*domain.Wallet
	for _, mw := range all {
		mw.mu.Lock()
		w := mw.wallet
		if w.IsActive() && w.NextResetAt != nil && !now.Before(*w.NextResetAt) {
			due = append(due, w.Clone())
		}
		mw.mu.Unlock()
	}

	sort.Slice(due, func(i, j int) bool { return due[i].NextResetAt.Before(*due[j].NextResetAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// ListByWallet 分页获取账本（倒序）
func (s *MemoryWalletStore) ListByWallet(_ context.Context, walletID string, limit, offset int) ([]*domain.LedgerEntry, error) {
	s.mu.RLock()
	mw, ok := s.byID[walletID]
	s.mu.RUnlock()
	if !ok {
		return []*domain.LedgerEntry{}, nil
	}

	mw.mu.Lock()
	defer mw.mu.Unlock()

	out := make([]*domain.LedgerEntry, 0, limit)
	for i := len(mw.entries) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, cloneEntry(mw.entries[i]))
	}
	return out, nil
}

// ListAll 获取全部账本（升序）
func (s *MemoryWalletStore) ListAll(_ context.Context, walletID string) ([]*domain.LedgerEntry, error) {
	s.mu.RLock()
	mw, ok := s.byID[walletID]
	s.mu.RUnlock()
	if !ok {
		return []*domain.LedgerEntry{}, nil
	}

	mw.mu.Lock()
	defer mw.mu.Unlock()

	out := make([]*domain.LedgerEntry, 0, len(mw.entries))
	for _, e := range mw.entries {
		out = append(out, cloneEntry(e))
	}
	return out, nil
}

func (s *MemoryWalletStore) lookup(userID string) (*memoryWallet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mw, ok := s.byUser[userID]
	return mw, ok
}

func cloneEntry(e *domain.LedgerEntry) *domain.LedgerEntry {
	c := *e
	if e.Metadata != nil {
		c.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// MemoryPolicyStore 进程内策略存储
type MemoryPolicyStore struct {
	mu       sync.RWMutex
	policies map[string]*domain.AllocationPolicy
}

// NewMemoryPolicyStore 创建内存策略存储
func NewMemoryPolicyStore() *MemoryPolicyStore {
	return &MemoryPolicyStore{policies: make(map[string]*domain.AllocationPolicy)}
}

func policyKey(p *domain.AllocationPolicy) string {
	if p.UserID != "" {
		return "user:" + p.UserID
	}
	return "level:" + p.LevelID
}

// GetByUserID 获取用户覆盖策略
func (s *MemoryPolicyStore) GetByUserID(_ context.Context, userID string) (*domain.AllocationPolicy, error) {
	return s.get("user:" + userID)
}

// GetByLevelID 获取等级策略
func (s *MemoryPolicyStore) GetByLevelID(_ context.Context, levelID string) (*domain.AllocationPolicy, error) {
	return s.get("level:" + levelID)
}

func (s *MemoryPolicyStore) get(key string) (*domain.AllocationPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[key]
	if !ok {
		return nil, domain.ErrPolicyNotFound
	}
	c := *p
	return &c, nil
}

// Upsert 按等级或用户新增/覆盖策略，保留原ID
func (s *MemoryPolicyStore) Upsert(_ context.Context, policy *domain.AllocationPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := policyKey(policy)
	c := *policy
	if existing, ok := s.policies[key]; ok {
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
		policy.ID = existing.ID
	}
	s.policies[key] = &c
	return nil
}

// List 列出所有策略
func (s *MemoryPolicyStore) List(_ context.Context) ([]*domain.AllocationPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.AllocationPolicy, 0, len(s.policies))
	for _, p := range s.policies {
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return policyKey(out[i]) < policyKey(out[j]) })
	return out, nil
}

// MemoryWorkerStore 进程内节点存储，保持注册顺序
type MemoryWorkerStore struct {
	mu      sync.RWMutex
	workers map[string]*domain.Worker
	order   []string
}

// NewMemoryWorkerStore 创建内存节点存储
func NewMemoryWorkerStore() *MemoryWorkerStore {
	return &MemoryWorkerStore{workers: make(map[string]*domain.Worker)}
}

// Upsert 注册或刷新节点
func (s *MemoryWorkerStore) Upsert(_ context.Context, worker *domain.Worker) (*domain.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.workers[worker.WorkerID]
	if !ok {
		s.workers[worker.WorkerID] = worker.Clone()
		s.order = append(s.order, worker.WorkerID)
		return worker.Clone(), nil
	}

	existing.TenantID = worker.TenantID
	existing.WorkerType = worker.WorkerType
	existing.Capacity = worker.Capacity
	existing.Region = worker.Region
	existing.Tags = append([]string(nil), worker.Tags...)
	existing.LastHeartbeat = worker.LastHeartbeat
	existing.UpdatedAt = worker.UpdatedAt
	return existing.Clone(), nil
}

// Get 获取节点
func (s *MemoryWorkerStore) Get(_ context.Context, workerID string) (*domain.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.workers[workerID]
	if !ok {
		return nil, domain.ErrWorkerNotFound
	}
	return w.Clone(), nil
}

// Touch 刷新心跳
func (s *MemoryWorkerStore) Touch(_ context.Context, workerID string, at time.Time) error {
	_, err := s.update(workerID, func(w *domain.Worker) { w.LastHeartbeat = at })
	return err
}

// UpdateHealth 更新健康分与状态
func (s *MemoryWorkerStore) UpdateHealth(_ context.Context, workerID string, score int, status domain.WorkerStatus, at time.Time) (*domain.Worker, error) {
	return s.update(workerID, func(w *domain.Worker) {
		w.HealthScore = score
		w.Status = status
		w.UpdatedAt = at
	})
}

// UpdateStatus 更新状态
func (s *MemoryWorkerStore) UpdateStatus(_ context.Context, workerID string, status domain.WorkerStatus, at time.Time) (*domain.Worker, error) {
	return s.update(workerID, func(w *domain.Worker) {
		w.Status = status
		w.UpdatedAt = at
	})
}

// SetLoad 设置负载
func (s *MemoryWorkerStore) SetLoad(_ context.Context, workerID string, load int, at time.Time) (*domain.Worker, error) {
	return s.update(workerID, func(w *domain.Worker) {
		w.CurrentLoad = load
		w.UpdatedAt = at
	})
}

// AdjustLoad 增减负载
func (s *MemoryWorkerStore) AdjustLoad(_ context.Context, workerID string, delta int, at time.Time) error {
	_, err := s.update(workerID, func(w *domain.Worker) {
		w.CurrentLoad = max(w.CurrentLoad+delta, 0)
		w.UpdatedAt = at
	})
	return err
}

// List 按条件列出节点
func (s *MemoryWorkerStore) List(_ context.Context, filter domain.WorkerFilter) ([]*domain.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Worker, 0, len(s.order))
	for _, id := range s.order {
		w := s.workers[id]
		if !matchWorker(w, filter) {
			continue
		}
		out = append(out, w.Clone())
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryWorkerStore) update(workerID string, fn func(w *domain.Worker)) (*domain.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[workerID]
	if !ok {
		return nil, domain.ErrWorkerNotFound
	}
	fn(w)
	return w.Clone(), nil
}

func matchWorker(w *domain.Worker, f domain.WorkerFilter) bool {
	if f.TenantID != "" && w.TenantID != f.TenantID {
		return false
	}
	if f.WorkerType != "" && w.WorkerType != f.WorkerType {
		return false
	}
	if f.Region != "" && w.Region != f.Region {
		return false
	}
	if f.Status != "" && w.Status != f.Status {
		return false
	}
	if f.MinHealthScore != nil && w.HealthScore < *f.MinHealthScore {
		return false
	}
	return true
}

// MemoryExecutionStore 进程内执行记录存储
type MemoryExecutionStore struct {
	mu         sync.RWMutex
	executions map[string]*domain.Execution
}

// NewMemoryExecutionStore 创建内存执行记录存储
func NewMemoryExecutionStore() *MemoryExecutionStore {
	return &MemoryExecutionStore{executions: make(map[string]*domain.Execution)}
}

// Create 保存执行记录
func (s *MemoryExecutionStore) Create(_ context.Context, execution *domain.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[execution.ID] = execution.Clone()
	return nil
}

// Update 更新执行记录
func (s *MemoryExecutionStore) Update(_ context.Context, execution *domain.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.executions[execution.ID]; !ok {
		return domain.ErrExecutionNotFound
	}
	s.executions[execution.ID] = execution.Clone()
	return nil
}

// Get 获取执行记录
func (s *MemoryExecutionStore) Get(_ context.Context, id string) (*domain.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.executions[id]
	if !ok {
		return nil, domain.ErrExecutionNotFound
	}
	return e.Clone(), nil
}

// MemoryRoutingMetrics 进程内路由计数
type MemoryRoutingMetrics struct {
	mu       sync.Mutex
	counters map[string]map[domain.RoutingStrategy]int64
}

// NewMemoryRoutingMetrics 创建内存路由计数
func NewMemoryRoutingMetrics() *MemoryRoutingMetrics {
	return &MemoryRoutingMetrics{counters: make(map[string]map[domain.RoutingStrategy]int64)}
}

// Increment 计数加一
func (m *MemoryRoutingMetrics) Increment(_ context.Context, workerID string, strategy domain.RoutingStrategy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[workerID]
	if !ok {
		c = make(map[domain.RoutingStrategy]int64)
		m.counters[workerID] = c
	}
	c[strategy]++
	return nil
}

// Get 获取节点计数
func (m *MemoryRoutingMetrics) Get(_ context.Context, workerID string) (*domain.RoutingMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := &domain.RoutingMetrics{WorkerID: workerID, ByStrategy: make(map[domain.RoutingStrategy]int64)}
	for st, n := range m.counters[workerID] {
		out.ByStrategy[st] = n
		out.Total += n
	}
	return out, nil
}
