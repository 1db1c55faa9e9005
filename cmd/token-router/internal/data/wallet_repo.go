package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"tokenrouter/cmd/token-router/internal/domain"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WalletPO 钱包持久化对象
type WalletPO struct {
	ID                      string     `gorm:"primaryKey;size:64"`
	UserID                  string     `gorm:"size:64;not null;uniqueIndex:idx_token_wallets_user"`
	TenantID                string     `gorm:"size:64;not null;index:idx_token_wallets_tenant"`
	LevelID                 string     `gorm:"size:64"`
	Status                  string     `gorm:"size:20;not null"`
	CurrentTokens           int64      `gorm:"not null;default:0"`
	ReservedTokens          int64      `gorm:"not null;default:0"`
	LifetimeTokens          int64      `gorm:"not null;default:0"`
	MonthlyAllocationTokens int64      `gorm:"not null;default:0"`
	BorrowedTokens          int64      `gorm:"not null;default:0"`
	LedgerSeq               int64      `gorm:"not null;default:0"`
	LastResetAt             *time.Time
	NextResetAt             *time.Time `gorm:"index:idx_token_wallets_next_reset"`
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// TableName 表名
func (WalletPO) TableName() string {
	return "token_wallets"
}

// LedgerEntryPO 账本持久化对象
type LedgerEntryPO struct {
	ID            string `gorm:"primaryKey;size:64"`
	WalletID      string `gorm:"size:64;not null;uniqueIndex:idx_ledger_wallet_seq,priority:1"`
	Sequence      int64  `gorm:"not null;uniqueIndex:idx_ledger_wallet_seq,priority:2"`
	UserID        string `gorm:"size:64;not null;index:idx_ledger_user"`
	Direction     string `gorm:"size:10;not null"`
	Amount        int64  `gorm:"not null"`
	BalanceAfter  int64  `gorm:"not null"`
	ReservedAfter int64  `gorm:"not null"`
	LifetimeAfter int64  `gorm:"not null"`
	BorrowedAfter int64  `gorm:"not null"`
	Reason        string `gorm:"size:100;not null"`
	Source        string `gorm:"size:20;not null"`
	ReferenceType string `gorm:"size:50"`
	ReferenceID   string `gorm:"size:100;index:idx_ledger_reference"`
	Metadata      string `gorm:"type:jsonb"`
	CreatedAt     time.Time
}

// TableName 表名
func (LedgerEntryPO) TableName() string {
	return "token_ledger_entries"
}

// walletRepo 钱包仓储（Postgres）
type walletRepo struct {
	db  *gorm.DB
	log *log.Helper
}

func newWalletRepo(db *gorm.DB, logger log.Logger) *walletRepo {
	return &walletRepo{db: db, log: log.NewHelper(log.With(logger, "module", "data/wallet"))}
}

// Create 创建钱包与初始账本
func (r *walletRepo) Create(ctx context.Context, wallet *domain.Wallet, entries []*domain.LedgerEntry) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(toWalletPO(wallet)).Error; err != nil {
			return err
		}
		return insertEntries(tx, entries)
	})
	if err != nil {
		if isUniqueViolation(err, "idx_token_wallets_user") {
			return domain.ErrWalletExists
		}
		r.log.WithContext(ctx).Errorf("failed to create wallet: %v", err)
		return mapConflict(err)
	}
	return nil
}

// GetByUserID 获取钱包
func (r *walletRepo) GetByUserID(ctx context.Context, userID string) (*domain.Wallet, error) {
	var po WalletPO
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&po).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, err
	}
	return po.toDomain(), nil
}

// Mutate SELECT ... FOR UPDATE 锁定钱包行，在同一事务内写账本与投影
func (r *walletRepo) Mutate(ctx context.Context, userID string, fn domain.WalletMutation) (*domain.Wallet, []*domain.LedgerEntry, error) {
	var (
		wallet  *domain.Wallet
		entries []*domain.LedgerEntry
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var po WalletPO
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			First(&po).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrWalletNotFound
			}
			return err
		}

		w := po.toDomain()
		out, err := fn(w)
		if err != nil {
			return err
		}
		if err := insertEntries(tx, out); err != nil {
			return err
		}
		if err := tx.Save(toWalletPO(w)).Error; err != nil {
			return err
		}

		wallet, entries = w, out
		return nil
	})
	if err != nil {
		return nil, nil, mapConflict(err)
	}
	return wallet, entries, nil
}

// ListDueForReset 获取到期钱包
func (r *walletRepo) ListDueForReset(ctx context.Context, now time.Time, limit int) ([]*domain.Wallet, error) {
	var pos []WalletPO
	q := r.db.WithContext(ctx).
		Where("status = ? AND next_reset_at IS NOT NULL AND next_reset_at <= ?", string(domain.WalletStatusActive), now).
		Order("next_reset_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&pos).Error; err != nil {
		return nil, err
	}

	out := make([]*domain.Wallet, 0, len(pos))
	for i := range pos {
		out = append(out, pos[i].toDomain())
	}
	return out, nil
}

// ledgerRepo 账本只读仓储（Postgres）
type ledgerRepo struct {
	db  *gorm.DB
	log *log.Helper
}

func newLedgerRepo(db *gorm.DB, logger log.Logger) *ledgerRepo {
	return &ledgerRepo{db: db, log: log.NewHelper(log.With(logger, "module", "data/ledger"))}
}

// ListByWallet 分页获取账本（倒序）
func (r *ledgerRepo) ListByWallet(ctx context.Context, walletID string, limit, offset int) ([]*domain.LedgerEntry, error) {
	var pos []LedgerEntryPO
	if err := r.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("sequence DESC").
		Limit(limit).
		Offset(offset).
		Find(&pos).Error; err != nil {
		return nil, err
	}
	return toDomainEntries(pos), nil
}

// ListAll 获取全部账本（升序）
func (r *ledgerRepo) ListAll(ctx context.Context, walletID string) ([]*domain.LedgerEntry, error) {
	var pos []LedgerEntryPO
	if err := r.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("sequence ASC").
		Find(&pos).Error; err != nil {
		return nil, err
	}
	return toDomainEntries(pos), nil
}

func insertEntries(tx *gorm.DB, entries []*domain.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	pos := make([]*LedgerEntryPO, 0, len(entries))
	for _, e := range entries {
		po, err := toLedgerEntryPO(e)
		if err != nil {
			return err
		}
		pos = append(pos, po)
	}
	return tx.Create(pos).Error
}

// mapConflict 将序列化失败、死锁与账本序号冲突映射为可重试错误
func mapConflict(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01":
		return fmt.Errorf("%w: %s", domain.ErrConcurrentUpdateConflict, pgErr.Message)
	case "23505":
		if strings.Contains(pgErr.ConstraintName, "idx_ledger_wallet_seq") {
			return fmt.Errorf("%w: %s", domain.ErrConcurrentUpdateConflict, pgErr.Message)
		}
	}
	return err
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && (constraint == "" || strings.Contains(pgErr.ConstraintName, constraint))
}

func toWalletPO(w *domain.Wallet) *WalletPO {
	return &WalletPO{
		ID:                      w.ID,
		UserID:                  w.UserID,
		TenantID:                w.TenantID,
		LevelID:                 w.LevelID,
		Status:                  string(w.Status),
		CurrentTokens:           w.CurrentTokens,
		ReservedTokens:          w.ReservedTokens,
		LifetimeTokens:          w.LifetimeTokens,
		MonthlyAllocationTokens: w.MonthlyAllocationTokens,
		BorrowedTokens:          w.BorrowedTokens,
		LedgerSeq:               w.LedgerSeq,
		LastResetAt:             w.LastResetAt,
		NextResetAt:             w.NextResetAt,
		CreatedAt:               w.CreatedAt,
		UpdatedAt:               w.UpdatedAt,
	}
}

func (po *WalletPO) toDomain() *domain.Wallet {
	return &domain.Wallet{
		ID:                      po.ID,
		UserID:                  po.UserID,
		TenantID:                po.TenantID,
		LevelID:                 po.LevelID,
		Status:                  domain.WalletStatus(po.Status),
		CurrentTokens:           po.CurrentTokens,
		ReservedTokens:          po.ReservedTokens,
		LifetimeTokens:          po.LifetimeTokens,
		MonthlyAllocationTokens: po.MonthlyAllocationTokens,
		BorrowedTokens:          po.BorrowedTokens,
		LedgerSeq:               po.LedgerSeq,
		LastResetAt:             po.LastResetAt,
		NextResetAt:             po.NextResetAt,
		CreatedAt:               po.CreatedAt,
		UpdatedAt:               po.UpdatedAt,
	}
}

func toLedgerEntryPO(e *domain.LedgerEntry) (*LedgerEntryPO, error) {
	metadata := "{}"
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal ledger metadata: %w", err)
		}
		metadata = string(b)
	}
	return &LedgerEntryPO{
		ID:            e.ID,
		WalletID:      e.WalletID,
		Sequence:      e.Sequence,
		UserID:        e.UserID,
		Direction:     string(e.Direction),
		Amount:        e.Amount,
		BalanceAfter:  e.BalanceAfter,
		ReservedAfter: e.ReservedAfter,
		LifetimeAfter: e.LifetimeAfter,
		BorrowedAfter: e.BorrowedAfter,
		Reason:        e.Reason,
		Source:        string(e.Source),
		ReferenceType: e.ReferenceType,
		ReferenceID:   e.ReferenceID,
		Metadata:      metadata,
		CreatedAt:     e.CreatedAt,
	}, nil
}

func toDomainEntries(pos []LedgerEntryPO) []*domain.LedgerEntry {
	out := make([]*domain.LedgerEntry, 0, len(pos))
	for i := range pos {
		po := &pos[i]
		var metadata map[string]string
		if po.Metadata != "" {
			// 元数据损坏不影响金额字段
			_ = json.Unmarshal([]byte(po.Metadata), &metadata)
		}
		out = append(out, &domain.LedgerEntry{
			ID:            po.ID,
			WalletID:      po.WalletID,
			UserID:        po.UserID,
			Sequence:      po.Sequence,
			Direction:     domain.Direction(po.Direction),
			Amount:        po.Amount,
			BalanceAfter:  po.BalanceAfter,
			ReservedAfter: po.ReservedAfter,
			LifetimeAfter: po.LifetimeAfter,
			BorrowedAfter: po.BorrowedAfter,
			Reason:        po.Reason,
			Source:        domain.EntrySource(po.Source),
			ReferenceType: po.ReferenceType,
			ReferenceID:   po.ReferenceID,
			Metadata:      metadata,
			CreatedAt:     po.CreatedAt,
		})
	}
	return out
}
