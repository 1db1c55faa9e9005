package domain

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Direction 账本方向
type Direction string

const (
	DirectionCredit Direction = "credit" // 入账
	DirectionDebit  Direction = "debit"  // 扣减
)

// Valid 校验方向
func (d Direction) Valid() bool {
	return d == DirectionCredit || d == DirectionDebit
}

// EntrySource 账本来源
type EntrySource string

const (
	SourceExecution  EntrySource = "execution"
	SourceManual     EntrySource = "manual"
	SourceAllocation EntrySource = "allocation"
	SourceRollover   EntrySource = "rollover"
	SourceRefund     EntrySource = "refund"
)

// WalletStatus 钱包状态
type WalletStatus string

const (
	WalletStatusActive   WalletStatus = "active"
	WalletStatusInactive WalletStatus = "inactive"
)

// Ledger reasons written by the system itself.
const (
	ReasonBaseAllocation    = "base-allocation"
	ReasonMonthlyAllocation = "monthly-allocation"
	ReasonRolloverForfeit   = "rollover-forfeit"
	ReasonExecution         = "execution"
	ReasonExecutionRefund   = "execution-refund"
)

// Wallet 用户Token钱包（账本的投影）
type Wallet struct {
	ID                      string
	UserID                  string
	TenantID                string
	LevelID                 string
	Status                  WalletStatus
	CurrentTokens           int64
	ReservedTokens          int64
	LifetimeTokens          int64 // 累计入账，单调不减
	MonthlyAllocationTokens int64
	BorrowedTokens          int64 // 透支未还部分
	LedgerSeq               int64 // 最后一条账本序号
	LastResetAt             *time.Time
	NextResetAt             *time.Time
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// NewWallet 创建零余额钱包
func NewWallet(userID, tenantID, levelID string) *Wallet {
	now := time.Now().UTC()
	return &Wallet{
		ID:        uuid.New().String(),
		UserID:    userID,
		TenantID:  tenantID,
		LevelID:   levelID,
		Status:    WalletStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Available 可用余额
func (w *Wallet) Available() int64 {
	return w.CurrentTokens - w.ReservedTokens
}

// IsActive 是否处于活跃状态
func (w *Wallet) IsActive() bool {
	return w.Status == WalletStatusActive
}

// Deactivate 标记为停用（钱包从不物理删除）
func (w *Wallet) Deactivate(now time.Time) {
	w.Status = WalletStatusInactive
	w.UpdatedAt = now
}

// Clone 返回副本
func (w *Wallet) Clone() *Wallet {
	c := *w
	if w.LastResetAt != nil {
		t := *w.LastResetAt
		c.LastResetAt = &t
	}
	if w.NextResetAt != nil {
		t := *w.NextResetAt
		c.NextResetAt = &t
	}
	return &c
}

// Adjustment 一次余额调整请求
type Adjustment struct {
	Direction     Direction
	Amount        int64
	Reason        string
	Source        EntrySource
	ReferenceType string
	ReferenceID   string
	Metadata      map[string]string
}

// Validate 校验调整参数
func (a Adjustment) Validate() error {
	if a.Amount <= 0 {
		return ErrInvalidAmount
	}
	if !a.Direction.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidDirection, a.Direction)
	}
	return nil
}

// LedgerEntry 账本记录，创建后不可修改
type LedgerEntry struct {
	ID            string
	WalletID      string
	UserID        string
	Sequence      int64
	Direction     Direction
	Amount        int64
	BalanceAfter  int64
	ReservedAfter int64
	LifetimeAfter int64
	BorrowedAfter int64
	Reason        string
	Source        EntrySource
	ReferenceType string
	ReferenceID   string
	Metadata      map[string]string
	CreatedAt     time.Time
}

// Apply 将调整应用到钱包投影并生成下一条账本记录。
// 失败时钱包保持不变。
func (w *Wallet) Apply(adj Adjustment, allowBorrow bool, now time.Time) (*LedgerEntry, error) {
	if err := adj.Validate(); err != nil {
		return nil, err
	}

	current := w.CurrentTokens
	borrowed := w.BorrowedTokens
	lifetime := w.LifetimeTokens
	metadata := make(map[string]string, len(adj.Metadata)+2)
	for k, v := range adj.Metadata {
		metadata[k] = v
	}

	switch adj.Direction {
	case DirectionCredit:
		repay := min(borrowed, adj.Amount)
		borrowed -= repay
		current += adj.Amount - repay
		lifetime += adj.Amount
		if repay > 0 {
			metadata["repaid"] = strconv.FormatInt(repay, 10)
		}
	case DirectionDebit:
		if adj.Amount > w.Available() {
			if !allowBorrow {
				return nil, fmt.Errorf("%w: requested %d, available %d", ErrInsufficientTokens, adj.Amount, w.Available())
			}
			fromBalance := min(adj.Amount, current)
			shortfall := adj.Amount - fromBalance
			current -= fromBalance
			borrowed += shortfall
			metadata["overdraft"] = "true"
			metadata["borrowed"] = strconv.FormatInt(shortfall, 10)
		} else {
			current -= adj.Amount
		}
	}

	w.CurrentTokens = current
	w.BorrowedTokens = borrowed
	w.LifetimeTokens = lifetime
	w.LedgerSeq++
	w.UpdatedAt = now

	return &LedgerEntry{
		ID:            uuid.New().String(),
		WalletID:      w.ID,
		UserID:        w.UserID,
		Sequence:      w.LedgerSeq,
		Direction:     adj.Direction,
		Amount:        adj.Amount,
		BalanceAfter:  w.CurrentTokens,
		ReservedAfter: w.ReservedTokens,
		LifetimeAfter: w.LifetimeTokens,
		BorrowedAfter: w.BorrowedTokens,
		Reason:        adj.Reason,
		Source:        adj.Source,
		ReferenceType: adj.ReferenceType,
		ReferenceID:   adj.ReferenceID,
		Metadata:      metadata,
		CreatedAt:     now,
	}, nil
}

// LedgerAudit 账本重放结果
type LedgerAudit struct {
	WalletID         string   `json:"wallet_id"`
	Entries          int      `json:"entries"`
	Credits          int64    `json:"credits"`
	Debits           int64    `json:"debits"`
	ExpectedCurrent  int64    `json:"expected_current"`
	ExpectedBorrowed int64    `json:"expected_borrowed"`
	ExpectedLifetime int64    `json:"expected_lifetime"`
	Consistent       bool     `json:"consistent"`
	Problems         []string `json:"problems,omitempty"`
}

// Replay 按序重放账本并与钱包投影比对。entries 必须按 Sequence 升序。
func Replay(w *Wallet, entries []*LedgerEntry) *LedgerAudit {
	audit := &LedgerAudit{WalletID: w.ID, Entries: len(entries)}

	var net int64
	for i, e := range entries {
		if e.Sequence != int64(i+1) {
			audit.Problems = append(audit.Problems,
				fmt.Sprintf("entry %s: sequence %d, expected %d", e.ID, e.Sequence, i+1))
		}
		switch e.Direction {
		case DirectionCredit:
			audit.Credits += e.Amount
			net += e.Amount
		case DirectionDebit:
			audit.Debits += e.Amount
			net -= e.Amount
		}

		current, borrowed := splitNet(net)
		if e.BalanceAfter != current {
			audit.Problems = append(audit.Problems,
				fmt.Sprintf("entry %d: balance_after %d, replayed %d", e.Sequence, e.BalanceAfter, current))
		}
		if e.BorrowedAfter != borrowed {
			audit.Problems = append(audit.Problems,
				fmt.Sprintf("entry %d: borrowed_after %d, replayed %d", e.Sequence, e.BorrowedAfter, borrowed))
		}
	}

	audit.ExpectedCurrent, audit.ExpectedBorrowed = splitNet(net)
	audit.ExpectedLifetime = audit.Credits

	if w.CurrentTokens != audit.ExpectedCurrent {
		audit.Problems = append(audit.Problems,
			fmt.Sprintf("wallet current_tokens %d, replayed %d", w.CurrentTokens, audit.ExpectedCurrent))
	}
	if w.BorrowedTokens != audit.ExpectedBorrowed {
		audit.Problems = append(audit.Problems,
			fmt.Sprintf("wallet borrowed_tokens %d, replayed %d", w.BorrowedTokens, audit.ExpectedBorrowed))
	}
	if w.LifetimeTokens != audit.ExpectedLifetime {
		audit.Problems = append(audit.Problems,
			fmt.Sprintf("wallet lifetime_tokens %d, replayed %d", w.LifetimeTokens, audit.ExpectedLifetime))
	}
	if w.LedgerSeq != int64(len(entries)) {
		audit.Problems = append(audit.Problems,
			fmt.Sprintf("wallet ledger_seq %d, entries %d", w.LedgerSeq, len(entries)))
	}

	audit.Consistent = len(audit.Problems) == 0
	return audit
}

// splitNet 余额与透支互斥：净额为负时全部体现在透支上
func splitNet(net int64) (current, borrowed int64) {
	if net >= 0 {
		return net, 0
	}
	return 0, -net
}
