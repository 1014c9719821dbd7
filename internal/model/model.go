// Package model defines the core domain types shared across the team engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// User types.
const (
	UserTypeTrader = "trader"
	UserTypeAgent  = "agent"
)

// Account statuses.
const (
	StatusActive    = "active"
	StatusInactive  = "inactive"
	StatusSuspended = "suspended"
)

// Financials is the financial snapshot of one account, maintained by the
// external transaction processors. The engine only ever reads these.
type Financials struct {
	TotalDeposits        decimal.Decimal `json:"total_deposits" db:"total_deposits"`
	TotalWithdrawals     decimal.Decimal `json:"total_withdrawals" db:"total_withdrawals"`
	TotalRebateIncome    decimal.Decimal `json:"total_rebate_income" db:"total_rebate_income"`
	TotalAffiliateIncome decimal.Decimal `json:"total_affiliate_income" db:"total_affiliate_income"`
}

// NetBalance is deposits minus withdrawals. Derived, never stored.
func (f Financials) NetBalance() decimal.Decimal {
	return f.TotalDeposits.Sub(f.TotalWithdrawals)
}

// TotalEarnings is rebate plus affiliate income. Derived, never stored.
func (f Financials) TotalEarnings() decimal.Decimal {
	return f.TotalRebateIncome.Add(f.TotalAffiliateIncome)
}

// Privacy holds owner-controlled visibility settings.
type Privacy struct {
	// HideFromDownline withholds this account's detail record from anyone
	// beneath it in the referral forest when resolved as a sponsor.
	HideFromDownline bool `json:"hide_from_downline" db:"hide_from_downline"`
}

// UserNode is the identity and financial snapshot of one account in the
// referral forest. ParentID references the referring account; it is empty
// for forest roots. The parent relation is assumed acyclic but not trusted.
type UserNode struct {
	ID            string          `json:"id" db:"id"`
	Username      string          `json:"username" db:"username"` // immutable, used in referral links
	Name          string          `json:"name" db:"name"`
	Email         string          `json:"email" db:"email"`
	Phone         string          `json:"phone" db:"phone"`
	ParentID      string          `json:"parent_id,omitempty" db:"parent_id"`
	UserType      string          `json:"user_type" db:"user_type"`
	Status        string          `json:"status" db:"status"`
	WalletBalance decimal.Decimal `json:"wallet_balance" db:"wallet_balance"`
	Financials    Financials      `json:"financials"`
	GTCLinked     bool            `json:"gtc_linked" db:"gtc_linked"`
	Privacy       Privacy         `json:"privacy"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// TreeNode wraps a UserNode with traversal-time context for one query.
// Query-scoped and discarded after the response is produced.
//
// WalletBalance and Financials are pointers so redaction can drop them
// from the payload entirely instead of emitting zeroes.
type TreeNode struct {
	ID            string           `json:"id"`
	Username      string           `json:"username"`
	Name          string           `json:"name"`
	Email         string           `json:"email,omitempty"`
	Phone         string           `json:"phone,omitempty"`
	UserType      string           `json:"user_type"`
	Status        string           `json:"status"`
	GTCLinked     bool             `json:"gtc_linked"`
	CreatedAt     time.Time        `json:"created_at"`
	WalletBalance *decimal.Decimal `json:"wallet_balance,omitempty"`
	Financials    *Financials      `json:"financials,omitempty"`
	TotalEarnings decimal.Decimal  `json:"total_earnings"`

	Level         int        `json:"level"`                    // 0 = query root
	IsDirect      bool       `json:"is_direct"`                // level == 1
	Restricted    bool       `json:"restricted,omitempty"`     // depth-based PII masking applied
	DetailsHidden bool       `json:"details_hidden,omitempty"` // ancestor queries only
	Children      []TreeNode `json:"children,omitempty"`       // descendant queries only
}

// NewTreeNode builds an unredacted TreeNode from a raw UserNode at the
// given distance from the query root.
func NewTreeNode(u UserNode, level int) TreeNode {
	balance := u.WalletBalance
	fin := u.Financials
	return TreeNode{
		ID:            u.ID,
		Username:      u.Username,
		Name:          u.Name,
		Email:         u.Email,
		Phone:         u.Phone,
		UserType:      u.UserType,
		Status:        u.Status,
		GTCLinked:     u.GTCLinked,
		CreatedAt:     u.CreatedAt,
		WalletBalance: &balance,
		Financials:    &fin,
		TotalEarnings: u.Financials.TotalEarnings(),
		Level:         level,
		IsDirect:      level == 1,
	}
}

// Ancestor is a raw upline node with its hop distance from the query root
// (hop 1 is the immediate sponsor). Visibility policy has not been applied
// yet; Ancestor values must not leave the engine unrendered.
type Ancestor struct {
	Node UserNode
	Hop  int
}

// AggregateStats is the financial rollup for one query root's downline.
// The root's own figures are excluded; all sums run over level >= 1 nodes.
type AggregateStats struct {
	DirectCount         int `json:"direct_count"`
	TotalDownlineCount  int `json:"total_downline_count"`
	ActiveDownlineCount int `json:"active_downline_count"`

	GTCDirectWithLink        int             `json:"gtc_direct_with_link"`
	GTCDirectWithoutLink     int             `json:"gtc_direct_without_link"`
	GTCTotalDownlineWithLink int             `json:"gtc_total_downline_with_link"`
	GTCRegistrationRatePct   decimal.Decimal `json:"gtc_registration_rate_pct"`

	TotalRebateIncome    decimal.Decimal `json:"total_rebate_income"`
	TotalAffiliateIncome decimal.Decimal `json:"total_affiliate_income"`
	TotalWalletBalance   decimal.Decimal `json:"total_wallet_balance"`
	TotalDeposits        decimal.Decimal `json:"total_deposits"`
	TotalWithdrawals     decimal.Decimal `json:"total_withdrawals"`
	NetDeposits          decimal.Decimal `json:"net_deposits"`

	// Truncated is set when the traversal hit its depth bound, so the
	// figures above may be incomplete.
	Truncated bool `json:"truncated,omitempty"`
}
