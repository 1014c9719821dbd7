package team

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/nupips/team-engine/internal/model"
)

// Bucket selectors for derived financial ranges. Lower bounds are
// inclusive, upper bounds exclusive, top bucket unbounded. The zero bucket
// matches exactly zero, so the low bucket opens just above it.
const (
	BucketAny  = ""
	BucketZero = "zero"
	BucketLow  = "low"
	BucketMid  = "mid"
	BucketHigh = "high"
)

// GTC linkage tri-state filter.
const (
	GTCAny       = ""
	GTCLinked    = "linked"
	GTCNotLinked = "not_linked"
)

// Sortable fields.
const (
	SortJoinedDate       = "joined_date"
	SortName             = "name"
	SortWalletBalance    = "wallet_balance"
	SortTotalDeposits    = "total_deposits"
	SortTotalWithdrawals = "total_withdrawals"
	SortTotalEarnings    = "total_earnings"
)

// Sort directions.
const (
	DirAsc  = "asc"
	DirDesc = "desc"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var ErrInvalidQuery = errors.New("team: invalid query parameter")

var validBuckets = map[string]bool{
	BucketAny: true, BucketZero: true, BucketLow: true, BucketMid: true, BucketHigh: true,
}

var validGTC = map[string]bool{
	GTCAny: true, GTCLinked: true, GTCNotLinked: true,
}

var validSortFields = map[string]bool{
	SortJoinedDate: true, SortName: true, SortWalletBalance: true,
	SortTotalDeposits: true, SortTotalWithdrawals: true, SortTotalEarnings: true,
}

// rankFields are the fields TopN/BottomN can rank by.
var rankFields = map[string]bool{
	SortWalletBalance: true, SortTotalDeposits: true, SortTotalEarnings: true,
}

// QueryRequest is the explicit, serializable filter/sort/page state for one
// direct-team query. Passed by value; no shared session state.
type QueryRequest struct {
	UserType          string `json:"user_type,omitempty"`
	Status            string `json:"status,omitempty"`
	GTC               string `json:"gtc,omitempty"`
	BalanceBucket     string `json:"balance_bucket,omitempty"`
	DepositsBucket    string `json:"deposits_bucket,omitempty"`
	WithdrawalsBucket string `json:"withdrawals_bucket,omitempty"`
	Search            string `json:"search,omitempty"`
	SortBy            string `json:"sort_by,omitempty"`
	SortDir           string `json:"sort_dir,omitempty"`
	Page              int    `json:"page,omitempty"`
	PageSize          int    `json:"page_size,omitempty"`
}

// ParseQueryRequest reads and validates a QueryRequest from URL query
// parameters. Absent parameters mean "any"; the default ordering is newest
// member first.
func ParseQueryRequest(r *http.Request) (QueryRequest, error) {
	vals := r.URL.Query()
	q := QueryRequest{
		UserType:          vals.Get("user_type"),
		Status:            vals.Get("status"),
		GTC:               vals.Get("gtc"),
		BalanceBucket:     vals.Get("balance_bucket"),
		DepositsBucket:    vals.Get("deposits_bucket"),
		WithdrawalsBucket: vals.Get("withdrawals_bucket"),
		Search:            vals.Get("search"),
		SortBy:            vals.Get("sort_by"),
		SortDir:           vals.Get("sort_dir"),
	}

	if !validGTC[q.GTC] {
		return q, fmt.Errorf("%w: gtc must be linked or not_linked", ErrInvalidQuery)
	}
	for name, b := range map[string]string{
		"balance_bucket":     q.BalanceBucket,
		"deposits_bucket":    q.DepositsBucket,
		"withdrawals_bucket": q.WithdrawalsBucket,
	} {
		if !validBuckets[b] {
			return q, fmt.Errorf("%w: %s must be zero, low, mid, or high", ErrInvalidQuery, name)
		}
	}

	if q.SortBy == "" {
		q.SortBy = SortJoinedDate
		if q.SortDir == "" {
			q.SortDir = DirDesc
		}
	}
	if !validSortFields[q.SortBy] {
		return q, fmt.Errorf("%w: unknown sort field %q", ErrInvalidQuery, q.SortBy)
	}
	if q.SortDir == "" {
		q.SortDir = DirAsc
	}
	if q.SortDir != DirAsc && q.SortDir != DirDesc {
		return q, fmt.Errorf("%w: sort_dir must be asc or desc", ErrInvalidQuery)
	}

	q.Page = parsePositiveInt(vals.Get("page"), 1)
	q.PageSize = parsePositiveInt(vals.Get("page_size"), defaultPageSize)
	if q.PageSize > maxPageSize {
		q.PageSize = maxPageSize
	}

	return q, nil
}

func parsePositiveInt(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

// --- Filtering ---

// bucketBounds holds the two inner boundaries of a four-bucket range.
type bucketBounds struct {
	lower decimal.Decimal
	upper decimal.Decimal
}

var (
	balanceBounds  = bucketBounds{lower: decimal.NewFromInt(100), upper: decimal.NewFromInt(1000)}
	depositBounds  = bucketBounds{lower: decimal.NewFromInt(500), upper: decimal.NewFromInt(5000)}
	withdrawBounds = depositBounds
)

func (bb bucketBounds) match(bucket string, v decimal.Decimal) bool {
	switch bucket {
	case BucketZero:
		return v.IsZero()
	case BucketLow:
		return v.IsPositive() && v.LessThan(bb.lower)
	case BucketMid:
		return v.GreaterThanOrEqual(bb.lower) && v.LessThan(bb.upper)
	case BucketHigh:
		return v.GreaterThanOrEqual(bb.upper)
	default:
		return true
	}
}

// Matches reports whether a raw node passes every filter in the request.
// Filters are AND-combined and compare unredacted values; redaction is a
// display concern applied after selection.
func (q QueryRequest) Matches(u model.UserNode) bool {
	if q.UserType != "" && u.UserType != q.UserType {
		return false
	}
	if q.Status != "" && u.Status != q.Status {
		return false
	}
	if q.GTC == GTCLinked && !u.GTCLinked {
		return false
	}
	if q.GTC == GTCNotLinked && u.GTCLinked {
		return false
	}
	if !balanceBounds.match(q.BalanceBucket, u.WalletBalance) {
		return false
	}
	if !depositBounds.match(q.DepositsBucket, u.Financials.TotalDeposits) {
		return false
	}
	if !withdrawBounds.match(q.WithdrawalsBucket, u.Financials.TotalWithdrawals) {
		return false
	}
	if q.Search != "" {
		needle := strings.ToLower(q.Search)
		if !strings.Contains(strings.ToLower(u.Name), needle) &&
			!strings.Contains(strings.ToLower(u.Username), needle) &&
			!strings.Contains(strings.ToLower(u.Email), needle) {
			return false
		}
	}
	return true
}

// --- Sorting ---

// Less orders two nodes under the request's sort field and direction.
// Ties always break on ID ascending, regardless of direction, so
// pagination is deterministic.
func (q QueryRequest) Less(a, b model.UserNode) bool {
	cmp := compareField(q.SortBy, a, b)
	if cmp == 0 {
		return a.ID < b.ID
	}
	if q.SortDir == DirDesc {
		return cmp > 0
	}
	return cmp < 0
}

func compareField(field string, a, b model.UserNode) int {
	switch field {
	case SortName:
		return strings.Compare(a.Name, b.Name)
	case SortWalletBalance:
		return a.WalletBalance.Cmp(b.WalletBalance)
	case SortTotalDeposits:
		return a.Financials.TotalDeposits.Cmp(b.Financials.TotalDeposits)
	case SortTotalWithdrawals:
		return a.Financials.TotalWithdrawals.Cmp(b.Financials.TotalWithdrawals)
	case SortTotalEarnings:
		// Computed at sort time, never stored.
		return a.Financials.TotalEarnings().Cmp(b.Financials.TotalEarnings())
	default: // SortJoinedDate
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

// rankValue is the field value TopN/BottomN rank by.
func rankValue(field string, u model.UserNode) decimal.Decimal {
	switch field {
	case SortTotalDeposits:
		return u.Financials.TotalDeposits
	case SortTotalEarnings:
		return u.Financials.TotalEarnings()
	default: // SortWalletBalance
		return u.WalletBalance
	}
}
