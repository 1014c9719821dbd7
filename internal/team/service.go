// Package team exposes the engine's query surface: downline trees, sponsor
// chains, financial rollups, and filtered/sorted/ranked direct-team views.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Every endpoint is a pure, idempotent read; state is reconstructed per
// call from the node store snapshot.
package team

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/nupips/team-engine/internal/forest"
	"github.com/nupips/team-engine/internal/metrics"
	"github.com/nupips/team-engine/internal/model"
	"github.com/nupips/team-engine/internal/rollup"
	"github.com/nupips/team-engine/internal/store"
	"github.com/nupips/team-engine/internal/visibility"
)

// Service composes the forest builder, aggregator, and visibility policy
// behind the HTTP query surface.
type Service struct {
	store    store.NodeStore
	builder  *forest.Builder
	agg      *rollup.Aggregator
	maxDepth int
	maxHops  int
}

// NewService creates the query service. maxDepth and maxHops bound every
// traversal; zero values fall back to the forest defaults.
func NewService(st store.NodeStore, builder *forest.Builder, agg *rollup.Aggregator, maxDepth, maxHops int) *Service {
	if maxDepth <= 0 {
		maxDepth = forest.DefaultMaxDepth
	}
	if maxHops <= 0 {
		maxHops = forest.DefaultMaxHops
	}
	return &Service{
		store:    st,
		builder:  builder,
		agg:      agg,
		maxDepth: maxDepth,
		maxHops:  maxHops,
	}
}

// --- Response types ---

// TreeResponse is the payload for GET .../tree, with depth masking applied.
type TreeResponse struct {
	Root      model.TreeNode   `json:"root"`
	Tree      []model.TreeNode `json:"tree"`
	Truncated bool             `json:"truncated,omitempty"`
}

// SponsorDetail is the visible sponsor record. Present only when the
// sponsor has not opted out.
type SponsorDetail struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Username         string          `json:"username"`
	Email            string          `json:"email"`
	Phone            string          `json:"phone"`
	UserType         string          `json:"user_type"`
	Status           string          `json:"status"`
	MemberSince      time.Time       `json:"member_since"`
	WalletBalance    decimal.Decimal `json:"wallet_balance"`
	TotalDeposits    decimal.Decimal `json:"total_deposits"`
	TotalWithdrawals decimal.Decimal `json:"total_withdrawals"`
	TotalEarnings    decimal.Decimal `json:"total_earnings"`
	DirectCount      int             `json:"direct_count"`
}

// SponsorResponse is the payload for GET .../sponsor, with the sponsor
// opt-out applied. When the immediate sponsor has opted out the response
// carries no detail record at all — not a partially redacted one.
type SponsorResponse struct {
	HasSponsor    bool             `json:"has_sponsor"`
	DetailsHidden bool             `json:"details_hidden"`
	Sponsor       *SponsorDetail   `json:"sponsor,omitempty"`
	Chain         []model.TreeNode `json:"chain,omitempty"` // multi-hop, when requested
}

// DirectTeamResponse is the payload for GET .../direct.
type DirectTeamResponse struct {
	Team     []model.TreeNode `json:"team"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}

// RankingResponse is the payload for the top/bottom ranking endpoints.
type RankingResponse struct {
	Members []model.TreeNode `json:"members"`
	By      string           `json:"by"`
}

// --- Core operations ---

// QueryDirectTeam filters, sorts, and paginates the root's direct children.
// Comparisons run over raw values; the returned items are level-1 display
// nodes (fully visible under depth masking). total counts all matches
// before pagination.
func (s *Service) QueryDirectTeam(ctx context.Context, rootID string, q QueryRequest) ([]model.TreeNode, int, error) {
	children, err := s.directChildren(ctx, rootID)
	if err != nil {
		return nil, 0, err
	}

	var matched []model.UserNode
	for _, u := range children {
		if q.Matches(u) {
			matched = append(matched, u)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool { return q.Less(matched[i], matched[j]) })

	total := len(matched)
	page := q.Page
	if page < 1 {
		page = 1
	}
	size := q.PageSize
	if size < 1 {
		size = defaultPageSize
	}
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}

	items := make([]model.TreeNode, 0, end-start)
	for _, u := range matched[start:end] {
		items = append(items, model.NewTreeNode(u, 1))
	}
	return items, total, nil
}

// TopN returns the root's n direct children with the highest ranked field.
func (s *Service) TopN(ctx context.Context, rootID string, n int, by string) ([]model.TreeNode, error) {
	return s.rankDirect(ctx, rootID, n, by, false)
}

// BottomN returns the root's n direct children with the lowest ranked
// field, excluding zero values: a bottom-by-balance list padded with empty
// accounts would be uninformative.
func (s *Service) BottomN(ctx context.Context, rootID string, n int, by string) ([]model.TreeNode, error) {
	return s.rankDirect(ctx, rootID, n, by, true)
}

func (s *Service) rankDirect(ctx context.Context, rootID string, n int, by string, bottom bool) ([]model.TreeNode, error) {
	children, err := s.directChildren(ctx, rootID)
	if err != nil {
		return nil, err
	}

	var ranked []model.UserNode
	for _, u := range children {
		if bottom && !rankValue(by, u).IsPositive() {
			continue
		}
		ranked = append(ranked, u)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		cmp := rankValue(by, ranked[i]).Cmp(rankValue(by, ranked[j]))
		if cmp == 0 {
			return ranked[i].ID < ranked[j].ID
		}
		if bottom {
			return cmp < 0
		}
		return cmp > 0
	})

	if n < 1 {
		n = 1
	}
	if n > len(ranked) {
		n = len(ranked)
	}

	items := make([]model.TreeNode, 0, n)
	for _, u := range ranked[:n] {
		items = append(items, model.NewTreeNode(u, 1))
	}
	return items, nil
}

// directChildren fetches the root's level-1 children, verifying the root
// exists first so an unknown ID surfaces as not-found rather than an empty
// team.
func (s *Service) directChildren(ctx context.Context, rootID string) ([]model.UserNode, error) {
	if _, err := s.store.GetNode(ctx, rootID); err != nil {
		return nil, err
	}
	return s.store.GetChildren(ctx, []string{rootID})
}

// --- HTTP handlers ---

// GetTree handles GET /api/v1/team/{userID}/tree
func (s *Service) GetTree(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	tree, truncated, err := s.builder.BuildDescendantTree(r.Context(), userID, s.maxDepth)
	if err != nil {
		s.respondError(w, "tree", err)
		return
	}

	visibility.RedactDescendants(tree)

	root := *tree
	root.Children = nil

	metrics.QueriesTotal.WithLabelValues("tree", "ok").Inc()
	writeJSON(w, http.StatusOK, TreeResponse{
		Root:      root,
		Tree:      tree.Children,
		Truncated: truncated,
	})
}

// GetSponsor handles GET /api/v1/team/{userID}/sponsor
// Resolves the immediate sponsor with the opt-out applied; ?hops=N extends
// the chain upward, applying the same per-node check at every hop.
func (s *Service) GetSponsor(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	hops := parsePositiveInt(r.URL.Query().Get("hops"), 1)
	if hops > s.maxHops {
		hops = s.maxHops
	}

	chain, _, err := s.builder.BuildAncestorChain(ctx, userID, hops)
	if err != nil {
		s.respondError(w, "sponsor", err)
		return
	}

	resp := SponsorResponse{}
	if len(chain) > 0 {
		resp.HasSponsor = true
		sponsor := chain[0].Node

		if visibility.SponsorVisible(sponsor) {
			detail := sponsorDetail(sponsor)
			// One batch fetch for the sponsor's direct-team size.
			if direct, err := s.store.GetChildren(ctx, []string{sponsor.ID}); err == nil {
				detail.DirectCount = len(direct)
			}
			resp.Sponsor = &detail
		} else {
			resp.DetailsHidden = true
		}

		if hops > 1 {
			resp.Chain = visibility.RenderSponsorChain(chain)
		}
	}

	metrics.QueriesTotal.WithLabelValues("sponsor", "ok").Inc()
	writeJSON(w, http.StatusOK, resp)
}

// GetStats handles GET /api/v1/team/{userID}/stats
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	stats, err := s.agg.Aggregate(r.Context(), userID, s.maxDepth)
	if err != nil {
		s.respondError(w, "stats", err)
		return
	}

	metrics.QueriesTotal.WithLabelValues("stats", "ok").Inc()
	writeJSON(w, http.StatusOK, stats)
}

// GetDirectTeam handles GET /api/v1/team/{userID}/direct
func (s *Service) GetDirectTeam(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	q, err := ParseQueryRequest(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	items, total, err := s.QueryDirectTeam(r.Context(), userID, q)
	if err != nil {
		s.respondError(w, "direct", err)
		return
	}
	if items == nil {
		items = []model.TreeNode{}
	}

	metrics.QueriesTotal.WithLabelValues("direct", "ok").Inc()
	writeJSON(w, http.StatusOK, DirectTeamResponse{
		Team:     items,
		Total:    total,
		Page:     q.Page,
		PageSize: q.PageSize,
	})
}

// GetTopRankings handles GET /api/v1/team/{userID}/rankings/top
func (s *Service) GetTopRankings(w http.ResponseWriter, r *http.Request) {
	s.handleRanking(w, r, false)
}

// GetBottomRankings handles GET /api/v1/team/{userID}/rankings/bottom
func (s *Service) GetBottomRankings(w http.ResponseWriter, r *http.Request) {
	s.handleRanking(w, r, true)
}

func (s *Service) handleRanking(w http.ResponseWriter, r *http.Request, bottom bool) {
	userID := chi.URLParam(r, "userID")

	by := r.URL.Query().Get("by")
	if by == "" {
		by = SortWalletBalance
	}
	if !rankFields[by] {
		writeError(w, "by must be wallet_balance, total_deposits, or total_earnings", http.StatusBadRequest)
		return
	}
	n := parsePositiveInt(r.URL.Query().Get("n"), 5)

	var (
		items []model.TreeNode
		err   error
	)
	endpoint := "rankings_top"
	if bottom {
		endpoint = "rankings_bottom"
		items, err = s.BottomN(r.Context(), userID, n, by)
	} else {
		items, err = s.TopN(r.Context(), userID, n, by)
	}
	if err != nil {
		s.respondError(w, endpoint, err)
		return
	}
	if items == nil {
		items = []model.TreeNode{}
	}

	metrics.QueriesTotal.WithLabelValues(endpoint, "ok").Inc()
	writeJSON(w, http.StatusOK, RankingResponse{Members: items, By: by})
}

func sponsorDetail(u model.UserNode) SponsorDetail {
	return SponsorDetail{
		ID:               u.ID,
		Name:             u.Name,
		Username:         u.Username,
		Email:            u.Email,
		Phone:            u.Phone,
		UserType:         u.UserType,
		Status:           u.Status,
		MemberSince:      u.CreatedAt,
		WalletBalance:    u.WalletBalance,
		TotalDeposits:    u.Financials.TotalDeposits,
		TotalWithdrawals: u.Financials.TotalWithdrawals,
		TotalEarnings:    u.Financials.TotalEarnings(),
	}
}

// respondError maps engine errors onto the HTTP taxonomy: unknown root →
// 404, corrupted forest → 500 (integrity alarm, never silently truncated),
// exhausted store retries → 503 (retryable).
func (s *Service) respondError(w http.ResponseWriter, endpoint string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		metrics.QueriesTotal.WithLabelValues(endpoint, "not_found").Inc()
		writeError(w, "user not found", http.StatusNotFound)
	case errors.Is(err, forest.ErrCycleDetected):
		metrics.QueriesTotal.WithLabelValues(endpoint, "cycle").Inc()
		writeError(w, "referral data integrity failure", http.StatusInternalServerError)
	case errors.Is(err, store.ErrUnavailable):
		metrics.QueriesTotal.WithLabelValues(endpoint, "unavailable").Inc()
		writeError(w, "node store unavailable, retry later", http.StatusServiceUnavailable)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		metrics.QueriesTotal.WithLabelValues(endpoint, "cancelled").Inc()
		writeError(w, "request cancelled", http.StatusServiceUnavailable)
	default:
		metrics.QueriesTotal.WithLabelValues(endpoint, "error").Inc()
		slog.Error("query failed", "endpoint", endpoint, "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
