package team_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/nupips/team-engine/internal/forest"
	"github.com/nupips/team-engine/internal/model"
	"github.com/nupips/team-engine/internal/rollup"
	"github.com/nupips/team-engine/internal/store"
	"github.com/nupips/team-engine/internal/team"
	"github.com/nupips/team-engine/internal/visibility"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv creates a test Service with in-memory store and chi router.
func newTestEnv(t *testing.T) (*team.Service, *store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	builder := forest.NewBuilder(ms)
	agg := rollup.NewAggregator(builder)
	svc := team.NewService(ms, builder, agg, 10, 10)

	r := chi.NewRouter()
	r.Route("/api/v1/team/{userID}", func(r chi.Router) {
		r.Get("/tree", svc.GetTree)
		r.Get("/sponsor", svc.GetSponsor)
		r.Get("/stats", svc.GetStats)
		r.Get("/direct", svc.GetDirectTeam)
		r.Get("/rankings/top", svc.GetTopRankings)
		r.Get("/rankings/bottom", svc.GetBottomRankings)
	})

	return svc, ms, r
}

// seedScenario loads the reference forest: root R with direct children A
// (balance 50, deposits 200) and B (balance 1200, deposits 600), and A has
// child C (balance 10).
func seedScenario(t *testing.T, ms *store.MemoryStore) {
	t.Helper()
	now := time.Now().UTC()
	ms.Put(model.UserNode{
		ID: "R", Username: "root", Name: "Root", Email: "root@example.com",
		Phone: "+1000", UserType: model.UserTypeAgent, Status: model.StatusActive,
		CreatedAt: now.Add(-72 * time.Hour),
	})
	ms.Put(model.UserNode{
		ID: "A", ParentID: "R", Username: "alice", Name: "Alice", Email: "alice@example.com",
		Phone: "+1001", UserType: model.UserTypeTrader, Status: model.StatusActive,
		WalletBalance: d(50), GTCLinked: true,
		Financials: model.Financials{TotalDeposits: d(200)},
		CreatedAt:  now.Add(-48 * time.Hour),
	})
	ms.Put(model.UserNode{
		ID: "B", ParentID: "R", Username: "bob", Name: "Bob", Email: "bob@example.com",
		Phone: "+1002", UserType: model.UserTypeTrader, Status: model.StatusActive,
		WalletBalance: d(1200),
		Financials:    model.Financials{TotalDeposits: d(600)},
		CreatedAt:     now.Add(-24 * time.Hour),
	})
	ms.Put(model.UserNode{
		ID: "C", ParentID: "A", Username: "carol", Name: "Carol", Email: "carol@example.com",
		Phone: "+1003", UserType: model.UserTypeTrader, Status: model.StatusActive,
		WalletBalance: d(10),
		CreatedAt:     now.Add(-12 * time.Hour),
	})
}

func doGet(t *testing.T, router chi.Router, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// --- Tree ---

func TestGetTree_RedactsDeepLevels(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedScenario(t, ms)

	w := doGet(t, router, "/api/v1/team/R/tree")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp team.TreeResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.Root.ID != "R" || resp.Root.Level != 0 {
		t.Errorf("unexpected root: %+v", resp.Root)
	}
	if len(resp.Tree) != 2 {
		t.Fatalf("expected 2 direct children, got %d", len(resp.Tree))
	}

	// Level 1 keeps contact detail.
	a := resp.Tree[0]
	if a.ID != "A" || a.Email != "alice@example.com" || a.Phone != "+1001" {
		t.Errorf("level-1 node should be fully visible: %+v", a)
	}

	// Level 2 carries the redaction marker and the restricted flag.
	if len(a.Children) != 1 {
		t.Fatalf("expected A to have 1 child, got %d", len(a.Children))
	}
	c := a.Children[0]
	if c.Email != visibility.RedactedMarker || c.Phone != visibility.RedactedMarker {
		t.Errorf("level-2 PII should be redacted, got %s / %s", c.Email, c.Phone)
	}
	if !c.Restricted {
		t.Error("level-2 node should be flagged restricted")
	}
	if c.WalletBalance != nil {
		t.Error("level-2 wallet balance should be dropped from the payload")
	}
	if c.Name != "Carol" || c.Username != "carol" {
		t.Error("level-2 identity fields should stay visible")
	}
}

func TestGetTree_NotFound(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doGet(t, router, "/api/v1/team/nobody/tree")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestGetTree_CycleIsServerError(t *testing.T) {
	_, ms, router := newTestEnv(t)
	ms.Put(model.UserNode{ID: "a", Username: "u_a", ParentID: "b"})
	ms.Put(model.UserNode{ID: "b", Username: "u_b", ParentID: "a"})

	w := doGet(t, router, "/api/v1/team/a/tree")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("corrupted forest should be a 5xx, got %d", w.Code)
	}
}

// --- Stats ---

func TestGetStats_Scenario(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedScenario(t, ms)

	w := doGet(t, router, "/api/v1/team/R/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var stats model.AggregateStats
	json.Unmarshal(w.Body.Bytes(), &stats)

	if stats.DirectCount != 2 || stats.TotalDownlineCount != 3 {
		t.Errorf("expected 2 direct / 3 total, got %d / %d", stats.DirectCount, stats.TotalDownlineCount)
	}
	if !stats.TotalWalletBalance.Equal(d(1260)) {
		t.Errorf("expected total balance 1260, got %s", stats.TotalWalletBalance)
	}
}

// --- Direct team ---

func TestGetDirectTeam_BalanceBucketHigh(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedScenario(t, ms)

	w := doGet(t, router, "/api/v1/team/R/direct?balance_bucket=high")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp team.DirectTeamResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.Total != 1 || len(resp.Team) != 1 || resp.Team[0].ID != "B" {
		t.Errorf("expected exactly [B], got total=%d team=%+v", resp.Total, resp.Team)
	}
}

func TestGetDirectTeam_DirectOnly(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedScenario(t, ms)

	w := doGet(t, router, "/api/v1/team/R/direct")
	var resp team.DirectTeamResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	// C is level 2 and must not appear in the direct team.
	for _, m := range resp.Team {
		if m.ID == "C" {
			t.Error("level-2 node leaked into direct team")
		}
		if m.Level != 1 || !m.IsDirect {
			t.Errorf("direct team member should be level 1: %+v", m)
		}
	}
	if resp.Total != 2 {
		t.Errorf("expected total 2, got %d", resp.Total)
	}
}

func TestGetDirectTeam_DefaultNewestFirst(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedScenario(t, ms)

	w := doGet(t, router, "/api/v1/team/R/direct")
	var resp team.DirectTeamResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if len(resp.Team) != 2 || resp.Team[0].ID != "B" {
		t.Errorf("expected newest member (B) first, got %+v", resp.Team)
	}
}

func TestGetDirectTeam_SortByBalanceAsc(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedScenario(t, ms)

	w := doGet(t, router, "/api/v1/team/R/direct?sort_by=wallet_balance&sort_dir=asc")
	var resp team.DirectTeamResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.Team[0].ID != "A" || resp.Team[1].ID != "B" {
		t.Errorf("expected [A B], got %+v", resp.Team)
	}
}

func TestGetDirectTeam_Search(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedScenario(t, ms)

	w := doGet(t, router, "/api/v1/team/R/direct?search=ALICE")
	var resp team.DirectTeamResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.Total != 1 || resp.Team[0].ID != "A" {
		t.Errorf("expected [A], got %+v", resp.Team)
	}
}

func TestGetDirectTeam_Pagination(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedScenario(t, ms)

	w := doGet(t, router, "/api/v1/team/R/direct?sort_by=name&sort_dir=asc&page=2&page_size=1")
	var resp team.DirectTeamResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.Total != 2 {
		t.Errorf("total must count all matches, got %d", resp.Total)
	}
	if len(resp.Team) != 1 || resp.Team[0].ID != "B" {
		t.Errorf("expected page 2 to hold [B], got %+v", resp.Team)
	}
}

func TestGetDirectTeam_InvalidFilter(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedScenario(t, ms)

	w := doGet(t, router, "/api/v1/team/R/direct?balance_bucket=huge")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

// --- Rankings ---

func TestTopN_ByBalance(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	seedScenario(t, ms)

	items, err := svc.TopN(context.Background(), "R", 1, team.SortWalletBalance)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].ID != "B" {
		t.Errorf("expected [B], got %+v", items)
	}
}

func TestBottomN_ExcludesZeroBalances(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	seedScenario(t, ms)
	ms.Put(model.UserNode{
		ID: "Z", ParentID: "R", Username: "zed", Name: "Zed",
		Status: model.StatusActive, WalletBalance: decimal.Zero,
	})

	items, err := svc.BottomN(context.Background(), "R", 10, team.SortWalletBalance)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, m := range items {
		if m.ID == "Z" {
			t.Error("zero-balance account must be excluded from bottom ranking")
		}
	}
	if len(items) != 2 || items[0].ID != "A" {
		t.Errorf("expected [A B], got %+v", items)
	}
}

func TestRankings_HTTP(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedScenario(t, ms)

	w := doGet(t, router, "/api/v1/team/R/rankings/top?n=1")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp team.RankingResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.By != team.SortWalletBalance {
		t.Errorf("expected default ranking by wallet_balance, got %s", resp.By)
	}
	if len(resp.Members) != 1 || resp.Members[0].ID != "B" {
		t.Errorf("expected [B], got %+v", resp.Members)
	}
}

func TestRankings_InvalidField(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedScenario(t, ms)

	w := doGet(t, router, "/api/v1/team/R/rankings/top?by=name")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

// --- Sponsor ---

func TestGetSponsor_Visible(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedScenario(t, ms)

	w := doGet(t, router, "/api/v1/team/A/sponsor")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp team.SponsorResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if !resp.HasSponsor || resp.DetailsHidden {
		t.Fatalf("expected visible sponsor, got %+v", resp)
	}
	if resp.Sponsor == nil || resp.Sponsor.ID != "R" {
		t.Fatalf("expected sponsor R, got %+v", resp.Sponsor)
	}
	if resp.Sponsor.Email != "root@example.com" {
		t.Errorf("visible sponsor should include contact detail, got %q", resp.Sponsor.Email)
	}
	if resp.Sponsor.DirectCount != 2 {
		t.Errorf("expected direct count 2, got %d", resp.Sponsor.DirectCount)
	}
}

func TestGetSponsor_OptedOut(t *testing.T) {
	_, ms, router := newTestEnv(t)
	now := time.Now().UTC()
	ms.Put(model.UserNode{
		ID: "S", Username: "shadow", Name: "Secret Upline", Email: "s@example.com",
		Status: model.StatusActive, WalletBalance: d(9999),
		Privacy:   model.Privacy{HideFromDownline: true},
		CreatedAt: now,
	})
	ms.Put(model.UserNode{
		ID: "V", ParentID: "S", Username: "victor", Name: "Victor",
		Status: model.StatusActive, CreatedAt: now,
	})

	w := doGet(t, router, "/api/v1/team/V/sponsor")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp team.SponsorResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if !resp.HasSponsor {
		t.Error("expected has_sponsor=true")
	}
	if !resp.DetailsHidden {
		t.Error("expected details_hidden=true")
	}
	if resp.Sponsor != nil {
		t.Errorf("opted-out sponsor must have no detail record, got %+v", resp.Sponsor)
	}

	// Not even redacted fragments may leak into the payload.
	body := w.Body.String()
	for _, leak := range []string{"Secret Upline", "s@example.com", "9999", "shadow"} {
		if strings.Contains(body, leak) {
			t.Errorf("payload leaked %q: %s", leak, body)
		}
	}
}

func TestGetSponsor_None(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedScenario(t, ms)

	w := doGet(t, router, "/api/v1/team/R/sponsor")
	var resp team.SponsorResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.HasSponsor || resp.Sponsor != nil {
		t.Errorf("forest root has no sponsor, got %+v", resp)
	}
}

func TestGetSponsor_MultiHopChain(t *testing.T) {
	_, ms, router := newTestEnv(t)
	now := time.Now().UTC()
	ms.Put(model.UserNode{ID: "G", Username: "grand", Name: "Grand",
		Privacy: model.Privacy{HideFromDownline: true}, CreatedAt: now})
	ms.Put(model.UserNode{ID: "S", ParentID: "G", Username: "sponsor", Name: "Sponsor", CreatedAt: now})
	ms.Put(model.UserNode{ID: "V", ParentID: "S", Username: "victor", Name: "Victor", CreatedAt: now})

	w := doGet(t, router, "/api/v1/team/V/sponsor?hops=5")
	var resp team.SponsorResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if len(resp.Chain) != 2 {
		t.Fatalf("expected 2-hop chain, got %d", len(resp.Chain))
	}
	if resp.Chain[0].DetailsHidden || resp.Chain[0].Name != "Sponsor" {
		t.Errorf("hop 1 should be visible, got %+v", resp.Chain[0])
	}
	if !resp.Chain[1].DetailsHidden || resp.Chain[1].Name != "" {
		t.Errorf("hop 2 opted out, must be hidden, got %+v", resp.Chain[1])
	}
}
