package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmerrifield20/custodyledger/internal/custody"
	"github.com/jmerrifield20/custodyledger/internal/handler"
	"github.com/jmerrifield20/custodyledger/internal/ledger"
	"github.com/jmerrifield20/custodyledger/internal/record"
	"go.uber.org/zap"
)

var caseID = uuid.MustParse("9b2e4c61-0d3a-4f7e-8b15-6a9c2d0e7f38")

func setupLedgerRouter(t *testing.T, init bool) (*gin.Engine, *ledger.Ledger) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	l := ledger.New(filepath.Join(t.TempDir(), "custody.ledger"))
	if init {
		ctx := context.Background()
		if _, err := l.Initialize(ctx); err != nil {
			t.Fatal(err)
		}
		events := []ledger.Event{
			{CaseID: caseID, ItemID: 42, State: record.StateCheckedIn, Creator: "kim", Owner: "POLICE", Data: "collected"},
			{CaseID: caseID, ItemID: 42, State: record.StateCheckedOut, Creator: "kim", Owner: "LAB", Data: "to lab"},
			{CaseID: caseID, ItemID: 43, State: record.StateCheckedIn, Creator: "kim", Owner: "POLICE"},
		}
		for _, ev := range events {
			if _, err := l.Append(ctx, ev); err != nil {
				t.Fatal(err)
			}
		}
	}

	r := gin.New()
	h := handler.NewLedgerHandler(l, custody.NewIndex(l, zap.NewNop()), zap.NewNop())
	v1 := r.Group("/api/v1")
	h.Register(v1)
	return r, l
}

func get(t *testing.T, router *gin.Engine, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestLedgerOverview_200(t *testing.T) {
	router, l := setupLedgerRouter(t, true)

	w, resp := get(t, router, "/api/v1/ledger")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if n := int(resp["records"].(float64)); n != 4 {
		t.Errorf("expected 4 records, got %d", n)
	}
	root, _ := l.Root(context.Background())
	if resp["root"] != root.String() {
		t.Errorf("root: got %v, want %s", resp["root"], root)
	}
}

func TestLedgerOverview_503_notInitialized(t *testing.T) {
	router, _ := setupLedgerRouter(t, false)

	w, _ := get(t, router, "/api/v1/ledger")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", w.Code, w.Body.String())
	}
}

func TestLedgerVerify_200(t *testing.T) {
	router, _ := setupLedgerRouter(t, true)

	w, resp := get(t, router, "/api/v1/ledger/verify")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp["status"] != "VALID" {
		t.Errorf("expected status VALID, got %v", resp["status"])
	}
	if n := int(resp["blocks_checked"].(float64)); n != 4 {
		t.Errorf("expected 4 blocks checked, got %d", n)
	}
}

func TestLedgerVerify_reportsViolation(t *testing.T) {
	router, l := setupLedgerRouter(t, true)
	bad, err := l.Append(context.Background(), ledger.Event{CaseID: caseID, ItemID: 42, State: record.StateCheckedOut})
	if err != nil {
		t.Fatal(err)
	}

	w, resp := get(t, router, "/api/v1/ledger/verify")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if resp["status"] != "DOUBLE CHECKOUT" {
		t.Errorf("expected DOUBLE CHECKOUT, got %v", resp["status"])
	}
	evidence, _ := resp["evidence"].([]any)
	if len(evidence) != 1 || evidence[0] != bad.Hash().String() {
		t.Errorf("evidence: got %v", resp["evidence"])
	}
}

func TestLedgerGetRecord(t *testing.T) {
	router, _ := setupLedgerRouter(t, true)

	w, resp := get(t, router, "/api/v1/ledger/records/0")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	rec := resp["record"].(map[string]any)
	if rec["state"] != "INITIAL" || rec["data"] != ledger.GenesisData {
		t.Errorf("genesis: got %v", rec)
	}

	w, resp = get(t, router, "/api/v1/ledger/records/2")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if resp["record"].(map[string]any)["owner"] != "LAB" {
		t.Errorf("record 2: got %v", resp["record"])
	}

	if w, _ := get(t, router, "/api/v1/ledger/records/999"); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if w, _ := get(t, router, "/api/v1/ledger/records/-1"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestLedgerItems(t *testing.T) {
	router, _ := setupLedgerRouter(t, true)

	w, resp := get(t, router, "/api/v1/ledger/items")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if items := resp["items"].([]any); len(items) != 2 {
		t.Errorf("expected 2 items, got %d", len(items))
	}

	w, resp = get(t, router, "/api/v1/ledger/items/42")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if resp["state"] != "CHECKEDOUT" || resp["owner"] != "LAB" {
		t.Errorf("item 42: got %v", resp)
	}

	if w, _ := get(t, router, "/api/v1/ledger/items/7"); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if w, _ := get(t, router, "/api/v1/ledger/items/abc"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestLedgerHistory(t *testing.T) {
	router, _ := setupLedgerRouter(t, true)

	w, resp := get(t, router, "/api/v1/ledger/items/42/history")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	records := resp["records"].([]any)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].(map[string]any)["state"] != "CHECKEDIN" {
		t.Errorf("history should be oldest first: %v", records[0])
	}
	if _, ok := records[0].(map[string]any)["hash"]; !ok {
		t.Error("history records should carry their hash")
	}
}

func TestLedgerCase(t *testing.T) {
	router, _ := setupLedgerRouter(t, true)

	w, resp := get(t, router, "/api/v1/ledger/cases/"+caseID.String())
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if items := resp["items"].([]any); len(items) != 2 {
		t.Errorf("expected 2 items, got %d", len(items))
	}

	if w, _ := get(t, router, "/api/v1/ledger/cases/"+uuid.NewString()); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if w, _ := get(t, router, "/api/v1/ledger/cases/not-a-uuid"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}
