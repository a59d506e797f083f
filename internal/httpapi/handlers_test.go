package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tokosync/backend/internal/cache"
	"tokosync/backend/internal/domain"
	"tokosync/backend/internal/service"
	"tokosync/backend/internal/store/memory"
)

func newTestAPI(t *testing.T) (http.Handler, string) {
	t.Helper()
	repo := memory.New()
	svc := service.New(repo, cache.NoopEntityCache{}, 30*time.Second)
	auth := NewAuthManager("test-secret", time.Hour, repo)
	if err := auth.SeedUser(context.Background(), "siti", "rahasia123", "cashier"); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	api := New(svc, auth, "*", "main-store")

	resp, err := auth.Login(domain.LoginRequest{Username: "siti", Password: "rahasia123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return api.Handler(), resp.AccessToken
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestSyncOperationsRequiresAuth(t *testing.T) {
	handler, _ := newTestAPI(t)
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sync/operations", "", domain.SyncBatchRequest{})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestSyncOperationsAppliesBatch(t *testing.T) {
	handler, token := newTestAPI(t)
	payload, _ := json.Marshal(domain.Product{ID: "p1", Name: "Kopi Susu", PriceCents: 1800, Active: true})
	req := domain.SyncBatchRequest{
		TerminalID: "terminal-a1",
		EnvelopeID: "env-1",
		Items: []domain.SyncItem{{
			ID:            "prod-p1",
			OperationKind: domain.OpCreate,
			EntityType:    domain.EntityProduct,
			Payload:       payload,
		}},
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sync/operations", token, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp domain.SyncBatchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.EnvelopeID != "env-1" || len(resp.Results) != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Results[0].Status != domain.ItemStatusFulfilled || resp.Results[0].EntityID != "p1" {
		t.Fatalf("unexpected result %+v", resp.Results[0])
	}

	lookup := doJSON(t, handler, http.MethodGet, "/api/v1/entities/product/p1", token, nil)
	if lookup.Code != http.StatusOK {
		t.Fatalf("entity lookup: expected 200, got %d", lookup.Code)
	}
}

func TestSyncOperationsRejectsEmptyBatch(t *testing.T) {
	handler, token := newTestAPI(t)
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sync/operations", token, domain.SyncBatchRequest{EnvelopeID: "env-empty"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRegisterFlowOverHTTP(t *testing.T) {
	handler, token := newTestAPI(t)

	open := doJSON(t, handler, http.MethodPost, "/api/v1/register/open", token,
		domain.RegisterOpenRequest{OpeningBalanceCents: 20000})
	if open.Code != http.StatusCreated {
		t.Fatalf("open: expected 201, got %d: %s", open.Code, open.Body.String())
	}

	again := doJSON(t, handler, http.MethodPost, "/api/v1/register/open", token,
		domain.RegisterOpenRequest{OpeningBalanceCents: 1000})
	if again.Code != http.StatusConflict {
		t.Fatalf("double open: expected 409, got %d", again.Code)
	}

	status := doJSON(t, handler, http.MethodGet, "/api/v1/register/status", token, nil)
	if status.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", status.Code)
	}
	var statusResp domain.RegisterStatusResponse
	if err := json.Unmarshal(status.Body.Bytes(), &statusResp); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if statusResp.ExpectedCents != 20000 {
		t.Fatalf("expected 20000 with no sales, got %d", statusResp.ExpectedCents)
	}

	closeRec := doJSON(t, handler, http.MethodPost, "/api/v1/register/close", token,
		domain.RegisterCloseRequest{CountedCents: 19500})
	if closeRec.Code != http.StatusOK {
		t.Fatalf("close: expected 200, got %d: %s", closeRec.Code, closeRec.Body.String())
	}

	afterClose := doJSON(t, handler, http.MethodGet, "/api/v1/register/status", token, nil)
	if afterClose.Code != http.StatusNotFound {
		t.Fatalf("status after close: expected 404, got %d", afterClose.Code)
	}
}

func TestSyncRunsRequiresAdminRole(t *testing.T) {
	handler, token := newTestAPI(t)
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/sync/runs", token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d", rec.Code)
	}
}
