package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"cuadrecaja/backend/internal/domain"
	"cuadrecaja/backend/internal/service"
	"cuadrecaja/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, nil, "test-venue", 3, 0)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*")
}

// mustHashPassword generates a bcrypt hash of the given password or fails the test.
func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "admin123",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["access_token"] == "" || body["access_token"] == nil {
		t.Fatalf("expected access_token in response, got %v", body)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleLogin_RateLimit(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	// The loginLimiter allows 5 attempts per minute.
	// Fire 6 requests from the same "IP" (httptest uses RemoteAddr "192.0.2.1:1234").
	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "badpass",
	})

	var lastCode int
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		lastCode = rec.Code
	}

	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after 6 attempts, got %d", lastCode)
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	token := loginAsAdmin(t, api)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body domain.ProductListResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Products) == 0 {
		t.Fatalf("expected seeded products in response")
	}
	if body.InventoryValueCents <= 0 {
		t.Fatalf("expected positive inventory value, got %d", body.InventoryValueCents)
	}
}

func TestHandleCreateProduct_OperatorForbidden(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	token := loginAs(t, api, "operator", "operator123")
	csrf := fetchCSRFToken(t, api)

	payload, _ := json.Marshal(domain.ProductCreateRequest{
		Code:           "REFAJO",
		Name:           "Refajo 330ml",
		UnitCostCents:  150000,
		UnitPriceCents: 300000,
		InitialStock:   12,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/products", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CSRF-Token", csrf)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for operator product create, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

// TestRecordSaleFlow walks the counted-sale path end to end: read the catalog,
// report an observed count, and verify the derived quantity, frozen pricing
// and decremented stock.
func TestRecordSaleFlow(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	product := findProductByCode(t, handler, token, "CERV-AGUILA")
	if product.StockQty != 48 {
		t.Fatalf("expected seeded stock 48, got %d", product.StockQty)
	}

	payload, _ := json.Marshal(domain.SaleCreateRequest{
		ProductID:     product.ID,
		ObservedCount: 45,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sales", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CSRF-Token", csrf)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Sale domain.SaleEvent `json:"sale"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Sale.Quantity != 3 {
		t.Fatalf("expected derived quantity 3, got %d", body.Sale.Quantity)
	}
	if body.Sale.AmountCents != 3*product.UnitPriceCents {
		t.Fatalf("expected amount %d, got %d", 3*product.UnitPriceCents, body.Sale.AmountCents)
	}

	after := findProductByCode(t, handler, token, "CERV-AGUILA")
	if after.StockQty != 45 {
		t.Fatalf("expected stock 45 after sale, got %d", after.StockQty)
	}
}

func TestMutationRejectedWithoutCSRFToken(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	token := loginAsAdmin(t, api)

	payload, _ := json.Marshal(domain.SaleCreateRequest{ProductID: "prd-x", ObservedCount: 1})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sales", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without CSRF token, got %d", rec.Code)
	}
}

// TestConfirmCutFlow records a day of activity through the API, confirms a cut
// over that day, and exports it as CSV.
func TestConfirmCutFlow(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)
	today := time.Now().UTC().Format(domain.DateLayout)

	product := findProductByCode(t, handler, token, "AGUA")

	doPost := func(path string, payload any) *httptest.ResponseRecorder {
		t.Helper()
		raw, _ := json.Marshal(payload)
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-CSRF-Token", csrf)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := doPost("/api/v1/sales", domain.SaleCreateRequest{ProductID: product.ID, ObservedCount: product.StockQty - 5}); rec.Code != http.StatusCreated {
		t.Fatalf("sale failed: %d %s", rec.Code, rec.Body.String())
	}
	if rec := doPost("/api/v1/cash-entries", domain.CashEntryCreateRequest{
		Date:                   today,
		TotalPhysicalCashCents: 5 * product.UnitPriceCents,
		TimeRevenueCents:       0,
	}); rec.Code != http.StatusCreated {
		t.Fatalf("cash entry failed: %d %s", rec.Code, rec.Body.String())
	}

	confirm := doPost("/api/v1/cuts", domain.CutConfirmRequest{
		StartDate:         today,
		EndDate:           today,
		InputPayrollCents: 100000,
	})
	if confirm.Code != http.StatusCreated {
		t.Fatalf("cut confirm failed: %d %s", confirm.Code, confirm.Body.String())
	}

	var confirmed struct {
		Cut domain.Cut `json:"cut"`
	}
	if err := json.NewDecoder(confirm.Body).Decode(&confirmed); err != nil {
		t.Fatalf("decode cut: %v", err)
	}
	if confirmed.Cut.ReconciliationDiffCents != 0 {
		t.Fatalf("expected balanced cut, diff %d", confirmed.Cut.ReconciliationDiffCents)
	}

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/cuts/%s?format=csv", confirmed.Cut.ID), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("csv export failed: %d %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv; charset=utf-8" {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func findProductByCode(t *testing.T, handler http.Handler, token string, code string) domain.Product {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("list products failed: %d %s", rec.Code, rec.Body.String())
	}

	var body domain.ProductListResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode products: %v", err)
	}
	for _, p := range body.Products {
		if p.Code == code {
			return p
		}
	}
	t.Fatalf("product %s not found", code)
	return domain.Product{}
}

// TestMustHashPassword verifies that the test helper produces valid bcrypt hashes
// (used to confirm test infrastructure is sound).
func TestMustHashPassword(t *testing.T) {
	hash := mustHashPassword(t, "secret")
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")); err != nil {
		t.Fatalf("hash verification failed: %v", err)
	}
}
