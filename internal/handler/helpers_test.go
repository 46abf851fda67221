package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kumburgaz/dues-backend/internal/domain"
	"github.com/kumburgaz/dues-backend/internal/service"
	"github.com/kumburgaz/dues-backend/internal/testutil"
	"github.com/kumburgaz/dues-backend/internal/websocket"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

// testApp is the full route table over an in-memory store
type testApp struct {
	e     *echo.Echo
	store *testutil.MockStore
}

func newTestApp() *testApp {
	store := testutil.NewMockStore()
	hub := websocket.NewHub()

	collections := service.NewCollectionService(store.Tx, store.Collections, store.Groups, store.Units, store.Installments, nil)
	collections.SetEventPublisher(hub)
	generation := service.NewDuesGenerationService(store.Tx, store.Groups, store.DuesTypes, store.Units, store.Installments, store.Collections, nil)
	generation.SetEventPublisher(hub)

	e := echo.New()
	e.Validator = NewRequestValidator()
	RegisterRoutes(e, Handlers{
		Dues:         NewDuesHandler(generation),
		Collections:  NewCollectionHandler(collections),
		Reports:      NewReportHandler(service.NewReportService(store.Groups, store.DuesTypes, store.Units, store.Installments, store.Collections)),
		BillingGroup: NewBillingGroupHandler(service.NewBillingGroupService(store.Tx, store.Groups, store.DuesTypes, store.Units)),
		Dashboard:    NewDashboardHandler(service.NewDashboardService(store.Groups, store.Installments, store.Collections)),
		WebSocket:    NewWebSocketHandler(hub, nil),
	})
	return &testApp{e: e, store: store}
}

func (a *testApp) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

// seedGroup adds block A with units A-1 and A-2, a 12000 dues type and a merged group over both
func (a *testApp) seedGroup() (*domain.BillingGroup, *domain.Unit, *domain.Unit) {
	db := a.store.DB
	block := db.AddBlock("A")
	a1 := db.AddUnit(block.ID, "1")
	a2 := db.AddUnit(block.ID, "2")
	dt := db.AddDuesType("Standard", 12000)
	group := db.AddBillingGroup("A1-A2", dt.ID, true, "2024-2025", a1.ID, a2.ID)
	return group, a1, a2
}

func (a *testApp) addInstallment(groupID int32, period string, amount int64) *domain.DuesInstallment {
	key, err := domain.PeriodKey(period)
	if err != nil {
		panic(err)
	}
	due := time.Date(key, time.July, 31, 0, 0, 0, 0, time.UTC)
	return a.store.DB.AddInstallment(domain.NewInstallment(groupID, nil, period, due, decimal.NewFromInt(amount)))
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("Expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}
