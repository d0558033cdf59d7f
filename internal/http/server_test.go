package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"financeflow/internal/core"
)

type fakeDivisionStore struct {
	divisions []core.CapitalDivision
	loadErr   error
	saveErr   error
}

func (f *fakeDivisionStore) LoadDivisions(context.Context) ([]core.CapitalDivision, error) {
	return f.divisions, f.loadErr
}

func (f *fakeDivisionStore) SaveDivisions(_ context.Context, divisions []core.CapitalDivision) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.divisions = divisions
	return nil
}

func newTestServer(store *fakeDivisionStore) *Server {
	s := NewServer(":0", store)
	s.clock = func() time.Time { return time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC) }
	return s
}

func decodeDivisions(t *testing.T, body []byte) []divisionPayload {
	t.Helper()
	var resp struct {
		Divisions []divisionPayload `json:"divisions"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.Divisions
}

func TestGetDivisionsEmpty(t *testing.T) {
	s := newTestServer(&fakeDivisionStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/capital-divisions", nil)
	rec := httptest.NewRecorder()
	s.Server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := decodeDivisions(t, rec.Body.Bytes()); len(got) != 0 {
		t.Fatalf("expected empty array, got %+v", got)
	}
	if !strings.Contains(rec.Body.String(), `"divisions":[]`) {
		t.Fatalf("empty set must serialize as an array, got %s", rec.Body.String())
	}
}

func TestGetDivisions(t *testing.T) {
	s := newTestServer(&fakeDivisionStore{
		divisions: []core.CapitalDivision{
			{ID: "1", Name: "Savings", Percentage: 20, Color: "#3B82F6"},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/capital-divisions", nil)
	rec := httptest.NewRecorder()
	s.Server.Handler.ServeHTTP(rec, req)

	got := decodeDivisions(t, rec.Body.Bytes())
	if len(got) != 1 || got[0].Name != "Savings" || got[0].Percentage != 20 {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestPostDivisionsSanitizes(t *testing.T) {
	store := &fakeDivisionStore{}
	s := newTestServer(store)

	body := `{"divisions":[
		{"id": 42, "name": "Savings", "percentage": "25.5"},
		{"name": "Leisure", "percentage": 10, "color": "#F59E0B"}
	]}`
	req := httptest.NewRequest(http.MethodPost, "/api/capital-divisions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	got := decodeDivisions(t, rec.Body.Bytes())
	if len(got) != 2 {
		t.Fatalf("expected 2 sanitized entries, got %d", len(got))
	}
	// numeric id coerced to string, string percentage to number
	if got[0].ID != "42" || got[0].Percentage != 25.5 || got[0].Color != defaultColor {
		t.Fatalf("first entry not sanitized: %+v", got[0])
	}
	// missing id falls back to the clock timestamp
	wantID := "1749988800000"
	if got[1].ID != wantID {
		t.Fatalf("second id = %q, want %q", got[1].ID, wantID)
	}
	if got[1].Color != "#F59E0B" {
		t.Fatalf("explicit color must survive, got %q", got[1].Color)
	}

	if len(store.divisions) != 2 || store.divisions[0].Name != "Savings" {
		t.Fatalf("persisted set not overwritten: %+v", store.divisions)
	}
}

func TestPostDivisionsRejectsMissingArray(t *testing.T) {
	s := newTestServer(&fakeDivisionStore{})

	for i, body := range []string{`{}`, `{"divisions": null}`, `not json`} {
		req := httptest.NewRequest(http.MethodPost, "/api/capital-divisions", strings.NewReader(body))
		rec := httptest.NewRecorder()
		s.Server.Handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("case %d: status = %d, want 400", i, rec.Code)
		}
	}
}

func TestPostDivisionsEmptyArrayClearsSet(t *testing.T) {
	store := &fakeDivisionStore{
		divisions: []core.CapitalDivision{{ID: "1", Name: "Old", Percentage: 100}},
	}
	s := newTestServer(store)

	req := httptest.NewRequest(http.MethodPost, "/api/capital-divisions", strings.NewReader(`{"divisions":[]}`))
	rec := httptest.NewRecorder()
	s.Server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(store.divisions) != 0 {
		t.Fatalf("persisted set should be cleared, got %+v", store.divisions)
	}
}

func TestDivisionsMethodNotAllowed(t *testing.T) {
	s := newTestServer(&fakeDivisionStore{})

	req := httptest.NewRequest(http.MethodDelete, "/api/capital-divisions", nil)
	rec := httptest.NewRecorder()
	s.Server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestDivisionsStoreErrors(t *testing.T) {
	s := newTestServer(&fakeDivisionStore{loadErr: errors.New("disk gone")})
	req := httptest.NewRequest(http.MethodGet, "/api/capital-divisions", nil)
	rec := httptest.NewRecorder()
	s.Server.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("load error: status = %d, want 500", rec.Code)
	}

	s = newTestServer(&fakeDivisionStore{saveErr: errors.New("disk gone")})
	req = httptest.NewRequest(http.MethodPost, "/api/capital-divisions", strings.NewReader(`{"divisions":[{"name":"X"}]}`))
	rec = httptest.NewRecorder()
	s.Server.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("save error: status = %d, want 500", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(&fakeDivisionStore{})

	for i, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		s.Server.Handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("case %d: status = %d, want 200", i, rec.Code)
		}
	}
}
