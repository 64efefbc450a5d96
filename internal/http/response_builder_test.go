package http

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ledger/internal/core"
)

func TestJSONResponseBuilder(t *testing.T) {
	rec := httptest.NewRecorder()
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/v1/transactions/1").
		Data(map[string]string{"id": "1"}).
		Write(rec)

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d", rec.Code)
	}
	if rec.Header().Get("Location") != "/api/v1/transactions/1" {
		t.Errorf("missing Location header")
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		t.Errorf("content type = %q", rec.Header().Get("Content-Type"))
	}
	if strings.TrimSpace(rec.Body.String()) != `{"id":"1"}` {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestNoContentHasNoBody(t *testing.T) {
	rec := httptest.NewRecorder()
	NewJSONResponse().Status(http.StatusNoContent).Data("ignored").Write(rec)
	if rec.Code != http.StatusNoContent || rec.Body.Len() != 0 {
		t.Errorf("status = %d, body = %q", rec.Code, rec.Body.String())
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("update transaction: %w", core.ErrNotFound), http.StatusNotFound},
		{core.ErrEmptyPatch, http.StatusBadRequest},
		{core.ErrInvalidCategory, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: %q", core.ErrInvalidCurrency, "GBP"), http.StatusUnprocessableEntity},
		{errors.New("connection reset"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		if got := errorStatus(tt.err); got != tt.want {
			t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestWriteErrorHidesStoreDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	writeError(rec, r, errors.New("dial tcp 10.0.0.5:27017: connection refused"))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "10.0.0.5") {
		t.Errorf("store details leaked: %s", rec.Body.String())
	}
}
