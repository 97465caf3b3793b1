package db

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestExtractOrgID(t *testing.T) {
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/?org=clinic_q", nil)
	req.Header.Set(OrgHeader, "clinic_h")
	c := e.NewContext(req, httptest.NewRecorder())
	if got := extractOrgID(c); got != "clinic_h" {
		t.Errorf("expected header to win over query, got %s", got)
	}

	c.Set("jwt_org_id", "clinic_jwt")
	if got := extractOrgID(c); got != "clinic_jwt" {
		t.Errorf("expected JWT claim to win, got %s", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/?org=clinic_q", nil)
	c = e.NewContext(req, httptest.NewRecorder())
	if got := extractOrgID(c); got != "clinic_q" {
		t.Errorf("expected query value, got %s", got)
	}
}

func TestOrganizationMiddleware(t *testing.T) {
	e := echo.New()
	var seen string
	h := OrganizationMiddleware()(func(c echo.Context) error {
		seen = OrgFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(OrgHeader, "clinic-01")
	if err := h(e.NewContext(req, httptest.NewRecorder())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != "clinic-01" {
		t.Errorf("expected clinic-01, got %q", seen)
	}

	seen = "unchanged"
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	if err := h(e.NewContext(req, httptest.NewRecorder())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != "" {
		t.Errorf("expected global scope, got %q", seen)
	}
}

func TestOrganizationMiddleware_RejectsInvalid(t *testing.T) {
	e := echo.New()
	h := OrganizationMiddleware()(func(c echo.Context) error { return nil })
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(OrgHeader, "bad org; drop")
	err := h(e.NewContext(req, httptest.NewRecorder()))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestOrgFromContext_Empty(t *testing.T) {
	if got := OrgFromContext(context.Background()); got != "" {
		t.Errorf("expected empty org, got %q", got)
	}
}
