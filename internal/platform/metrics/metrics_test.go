package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/medterm/masterdata/internal/platform/worker"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.IncWrite("test")
	m.IncDegraded("test", "relational")
	m.IncCreated("test")
	m.IncResolved("legacy_key")
	m.IncPromotion("test")
	m.IncCache("hit")
	m.ObserveList("cache", time.Now())
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.IncWrite("test")
	m.IncDegraded("test", "relational")
	m.RegisterQueue("alias", func() worker.Stats { return worker.Stats{Queued: 3, Processed: 7} })

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := m.Handler()(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`masterdata_record_writes_total{type="test"} 1`,
		`masterdata_degraded_writes_total{store="relational",type="test"} 1`,
		`masterdata_queue_depth{queue="alias"} 3`,
		`masterdata_queue_processed_total{queue="alias"} 7`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in exposition", want)
		}
	}
}

func TestNewIsIndependent(t *testing.T) {
	// Separate registries: building twice must not panic on duplicate registration.
	a, b := New(), New()
	a.IncCreated("test")
	if a.Gatherer() == b.Gatherer() {
		t.Error("expected distinct registries")
	}
}
