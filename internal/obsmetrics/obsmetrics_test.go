package obsmetrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCollectorsExposedThroughHandler(t *testing.T) {
	c := New()
	c.CommitCount.Add(3)
	c.CacheHits.Inc()
	c.ActiveReaders.Set(2)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "graphkernel_commit_total 3") {
		t.Fatalf("expected commit counter to report 3, body:\n%s", body)
	}
	if !strings.Contains(body, "graphkernel_page_cache_hits_total 1") {
		t.Fatalf("expected cache hit counter to report 1, body:\n%s", body)
	}
	if !strings.Contains(body, "graphkernel_active_readers 2") {
		t.Fatalf("expected active readers gauge to report 2, body:\n%s", body)
	}
}

func TestTwoCollectorInstancesDoNotCollide(t *testing.T) {
	a := New()
	b := New()
	a.CommitCount.Add(5)
	b.CommitCount.Add(9)

	reqA := httptest.NewRequest("GET", "/metrics", nil)
	recA := httptest.NewRecorder()
	a.Handler().ServeHTTP(recA, reqA)

	reqB := httptest.NewRequest("GET", "/metrics", nil)
	recB := httptest.NewRecorder()
	b.Handler().ServeHTTP(recB, reqB)

	if !strings.Contains(recA.Body.String(), "graphkernel_commit_total 5") {
		t.Fatalf("expected collector A isolated at 5, body:\n%s", recA.Body.String())
	}
	if !strings.Contains(recB.Body.String(), "graphkernel_commit_total 9") {
		t.Fatalf("expected collector B isolated at 9, body:\n%s", recB.Body.String())
	}
}
