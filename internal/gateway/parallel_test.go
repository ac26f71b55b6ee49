package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
)

func TestParallelTagsResults(t *testing.T) {
	var tokenCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", tokenEndpoint(&tokenCalls))
	mux.HandleFunc("/api/v1/alerts", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("query")
		if q == "boom" {
			http.Error(w, "upstream failure", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, `{"alerts":[{"alertId":"alert-%s"}]}`, q)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, _ := testClient(t, srv.URL)

	query := func(v string) url.Values { return url.Values{"query": {v}} }
	specs := []RequestSpec{
		{Route: "api/v1/alerts", Query: query("1.1.1.1"), ResultID: "1.1.1.1"},
		{Route: "api/v1/alerts", Query: query("boom"), ResultID: "boom"},
		{Route: "api/v1/alerts", Query: query("8.8.8.8"), ResultID: "8.8.8.8"},
	}

	got, err := c.Parallel(context.Background(), specs)
	if err != nil {
		t.Fatalf("parallel: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("results = %d, want 3", len(got))
	}

	for i, spec := range specs {
		if got[i].ResultID != spec.ResultID {
			t.Errorf("result %d tagged %q, want %q", i, got[i].ResultID, spec.ResultID)
		}
	}

	// One failing entity does not abort the batch.
	if got[1].Response != nil {
		t.Errorf("failed entity response = %+v, want nil", got[1].Response)
	}
	for _, i := range []int{0, 2} {
		if got[i].Response == nil {
			t.Fatalf("result %d has no response", i)
		}
		want := "alert-" + got[i].ResultID
		if !strings.Contains(string(got[i].Response.Body), want) {
			t.Errorf("result %d body = %s, want it to contain %q", i, got[i].Response.Body, want)
		}
	}
}

func TestParallelCancelled(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c, _ := testClient(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Parallel(ctx, []RequestSpec{{Route: "api/v1/alerts"}}); err == nil {
		t.Fatal("expected an error for a cancelled batch")
	}
}
