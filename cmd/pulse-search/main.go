// Command pulse-search queries the alert API from the terminal. It speaks the
// same authenticated gateway as the server, so it is handy for verifying
// credentials and inspecting raw alert payloads.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/polarityio/dataminr-pulse-limited/internal/config"
	"github.com/polarityio/dataminr-pulse-limited/internal/gateway"
	"github.com/polarityio/dataminr-pulse-limited/internal/metrics"
	"github.com/polarityio/dataminr-pulse-limited/internal/model"
)

func main() {
	query := flag.String("query", "", "search term")
	id := flag.String("id", "", "alert id to fetch")
	pageSize := flag.Int("page-size", config.DefaultPageSize, "alerts per page for -query")
	timeout := flag.Duration("timeout", 30*time.Second, "overall request timeout")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	if (*query == "") == (*id == "") {
		fmt.Fprintln(os.Stderr, "Usage: pulse-search (-query <term> | -id <alertId>) [-page-size n] [-timeout d]")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Exactly one of -query or -id is required. Credentials are read from")
		fmt.Fprintln(os.Stderr, "DATAMINR_URL, DATAMINR_CLIENT_ID and DATAMINR_CLIENT_SECRET.")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	lvl := slog.LevelWarn
	if *verbose {
		lvl = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))

	gw := gateway.NewClient(cfg, nil, log, metrics.NewWith(prometheus.NewRegistry()))
	defer gw.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *id != "" {
		alert, err := fetchAlert(ctx, gw, *id)
		if err != nil {
			if gateway.StatusOf(err) == http.StatusNotFound {
				fmt.Fprintf(os.Stderr, "alert %s not found\n", *id)
			} else {
				log.Error("fetch alert", "alert_id", *id, "error", err)
			}
			os.Exit(1)
		}
		printJSON(alert)
		return
	}

	page, err := searchAlerts(ctx, gw, *query, *pageSize)
	if err != nil {
		log.Error("search alerts", "query", *query, "error", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "%d alert(s)\n", len(page.Alerts))
	printJSON(page)
}

func fetchAlert(ctx context.Context, gw *gateway.Client, id string) (*model.Alert, error) {
	resp, err := gw.Request(ctx, gateway.RequestSpec{Route: "api/v1/alerts/" + id})
	if err != nil {
		return nil, err
	}
	return model.DecodeAlertPayload(resp.Body)
}

func searchAlerts(ctx context.Context, gw *gateway.Client, query string, pageSize int) (*model.AlertsPage, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("pageSize", strconv.Itoa(pageSize))
	resp, err := gw.Request(ctx, gateway.RequestSpec{Route: "api/v1/alerts", Query: q})
	if err != nil {
		return nil, err
	}
	var page model.AlertsPage
	if err := json.Unmarshal(resp.Body, &page); err != nil {
		return nil, fmt.Errorf("decode alerts page: %w", err)
	}
	return &page, nil
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
