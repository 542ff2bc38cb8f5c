package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/obsidianstack/disque-exporter/internal/scraper"
)

// MetricsPath is the only routed path.
const MetricsPath = "/metrics"

// Scraper runs one scrape cycle. *scraper.Scraper implements it.
type Scraper interface {
	Scrape(ctx context.Context) (*scraper.Result, error)
}

// Handler is the HTTP handler for the metrics endpoint.
type Handler struct {
	scraper     Scraper
	contentType string
	mux         *http.ServeMux
}

// New creates a Handler that answers GET /metrics from sc, labelling the
// body with contentType.
func New(sc Scraper, contentType string) http.Handler {
	h := &Handler{scraper: sc, contentType: contentType, mux: http.NewServeMux()}

	h.mux.HandleFunc(MetricsPath, h.metrics)
	h.mux.HandleFunc("/", notFound) // ServeMux's default 404 writes a body

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// metrics answers GET /metrics with the rendered registry after a fresh scrape.
func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		notFound(w, r)
		return
	}

	res, err := h.scraper.Scrape(r.Context())
	if err != nil {
		slog.Warn("api: scrape failed", "remote", r.RemoteAddr, "err", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, "scrape failed: %v\n", err)
		return
	}

	w.Header().Set("Content-Type", h.contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Body)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Body); err != nil {
		slog.Debug("api: write response", "err", err)
	}
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNotFound)
}
