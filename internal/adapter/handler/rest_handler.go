package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/hive-corporation/threatdeck/internal/adapter/exporter"
	"github.com/hive-corporation/threatdeck/internal/core/domain"
	"github.com/hive-corporation/threatdeck/internal/core/service"
)

const (
	APIPrefix  = "/api"
	HealthPath = APIPrefix + "/health"

	requestTimeout = 10 * time.Second
	refreshTimeout = 2 * time.Minute
	maxBodyBytes   = 1 << 20
)

type RestHandler struct {
	svc       *service.ThreatService
	exporters exporter.Registry
	logger    *zap.Logger
	now       func() time.Time
}

func NewRestHandler(svc *service.ThreatService, exporters exporter.Registry, logger *zap.Logger) *RestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if exporters == nil {
		exporters = exporter.NewRegistry()
	}
	return &RestHandler{svc: svc, exporters: exporters, logger: logger, now: time.Now}
}

// Register mounts every dashboard route under /api.
func (h *RestHandler) Register(router *mux.Router) {
	api := router.PathPrefix(APIPrefix).Subrouter()

	api.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	api.HandleFunc("/feeds", h.ListFeeds).Methods(http.MethodGet)
	api.HandleFunc("/feeds/custom", h.AddCustomFeed).Methods(http.MethodPost)
	api.HandleFunc("/feeds/{id}", h.GetFeed).Methods(http.MethodGet)

	api.HandleFunc("/iocs", h.ListIOCs).Methods(http.MethodGet)
	api.HandleFunc("/iocs/check", h.CheckIOC).Methods(http.MethodGet)
	api.HandleFunc("/iocs/{id}", h.GetIOC).Methods(http.MethodGet)

	api.HandleFunc("/ai-summaries", h.ListSummaries).Methods(http.MethodGet)
	api.HandleFunc("/ai-summaries/generate", h.GenerateSummaries).Methods(http.MethodPost)

	api.HandleFunc("/stats", h.Stats).Methods(http.MethodGet)
	api.HandleFunc("/export", h.Export).Methods(http.MethodGet)
	api.HandleFunc("/export/download", h.DownloadExport).Methods(http.MethodGet)
	api.HandleFunc("/refresh", h.Refresh).Methods(http.MethodPost)
	api.HandleFunc("/search", h.Search).Methods(http.MethodGet)

	api.HandleFunc("/analytics/trends", h.Trends).Methods(http.MethodGet)
	api.HandleFunc("/analytics/threat-map", h.ThreatMap).Methods(http.MethodGet)
	api.HandleFunc("/analytics/top-threats", h.TopThreats).Methods(http.MethodGet)

	api.HandleFunc("/notifications", h.ListNotifications).Methods(http.MethodGet)
	api.HandleFunc("/notifications/{id}/read", h.MarkNotificationRead).Methods(http.MethodPut)

	api.HandleFunc("/settings", h.GetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", h.UpdateSettings).Methods(http.MethodPut)

	api.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
}

func (h *RestHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := h.svc.Health(ctx)
	status := http.StatusOK
	if health.Status != "OK" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (h *RestHandler) ListFeeds(w http.ResponseWriter, r *http.Request) {
	opts, err := domain.ParseFilterOptions(r.URL.Query())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	feeds, err := h.svc.Feeds(ctx, opts)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, feeds)
}

func (h *RestHandler) GetFeed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	feed, err := h.svc.Feed(ctx, mux.Vars(r)["id"])
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, feed)
}

type customFeedRequest struct {
	Name string            `json:"name"`
	URL  string            `json:"url"`
	Type domain.SourceType `json:"type,omitempty"`
}

func (h *RestHandler) AddCustomFeed(w http.ResponseWriter, r *http.Request) {
	var req customFeedRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	src, err := h.svc.AddCustomFeed(ctx, domain.FeedSource{Name: req.Name, URL: req.URL, Type: req.Type})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, domain.NewAck(true, "Custom feed added", src))
}

func (h *RestHandler) ListIOCs(w http.ResponseWriter, r *http.Request) {
	opts, err := domain.ParseFilterOptions(r.URL.Query())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	iocs, err := h.svc.IOCs(ctx, opts)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, iocs)
}

func (h *RestHandler) GetIOC(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	ioc, err := h.svc.IOC(ctx, mux.Vars(r)["id"])
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ioc)
}

// CheckResult is the exact-value lookup payload.
type CheckResult struct {
	Exists          bool         `json:"exists"`
	Value           string       `json:"value"`
	ConfidenceScore int32        `json:"confidenceScore"`
	Sources         []string     `json:"sources"`
	Sightings       []domain.IOC `json:"sightings"`
}

// CheckIOC looks an indicator value up across every source.
func (h *RestHandler) CheckIOC(w http.ResponseWriter, r *http.Request) {
	value := r.URL.Query().Get("value")
	if value == "" {
		writeError(w, http.StatusBadRequest, "missing 'value' parameter")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sightings, err := h.svc.Lookup(ctx, value)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, buildCheckResult(value, sightings))
}

func buildCheckResult(value string, sightings []domain.IOC) CheckResult {
	res := CheckResult{
		Exists:          len(sightings) > 0,
		Value:           value,
		ConfidenceScore: domain.ConfidenceScore(sightings),
		Sources:         []string{},
		Sightings:       sightings,
	}
	if res.Sightings == nil {
		res.Sightings = []domain.IOC{}
	}
	seen := make(map[string]bool)
	for _, ioc := range sightings {
		if !seen[ioc.Source] {
			seen[ioc.Source] = true
			res.Sources = append(res.Sources, ioc.Source)
		}
	}
	return res
}

func (h *RestHandler) ListSummaries(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	summaries, err := h.svc.Summaries(ctx)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (h *RestHandler) GenerateSummaries(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), refreshTimeout)
	defer cancel()

	summaries, err := h.svc.GenerateSummaries(ctx)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.NewAck(true, fmt.Sprintf("Generated %d AI summaries", len(summaries)), summaries))
}

func (h *RestHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	stats, err := h.svc.Stats(ctx)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *RestHandler) Export(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	bundle, err := h.svc.Export(ctx)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

// DownloadExport serves the bundle as an attachment in json, stix or cef.
func (h *RestHandler) DownloadExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	exp, err := h.exporters.Get(format)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	bundle, err := h.svc.Export(ctx)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	data, err := exp.Export(ctx, bundle)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	filename := domain.ExportFilename(h.now(), exporter.Extension(exp.Format()))
	w.Header().Set("Content-Type", exp.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Warn("⚠️ Error writing export response", zap.Error(err))
	}
}

func (h *RestHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), refreshTimeout)
	defer cancel()

	result, err := h.svc.Refresh(ctx)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.NewAck(true, "Feeds refreshed", result))
}

func (h *RestHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	result, err := h.svc.Search(ctx, q.Get("q"), domain.SearchScope(q.Get("type")))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *RestHandler) Trends(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "days", service.DefaultTrendDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	trends, err := h.svc.Trends(ctx, days)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trends)
}

func (h *RestHandler) ThreatMap(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	m, err := h.svc.ThreatMap(ctx)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *RestHandler) TopThreats(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", service.DefaultTopThreats)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	top, err := h.svc.TopThreats(ctx, limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, top)
}

func (h *RestHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	notes, err := h.svc.Notifications(ctx)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

func (h *RestHandler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := h.svc.MarkNotificationRead(ctx, mux.Vars(r)["id"]); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.NewAck(true, "Notification marked as read", nil))
}

func (h *RestHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	settings, err := h.svc.Settings(ctx)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *RestHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var settings domain.Settings
	if err := decodeJSON(w, r, &settings); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	saved, err := h.svc.UpdateSettings(ctx, settings)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// writeServiceError maps domain errors onto status codes.
func (h *RestHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrInvalidFilter), errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNoSummarizer), errors.Is(err, service.ErrNoProviders):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		h.logger.Error("❌ Request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid '%s' parameter", name)
	}
	return n, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return errors.New("invalid JSON payload")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
