package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/hive-corporation/threatdeck/internal/core/domain"
)

const (
	DefaultBaseURL = "http://localhost:5000/api"
	DefaultTimeout = 10 * time.Second
)

// ErrUnauthorized is returned for any 401. The stored token has already been
// cleared by the time the caller sees it.
var ErrUnauthorized = errors.New("unauthorized")

// APIError is a non-2xx response other than 401.
type APIError struct {
	StatusCode int
	Body       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error %d", e.StatusCode)
}

// IOCCheck is the exact-value lookup result.
type IOCCheck struct {
	Exists          bool         `json:"exists"`
	Value           string       `json:"value"`
	ConfidenceScore int32        `json:"confidenceScore"`
	Sources         []string     `json:"sources"`
	Sightings       []domain.IOC `json:"sightings"`
}

type ack[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// API talks to the dashboard REST backend. It never retries.
type API struct {
	http           *resty.Client
	tokens         TokenStore
	onUnauthorized func()
	logger         *zap.Logger

	// serialises the clear+callback pair so concurrent 401s each get exactly one
	unauthorizedMu sync.Mutex
}

type Option func(*API)

func WithTokenStore(ts TokenStore) Option {
	return func(a *API) { a.tokens = ts }
}

// WithUnauthorizedHandler is invoked once per 401 response after the token is cleared.
func WithUnauthorizedHandler(fn func()) Option {
	return func(a *API) { a.onUnauthorized = fn }
}

func WithTimeout(d time.Duration) Option {
	return func(a *API) {
		if d > 0 {
			a.http.SetTimeout(d)
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(a *API) { a.logger = l }
}

func NewAPI(baseURL string, opts ...Option) *API {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	a := &API{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(DefaultTimeout).
			SetRetryCount(0).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json"),
		tokens: NewMemoryTokenStore(""),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.http.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		if tok := a.tokens.Token(); tok != "" {
			r.SetAuthToken(tok)
		}
		return nil
	})
	return a
}

func (a *API) BaseURL() string {
	return a.http.BaseURL
}

func (a *API) Tokens() TokenStore {
	return a.tokens
}

func (a *API) execute(ctx context.Context, method, path string, query url.Values, body any) (*resty.Response, error) {
	req := a.http.R().SetContext(ctx)
	if len(query) > 0 {
		req.SetQueryParamsFromValues(query)
	}
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	switch {
	case resp.StatusCode() == http.StatusUnauthorized:
		a.unauthorized()
		return nil, fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	case !resp.IsSuccess():
		apiErr := &APIError{StatusCode: resp.StatusCode(), Body: string(resp.Body())}
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(resp.Body(), &payload) == nil {
			apiErr.Message = payload.Error
		}
		return nil, apiErr
	}
	return resp, nil
}

func (a *API) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	resp, err := a.execute(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (a *API) unauthorized() {
	a.unauthorizedMu.Lock()
	defer a.unauthorizedMu.Unlock()

	if err := a.tokens.Clear(); err != nil {
		a.logger.Warn("⚠️ Could not clear stored token", zap.Error(err))
	}
	if a.onUnauthorized != nil {
		a.onUnauthorized()
	}
}

func (a *API) GetHealth(ctx context.Context) (domain.Health, error) {
	var h domain.Health
	err := a.do(ctx, http.MethodGet, "/health", nil, nil, &h)
	return h, err
}

func (a *API) GetFeeds(ctx context.Context, filters domain.FilterOptions) ([]domain.ThreatFeed, error) {
	var feeds []domain.ThreatFeed
	err := a.do(ctx, http.MethodGet, "/feeds", filters.Values(), nil, &feeds)
	return feeds, err
}

func (a *API) GetFeed(ctx context.Context, id string) (domain.ThreatFeed, error) {
	var feed domain.ThreatFeed
	err := a.do(ctx, http.MethodGet, "/feeds/"+url.PathEscape(id), nil, nil, &feed)
	return feed, err
}

func (a *API) AddCustomFeed(ctx context.Context, src domain.FeedSource) (domain.FeedSource, error) {
	var res ack[domain.FeedSource]
	err := a.do(ctx, http.MethodPost, "/feeds/custom", nil, src, &res)
	return res.Data, err
}

func (a *API) GetIOCs(ctx context.Context, filters domain.FilterOptions) ([]domain.IOC, error) {
	var iocs []domain.IOC
	err := a.do(ctx, http.MethodGet, "/iocs", filters.Values(), nil, &iocs)
	return iocs, err
}

func (a *API) GetIOC(ctx context.Context, id string) (domain.IOC, error) {
	var ioc domain.IOC
	err := a.do(ctx, http.MethodGet, "/iocs/"+url.PathEscape(id), nil, nil, &ioc)
	return ioc, err
}

func (a *API) CheckIOC(ctx context.Context, value string) (IOCCheck, error) {
	var res IOCCheck
	err := a.do(ctx, http.MethodGet, "/iocs/check", url.Values{"value": {value}}, nil, &res)
	return res, err
}

func (a *API) GetAISummaries(ctx context.Context) ([]domain.AISummary, error) {
	var summaries []domain.AISummary
	err := a.do(ctx, http.MethodGet, "/ai-summaries", nil, nil, &summaries)
	return summaries, err
}

func (a *API) GenerateAISummary(ctx context.Context) ([]domain.AISummary, error) {
	var res ack[[]domain.AISummary]
	err := a.do(ctx, http.MethodPost, "/ai-summaries/generate", nil, nil, &res)
	return res.Data, err
}

func (a *API) GetStats(ctx context.Context) (domain.ThreatStats, error) {
	var stats domain.ThreatStats
	err := a.do(ctx, http.MethodGet, "/stats", nil, nil, &stats)
	return stats, err
}

// RefreshFeeds triggers server-side collection. It does not touch any client state.
func (a *API) RefreshFeeds(ctx context.Context) (bool, error) {
	var res ack[json.RawMessage]
	if err := a.do(ctx, http.MethodPost, "/refresh", nil, nil, &res); err != nil {
		return false, err
	}
	return res.Success, nil
}

func (a *API) ExportData(ctx context.Context) (domain.ExportBundle, error) {
	var bundle domain.ExportBundle
	err := a.do(ctx, http.MethodGet, "/export", nil, nil, &bundle)
	return bundle, err
}

// DownloadExport returns the raw attachment body. An empty format means json.
func (a *API) DownloadExport(ctx context.Context, format string) ([]byte, error) {
	var q url.Values
	if format != "" {
		q = url.Values{"format": {format}}
	}
	resp, err := a.execute(ctx, http.MethodGet, "/export/download", q, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

func (a *API) Search(ctx context.Context, query string, scope domain.SearchScope) (domain.SearchResult, error) {
	q := url.Values{"q": {query}}
	if scope != "" {
		q.Set("type", string(scope))
	}
	var res domain.SearchResult
	err := a.do(ctx, http.MethodGet, "/search", q, nil, &res)
	return res, err
}

func (a *API) GetThreatTrends(ctx context.Context, days int) ([]domain.TrendPoint, error) {
	var q url.Values
	if days > 0 {
		q = url.Values{"days": {strconv.Itoa(days)}}
	}
	var points []domain.TrendPoint
	err := a.do(ctx, http.MethodGet, "/analytics/trends", q, nil, &points)
	return points, err
}

func (a *API) GetThreatMap(ctx context.Context) ([]domain.SourceActivity, error) {
	var m []domain.SourceActivity
	err := a.do(ctx, http.MethodGet, "/analytics/threat-map", nil, nil, &m)
	return m, err
}

func (a *API) GetTopThreats(ctx context.Context, limit int) ([]domain.ThreatFeed, error) {
	var q url.Values
	if limit > 0 {
		q = url.Values{"limit": {strconv.Itoa(limit)}}
	}
	var feeds []domain.ThreatFeed
	err := a.do(ctx, http.MethodGet, "/analytics/top-threats", q, nil, &feeds)
	return feeds, err
}

func (a *API) GetNotifications(ctx context.Context) ([]domain.Notification, error) {
	var notes []domain.Notification
	err := a.do(ctx, http.MethodGet, "/notifications", nil, nil, &notes)
	return notes, err
}

func (a *API) MarkNotificationRead(ctx context.Context, id string) error {
	return a.do(ctx, http.MethodPut, "/notifications/"+url.PathEscape(id)+"/read", nil, nil, nil)
}

func (a *API) GetSettings(ctx context.Context) (domain.Settings, error) {
	var s domain.Settings
	err := a.do(ctx, http.MethodGet, "/settings", nil, nil, &s)
	return s, err
}

func (a *API) UpdateSettings(ctx context.Context, s domain.Settings) (domain.Settings, error) {
	var saved domain.Settings
	err := a.do(ctx, http.MethodPut, "/settings", nil, s, &saved)
	return saved, err
}
