package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"suiterunner/internal/models"
)

// Config tunes the HTTP repository. Zero values fall back to the defaults.
type Config struct {
	Timeout           time.Duration // per-request timeout, surfaced as a TransportError
	RequestsPerSecond float64       // client-side throttle, matters for bulk fan-out
	Burst             int
}

// DefaultConfig returns the settings used when a field is left zero
func DefaultConfig() Config {
	return Config{
		Timeout:           15 * time.Second,
		RequestsPerSecond: 20,
		Burst:             40,
	}
}

// HTTPRepository implements Repository against the scheduling service's REST
// surface. Requests pass through a rate limiter so parallel bulk actions
// cannot stampede the service.
type HTTPRepository struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPRepository creates a repository rooted at baseURL, e.g.
// "http://localhost:8080"
func NewHTTPRepository(baseURL string, config Config) *HTTPRepository {
	defaults := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = defaults.RequestsPerSecond
	}
	if config.Burst <= 0 {
		config.Burst = defaults.Burst
	}

	return &HTTPRepository{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
	}
}

func (r *HTTPRepository) Create(ctx context.Context, req *models.CreateScheduleRequest) (*models.Schedule, error) {
	var out models.Schedule
	if err := r.do(ctx, http.MethodPost, "/schedules", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *HTTPRepository) List(ctx context.Context, filter models.ListFilter) (*models.ScheduleList, error) {
	path := "/schedules"
	if query := listQuery(filter).Encode(); query != "" {
		path += "?" + query
	}

	var out models.ScheduleList
	if err := r.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *HTTPRepository) Get(ctx context.Context, id string) (*models.ScheduleDetail, error) {
	var out models.ScheduleDetail
	if err := r.do(ctx, http.MethodGet, schedulePath(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *HTTPRepository) Update(ctx context.Context, id string, req *models.UpdateScheduleRequest) (*models.Schedule, error) {
	var out models.Schedule
	if err := r.do(ctx, http.MethodPatch, schedulePath(id), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *HTTPRepository) RunNow(ctx context.Context, id, notes string) (*models.Schedule, error) {
	var out models.Schedule
	body := models.RunNowRequest{Notes: notes}
	if err := r.do(ctx, http.MethodPost, schedulePath(id)+"/run-now", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *HTTPRepository) Cancel(ctx context.Context, id string) (*models.Schedule, error) {
	var out models.Schedule
	if err := r.do(ctx, http.MethodPost, schedulePath(id)+"/cancel", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *HTTPRepository) Delete(ctx context.Context, id string) error {
	return r.do(ctx, http.MethodDelete, schedulePath(id), nil, nil)
}

func (r *HTTPRepository) Stats(ctx context.Context) (*models.ScheduleStats, error) {
	var out models.ScheduleStats
	if err := r.do(ctx, http.MethodGet, "/schedules/stats/summary", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do performs one JSON round trip. 4xx answers become DomainErrors carrying
// the service's message; everything that keeps us from reading a 2xx/4xx
// body becomes a TransportError.
func (r *HTTPRepository) do(ctx context.Context, method, path string, body, out interface{}) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return &TransportError{Err: err}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("could not encode %s %s request: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("could not build %s %s request: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		_, _ = io.Copy(io.Discard, resp.Body)
		return &TransportError{StatusCode: resp.StatusCode}
	case resp.StatusCode >= http.StatusBadRequest:
		return domainErrorFrom(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Err: fmt.Errorf("could not decode %s %s response: %w", method, path, err)}
	}
	return nil
}

// domainErrorFrom reads the {error, code} payload, falling back to a plain
// "HTTP <status>" message when the body is missing or not decodable.
func domainErrorFrom(resp *http.Response) *DomainError {
	var payload struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &payload); err != nil || payload.Error == "" {
		payload.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
		payload.Code = ""
	}

	return &DomainError{
		StatusCode: resp.StatusCode,
		Code:       payload.Code,
		Message:    payload.Error,
	}
}

func schedulePath(id string) string {
	return "/schedules/" + url.PathEscape(id)
}

func listQuery(filter models.ListFilter) url.Values {
	query := url.Values{}
	if filter.Status != "" {
		query.Set("status", string(filter.Status))
	}
	if filter.SuiteID != "" {
		query.Set("suite_id", filter.SuiteID)
	}
	if filter.FromDate != "" {
		query.Set("from_date", filter.FromDate)
	}
	if filter.ToDate != "" {
		query.Set("to_date", filter.ToDate)
	}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		query.Set("offset", strconv.Itoa(filter.Offset))
	}
	return query
}
