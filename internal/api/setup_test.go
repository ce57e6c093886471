package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"suiterunner/internal/api"
	"suiterunner/internal/models"
	"suiterunner/internal/store"
)

// newTestStore opens a fresh in-memory SQLite database. A single connection
// keeps every query on the same database instance.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	st := store.New(db)
	require.NoError(t, st.EnsureSchema(context.Background()))
	return st
}

// newTestServer mounts the full API around a fresh store
func newTestServer(t *testing.T) (*api.Server, *store.Store) {
	t.Helper()

	st := newTestStore(t)
	return api.New(context.Background(), st), st
}

// seedSchedule inserts a schedule directly through the store, bypassing the
// API's validation. Defaults to a one-off two hours out.
func seedSchedule(t *testing.T, st *store.Store, mutate ...func(*models.Schedule)) *models.Schedule {
	t.Helper()

	s := &models.Schedule{
		SuiteID:    "suite-login",
		SuiteName:  "Login flows",
		Status:     models.StatusScheduled,
		RunAtUTC:   time.Now().UTC().Add(2 * time.Hour).Truncate(time.Second),
		Timezone:   "UTC",
		Recurrence: models.RecurrenceNone,
		Priority:   5,
		Options:    models.DefaultExecutionOptions(),
	}
	for _, fn := range mutate {
		fn(s)
	}
	require.NoError(t, st.CreateSchedule(context.Background(), s))
	return s
}

// doRequest runs one request through the handler and decodes the JSON answer
// into out when given
func doRequest(t *testing.T, handler http.Handler, method, path string, body, out any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if out != nil && rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), out), "body: %s", rr.Body.String())
	}
	return rr
}

// wireError mirrors the service's rejection envelope
type wireError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// createBody builds a minimal valid create payload for the given instant
func createBody(runAt time.Time) models.CreateScheduleRequest {
	return models.CreateScheduleRequest{
		SuiteID:   "suite-login",
		SuiteName: "Login flows",
		RunAt:     runAt.Format(models.LocalDateTimeLayout),
		Timezone:  "UTC",
	}
}
