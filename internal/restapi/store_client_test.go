package restapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/home-monitor/video-svr/pkg/schema"
)

func newTestClient(url string) *StoreClient {
	return NewStoreClient(zap.NewNop(), StoreClientOptions{BaseURL: url + "/", Timeout: 2 * time.Second})
}

func TestFetchUnprocessed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/db/unprocessed", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		_, _ = io.WriteString(w, `{"data":{"query":[{"id":1,"movement_date":"2024-05-01T10:05:00Z","processed":false}]}}`)
	}))
	defer srv.Close()

	events, err := newTestClient(srv.URL).FetchUnprocessed(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, schema.EventID("1"), events[0].ID)
}

func TestFetchUnprocessed_EmptyQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":{}}`)
	}))
	defer srv.Close()

	events, err := newTestClient(srv.URL).FetchUnprocessed(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)
}

func TestFetchUnprocessed_Failures(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "db down", http.StatusInternalServerError)
		},
		"garbage": func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `<html>`)
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()

			_, err := newTestClient(srv.URL).FetchUnprocessed(context.Background())
			var re *RemoteUnavailableError
			require.True(t, errors.As(err, &re))
			assert.Equal(t, OpFetchUnprocessed, re.Op)
		})
	}
}

func TestFetchUnprocessed_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestClient(url).FetchUnprocessed(context.Background())
	var re *RemoteUnavailableError
	require.True(t, errors.As(err, &re))
	assert.Zero(t, re.StatusCode)
}

func TestReportProcessed_SendsRecordsVerbatim(t *testing.T) {
	var got []map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/db/processed", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	var events []schema.MotionEvent
	require.NoError(t, json.Unmarshal([]byte(`[{"id":7,"movement_date":"2024-05-01T10:05:00Z","camera":"yard"}]`), &events))

	require.NoError(t, newTestClient(srv.URL).ReportProcessed(context.Background(), events))
	require.Len(t, got, 1)
	assert.Equal(t, "yard", got[0]["camera"])
	assert.Equal(t, float64(7), got[0]["id"])
}

func TestReportProcessed_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).ReportProcessed(context.Background(), []schema.MotionEvent{{ID: "1"}})
	var re *RemoteUnavailableError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, http.StatusBadGateway, re.StatusCode)
	assert.Contains(t, err.Error(), "Bad Gateway")
}

func TestStoreLimiter(t *testing.T) {
	l := NewStoreLimiter(60)
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())

	unlimited := NewStoreLimiter(0)
	for i := 0; i < 10; i++ {
		assert.True(t, unlimited.Allow())
	}
}

func TestLimiterHonoursContext(t *testing.T) {
	l := NewStoreLimiter(1)
	require.True(t, l.Allow())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := waitLimiter(ctx, l)
	assert.Error(t, err)
}
