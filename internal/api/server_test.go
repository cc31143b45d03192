package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/home-monitor/video-svr/internal/correlate"
	"github.com/home-monitor/video-svr/internal/processor"
	"github.com/home-monitor/video-svr/internal/restapi"
	"github.com/home-monitor/video-svr/internal/services"
	"github.com/home-monitor/video-svr/internal/storage"
	"github.com/home-monitor/video-svr/pkg/schema"
)

type fakeService struct {
	previewRes *processor.PreviewResult
	previewErr error
	commitRes  *processor.CommitResult
	commitErr  error
	onCommit   func(ctx context.Context)
	onReplay   func(ctx context.Context)
	files      []schema.VideoFile
	deleteRes  services.BatchResult
	deleted    []string
	replayRes  *processor.ReplayResult
	passes     []storage.PassRecord
	passLimit  int
}

func (f *fakeService) Preview(context.Context) (*processor.PreviewResult, error) {
	return f.previewRes, f.previewErr
}

func (f *fakeService) Commit(ctx context.Context) (*processor.CommitResult, error) {
	if f.onCommit != nil {
		f.onCommit(ctx)
	}
	return f.commitRes, f.commitErr
}

func (f *fakeService) ListVideoFiles(context.Context) ([]schema.VideoFile, error) {
	return f.files, nil
}

func (f *fakeService) DeleteFiles(_ context.Context, paths []string) services.BatchResult {
	f.deleted = paths
	return f.deleteRes
}

func (f *fakeService) ReplayPending(ctx context.Context) (*processor.ReplayResult, error) {
	if f.onReplay != nil {
		f.onReplay(ctx)
	}
	return f.replayRes, nil
}

func (f *fakeService) ListPasses(_ context.Context, limit int) ([]storage.PassRecord, error) {
	f.passLimit = limit
	return f.passes, nil
}

type envelope struct {
	Method string                     `json:"method"`
	URL    string                     `json:"url"`
	Data   map[string]json.RawMessage `json:"data"`
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(svc Service) *Server {
	return NewServer(zap.NewNop(), Options{Port: 0, CORSOrigins: []string{"*"}}, svc, NewFeed(zap.NewNop()))
}

func do(t *testing.T, s *Server, method, url, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, url, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, url, nil)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestHealth(t *testing.T) {
	s := newTestServer(&fakeService{})
	rec, env := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "GET", env.Method)
	assert.Equal(t, "/health", env.URL)
	assert.JSONEq(t, "200", string(env.Data["status"]))
}

func TestPreviewMovement(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	svc := &fakeService{previewRes: &processor.PreviewResult{
		PassID: "p1",
		Intervals: []schema.VideoInterval{{
			File:          schema.VideoFile{Name: "cam-2024-05-01-10:00:00.mp4"},
			Start:         start,
			Stop:          start.Add(time.Minute),
			MatchedEvents: []schema.MotionEvent{},
		}},
	}}
	s := newTestServer(svc)

	rec, env := do(t, s, http.MethodGet, "/video/movement", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `"p1"`, string(env.Data["pass_id"]))

	var update []schema.VideoInterval
	require.NoError(t, json.Unmarshal(env.Data["update"], &update))
	require.Len(t, update, 1)
	assert.True(t, update[0].Start.Equal(start))
}

func TestPreviewMovement_InsufficientFiles(t *testing.T) {
	s := newTestServer(&fakeService{previewErr: &correlate.InsufficientFilesError{Found: 1}})

	rec, env := do(t, s, http.MethodGet, "/video/movement", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.JSONEq(t, "422", string(env.Data["status"]))
	assert.Contains(t, string(env.Data["error"]), "need at least 2 files")
}

func TestProcessMovement(t *testing.T) {
	svc := &fakeService{commitRes: &processor.CommitResult{
		PassID:           "p2",
		Intervals:        2,
		Moved:            []string{"/v/a.mp4"},
		Deleted:          []string{"/v/b.mp4"},
		ReportedEventIDs: []schema.EventID{"12"},
	}}
	s := newTestServer(svc)

	rec, env := do(t, s, http.MethodPut, "/video/movement/process", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var res processor.CommitResult
	require.NoError(t, json.Unmarshal(env.Data["result"], &res))
	assert.Equal(t, "p2", res.PassID)
	assert.Equal(t, []string{"/v/a.mp4"}, res.Moved)
	assert.Equal(t, []schema.EventID{"12"}, res.ReportedEventIDs)
}

func TestProcessMovement_PartialFailureCarriesResult(t *testing.T) {
	remoteErr := &restapi.RemoteUnavailableError{Op: restapi.OpReportProcessed, URL: "http://db", StatusCode: 500}
	svc := &fakeService{
		commitRes: &processor.CommitResult{PassID: "p3", Moved: []string{"/v/a.mp4"}, PendingReports: 1},
		commitErr: fmt.Errorf("report processed events: %w", remoteErr),
	}
	s := newTestServer(svc)

	rec, env := do(t, s, http.MethodPut, "/video/movement/process", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	require.Contains(t, env.Data, "result")
	require.Contains(t, env.Data, "error")

	var res processor.CommitResult
	require.NoError(t, json.Unmarshal(env.Data["result"], &res))
	assert.Equal(t, 1, res.PendingReports)
}

func TestMutatingPassesSurviveClientDisconnect(t *testing.T) {
	reqCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var commitErr, replayErr error
	svc := &fakeService{
		commitRes: &processor.CommitResult{PassID: "p4"},
		replayRes: &processor.ReplayResult{},
		onCommit: func(ctx context.Context) {
			cancel()
			commitErr = ctx.Err()
		},
		onReplay: func(ctx context.Context) {
			replayErr = ctx.Err()
		},
	}
	s := newTestServer(svc)

	for _, tc := range []struct{ method, url string }{
		{http.MethodPut, "/video/movement/process"},
		{http.MethodPost, "/video/reports/retry"},
	} {
		req := httptest.NewRequest(tc.method, tc.url, nil).WithContext(reqCtx)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, tc.url)
	}

	require.Error(t, reqCtx.Err())
	assert.NoError(t, commitErr, "commit must not see the client going away")
	assert.NoError(t, replayErr, "replay must not see the client going away")
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"insufficient", &correlate.InsufficientFilesError{Found: 0}, http.StatusUnprocessableEntity},
		{"bad name", fmt.Errorf("scan: %w", &correlate.TimestampParseError{Name: "x.mp4"}), http.StatusUnprocessableEntity},
		{"busy", processor.ErrPassInProgress, http.StatusConflict},
		{"remote", &restapi.RemoteUnavailableError{Op: restapi.OpFetchUnprocessed, URL: "u"}, http.StatusBadGateway},
		{"storage", &services.StorageUnavailableError{Dir: "/v", Err: errors.New("gone")}, http.StatusServiceUnavailable},
		{"deadline", fmt.Errorf("pass: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, statusFor(tc.err))
		})
	}
}

func TestListVideoFiles(t *testing.T) {
	svc := &fakeService{files: []schema.VideoFile{{Path: "/v/a.mp4", Name: "a.mp4", Size: 10}}}
	s := newTestServer(svc)

	rec, env := do(t, s, http.MethodGet, "/video-files", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var files []schema.VideoFile
	require.NoError(t, json.Unmarshal(env.Data["files"], &files))
	require.Len(t, files, 1)
	assert.Equal(t, "/v/a.mp4", files[0].Path)
}

func TestDeleteVideos(t *testing.T) {
	svc := &fakeService{deleteRes: services.BatchResult{Succeeded: []string{"/v/a.mp4"}}}
	s := newTestServer(svc)

	rec, env := do(t, s, http.MethodDelete, "/video", `["/v/a.mp4"]`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"/v/a.mp4"}, svc.deleted)
	assert.JSONEq(t, `["/v/a.mp4"]`, string(env.Data["deleted"]))
	assert.JSONEq(t, `{}`, string(env.Data["failed"]))
}

func TestDeleteVideos_Failures(t *testing.T) {
	svc := &fakeService{deleteRes: services.BatchResult{
		Failed: []services.FileOperationError{{Op: services.OpDelete, Path: "/etc/passwd", Err: services.ErrPathNotAllowed}},
	}}
	s := newTestServer(svc)

	rec, env := do(t, s, http.MethodDelete, "/video", `["/etc/passwd"]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `[]`, string(env.Data["deleted"]))

	var failed map[string]string
	require.NoError(t, json.Unmarshal(env.Data["failed"], &failed))
	assert.Contains(t, failed, "/etc/passwd")
}

func TestDeleteVideos_BadBody(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(svc)

	for _, body := range []string{`{"path":"/v/a.mp4"}`, `not json`, `[1,2]`} {
		rec, env := do(t, s, http.MethodDelete, "/video", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Contains(t, env.Data, "error")
	}
	assert.Nil(t, svc.deleted)
}

func TestRetryReports(t *testing.T) {
	s := newTestServer(&fakeService{replayRes: &processor.ReplayResult{Replayed: 3}})

	rec, env := do(t, s, http.MethodPost, "/video/reports/retry", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"replayed":3,"remaining":0}`, string(env.Data["result"]))
}

func TestListPasses(t *testing.T) {
	svc := &fakeService{passes: []storage.PassRecord{{ID: "p1", Mode: "commit"}}}
	s := newTestServer(svc)

	rec, env := do(t, s, http.MethodGet, "/video/passes?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, svc.passLimit)

	var passes []storage.PassRecord
	require.NoError(t, json.Unmarshal(env.Data["passes"], &passes))
	require.Len(t, passes, 1)
	assert.Equal(t, "p1", passes[0].ID)

	rec, _ = do(t, s, http.MethodGet, "/video/passes?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, _ = do(t, s, http.MethodGet, "/video/passes", "")
	assert.Equal(t, 20, svc.passLimit)
}

func TestNoRoute(t *testing.T) {
	s := newTestServer(&fakeService{})
	rec, env := do(t, s, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "/nope", env.URL)
}

func TestCORS(t *testing.T) {
	s := newTestServer(&fakeService{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSConfig(t *testing.T) {
	cfg := corsConfig([]string{"http://a.local"})
	assert.False(t, cfg.AllowAllOrigins)
	assert.Equal(t, []string{"http://a.local"}, cfg.AllowOrigins)

	assert.True(t, corsConfig(nil).AllowAllOrigins)
	assert.True(t, corsConfig([]string{"http://a.local", "*"}).AllowAllOrigins)
}

func TestServerStartShutdown(t *testing.T) {
	s := NewServer(zap.NewNop(), Options{Port: 0}, &fakeService{}, NewFeed(zap.NewNop()))
	s.httpServer.Addr = "127.0.0.1:0"
	require.NoError(t, s.Start())

	resp, err := http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}
