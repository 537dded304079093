package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"meshroster/internal/domain"
	"meshroster/internal/engine"
	"meshroster/internal/probe"
	"meshroster/internal/repository/sqlite"
	"meshroster/internal/service"
)

// tableRunner answers probe calls by the --device/--host argument
type tableRunner map[string]string

func (t tableRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	device := ""
	for i, a := range args {
		if (a == "--device" || a == "--host") && i+1 < len(args) {
			device = args[i+1]
		}
	}
	return t[device], nil
}

const nodeInfo = `{"nodes":{"!c0ffee":{"user":{"longName":"Mast","macaddr":"C0:FF:EE:00:11:22"},"deviceMetrics":{"batteryLevel":64},"position":{"latitude":51.5,"longitude":-0.12}}}}`

// stallingRunner blocks every call until the request context ends
type stallingRunner struct{}

func (stallingRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func newServer(t *testing.T, answers tableRunner) *httptest.Server {
	t.Helper()
	return newServerWith(t, answers)
}

func newServerWith(t *testing.T, runner probe.Runner, opts ...HandlerOption) *httptest.Server {
	t.Helper()
	logger := zaptest.NewLogger(t)

	repo, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	client := probe.NewClient(runner, logger)
	cache := probe.NewInfoCache(client, probe.DefaultTTL)
	validator := engine.NewValidator(cache, logger,
		engine.WithSleep(func(ctx context.Context, d time.Duration) error { return ctx.Err() }))
	svc := service.NewRosterService(repo, validator, cache, logger)

	mux := http.NewServeMux()
	NewRosterHandler(svc, logger, opts...).Routes(mux, nil)
	srv := httptest.NewServer(Chain(mux, Recover(logger), CORS, Logger(logger)))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestDevicesCRUD(t *testing.T) {
	srv := newServer(t, nil)
	escaped := url.PathEscape("/dev/ttyUSB0")

	var res domain.MutationResult
	code := do(t, http.MethodPost, srv.URL+"/api/devices", `{"node_id":"/dev/ttyUSB0","display_name":"bench","role":"CLIENT"}`, &res)
	assert.Equal(t, http.StatusCreated, code)
	assert.True(t, res.OK)

	code = do(t, http.MethodPost, srv.URL+"/api/devices", `{"node_id":"/dev/ttyUSB0"}`, &res)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "device /dev/ttyUSB0 already exists", res.Reason)

	code = do(t, http.MethodPost, srv.URL+"/api/devices", `{}`, &res)
	assert.Equal(t, http.StatusBadRequest, code)

	var device domain.DeviceRecord
	code = do(t, http.MethodGet, srv.URL+"/api/devices/"+escaped, "", &device)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "bench", device.DisplayName)
	assert.Equal(t, domain.RoleClient, device.Role)
	assert.Equal(t, domain.ConnectionSerial, device.ConnectionKind)

	var list []domain.DeviceRecord
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/api/devices", "", &list))
	assert.Len(t, list, 1)

	code = do(t, http.MethodDelete, srv.URL+"/api/devices/"+escaped, "", &res)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, res.OK)

	code = do(t, http.MethodDelete, srv.URL+"/api/devices/"+escaped, "", &res)
	assert.Equal(t, http.StatusNotFound, code)

	var errResp ErrorResponse
	code = do(t, http.MethodGet, srv.URL+"/api/devices/"+escaped, "", &errResp)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Not found", errResp.Error)
}

func TestValidateEndpoint(t *testing.T) {
	srv := newServer(t, tableRunner{"C0:FF:EE:00:11:22": nodeInfo})

	var res domain.ValidationResult
	code := do(t, http.MethodPost, srv.URL+"/api/validate", `{"device":"C0:FF:EE:00:11:22"}`, &res)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, res.OK, res.Reason)

	code = do(t, http.MethodPost, srv.URL+"/api/validate", `{"device":"C0:FF:EE:00:11:22","expected":"nobody"}`, &res)
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, res.OK)
	assert.Equal(t, domain.FailureIdentityMismatch, res.Kind)

	code = do(t, http.MethodPost, srv.URL+"/api/validate", `{}`, &res)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "missing device", res.Reason)

	code = do(t, http.MethodPost, srv.URL+"/api/validate", `not json`, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCommitUndoAndHistory(t *testing.T) {
	srv := newServer(t, tableRunner{"C0:FF:EE:00:11:22": nodeInfo})

	var outcome domain.CommitOutcome
	code := do(t, http.MethodPost, srv.URL+"/api/commit", `{"candidates":["C0:FF:EE:00:11:22","COM9"],"auto_commit":true}`, &outcome)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, outcome.Committed, outcome.Error)
	assert.Equal(t, "C0:FF:EE:00:11:22", outcome.Allocation.Primary)
	assert.Equal(t, []string{"C0:FF:EE:00:11:22"}, outcome.Available)

	var positions []domain.Position
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/api/positions", "", &positions))
	require.Len(t, positions, 1)
	assert.Equal(t, 51.5, positions[0].Latitude)

	var sample domain.TelemetrySample
	code = do(t, http.MethodGet, srv.URL+"/api/devices/"+url.PathEscape("C0:FF:EE:00:11:22")+"/telemetry", "", &sample)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, sample.Battery)
	assert.Equal(t, 64.0, *sample.Battery)

	var samples []domain.TelemetrySample
	code = do(t, http.MethodGet, srv.URL+"/api/devices/"+url.PathEscape("C0:FF:EE:00:11:22")+"/telemetry/history?limit=5", "", &samples)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, samples, 1)

	var history []domain.CommitSnapshot
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/api/history", "", &history))
	assert.Len(t, history, 1)

	var audit []domain.AuditEntry
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/api/audit?limit=1", "", &audit))
	assert.Len(t, audit, 1)

	var undo domain.UndoResult
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, srv.URL+"/api/undo", "", &undo))
	assert.True(t, undo.OK)
	assert.Equal(t, history[0].ID, undo.SnapshotID)

	var list []domain.DeviceRecord
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/api/devices", "", &list))
	assert.Empty(t, list)
}

func TestCommitDryRunAndBadMode(t *testing.T) {
	srv := newServer(t, tableRunner{"C0:FF:EE:00:11:22": nodeInfo})

	var outcome domain.CommitOutcome
	code := do(t, http.MethodPost, srv.URL+"/api/commit", `{"candidates":["C0:FF:EE:00:11:22"],"allocation_mode":"manual","manual_primary":"COM1"}`, &outcome)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, outcome.DryRun)
	assert.False(t, outcome.Committed)
	assert.Equal(t, "COM1", outcome.Allocation.Primary)

	var errResp ErrorResponse
	code = do(t, http.MethodPost, srv.URL+"/api/commit", `{"allocation_mode":"random"}`, &errResp)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Invalid allocation mode", errResp.Error)
}

func TestUndoWithoutHistory(t *testing.T) {
	srv := newServer(t, nil)

	var undo domain.UndoResult
	code := do(t, http.MethodPost, srv.URL+"/api/undo", "", &undo)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, domain.FailureNoHistory, undo.Kind)
	assert.Equal(t, "no commit history available", undo.Reason)
}

func TestTelemetryNotFound(t *testing.T) {
	srv := newServer(t, nil)
	var errResp ErrorResponse
	code := do(t, http.MethodGet, srv.URL+"/api/devices/COM3/telemetry", "", &errResp)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDiscoverEndpoint(t *testing.T) {
	srv := newServer(t, tableRunner{"": nodeInfo})

	var report domain.DiscoveryReport
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/api/discover", "", &report))
	require.Len(t, report.Nodes, 1)
	assert.Equal(t, "Mast", report.Nodes[0].LongName)
}

func TestExportEndpoint(t *testing.T) {
	srv := newServer(t, nil)
	do(t, http.MethodPost, srv.URL+"/api/devices", `{"node_id":"COM4"}`, nil)

	resp, err := http.Get(srv.URL + "/api/export/yml")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/yaml", resp.Header.Get("Content-Type"))
	assert.Contains(t, string(body), "node_id: COM4")

	resp, err = http.Get(srv.URL + "/api/export/csv")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMiddleware(t *testing.T) {
	logger := zaptest.NewLogger(t)
	panicky := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { panic("boom") })

	rec := httptest.NewRecorder()
	Chain(panicky, Recover(logger), Logger(logger)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	CORS(panicky).ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/x", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestTimeoutBoundsValidation(t *testing.T) {
	srv := newServerWith(t, stallingRunner{}, WithRequestTimeout(50*time.Millisecond))

	start := time.Now()
	var res domain.ValidationResult
	code := do(t, http.MethodPost, srv.URL+"/api/validate", `{"device":"COM5"}`, &res)
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, res.OK)
	assert.Equal(t, engine.ReasonCancelled, res.Reason)

	var outcome domain.CommitOutcome
	code = do(t, http.MethodPost, srv.URL+"/api/commit", `{"candidates":["COM5","COM6"],"auto_commit":true}`, &outcome)
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, outcome.Committed)
	assert.Empty(t, outcome.Available)
	assert.Equal(t, domain.FailureUnreachable, outcome.Kind)

	assert.Less(t, time.Since(start), 5*time.Second)

	var devices []domain.DeviceRecord
	do(t, http.MethodGet, srv.URL+"/api/devices", "", &devices)
	assert.Empty(t, devices, "timed out commit leaves the roster alone")
}
