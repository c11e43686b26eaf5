package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fabriksoft/fabrikd/internal/localdb"
	"github.com/fabriksoft/fabrikd/internal/store"
	fabsync "github.com/fabriksoft/fabrikd/internal/sync"
	"github.com/fabriksoft/fabrikd/internal/types"
)

func newHubServer(t *testing.T) *httptest.Server {
	t.Helper()
	backend := store.NewMemory(0)
	handler := NewHubHandler(store.NewMirror(backend), store.NewChangeLog(backend), "test", backend.Name(), true)
	srv := httptest.NewServer(NewRouter(handler))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealth(t *testing.T) {
	srv := newHubServer(t)

	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	health := decode[types.HealthResponse](t, resp)
	if health.Status != "healthy" || health.Mode != "hub" || health.Backend != "memory" {
		t.Errorf("unexpected health: %+v", health)
	}
}

func TestQuality_RoundTrip(t *testing.T) {
	// Given: A quality update for batch B-100
	srv := newHubServer(t)

	resp := postJSON(t, srv.URL+"/api/quality", map[string]any{
		"batchNumber": "B-100",
		"status":      "passed",
		"checkedBy":   "inspector",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// When: Reading the batch back
	getResp, err := http.Get(srv.URL + "/api/quality?batchNumber=B-100")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body := decode[struct {
		Success     bool                 `json:"success"`
		BatchNumber string               `json:"batchNumber"`
		Quality     *types.QualityRecord `json:"quality"`
	}](t, getResp)

	// Then: The stored record comes back
	if !body.Success || body.Quality == nil {
		t.Fatalf("unexpected body: %+v", body)
	}
	if body.Quality.Status != "passed" || *body.Quality.CheckedBy != "inspector" {
		t.Errorf("unexpected record: %+v", body.Quality)
	}

	// And: The write produced a change-log entry
	changesResp, err := http.Get(srv.URL + "/api/sync")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	changes := decode[types.ChangesResponse](t, changesResp)
	if changes.Count != 1 || changes.Changes[0].Kind != types.KindQuality {
		t.Errorf("expected one quality change, got %+v", changes)
	}
	if changes.Changes[0].Source != "web" {
		t.Errorf("expected default source web, got %q", changes.Changes[0].Source)
	}
}

func TestQuality_ValidatesRequiredFields(t *testing.T) {
	srv := newHubServer(t)

	resp := postJSON(t, srv.URL+"/api/quality", map[string]any{"batchNumber": "B-100"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	body := decode[map[string]string](t, resp)
	if body["error"] == "" {
		t.Error("expected an error message")
	}
}

func TestQuality_UnknownBatchReturnsNull(t *testing.T) {
	srv := newHubServer(t)

	resp, err := http.Get(srv.URL + "/api/quality?batchNumber=B-404")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decode[struct {
		Success bool                 `json:"success"`
		Quality *types.QualityRecord `json:"quality"`
	}](t, resp)
	if !body.Success || body.Quality != nil {
		t.Errorf("expected success with null quality, got %+v", body)
	}
}

func TestShipment_Defaults(t *testing.T) {
	// Given: A shipment update carrying only the batch number
	srv := newHubServer(t)

	resp := postJSON(t, srv.URL+"/api/shipment", map[string]any{"batchNumber": "B-100"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Then: Shipped defaults to true with a current shipped date
	getResp, err := http.Get(srv.URL + "/api/shipment?batchNumber=B-100")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body := decode[struct {
		Success  bool                  `json:"success"`
		Shipment *types.ShipmentRecord `json:"shipment"`
	}](t, getResp)
	if body.Shipment == nil || !body.Shipment.Shipped {
		t.Fatalf("expected shipped=true, got %+v", body.Shipment)
	}
	if time.Since(body.Shipment.ShippedDate) > time.Minute {
		t.Errorf("expected a current shipped date, got %v", body.Shipment.ShippedDate)
	}
}

func TestRegisterChange_Validation(t *testing.T) {
	srv := newHubServer(t)

	resp := postJSON(t, srv.URL+"/api/sync", map[string]any{"type": "quality"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestGetChanges_SinceCursor(t *testing.T) {
	// Given: Two registered changes separated by a cursor read
	srv := newHubServer(t)

	resp := postJSON(t, srv.URL+"/api/sync", map[string]any{"type": "quality", "batchNumber": "B-100"})
	first := decode[types.RegisterChangeResponse](t, resp)
	if !first.Success || first.ChangeID == "" {
		t.Fatalf("unexpected register response: %+v", first)
	}

	cursor := first.Timestamp.Format(time.RFC3339Nano)
	time.Sleep(5 * time.Millisecond)

	resp = postJSON(t, srv.URL+"/api/sync", map[string]any{"type": "shipment", "batchNumber": "B-200"})
	second := decode[types.RegisterChangeResponse](t, resp)

	// When: Polling with the first change's timestamp as cursor
	getResp, err := http.Get(srv.URL + "/api/sync?since=" + cursor)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	changes := decode[types.ChangesResponse](t, getResp)

	// Then: Only the strictly newer change is returned
	if changes.Count != 1 || changes.Changes[0].ID != second.ChangeID {
		t.Errorf("expected only the second change, got %+v", changes)
	}
}

func TestGetChanges_RejectsBadCursor(t *testing.T) {
	srv := newHubServer(t)

	resp, err := http.Get(srv.URL + "/api/sync?since=yesterday")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

// --- Local mode ---

type fakeDrainer struct {
	result *fabsync.DrainResult
	err    error
}

func (d *fakeDrainer) Drain(context.Context) (*fabsync.DrainResult, error) {
	return d.result, d.err
}

type fakeStatus struct {
	status *localdb.SyncStatus
}

func (s *fakeStatus) SyncStatus(context.Context) (*localdb.SyncStatus, error) {
	return s.status, nil
}

func newLocalServer(t *testing.T, drainer Drainer, status StatusReporter) *httptest.Server {
	t.Helper()
	handler := NewLocalHandler(status, drainer, "test", true)
	srv := httptest.NewServer(NewRouter(handler))
	t.Cleanup(srv.Close)
	return srv
}

func TestSyncStatus(t *testing.T) {
	srv := newLocalServer(t, &fakeDrainer{}, &fakeStatus{status: &localdb.SyncStatus{
		QueueCount: 3,
		Dead:       1,
		Unsynced:   localdb.UnsyncedCounts{Materials: 2},
	}})

	resp, err := http.Get(srv.URL + "/api/sync/status")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	status := decode[localdb.SyncStatus](t, resp)
	if status.QueueCount != 3 || status.Dead != 1 || status.Unsynced.Materials != 2 {
		t.Errorf("unexpected status: %+v", status)
	}
}

func TestTriggerSync_ReportsResult(t *testing.T) {
	srv := newLocalServer(t, &fakeDrainer{result: &fabsync.DrainResult{
		Synced: 2,
		Failed: 1,
		Errors: []fabsync.ItemError{{Table: "materials", ID: "m-1", Error: "boom"}},
	}}, &fakeStatus{})

	resp := postJSON(t, srv.URL+"/api/sync", map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decode[struct {
		Success bool                `json:"success"`
		Synced  int                 `json:"synced"`
		Failed  int                 `json:"failed"`
		Errors  []fabsync.ItemError `json:"errors"`
	}](t, resp)
	if body.Success {
		t.Error("expected success=false when items failed")
	}
	if body.Synced != 2 || body.Failed != 1 || len(body.Errors) != 1 {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestTriggerSync_ConflictWhenInFlight(t *testing.T) {
	srv := newLocalServer(t, &fakeDrainer{err: fabsync.ErrDrainInProgress}, &fakeStatus{})

	resp := postJSON(t, srv.URL+"/api/sync", map[string]any{})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestTriggerSync_RemoteUnavailable(t *testing.T) {
	srv := newLocalServer(t, &fakeDrainer{err: errors.New("remote store unavailable: wrapped")}, &fakeStatus{})

	// A plain error is a 500; the sentinel is a soft failure
	resp := postJSON(t, srv.URL+"/api/sync", map[string]any{})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected 500 for unclassified error, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	srv2 := newLocalServer(t, &fakeDrainer{err: fabsync.ErrRemoteUnavailable}, &fakeStatus{})
	resp = postJSON(t, srv2.URL+"/api/sync", map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decode[struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}](t, resp)
	if body.Success || body.Message == "" {
		t.Errorf("expected soft failure with message, got %+v", body)
	}
}
