package status

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anggasct/tracklock/pkg/journal"
	"github.com/anggasct/tracklock/pkg/observers"
	"github.com/anggasct/tracklock/pkg/segment"
	"github.com/anggasct/tracklock/pkg/topology"
	"github.com/anggasct/tracklock/pkg/train"
)

type fakeSource struct {
	registry *segment.Registry
}

func (f *fakeSource) RunID() string { return "run-1" }

func (f *fakeSource) Snapshots() []train.Snapshot {
	return []train.Snapshot{
		{ID: 1, Direction: topology.South, Speed: 10, State: train.StateBlocked, Holds: []topology.Segment{topology.StationLaneNorth}},
		{ID: 2, Direction: topology.North, Speed: 15, State: train.StateTraveling},
	}
}

func (f *fakeSource) Registry() *segment.Registry { return f.registry }

func (f *fakeSource) Metrics() map[string]observers.Metrics {
	return map[string]observers.Metrics{"train-1": {Errors: 2}}
}

type fakeJournal struct {
	entries []journal.Entry
	err     error
	limit   int
}

func (f *fakeJournal) Recent(ctx context.Context, limit int) ([]journal.Entry, error) {
	f.limit = limit
	return f.entries, f.err
}

func newTestServer(t *testing.T, j JournalReader) (*httptest.Server, *segment.Registry) {
	t.Helper()
	registry := segment.NewRegistry()
	server := httptest.NewServer(NewHandler(&fakeSource{registry: registry}, j).Router())
	t.Cleanup(server.Close)
	return server, registry
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestHealth(t *testing.T) {
	server, _ := newTestServer(t, nil)

	var body map[string]any
	resp := getJSON(t, server.URL+"/health", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "run-1", body["run"])
}

func TestGetTrains(t *testing.T) {
	server, _ := newTestServer(t, nil)

	var body struct {
		RunID  string `json:"runId"`
		Count  int    `json:"count"`
		Trains []struct {
			ID        int      `json:"id"`
			Direction string   `json:"direction"`
			State     string   `json:"state"`
			Holds     []string `json:"holds"`
		} `json:"trains"`
	}
	resp := getJSON(t, server.URL+"/api/trains", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, "South", body.Trains[0].Direction)
	assert.Equal(t, []string{"StationLaneNorth"}, body.Trains[0].Holds)
}

func TestGetTrain(t *testing.T) {
	server, _ := newTestServer(t, nil)

	var snapshot map[string]any
	resp := getJSON(t, server.URL+"/api/trains/2", &snapshot)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "North", snapshot["direction"])

	var errBody ErrorResponse
	resp = getJSON(t, server.URL+"/api/trains/9", &errBody)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Train not found", errBody.Error)

	resp = getJSON(t, server.URL+"/api/trains/abc", &errBody)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetSegments(t *testing.T) {
	server, registry := newTestServer(t, nil)
	require.True(t, registry.TryAcquire(topology.Crossroad, train.Owner(1)))

	var body SegmentsResponse
	resp := getJSON(t, server.URL+"/api/segments", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body.Segments, 6)
	assert.Equal(t, topology.Crossroad, body.Segments[0].Segment)
	assert.Equal(t, topology.StationLaneSouth, body.Segments[5].Segment)
	assert.Equal(t, "train-1", body.Segments[0].Holder)
	assert.Equal(t, 1, body.Segments[0].Grants)
	assert.Empty(t, body.Segments[1].Holder)
}

func TestGetMetrics(t *testing.T) {
	server, _ := newTestServer(t, nil)

	var body map[string]observers.Metrics
	resp := getJSON(t, server.URL+"/api/metrics", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, body["train-1"].Errors)
}

func TestGetJournal(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		server, _ := newTestServer(t, nil)
		resp := getJSON(t, server.URL+"/api/journal", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("entries with limit", func(t *testing.T) {
		j := &fakeJournal{entries: []journal.Entry{{ID: "a", Machine: "train-1", Event: "departed"}}}
		server, _ := newTestServer(t, j)

		var body JournalResponse
		resp := getJSON(t, server.URL+"/api/journal?limit=5", &body)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, 1, body.Count)
		assert.Equal(t, 5, j.limit)
	})

	t.Run("bad limit", func(t *testing.T) {
		server, _ := newTestServer(t, &fakeJournal{})
		resp := getJSON(t, server.URL+"/api/journal?limit=0", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("read failure", func(t *testing.T) {
		server, _ := newTestServer(t, &fakeJournal{err: errors.New("disk gone")})
		var body ErrorResponse
		resp := getJSON(t, server.URL+"/api/journal", &body)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, "disk gone", body.Details["internal"])
	})
}

func TestGetMachineDOT(t *testing.T) {
	server, _ := newTestServer(t, nil)

	resp, err := http.Get(server.URL + "/api/machine.dot?train=1")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "digraph StateMachine")
	assert.Contains(t, string(body), "penwidth=3 label=\"blocked\"")
}

func TestCORS(t *testing.T) {
	server, _ := newTestServer(t, nil)

	req, err := http.NewRequest(http.MethodGet, server.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
