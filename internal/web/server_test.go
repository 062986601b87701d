package web

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/statefuse/internal"
	"github.com/vadiminshakov/statefuse/internal/domain"
	"github.com/vadiminshakov/statefuse/internal/events"
	"github.com/vadiminshakov/statefuse/internal/storage/decisions"
)

type stubEngine struct {
	last *domain.DecisionRecord
	lock *domain.Lock
}

func (s *stubEngine) CurrentState(context.Context) domain.MarketState   { return domain.StateBull }
func (s *stubEngine) ActiveStrategy(context.Context) domain.StrategyID { return domain.StrategyAttention }
func (s *stubEngine) Lock(context.Context) (*domain.Lock, error)       { return s.lock, nil }
func (s *stubEngine) LastDecision(context.Context) (*domain.DecisionRecord, error) {
	return s.last, nil
}
func (s *stubEngine) Stats(context.Context) (internal.Statistics, error) {
	return internal.Statistics{Engine: domain.EngineStats{Cycles: 4}}, nil
}
func (s *stubEngine) Position(context.Context) (*domain.Position, error) {
	return &domain.Position{Asset: "BTC", Size: decimal.NewFromInt(1)}, nil
}
func (s *stubEngine) RiskParameters() domain.RiskParameters {
	return domain.RiskParameters{MaxPositionSize: decimal.NewFromInt(2)}
}

type stubJournal struct {
	entries []decisions.Entry
}

func (j *stubJournal) EntriesAfter(index uint64) ([]decisions.Entry, error) {
	var out []decisions.Entry
	for _, e := range j.entries {
		if e.Index > index {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestServer_JSONEndpoints(t *testing.T) {
	engine := &stubEngine{lock: &domain.Lock{OwnerID: "cycle-1"}}
	srv := NewServer(":0", engine, nil, nil, http.NotFoundHandler(), nil)
	h := srv.Handler()

	get := func(path string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		return rr
	}

	rr := get("/state")
	require.Equal(t, http.StatusOK, rr.Code)
	var status Status
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.Equal(t, domain.StateBull, status.State)
	assert.Equal(t, domain.StrategyAttention, status.Strategy)
	require.NotNil(t, status.Lock)
	assert.Equal(t, "cycle-1", status.Lock.OwnerID)

	assert.Equal(t, http.StatusNotFound, get("/decision").Code)

	engine.last = &domain.DecisionRecord{CycleID: "c-9", Lock: domain.LockContention}
	rr = get("/decision")
	require.Equal(t, http.StatusOK, rr.Code)
	var rec domain.DecisionRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.Equal(t, "c-9", rec.CycleID)
	assert.Equal(t, domain.LockContention, rec.Lock)

	rr = get("/stats")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"cycles":4`)

	rr = get("/position")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"asset":"BTC"`)

	rr = get("/risk")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"max_position_size":"2"`)

	assert.Equal(t, http.StatusOK, get("/healthz").Code)
	assert.Equal(t, http.StatusNotFound, get("/metrics").Code, "metrics handler is mounted")
	assert.Equal(t, http.StatusServiceUnavailable, get("/decisions/stream").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/events/stream").Code)
}

func TestServer_EventStream(t *testing.T) {
	b := events.NewBroadcaster(8)
	ts := httptest.NewServer(NewServer("", &stubEngine{}, nil, b, nil, nil).Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events/stream", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	b.Emit(events.New(events.StateTransition, time.Now(), map[string]any{"to": "BULL"}))

	line, data := readEvent(t, bufio.NewReader(resp.Body))
	assert.Equal(t, "event: state_transition", line)
	assert.Contains(t, data, `"to":"BULL"`)
}

func TestServer_DecisionStream(t *testing.T) {
	journal := &stubJournal{entries: []decisions.Entry{
		{Index: 1, Decision: domain.DecisionRecord{CycleID: "a"}},
		{Index: 2, Decision: domain.DecisionRecord{CycleID: "b"}},
	}}
	ts := httptest.NewServer(NewServer("", &stubEngine{}, journal, nil, nil, nil).Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/decisions/stream", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	r := bufio.NewReader(resp.Body)
	for _, id := range []string{"a", "b"} {
		line, data := readEvent(t, r)
		assert.Equal(t, "event: decision", line)
		assert.Contains(t, data, `"cycle_id":"`+id+`"`)
	}
}

func readEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var name string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			name = line
		case strings.HasPrefix(line, "data: "):
			return name, strings.TrimPrefix(line, "data: ")
		}
	}
}
