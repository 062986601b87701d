// Package web serves read-only engine status, Prometheus metrics and SSE streams.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/statefuse/internal"
	"github.com/vadiminshakov/statefuse/internal/domain"
	"github.com/vadiminshakov/statefuse/internal/events"
	"github.com/vadiminshakov/statefuse/internal/storage/decisions"
)

const (
	journalPollInterval = 2 * time.Second
	heartbeatInterval   = 30 * time.Second
	shutdownTimeout     = 5 * time.Second
)

// EngineReader the engine queries served over HTTP.
type EngineReader interface {
	CurrentState(ctx context.Context) domain.MarketState
	ActiveStrategy(ctx context.Context) domain.StrategyID
	Lock(ctx context.Context) (*domain.Lock, error)
	LastDecision(ctx context.Context) (*domain.DecisionRecord, error)
	Stats(ctx context.Context) (internal.Statistics, error)
	Position(ctx context.Context) (*domain.Position, error)
	RiskParameters() domain.RiskParameters
}

// DecisionReader journal of past decisions.
type DecisionReader interface {
	EntriesAfter(index uint64) ([]decisions.Entry, error)
}

// Status body of GET /state.
type Status struct {
	State    domain.MarketState `json:"state"`
	Strategy domain.StrategyID  `json:"strategy"`
	Lock     *domain.Lock       `json:"lock,omitempty"`
}

// Server exposes engine status as JSON plus two SSE streams.
type Server struct {
	Addr    string
	Engine  EngineReader
	Journal DecisionReader
	Events  *events.Broadcaster
	Metrics http.Handler

	l *zap.Logger
}

// NewServer creates a server. journal, broadcaster and metrics may be nil;
// their endpoints then answer 503.
func NewServer(addr string, engine EngineReader, journal DecisionReader, broadcaster *events.Broadcaster, metrics http.Handler, l *zap.Logger) *Server {
	if l == nil {
		l = zap.NewNop()
	}
	return &Server{
		Addr:    addr,
		Engine:  engine,
		Journal: journal,
		Events:  broadcaster,
		Metrics: metrics,
		l:       l.With(zap.String("component", "web")),
	}
}

// Handler returns the routed endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/state", s.handleState)
	mux.HandleFunc("/decision", s.handleDecision)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/position", s.handlePosition)
	mux.HandleFunc("/risk", s.handleRisk)
	mux.HandleFunc("/decisions/stream", s.handleDecisionStream)
	mux.HandleFunc("/events/stream", s.handleEventStream)
	if s.Metrics != nil {
		mux.Handle("/metrics", s.Metrics)
	}
	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.l.Info("serving status endpoints", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ok")
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lock, err := s.Engine.Lock(ctx)
	if err != nil {
		s.l.Warn("failed to read lock", zap.Error(err))
	}
	s.writeJSON(w, Status{
		State:    s.Engine.CurrentState(ctx),
		Strategy: s.Engine.ActiveStrategy(ctx),
		Lock:     lock,
	})
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Engine.LastDecision(r.Context())
	switch {
	case err != nil:
		s.fail(w, "failed to load last decision", err)
	case rec == nil:
		http.Error(w, "no decision yet", http.StatusNotFound)
	default:
		s.writeJSON(w, rec)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Engine.Stats(r.Context())
	if err != nil {
		s.fail(w, "failed to load stats", err)
		return
	}
	s.writeJSON(w, stats)
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	pos, err := s.Engine.Position(r.Context())
	if err != nil {
		s.fail(w, "failed to load position", err)
		return
	}
	s.writeJSON(w, pos)
}

func (s *Server) handleRisk(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.Engine.RiskParameters())
}

func (s *Server) handleDecisionStream(w http.ResponseWriter, r *http.Request) {
	if s.Journal == nil {
		http.Error(w, "decision journal not available", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := startStream(w)
	if !ok {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	poll := time.NewTicker(journalPollInterval)
	defer poll.Stop()

	lastIndex := uint64(0)
	send := func() error {
		entries, err := s.Journal.EntriesAfter(lastIndex)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := writeEvent(w, "decision", entry.Decision); err != nil {
				return err
			}
			lastIndex = entry.Index
		}
		flusher.Flush()
		return nil
	}

	if err := send(); err != nil {
		s.l.Error("decision stream initial load", zap.Error(err))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case <-poll.C:
			if err := send(); err != nil {
				s.l.Warn("decision stream poll", zap.Error(err))
			}
		}
	}
}

func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.Events == nil {
		http.Error(w, "event stream not available", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := startStream(w)
	if !ok {
		return
	}

	ch := s.Events.Subscribe()
	defer s.Events.Unsubscribe(ch)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	// the headers go out now so clients see the stream open before the first event
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(w, string(e.Type), e); err != nil {
				s.l.Warn("event stream write", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func startStream(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return flusher, true
}

func writeEvent(w http.ResponseWriter, name string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload)
	return err
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.l.Warn("failed to write response", zap.Error(err))
	}
}

func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	s.l.Error(msg, zap.Error(err))
	http.Error(w, msg, http.StatusInternalServerError)
}
