// Command sse_load opens many concurrent subscribers against the status
// server's event or decision stream and reports delivery counts.
package main

import (
	"bufio"
	"context"
	"flag"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type stats struct {
	connected   atomic.Int64
	connectErrs atomic.Int64
	streamErrs  atomic.Int64
	events      atomic.Int64

	mu     sync.Mutex
	byType map[string]int64
}

func newStats() *stats {
	return &stats{byType: make(map[string]int64)}
}

func (s *stats) observe(eventType string) {
	s.events.Add(1)
	s.mu.Lock()
	s.byType[eventType]++
	s.mu.Unlock()
}

func (s *stats) fields() []zap.Field {
	fields := []zap.Field{
		zap.Int64("connected", s.connected.Load()),
		zap.Int64("connect_errs", s.connectErrs.Load()),
		zap.Int64("stream_errs", s.streamErrs.Load()),
		zap.Int64("events", s.events.Load()),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]string, 0, len(s.byType))
	for t := range s.byType {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fields = append(fields, zap.Int64("type_"+t, s.byType[t]))
	}
	return fields
}

// consume reads SSE frames until r fails. Comment lines and blank separators are skipped.
func consume(r io.Reader, s *stats) error {
	reader := bufio.NewReader(r)
	eventType := "message"
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "" || strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			s.observe(eventType)
			eventType = "message"
		}
	}
}

func subscribe(ctx context.Context, client *http.Client, url string, s *stats) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		s.connectErrs.Add(1)
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		s.connectErrs.Add(1)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		s.connectErrs.Add(1)
		return
	}

	s.connected.Add(1)
	if err := consume(resp.Body, s); err != nil && ctx.Err() == nil {
		s.streamErrs.Add(1)
	}
}

func main() {
	var (
		targetURL   string
		connections int
		duration    time.Duration
		rampUp      time.Duration
	)

	flag.StringVar(&targetURL, "url", "http://localhost:9090/events/stream", "SSE endpoint (/events/stream or /decisions/stream)")
	flag.IntVar(&connections, "conns", 500, "number of concurrent subscribers")
	flag.DurationVar(&duration, "dur", time.Minute, "test duration, 0 runs until interrupted")
	flag.DurationVar(&rampUp, "ramp", 0, "spread connection starts across this window")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if connections <= 0 {
		logger.Fatal("invalid conns", zap.Int("conns", connections))
	}
	if rampUp == 0 && connections > 100 {
		rampUp = max(time.Duration(connections/500)*time.Second, time.Second)
	}

	logger.Info("starting SSE load",
		zap.String("url", targetURL),
		zap.Int("conns", connections),
		zap.Duration("duration", duration),
		zap.Duration("ramp", rampUp),
	)

	client := &http.Client{
		Transport: &http.Transport{
			MaxConnsPerHost:     connections + 100,
			MaxIdleConnsPerHost: connections + 100,
			DisableCompression:  true,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	s := newStats()
	start := time.Now()

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logger.Info("status", append(s.fields(), zap.Duration("elapsed", time.Since(start).Truncate(time.Second)))...)
			}
		}
	}()

	var interval time.Duration
	if rampUp > 0 {
		interval = rampUp / time.Duration(connections)
	}

	g := new(errgroup.Group)
	for i := 0; i < connections && ctx.Err() == nil; i++ {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(interval):
			}
		}
		g.Go(func() error {
			subscribe(ctx, client, targetURL, s)
			return nil
		})
	}
	_ = g.Wait()

	elapsed := max(time.Since(start), time.Millisecond)
	logger.Info("done", append(s.fields(),
		zap.Duration("elapsed", elapsed.Truncate(time.Millisecond)),
		zap.Float64("events_per_sec", float64(s.events.Load())/elapsed.Seconds()),
	)...)

	if s.connected.Load() == 0 {
		os.Exit(1)
	}
}
