package logger

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SamplingConfig configures log sampling. Once a level+message pair has been
// logged Threshold times within a Tick, only every 1/Rate-th occurrence is
// kept until the tick ends.
type SamplingConfig struct {
	Enabled   bool
	Tick      time.Duration
	Threshold uint64
	Rate      float64
	// ErrorRate applies to warn and error records.
	ErrorRate float64
	// MaxKeys bounds the number of distinct messages tracked per tick.
	MaxKeys int
	// NeverSample lists message prefixes that are always logged.
	NeverSample []string
	// EnableMetrics counts dropped records in logger_logs_dropped_total.
	EnableMetrics bool
}

const (
	defaultSamplingTick      = time.Second
	defaultSamplingThreshold = 100
	defaultSamplingMaxKeys   = 10000
)

type samplingState struct {
	mu        sync.Mutex
	counts    map[string]uint64
	windowEnd time.Time
}

type samplingHandler struct {
	next  slog.Handler
	cfg   SamplingConfig
	state *samplingState
	now   func() time.Time
}

// NewSamplingHandler wraps h with threshold sampling. It returns h unchanged
// when sampling is disabled.
func NewSamplingHandler(h slog.Handler, cfg SamplingConfig) slog.Handler {
	if !cfg.Enabled {
		return h
	}
	if cfg.Tick <= 0 {
		cfg.Tick = defaultSamplingTick
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = defaultSamplingThreshold
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = defaultSamplingMaxKeys
	}
	return &samplingHandler{
		next:  h,
		cfg:   cfg,
		state: &samplingState{counts: make(map[string]uint64)},
		now:   time.Now,
	}
}

func (h *samplingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *samplingHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, prefix := range h.cfg.NeverSample {
		if strings.HasPrefix(r.Message, prefix) {
			return h.next.Handle(ctx, r)
		}
	}

	count, tracked := h.observe(r.Level.String() + ":" + r.Message)
	if !tracked || count <= h.cfg.Threshold {
		return h.next.Handle(ctx, r)
	}

	rate := h.cfg.Rate
	if r.Level >= slog.LevelWarn {
		rate = h.cfg.ErrorRate
	}
	if keep(count, rate) {
		return h.next.Handle(ctx, r)
	}

	if h.cfg.EnableMetrics {
		droppedCounter.Add(1)
		logsDroppedTotal.WithLabelValues(levelLabel(r.Level)).Inc()
	}
	return nil
}

// observe increments the counter for key. tracked is false when the key table
// is full, in which case the record bypasses sampling.
func (h *samplingHandler) observe(key string) (count uint64, tracked bool) {
	s := h.state
	s.mu.Lock()
	defer s.mu.Unlock()

	now := h.now()
	if now.After(s.windowEnd) {
		clear(s.counts)
		s.windowEnd = now.Add(h.cfg.Tick)
	}
	if _, ok := s.counts[key]; !ok && len(s.counts) >= h.cfg.MaxKeys {
		return 0, false
	}
	s.counts[key]++
	return s.counts[key], true
}

func keep(count uint64, rate float64) bool {
	switch {
	case rate >= 1:
		return true
	case rate <= 0:
		return false
	}
	return count%uint64(1/rate) == 0
}

func (h *samplingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &samplingHandler{next: h.next.WithAttrs(attrs), cfg: h.cfg, state: h.state, now: h.now}
}

func (h *samplingHandler) WithGroup(name string) slog.Handler {
	return &samplingHandler{next: h.next.WithGroup(name), cfg: h.cfg, state: h.state, now: h.now}
}

var droppedCounter atomic.Uint64

// DroppedTotal reports how many records sampling has discarded since start.
func DroppedTotal() uint64 {
	return droppedCounter.Load()
}

var (
	logsDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vexscan",
		Subsystem: "logger",
		Name:      "logs_dropped_total",
		Help:      "Log records dropped by sampling",
	}, []string{"level"})

	registerOnce sync.Once
)

// RegisterMetrics registers the dropped-records counter with registry, or
// with the default registerer when registry is nil. Later calls are no-ops.
func RegisterMetrics(registry prometheus.Registerer) {
	registerOnce.Do(func() {
		if registry == nil {
			registry = prometheus.DefaultRegisterer
		}
		_ = registry.Register(logsDroppedTotal)
	})
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn"
	case level >= slog.LevelInfo:
		return "info"
	}
	return "debug"
}
