package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MetricsNamespace prefixes every exported metric.
const MetricsNamespace = "bitactor"

// MetricFunc returns a snapshot of metric name -> value. Names should be
// simple tokens using [a-zA-Z0-9_:]; a "_total" suffix marks a counter.
type MetricFunc func() map[string]float64

// snapshotCollector exposes one MetricFunc as a prometheus collector. The
// metric set is fixed by the first snapshot.
type snapshotCollector struct {
	fn    MetricFunc
	keys  []string
	descs map[string]*prometheus.Desc
}

func newSnapshotCollector(subsystem string, fn MetricFunc) *snapshotCollector {
	c := &snapshotCollector{fn: fn, descs: make(map[string]*prometheus.Desc)}
	for k := range fn() {
		c.keys = append(c.keys, k)
		c.descs[k] = prometheus.NewDesc(
			prometheus.BuildFQName(MetricsNamespace, sanitizeMetricToken(subsystem), sanitizeMetricToken(k)),
			fmt.Sprintf("%s %s", subsystem, strings.ReplaceAll(k, "_", " ")),
			nil, nil)
	}
	sort.Strings(c.keys)
	return c
}

func (c *snapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, k := range c.keys {
		ch <- c.descs[k]
	}
}

func (c *snapshotCollector) Collect(ch chan<- prometheus.Metric) {
	snapshot := c.fn()
	for _, k := range c.keys {
		v, ok := snapshot[k]
		if !ok {
			continue
		}
		kind := prometheus.GaugeValue
		if strings.HasSuffix(k, "_total") {
			kind = prometheus.CounterValue
		}
		ch <- prometheus.MustNewConstMetric(c.descs[k], kind, v)
	}
}

// NewMetricsRegistry registers one collector per entry on a private
// registry. Nil functions are skipped.
func NewMetricsRegistry(collectors map[string]MetricFunc) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	for name, fn := range collectors {
		if fn == nil {
			continue
		}
		if err := reg.Register(newSnapshotCollector(name, fn)); err != nil {
			return nil, fmt.Errorf("register %s metrics: %w", name, err)
		}
	}
	return reg, nil
}

// MetricsServer serves collectors on /metrics.
type MetricsServer struct {
	srv  *http.Server
	addr string
	done chan struct{}
}

// StartMetricsServer listens on addr (host:port, port 0 picks one) and serves
// collectors until Shutdown. A non-nil debug handler is mounted under /debug/.
func StartMetricsServer(addr string, collectors map[string]MetricFunc, debug http.Handler, log *zap.Logger) (*MetricsServer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	reg, err := NewMetricsRegistry(collectors)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		ErrorLog:      zap.NewStdLog(log),
		ErrorHandling: promhttp.ContinueOnError,
	}))
	if debug != nil {
		mux.Handle("/debug/", debug)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen %s: %w", addr, err)
	}
	s := &MetricsServer{
		srv:  &http.Server{Handler: mux, ReadHeaderTimeout: 3 * time.Second},
		addr: ln.Addr().String(),
		done: make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", zap.Error(err))
		}
	}()
	log.Info("metrics endpoint listening", zap.String("addr", s.addr))
	return s, nil
}

// Addr returns the bound address.
func (s *MetricsServer) Addr() string { return s.addr }

// Shutdown stops the server and waits for the serve loop to exit.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	select {
	case <-s.done:
	case <-ctx.Done():
	}
	return err
}

// sanitizeMetricToken replaces unsupported characters with '_', collapses
// repeats and prefixes a leading digit.
func sanitizeMetricToken(s string) string {
	out := strings.Map(func(c rune) rune {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == ':' {
			return c
		}
		return '_'
	}, s)
	for strings.Contains(out, "__") {
		out = strings.ReplaceAll(out, "__", "_")
	}
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "_" + out
	}
	return out
}
