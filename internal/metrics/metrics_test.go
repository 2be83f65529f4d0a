package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncStart("a")
	IncStart("a")
	IncStop("a")
	IncKill("a")
	ObserveExit("a", "completed", 1.25)
	IncOutputChunk("a", "stdout")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"devdash_script_starts_total":         false,
		"devdash_script_stops_total":          false,
		"devdash_script_kills_total":          false,
		"devdash_script_exits_total":          false,
		"devdash_script_run_duration_seconds": false,
		"devdash_script_running":              false,
		"devdash_script_output_chunks_total":  false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
	assert.Equal(t, float64(0), testutil.ToFloat64(running.WithLabelValues("a")))
}

func TestHandlerServesMetrics(t *testing.T) {
	regOK.Store(false)
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	IncStart("x")

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), "devdash_script_starts_total") {
		t.Fatalf("metrics output missing starts_total")
	}
}

func TestConcurrentIncrements(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			IncStart("c")
			IncStop("c")
			RecordStateTransition("c", "running", "stopping")
		}()
	}
	wg.Wait()
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}

func TestForgetDropsSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))

	IncStart("gone")
	before := testutil.CollectAndCount(running)
	require.GreaterOrEqual(t, before, 1)

	Forget("gone")
	assert.Equal(t, before-1, testutil.CollectAndCount(running))
}

func TestMetricsBeforeRegister(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	IncStart("test")
	IncStop("test")
	IncKill("test")
	ObserveExit("test", "error", 1.0)
	IncOutputChunk("test", "stderr")
	RecordStateTransition("test", "idle", "starting")
	SetCurrentState("test", "running", true)
	Forget("test")
	assert.False(t, Enabled())
}

func TestRegisterError(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	err := Register(&errorRegisterer{})
	if err == nil {
		t.Fatal("Register should return error from failing registerer")
	}
	if err.Error() != "test registration error" {
		t.Fatalf("unexpected error: %v", err)
	}
}

type errorRegisterer struct{}

func (e *errorRegisterer) Register(prometheus.Collector) error {
	return errors.New("test registration error")
}
func (e *errorRegisterer) MustRegister(...prometheus.Collector) {}
func (e *errorRegisterer) Unregister(prometheus.Collector) bool { return false }

func TestProcessCollectorSamplesSelf(t *testing.T) {
	c := NewProcessMetricsCollector(ProcessMetricsConfig{Enabled: true, Interval: 10 * time.Millisecond})
	reg := prometheus.NewRegistry()
	require.NoError(t, c.RegisterMetrics(reg))

	c.Collect(map[string]int32{"self": int32(os.Getpid()), "none": 0})
	m, ok := c.Get("self")
	require.True(t, ok)
	assert.Equal(t, int32(os.Getpid()), m.PID)
	assert.Greater(t, m.MemoryRSS, uint64(0))
	_, ok = c.Get("none")
	assert.False(t, ok)

	c.Collect(map[string]int32{})
	assert.Empty(t, c.All())
}

func TestProcessCollectorStartStop(t *testing.T) {
	c := NewProcessMetricsCollector(ProcessMetricsConfig{Enabled: true, Interval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.Start(ctx, func() map[string]int32 { return map[string]int32{"self": int32(os.Getpid())} })
	require.Eventually(t, func() bool {
		_, ok := c.Get("self")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	c.Stop()
	c.Stop()
}

func TestDisabledProcessCollector(t *testing.T) {
	c := NewProcessMetricsCollector(ProcessMetricsConfig{})
	assert.False(t, c.IsEnabled())
	assert.NoError(t, c.RegisterMetrics(prometheus.NewRegistry()))
	c.Start(context.Background(), func() map[string]int32 { return nil })
	c.Stop()
}

func TestSystemCollector(t *testing.T) {
	c := NewSystemCollector()
	st, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Contains(t, []string{"healthy", "warning"}, st.Status)
	assert.Greater(t, st.MemoryUsage.Total, uint64(0))
	assert.GreaterOrEqual(t, st.MemoryUsage.Percentage, 0)
	assert.GreaterOrEqual(t, st.Uptime, 0.0)
}
