package cache

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pithecene-io/ucdsync/log"
	"github.com/pithecene-io/ucdsync/metrics"
)

type recordingPurger struct {
	mu     sync.Mutex
	purged []Target
	fail   map[string]error
	delay  time.Duration

	inFlight atomic.Int32
	peak     atomic.Int32
}

func (p *recordingPurger) Purge(_ context.Context, cache, url string) error {
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		seen := p.peak.Load()
		if n <= seen || p.peak.CompareAndSwap(seen, n) {
			break
		}
	}
	time.Sleep(p.delay)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.fail[url]; ok {
		return err
	}
	p.purged = append(p.purged, Target{Cache: cache, URL: url})
	return nil
}

var testCaches = []NamedCache{
	{Name: "ucd-files", Routes: []string{
		"https://api.example/v1/files/{version}",
		"https://api.example/v1/versions/{version}/file-tree",
	}},
	{Name: "ucd-manifest", Routes: []string{
		"https://api.example/v1/versions/{version}/manifest",
		"https://api.example/v1/versions/{version}/manifest",
	}},
}

func TestInvalidator_Targets(t *testing.T) {
	inv := NewInvalidator(nil, testCaches, 0, nil, nil)
	got := inv.Targets("16.0.0")
	want := []Target{
		{"ucd-files", "https://api.example/v1/files/16.0.0"},
		{"ucd-files", "https://api.example/v1/versions/16.0.0/file-tree"},
		{"ucd-manifest", "https://api.example/v1/versions/16.0.0/manifest"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Targets = %v, want %v", got, want)
	}
}

func TestInvalidator_AllPurged(t *testing.T) {
	p := &recordingPurger{}
	collector := metrics.NewCollector("memory", "blob")
	report := NewInvalidator(p, testCaches, 2, log.NewNop(), collector).Invalidate(t.Context(), "16.0.0")

	if !report.OK() || len(report.Purged) != 3 {
		t.Fatalf("report = %+v", report)
	}
	if report.Version != "16.0.0" {
		t.Errorf("Version = %q", report.Version)
	}
	if got := collector.Snapshot().CachePurges; got != 3 {
		t.Errorf("CachePurges = %d, want 3", got)
	}
}

func TestInvalidator_FailuresAreSwallowed(t *testing.T) {
	boom := errors.New("edge unreachable")
	p := &recordingPurger{fail: map[string]error{
		"https://api.example/v1/files/15.0.0": boom,
	}}
	collector := metrics.NewCollector("memory", "blob")
	report := NewInvalidator(p, testCaches, 0, log.NewNop(), collector).Invalidate(t.Context(), "15.0.0")

	if report.OK() {
		t.Fatal("expected a failure in the report")
	}
	if len(report.Failures) != 1 || !errors.Is(report.Failures[0].Err, boom) {
		t.Errorf("Failures = %+v", report.Failures)
	}
	if len(report.Purged) != 2 {
		t.Errorf("Purged = %v, want the other 2 targets", report.Purged)
	}
	if got := collector.Snapshot().CachePurgeFailures; got != 1 {
		t.Errorf("CachePurgeFailures = %d, want 1", got)
	}
}

func TestInvalidator_BoundsConcurrency(t *testing.T) {
	var routes []string
	for i := 0; i < 12; i++ {
		routes = append(routes, "https://api.example/r"+string(rune('a'+i))+"/{version}")
	}
	p := &recordingPurger{delay: 10 * time.Millisecond}
	report := NewInvalidator(p, []NamedCache{{Name: "c", Routes: routes}}, 3, nil, nil).Invalidate(t.Context(), "1.1")

	if len(report.Purged) != 12 {
		t.Fatalf("Purged = %d, want 12", len(report.Purged))
	}
	if peak := p.peak.Load(); peak > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", peak)
	}
}

func TestInvalidator_CanceledContextReportsFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	report := NewInvalidator(&recordingPurger{}, testCaches, 1, nil, nil).Invalidate(ctx, "16.0.0")
	if len(report.Purged)+len(report.Failures) != 3 {
		t.Errorf("report accounts for %d targets, want 3", len(report.Purged)+len(report.Failures))
	}
}

func TestInvalidator_NoCaches(t *testing.T) {
	report := NewInvalidator(&recordingPurger{}, nil, 0, nil, nil).Invalidate(t.Context(), "16.0.0")
	if !report.OK() || len(report.Purged) != 0 {
		t.Errorf("report = %+v, want empty", report)
	}
}
