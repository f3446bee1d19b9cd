// Package profiler - Rolling timing and value statistics with periodic log reports.
package profiler

import (
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// Options configures a Profiler.
type Options struct {
	// ReportInterval specifies how often to emit status reports (default: 5s).
	ReportInterval time.Duration
	// MaxSamples bounds the samples kept per series (default: 1000).
	MaxSamples int
	// Logger receives the reports.
	Logger zerolog.Logger
}

// Profiler tracks operation timings and recorded values and periodically
// logs them together with memory statistics. All methods are safe for
// concurrent use.
type Profiler struct {
	reportInterval time.Duration
	maxSamples     int
	log            zerolog.Logger

	mu        sync.Mutex
	startTime time.Time
	series    map[string]*Series

	stop    chan struct{}
	done    chan struct{}
	running bool
}

// Series is a bounded window of samples with running extrema over all samples.
type Series struct {
	values []float64
	sum    float64
	min    float64
	max    float64
	count  int64
}

// Stats summarizes a series.
type Stats struct {
	Count int64
	Mean  float64
	Min   float64
	Max   float64
	P95   float64
}

// New creates a profiler with the specified options.
func New(opts Options) *Profiler {
	if opts.ReportInterval == 0 {
		opts.ReportInterval = 5 * time.Second
	}
	if opts.MaxSamples == 0 {
		opts.MaxSamples = 1000
	}
	return &Profiler{
		reportInterval: opts.ReportInterval,
		maxSamples:     opts.MaxSamples,
		log:            opts.Logger,
		startTime:      time.Now(),
		series:         make(map[string]*Series),
	}
}

// Start begins periodic reporting. Calling Start on a running profiler is a no-op.
func (p *Profiler) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.startTime = time.Now()
	p.stop = make(chan struct{})
	p.done = make(chan struct{})

	go func(stop <-chan struct{}, done chan<- struct{}) {
		defer close(done)
		ticker := time.NewTicker(p.reportInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				p.Report()
			}
		}
	}(p.stop, p.done)
}

// Stop ends periodic reporting and waits for the reporter to exit.
func (p *Profiler) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	stop, done := p.stop, p.done
	p.mu.Unlock()

	close(stop)
	<-done
}

// Record adds value to the named series.
func (p *Profiler) Record(name string, value float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.series[name]
	if !ok {
		s = &Series{values: make([]float64, 0, min(p.maxSamples, 64)), min: value, max: value}
		p.series[name] = s
	}
	s.values = append(s.values, value)
	s.sum += value
	if len(s.values) > p.maxSamples {
		s.sum -= s.values[0]
		s.values = s.values[1:]
	}
	s.count++
	s.min = min(s.min, value)
	s.max = max(s.max, value)
}

// StartOperation begins timing an operation. The returned function records
// the elapsed milliseconds under name.
//
// @example
// done := prof.StartOperation("batch")
// examples, err := loader.FetchAll(ctx, ds, batch, 8)
// done()
func (p *Profiler) StartOperation(name string) func() {
	start := time.Now()
	return func() {
		p.Record(name, float64(time.Since(start).Microseconds())/1000)
	}
}

// Stats returns the summary of the named series, and false when nothing was recorded.
func (p *Profiler) Stats(name string) (Stats, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.series[name]
	if !ok {
		return Stats{}, false
	}
	return s.stats(), true
}

func (s *Series) stats() Stats {
	st := Stats{Count: s.count, Min: s.min, Max: s.max}
	if len(s.values) == 0 {
		return st
	}
	st.Mean = s.sum / float64(len(s.values))

	sorted := append([]float64(nil), s.values...)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted))*0.95+0.5) - 1
	st.P95 = sorted[max(0, min(idx, len(sorted)-1))]
	return st
}

// Report logs memory statistics and a summary of every series.
func (p *Profiler) Report() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	p.mu.Lock()
	uptime := time.Since(p.startTime)
	names := make([]string, 0, len(p.series))
	for name := range p.series {
		names = append(names, name)
	}
	sort.Strings(names)
	summaries := make([]Stats, len(names))
	for i, name := range names {
		summaries[i] = p.series[name].stats()
	}
	p.mu.Unlock()

	ev := p.log.Info().
		Dur("uptime", uptime.Truncate(time.Millisecond)).
		Int("goroutines", runtime.NumGoroutine()).
		Str("heap_alloc", humanize.IBytes(mem.HeapAlloc)).
		Str("sys", humanize.IBytes(mem.Sys)).
		Uint32("gc_cycles", mem.NumGC)
	for i, name := range names {
		st := summaries[i]
		ev = ev.Dict(name, zerolog.Dict().
			Int64("count", st.Count).
			Float64("mean", st.Mean).
			Float64("min", st.Min).
			Float64("max", st.Max).
			Float64("p95", st.P95))
	}
	ev.Msg("Profiler report")
}
