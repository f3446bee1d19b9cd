package profiler

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_Stats(t *testing.T) {
	p := New(Options{MaxSamples: 4})
	for _, v := range []float64{10, 2, 7, 1, 5, 3} {
		p.Record("candidates", v)
	}

	st, ok := p.Stats("candidates")
	require.True(t, ok)
	assert.Equal(t, int64(6), st.Count)
	// Extrema span every sample, the mean only the window {7, 1, 5, 3}.
	assert.Equal(t, float64(1), st.Min)
	assert.Equal(t, float64(10), st.Max)
	assert.InDelta(t, 4.0, st.Mean, 1e-9)
	assert.Equal(t, float64(7), st.P95)

	_, ok = p.Stats("missing")
	assert.False(t, ok)
}

func TestStartOperation(t *testing.T) {
	p := New(Options{})
	done := p.StartOperation("fetch")
	time.Sleep(2 * time.Millisecond)
	done()

	st, ok := p.Stats("fetch")
	require.True(t, ok)
	assert.Equal(t, int64(1), st.Count)
	assert.GreaterOrEqual(t, st.Mean, 2.0)
}

func TestRecord_Concurrent(t *testing.T) {
	p := New(Options{})
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				p.Record("v", float64(i))
			}
		}()
	}
	wg.Wait()

	st, _ := p.Stats("v")
	assert.Equal(t, int64(800), st.Count)
}

func TestReport(t *testing.T) {
	var buf bytes.Buffer
	p := New(Options{ReportInterval: 5 * time.Millisecond, Logger: zerolog.New(&buf)})
	p.Record("candidates", 42)

	p.Start()
	p.Start()
	time.Sleep(30 * time.Millisecond)
	p.Stop()
	p.Stop()

	out := buf.String()
	assert.Contains(t, out, "Profiler report")
	assert.Contains(t, out, `"candidates":{"count":1`)
	assert.Contains(t, out, "heap_alloc")
}
