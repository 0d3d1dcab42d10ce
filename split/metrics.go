package split

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts written and failed tiles. A nil *Metrics records nothing.
type Metrics struct {
	tilesWritten prometheus.Counter
	tileErrors   prometheus.Counter
	writeSeconds prometheus.Histogram
}

// NewMetrics creates the split metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		tilesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rasterblock_tiles_written_total",
			Help: "Number of tiles written.",
		}),
		tileErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rasterblock_tile_errors_total",
			Help: "Number of tiles that failed to be read or written.",
		}),
		writeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rasterblock_tile_write_seconds",
			Help:    "Time to read a tile window and write the tile dataset.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}
	for _, c := range []prometheus.Collector{m.tilesWritten, m.tileErrors, m.writeSeconds} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) written(d time.Duration) {
	if m == nil {
		return
	}
	m.tilesWritten.Inc()
	m.writeSeconds.Observe(d.Seconds())
}

func (m *Metrics) failed() {
	if m == nil {
		return
	}
	m.tileErrors.Inc()
}
