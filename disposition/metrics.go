package disposition

import (
	"github.com/matcontt/tindercam/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports disposition activity to Prometheus.
//
//   - tindercam_verdicts_total{verdict} gesture verdicts
//   - tindercam_signals_total{signal} orchestrator signals
//   - tindercam_evictions_total photos evicted from a full trash
//   - tindercam_collection_photos{collection} current collection sizes
//   - tindercam_collection_capacity{collection} configured capacities
type Metrics struct {
	VerdictsTotal  *prometheus.CounterVec
	SignalsTotal   *prometheus.CounterVec
	EvictionsTotal prometheus.Counter
	Photos         *prometheus.GaugeVec
	Capacity       *prometheus.GaugeVec
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		VerdictsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tindercam_verdicts_total",
				Help: "Total number of released gestures by verdict",
			},
			[]string{"verdict"},
		),
		SignalsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tindercam_signals_total",
				Help: "Total number of orchestrator signals",
			},
			[]string{"signal"},
		),
		EvictionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "tindercam_evictions_total",
			Help: "Total number of photos evicted from a full trash",
		}),
		Photos: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tindercam_collection_photos",
				Help: "Number of photos held by each collection",
			},
			[]string{"collection"},
		),
		Capacity: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tindercam_collection_capacity",
				Help: "Capacity of each collection",
			},
			[]string{"collection"},
		),
	}
}

// Observe records one orchestrator event. It is meant to be passed to
// Orchestrator.Subscribe.
func (m *Metrics) Observe(e Event) {
	m.SignalsTotal.WithLabelValues(string(e.Signal)).Inc()
	if e.Signal == SignalClassified {
		m.VerdictsTotal.WithLabelValues(e.Verdict.String()).Inc()
	}
	if e.Evicted != nil {
		m.EvictionsTotal.Inc()
	}
	m.SetCounts(e.Counts)
}

func (m *Metrics) SetCounts(c domain.Counts) {
	m.Photos.WithLabelValues(string(domain.Gallery)).Set(float64(c.Gallery))
	m.Photos.WithLabelValues(string(domain.Trash)).Set(float64(c.Trash))
	m.Capacity.WithLabelValues(string(domain.Gallery)).Set(float64(c.GalleryCapacity))
	m.Capacity.WithLabelValues(string(domain.Trash)).Set(float64(c.TrashCapacity))
}
