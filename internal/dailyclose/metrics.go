package dailyclose

import "github.com/prometheus/client_golang/prometheus"

// Metrics tracks close executions and no-show resolution.
type Metrics struct {
	closes  *prometheus.CounterVec
	noShows prometheus.Counter
}

// NewMetrics registers the daily close collectors on reg. A nil registerer
// skips registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		closes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fairway_daily_close_total",
			Help: "Daily close executions partitioned by result",
		}, []string{"result"}),
		noShows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fairway_noshow_marked_total",
			Help: "Bookings transitioned to no_show",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.closes, m.noShows)
	}
	return m
}

func (m *Metrics) observeClose(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = string(KindOf(err))
	}
	m.closes.WithLabelValues(result).Inc()
}

func (m *Metrics) addNoShows(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.noShows.Add(float64(n))
}
