package cache

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts cache traffic.  A nil *Metrics counts nothing.
type Metrics struct {
	Hits      prometheus.Counter
	Misses    prometheus.Counter
	Evictions prometheus.Counter
	Spills    prometheus.Counter
}

// NewMetrics builds the counters for the cache called name and
// registers them with reg, if reg is not nil.  Counters that are
// already registered under the same name are reused.
func NewMetrics(reg prometheus.Registerer, name string) (m *Metrics, err error) {
	mk := func(what, help string) (c prometheus.Counter) {
		if err != nil {
			return
		}
		c = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "revbase",
			Subsystem:   "cache",
			Name:        what + "_total",
			Help:        help,
			ConstLabels: prometheus.Labels{"cache": name},
		})
		if reg == nil {
			return
		}
		err = reg.Register(c)
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			c = are.ExistingCollector.(prometheus.Counter)
			err = nil
		}
		return
	}
	m = &Metrics{
		Hits:      mk("hits", "Cache lookups that found an entry."),
		Misses:    mk("misses", "Cache lookups that found nothing."),
		Evictions: mk("evictions", "Entries pushed out of an LRU."),
		Spills:    mk("spills", "Entries written to a transaction log."),
	}
	if err != nil {
		return nil, err
	}
	return
}

func (m *Metrics) lookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.Hits.Inc()
	} else {
		m.Misses.Inc()
	}
}

func (m *Metrics) evicted() {
	if m != nil {
		m.Evictions.Inc()
	}
}

func (m *Metrics) spilled() {
	if m != nil {
		m.Spills.Inc()
	}
}
