package lottery

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespaceLottery = "noloss"

const (
	opRegisterOracle = "register_oracle"
	opInitialize     = "initialize"
	opOpenRound      = "open_round"
	opEnter          = "enter"
	opLeave          = "leave"
	opRequest        = "request_randomness"
	opUpdate         = "update_result"
	opDeliver        = "deliver_randomness"
	opChoose         = "choose_winner"
	opSettle         = "settle"
	opDeploy         = "deploy"
	opUndeploy       = "undeploy"
	opClose          = "close"
)

// Metrics counts what the coordinator did. Counters are only updated once
// an operation committed, failures are counted per operation and error code.
type Metrics struct {
	Registry *prometheus.Registry

	operations *prometheus.CounterVec
	failures   *prometheus.CounterVec
	openRounds prometheus.Gauge
	entries    prometheus.Gauge
	paid       *prometheus.CounterVec
	deployed   prometheus.Counter
	redeemed   prometheus.Counter
}

// NewMetrics registers the collectors on a fresh registry, so that several
// coordinators of one process do not collide.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,

		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceLottery,
			Name:      "operations_total",
			Help:      "the number of committed operations",
		}, []string{"op"}),

		failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceLottery,
			Name:      "operations_failed_total",
			Help:      "the number of aborted operations",
		}, []string{"op", "kind"}),

		openRounds: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespaceLottery,
			Name:      "open_rounds",
			Help:      "the number of rounds that have not been closed",
		}),

		entries: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespaceLottery,
			Name:      "participants",
			Help:      "the number of participants enrolled and not yet paid back",
		}),

		paid: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceLottery,
			Name:      "paid_amount_total",
			Help:      "the amount paid out at settlement",
		}, []string{"role"}),

		deployed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceLottery,
			Name:      "deployed_amount_total",
			Help:      "the liquidity moved into the lending reserve",
		}),

		redeemed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceLottery,
			Name:      "redeemed_amount_total",
			Help:      "the liquidity received back from the lending reserve",
		}),
	}
}

func (m *Metrics) committed(op string) {
	m.operations.With(prometheus.Labels{"op": op}).Inc()
}

func (m *Metrics) failed(op, kind string) {
	m.failures.With(prometheus.Labels{"op": op, "kind": kind}).Inc()
}

func (m *Metrics) paidOut(winner bool, amount uint64) {
	role := "participant"
	if winner {
		role = "winner"
	}
	m.paid.With(prometheus.Labels{"role": role}).Add(float64(amount))
}

var published struct {
	sync.Mutex
	gatherers prometheus.Gatherers
}

func publish(m *Metrics) {
	published.Lock()
	defer published.Unlock()
	published.gatherers = append(published.gatherers, m.Registry)
}

// Gatherer collects the metrics of the services started in this process.
func Gatherer() prometheus.Gatherer {
	published.Lock()
	defer published.Unlock()
	return append(prometheus.Gatherers(nil), published.gatherers...)
}
