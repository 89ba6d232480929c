package gateway

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Requests    *prometheus.CounterVec
	Refreshes   *prometheus.CounterVec
	SessionEnds prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foodie",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Outbound API responses by status code.",
		}, []string{"code"}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foodie",
			Subsystem: "gateway",
			Name:      "token_refreshes_total",
			Help:      "Token refresh attempts by outcome.",
		}, []string{"outcome"}),
		SessionEnds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "foodie",
			Subsystem: "gateway",
			Name:      "forced_logouts_total",
			Help:      "Sessions ended by the gateway.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Requests, m.Refreshes, m.SessionEnds)
	}
	return m
}

func (m *Metrics) response(status int) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(strconv.Itoa(status)).Inc()
}

func (m *Metrics) refresh(err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.Refreshes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) sessionEnded() {
	if m == nil {
		return
	}
	m.SessionEnds.Inc()
}
