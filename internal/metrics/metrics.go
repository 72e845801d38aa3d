// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "space"

var (
	Rooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rooms",
		Help:      "Rooms with at least one player.",
	})
	Players = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "players",
		Help:      "Joined (session, room) pairs.",
	})
	Sessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions",
		Help:      "Connected signaling sessions.",
	})
	Joins = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "joins_total",
		Help:      "Room join attempts by result.",
	}, []string{"result"})
	Producers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "producers_total",
		Help:      "Producer creations by kind and result.",
	}, []string{"kind", "result"})
	Consumers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "consumers_total",
		Help:      "Consumer creations by kind and result.",
	}, []string{"kind", "result"})
	BroadcastDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_dropped_total",
		Help:      "Broadcast frames dropped because of subscriber backpressure.",
	})
)

// Label values.
const (
	KindAudio = "audio"
	KindData  = "data"

	ResultOK        = "ok"
	ResultError     = "error"
	ResultDiscarded = "discarded"
	ResultFull      = "full"
)

func init() {
	prometheus.MustRegister(Rooms, Players, Sessions, Joins, Producers, Consumers, BroadcastDropped)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
