package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// relayPeers tracks open relay connections
	relayPeers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cellrope_relay_peers",
		Help: "Open websocket connections on the relay",
	})

	// relayOps counts ops received by the relay by outcome
	relayOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cellrope_relay_ops_total",
		Help: "Ops received by the relay by outcome (relayed, journal_error)",
	}, []string{"result"})

	// relayDropped counts peers disconnected for falling behind
	relayDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cellrope_relay_dropped_peers_total",
		Help: "Peers disconnected because their send buffer was full",
	})
)
