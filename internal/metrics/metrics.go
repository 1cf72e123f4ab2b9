// Package metrics collects and exposes Prometheus metrics for the game
// server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the session and gateway layers use to record events.
type Recorder interface {
	RecordSessionCreated()
	RecordSessionClaimed()
	RecordMoveCommitted()
	RecordTurnViolation()
	RecordFinalize()
	RecordBroadcast(topic string, delivered int)
	SetOnlineUsers(n int)
}

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	sessionsCreated prometheus.Counter
	sessionsClaimed prometheus.Counter
	movesCommitted  prometheus.Counter
	turnViolations  prometheus.Counter
	finalizations   prometheus.Counter
	broadcasts      *prometheus.CounterVec
	onlineUsers     prometheus.Gauge
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boardgame_sessions_created_total",
			Help: "Number of WAITING sessions created.",
		}),
		sessionsClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boardgame_sessions_claimed_total",
			Help: "Number of waiting sessions claimed by a second player.",
		}),
		movesCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boardgame_moves_committed_total",
			Help: "Number of moves committed to state storage.",
		}),
		turnViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boardgame_turn_violations_total",
			Help: "Number of moves rejected by the turn guard.",
		}),
		finalizations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boardgame_finalizations_total",
			Help: "Number of sessions finalized with a winner.",
		}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boardgame_broadcast_deliveries_total",
			Help: "Messages delivered to subscribers, by topic class.",
		}, []string{"topic"}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "boardgame_online_users",
			Help: "Users currently marked online by the presence registry.",
		}),
	}

	reg.MustRegister(
		c.sessionsCreated,
		c.sessionsClaimed,
		c.movesCommitted,
		c.turnViolations,
		c.finalizations,
		c.broadcasts,
		c.onlineUsers,
	)

	return c
}

func (c *Collector) RecordSessionCreated() { c.sessionsCreated.Inc() }
func (c *Collector) RecordSessionClaimed() { c.sessionsClaimed.Inc() }
func (c *Collector) RecordMoveCommitted()  { c.movesCommitted.Inc() }
func (c *Collector) RecordTurnViolation()  { c.turnViolations.Inc() }
func (c *Collector) RecordFinalize()       { c.finalizations.Inc() }

// RecordBroadcast records delivered fan-out messages. Session topics are
// collapsed to one label value to keep cardinality bounded.
func (c *Collector) RecordBroadcast(topic string, delivered int) {
	c.broadcasts.WithLabelValues(topicClass(topic)).Add(float64(delivered))
}

func (c *Collector) SetOnlineUsers(n int) { c.onlineUsers.Set(float64(n)) }

func topicClass(topic string) string {
	switch topic {
	case "presence", "friend-status":
		return topic
	default:
		return "session"
	}
}

// Handler returns the Prometheus scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop is a Recorder that discards everything; used in tests.
type Nop struct{}

func (Nop) RecordSessionCreated()       {}
func (Nop) RecordSessionClaimed()       {}
func (Nop) RecordMoveCommitted()        {}
func (Nop) RecordTurnViolation()        {}
func (Nop) RecordFinalize()             {}
func (Nop) RecordBroadcast(string, int) {}
func (Nop) SetOnlineUsers(int)          {}
