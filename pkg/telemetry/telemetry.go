// Package telemetry exposes the process metrics served on /metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesAppended counts messages written to thread logs, system
	// notices included.
	MessagesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_messages_appended_total",
		Help: "Messages appended to thread logs.",
	})

	// CallsStarted counts call attempts by type.
	CallsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_calls_started_total",
		Help: "Call sessions created.",
	}, []string{"type"})

	// CallsFinished counts terminal transitions by outcome
	// (ended, declined, missed).
	CallsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_calls_finished_total",
		Help: "Call sessions reaching a terminal state.",
	}, []string{"outcome"})

	// SignalsRelayed counts accepted signal envelopes by producer role.
	SignalsRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_signals_relayed_total",
		Help: "Signal envelopes accepted by the relay.",
	}, []string{"role"})

	// SignalsRejected counts envelopes refused after session termination.
	SignalsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_signals_rejected_total",
		Help: "Signal envelopes rejected because the session was closed.",
	})

	// NotificationsEmitted counts dispatched notification events.
	NotificationsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_notifications_emitted_total",
		Help: "Notification events emitted to the local stream.",
	})

	// NotificationsDropped counts push requests dropped by the bounded
	// queue or the per-user rate limiter.
	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_notifications_dropped_total",
		Help: "Push requests dropped before delivery.",
	})

	// OpenSubscriptions tracks live thread/relay subscriptions.
	OpenSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatrelay_open_subscriptions",
		Help: "Currently open state and signal subscriptions.",
	})
)
