package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Watcher metrics
	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rafflemarkets_chain_events_total",
			Help: "Total number of chain events decoded, by event type and status",
		},
		[]string{"event", "status"}, // position_update/..., ok/failed
	)

	PollErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rafflemarkets_watcher_poll_errors_total",
			Help: "Total number of failed watcher polls, by subscription",
		},
		[]string{"subscription"},
	)

	WatcherBlockHeight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rafflemarkets_watcher_block_height",
			Help: "Last processed block number per subscription",
		},
		[]string{"subscription"},
	)

	// Reconciler metrics
	MarketCreations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rafflemarkets_market_creations_total",
			Help: "Market creation outcomes, by result",
		},
		[]string{"result"}, // created/discovered/exists/unauthorized/failed/deduped
	)

	// Pricing metrics
	PricingUpdates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rafflemarkets_pricing_updates_total",
			Help: "Total number of hybrid price recomputations",
		},
	)

	PricingSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rafflemarkets_pricing_subscribers",
			Help: "Number of live pricing subscribers across all markets",
		},
	)

	// Maker metrics
	TradesExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rafflemarkets_maker_trades_total",
			Help: "Maker fills, by direction and outcome side",
		},
		[]string{"direction", "side"}, // buy/sell, YES/NO
	)

	TradeNotional = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rafflemarkets_maker_notional_total",
			Help: "Cumulative traded notional in collateral units",
		},
		[]string{"direction"},
	)

	// History metrics
	HistoryAppendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rafflemarkets_history_append_failures_total",
			Help: "Historical point appends that failed and were swallowed",
		},
	)

	// Stream metrics
	StreamClients = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rafflemarkets_stream_clients",
			Help: "Connected streaming clients, by transport",
		},
		[]string{"transport"}, // sse/ws
	)

	StreamDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rafflemarkets_stream_dropped_updates_total",
			Help: "Updates dropped for slow streaming clients, by transport",
		},
		[]string{"transport"},
	)
)

func RecordEvent(event, status string) {
	EventsProcessed.WithLabelValues(event, status).Inc()
}

func RecordPollError(subscription string) {
	PollErrors.WithLabelValues(subscription).Inc()
}

func RecordBlockHeight(subscription string, height uint64) {
	WatcherBlockHeight.WithLabelValues(subscription).Set(float64(height))
}

func RecordCreation(result string) {
	MarketCreations.WithLabelValues(result).Inc()
}

func RecordTrade(direction, side string, notional float64) {
	TradesExecuted.WithLabelValues(direction, side).Inc()
	TradeNotional.WithLabelValues(direction).Add(notional)
}
