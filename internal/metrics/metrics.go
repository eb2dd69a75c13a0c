// Package metrics registers the prometheus collectors shared by the services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LedgerOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_ledger_operations_total",
			Help: "Ledger operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	// LedgerRetries counts transactions re-run after a version conflict.
	LedgerRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_ledger_conflict_retries_total",
			Help: "Ledger transactions retried after a concurrency conflict",
		},
		[]string{"operation"},
	)

	OrderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_order_transitions_total",
			Help: "Order state transitions applied",
		},
		[]string{"domain", "event", "to"},
	)

	BidsPlaced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_auction_bids_total",
			Help: "Auction bids by outcome",
		},
		[]string{"outcome"},
	)

	AuctionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_auctions_closed_total",
			Help: "Auctions closed by result",
		},
		[]string{"result"},
	)

	WebhooksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_payment_webhooks_total",
			Help: "Payment webhooks by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	PublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_notification_publish_errors_total",
			Help: "Failed notification deliveries by sink",
		},
		[]string{"sink"},
	)
)
