package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	settlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_settlements_total",
		Help: "Payment settlements by outcome",
	}, []string{"outcome"})

	refundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_refunds_total",
		Help: "Booking refunds by outcome",
	}, []string{"outcome"})

	withdrawalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_withdrawals_total",
		Help: "Withdrawal operations by step and outcome",
	}, []string{"op", "outcome"})

	duplicatesAbsorbed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_duplicate_notifications_absorbed_total",
		Help: "Gateway notifications absorbed by the idempotency guard",
	})

	conflictRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_transaction_conflict_retries_total",
		Help: "Retries caused by concurrent-write contention",
	})
)
