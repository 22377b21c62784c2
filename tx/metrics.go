package tx

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Verification outcome label values.
const (
	outcomeValid   = "valid"
	outcomeInvalid = "invalid"
)

var (
	txCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "walletd_transactions_created_total",
		Help: "Number of outbound transactions broadcast to the chain.",
	})

	txVerified = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "walletd_transactions_verified_total",
		Help: "Number of inbound verification requests by outcome.",
	}, []string{"outcome"})
)
