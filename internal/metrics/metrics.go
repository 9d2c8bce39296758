package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LedgerOperations counts ledger calls by operation and outcome
	LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shelfwise_ledger_operations_total",
		Help: "Ledger operations by operation and outcome.",
	}, []string{"op", "status"})

	// StockConflicts counts operations rejected because of a concurrent
	// mutation on the same rows
	StockConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shelfwise_ledger_conflicts_total",
		Help: "Ledger operations that lost a race and should be retried.",
	})
)

// RegisterCatalogStats registers catalog size gauges backed by the supplied
// callback. The callback runs on every scrape of the registry.
func RegisterCatalogStats(reg prometheus.Registerer, stats func() (items, inStock int64)) {
	factory := promauto.With(reg)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "shelfwise_catalog_items",
		Help: "Number of items in the catalog.",
	}, func() float64 {
		items, _ := stats()
		return float64(items)
	})
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "shelfwise_catalog_items_in_stock",
		Help: "Number of catalog items with available stock.",
	}, func() float64 {
		_, inStock := stats()
		return float64(inStock)
	})
}
