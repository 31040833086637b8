package ranking

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var tablesComputed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "skylight_ranking_tables_computed_total",
	Help: "Number of per-model per-sparsity ranking tables computed",
})
