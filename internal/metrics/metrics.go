// Package metrics exposes Prometheus counters for the harvest loop.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Fetches counts page fetches by outcome (ok, error, rendered).
	Fetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_fetches_total",
		Help: "The total number of page fetches, labeled by outcome.",
	}, []string{"outcome"})

	// ReleasesAdded counts release rows created during harvesting.
	ReleasesAdded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_releases_added_total",
		Help: "The total number of new release rows inserted.",
	})

	// DownloadsAdded counts download rows created or completed.
	DownloadsAdded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_downloads_added_total",
		Help: "The total number of download rows inserted or filled in.",
	})

	// TargetFailures counts targets whose run ended in an error.
	TargetFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_target_failures_total",
		Help: "The total number of targets that failed to harvest.",
	})

	// FoldersVisited counts version folders fetched and parsed.
	FoldersVisited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_folders_visited_total",
		Help: "The total number of version folders visited.",
	})
)

// Fetch outcome label values.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeRendered = "rendered"
)
