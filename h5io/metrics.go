package h5io

import (
	"time"

	"github.com/docker/go-metrics"
)

const namespacePrefix = "h5io"

var (
	// PoolNamespace holds handle pool metrics.
	PoolNamespace = metrics.NewNamespace(namespacePrefix, "pool", nil)

	// DatasetNamespace holds dataset operation metrics.
	DatasetNamespace = metrics.NewNamespace(namespacePrefix, "dataset", nil)

	poolOpens      = PoolNamespace.NewLabeledCounter("opens", "The number of files opened by pools", "mode")
	poolReuses     = PoolNamespace.NewCounter("reuses", "The number of lookups served by an already open handle")
	poolWrongModes = PoolNamespace.NewCounter("wrong_modes", "The number of lookups rejected for a mode conflict")
	poolCloses     = PoolNamespace.NewCounter("closes", "The number of handles closed by pools")
	poolGrowths    = PoolNamespace.NewCounter("growths", "The number of times a pool grew its slot array")
	poolOpen       = PoolNamespace.NewGauge("open_handles", "The number of handles held by pools", metrics.Unit("handles"))

	datasetLatency = DatasetNamespace.NewLabeledTimer("operation", "The latency of dataset operations", "operation")
	datasetErrors  = DatasetNamespace.NewLabeledCounter("errors", "The number of failed dataset operations", "operation", "code")
	datasetBytes   = DatasetNamespace.NewLabeledCounter("bytes", "The number of raw element bytes transferred", "direction")
)

func init() {
	metrics.Register(PoolNamespace)
	metrics.Register(DatasetNamespace)
}

// observe records the latency and outcome of one dataset operation.
func observe(op string, start time.Time, err error) {
	datasetLatency.WithValues(op).UpdateSince(start)
	if err != nil {
		datasetErrors.WithValues(op, CodeOf(err).String()).Inc(1)
	}
}
