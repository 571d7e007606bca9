package metricskey

import "github.com/effective-security/metrics"

// Perf
var (
	// PerfCryptoOperation is perf metric
	PerfCryptoOperation = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_crypto",
		Help:         "perf_crypto provides the sample metrics of crypto sessions and operations",
		RequiredTags: []string{"device", "action"},
	}

	// PerfDequeueWait is perf metric
	PerfDequeueWait = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_crypto_dequeue",
		Help:         "perf_crypto_dequeue provides the sample metrics of waiting for completed crypto operations",
		RequiredTags: []string{"device"},
	}
)

// Metrics returns slice of metrics from this repo
var Metrics = []*metrics.Describe{
	&PerfCryptoOperation,
	&PerfDequeueWait,
}
