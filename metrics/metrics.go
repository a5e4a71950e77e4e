package metrics

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "crucible"
)

var (
	Debug                bool = true
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	testAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "test_attempts_total",
		Help:      "Count of test attempts",
	}, []string{
		"run_id",
		"name",
		"target",
		"result",
	})

	runResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_results",
		Help:      "Result of test runs",
	}, []string{
		"run_id",
		"result",
	})

	runTestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_tests_total",
		Help:      "Total number of tests executed in a run",
	}, []string{
		"run_id",
	})

	runTestsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_tests_failed",
		Help:      "Number of failed tests in a run",
	}, []string{
		"run_id",
	})

	runTestsFlaky = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_tests_flaky",
		Help:      "Number of flaky tests in a run",
	}, []string{
		"run_id",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration",
		Help:      "Duration of a test run in seconds",
	}, []string{
		"run_id",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

func RecordTest(runID string, name string, target string, success bool) {
	result := "fail"
	if success {
		result = "pass"
	}
	if Debug {
		log.Debug("metric inc",
			"m", "test_attempts_total",
			"run_id", runID,
			"name", name,
			"target", target,
			"result", result)
	}
	testAttemptsTotal.WithLabelValues(runID, name, target, result).Inc()
}

func RecordRun(
	runID string,
	result string,
	total int,
	failed int,
	flaky int,
	duration time.Duration,
) {
	runResults.WithLabelValues(runID, result).Set(1)
	runTestsTotal.WithLabelValues(runID).Add(float64(total))
	runTestsFailed.WithLabelValues(runID).Add(float64(failed))
	runTestsFlaky.WithLabelValues(runID).Add(float64(flaky))
	runDuration.WithLabelValues(runID).Set(duration.Seconds())
}
