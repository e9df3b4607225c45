package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	. "github.com/smartystreets/goconvey/convey"
)

// value reads the current value of a counter or gauge.
func value(c prometheus.Metric) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return -1
	}
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	if m.Gauge != nil {
		return m.Gauge.GetValue()
	}
	return -1
}

func TestMetricsOptions(t *testing.T) {
	Convey("Given metrics options", t, func() {
		m := &Manager{namespace: "intelsync", histogramBuckets: prometheus.DefBuckets}

		Convey("Then empty values are ignored", func() {
			WithNamespace("")(m)
			WithHistogramBuckets(nil)(m)
			WithPrometheusRegistry(nil)(m)

			So(m.namespace, ShouldEqual, "intelsync")
			So(m.histogramBuckets, ShouldResemble, prometheus.DefBuckets)
			So(m.registry, ShouldBeNil)
		})

		Convey("Then valid values are applied", func() {
			WithNamespace("other")(m)
			WithSubsystem("sync")(m)
			WithMetricPrefix("edge")(m)
			WithCustomLabels(map[string]string{"env": "test"})(m)

			So(m.namespace, ShouldEqual, "other")
			So(m.subsystem, ShouldEqual, "sync")
			So(m.metricPrefix, ShouldEqual, "edge")
			So(m.customLabels["env"], ShouldEqual, "test")
		})
	})
}

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given a private registry", t, func() {
		registry := prometheus.NewRegistry()

		Convey("When creating a manager with custom options", func() {
			manager := NewManager(
				WithNamespace("test_namespace"),
				WithSubsystem("test_subsystem"),
				WithMetricPrefix("test_prefix"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)
			manager.syncCyclesDropped.Inc()

			Convey("Then metric names carry namespace, subsystem and prefix", func() {
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				So(len(families), ShouldBeGreaterThan, 0)

				found := false
				for _, f := range families {
					if f.GetName() == "test_namespace_test_subsystem_test_prefix_sync_cycles_dropped_total" {
						found = true
					}
				}
				So(found, ShouldBeTrue)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording sync cycles", func() {
			before := value(globalManager.syncCycles.WithLabelValues(OutcomePartial))
			RecordSyncCycle(OutcomePartial, 120)
			RecordSyncCycleDropped()
			SetSyncRunning(true)

			Convey("Then the counters move", func() {
				So(value(globalManager.syncCycles.WithLabelValues(OutcomePartial)), ShouldEqual, before+1)
				So(value(globalManager.syncCyclesDropped), ShouldBeGreaterThanOrEqualTo, 1)
				So(value(globalManager.syncRunning), ShouldEqual, 1)
				So(value(globalManager.syncLastSuccess), ShouldBeGreaterThan, 0)
			})

			SetSyncRunning(false)
		})

		Convey("When recording attribute classes", func() {
			before := value(globalManager.attributesByClass.WithLabelValues("ignored"))
			RecordAttributeClass("ignored", 3)
			RecordAttributeClass("ignored", 0)

			Convey("Then zero counts are not added", func() {
				So(value(globalManager.attributesByClass.WithLabelValues("ignored")), ShouldEqual, before+3)
			})
		})

		Convey("When recording sighting and remote metrics", func() {
			So(func() {
				RecordSighting(OutcomeReported)
				RecordSighting(OutcomeRateLimited)
				UpdateLimiterEntries(12)
				RecordLimiterEvictions(2)
				RecordMatchBatch(3.5)
				RecordRemoteRequest("search", OutcomeSuccess, 42)
				UpdateCircuitBreakerState("misp", 2)
				RecordCircuitBreakerTransition("misp", "closed", "open")
				RecordAttributesFetched(10)
				RecordIndicatorsInserted(8)
				RecordInsertError()
				RecordSyncUnit("fixed", OutcomeFailure)
			}, ShouldNotPanic)

			So(value(globalManager.limiterEntries), ShouldEqual, 12)
			So(value(globalManager.circuitBreakerState.WithLabelValues("misp")), ShouldEqual, 2)
		})

		Convey("When recording operational metrics", func() {
			So(func() {
				UpdateQueueSize(10)
				UpdateQueueCapacity(100)
				UpdateQueueUtilization(0.1)
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				UpdateWorkerCount(4)
				RecordWorkerProcessingLatency(1.5)
				RecordWorkerError()
				RecordBusMessage("in", OutcomeSuccess)
				RecordHTTPRequest("/healthz", "GET", "200")
				RecordHTTPRequestDuration("/healthz", "GET", "200", 0.4)
				RecordErrorByComponent("scheduler", "fetch")
				UpdateSystemMemoryUsage(1 << 20)
				UpdateSystemGoroutineCount(12)
				RecordSystemGCPauseTime(0.2)
			}, ShouldNotPanic)

			So(value(globalManager.queueCapacity), ShouldEqual, 100)
		})

		Convey("Then the exposed registry carries intelsync metrics", func() {
			families, err := GetRegistry().Gather()
			So(err, ShouldBeNil)
			for _, f := range families {
				So(strings.HasPrefix(f.GetName(), "intelsync_"), ShouldBeTrue)
			}
		})
	})
}
