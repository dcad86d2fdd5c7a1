package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP surface and the scheduling engine.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	proposalLookups *prometheus.CounterVec

	generationDuration *prometheus.HistogramVec
	placementConflicts prometheus.Counter
	timetablesSaved    *prometheus.CounterVec
	conflictsOpened    prometheus.Counter
	regenerationItems  *prometheus.CounterVec
	roomReassignments  *prometheus.CounterVec
	lockContention     *prometheus.CounterVec
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	proposalLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timetable_proposal_lookups_total",
		Help: "Proposal cache lookups by result",
	}, []string{"result"})

	generationDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "timetable_generation_duration_seconds",
		Help:    "Duration of timetable generation runs",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	placementConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timetable_placement_conflicts_total",
		Help: "Mappings the generator could not fully place",
	})

	timetablesSaved := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timetables_saved_total",
		Help: "Timetable versions persisted",
	}, []string{"published"})

	conflictsOpened := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "room_conflicts_opened_total",
		Help: "Conflicts opened after a room became unavailable",
	})

	regenerationItems := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "room_regeneration_entries_total",
		Help: "Affected entries processed by auto-regeneration",
	}, []string{"outcome"})

	roomReassignments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "room_reassignments_total",
		Help: "Room changes recorded in the audit trail",
	}, []string{"change_type"})

	lockContention := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_lock_contention_total",
		Help: "Writes rejected because another operation held the lock",
	}, []string{"scope"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, proposalLookups, generationDuration, placementConflicts,
		timetablesSaved, conflictsOpened, regenerationItems, roomReassignments, lockContention, goroutines)

	return &MetricsService{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:    requestDuration,
		requestTotal:       requestTotal,
		proposalLookups:    proposalLookups,
		generationDuration: generationDuration,
		placementConflicts: placementConflicts,
		timetablesSaved:    timetablesSaved,
		conflictsOpened:    conflictsOpened,
		regenerationItems:  regenerationItems,
		roomReassignments:  roomReassignments,
		lockContention:     lockContention,
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordProposalLookup counts proposal cache hits and misses.
func (m *MetricsService) RecordProposalLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.proposalLookups.WithLabelValues(result).Inc()
}

// ObserveGeneration records one generator run.
func (m *MetricsService) ObserveGeneration(complete bool, duration time.Duration, conflicts int) {
	if m == nil {
		return
	}
	outcome := "partial"
	if complete {
		outcome = "complete"
	}
	m.generationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	m.placementConflicts.Add(float64(conflicts))
}

// TimetableSaved counts persisted versions.
func (m *MetricsService) TimetableSaved(published bool) {
	if m == nil {
		return
	}
	m.timetablesSaved.WithLabelValues(fmt.Sprintf("%t", published)).Inc()
}

// ConflictOpened counts newly detected room conflicts.
func (m *MetricsService) ConflictOpened() {
	if m == nil {
		return
	}
	m.conflictsOpened.Inc()
}

// RegenerationEntry counts auto-regeneration outcomes: assigned, requires_manual or restored.
func (m *MetricsService) RegenerationEntry(outcome string) {
	if m == nil {
		return
	}
	m.regenerationItems.WithLabelValues(outcome).Inc()
}

// RoomReassigned counts audit-logged room changes by change type.
func (m *MetricsService) RoomReassigned(changeType string) {
	if m == nil {
		return
	}
	m.roomReassignments.WithLabelValues(changeType).Inc()
}

// LockContended counts rejected writes per lock scope.
func (m *MetricsService) LockContended(scope string) {
	if m == nil {
		return
	}
	m.lockContention.WithLabelValues(scope).Inc()
}
