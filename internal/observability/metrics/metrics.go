package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// TokenEventLabel identifies an upstream token grant by grant type
// ("password" or "refresh_token") and outcome ("success" or "failure").
type TokenEventLabel struct {
	Grant   string
	Outcome string
}

// SyncItemLabel identifies a sync job item outcome by job name and the bucket
// the item landed in (inserted, updated, skipped, failed).
type SyncItemLabel struct {
	Job     string
	Outcome string
}

// MessageLabel identifies an outbound notification by channel ("sms",
// "whatsapp") and outcome.
type MessageLabel struct {
	Channel string
	Outcome string
}

// Recorder aggregates in-memory metrics counters and gauges for HTTP requests,
// upstream token grants, sync job outcomes, outbound messaging, and dependency
// health. It coordinates concurrent writers via a RWMutex while exposing a
// thread-safe gauge for active sync job tracking.
type Recorder struct {
	mu               sync.RWMutex
	requestCount     map[requestLabel]uint64
	requestDuration  map[requestLabel]time.Duration
	tokenEvents      map[TokenEventLabel]uint64
	upstreamAttempts map[string]uint64
	upstreamRetries  map[string]uint64
	upstreamFailures map[string]uint64
	syncEvents       map[SyncItemLabel]uint64
	messageEvents    map[MessageLabel]uint64
	depHealthValue   map[string]float64
	depHealthState   map[string]string
	activeSyncJobs   atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers can
// immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:     make(map[requestLabel]uint64),
		requestDuration:  make(map[requestLabel]time.Duration),
		tokenEvents:      make(map[TokenEventLabel]uint64),
		upstreamAttempts: make(map[string]uint64),
		upstreamRetries:  make(map[string]uint64),
		upstreamFailures: make(map[string]uint64),
		syncEvents:       make(map[SyncItemLabel]uint64),
		messageEvents:    make(map[MessageLabel]uint64),
		depHealthValue:   make(map[string]float64),
		depHealthState:   make(map[string]string),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// SetDefault replaces the process-wide default recorder. Passing nil is a
// no-op.
func SetDefault(r *Recorder) {
	if r == nil {
		return
	}
	defaultRecorder = r
}

// Registry bundles a freshly constructed Recorder that has been installed as
// the process default, for binaries that want an isolated instrumentation
// pipeline.
type Registry struct {
	Recorder *Recorder
}

// NewRegistry constructs a Recorder, installs it as the default, and returns
// the registry handle.
func NewRegistry() *Registry {
	recorder := New()
	SetDefault(recorder)
	return &Registry{Recorder: recorder}
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ObserveTokenGrant records an upstream token grant attempt outcome keyed by
// grant type ("password" or "refresh_token").
func (r *Recorder) ObserveTokenGrant(grant string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	label := TokenEventLabel{Grant: normalizeName(grant), Outcome: outcome}
	r.mu.Lock()
	r.tokenEvents[label]++
	r.mu.Unlock()
}

// ObserveUpstreamAttempt records an upstream API call attempt keyed by
// operation name (e.g., "plants_list", "inverter_realtime").
func (r *Recorder) ObserveUpstreamAttempt(operation string) {
	op := normalizeName(operation)
	r.mu.Lock()
	r.upstreamAttempts[op]++
	r.mu.Unlock()
}

// ObserveUpstreamRetry records a retried upstream API call keyed by operation
// name. The caller should also record the attempt separately.
func (r *Recorder) ObserveUpstreamRetry(operation string) {
	op := normalizeName(operation)
	r.mu.Lock()
	r.upstreamRetries[op]++
	r.mu.Unlock()
}

// ObserveUpstreamFailure records a failed upstream API call keyed by operation
// name after retries are exhausted.
func (r *Recorder) ObserveUpstreamFailure(operation string) {
	op := normalizeName(operation)
	r.mu.Lock()
	r.upstreamFailures[op]++
	r.mu.Unlock()
}

// ObserveSyncItem records a single sync job item outcome.
func (r *Recorder) ObserveSyncItem(job, outcome string) {
	label := SyncItemLabel{Job: normalizeName(job), Outcome: normalizeName(outcome)}
	r.mu.Lock()
	r.syncEvents[label]++
	r.mu.Unlock()
}

// SyncJobStarted increments the active sync job gauge.
func (r *Recorder) SyncJobStarted() {
	r.activeSyncJobs.Add(1)
}

// SyncJobFinished decrements the active sync job gauge, guarding against
// negative counts when concurrent updates race.
func (r *Recorder) SyncJobFinished() {
	r.decrementGauge(&r.activeSyncJobs)
}

// ObserveMessage records an outbound notification attempt outcome keyed by
// channel ("sms", "whatsapp").
func (r *Recorder) ObserveMessage(channel string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	label := MessageLabel{Channel: normalizeName(channel), Outcome: outcome}
	r.mu.Lock()
	r.messageEvents[label]++
	r.mu.Unlock()
}

// SetDependencyHealth normalizes dependency identifiers, maps status strings to
// numeric health values, and stores both representations for export.
func (r *Recorder) SetDependencyHealth(service, status string) {
	normalizedService := normalizeName(service)
	normalizedStatus := strings.ToLower(strings.TrimSpace(status))
	value := 0.0
	switch normalizedStatus {
	case "ok", "healthy":
		value = 1
	case "disabled":
		value = 0
	default:
		value = -1
	}
	r.mu.Lock()
	r.depHealthValue[normalizedService] = value
	r.depHealthState[normalizedService] = normalizedStatus
	r.mu.Unlock()
}

// ActiveSyncJobs exposes the current gauge of concurrently running sync jobs.
func (r *Recorder) ActiveSyncJobs() int64 {
	return r.activeSyncJobs.Load()
}

// TokenGrantCounts returns a copy of the token grant counters for testing and
// reporting purposes.
func (r *Recorder) TokenGrantCounts() map[TokenEventLabel]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[TokenEventLabel]uint64, len(r.tokenEvents))
	for k, v := range r.tokenEvents {
		out[k] = v
	}
	return out
}

// UpstreamCounts returns copies of upstream attempt, retry, and failure
// counters for testing and reporting purposes.
func (r *Recorder) UpstreamCounts() (attempts, retries, failures map[string]uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	attempts = make(map[string]uint64, len(r.upstreamAttempts))
	for k, v := range r.upstreamAttempts {
		attempts[k] = v
	}
	retries = make(map[string]uint64, len(r.upstreamRetries))
	for k, v := range r.upstreamRetries {
		retries[k] = v
	}
	failures = make(map[string]uint64, len(r.upstreamFailures))
	for k, v := range r.upstreamFailures {
		failures[k] = v
	}
	return attempts, retries, failures
}

// SyncItemCounts returns a copy of the sync item counters.
func (r *Recorder) SyncItemCounts() map[SyncItemLabel]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[SyncItemLabel]uint64, len(r.syncEvents))
	for k, v := range r.syncEvents {
		out[k] = v
	}
	return out
}

// MessageCounts returns a copy of the message delivery counters.
func (r *Recorder) MessageCounts() map[MessageLabel]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[MessageLabel]uint64, len(r.messageEvents))
	for k, v := range r.messageEvents {
		out[k] = v
	}
	return out
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.tokenEvents = make(map[TokenEventLabel]uint64)
	r.upstreamAttempts = make(map[string]uint64)
	r.upstreamRetries = make(map[string]uint64)
	r.upstreamFailures = make(map[string]uint64)
	r.syncEvents = make(map[SyncItemLabel]uint64)
	r.messageEvents = make(map[MessageLabel]uint64)
	r.depHealthValue = make(map[string]float64)
	r.depHealthState = make(map[string]string)
	r.activeSyncJobs.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting label
// sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	tokenLabels := r.sortedTokenEventLabels()
	upstreamOperations := r.sortedUpstreamOperations()
	syncLabels := r.sortedSyncItemLabels()
	messageLabels := r.sortedMessageLabels()
	dependencies := r.sortedDependencies()

	fmt.Fprintln(w, "# HELP solarsync_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE solarsync_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "solarsync_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP solarsync_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE solarsync_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "solarsync_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP solarsync_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE solarsync_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "solarsync_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP solarsync_token_grants_total Upstream token grants by grant type and outcome")
	fmt.Fprintln(w, "# TYPE solarsync_token_grants_total counter")
	for _, label := range tokenLabels {
		count := r.tokenEvents[label]
		fmt.Fprintf(w, "solarsync_token_grants_total{grant=\"%s\",outcome=\"%s\"} %d\n", label.Grant, label.Outcome, count)
	}

	fmt.Fprintln(w, "# HELP solarsync_upstream_attempts_total Upstream API calls attempted by operation")
	fmt.Fprintln(w, "# TYPE solarsync_upstream_attempts_total counter")
	for _, op := range upstreamOperations {
		count := r.upstreamAttempts[op]
		fmt.Fprintf(w, "solarsync_upstream_attempts_total{operation=\"%s\"} %d\n", op, count)
	}

	fmt.Fprintln(w, "# HELP solarsync_upstream_retries_total Upstream API call retries by operation")
	fmt.Fprintln(w, "# TYPE solarsync_upstream_retries_total counter")
	for _, op := range upstreamOperations {
		count := r.upstreamRetries[op]
		fmt.Fprintf(w, "solarsync_upstream_retries_total{operation=\"%s\"} %d\n", op, count)
	}

	fmt.Fprintln(w, "# HELP solarsync_upstream_failures_total Upstream API call failures by operation after retries")
	fmt.Fprintln(w, "# TYPE solarsync_upstream_failures_total counter")
	for _, op := range upstreamOperations {
		count := r.upstreamFailures[op]
		fmt.Fprintf(w, "solarsync_upstream_failures_total{operation=\"%s\"} %d\n", op, count)
	}

	fmt.Fprintln(w, "# HELP solarsync_sync_items_total Sync job item outcomes by job and bucket")
	fmt.Fprintln(w, "# TYPE solarsync_sync_items_total counter")
	for _, label := range syncLabels {
		count := r.syncEvents[label]
		fmt.Fprintf(w, "solarsync_sync_items_total{job=\"%s\",outcome=\"%s\"} %d\n", label.Job, label.Outcome, count)
	}

	fmt.Fprintln(w, "# HELP solarsync_sync_active_jobs Current number of running sync jobs")
	fmt.Fprintln(w, "# TYPE solarsync_sync_active_jobs gauge")
	fmt.Fprintf(w, "solarsync_sync_active_jobs %d\n", r.activeSyncJobs.Load())

	fmt.Fprintln(w, "# HELP solarsync_messages_total Outbound notifications by channel and outcome")
	fmt.Fprintln(w, "# TYPE solarsync_messages_total counter")
	for _, label := range messageLabels {
		count := r.messageEvents[label]
		fmt.Fprintf(w, "solarsync_messages_total{channel=\"%s\",outcome=\"%s\"} %d\n", label.Channel, label.Outcome, count)
	}

	fmt.Fprintln(w, "# HELP solarsync_dependency_health Health status reported by dependencies (1=ok,0=disabled,-1=degraded)")
	fmt.Fprintln(w, "# TYPE solarsync_dependency_health gauge")
	for _, service := range dependencies {
		value := r.depHealthValue[service]
		status := r.depHealthState[service]
		fmt.Fprintf(w, "solarsync_dependency_health{service=\"%s\",status=\"%s\"} %f\n", service, status, value)
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedTokenEventLabels() []TokenEventLabel {
	labels := make([]TokenEventLabel, 0, len(r.tokenEvents))
	for label := range r.tokenEvents {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Grant != labels[j].Grant {
			return labels[i].Grant < labels[j].Grant
		}
		return labels[i].Outcome < labels[j].Outcome
	})
	return labels
}

func (r *Recorder) sortedUpstreamOperations() []string {
	seen := make(map[string]struct{}, len(r.upstreamAttempts)+len(r.upstreamRetries)+len(r.upstreamFailures))
	for op := range r.upstreamAttempts {
		seen[op] = struct{}{}
	}
	for op := range r.upstreamRetries {
		seen[op] = struct{}{}
	}
	for op := range r.upstreamFailures {
		seen[op] = struct{}{}
	}
	ops := make([]string, 0, len(seen))
	for op := range seen {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

func (r *Recorder) sortedSyncItemLabels() []SyncItemLabel {
	labels := make([]SyncItemLabel, 0, len(r.syncEvents))
	for label := range r.syncEvents {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Job != labels[j].Job {
			return labels[i].Job < labels[j].Job
		}
		return labels[i].Outcome < labels[j].Outcome
	})
	return labels
}

func (r *Recorder) sortedMessageLabels() []MessageLabel {
	labels := make([]MessageLabel, 0, len(r.messageEvents))
	for label := range r.messageEvents {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Channel != labels[j].Channel {
			return labels[i].Channel < labels[j].Channel
		}
		return labels[i].Outcome < labels[j].Outcome
	})
	return labels
}

func (r *Recorder) sortedDependencies() []string {
	services := make([]string, 0, len(r.depHealthValue))
	for service := range r.depHealthValue {
		services = append(services, service)
	}
	sort.Strings(services)
	return services
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
			continue
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 16 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// ObserveTokenGrant records a token grant outcome on the default recorder.
func ObserveTokenGrant(grant string, success bool) {
	defaultRecorder.ObserveTokenGrant(grant, success)
}

// ObserveUpstreamAttempt records an upstream attempt on the default recorder.
func ObserveUpstreamAttempt(operation string) {
	defaultRecorder.ObserveUpstreamAttempt(operation)
}

// ObserveUpstreamRetry records an upstream retry on the default recorder.
func ObserveUpstreamRetry(operation string) {
	defaultRecorder.ObserveUpstreamRetry(operation)
}

// ObserveUpstreamFailure records an upstream failure on the default recorder.
func ObserveUpstreamFailure(operation string) {
	defaultRecorder.ObserveUpstreamFailure(operation)
}

// ObserveSyncItem records a sync item outcome on the default recorder.
func ObserveSyncItem(job, outcome string) {
	defaultRecorder.ObserveSyncItem(job, outcome)
}

// ObserveMessage records an outbound notification outcome on the default recorder.
func ObserveMessage(channel string, success bool) {
	defaultRecorder.ObserveMessage(channel, success)
}

// SetDependencyHealth updates dependency health for the default recorder.
func SetDependencyHealth(service, status string) {
	defaultRecorder.SetDependencyHealth(service, status)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
