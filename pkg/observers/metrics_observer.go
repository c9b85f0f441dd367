package observers

import (
	"sync"
	"time"

	"github.com/anggasct/tracklock/pkg/fsm"
)

// MetricsObserver collects metrics about state machine execution
type MetricsObserver struct {
	stateVisits      map[string]int
	stateTimeSpent   map[string]time.Duration
	eventCounts      map[string]int
	transitionCounts map[string]int
	rejectedCount    int
	errorCount       int
	lastStateEntry   map[string]time.Time
	now              func() time.Time
	mutex            sync.RWMutex
}

// Metrics is a point-in-time copy of everything a MetricsObserver collected
type Metrics struct {
	StateVisits      map[string]int           `json:"state_visits"`
	StateTimeSpent   map[string]time.Duration `json:"state_time_spent_ns"`
	EventCounts      map[string]int           `json:"event_counts"`
	TransitionCounts map[string]int           `json:"transition_counts"`
	Rejected         int                      `json:"rejected"`
	Errors           int                      `json:"errors"`
}

// NewMetricsObserver creates a new metrics observer
func NewMetricsObserver() *MetricsObserver {
	o := &MetricsObserver{now: time.Now}
	o.Reset()
	return o
}

// OnStateEnter records state entry metrics
func (o *MetricsObserver) OnStateEnter(state string, ctx fsm.Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	o.stateVisits[state]++
	o.lastStateEntry[state] = o.now()
}

// OnStateExit records state exit metrics
func (o *MetricsObserver) OnStateExit(state string, ctx fsm.Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	if entryTime, ok := o.lastStateEntry[state]; ok {
		o.stateTimeSpent[state] += o.now().Sub(entryTime)
		delete(o.lastStateEntry, state)
	}
}

// OnTransition records transition and event metrics
func (o *MetricsObserver) OnTransition(from string, to string, event fsm.Event, ctx fsm.Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	o.transitionCounts[from+"->"+to]++
	if event != nil {
		o.eventCounts[event.GetName()]++
	}
}

// OnEventRejected counts rejected events
func (o *MetricsObserver) OnEventRejected(event fsm.Event, reason string, ctx fsm.Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.rejectedCount++
}

// OnError records error metrics
func (o *MetricsObserver) OnError(err error, ctx fsm.Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.errorCount++
}

func (o *MetricsObserver) OnMachineStarted(ctx fsm.Context) {}

func (o *MetricsObserver) OnMachineStopped(ctx fsm.Context) {}

// GetStateVisitCounts returns the number of times each state was visited
func (o *MetricsObserver) GetStateVisitCounts() map[string]int {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return copyCounts(o.stateVisits)
}

// GetStateTimeSpent returns the time spent in each state
func (o *MetricsObserver) GetStateTimeSpent() map[string]time.Duration {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	result := make(map[string]time.Duration, len(o.stateTimeSpent))
	for state, duration := range o.stateTimeSpent {
		result[state] = duration
	}
	return result
}

// GetEventCounts returns the number of times each event caused a transition
func (o *MetricsObserver) GetEventCounts() map[string]int {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return copyCounts(o.eventCounts)
}

// GetTransitionCounts returns the number of times each transition occurred
func (o *MetricsObserver) GetTransitionCounts() map[string]int {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return copyCounts(o.transitionCounts)
}

// GetErrorCount returns the number of errors
func (o *MetricsObserver) GetErrorCount() int {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return o.errorCount
}

// Snapshot returns a copy of all collected metrics
func (o *MetricsObserver) Snapshot() Metrics {
	return Metrics{
		StateVisits:      o.GetStateVisitCounts(),
		StateTimeSpent:   o.GetStateTimeSpent(),
		EventCounts:      o.GetEventCounts(),
		TransitionCounts: o.GetTransitionCounts(),
		Rejected:         o.rejected(),
		Errors:           o.GetErrorCount(),
	}
}

func (o *MetricsObserver) rejected() int {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return o.rejectedCount
}

// Reset resets all metrics
func (o *MetricsObserver) Reset() {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	o.stateVisits = make(map[string]int)
	o.stateTimeSpent = make(map[string]time.Duration)
	o.eventCounts = make(map[string]int)
	o.transitionCounts = make(map[string]int)
	o.rejectedCount = 0
	o.errorCount = 0
	o.lastStateEntry = make(map[string]time.Time)
}

func copyCounts(in map[string]int) map[string]int {
	result := make(map[string]int, len(in))
	for k, v := range in {
		result[k] = v
	}
	return result
}
