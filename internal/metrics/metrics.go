package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TaskSubmissions counts SubmitTask calls, split by whether the call
	// created a task or was collapsed onto an existing one.
	TaskSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storyreel_task_submissions_total",
		Help: "Task submissions by type and dedupe outcome.",
	}, []string{"type", "outcome"})

	// TransitionsDenied counts status transitions whose precondition did
	// not hold. These are silent no-ops at the call site; the counter is
	// the only place they surface.
	TransitionsDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storyreel_task_transitions_denied_total",
		Help: "Denied task status transitions by source.",
	}, []string{"source", "reason"})

	// TerminalStateMismatches counts tasks whose replayed event stream
	// disagrees with the terminal status on the task row.
	TerminalStateMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storyreel_task_terminal_state_mismatch_total",
		Help: "Replayed event streams that contradict the task row status.",
	})

	EnqueueResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storyreel_task_enqueue_results_total",
		Help: "Queue enqueue outcomes by task type.",
	}, []string{"type", "result"})
)
