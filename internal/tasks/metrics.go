package tasks

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	domain "github.com/aq2208/portfolio-api/internal/entity"
)

// Metrics counts task transitions and exposes the scheduler's load.
type Metrics struct {
	transitions *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer, sched *Scheduler) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasks_transitions_total",
				Help: "Task state transitions by resulting status",
			},
			[]string{"status"},
		),
	}
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "tasks_runners_running",
		Help: "Task runners currently executing",
	}, func() float64 { return float64(sched.Running()) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "tasks_runners_waiting",
		Help: "Task runners waiting for a scheduler slot",
	}, func() float64 { return float64(sched.Waiting()) })
	return m
}

// TaskChanged counts status changes only; progress ticks are not transitions.
func (m *Metrics) TaskChanged(t domain.Task) {
	if t.Status == domain.TaskProcessing && t.Progress > 0 {
		return
	}
	m.transitions.WithLabelValues(string(t.Status)).Inc()
}

var _ Observer = (*Metrics)(nil)
