package coproc

import "github.com/prometheus/client_golang/prometheus"

const namespace = "coproc"

// Probe counts what scripts do. A nil *Probe is valid and records nothing.
type Probe struct {
	BatchesTotal   *prometheus.CounterVec
	RecordsIn      prometheus.Counter
	RecordsOut     prometheus.Counter
	PolicyOutcomes *prometheus.CounterVec
	DecodeErrors   prometheus.Counter
}

// NewProbe builds the collectors and registers them with reg when it is not
// nil.
func NewProbe(reg prometheus.Registerer) (*Probe, error) {
	p := &Probe{
		BatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Batches processed by result status.",
			},
			[]string{"status"},
		),
		RecordsIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_in_total",
			Help:      "Records handed to transforms.",
		}),
		RecordsOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_out_total",
			Help:      "Records emitted by transforms into output batches.",
		}),
		PolicyOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_outcomes_total",
				Help:      "Transform failures by policy category.",
			},
			[]string{"category"},
		),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Input batches rejected as malformed.",
		}),
	}
	if reg == nil {
		return p, nil
	}
	for _, c := range []prometheus.Collector{p.BatchesTotal, p.RecordsIn, p.RecordsOut, p.PolicyOutcomes, p.DecodeErrors} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Probe) batch(status Status) {
	if p == nil {
		return
	}
	p.BatchesTotal.WithLabelValues(status.String()).Inc()
}

func (p *Probe) records(in, out int) {
	if p == nil {
		return
	}
	p.RecordsIn.Add(float64(in))
	p.RecordsOut.Add(float64(out))
}

func (p *Probe) policy(category PolicyError) {
	if p == nil {
		return
	}
	p.PolicyOutcomes.WithLabelValues(category.String()).Inc()
}

func (p *Probe) decodeError() {
	if p == nil {
		return
	}
	p.DecodeErrors.Inc()
}
