package actor

import "math"

// Perf aggregates execution cost. The zero value is usable after reset;
// New and the runtime containers reset it for you.
type Perf struct {
	Executions  uint64 // ticks observed
	SubBudget   uint64 // ticks within BudgetCycles
	MinCycles   uint64
	MaxCycles   uint64
	TotalCycles uint64
}

func (p *Perf) reset() { *p = Perf{MinCycles: math.MaxUint64} }

// NewPerf returns an empty counter set.
func NewPerf() Perf {
	var p Perf
	p.reset()
	return p
}

// Observe records one execution.
func (p *Perf) Observe(cycles uint64) {
	p.Executions++
	p.TotalCycles += cycles
	if cycles <= BudgetCycles {
		p.SubBudget++
	}
	if cycles < p.MinCycles {
		p.MinCycles = cycles
	}
	if cycles > p.MaxCycles {
		p.MaxCycles = cycles
	}
}

// Merge folds o into p.
func (p *Perf) Merge(o Perf) {
	if o.Executions == 0 {
		return
	}
	p.Executions += o.Executions
	p.SubBudget += o.SubBudget
	p.TotalCycles += o.TotalCycles
	if o.MinCycles < p.MinCycles {
		p.MinCycles = o.MinCycles
	}
	if o.MaxCycles > p.MaxCycles {
		p.MaxCycles = o.MaxCycles
	}
}

// AvgCycles returns the mean cost, 0 when nothing ran.
func (p Perf) AvgCycles() float64 {
	if p.Executions == 0 {
		return 0
	}
	return float64(p.TotalCycles) / float64(p.Executions)
}

// Min returns MinCycles, or 0 when nothing ran.
func (p Perf) Min() uint64 {
	if p.Executions == 0 {
		return 0
	}
	return p.MinCycles
}

// ComplianceRatio is SubBudget/Executions.
func (p Perf) ComplianceRatio() float64 {
	if p.Executions == 0 {
		return 1
	}
	return float64(p.SubBudget) / float64(p.Executions)
}
