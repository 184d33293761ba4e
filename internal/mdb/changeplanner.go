package mdb

import "sort"

// CoinPlanLine is one denomination's contribution to a change plan.
type CoinPlanLine struct {
	Denomination int
	Count        int
}

// ChangePlanner picks coins to release for a target amount against a live
// tube snapshot. Greedy, largest-denomination-first, no backtracking.
type ChangePlanner struct{}

// NewChangePlanner returns a stateless planner.
func NewChangePlanner() *ChangePlanner {
	return &ChangePlanner{}
}

// Plan returns the coins to dispense for amount given available tube
// counts. ok is false if amount cannot be made exactly, in which case plan
// is nil and no commands should be issued.
func (p *ChangePlanner) Plan(amount int, tubes map[int]int) (plan []CoinPlanLine, ok bool) {
	denoms := make([]int, 0, len(tubes))
	for d := range tubes {
		denoms = append(denoms, d)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(denoms)))

	remaining := amount
	for _, denom := range denoms {
		if denom <= 0 || remaining <= 0 {
			continue
		}
		use := remaining / denom
		if available := tubes[denom]; use > available {
			use = available
		}
		if use <= 0 {
			continue
		}
		plan = append(plan, CoinPlanLine{Denomination: denom, Count: use})
		remaining -= use * denom
	}

	if remaining != 0 {
		return nil, false
	}
	return plan, true
}
