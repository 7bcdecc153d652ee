package metrics

// Metric is one entry of a Plan: which metric to compute for a group of tags, in which phases.
type Metric struct {
	Group   Group
	Kind    Kind
	Average Average
	Phases  []Phase
}

// Plan lists the metrics an Aggregator computes.
type Plan []Metric

var bothPhases = []Phase{Train, Valid}

// DefaultPlan returns the metrics logged by default: loss and accuracy over all tags, precision, recall
// and F1 (micro and macro) over all and filtered tags, and micro values for each individual tag.
func DefaultPlan() Plan {
	plan := Plan{
		{Group: All, Kind: Loss, Average: Simple, Phases: bothPhases},
		{Group: All, Kind: Accuracy, Average: Simple, Phases: bothPhases},
	}
	for _, group := range []Group{All, Filtered} {
		for _, kind := range []Kind{Precision, Recall, F1} {
			for _, avg := range []Average{Micro, Macro} {
				plan = append(plan, Metric{Group: group, Kind: kind, Average: avg, Phases: bothPhases})
			}
		}
	}
	for _, kind := range []Kind{Precision, Recall, F1} {
		plan = append(plan, Metric{Group: Individual, Kind: kind, Average: Micro, Phases: bothPhases})
	}
	return plan
}

// Includes reports whether the plan has the metric for the phase.
func (p Plan) Includes(phase Phase, group Group, kind Kind, avg Average) bool {
	for _, m := range p {
		if m.Group != group || m.Kind != kind || m.Average != avg {
			continue
		}
		for _, ph := range m.Phases {
			if ph == phase {
				return true
			}
		}
	}
	return false
}

// hasGroup reports whether the plan has any metric for the group in the phase.
func (p Plan) hasGroup(phase Phase, group Group) bool {
	for _, m := range p {
		if m.Group != group {
			continue
		}
		for _, ph := range m.Phases {
			if ph == phase {
				return true
			}
		}
	}
	return false
}
