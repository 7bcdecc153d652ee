// Package metrics reduces token-classification predictions to flat label sequences and computes
// loss, accuracy and precision/recall/F1 for groups of tags: all tags, the filtered semantic tags
// and each individual tag.
//
// Example:
//
//	agg := metrics.New(vocab, metrics.DefaultPlan())
//	trueIDs, predIDs, err := metrics.Flatten(labelIDs, logits)
//	record, err := agg.Compute(metrics.Scope{Size: metrics.Epoch, Phase: metrics.Valid}, loss, trueIDs, predIDs)
//	f1, found := record.Get(metrics.Key{Group: metrics.Filtered, Kind: metrics.F1, Average: metrics.Micro})
package metrics

import (
	"slices"

	"github.com/gomlx/go-nerkit/tags"
	"github.com/pkg/errors"
)

// Aggregator computes metrics Records. It only reads the tag vocabulary, so it can be shared.
type Aggregator struct {
	vocab *tags.Vocabulary
	plan  Plan
}

// New creates an Aggregator for the tags of vocab computing the metrics in plan.
func New(vocab *tags.Vocabulary, plan Plan) *Aggregator {
	return &Aggregator{vocab: vocab, plan: plan}
}

// Plan returns the metrics computed by the Aggregator.
func (a *Aggregator) Plan() Plan { return a.plan }

// Flatten concatenates the rows of trueIDs, shaped [batch][position], and the arg-max over the
// labels of logits, shaped [batch][position][label].
//
// Padding positions are kept: they count for all metrics like real tokens.
func Flatten(trueIDs [][]int32, logits [][][]float32) (flatTrue, flatPred []int32, err error) {
	if len(trueIDs) != len(logits) {
		return nil, nil, errors.Errorf("labels have batch size %d, logits %d", len(trueIDs), len(logits))
	}
	for i, row := range trueIDs {
		if len(row) != len(logits[i]) {
			return nil, nil, errors.Errorf("example #%d: labels have length %d, logits %d", i, len(row), len(logits[i]))
		}
		flatTrue = append(flatTrue, row...)
		for j, scores := range logits[i] {
			if len(scores) == 0 {
				return nil, nil, errors.Errorf("example #%d position %d: no logits", i, j)
			}
			flatPred = append(flatPred, argMax(scores))
		}
	}
	return flatTrue, flatPred, nil
}

// argMax returns the index of the first largest value.
func argMax(scores []float32) int32 {
	best := 0
	for i, s := range scores {
		if s > scores[best] {
			best = i
		}
	}
	return int32(best)
}

// counts are the per-label confusion counts over the retained labels.
type counts struct {
	labels     []int32
	tp, fp, fn map[int32]int
}

// countLabels tallies true/false positives and false negatives for the retained labels; positions
// whose true and predicted labels are both outside of retained are ignored.
func countLabels(flatTrue, flatPred []int32, retained []int32) *counts {
	c := &counts{labels: retained, tp: map[int32]int{}, fp: map[int32]int{}, fn: map[int32]int{}}
	in := make(map[int32]bool, len(retained))
	for _, l := range retained {
		in[l] = true
	}
	for i, t := range flatTrue {
		p := flatPred[i]
		if t == p {
			if in[t] {
				c.tp[t]++
			}
			continue
		}
		if in[p] {
			c.fp[p]++
		}
		if in[t] {
			c.fn[t]++
		}
	}
	return c
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func fScore(precision, recall float64) float64 {
	if precision+recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}

// micro pools the counts of all retained labels.
func (c *counts) micro() (precision, recall, f1 float64) {
	var tp, fp, fn int
	for _, l := range c.labels {
		tp += c.tp[l]
		fp += c.fp[l]
		fn += c.fn[l]
	}
	precision, recall = ratio(tp, tp+fp), ratio(tp, tp+fn)
	return precision, recall, fScore(precision, recall)
}

// macro is the unweighted mean of the per-label values.
func (c *counts) macro() (precision, recall, f1 float64) {
	for _, l := range c.labels {
		p := ratio(c.tp[l], c.tp[l]+c.fp[l])
		r := ratio(c.tp[l], c.tp[l]+c.fn[l])
		precision += p
		recall += r
		f1 += fScore(p, r)
	}
	n := float64(len(c.labels))
	return precision / n, recall / n, f1 / n
}

// retain returns the requested labels (all labels if nil) that occur in flatTrue or flatPred, sorted.
func retain(requested []int32, flatTrue, flatPred []int32) []int32 {
	present := make(map[int32]bool)
	for _, seq := range [][]int32{flatTrue, flatPred} {
		for _, l := range seq {
			present[l] = true
		}
	}
	var retained []int32
	if requested == nil {
		for l := range present {
			retained = append(retained, l)
		}
	} else {
		for _, l := range requested {
			if present[l] && !slices.Contains(retained, l) {
				retained = append(retained, l)
			}
		}
	}
	slices.Sort(retained)
	return retained
}

// Compute builds the Record of scope from the supplied loss and the flat label sequences.
//
// A metric whose retained label set is empty (e.g. an individual tag that neither occurs nor is
// predicted) is left out of the Record.
func (a *Aggregator) Compute(scope Scope, loss float64, flatTrue, flatPred []int32) (*Record, error) {
	if len(flatTrue) != len(flatPred) {
		return nil, errors.Errorf("%d true labels but %d predicted labels", len(flatTrue), len(flatPred))
	}
	r := &Record{Scope: scope, Values: make(map[Key]float64)}
	phase := scope.Phase

	if a.plan.Includes(phase, All, Loss, Simple) {
		r.Values[Key{Group: All, Kind: Loss, Average: Simple}] = loss
	}
	if a.plan.Includes(phase, All, Accuracy, Simple) && len(flatTrue) > 0 {
		var correct int
		for i, t := range flatTrue {
			if t == flatPred[i] {
				correct++
			}
		}
		r.Values[Key{Group: All, Kind: Accuracy, Average: Simple}] = ratio(correct, len(flatTrue))
	}

	a.addScores(r, All, "", nil, flatTrue, flatPred)
	filtered := toInt32(a.vocab.FilteredIDs())
	if filtered == nil {
		filtered = []int32{}
	}
	a.addScores(r, Filtered, "", filtered, flatTrue, flatPred)
	if a.plan.hasGroup(phase, Individual) {
		for _, tag := range a.vocab.Filtered() {
			id, _ := a.vocab.ID(tag)
			a.addScores(r, Individual, tag, []int32{int32(id)}, flatTrue, flatPred)
		}
	}
	return r, nil
}

// addScores adds the planned precision, recall and F1 values of group to r.
func (a *Aggregator) addScores(r *Record, group Group, tag string, requested, flatTrue, flatPred []int32) {
	phase := r.Scope.Phase
	retained := retain(requested, flatTrue, flatPred)
	if len(retained) == 0 {
		return
	}
	c := countLabels(flatTrue, flatPred, retained)
	for _, avg := range []Average{Micro, Macro} {
		var values [3]float64
		if avg == Micro {
			values[0], values[1], values[2] = c.micro()
		} else {
			values[0], values[1], values[2] = c.macro()
		}
		for i, kind := range []Kind{Precision, Recall, F1} {
			if a.plan.Includes(phase, group, kind, avg) {
				r.Values[Key{Group: group, Tag: tag, Kind: kind, Average: avg}] = values[i]
			}
		}
	}
}

func toInt32(ids []int) []int32 {
	if ids == nil {
		return nil
	}
	out := make([]int32, len(ids))
	for i, id := range ids {
		out[i] = int32(id)
	}
	return out
}
