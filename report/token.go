package report

import "github.com/pkg/errors"

// TokenBased scores every position independently over the given labels, listed in that order.
// Positions with other tags only count as false negatives or false positives of the listed labels.
func TokenBased(trueTags, predTags, labels []string) (string, error) {
	if len(trueTags) != len(predTags) {
		return "", errors.Errorf("%d true tags but %d predicted tags", len(trueTags), len(predTags))
	}
	classes := make(map[string]scores, len(labels))
	for _, l := range labels {
		classes[l] = scores{}
	}
	for i, t := range trueTags {
		p := predTags[i]
		_, trueListed := classes[t]
		_, predListed := classes[p]
		if t == p {
			if trueListed {
				s := classes[t]
				s.tp++
				classes[t] = s
			}
			continue
		}
		if trueListed {
			s := classes[t]
			s.fn++
			classes[t] = s
		}
		if predListed {
			s := classes[p]
			s.fp++
			classes[p] = s
		}
	}
	return table(labels, classes), nil
}
