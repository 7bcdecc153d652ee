package dataset

import (
	"encoding/json"
	"os"
	"sort"
	"strings"

	"github.com/gomlx/go-nerkit/internal/files"
	"github.com/gomlx/go-nerkit/tags"
	"github.com/pkg/errors"
)

// TagMapping maps the tags found in a corpus to the tags the model is trained on,
// e.g. {"B-PER": "PER", "ORG*": "ORG"}.
type TagMapping map[string]string

// TagMappingFile is the file name of the mapping inside a dataset directory.
const TagMappingFile = "ner_tag_mapping.json"

// CreateTagMapping collects the distinct corpus tags of examples. With withTags the B-/I- prefixes
// are kept, otherwise they are removed (and "ORG*"-style suffixes too), so that "B-PER" and "I-PER" both map to "PER".
func CreateTagMapping(withTags bool, examples ...[]Example) TagMapping {
	mapping := make(TagMapping)
	for _, split := range examples {
		for _, ex := range split {
			for _, labels := range [][]string{ex.LabelsA, ex.LabelsB} {
				for _, tag := range labels {
					if _, found := mapping[tag]; found {
						continue
					}
					mapping[tag] = mapTag(tag, withTags)
				}
			}
		}
	}
	return mapping
}

func mapTag(tag string, withTags bool) string {
	if tag == tags.Outside {
		return tag
	}
	mapped := strings.TrimSuffix(tag, "*")
	if !withTags {
		if len(mapped) > 2 && (mapped[:2] == "B-" || mapped[:2] == "I-") {
			mapped = mapped[2:]
		}
	}
	return mapped
}

// LoadTagMapping reads a JSON tag mapping.
func LoadTagMapping(filePath string) (TagMapping, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading tag mapping %q", filePath)
	}
	var mapping TagMapping
	if err := json.Unmarshal(content, &mapping); err != nil {
		return nil, errors.Wrapf(err, "parsing tag mapping %q", filePath)
	}
	return mapping, nil
}

// Save writes the mapping as JSON.
func (m TagMapping) Save(filePath string) error {
	content, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding tag mapping")
	}
	return files.WriteAtomic(filePath, content, 0644)
}

// ModelTags returns the distinct model tags: "O" first (if present), then the others sorted.
func (m TagMapping) ModelTags() []string {
	seen := make(map[string]bool)
	var others []string
	hasOutside := false
	for _, tag := range m {
		if tag == tags.Outside {
			hasOutside = true
			continue
		}
		if !seen[tag] {
			seen[tag] = true
			others = append(others, tag)
		}
	}
	sort.Strings(others)
	if hasOutside {
		return append([]string{tags.Outside}, others...)
	}
	return others
}

// Vocabulary builds the label vocabulary: the default markers followed by ModelTags.
func (m TagMapping) Vocabulary() (*tags.Vocabulary, error) {
	return tags.NewDefault(m.ModelTags()...)
}

// Apply rewrites the labels of examples in place. A corpus tag missing from the mapping is an error.
func (m TagMapping) Apply(examples []Example) error {
	for i := range examples {
		for _, labels := range [][]string{examples[i].LabelsA, examples[i].LabelsB} {
			for j, tag := range labels {
				mapped, ok := m[tag]
				if !ok {
					return errors.Errorf("example %q: tag %q not in tag mapping", examples[i].GUID, tag)
				}
				labels[j] = mapped
			}
		}
	}
	return nil
}
