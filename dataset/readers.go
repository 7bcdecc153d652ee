package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"
)

// ReadTSV reads a corpus file with a header line and two tab separated columns: the space separated
// tags and the space separated words of each sentence.
//
// If lowercase is set, the words are lower-cased (for uncased encoders).
func ReadTSV(filePath, split string, lowercase bool) ([]Example, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening corpus file %q", filePath)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = '\t'
	r.LazyQuotes = true
	r.FieldsPerRecord = 2
	r.ReuseRecord = true

	// Skip the header.
	if _, err := r.Read(); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "reading header of %q", filePath)
	}

	var examples []Example
	for i := 0; ; i++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "reading %q", filePath)
		}
		text := strings.TrimSpace(record[1])
		if lowercase {
			text = strings.ToLower(text)
		}
		ex, err := NewExample(fmt.Sprintf("%s-%d", split, i), text, strings.TrimSpace(record[0]))
		if err != nil {
			return nil, errors.WithMessagef(err, "in %q", filePath)
		}
		examples = append(examples, ex)
	}
	return examples, nil
}

// ParquetRow is the row layout of HuggingFace NER datasets exported to parquet (e.g. conll2003):
// the words and their class-label ids.
type ParquetRow struct {
	ID      string   `parquet:"id,optional"`
	Tokens  []string `parquet:"tokens,list"`
	NerTags []int64  `parquet:"ner_tags,list"`
}

// ReadParquet reads a parquet corpus file, converting the ner_tags class ids to tag names with classNames.
func ReadParquet(filePath, split string, classNames []string, lowercase bool) ([]Example, error) {
	rows, err := parquet.ReadFile[ParquetRow](filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading parquet corpus %q", filePath)
	}
	examples := make([]Example, 0, len(rows))
	for i, row := range rows {
		guid := row.ID
		if guid == "" {
			guid = fmt.Sprintf("%d", i)
		}
		ex := Example{
			GUID:    fmt.Sprintf("%s-%s", split, guid),
			TextA:   make([]string, len(row.Tokens)),
			LabelsA: make([]string, len(row.NerTags)),
		}
		for j, word := range row.Tokens {
			if lowercase {
				word = strings.ToLower(word)
			}
			ex.TextA[j] = word
		}
		for j, classID := range row.NerTags {
			if classID < 0 || int(classID) >= len(classNames) {
				return nil, errors.Errorf("%q row %d: ner tag id %d out of range for %d class names", filePath, i, classID, len(classNames))
			}
			ex.LabelsA[j] = classNames[classID]
		}
		if err := ex.Validate(); err != nil {
			return nil, errors.WithMessagef(err, "in %q", filePath)
		}
		examples = append(examples, ex)
	}
	return examples, nil
}

// WriteParquet writes examples in the ParquetRow layout, converting tags to class ids with classNames.
func WriteParquet(filePath string, examples []Example, classNames []string) error {
	classIDs := make(map[string]int64, len(classNames))
	for i, name := range classNames {
		classIDs[name] = int64(i)
	}
	rows := make([]ParquetRow, len(examples))
	for i, ex := range examples {
		rows[i] = ParquetRow{ID: ex.GUID, Tokens: ex.TextA, NerTags: make([]int64, len(ex.LabelsA))}
		for j, tag := range ex.LabelsA {
			id, ok := classIDs[tag]
			if !ok {
				return errors.Errorf("example %q: tag %q not in class names", ex.GUID, tag)
			}
			rows[i].NerTags[j] = id
		}
	}
	if err := parquet.WriteFile(filePath, rows); err != nil {
		return errors.Wrapf(err, "writing parquet corpus %q", filePath)
	}
	return nil
}
