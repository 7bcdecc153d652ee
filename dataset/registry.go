package dataset

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"github.com/gomlx/go-nerkit/internal/files"
	"github.com/gomlx/go-nerkit/tags"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrUnknownDataset is returned for dataset names that are not registered.
var ErrUnknownDataset = errors.New("unknown dataset")

// KnownDatasets are the dataset names accepted by Path.
var KnownDatasets = []string{"conll2003", "suc", "swedish_ner_corpus"}

// ClassNamesFile lists, as a JSON array, the tag names of the class ids used by parquet splits.
const ClassNamesFile = "class_names.json"

// Splits in the order they are loaded.
const (
	SplitTrain = "train"
	SplitValid = "valid"
	SplitTest  = "test"
)

// Path returns the directory of the named dataset under dirDatasets.
func Path(dirDatasets, name string) (string, error) {
	if !slices.Contains(KnownDatasets, name) {
		return "", errors.Wrapf(ErrUnknownDataset, "dataset %q (known: %v)", name, KnownDatasets)
	}
	return filepath.Join(dirDatasets, name), nil
}

// Available lists the sub-directories of dirDatasets, sorted.
func Available(dirDatasets string) ([]string, error) {
	entries, err := os.ReadDir(dirDatasets)
	if err != nil {
		return nil, errors.Wrapf(err, "listing datasets in %q", dirDatasets)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// LoadOptions configures Load.
type LoadOptions struct {
	// Lowercase the words, for uncased encoders.
	Lowercase bool

	// Prune ratios for each split; 0 means no pruning.
	PruneTrain, PruneValid, PruneTest float64
}

// Corpus holds the splits of a dataset, with tags already mapped to model tags.
type Corpus struct {
	Dir        string
	Train      []Example
	Valid      []Example
	Test       []Example
	Mapping    TagMapping
	Vocabulary *tags.Vocabulary
}

// Splits holds the examples of each split of a dataset, with the tags as found in its files.
type Splits struct {
	Train, Valid, Test []Example
}

// ReadSplits reads the train, valid and (optional) test splits of the dataset in dir. Each split is
// read from "<split>.csv" (see ReadTSV) or "<split>.parquet" (see ReadParquet, which needs
// class_names.json).
func ReadSplits(dir string, lowercase bool) (*Splits, error) {
	s := &Splits{}
	var classNames []string
	for _, split := range []struct {
		name     string
		target   *[]Example
		required bool
	}{
		{SplitTrain, &s.Train, true},
		{SplitValid, &s.Valid, true},
		{SplitTest, &s.Test, false},
	} {
		csvPath := filepath.Join(dir, split.name+".csv")
		parquetPath := filepath.Join(dir, split.name+".parquet")
		var examples []Example
		var err error
		switch {
		case files.Exists(csvPath):
			examples, err = ReadTSV(csvPath, split.name, lowercase)
		case files.Exists(parquetPath):
			if classNames == nil {
				classNames, err = loadClassNames(filepath.Join(dir, ClassNamesFile))
				if err != nil {
					return nil, err
				}
			}
			examples, err = ReadParquet(parquetPath, split.name, classNames, lowercase)
		case split.required:
			return nil, errors.Errorf("dataset %q has no %s split (.csv or .parquet)", dir, split.name)
		default:
			continue
		}
		if err != nil {
			return nil, err
		}
		*split.target = examples
	}
	return s, nil
}

// Load reads the splits of the dataset in dir (see ReadSplits) and maps their tags with the dataset's
// ner_tag_mapping.json; if missing, a prefix-free mapping is derived from the corpus itself.
func Load(dir string, opts LoadOptions) (*Corpus, error) {
	s, err := ReadSplits(dir, opts.Lowercase)
	if err != nil {
		return nil, err
	}
	c := &Corpus{Dir: dir, Train: s.Train, Valid: s.Valid, Test: s.Test}

	mappingPath := filepath.Join(dir, TagMappingFile)
	if files.Exists(mappingPath) {
		mapping, err := LoadTagMapping(mappingPath)
		if err != nil {
			return nil, err
		}
		c.Mapping = mapping
	} else {
		klog.Warningf("dataset %q has no %s, deriving it from the corpus", dir, TagMappingFile)
		c.Mapping = CreateTagMapping(false, c.Train, c.Valid, c.Test)
	}
	for _, split := range [][]Example{c.Train, c.Valid, c.Test} {
		if err := c.Mapping.Apply(split); err != nil {
			return nil, err
		}
	}
	// Pruning comes after the mapping, so the vocabulary covers the whole corpus.
	for _, split := range []struct {
		name   string
		target *[]Example
		prune  float64
	}{
		{SplitTrain, &c.Train, opts.PruneTrain},
		{SplitValid, &c.Valid, opts.PruneValid},
		{SplitTest, &c.Test, opts.PruneTest},
	} {
		if split.prune > 0 {
			*split.target = Prune(*split.target, split.prune)
		}
		klog.V(1).Infof("dataset %q: %d %s examples", dir, len(*split.target), split.name)
	}
	vocab, err := c.Mapping.Vocabulary()
	if err != nil {
		return nil, errors.WithMessagef(err, "building tag vocabulary of %q", dir)
	}
	c.Vocabulary = vocab
	return c, nil
}

func loadClassNames(filePath string) ([]string, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading class names %q", filePath)
	}
	var names []string
	if err := json.Unmarshal(content, &names); err != nil {
		return nil, errors.Wrapf(err, "parsing class names %q", filePath)
	}
	return names, nil
}
