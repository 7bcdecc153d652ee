// Package tracking records experiment runs: a local run store for parameters, metric series and
// artifacts, and an EventWriter producing TensorBoard event files for scalar series.
//
// The store lays runs out as:
//
//	<root>/<experiment>/meta.yaml
//	<root>/<experiment>/<run id>/meta.yaml
//	<root>/<experiment>/<run id>/params.yaml
//	<root>/<experiment>/<run id>/metrics/<metric name>   (lines "<unix millis> <value> <step>")
//	<root>/<experiment>/<run id>/artifacts/<file>
package tracking

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/gomlx/go-nerkit/internal/files"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

// Run statuses.
const (
	StatusRunning  = "RUNNING"
	StatusFinished = "FINISHED"
	StatusFailed   = "FAILED"
)

const (
	metaFile    = "meta.yaml"
	paramsFile  = "params.yaml"
	lockFile    = ".lock"
	metricsDir  = "metrics"
	artifactDir = "artifacts"
)

// Store is a directory of experiments and their runs.
type Store struct {
	root string
}

// NewStore creates the store root directory if needed.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating tracking directory %q", root)
	}
	return &Store{root: root}, nil
}

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

// ExperimentMeta is the meta.yaml of an experiment.
type ExperimentMeta struct {
	Name         string `yaml:"name"`
	CreationTime int64  `yaml:"creation_time"`
}

// RunMeta is the meta.yaml of a run. Times are Unix milliseconds.
type RunMeta struct {
	ID         string `yaml:"run_id"`
	Name       string `yaml:"run_name"`
	Experiment string `yaml:"experiment"`
	Status     string `yaml:"status"`
	StartTime  int64  `yaml:"start_time"`
	EndTime    int64  `yaml:"end_time,omitempty"`
}

// Run is an active run. Its methods are safe for concurrent use.
type Run struct {
	dir string

	mu   sync.Mutex
	meta RunMeta
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return errors.Errorf("invalid experiment or run name %q", name)
	}
	return nil
}

// StartRun creates a new run with a random id in the experiment, creating the experiment if needed.
// Concurrent processes starting runs of the same experiment are serialized by a file lock.
func (s *Store) StartRun(experiment, runName string) (*Run, error) {
	if err := validName(experiment); err != nil {
		return nil, err
	}
	expDir := filepath.Join(s.root, experiment)
	if err := os.MkdirAll(expDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating experiment directory %q", expDir)
	}
	lock := flock.New(filepath.Join(expDir, lockFile))
	if err := lock.Lock(); err != nil {
		return nil, errors.Wrapf(err, "locking experiment %q", experiment)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			klog.Errorf("Error unlocking experiment %q: %v", experiment, err)
		}
	}()

	expMetaPath := filepath.Join(expDir, metaFile)
	if !files.Exists(expMetaPath) {
		if err := writeYAML(expMetaPath, ExperimentMeta{Name: experiment, CreationTime: time.Now().UnixMilli()}); err != nil {
			return nil, err
		}
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	r := &Run{
		dir: filepath.Join(expDir, id),
		meta: RunMeta{
			ID:         id,
			Name:       runName,
			Experiment: experiment,
			Status:     StatusRunning,
			StartTime:  time.Now().UnixMilli(),
		},
	}
	for _, dir := range []string{r.dir, filepath.Join(r.dir, metricsDir), filepath.Join(r.dir, artifactDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrapf(err, "creating run directory %q", dir)
		}
	}
	if err := writeYAML(filepath.Join(r.dir, metaFile), r.meta); err != nil {
		return nil, err
	}
	klog.V(1).Infof("tracking run %s/%s started in %q", experiment, runName, r.dir)
	return r, nil
}

// ID returns the run id.
func (r *Run) ID() string { return r.meta.ID }

// Dir returns the run directory.
func (r *Run) Dir() string { return r.dir }

// LogParams adds params to the run's parameters; later values replace earlier ones.
func (r *Run) LogParams(params map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	path := filepath.Join(r.dir, paramsFile)
	all := make(map[string]any)
	if files.Exists(path) {
		if err := readYAML(path, &all); err != nil {
			return err
		}
	}
	for k, v := range params {
		all[k] = v
	}
	return writeYAML(path, all)
}

// LogMetric appends one point to the metric's series.
func (r *Run) LogMetric(name string, value float64, step int) error {
	return r.LogMetrics(step, map[string]float64{name: value})
}

// LogMetrics appends one point at step to the series of each metric.
func (r *Run) LogMetrics(step int, values map[string]float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UnixMilli()
	for name, value := range values {
		if err := validName(name); err != nil {
			return err
		}
		path := filepath.Join(r.dir, metricsDir, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return errors.Wrapf(err, "opening metric series %q", path)
		}
		_, err = fmt.Fprintf(f, "%d %s %d\n", now, strconv.FormatFloat(value, 'g', -1, 64), step)
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return errors.Wrapf(err, "writing metric series %q", path)
		}
	}
	return nil
}

// LogArtifact stores content as the named artifact file.
func (r *Run) LogArtifact(name string, content []byte) error {
	if err := validName(name); err != nil {
		return err
	}
	return files.WriteAtomic(filepath.Join(r.dir, artifactDir, name), content, 0644)
}

// End marks the run with status (StatusFinished or StatusFailed).
func (r *Run) End(status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meta.Status = status
	r.meta.EndTime = time.Now().UnixMilli()
	return writeYAML(filepath.Join(r.dir, metaFile), r.meta)
}

// Runs lists the runs of experiment, sorted by start time.
func (s *Store) Runs(experiment string) ([]RunMeta, error) {
	expDir := filepath.Join(s.root, experiment)
	entries, err := os.ReadDir(expDir)
	if err != nil {
		return nil, errors.Wrapf(err, "listing runs of experiment %q", experiment)
	}
	var runs []RunMeta
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var meta RunMeta
		if err := readYAML(filepath.Join(expDir, e.Name(), metaFile), &meta); err != nil {
			klog.Warningf("skipping run directory %q: %v", e.Name(), err)
			continue
		}
		runs = append(runs, meta)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartTime < runs[j].StartTime })
	return runs, nil
}

// MetricPoint is one entry of a metric series.
type MetricPoint struct {
	Timestamp int64
	Value     float64
	Step      int
}

// ReadMetric returns the series of a metric of a run, in logging order.
func (s *Store) ReadMetric(experiment, runID, name string) ([]MetricPoint, error) {
	path := filepath.Join(s.root, experiment, runID, metricsDir, name)
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening metric series %q", path)
	}
	defer func() { _ = f.Close() }()

	var points []MetricPoint
	scanner := bufio.NewScanner(f)
	for lineNum := 1; scanner.Scan(); lineNum++ {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 3 {
			return nil, errors.Errorf("%s:%d: want 3 fields, got %d", path, lineNum, len(fields))
		}
		var p MetricPoint
		if p.Timestamp, err = strconv.ParseInt(fields[0], 10, 64); err == nil {
			if p.Value, err = strconv.ParseFloat(fields[1], 64); err == nil {
				p.Step, err = strconv.Atoi(fields[2])
			}
		}
		if err != nil {
			return nil, errors.Wrapf(err, "%s:%d", path, lineNum)
		}
		points = append(points, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading metric series %q", path)
	}
	return points, nil
}

// ReadParams returns the logged parameters of a run.
func (s *Store) ReadParams(experiment, runID string) (map[string]any, error) {
	params := make(map[string]any)
	err := readYAML(filepath.Join(s.root, experiment, runID, paramsFile), &params)
	return params, err
}

func writeYAML(path string, value any) error {
	content, err := yaml.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "encoding %q", path)
	}
	return files.WriteAtomic(path, content, 0644)
}

func readYAML(path string, value any) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading %q", path)
	}
	if err := yaml.Unmarshal(content, value); err != nil {
		return errors.Wrapf(err, "parsing %q", path)
	}
	return nil
}
