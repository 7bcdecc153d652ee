// nerkit trains and evaluates token-classification (NER) models on tagged corpora.
//
// Usage:
//
//	nerkit run --experiment exp0 [--run run1]
//	nerkit tag-mapping --dataset swedish_ner_corpus [--with-tags]
//	nerkit datasets
//	nerkit runs --experiment exp0
//
// Directories are read from DIR_DATASETS, DIR_EXPERIMENTS, DIR_TRACKING, DIR_TENSORBOARD and
// DIR_CHECKPOINTS, and can be overridden with flags.
package main

import (
	"github.com/gomlx/go-nerkit/internal/cli"
	"k8s.io/klog/v2"
)

var version = "dev"

func main() {
	if err := cli.New(version).Run(); err != nil {
		klog.Fatalf("nerkit: %+v", err)
	}
}
