package cli

import (
	"fmt"
	"path/filepath"

	"github.com/gomlx/go-nerkit/dataset"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

func (c *CLI) newTagMappingCommand() *cobra.Command {
	var (
		name     string
		withTags bool
	)
	cmd := &cobra.Command{
		Use:   "tag-mapping",
		Short: "Create " + dataset.TagMappingFile + " for a dataset",
		Long: `Collects the tags of all splits of the dataset and writes the mapping from corpus tags to
model tags. Without --with-tags, B-/I- prefixes are removed so "B-PER" and "I-PER" both map to "PER".`,
		Args:    cobra.NoArgs,
		Example: `  nerkit tag-mapping --dataset swedish_ner_corpus`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dirs, err := c.resolvedDirs()
			if err != nil {
				return err
			}
			dir, err := dataset.Path(dirs.Datasets, name)
			if err != nil {
				return err
			}
			splits, err := dataset.ReadSplits(dir, false)
			if err != nil {
				return err
			}
			mapping := dataset.CreateTagMapping(withTags, splits.Train, splits.Valid, splits.Test)
			filePath := filepath.Join(dir, dataset.TagMappingFile)
			if err := mapping.Save(filePath); err != nil {
				return err
			}
			klog.Infof("%d corpus tags mapped to %v in %q", len(mapping), mapping.ModelTags(), filePath)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "dataset", "", fmt.Sprintf("Dataset name, one of %v", dataset.KnownDatasets))
	cmd.Flags().BoolVar(&withTags, "with-tags", false, "Keep the B-/I- prefixes of the corpus tags")
	_ = cmd.MarkFlagRequired("dataset")
	return cmd
}

func (c *CLI) newDatasetsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "datasets",
		Short: "List the datasets available in the datasets directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dirs, err := c.resolvedDirs()
			if err != nil {
				return err
			}
			names, err := dataset.Available(dirs.Datasets)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(c.out, name)
			}
			return nil
		},
	}
}
