// Package tokenizers creates the word tokenizer of a pretrained encoder, choosing the implementation
// from the files available in its HuggingFace Hub repository or from a local file.
package tokenizers

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomlx/go-nerkit/hub"
	"github.com/gomlx/go-nerkit/tokenizers/api"
	"github.com/gomlx/go-nerkit/tokenizers/hftokenizer"
	"github.com/gomlx/go-nerkit/tokenizers/sentencepiece"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Tokenizer is what the encoders need: both the text and the word-level capabilities.
type Tokenizer interface {
	api.Tokenizer
	api.WordTokenizer
}

// LoadConfig reads the repo's tokenizer_config.json. A missing file yields an empty config.
func LoadConfig(repo *hub.Repo) (*api.Config, error) {
	configPath, err := repo.DownloadFile("tokenizer_config.json")
	if err != nil {
		if errors.Is(err, hub.ErrNotFound) {
			return &api.Config{}, nil
		}
		return nil, err
	}
	return LoadConfigFile(configPath)
}

// LoadConfigFile parses a local tokenizer_config.json.
func LoadConfigFile(configPath string) (*api.Config, error) {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %q", configPath)
	}
	config := &api.Config{}
	if err := json.Unmarshal(content, config); err != nil {
		return nil, errors.Wrapf(err, "parsing %q", configPath)
	}
	return config, nil
}

// New creates the tokenizer for the repo: a WordPiece tokenizer if it has tokenizer.json or vocab.txt,
// otherwise a SentencePiece one from tokenizer.model.
//
// If uncased is true, lower-casing is forced for vocab.txt based tokenizers.
func New(repo *hub.Repo, uncased bool) (Tokenizer, error) {
	config, err := LoadConfig(repo)
	if err != nil {
		return nil, err
	}
	if uncased {
		config.DoLowerCase = &uncased
	}
	wp, err := hftokenizer.New(config, repo)
	if err == nil {
		klog.V(1).Infof("using WordPiece tokenizer for %q", repo.ID)
		return wp, nil
	}
	if !errors.Is(err, hub.ErrNotFound) {
		return nil, err
	}
	sp, spErr := sentencepiece.New(repo)
	if spErr != nil {
		return nil, errors.WithMessagef(spErr, "repo %q has no tokenizer.json, vocab.txt or tokenizer.model", repo.ID)
	}
	klog.V(1).Infof("using SentencePiece tokenizer for %q", repo.ID)
	return sp, nil
}

// NewFromFile creates a tokenizer from a local file, by its name: "*.json" for tokenizer.json,
// "*.model" for SentencePiece, anything else is read as a vocab.txt.
func NewFromFile(filePath string, uncased bool) (Tokenizer, error) {
	config := &api.Config{}
	if uncased {
		config.DoLowerCase = &uncased
	}
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".json":
		return hftokenizer.NewFromFile(config, filePath)
	case ".model":
		return sentencepiece.NewFromFile(filePath)
	default:
		return hftokenizer.NewFromVocabFile(config, filePath)
	}
}
