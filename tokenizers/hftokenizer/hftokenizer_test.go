package hftokenizer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/go-nerkit/tokenizers/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test tokenizer.json content for a cased WordPiece model (Swedish BERT-style).
var testWordPieceTokenizerJSON = []byte(`{
  "version": "1.0",
  "truncation": null,
  "padding": null,
  "added_tokens": [
    {"id": 0, "content": "[PAD]", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true},
    {"id": 1, "content": "[UNK]", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true},
    {"id": 2, "content": "[CLS]", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true},
    {"id": 3, "content": "[SEP]", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true},
    {"id": 4, "content": "[MASK]", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true}
  ],
  "normalizer": {
    "type": "BertNormalizer",
    "clean_text": true,
    "handle_chinese_chars": true,
    "strip_accents": false,
    "lowercase": false
  },
  "pre_tokenizer": {
    "type": "BertPreTokenizer"
  },
  "post_processor": null,
  "decoder": {
    "type": "WordPiece",
    "prefix": "##"
  },
  "model": {
    "type": "WordPiece",
    "unk_token": "[UNK]",
    "continuing_subword_prefix": "##",
    "max_input_chars_per_word": 100,
    "vocab": {
      "[PAD]": 0,
      "[UNK]": 1,
      "[CLS]": 2,
      "[SEP]": 3,
      "[MASK]": 4,
      "at": 5,
      "arbetsförmedling": 6,
      "##en": 7,
      "Stockholm": 8,
      ".": 9,
      "U": 10,
      "S": 11
    }
  }
}`)

func newTestTokenizer(t *testing.T) *Tokenizer {
	t.Helper()
	tok, err := NewFromContent(nil, testWordPieceTokenizerJSON)
	require.NoError(t, err)
	return tok
}

func TestTokenize(t *testing.T) {
	tok := newTestTokenizer(t)
	tests := []struct {
		name string
		word string
		want []string
	}{
		{"in vocab", "at", []string{"at"}},
		{"continuation", "arbetsförmedlingen", []string{"arbetsförmedling", "##en"}},
		{"punctuation splits", "U.S.", []string{"U", ".", "S", "."}},
		{"unknown", "xyz", []string{"[UNK]"}},
		{"cased model keeps case", "stockholm", []string{"[UNK]"}},
		{"special token", "[CLS]", []string{"[CLS]"}},
		{"only control characters", "\u0000", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tok.Tokenize(tt.word))
		})
	}
}

func TestConvertTokensToIDs(t *testing.T) {
	tok := newTestTokenizer(t)
	assert.Equal(t, []int{2, 5, 6, 7, 3, 1}, tok.ConvertTokensToIDs([]string{"[CLS]", "at", "arbetsförmedling", "##en", "[SEP]", "nope"}))
}

func TestEncodeDecode(t *testing.T) {
	tok := newTestTokenizer(t)
	ids := tok.Encode("at arbetsförmedlingen Stockholm")
	assert.Equal(t, []int{5, 6, 7, 8}, ids)
	assert.Equal(t, "at arbetsförmedlingen Stockholm", tok.Decode(ids))
}

func TestSpecialTokenID(t *testing.T) {
	tok := newTestTokenizer(t)
	tests := []struct {
		token api.SpecialToken
		want  int
	}{
		{api.TokPad, 0},
		{api.TokUnknown, 1},
		{api.TokClassification, 2},
		{api.TokBeginningOfSentence, 2},
		{api.TokEndOfSentence, 3},
		{api.TokMask, 4},
	}
	for _, tt := range tests {
		t.Run(tt.token.String(), func(t *testing.T) {
			id, err := tok.SpecialTokenID(tt.token)
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
	_, err := tok.SpecialTokenID(api.TokSpecialTokensCount)
	assert.Error(t, err)
}

func TestNewFromVocabFile(t *testing.T) {
	vocabPath := filepath.Join(t.TempDir(), "vocab.txt")
	require.NoError(t, os.WriteFile(vocabPath, []byte("[PAD]\n[UNK]\n[CLS]\n[SEP]\nat\nstockholm\n##s\n"), 0644))

	lower := true
	tok, err := NewFromVocabFile(&api.Config{DoLowerCase: &lower}, vocabPath)
	require.NoError(t, err)
	assert.Equal(t, 7, tok.VocabSize())
	assert.Equal(t, []string{"stockholm", "##s"}, tok.Tokenize("Stockholms"))
	id, err := tok.SpecialTokenID(api.TokPad)
	require.NoError(t, err)
	assert.Equal(t, 0, id)

	cased, err := NewFromVocabFile(nil, vocabPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"[UNK]"}, cased.Tokenize("Stockholms"))
}

func TestStripAccents(t *testing.T) {
	content := []byte(`{"normalizer": {"type": "BertNormalizer", "lowercase": true},
		"model": {"type": "WordPiece", "unk_token": "[UNK]", "vocab": {"[UNK]": 0, "arbetsformedlingen": 1}}}`)
	tok, err := NewFromContent(nil, content)
	require.NoError(t, err)
	assert.Equal(t, []string{"arbetsformedlingen"}, tok.Tokenize("Arbetsförmedlingen"))
}

func TestInvalidContent(t *testing.T) {
	_, err := NewFromContent(nil, []byte("{not json"))
	assert.Error(t, err)

	_, err = NewFromContent(nil, []byte(`{"model": {"type": "BPE", "vocab": {"a": 0}}}`))
	assert.Error(t, err)

	_, err = NewFromContent(nil, []byte(`{"model": {"type": "WordPiece", "vocab": {}}}`))
	assert.Error(t, err)
}

func TestBertPreTokenize(t *testing.T) {
	assert.Equal(t, []string{"hej", ",", "världen", "!"}, bertPreTokenize("hej, världen!"))
	assert.Empty(t, bertPreTokenize("   "))
}
