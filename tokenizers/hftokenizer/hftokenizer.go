// Package hftokenizer implements a WordPiece tokenizer for HuggingFace's tokenizer.json format,
// as well as for the older vocab.txt format used by BERT checkpoints.
//
// Besides the api.Tokenizer interface, it implements api.WordTokenizer, which splits one word into its
// word-pieces, as needed to align word-level NER labels with sub-tokens.
package hftokenizer

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"unicode"

	"github.com/gomlx/go-nerkit/hub"
	"github.com/gomlx/go-nerkit/tokenizers/api"
	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"
)

// TokenizerJSON represents the parts of HuggingFace's tokenizer.json file used by WordPiece models.
type TokenizerJSON struct {
	Version      string        `json:"version"`
	AddedTokens  []AddedToken  `json:"added_tokens"`
	Normalizer   *Normalizer   `json:"normalizer"`
	PreTokenizer *PreTokenizer `json:"pre_tokenizer"`
	Decoder      *Decoder      `json:"decoder"`
	Model        Model         `json:"model"`
}

// AddedToken represents a special token added to the vocabulary.
type AddedToken struct {
	ID         int    `json:"id"`
	Content    string `json:"content"`
	SingleWord bool   `json:"single_word"`
	Lstrip     bool   `json:"lstrip"`
	Rstrip     bool   `json:"rstrip"`
	Normalized bool   `json:"normalized"`
	Special    bool   `json:"special"`
}

// Normalizer represents the normalizer configuration.
type Normalizer struct {
	Type               string       `json:"type"`
	CleanText          *bool        `json:"clean_text"`
	HandleChineseChars *bool        `json:"handle_chinese_chars"`
	StripAccents       *bool        `json:"strip_accents"`
	Lowercase          bool         `json:"lowercase"`
	Normalizers        []Normalizer `json:"normalizers"`
}

// PreTokenizer represents the pre-tokenizer configuration.
type PreTokenizer struct {
	Type          string         `json:"type"`
	PreTokenizers []PreTokenizer `json:"pretokenizers"`
}

// Decoder represents the decoder configuration.
type Decoder struct {
	Type   string `json:"type"`
	Prefix string `json:"prefix"`
}

// Model represents the WordPiece model.
type Model struct {
	Type                    string         `json:"type"`
	Vocab                   map[string]int `json:"vocab"`
	UnkToken                string         `json:"unk_token"`
	ContinuingSubwordPrefix string         `json:"continuing_subword_prefix"`
	MaxInputCharsPerWord    int            `json:"max_input_chars_per_word"`
}

// Tokenizer implements api.Tokenizer and api.WordTokenizer for WordPiece vocabularies.
type Tokenizer struct {
	config    *api.Config
	vocab     map[string]int
	idToToken map[int]string

	prefix   string
	maxChars int
	unkToken string

	// normalization
	lowercase    bool
	stripAccents bool
	cleanText    bool
	chineseChars bool

	// Special token IDs, -1 if not present.
	unkID  int
	padID  int
	clsID  int
	sepID  int
	maskID int

	// Added tokens are matched as whole words, before normalization.
	addedTokens map[string]int
}

// Compile time assert that Tokenizer implements the api interfaces.
var (
	_ api.Tokenizer     = &Tokenizer{}
	_ api.WordTokenizer = &Tokenizer{}
)

// New creates a WordPiece tokenizer from the repo's tokenizer.json file or, if that is missing,
// from its vocab.txt.
func New(config *api.Config, repo *hub.Repo) (*Tokenizer, error) {
	tokenizerFile, err := repo.DownloadFile("tokenizer.json")
	if err == nil {
		return NewFromFile(config, tokenizerFile)
	}
	if !errors.Is(err, hub.ErrNotFound) {
		return nil, errors.WithMessage(err, "can't download tokenizer.json file")
	}
	vocabFile, err := repo.DownloadFile("vocab.txt")
	if err != nil {
		return nil, errors.WithMessage(err, "neither tokenizer.json nor vocab.txt could be downloaded")
	}
	return NewFromVocabFile(config, vocabFile)
}

// NewFromFile creates a tokenizer from a local tokenizer.json file path.
func NewFromFile(config *api.Config, filePath string) (*Tokenizer, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read tokenizer.json file %q", filePath)
	}
	return NewFromContent(config, content)
}

// NewFromContent creates a tokenizer from tokenizer.json content.
// Only WordPiece models are supported.
func NewFromContent(config *api.Config, content []byte) (*Tokenizer, error) {
	var tj TokenizerJSON
	if err := json.Unmarshal(content, &tj); err != nil {
		return nil, errors.Wrapf(err, "failed to parse tokenizer.json")
	}
	if tj.Model.Type != "WordPiece" {
		return nil, errors.Errorf("tokenizer model type %q not supported, only WordPiece", tj.Model.Type)
	}
	if len(tj.Model.Vocab) == 0 {
		return nil, errors.New("tokenizer.json has an empty vocabulary")
	}

	t := newTokenizer(config, tj.Model.Vocab)
	if tj.Model.ContinuingSubwordPrefix != "" {
		t.prefix = tj.Model.ContinuingSubwordPrefix
	}
	if tj.Model.MaxInputCharsPerWord > 0 {
		t.maxChars = tj.Model.MaxInputCharsPerWord
	}
	if tj.Model.UnkToken != "" {
		t.unkToken = tj.Model.UnkToken
	}
	for _, at := range tj.AddedTokens {
		t.addedTokens[at.Content] = at.ID
		t.idToToken[at.ID] = at.Content
	}
	t.lowercase, t.stripAccents, t.cleanText, t.chineseChars = false, false, false, false
	if tj.Normalizer != nil {
		t.configureNormalizer(tj.Normalizer)
	}
	t.resolveSpecialTokens()
	return t, nil
}

// NewFromVocabFile creates a tokenizer from a BERT vocab.txt file: one token per line, the id is the line number.
//
// Lower-casing follows config.DoLowerCase, and is off if config is nil or doesn't define it:
// cased models must not be lower-cased.
func NewFromVocabFile(config *api.Config, filePath string) (*Tokenizer, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read vocabulary file %q", filePath)
	}
	vocab := make(map[string]int)
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for id := 0; scanner.Scan(); id++ {
		token := strings.TrimRight(scanner.Text(), "\r")
		if _, found := vocab[token]; !found {
			vocab[token] = id
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to scan vocabulary file %q", filePath)
	}
	if len(vocab) == 0 {
		return nil, errors.Errorf("vocabulary file %q is empty", filePath)
	}
	t := newTokenizer(config, vocab)
	if config != nil && config.DoLowerCase != nil {
		t.lowercase = *config.DoLowerCase
		t.stripAccents = t.lowercase
	}
	for _, special := range []string{"[PAD]", "[UNK]", "[CLS]", "[SEP]", "[MASK]"} {
		if id, ok := vocab[special]; ok {
			t.addedTokens[special] = id
		}
	}
	t.resolveSpecialTokens()
	return t, nil
}

func newTokenizer(config *api.Config, vocab map[string]int) *Tokenizer {
	t := &Tokenizer{
		config:       config,
		vocab:        vocab,
		idToToken:    make(map[int]string, len(vocab)),
		addedTokens:  make(map[string]int),
		prefix:       "##",
		maxChars:     100,
		unkToken:     "[UNK]",
		cleanText:    true,
		chineseChars: true,
		unkID:        -1,
		padID:        -1,
		clsID:        -1,
		sepID:        -1,
		maskID:       -1,
	}
	for token, id := range vocab {
		t.idToToken[id] = token
	}
	return t
}

func (t *Tokenizer) configureNormalizer(n *Normalizer) {
	switch n.Type {
	case "BertNormalizer":
		t.cleanText = n.CleanText == nil || *n.CleanText
		t.chineseChars = n.HandleChineseChars == nil || *n.HandleChineseChars
		t.lowercase = n.Lowercase
		if n.StripAccents != nil {
			t.stripAccents = *n.StripAccents
		} else {
			// HuggingFace default: strip accents iff lower-casing.
			t.stripAccents = n.Lowercase
		}
	case "Lowercase":
		t.lowercase = true
	case "StripAccents":
		t.stripAccents = true
	case "Sequence":
		for i := range n.Normalizers {
			t.configureNormalizer(&n.Normalizers[i])
		}
	}
}

// resolveSpecialTokens maps special tokens to their IDs, first from the config, then from BERT's conventional names.
func (t *Tokenizer) resolveSpecialTokens() {
	lookup := func(candidates ...string) int {
		for _, c := range candidates {
			if c == "" {
				continue
			}
			if id, ok := t.addedTokens[c]; ok {
				return id
			}
			if id, ok := t.vocab[c]; ok {
				return id
			}
		}
		return -1
	}
	var cfg api.Config
	if t.config != nil {
		cfg = *t.config
	}
	t.unkID = lookup(cfg.UnkToken, t.unkToken, "[UNK]", "<unk>")
	t.padID = lookup(cfg.PadToken, "[PAD]", "<pad>")
	t.clsID = lookup(cfg.ClsToken, cfg.BosToken, "[CLS]", "<s>")
	t.sepID = lookup(cfg.SepToken, cfg.EosToken, "[SEP]", "</s>")
	t.maskID = lookup(cfg.MaskToken, "[MASK]", "<mask>")
}

// Encode converts text to a sequence of token IDs, without special tokens.
func (t *Tokenizer) Encode(text string) []int {
	var ids []int
	for _, word := range strings.Fields(text) {
		ids = append(ids, t.ConvertTokensToIDs(t.Tokenize(word))...)
	}
	return ids
}

// Tokenize splits one word into its word-pieces. Punctuation inside the word becomes separate pieces,
// as BERT's pre-tokenizer would split it.
//
// It implements api.WordTokenizer.
func (t *Tokenizer) Tokenize(word string) []string {
	if _, ok := t.addedTokens[word]; ok {
		return []string{word}
	}
	var pieces []string
	for _, w := range bertPreTokenize(t.normalize(word)) {
		pieces = append(pieces, t.wordPiece(w)...)
	}
	return pieces
}

// ConvertTokensToIDs maps tokens to ids; unknown tokens map to the unknown token id (or 0 if there is none).
//
// It implements api.WordTokenizer.
func (t *Tokenizer) ConvertTokensToIDs(tokens []string) []int {
	ids := make([]int, len(tokens))
	for i, token := range tokens {
		if id, ok := t.TokenToID(token); ok {
			ids[i] = id
		} else if t.unkID >= 0 {
			ids[i] = t.unkID
		}
	}
	return ids
}

// normalize applies the configured normalization to the text.
func (t *Tokenizer) normalize(text string) string {
	if t.cleanText {
		text = cleanText(text)
	}
	if t.chineseChars {
		text = padChineseChars(text)
	}
	if t.lowercase {
		text = strings.ToLower(text)
	}
	if t.stripAccents {
		text = norm.NFC.String(removeAccents(norm.NFD.String(text)))
	}
	return text
}

// wordPiece implements greedy longest-match-first WordPiece on one pre-tokenized word.
func (t *Tokenizer) wordPiece(word string) []string {
	if word == "" {
		return nil
	}
	if len([]rune(word)) > t.maxChars {
		return []string{t.unkToken}
	}

	var pieces []string
	start := 0
	for start < len(word) {
		end := len(word)
		found := ""
		for start < end {
			substr := word[start:end]
			if start > 0 {
				substr = t.prefix + substr
			}
			if _, ok := t.vocab[substr]; ok {
				found = substr
				break
			}
			// Step back one rune, not one byte.
			end = lastRuneStart(word, start, end)
		}
		if found == "" {
			return []string{t.unkToken}
		}
		pieces = append(pieces, found)
		start = end
	}
	return pieces
}

// lastRuneStart returns the byte position of the last rune in word[start:end].
func lastRuneStart(word string, start, end int) int {
	for end--; end > start; end-- {
		if (word[end] & 0xC0) != 0x80 {
			break
		}
	}
	return end
}

// Decode converts a sequence of token IDs back to text, gluing continuation pieces.
func (t *Tokenizer) Decode(ids []int) string {
	var result strings.Builder
	for i, id := range ids {
		token, ok := t.idToToken[id]
		if !ok {
			continue
		}
		if strings.HasPrefix(token, t.prefix) {
			result.WriteString(strings.TrimPrefix(token, t.prefix))
			continue
		}
		if i > 0 {
			result.WriteString(" ")
		}
		result.WriteString(token)
	}
	return result.String()
}

// SpecialTokenID returns the ID for a given special token.
func (t *Tokenizer) SpecialTokenID(token api.SpecialToken) (int, error) {
	var id int
	switch token {
	case api.TokUnknown:
		id = t.unkID
	case api.TokPad:
		id = t.padID
	case api.TokBeginningOfSentence, api.TokClassification:
		id = t.clsID
	case api.TokEndOfSentence:
		id = t.sepID
	case api.TokMask:
		id = t.maskID
	default:
		id = -1
	}
	if id < 0 {
		return 0, errors.Errorf("special token %s not found", token)
	}
	return id, nil
}

// VocabSize returns the number of distinct ids.
func (t *Tokenizer) VocabSize() int {
	return len(t.idToToken)
}

// TokenToID converts a token string to its ID.
func (t *Tokenizer) TokenToID(token string) (int, bool) {
	if id, ok := t.addedTokens[token]; ok {
		return id, true
	}
	id, ok := t.vocab[token]
	return id, ok
}

// IDToToken converts a token ID to its string.
func (t *Tokenizer) IDToToken(id int) (string, bool) {
	token, ok := t.idToToken[id]
	return token, ok
}

// Helper functions

func cleanText(text string) string {
	var result strings.Builder
	for _, r := range text {
		if r == 0 || r == 0xFFFD || isControl(r) {
			continue
		}
		if isWhitespace(r) {
			result.WriteRune(' ')
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

func padChineseChars(text string) string {
	var result strings.Builder
	for _, r := range text {
		if unicode.Is(unicode.Han, r) {
			result.WriteRune(' ')
			result.WriteRune(r)
			result.WriteRune(' ')
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

func isWhitespace(r rune) bool {
	if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
		return true
	}
	return unicode.Is(unicode.Zs, r)
}

func isControl(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return unicode.IsControl(r)
}

func isPunctuation(r rune) bool {
	// ASCII punctuation
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) ||
		(r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}

func removeAccents(text string) string {
	var result strings.Builder
	for _, r := range text {
		if !unicode.Is(unicode.Mn, r) { // Mn = Mark, Nonspacing
			result.WriteRune(r)
		}
	}
	return result.String()
}

func bertPreTokenize(text string) []string {
	var tokens []string
	var current strings.Builder

	for _, r := range text {
		if isWhitespace(r) {
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
		} else if isPunctuation(r) {
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
			tokens = append(tokens, string(r))
		} else {
			current.WriteRune(r)
		}
	}

	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}

	return tokens
}
