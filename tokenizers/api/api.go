// Package api defines the Tokenizer API.
// It's just a hack to break the cyclic dependency, and allow the users to import `tokenizers` and get the
// default implementations.
package api

// Config holds the special token names read from a repo's tokenizer_config.json.
// Any of them may be empty.
type Config struct {
	TokenizerClass string `json:"tokenizer_class"`
	DoLowerCase    *bool  `json:"do_lower_case"`

	UnkToken  string `json:"unk_token"`
	PadToken  string `json:"pad_token"`
	ClsToken  string `json:"cls_token"`
	SepToken  string `json:"sep_token"`
	MaskToken string `json:"mask_token"`
	BosToken  string `json:"bos_token"`
	EosToken  string `json:"eos_token"`
}

// Tokenizer interface allows one convert test to "tokens" (integer ids) and back.
//
// It also allows mapping of special tokens: tokens with a common semantic (like padding) but that
// may map to different ids (int) for different tokenizers.
type Tokenizer interface {
	Encode(text string) []int
	Decode([]int) string

	// SpecialTokenID returns ID for given special token if registered, or an error if not.
	SpecialTokenID(token SpecialToken) (int, error)
}

// WordTokenizer splits one pre-split word into sub-tokens (word-pieces) and maps sub-tokens to ids.
//
// This is the capability needed for token classification, where labels are given per word and
// must be propagated to every sub-token of that word.
type WordTokenizer interface {
	// Tokenize returns the sub-tokens of word, in order. It may return an empty slice for a word
	// that normalizes to nothing (e.g. only control characters).
	Tokenize(word string) []string

	// ConvertTokensToIDs maps each sub-token (or special token string like "[CLS]") to its id.
	// Unknown tokens map to the unknown token id.
	ConvertTokensToIDs(tokens []string) []int
}

// SpecialToken is an enum of commonly used special tokens.
type SpecialToken int

const (
	TokBeginningOfSentence SpecialToken = iota
	TokEndOfSentence
	TokUnknown
	TokPad
	TokMask
	TokClassification
	TokSpecialTokensCount
)

var specialTokenNames = [...]string{
	TokBeginningOfSentence: "beginning_of_sentence",
	TokEndOfSentence:       "end_of_sentence",
	TokUnknown:             "unknown",
	TokPad:                 "pad",
	TokMask:                "mask",
	TokClassification:      "classification",
	TokSpecialTokensCount:  "special_tokens_count",
}

// String implements fmt.Stringer.
func (t SpecialToken) String() string {
	if t < 0 || int(t) >= len(specialTokenNames) {
		return "SpecialToken(invalid)"
	}
	return specialTokenNames[t]
}
