// Package sentencepiece implements the tokenizer interfaces based on a SentencePiece model,
// for encoders whose vocabulary ships as "tokenizer.model" (XLM-R, CamemBERT, ...).
package sentencepiece

import (
	"sync"

	esentencepiece "github.com/eliben/go-sentencepiece"
	"github.com/gomlx/go-nerkit/hub"
	"github.com/gomlx/go-nerkit/tokenizers/api"
	"github.com/pkg/errors"
)

// New creates a SentencePiece tokenizer based on the "tokenizer.model" file, which must be a
// SentencePiece Model proto.
func New(repo *hub.Repo) (*Tokenizer, error) {
	tokenizerFile, err := repo.DownloadFile("tokenizer.model")
	if err != nil {
		return nil, errors.WithMessage(err, "can't download tokenizer.model file")
	}
	return NewFromFile(tokenizerFile)
}

// NewFromFile creates a SentencePiece tokenizer from a local model proto file.
func NewFromFile(filePath string) (*Tokenizer, error) {
	proc, err := esentencepiece.NewProcessorFromPath(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "can't create sentencepiece tokenizer from %q", filePath)
	}
	return &Tokenizer{
		Processor: proc,
		Info:      proc.ModelInfo(),
		pieceIDs:  make(map[string]int),
	}, nil
}

// Tokenizer implements api.Tokenizer and api.WordTokenizer based on SentencePiece tokenizer by Google.
//
// SentencePiece has no piece-to-id lookup, so pieces returned by Tokenize are remembered and
// ConvertTokensToIDs resolves them from that memory. BERT-style marker strings ("[CLS]", "[SEP]", "[PAD]")
// map to the model's beginning-of-sentence, end-of-sentence and padding ids.
type Tokenizer struct {
	*esentencepiece.Processor
	Info *esentencepiece.ModelInfo

	mu       sync.Mutex
	pieceIDs map[string]int
}

// Compile time assert that sentencepiece.Tokenizer implements the api interfaces.
var (
	_ api.Tokenizer     = &Tokenizer{}
	_ api.WordTokenizer = &Tokenizer{}
)

// Encode returns the text encoded into a sequence of ids.
func (p *Tokenizer) Encode(text string) []int {
	tokens := p.Processor.Encode(text)
	return sliceMap(tokens, func(t esentencepiece.Token) int { return t.ID })
}

// Tokenize returns the pieces of one word.
func (p *Tokenizer) Tokenize(word string) []string {
	tokens := p.Processor.Encode(word)
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, tok := range tokens {
		p.pieceIDs[tok.Text] = tok.ID
	}
	return sliceMap(tokens, func(t esentencepiece.Token) string { return t.Text })
}

// ConvertTokensToIDs maps pieces previously returned by Tokenize, and marker strings, to ids.
// Anything else maps to the unknown id.
func (p *Tokenizer) ConvertTokensToIDs(tokens []string) []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return sliceMap(tokens, func(token string) int {
		switch token {
		case "[CLS]", "<s>":
			return p.Info.BeginningOfSentenceID
		case "[SEP]", "</s>":
			return p.Info.EndOfSentenceID
		case "[PAD]", "<pad>":
			return p.Info.PadID
		}
		if id, ok := p.pieceIDs[token]; ok {
			return id
		}
		return p.Info.UnknownID
	})
}

// Decode returns the text from a sequence of ids.
func (p *Tokenizer) Decode(ids []int) string {
	return p.Processor.Decode(ids)
}

// SpecialTokenID returns the token for the given symbol, or an error if not known.
func (p *Tokenizer) SpecialTokenID(token api.SpecialToken) (int, error) {
	switch token {
	case api.TokUnknown:
		return p.Info.UnknownID, nil
	case api.TokPad:
		return p.Info.PadID, nil
	case api.TokBeginningOfSentence, api.TokClassification:
		return p.Info.BeginningOfSentenceID, nil
	case api.TokEndOfSentence:
		return p.Info.EndOfSentenceID, nil
	default:
		return 0, errors.Errorf("unknown special token: %s (%d)", token, int(token))
	}
}

// sliceMap executes the given function sequentially for every element on in, and returns a mapped slice.
func sliceMap[In, Out any](in []In, fn func(e In) Out) (out []Out) {
	out = make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(e)
	}
	return
}
