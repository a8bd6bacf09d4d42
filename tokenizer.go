package token_stream

import (
	"fmt"
	"strings"
	"sync"

	"github.com/wbrown/gpt_bpe"
	"github.com/wbrown/token_stream/types"
	"golang.org/x/sync/errgroup"
)

// Tokenizer is the text encoder a TokenStream feeds documents through.
type Tokenizer interface {
	// BosTokenID is the token prepended to every document.
	BosTokenID() types.Token
	// Encode encodes texts independently, returning one token run per text
	// in input order. If prepend is not nil it starts every run. threads is
	// a parallelism hint.
	Encode(texts []string, prepend *types.Token, threads int) (
		[]types.Tokens, error)
}

// TokenizerFactory builds a Tokenizer on first use.
type TokenizerFactory func() (Tokenizer, error)

// GPTTokenizer adapts a gpt_bpe encoder to the Tokenizer interface.
type GPTTokenizer struct {
	Id      string
	encoder *gpt_bpe.GPTEncoder
}

var (
	encodersMu sync.Mutex
	encoders   = make(map[string]*gpt_bpe.GPTEncoder)
)

// NewGPTTokenizer
// Loads the vocabulary `id`, either a bundled name such as `gpt2` or a
// huggingface id. Encoders are cached per id for the life of the process.
func NewGPTTokenizer(id string) (*GPTTokenizer, error) {
	encodersMu.Lock()
	defer encodersMu.Unlock()
	if encoder, ok := encoders[id]; ok {
		return &GPTTokenizer{Id: id, encoder: encoder}, nil
	}
	encoder, encErr := gpt_bpe.NewEncoder(id)
	if encErr != nil && !strings.HasSuffix(id, "-tokenizer") &&
		!strings.Contains(id, "/") {
		var bundledErr error
		if encoder, bundledErr = gpt_bpe.NewEncoder(
			id + "-tokenizer"); bundledErr == nil {
			encErr = nil
		}
	}
	if encErr != nil {
		return nil, fmt.Errorf("cannot load tokenizer %s: %w", id, encErr)
	}
	encoders[id] = encoder
	return &GPTTokenizer{Id: id, encoder: encoder}, nil
}

// GPTTokenizerFactory returns a TokenizerFactory for NewGPTTokenizer(id).
func GPTTokenizerFactory(id string) TokenizerFactory {
	return func() (Tokenizer, error) {
		return NewGPTTokenizer(id)
	}
}

func (tok *GPTTokenizer) BosTokenID() types.Token {
	return types.Token(tok.encoder.BosToken)
}

// Encode
// Encodes each text on its own goroutine, at most `threads` at a time.
func (tok *GPTTokenizer) Encode(texts []string, prepend *types.Token,
	threads int) ([]types.Tokens, error) {
	encoded := make([]types.Tokens, len(texts))
	var group errgroup.Group
	if threads > 0 {
		group.SetLimit(threads)
	}
	for textIdx := range texts {
		textIdx := textIdx
		group.Go(func() error {
			text := texts[textIdx]
			tokens := tok.encoder.Encode(&text)
			if tokens == nil {
				return fmt.Errorf("%s: encoding text %d failed", tok.Id,
					textIdx)
			}
			run := make(types.Tokens, 0, len(*tokens)+1)
			if prepend != nil {
				run = append(run, *prepend)
			}
			for _, token := range *tokens {
				run = append(run, types.Token(token))
			}
			encoded[textIdx] = run
			return nil
		})
	}
	if waitErr := group.Wait(); waitErr != nil {
		return nil, waitErr
	}
	return encoded, nil
}

// Decode turns tokens back into text.
func (tok *GPTTokenizer) Decode(tokens types.Tokens) string {
	encoded := make(gpt_bpe.Tokens, len(tokens))
	for idx, token := range tokens {
		encoded[idx] = gpt_bpe.Token(token)
	}
	return tok.encoder.Decode(&encoded)
}
