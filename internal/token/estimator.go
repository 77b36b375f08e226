package token

import (
	"fmt"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Estimator converts text into an approximate token count. Implementations
// may fail (e.g. a BPE encoding that could not be loaded); callers that need
// a count that never fails should go through Counter.
type Estimator interface {
	Estimate(text string) (int, error)
}

// Heuristic approximates token counts as one token per four characters.
// It never fails and serves as the degradation path for precise estimators.
type Heuristic struct{}

// Estimate returns ceil(len(text)/4).
func (Heuristic) Estimate(text string) (int, error) {
	n := len(text)
	if n == 0 {
		return 0, nil
	}
	return (n + 3) / 4, nil
}

// Tiktoken counts tokens using a tiktoken BPE encoding. cl100k_base is a
// close approximation for the model families the catalog carries; exact
// vendor parity is not a goal.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads the named encoding (e.g. "cl100k_base").
func NewTiktoken(encodingName string) (*Tiktoken, error) {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %q: %w", encodingName, err)
	}
	return &Tiktoken{enc: enc}, nil
}

// Estimate returns the number of BPE tokens in text.
func (t *Tiktoken) Estimate(text string) (int, error) {
	return len(t.enc.Encode(text, nil, nil)), nil
}
