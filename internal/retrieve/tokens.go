package retrieve

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator estimates the token cost of a piece of content for budget
// accounting. Pluggable: the default heuristic is cheap and offline,
// the tiktoken estimator is exact for OpenAI-style tokenizers.
type Estimator interface {
	Estimate(content string) int
}

// HeuristicEstimator approximates one token per four characters.
type HeuristicEstimator struct{}

func (HeuristicEstimator) Estimate(content string) int {
	return len(content) / 4
}

var (
	tiktokenOnce sync.Once
	tiktokenEnc  *tiktoken.Tiktoken
	tiktokenErr  error
)

// TiktokenEstimator counts tokens with the cl100k_base encoding. The
// encoding tables load once per process on first use; construction
// surfaces the load error explicitly instead of hiding it in a
// module-level singleton.
type TiktokenEstimator struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenEstimator initializes (once) and returns the exact
// estimator.
func NewTiktokenEstimator() (*TiktokenEstimator, error) {
	tiktokenOnce.Do(func() {
		tiktokenEnc, tiktokenErr = tiktoken.GetEncoding("cl100k_base")
	})
	if tiktokenErr != nil {
		return nil, fmt.Errorf("load tiktoken encoding: %w", tiktokenErr)
	}
	return &TiktokenEstimator{enc: tiktokenEnc}, nil
}

func (e *TiktokenEstimator) Estimate(content string) int {
	return len(e.enc.Encode(content, nil, nil))
}
