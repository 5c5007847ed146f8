// Package tokens estimates token counts for pruned tool outputs.
package tokens

import (
	"context"
	"runtime"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/tiktoken-go/tokenizer"
	"golang.org/x/sync/errgroup"
)

// Estimator counts tokens in text.
type Estimator interface {
	Estimate(text string) int
}

// Tiktoken counts with the o200k_base encoding and falls back to a
// characters/4 heuristic when the codec cannot be loaded or fails.
type Tiktoken struct {
	once  sync.Once
	codec tokenizer.Codec
}

func NewTiktoken() *Tiktoken {
	return &Tiktoken{}
}

func (t *Tiktoken) load() tokenizer.Codec {
	t.once.Do(func() {
		enc, err := tokenizer.Get(tokenizer.O200kBase)
		if err != nil {
			log.WithError(err).Warn("tokenizer unavailable, using heuristic token estimates")
			return
		}
		t.codec = enc
	})
	return t.codec
}

// Estimate returns the token count of text.
func (t *Tiktoken) Estimate(text string) int {
	if text == "" {
		return 0
	}
	if enc := t.load(); enc != nil {
		ids, _, err := enc.Encode(text)
		if err == nil {
			return len(ids)
		}
	}
	return Heuristic(text)
}

// Heuristic is roughly four characters per token, at least one for non-empty text.
func Heuristic(text string) int {
	if len(text) == 0 {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// HeuristicEstimator implements Estimator with Heuristic.
type HeuristicEstimator struct{}

func (HeuristicEstimator) Estimate(text string) int { return Heuristic(text) }

// EstimateBatch sums the estimates of texts, encoding them in parallel.
func EstimateBatch(ctx context.Context, est Estimator, texts []string) (int, error) {
	if est == nil || len(texts) == 0 {
		return 0, nil
	}
	counts := make([]int, len(texts))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			counts[i] = est.Estimate(text)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	total := 0
	for _, c := range counts {
		total += c
	}
	return total, nil
}
