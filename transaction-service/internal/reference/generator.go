// Package reference issues human-readable transaction references of the form
// PREFIX + unix milliseconds + 8 uppercase alphanumerics.
package reference

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Br41n7/Securebank/shared/ledgererr"
	"github.com/Br41n7/Securebank/shared/utils"
)

const suffixLength = 8

// Checker reports whether a reference is already persisted.
type Checker interface {
	ReferenceExists(ctx context.Context, reference string) (bool, error)
}

type Generator struct {
	checker Checker
	now     func() time.Time
	suffix  func(n int) (string, error)
}

type Option func(*Generator)

func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithSuffixSource replaces the crypto/rand suffix draw.
func WithSuffixSource(fn func(n int) (string, error)) Option {
	return func(g *Generator) { g.suffix = fn }
}

func NewGenerator(checker Checker, opts ...Option) *Generator {
	g := &Generator{
		checker: checker,
		now:     time.Now,
		suffix:  utils.ReferenceSuffix,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate draws references until one is not yet persisted. The loop stops
// only on success, a store error or context cancellation.
func (g *Generator) Generate(ctx context.Context, prefix string) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("%w: %v", ledgererr.ErrStorageUnavailable, err)
		}
		suffix, err := g.suffix(suffixLength)
		if err != nil {
			return "", err
		}
		ref := prefix + strconv.FormatInt(g.now().UnixMilli(), 10) + suffix

		exists, err := g.checker.ReferenceExists(ctx, ref)
		if err != nil {
			var le *ledgererr.Error
			if errors.As(err, &le) {
				return "", err
			}
			return "", fmt.Errorf("%w: checking reference: %v", ledgererr.ErrStorageUnavailable, err)
		}
		if !exists {
			return ref, nil
		}
	}
}
