// Package connections checks that each configured provider key works by
// making the smallest useful call against it.
package connections

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/ideaboard/internal/provider"
)

const checkTimeout = 30 * time.Second

// Check makes one test call and returns what the provider answered: reply
// text for language models, an image URL for image models.
type Check func(ctx context.Context) (string, error)

// Result is the outcome of testing one provider.
type Result struct {
	Provider   string `json:"provider"`
	OK         bool   `json:"ok"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	MissingKey bool   `json:"missing_key,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Tester runs checks by provider name.
type Tester struct {
	checks map[string]Check
	logger *slog.Logger
}

// New creates a Tester.
func New(checks map[string]Check) *Tester {
	return &Tester{checks: checks, logger: slog.Default()}
}

// Providers returns the testable provider names in sorted order.
func (t *Tester) Providers() []string {
	names := make([]string, 0, len(t.checks))
	for n := range t.checks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Test checks one provider. Failures are reported in the Result; the error
// is only for unknown providers.
func (t *Tester) Test(ctx context.Context, name string) (Result, error) {
	check, ok := t.checks[name]
	if !ok {
		return Result{}, fmt.Errorf("unknown provider: %s", name)
	}

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	out, err := check(ctx)
	res := Result{Provider: name, DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Error = err.Error()
		res.MissingKey = errors.Is(err, provider.ErrMissingKey)
		t.logger.Warn("connection test failed", "provider", name, "error", err)
		return res, nil
	}
	res.OK = true
	res.Output = out
	return res, nil
}

// TestAll checks every provider concurrently. Results are in provider name
// order.
func (t *Tester) TestAll(ctx context.Context) []Result {
	names := t.Providers()
	results := make([]Result, len(names))

	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			results[i], _ = t.Test(ctx, name)
			return nil
		})
	}
	g.Wait()
	return results
}
