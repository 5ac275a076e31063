package embedding

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Provider is the embedding backend a Coalescer wraps.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Model() string
}

// Coalescer deduplicates concurrent Embed calls for identical text so a
// burst of requests for the same question costs one API call. The shared
// call runs detached from any single caller's context, so one caller
// cancelling cannot fail the others.
type Coalescer struct {
	inner Provider
	group singleflight.Group
}

func NewCoalescer(inner Provider) *Coalescer {
	return &Coalescer{inner: inner}
}

func (c *Coalescer) Embed(ctx context.Context, text string) ([]float64, error) {
	result, err, _ := c.group.Do(text, func() (any, error) {
		return c.inner.Embed(context.WithoutCancel(ctx), text)
	})
	if err != nil {
		return nil, err
	}
	return result.([]float64), nil
}

func (c *Coalescer) Model() string {
	return c.inner.Model()
}
