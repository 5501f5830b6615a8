package ratelimiter

import (
	"context"
	"io"

	"github.com/marmos91/dittodir/pkg/directory"
	"golang.org/x/time/rate"
)

// RateLimiter throttles byte throughput using the token bucket algorithm.
//
// One token is one byte. Tokens are added at bytesPerSecond and the bucket
// holds at most burst tokens, so a transfer may run ahead of the sustained
// rate by up to burst bytes.
//
// Thread safety:
// All methods are safe for concurrent use. Readers created from the same
// RateLimiter share its budget.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a RateLimiter.
//
// Special cases:
//   - bytesPerSecond = 0: No rate limiting (unlimited)
//   - burst = 0: Burst defaults to one second worth of bytes
func New(bytesPerSecond, burst uint) *RateLimiter {
	if bytesPerSecond == 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst == 0 {
		burst = bytesPerSecond
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), int(burst)),
	}
}

// WaitN blocks until n bytes may pass or ctx is cancelled. Requests larger
// than the burst are split so that they never fail outright.
func (r *RateLimiter) WaitN(ctx context.Context, n int) error {
	burst := r.limiter.Burst()
	if r.limiter.Limit() == rate.Inf || burst <= 0 {
		return ctx.Err()
	}

	for n > 0 {
		step := min(n, burst)
		if err := r.limiter.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}

// Reader wraps rd so that every byte read is paid for from the limiter.
func (r *RateLimiter) Reader(ctx context.Context, rd io.Reader) io.Reader {
	return &reader{ctx: ctx, r: rd, limiter: r}
}

type reader struct {
	ctx     context.Context
	r       io.Reader
	limiter *RateLimiter
}

func (t *reader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		if werr := t.limiter.WaitN(t.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

// Source wraps src so that file contents are read at no more than the
// limiter's rate. Listing is not throttled.
func (r *RateLimiter) Source(src directory.Source) directory.Source {
	return &source{Source: src, limiter: r}
}

type source struct {
	directory.Source
	limiter *RateLimiter
}

func (s *source) OpenReader(ctx context.Context, name string) (io.ReadCloser, error) {
	rc, err := s.Source.OpenReader(ctx, name)
	if err != nil {
		return nil, err
	}

	return struct {
		io.Reader
		io.Closer
	}{s.limiter.Reader(ctx, rc), rc}, nil
}
