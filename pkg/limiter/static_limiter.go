// Package limiter throttles S3 transfer bandwidth.
package limiter

import (
	"context"
	"io"
	"net/http"

	"golang.org/x/time/rate"
)

// Limiter wraps readers, writers and HTTP transports so that the traffic
// through them stays under a fixed rate.
type Limiter interface {
	Upstream(r io.Reader) io.Reader
	UpstreamWriter(w io.Writer) io.Writer
	Downstream(r io.Reader) io.Reader
	DownstreamWriter(w io.Writer) io.Writer
	Transport(rt http.RoundTripper) http.RoundTripper
}

type staticLimiter struct {
	upstream   *rate.Limiter
	downstream *rate.Limiter
}

// NewStaticLimiter returns a Limiter for upload and download rates in
// bytes per second. A rate of zero or less disables limiting in that direction.
func NewStaticLimiter(uploadBytes, downloadBytes int) Limiter {
	return staticLimiter{
		upstream:   newBucket(uploadBytes),
		downstream: newBucket(downloadBytes),
	}
}

func newBucket(bytesPerSec int) *rate.Limiter {
	if bytesPerSec <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), bytesPerSec)
}

func (l staticLimiter) Upstream(r io.Reader) io.Reader {
	return limitReader(context.Background(), r, l.upstream)
}

func (l staticLimiter) UpstreamWriter(w io.Writer) io.Writer {
	return limitWriter(context.Background(), w, l.upstream)
}

func (l staticLimiter) Downstream(r io.Reader) io.Reader {
	return limitReader(context.Background(), r, l.downstream)
}

func (l staticLimiter) DownstreamWriter(w io.Writer) io.Writer {
	return limitWriter(context.Background(), w, l.downstream)
}

type roundTripper func(*http.Request) (*http.Response, error)

func (rt roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return rt(req)
}

// Transport limits request bodies upstream and response bodies downstream.
// Waiting for bandwidth stops once the request's context is done.
func (l staticLimiter) Transport(rt http.RoundTripper) http.RoundTripper {
	return roundTripper(func(req *http.Request) (*http.Response, error) {
		ctx := req.Context()
		if req.Body != nil {
			req.Body = limitedReadCloser{
				Reader: limitReader(ctx, req.Body, l.upstream),
				closer: req.Body,
			}
		}

		res, err := rt.RoundTrip(req)
		if res != nil && res.Body != nil {
			res.Body = limitedReadCloser{
				Reader: limitReader(ctx, res.Body, l.downstream),
				closer: res.Body,
			}
		}
		return res, err
	})
}

type limitedReadCloser struct {
	io.Reader
	closer io.Closer
}

func (l limitedReadCloser) Close() error {
	return l.closer.Close()
}

func limitReader(ctx context.Context, r io.Reader, b *rate.Limiter) io.Reader {
	if b == nil {
		return r
	}
	return &rateReader{ctx: ctx, r: r, b: b}
}

func limitWriter(ctx context.Context, w io.Writer, b *rate.Limiter) io.Writer {
	if b == nil {
		return w
	}
	return &rateWriter{ctx: ctx, w: w, b: b}
}

type rateReader struct {
	ctx context.Context
	r   io.Reader
	b   *rate.Limiter
}

func (r *rateReader) Read(p []byte) (int, error) {
	if burst := r.b.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := r.r.Read(p)
	if n > 0 {
		if werr := r.b.WaitN(r.ctx, n); werr != nil && err == nil {
			err = werr
		}
	}
	return n, err
}

type rateWriter struct {
	ctx context.Context
	w   io.Writer
	b   *rate.Limiter
}

func (w *rateWriter) Write(p []byte) (int, error) {
	written := 0
	burst := w.b.Burst()
	for len(p) > 0 {
		chunk := p
		if len(chunk) > burst {
			chunk = chunk[:burst]
		}
		if err := w.b.WaitN(w.ctx, len(chunk)); err != nil {
			return written, err
		}
		n, err := w.w.Write(chunk)
		written += n
		if err != nil {
			return written, err
		}
		p = p[n:]
	}
	return written, nil
}
