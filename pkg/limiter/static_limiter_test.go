package limiter

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledDirectionsAreNotWrapped(t *testing.T) {
	r := bytes.NewReader(nil)
	w := new(bytes.Buffer)

	tests := []struct {
		name         string
		uploadKB     int
		downloadKB   int
		wantUpload   bool
		wantDownload bool
	}{
		{"unlimited", 0, 0, false, false},
		{"upload only", 64, 0, true, false},
		{"download only", 0, 64, false, true},
		{"both", 64, 64, true, true},
		{"negative disables", -1, -1, false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l := NewStaticLimiter(tc.uploadKB*1024, tc.downloadKB*1024)
			assert.Equal(t, tc.wantUpload, l.Upstream(r) != io.Reader(r))
			assert.Equal(t, tc.wantUpload, l.UpstreamWriter(w) != io.Writer(w))
			assert.Equal(t, tc.wantDownload, l.Downstream(r) != io.Reader(r))
			assert.Equal(t, tc.wantDownload, l.DownstreamWriter(w) != io.Writer(w))
		})
	}
}

func TestTransportKeepsBodiesIntact(t *testing.T) {
	dump := bytes.Repeat([]byte("PGDMP"), 4096)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewStaticLimiter(1<<20, 1<<20).Transport(http.DefaultTransport)}
	req, err := http.NewRequest(http.MethodPut, srv.URL+"/bucket/backup_20240102_020000.dump", bytes.NewReader(dump))
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	echoed, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, dump, echoed)
}

type closeRecorder struct {
	io.Reader
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestTransportClosesWrappedBodies(t *testing.T) {
	sent := &closeRecorder{Reader: bytes.NewReader([]byte("request"))}
	received := &closeRecorder{Reader: bytes.NewReader([]byte("response"))}

	rt := NewStaticLimiter(100, 100).Transport(roundTripper(func(req *http.Request) (*http.Response, error) {
		_, _ = io.Copy(io.Discard, req.Body)
		_ = req.Body.Close()
		return &http.Response{Body: received}, nil
	}))
	resp, err := rt.RoundTrip(&http.Request{Body: sent})
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.True(t, sent.closed, "request body not closed")
	assert.True(t, received.closed, "response body not closed")
}

func TestTransportWithoutBodies(t *testing.T) {
	l := NewStaticLimiter(100, 100)

	resp, err := l.Transport(roundTripper(func(*http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusNoContent}, nil
	})).RoundTrip(&http.Request{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	boom := errors.New("connection reset")
	_, err = l.Transport(roundTripper(func(*http.Request) (*http.Response, error) {
		return nil, boom
	})).RoundTrip(&http.Request{})
	assert.ErrorIs(t, err, boom)
}

func TestTransportStopsWaitingWhenRequestIsDone(t *testing.T) {
	// 100 B/s against 10 KiB bodies would take well over a minute.
	l := NewStaticLimiter(100, 100)
	body := bytes.Repeat([]byte("x"), 10*1024)

	t.Run("cancelled upload", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, "http://s3.local/bucket/backup_20240102_020000.dump", bytes.NewReader(body))
		require.NoError(t, err)

		rt := l.Transport(roundTripper(func(req *http.Request) (*http.Response, error) {
			buf := make([]byte, 100)
			_, err := req.Body.Read(buf)
			require.NoError(t, err, "the first burst is free")
			cancel()
			_, err = io.ReadAll(req.Body)
			return nil, err
		}))
		start := time.Now()
		_, err = rt.RoundTrip(req)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("download past deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://s3.local/bucket/backup_20240102_020000.dump", nil)
		require.NoError(t, err)

		rt := l.Transport(roundTripper(func(*http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(body))}, nil
		}))
		resp, err := rt.RoundTrip(req)
		require.NoError(t, err)
		start := time.Now()
		_, err = io.ReadAll(resp.Body)
		assert.Error(t, err)
		assert.Less(t, time.Since(start), 2*time.Second)
	})
}

func TestWriterThrottles(t *testing.T) {
	// 1 KiB/s with a 1 KiB burst: the second KiB waits about a second.
	l := NewStaticLimiter(1024, 0)
	out := new(bytes.Buffer)
	w := l.UpstreamWriter(out)

	start := time.Now()
	n, err := w.Write(make([]byte, 2*1024+1))
	require.NoError(t, err)
	assert.Equal(t, 2*1024+1, n)
	assert.Equal(t, 2*1024+1, out.Len())
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

func TestReaderChunksToBurst(t *testing.T) {
	l := NewStaticLimiter(0, 512)
	r := l.Downstream(bytes.NewReader(make([]byte, 4096)))

	buf := make([]byte, 4096)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 512, n, "a single read never exceeds the burst")
}
