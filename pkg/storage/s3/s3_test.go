package s3

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kurdzik/PG-backup-manager/pkg/errs"
	"github.com/Kurdzik/PG-backup-manager/pkg/retry"
)

// fakeS3 serves the handful of path-style S3 calls the backend makes.
type fakeS3 struct {
	mu        sync.Mutex
	bucket    string
	objects   map[string][]byte
	failPuts  int
	putCalls  int
	forbidden bool
}

type listResult struct {
	XMLName  xml.Name `xml:"ListBucketResult"`
	Contents []struct {
		Key  string `xml:"Key"`
		Size int    `xml:"Size"`
	} `xml:"Contents"`
	IsTruncated bool `xml:"IsTruncated"`
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.forbidden {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `<Error><Code>AccessDenied</Code><Message>denied</Message></Error>`)
		return
	}

	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
	if parts[0] != f.bucket {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `<Error><Code>NoSuchBucket</Code><Message>no bucket</Message></Error>`)
		return
	}
	if len(parts) == 1 || parts[1] == "" {
		prefix := r.URL.Query().Get("prefix")
		var res listResult
		keys := make([]string, 0, len(f.objects))
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) && !strings.Contains(strings.TrimPrefix(k, prefix), "/") {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			res.Contents = append(res.Contents, struct {
				Key  string `xml:"Key"`
				Size int    `xml:"Size"`
			}{k, len(f.objects[k])})
		}
		w.Header().Set("Content-Type", "application/xml")
		_ = xml.NewEncoder(w).Encode(res)
		return
	}

	key := parts[1]
	switch r.Method {
	case http.MethodHead:
		data, ok := f.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	case http.MethodPut:
		f.putCalls++
		if f.failPuts > 0 {
			f.failPuts--
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		data, _ := io.ReadAll(r.Body)
		f.objects[key] = data
		w.Header().Set("ETag", `"etag"`)
	case http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `<Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		start, end := 0, len(data)-1
		if rng := r.Header.Get("Range"); rng != "" {
			fmt.Sscanf(rng, "bytes=%d-%d", &start, &end)
			if end >= len(data) {
				end = len(data) - 1
			}
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(data)))
		w.Header().Set("Content-Length", strconv.Itoa(end-start+1))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(data[start : end+1])
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestBackend(t *testing.T, prefix string) (*S3, *fakeS3) {
	t.Helper()
	fake := &fakeS3{bucket: "backups", objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	b, err := New(Config{
		Endpoint:        srv.URL,
		Region:          "us-east-1",
		Bucket:          "backups",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "secret",
		Prefix:          prefix,
	}, WithRetry(retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}))
	require.NoError(t, err)
	return b, fake
}

func stage(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "staging.dump")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestPublishListFetchDelete(t *testing.T) {
	ctx := context.Background()
	b, fake := newTestBackend(t, "/nightly/")
	assert.Equal(t, "s3://backups/nightly", b.Location())

	n, err := b.Publish(ctx, "backup_20240115_020000.dump", stage(t, "dump-bytes"))
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
	assert.Contains(t, fake.objects, "nightly/backup_20240115_020000.dump")

	fake.objects["nightly/sub/backup_20240101_000000.dump"] = []byte("nested")
	fake.objects["other/backup_20240101_000000.dump"] = []byte("elsewhere")

	names, err := b.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"backup_20240115_020000.dump"}, names)

	_, err = b.Publish(ctx, "backup_20240115_020000.dump", stage(t, "again"))
	assert.True(t, errdefs.IsConflict(err))

	path, cleanup, err := b.Fetch(ctx, "backup_20240115_020000.dump", t.TempDir())
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "dump-bytes", string(data))
	cleanup()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, b.Delete(ctx, "backup_20240115_020000.dump"))
	assert.True(t, errdefs.IsNotFound(b.Delete(ctx, "backup_20240115_020000.dump")))

	_, _, err = b.Fetch(ctx, "backup_20240115_020000.dump", t.TempDir())
	assert.True(t, errdefs.IsNotFound(err))
}

func TestPublishRetriesUnavailable(t *testing.T) {
	b, fake := newTestBackend(t, "")
	fake.failPuts = 2

	_, err := b.Publish(context.Background(), "backup_20240115_020000.dump", stage(t, "x"))
	require.NoError(t, err)
	assert.Equal(t, 3, fake.putCalls)
}

func TestPublishGivesUp(t *testing.T) {
	b, fake := newTestBackend(t, "")
	fake.failPuts = 10

	_, err := b.Publish(context.Background(), "backup_20240115_020000.dump", stage(t, "x"))
	require.Error(t, err)
	assert.Empty(t, fake.objects, "nothing may be visible after a failed upload")
}

func TestCredentialsRejected(t *testing.T) {
	b, fake := newTestBackend(t, "")
	fake.forbidden = true

	_, err := b.List(context.Background())
	require.Error(t, err)
	assert.True(t, errdefs.IsPermissionDenied(err))
	assert.False(t, errs.IsRetryable(err))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind string
	}{
		{"nil", nil, ""},
		{"no such key", awserr.New("NoSuchKey", "missing", nil), "not_found"},
		{"no such bucket", awserr.New("NoSuchBucket", "missing", nil), "not_found"},
		{"access denied", awserr.New("AccessDenied", "denied", nil), "auth"},
		{"bad signature", awserr.New("SignatureDoesNotMatch", "sig", nil), "auth"},
		{"request error", awserr.New("RequestError", "send request failed", errors.New("dial tcp")), "connectivity"},
		{"5xx", awserr.NewRequestFailure(awserr.New("InternalError", "oops", nil), 500, "req"), "connectivity"},
		{"cancelled", awserr.New("RequestCanceled", "cancelled", context.Canceled), "cancelled"},
		{"other", awserr.New("EntityTooLarge", "too big", nil), "storage"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.kind, errs.Kind(classify(tc.err, "op")))
		})
	}
}

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", endpointURL("s3.example.com", true))
	assert.Equal(t, "http://minio:9000", endpointURL("minio:9000", false))
	assert.Equal(t, "http://minio:9000", endpointURL("http://minio:9000", true))
}
