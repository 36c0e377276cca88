// Package local keeps artifacts on disk, one directory per connection.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/Kurdzik/PG-backup-manager/pkg/errs"
	"github.com/Kurdzik/PG-backup-manager/pkg/models"
	"github.com/Kurdzik/PG-backup-manager/pkg/storage"
)

const (
	dirMode  = 0o700
	fileMode = 0o600
	tempPath = ".tmp"
)

var _ storage.Backend = (*Repository)(nil)

// DirName returns the per-connection directory name, e.g. "connection-3".
// Host and database can be edited, so only the id goes into the name.
func DirName(c *models.Connection) string {
	return fmt.Sprintf("connection-%d", c.ID)
}

// Repository is a directory of artifacts.
type Repository struct {
	dir string
}

// NewRepository returns the repository rooted at root/name, creating it if needed.
func NewRepository(root, name string) (*Repository, error) {
	r := &Repository{dir: filepath.Join(root, name)}
	if err := os.MkdirAll(filepath.Join(r.dir, tempPath), dirMode); err != nil {
		return nil, errs.Storage(err, "create backup directory %s", r.dir)
	}
	return r, nil
}

// Dir returns the directory holding the artifacts.
func (r *Repository) Dir() string {
	return r.dir
}

func (r *Repository) Location() string {
	return "file://" + r.dir
}

func (r *Repository) filename(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", errs.Validation("invalid artifact name %q", name)
	}
	return filepath.Join(r.dir, name), nil
}

// Publish moves the staged file into the repository. When staging lives on
// another filesystem the file is copied into the repository's temp
// directory first so the final step is always an atomic rename.
func (r *Repository) Publish(ctx context.Context, name, stagingPath string) (int64, error) {
	final, err := r.filename(name)
	if err != nil {
		return 0, err
	}
	if _, err := os.Stat(final); err == nil {
		return 0, errs.Conflict("artifact %s already exists in %s", name, r.dir)
	}
	fi, err := os.Stat(stagingPath)
	if err != nil {
		return 0, errs.Storage(err, "stat staged dump")
	}

	err = os.Rename(stagingPath, final)
	if err == nil {
		return fi.Size(), nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return 0, errs.Storage(err, "publish %s", name)
	}

	tmp, err := r.copyToTemp(ctx, stagingPath)
	if err != nil {
		return 0, err
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return 0, errs.Storage(err, "publish %s", name)
	}
	_ = os.Remove(stagingPath)
	return fi.Size(), nil
}

func (r *Repository) copyToTemp(ctx context.Context, src string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", errs.Storage(err, "open staged dump")
	}
	defer in.Close()

	out, err := os.CreateTemp(filepath.Join(r.dir, tempPath), "temp-")
	if err != nil {
		return "", errs.Storage(err, "create temp file")
	}
	fail := func(err error) (string, error) {
		out.Close()
		os.Remove(out.Name())
		return "", err
	}
	if _, err := io.Copy(out, &ctxReader{ctx: ctx, r: in}); err != nil {
		if ctx.Err() != nil {
			return fail(ctx.Err())
		}
		return fail(errs.Storage(err, "copy dump into %s", r.dir))
	}
	if err := out.Sync(); err != nil {
		return fail(errs.Storage(err, "sync dump"))
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", errs.Storage(err, "close dump")
	}
	return out.Name(), nil
}

// Fetch returns the artifact's own path; there is nothing to clean up.
func (r *Repository) Fetch(_ context.Context, name, _ string) (string, func(), error) {
	p, err := r.filename(name)
	if err != nil {
		return "", nil, err
	}
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return "", nil, errs.NotFound("backup %s not found in %s", name, r.dir)
		}
		return "", nil, errs.Storage(err, "stat %s", name)
	}
	return p, func() {}, nil
}

// List returns the regular files of the repository in name order.
func (r *Repository) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Storage(err, "read %s", r.dir)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (r *Repository) Exists(_ context.Context, name string) (bool, error) {
	p, err := r.filename(name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errs.Storage(err, "stat %s", name)
}

func (r *Repository) Delete(_ context.Context, name string) error {
	p, err := r.filename(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return errs.NotFound("backup %s not found in %s", name, r.dir)
		}
		return errs.Storage(err, "delete %s", name)
	}
	return nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
