// Package pgtool runs pg_dump and pg_restore.
package pgtool

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kurdzik/PG-backup-manager/pkg/errs"
	"github.com/Kurdzik/PG-backup-manager/pkg/models"
)

const (
	stderrLimit    = 8 * 1024
	connectTimeout = 10
	killGrace      = 5 * time.Second
)

// Runner dumps and restores databases in the custom archive format.
type Runner interface {
	Dump(ctx context.Context, c *models.Connection, outPath string) error
	Restore(ctx context.Context, c *models.Connection, inPath string) error
}

// ExitError is a failed pg_dump or pg_restore run.
type ExitError struct {
	Tool   string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Tool, e.Code)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Exec runs the PostgreSQL client binaries.
type Exec struct {
	DumpBinary    string
	RestoreBinary string
	logger        *zap.Logger
}

// NewExec returns an Exec using the given binaries, "pg_dump" and
// "pg_restore" from PATH when empty.
func NewExec(dumpBinary, restoreBinary string, logger *zap.Logger) *Exec {
	if dumpBinary == "" {
		dumpBinary = "pg_dump"
	}
	if restoreBinary == "" {
		restoreBinary = "pg_restore"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exec{DumpBinary: dumpBinary, RestoreBinary: restoreBinary, logger: logger}
}

func connArgs(c *models.Connection) []string {
	return []string{
		"--host", c.Host,
		"--port", strconv.Itoa(int(c.Port)),
		"--username", c.User,
		"--dbname", c.DBName,
		"--no-password",
	}
}

// Dump writes a custom format archive of c's database to outPath.
func (e *Exec) Dump(ctx context.Context, c *models.Connection, outPath string) error {
	args := append(connArgs(c), "--format=custom", "--file", outPath)
	return e.run(ctx, e.DumpBinary, c, args)
}

// Restore replaces the contents of c's database with the archive at inPath.
// Existing objects are dropped first and the whole restore runs in one
// transaction, so a failed restore leaves the database unchanged.
func (e *Exec) Restore(ctx context.Context, c *models.Connection, inPath string) error {
	args := append(connArgs(c), "--clean", "--if-exists", "--no-owner", "--single-transaction", inPath)
	return e.run(ctx, e.RestoreBinary, c, args)
}

func (e *Exec) run(ctx context.Context, binary string, c *models.Connection, args []string) error {
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Env = append(os.Environ(),
		"PGPASSWORD="+c.Password,
		"PGCONNECT_TIMEOUT="+strconv.Itoa(connectTimeout),
	)
	cmd.WaitDelay = killGrace
	stderr := &tailBuffer{limit: stderrLimit}
	cmd.Stderr = stderr

	start := time.Now()
	e.logger.Debug("running postgres tool", zap.String("tool", binary), zap.String("address", c.Address()), zap.String("database", c.DBName))
	err := cmd.Run()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		e.logger.Debug("postgres tool finished", zap.String("tool", binary), zap.Duration("took", time.Since(start)))
		return nil
	}

	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return errs.Storage(err, "could not start %s", binary)
	}
	return classify(c, &ExitError{
		Tool:   binary,
		Code:   exitErr.ExitCode(),
		Stderr: strings.TrimSpace(stderr.String()),
	})
}

var (
	authMarkers = []string{
		"password authentication failed",
		"no password supplied",
		"authentication failed",
		"pg_hba.conf",
		"permission denied",
	}
	networkMarkers = []string{
		"could not connect to server",
		"connection refused",
		"could not translate host name",
		"timeout expired",
		"network is unreachable",
		"no route to host",
		"server closed the connection unexpectedly",
		"connection to server at",
	}
	missingDBMarker = "does not exist"
	diskMarkers     = []string{"no space left on device", "disk quota exceeded"}
)

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// classify maps tool diagnostics onto the error taxonomy.
func classify(c *models.Connection, e *ExitError) error {
	lower := strings.ToLower(e.Stderr)
	switch {
	case containsAny(lower, diskMarkers):
		return errs.Storage(e, "not enough disk space")
	case containsAny(lower, authMarkers):
		return errs.Rejected(e, "database %s rejected the credentials of user %s", c.Address(), c.User)
	case strings.Contains(lower, "database \""+strings.ToLower(c.DBName)+"\" "+missingDBMarker):
		return errs.NotFound("database %q does not exist on %s", c.DBName, c.Address())
	case containsAny(lower, networkMarkers):
		return errs.Unreachable(e, "could not reach %s", c.Address())
	}
	return e
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	t.buf.Write(p)
	if over := t.buf.Len() - t.limit; over > 0 {
		t.buf.Next(over)
	}
	return n, nil
}

func (t *tailBuffer) String() string {
	return t.buf.String()
}
