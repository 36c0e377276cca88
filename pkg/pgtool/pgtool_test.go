package pgtool

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kurdzik/PG-backup-manager/pkg/errs"
	"github.com/Kurdzik/PG-backup-manager/pkg/models"
)

var testConn = &models.Connection{Host: "db1", Port: 5432, DBName: "app", User: "u", Password: "s3cr3t-pw"}

// fakeTool writes an executable shell script standing in for pg_dump or pg_restore.
func fakeTool(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	p := filepath.Join(t.TempDir(), "tool")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o700))
	return p
}

func TestDumpPassesArgumentsAndPassword(t *testing.T) {
	dir := t.TempDir()
	record := filepath.Join(dir, "record")
	tool := fakeTool(t, `echo "$@" > `+record+`; echo "$PGPASSWORD" >> `+record+`; echo archive > "$(eval echo \${$#})"`)

	out := filepath.Join(dir, "out.dump")
	e := NewExec(tool, "", nil)
	require.NoError(t, e.Dump(context.Background(), testConn, out))

	rec, err := os.ReadFile(record)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(rec)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "--host db1 --port 5432 --username u --dbname app --no-password --format=custom --file "+out)
	assert.Equal(t, "s3cr3t-pw", lines[1])
	assert.NotContains(t, lines[0], "s3cr3t-pw", "password must not appear on the command line")
	assert.NotContains(t, strings.Fields(lines[0]), "--password")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "archive\n", string(data))
}

func TestRestoreArguments(t *testing.T) {
	record := filepath.Join(t.TempDir(), "record")
	tool := fakeTool(t, `echo "$@" > `+record)

	e := NewExec("", tool, nil)
	require.NoError(t, e.Restore(context.Background(), testConn, "/tmp/in.dump"))

	rec, err := os.ReadFile(record)
	require.NoError(t, err)
	assert.Contains(t, string(rec), "--clean --if-exists --no-owner --single-transaction /tmp/in.dump")
}

func TestFailureClassification(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
		check  func(error) bool
	}{
		{"auth", `pg_dump: error: connection to server at "db1" failed: FATAL:  password authentication failed for user "u"`, errdefs.IsPermissionDenied},
		{"network", `pg_dump: error: could not translate host name "db1" to address`, errs.IsRetryable},
		{"missing db", `pg_dump: error: connection to server failed: FATAL:  database "app" does not exist`, errdefs.IsNotFound},
		{"disk", `pg_dump: error: could not write to output file: No space left on device`, errdefs.IsInternal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tool := fakeTool(t, `echo '`+tc.stderr+`' >&2; exit 1`)
			err := NewExec(tool, "", nil).Dump(context.Background(), testConn, filepath.Join(t.TempDir(), "x"))
			require.Error(t, err)
			assert.True(t, tc.check(err), err.Error())
		})
	}
}

func TestRestoreFailureSurfacesDiagnostics(t *testing.T) {
	tool := fakeTool(t, `echo 'pg_restore: error: could not execute query: ERROR:  syntax error' >&2; exit 1`)
	err := NewExec("", tool, nil).Restore(context.Background(), testConn, "in.dump")
	require.Error(t, err)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.Code)
	assert.Contains(t, err.Error(), "syntax error")
}

func TestDumpCancelled(t *testing.T) {
	tool := fakeTool(t, `sleep 30`)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := NewExec(tool, "", nil).Dump(ctx, testConn, filepath.Join(t.TempDir(), "x"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestTailBuffer(t *testing.T) {
	tb := &tailBuffer{limit: 5}
	_, _ = tb.Write([]byte("hello "))
	_, _ = tb.Write([]byte("world"))
	assert.Equal(t, "world", tb.String())
}
