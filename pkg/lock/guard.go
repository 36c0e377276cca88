package lock

import (
	"fmt"

	"github.com/Kurdzik/PG-backup-manager/pkg/errs"
)

// Guard serializes work on database connections:
//   - one backup at a time per (connection, destination) pair,
//   - backups of different pairs on the same connection run in parallel,
//   - a restore excludes every other operation on its connection.
//
// All acquisitions fail fast with a conflict error instead of waiting.
type Guard struct {
	pairs Keyed
	conns Keyed
}

// NewGuard returns an empty Guard.
func NewGuard() *Guard {
	return &Guard{}
}

func connKey(connectionID uint) string {
	return fmt.Sprintf("connection/%d", connectionID)
}

func pairKey(connectionID uint, destination string) string {
	return fmt.Sprintf("pair/%d/%s", connectionID, destination)
}

// AcquirePair locks the pair for a backup or an artifact delete.
func (g *Guard) AcquirePair(connectionID uint, destination string) (func(), error) {
	releaseConn, ok := g.conns.TryRLock(connKey(connectionID))
	if !ok {
		return nil, errs.Conflict("a restore of connection %d is in progress", connectionID)
	}
	releasePair, ok := g.pairs.TryLock(pairKey(connectionID, destination))
	if !ok {
		releaseConn()
		return nil, errs.Conflict("a backup of connection %d to %s is already running", connectionID, destination)
	}
	return func() {
		releasePair()
		releaseConn()
	}, nil
}

// AcquireConnection locks the whole connection for a restore.
func (g *Guard) AcquireConnection(connectionID uint) (func(), error) {
	release, ok := g.conns.TryLock(connKey(connectionID))
	if !ok {
		return nil, errs.Conflict("connection %d is busy with another backup or restore", connectionID)
	}
	return release, nil
}
