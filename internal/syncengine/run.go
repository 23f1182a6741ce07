package syncengine

import (
	"context"

	goimap "github.com/emersion/go-imap/v2"

	"github.com/driftkit-mail/driftsync/internal/imap"
	"github.com/driftkit-mail/driftsync/internal/mailboxcache"
	"github.com/driftkit-mail/driftsync/internal/treemodel"
)

// capQResyncArrived is the QRESYNC variant capability whose SELECT keyword
// differs but whose parameter list is identical.
const capQResyncArrived = goimap.Cap("QRESYNC-ARRIVED")

// CapabilitiesOf maps a connected client's advertised capability set to the
// subset strategy selection consults.
func CapabilitiesOf(client *imap.Client) Capabilities {
	return Capabilities{
		QResync:        client.SupportsQResync(),
		QResyncArrived: client.HasCap(capQResyncArrived),
		CondStore:      client.SupportsCondStore(),
		ESearch:        client.SupportsESearch(),
	}
}

// SyncMailbox leases a connection for account from pool, runs one
// synchronizer task for path against it, and returns the lease. A dead
// connection is discarded rather than released, so the pool never hands the
// carcass to the next caller.
func SyncMailbox(ctx context.Context, pool *imap.Pool, account, path string, cache mailboxcache.Cache, observer Observer, rows *treemodel.Model) (*Result, error) {
	lease, err := pool.Acquire(ctx, account)
	if err != nil {
		return nil, err
	}

	client := lease.Client()
	task := NewTask(path, cache, NewIMAPSession(client), observer, CapabilitiesOf(client))
	task.Rows = rows

	result, err := task.Run(ctx)
	if err != nil && imap.IsConnectionError(err) {
		pool.Discard(lease)
		return nil, err
	}
	pool.Release(lease)
	return result, err
}
