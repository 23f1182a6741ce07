// Package imapdemux classifies unsolicited ("unilateral") IMAP responses —
// EXISTS, EXPUNGE, and out-of-band FETCH — and delivers them in arrival
// order to whichever synchronizer task currently owns the connection. The
// Handler produces no RECENT or VANISHED events.
package imapdemux

import (
	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/rs/zerolog"

	"github.com/driftkit-mail/driftsync/internal/logging"
)

// EventKind identifies which mailbox-scoped condition an Event carries.
type EventKind int

const (
	EventExists EventKind = iota
	EventRecent
	EventExpunge
	EventFetchFlags
	// EventVanished carries a VANISHED (EARLIER or not) UID set. The
	// production Handler below does not emit this kind: go-imap/v2's
	// UnilateralDataHandler at the pinned version exposes Expunge/Mailbox/
	// Fetch callbacks but no dedicated VANISHED hook, and the go-imap
	// Session adapter in syncengine reports no VANISHED data either. The
	// synchronizer task still applies this kind when another Session
	// implementation delivers it.
	EventVanished
)

// Event is a single unsolicited response, queued in the order the server
// sent it. The synchronizer processes these strictly in order: an EXPUNGE
// arriving between two FETCH responses must renumber the UID map before
// the second FETCH is interpreted.
type Event struct {
	Kind EventKind

	// Valid for EventExists/EventRecent.
	Count uint32

	// Valid for EventExpunge: the 1-based sequence number that is now gone.
	SeqNum uint32

	// Valid for EventFetchFlags: the message whose flags changed.
	FetchSeqNum uint32
	UID         imap.UID
	Flags       []imap.Flag
	ModSeq      uint64

	// Valid for EventVanished.
	VanishedUIDs []uint32
	Earlier      bool
}

// Demux wraps an imapclient.UnilateralDataHandler and republishes the
// EXISTS, EXPUNGE and FETCH responses it receives on a buffered channel (a
// mailbox update without a message count produces no event), so the task currently holding
// the connection can drain it with a select alongside its own command's
// Wait() without missing anything that arrived concurrently.
type Demux struct {
	events chan Event
	log    zerolog.Logger
}

// NewDemux returns a Demux whose channel buffers 256 events, so a burst of
// EXPUNGEs during a bulk server-side delete can queue up while no reader is
// draining. Once the buffer is full, publish drops the oldest queued event
// to make room for the new one.
func NewDemux() *Demux {
	return &Demux{
		events: make(chan Event, 256),
		log:    logging.WithComponent("imapdemux"),
	}
}

// Events returns the channel the owning task should select on.
func (d *Demux) Events() <-chan Event {
	return d.events
}

// Handler returns the imapclient.UnilateralDataHandler to pass into
// imapclient.Options when dialing a connection this Demux should watch.
func (d *Demux) Handler() *imapclient.UnilateralDataHandler {
	return &imapclient.UnilateralDataHandler{
		Expunge: func(seqNum uint32) {
			d.publish(Event{Kind: EventExpunge, SeqNum: seqNum})
		},
		Mailbox: func(data *imapclient.UnilateralDataMailbox) {
			if data.NumMessages != nil {
				d.publish(Event{Kind: EventExists, Count: *data.NumMessages})
			}
		},
		Fetch: func(msg *imapclient.FetchMessageData) {
			d.handleFetch(msg)
		},
	}
}

func (d *Demux) handleFetch(msg *imapclient.FetchMessageData) {
	ev := Event{Kind: EventFetchFlags, FetchSeqNum: msg.SeqNum}

	for {
		item := msg.Next()
		if item == nil {
			break
		}
		switch data := item.(type) {
		case imapclient.FetchItemDataFlags:
			ev.Flags = data.Flags
		case imapclient.FetchItemDataUID:
			ev.UID = data.UID
		case imapclient.FetchItemDataModSeq:
			ev.ModSeq = data.ModSeq
		}
	}

	d.publish(ev)
}

func (d *Demux) publish(ev Event) {
	select {
	case d.events <- ev:
	default:
		d.log.Warn().Int("kind", int(ev.Kind)).Msg("event channel full, dropping oldest")
		select {
		case <-d.events:
		default:
		}
		d.events <- ev
	}
}
