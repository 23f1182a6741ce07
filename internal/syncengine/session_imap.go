package syncengine

import (
	"context"
	"fmt"

	goimap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/driftkit-mail/driftsync/internal/imap"
	"github.com/driftkit-mail/driftsync/internal/imapdemux"
)

// imapSession adapts internal/imap.Client to the Session interface; every
// IMAP command this package issues goes through this file. reconcile.go
// never touches go-imap types, and task.go only converts the go-imap flag
// values carried by demux events.
type imapSession struct {
	client  *imap.Client
	esearch bool
}

// NewIMAPSession wraps an already connected, logged-in client.
func NewIMAPSession(client *imap.Client) Session {
	return &imapSession{client: client, esearch: client.SupportsESearch()}
}

func (s *imapSession) Select(ctx context.Context, mailbox string, opts SelectOptions) (*SelectResult, error) {
	wireOpts := imap.SelectOptions{
		ReadOnly:  opts.ReadOnly,
		CondStore: opts.CondStore,
	}
	if opts.QResync != nil {
		wireOpts.QResync = &imap.QResyncSelectParams{
			UIDValidity:   opts.QResync.UIDValidity,
			HighestModSeq: opts.QResync.HighestModSeq,
			KnownSeqNums:  opts.QResync.KnownSeqNums,
			KnownUIDs:     opts.QResync.KnownUIDs,
			Arrived:       opts.QResync.Arrived,
		}
	}

	info, err := s.client.SelectMailbox(ctx, mailbox, wireOpts)
	if err != nil {
		return nil, err
	}
	return &SelectResult{
		UIDValidity:    info.UIDValidity,
		UIDNext:        info.UIDNext,
		Exists:         info.Exists,
		Recent:         info.Recent,
		HighestModSeq:  info.HighestModSeq,
		NoModSeq:       info.NoModSeq,
		ReadOnly:       info.ReadOnly,
		Flags:          info.Flags,
		PermanentFlags: info.PermanentFlags,
	}, nil
}

func (s *imapSession) SearchAllUIDs(ctx context.Context) ([]uint32, error) {
	criteria := &goimap.SearchCriteria{}
	return s.runUIDSearch(ctx, criteria)
}

func (s *imapSession) SearchUIDsSince(ctx context.Context, fromUID uint32) ([]uint32, error) {
	var uidSet goimap.UIDSet
	uidSet.AddRange(goimap.UID(fromUID), 0) // "<fromUID>:*"
	criteria := &goimap.SearchCriteria{
		UID: []goimap.UIDSet{uidSet},
	}
	return s.runUIDSearch(ctx, criteria)
}

func (s *imapSession) runUIDSearch(ctx context.Context, criteria *goimap.SearchCriteria) ([]uint32, error) {
	raw := s.client.RawClient()
	if raw == nil {
		return nil, fmt.Errorf("imap session: not connected")
	}

	type searchResult struct {
		data *goimap.SearchData
		err  error
	}
	// With ESEARCH advertised, the search goes out as
	// UID SEARCH RETURN (ALL) ... and comes back as a tagged, structured
	// ESEARCH response instead of the legacy untagged SEARCH list.
	var options *goimap.SearchOptions
	if s.esearch {
		options = &goimap.SearchOptions{ReturnAll: true}
	}

	resultCh := make(chan searchResult, 1)
	go func() {
		data, err := raw.UIDSearch(criteria, options).Wait()
		resultCh <- searchResult{data, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-resultCh:
		if r.err != nil {
			return nil, fmt.Errorf("uid search: %w", r.err)
		}
		uids := make([]uint32, len(r.data.AllUIDs()))
		for i, u := range r.data.AllUIDs() {
			uids[i] = uint32(u)
		}
		return uids, nil
	}
}

func (s *imapSession) FetchFlags(ctx context.Context, n uint32, changedSince uint64) ([]FlagsResult, error) {
	if n == 0 {
		return nil, nil
	}
	var seqSet goimap.SeqSet
	seqSet.AddRange(1, n)
	return s.runFetch(ctx, seqSet, changedSince)
}

func (s *imapSession) FetchUIDAndFlagsSince(ctx context.Context, fromUID uint32) ([]FlagsResult, error) {
	var uidSet goimap.UIDSet
	uidSet.AddRange(goimap.UID(fromUID), 0) // "<fromUID>:*"
	return s.runUIDFetch(ctx, uidSet)
}

func (s *imapSession) runFetch(ctx context.Context, seqSet goimap.SeqSet, changedSince uint64) ([]FlagsResult, error) {
	raw := s.client.RawClient()
	if raw == nil {
		return nil, fmt.Errorf("imap session: not connected")
	}

	options := &goimap.FetchOptions{Flags: true}
	if changedSince > 0 {
		options.ChangedSince = changedSince
	}

	type fetchResult struct {
		results []FlagsResult
		err     error
	}
	resultCh := make(chan fetchResult, 1)
	go func() {
		results, err := collectFlagsResults(raw.Fetch(seqSet, options))
		resultCh <- fetchResult{results, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-resultCh:
		if r.err != nil {
			return nil, fmt.Errorf("fetch flags: %w", r.err)
		}
		return r.results, nil
	}
}

func (s *imapSession) runUIDFetch(ctx context.Context, uidSet goimap.UIDSet) ([]FlagsResult, error) {
	raw := s.client.RawClient()
	if raw == nil {
		return nil, fmt.Errorf("imap session: not connected")
	}

	options := &goimap.FetchOptions{Flags: true, UID: true}

	type fetchResult struct {
		results []FlagsResult
		err     error
	}
	resultCh := make(chan fetchResult, 1)
	go func() {
		results, err := collectFlagsResults(raw.Fetch(uidSet, options))
		resultCh <- fetchResult{results, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-resultCh:
		if r.err != nil {
			return nil, fmt.Errorf("uid fetch: %w", r.err)
		}
		return r.results, nil
	}
}

// collectFlagsResults drains a FETCH command's streamed responses, picking
// out the flags, UID, and MODSEQ items per message. MODSEQ is only
// available through the streaming item API, so this replaces the library's
// buffering Collect helper.
func collectFlagsResults(cmd *imapclient.FetchCommand) ([]FlagsResult, error) {
	var out []FlagsResult
	for {
		msg := cmd.Next()
		if msg == nil {
			break
		}
		r := FlagsResult{SeqNum: msg.SeqNum}
		for {
			item := msg.Next()
			if item == nil {
				break
			}
			switch data := item.(type) {
			case imapclient.FetchItemDataFlags:
				r.Flags = flagsToStringSlice(data.Flags)
			case imapclient.FetchItemDataUID:
				r.UID = uint32(data.UID)
			case imapclient.FetchItemDataModSeq:
				r.ModSeq = data.ModSeq
			}
		}
		out = append(out, r)
	}
	if err := cmd.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *imapSession) Events() <-chan imapdemux.Event {
	if s.client.Demux() == nil {
		ch := make(chan imapdemux.Event)
		return ch
	}
	return s.client.Demux().Events()
}
