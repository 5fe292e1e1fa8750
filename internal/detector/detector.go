// Package detector merges the Poller and PushStream event channels into a
// single DetectedTrade sequence. It performs no deduplication — that is
// the Coordinator's responsibility, since only the Coordinator holds the
// dedup maps and in-flight set.
package detector

import (
	"context"

	"copytrader/pkg/types"
)

// Detector fans in two upstream trade-event sources.
type Detector struct {
	poller     <-chan types.DetectedTrade
	pushstream <-chan types.DetectedTrade
	out        chan types.DetectedTrade
}

// New creates a Detector over the given Poller and PushStream event channels.
// pushstream may be nil if the push feed is disabled.
func New(poller, pushstream <-chan types.DetectedTrade) *Detector {
	return &Detector{
		poller:     poller,
		pushstream: pushstream,
		out:        make(chan types.DetectedTrade, 256),
	}
}

// Events returns the merged, undeduplicated trade stream.
func (d *Detector) Events() <-chan types.DetectedTrade { return d.out }

// Run fans in both sources until ctx is cancelled, then closes Events().
func (d *Detector) Run(ctx context.Context) {
	defer close(d.out)

	pushstream := d.pushstream
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-d.poller:
			if !ok {
				d.poller = nil
				if d.poller == nil && pushstream == nil {
					return
				}
				continue
			}
			d.forward(ctx, t)
		case t, ok := <-pushstream:
			if !ok {
				pushstream = nil
				if d.poller == nil && pushstream == nil {
					return
				}
				continue
			}
			d.forward(ctx, t)
		}
	}
}

func (d *Detector) forward(ctx context.Context, t types.DetectedTrade) {
	select {
	case d.out <- t:
	case <-ctx.Done():
	}
}
