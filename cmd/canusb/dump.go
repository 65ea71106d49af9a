package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/shaunagostinho/canusb/internal/can"
	"github.com/shaunagostinho/canusb/internal/ring"
)

const dumpInterval = 100 * time.Millisecond

// dumpLoop polls a freshly acquired transceiver and prints the identifier of
// every message it receives until ctx is done.
func dumpLoop(ctx context.Context, tx can.Transceiver, w io.Writer) {
	ticker := time.NewTicker(dumpInterval)
	defer ticker.Stop()

	fmt.Fprint(w, "[canusb] Application Starting...\n\n")
	// tx is freshly acquired, so its cursor starts at zero. Reading it here
	// would drain and skip frames already waiting.
	var prev uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prev = dumpNew(tx, prev, w)
		}
	}
}

// dumpNew prints messages received after cursor prev and returns the new
// cursor.
func dumpNew(tx can.Transceiver, prev uint64, w io.Writer) uint64 {
	buf := tx.ReceiveBuffer()
	cursor := tx.ReceiveCursor()
	if cursor == prev {
		return prev
	}

	msgs, lost := ring.Since(buf, prev, cursor)
	fmt.Fprintln(w, "Received:")
	if lost > 0 {
		fmt.Fprintf(w, "  (%d lost)\n", lost)
	}
	for _, m := range msgs {
		fmt.Fprintf(w, "  id: 0x%08X  %s\n", m.ID, m)
	}
	return cursor
}
