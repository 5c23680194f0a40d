// SPDX-License-Identifier: MIT

package commands

import (
	"bufio"
	"context"
	"os"

	"github.com/lockerfleet/fleet/internal/log"
	"github.com/lockerfleet/fleet/internal/rfid"
	"github.com/lockerfleet/fleet/internal/rfid/hid"
	"github.com/lockerfleet/fleet/internal/userflow"
)

// runScanLoop reads raw UIDs from stdin, one per line, simulating the
// keyboard-wedge RFID reader mode against hardware this environment
// cannot attach: a real deployment's HID driver feeds the same bytes
// into hid.KeyboardBuffer.
func runScanLoop(ctx context.Context, handler *rfid.Handler, flow *userflow.Flow) error {
	reader := bufio.NewScanner(os.Stdin)
	buf := hid.NewKeyboardBuffer()
	done := make(chan struct{})
	lines := make(chan string)

	go func() {
		defer close(done)
		for reader.Scan() {
			select {
			case lines <- reader.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return nil
		case line := <-lines:
			for i := 0; i < len(line); i++ {
				buf.Feed(line[i])
			}
			res := buf.Feed('\n')
			if !res.Finalized {
				continue
			}
			handleRawUID(ctx, res.RawUID, handler, flow)
		}
	}
}

func handleRawUID(ctx context.Context, rawUID string, handler *rfid.Handler, flow *userflow.Flow) {
	logger := log.WithComponent("kiosk")
	scan, reason := handler.HandleRawScan(rawUID)
	if scan == nil {
		logger.Warn().Str("reason", string(reason)).Msg("scan rejected")
		return
	}
	outcome, err := flow.HandleCardScanned(ctx, scan.CardID)
	if err != nil {
		logger.Error().Err(err).Str("card_id", scan.CardID).Msg("user flow error")
		return
	}
	logger.Info().Str("card_id", scan.CardID).Bool("ok", outcome.OK).Int("locker_id", outcome.LockerID).Msg("scan handled")
}
