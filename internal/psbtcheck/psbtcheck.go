// Package psbtcheck offers an optional, structural-only sanity check on
// uploaded PSBT bytes. It never inspects financial content (inputs, outputs,
// signatures) — it only confirms the bytes parse as a well-formed PSBT
// envelope, preserving the "PSBTs are opaque to the bridge" contract.
package psbtcheck

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
)

// ValidateShape attempts to parse raw as a PSBT container, returning a
// human-readable error if it does not even parse. The daemon's upload paths
// do not call it, and AppConfig.StrictPsbtShapeCheck is not read anywhere.
func ValidateShape(raw []byte) error {
	if _, err := psbt.NewFromRawBytes(bytes.NewReader(raw), false); err != nil {
		return fmt.Errorf("file_psbt is not a valid PSBT: %w", err)
	}
	return nil
}
