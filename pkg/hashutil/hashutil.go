// Package hashutil provides the small, dependency-free primitives the bridge
// needs repeatedly: hex decoding, UTC timestamps, streaming content hashing,
// and a TCP port-availability probe.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// chunkSize is the read buffer used while streaming a file's bytes into the
// hasher, matching the original implementation's 8 KiB chunking.
const chunkSize = 8 * 1024

// HashFile computes the hex-encoded SHA-256 digest of the bytes at path,
// streaming the read in chunkSize chunks rather than loading the file whole.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return HashReader(f)
}

// HashReader computes the hex-encoded SHA-256 digest of everything read from r.
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DecodeHex32 decodes s as hex and requires the result to be exactly 32 bytes,
// the shape of an Ed25519 public key or a content hash.
func DecodeHex32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

// NowUTC returns the current wall-clock time in UTC, truncated to seconds so
// stored timestamps round-trip cleanly through the database's i64 columns.
func NowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// NowUnix is a convenience for NowUTC().Unix().
func NowUnix() int64 {
	return NowUTC().Unix()
}

// PortAvailable reports whether nothing accepts TCP connections on port at
// 127.0.0.1; other interfaces are not probed.
// It probes by dialing rather than binding: a successful connect means some
// process is already listening there, so the port is not available.
func PortAvailable(port uint16) bool {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
	if err != nil {
		return true
	}
	conn.Close()
	return false
}
