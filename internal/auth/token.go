// Package auth implements the bridge's capability-token verification and
// role-gated routing (SPEC_FULL.md §4.2, §10.4). Tokens are a compact,
// offline-verifiable signed-claims envelope rather than a Datalog-based
// language, since no such library exists in this project's dependency
// lineage; the three properties the bridge actually needs — signature
// check, expiry check, two fact reads (role, xpub) — are fully preserved.
package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role is the capability a token grants.
type Role string

const (
	RoleCosigner  Role = "cosigner"
	RoleWatchOnly Role = "watch-only"
)

// Claims is the JSON payload signed by the root key.
type Claims struct {
	Role Role   `json:"role"`
	Xpub string `json:"xpub,omitempty"`
	Exp  int64  `json:"exp,omitempty"`
}

// ErrInvalidToken covers every reason a token fails to verify: malformed
// encoding, bad signature, or expiry. Callers only need to know it failed;
// all of these collapse to Unauthorized at the HTTP layer.
var ErrInvalidToken = fmt.Errorf("invalid or expired token")

// VerifyToken parses and verifies raw against rootKey, returning its claims.
func VerifyToken(raw string, rootKey ed25519.PublicKey) (*Claims, error) {
	parts := strings.SplitN(raw, ".", 2)
	if len(parts) != 2 {
		return nil, ErrInvalidToken
	}

	claimsBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, ErrInvalidToken
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrInvalidToken
	}

	if !ed25519.Verify(rootKey, claimsBytes, sig) {
		return nil, ErrInvalidToken
	}

	var claims Claims
	if err := json.Unmarshal(claimsBytes, &claims); err != nil {
		return nil, ErrInvalidToken
	}

	if claims.Exp != 0 && time.Now().UTC().Unix() >= claims.Exp {
		return nil, ErrInvalidToken
	}

	return &claims, nil
}

// MintToken builds a token of the same shape VerifyToken accepts, signed by
// rootPriv. Minting happens out-of-band in real deployments (an operator
// tool, not the daemon itself) but living in this package keeps the wire
// format defined in exactly one place, and lets tests construct fixtures
// without hand-encoding the envelope.
func MintToken(claims Claims, rootPriv ed25519.PrivateKey) (string, error) {
	claimsBytes, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	sig := ed25519.Sign(rootPriv, claimsBytes)
	return base64.RawURLEncoding.EncodeToString(claimsBytes) + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}
