// Package synctoken encodes and decodes the opaque cursor that marks how far
// a client has caught up with server state.
//
// A token is a cursor, not a credential: it carries no authorization
// semantics and must not be assumed tamper-proof. The reconciliation engine
// still authorizes every record it returns against the caller's group
// memberships regardless of the token presented.
//
// The encoding is deliberately opaque (a versioned payload behind base64url)
// so the backing representation can change — for example to a logical
// sequence number — without breaking clients, provided Encode and Decode
// stay consistent.
package synctoken

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// prefix versions the token payload. Unknown prefixes decode to the epoch.
const prefix = "ndtok1:"

// Epoch is the sentinel returned for absent or malformed tokens. A client
// presenting it receives a full resync.
var Epoch = time.Unix(0, 0).UTC()

// Encode produces an opaque token for the given server instant.
// Precision is one second; Decode(Encode(t)) equals t truncated to seconds.
func Encode(t time.Time) string {
	payload := prefix + strconv.FormatInt(t.Unix(), 10)
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

// Decode recovers the server instant from a token.
//
// Decode never fails: an empty, malformed, or future-versioned token yields
// Epoch so the caller degrades gracefully to a full resync instead of
// erroring out.
func Decode(token string) time.Time {
	if token == "" {
		return Epoch
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Epoch
	}
	payload := string(raw)
	if !strings.HasPrefix(payload, prefix) {
		return Epoch
	}
	secs, err := strconv.ParseInt(payload[len(prefix):], 10, 64)
	if err != nil || secs < 0 {
		return Epoch
	}
	return time.Unix(secs, 0).UTC()
}

// IsEpoch reports whether t is the full-resync sentinel.
func IsEpoch(t time.Time) bool {
	return t.Equal(Epoch)
}

// String renders a decoded instant for logs.
func String(t time.Time) string {
	if IsEpoch(t) {
		return "epoch (full resync)"
	}
	return fmt.Sprintf("cutoff %s", t.Format(time.RFC3339))
}
