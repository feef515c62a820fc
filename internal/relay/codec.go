// Package relay implements the out-of-band exchange between staff and
// admin devices: the staff-side change log, the opaque payload codec, and
// the admin-side merge reconciler. The physical transport (copy/paste, QR,
// messaging) is outside this package; it only ever sees the encoded string.
package relay

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"swarnapos/backend/internal/domain"
)

// ErrDecode marks a malformed or corrupted sync payload. A decode failure
// aborts that sync attempt only; the canonical dataset is never touched.
var ErrDecode = errors.New("malformed sync payload")

// Encode serializes a change set to the transport-safe wire form:
// base64(JSON of {customers, bills}).
func Encode(changes domain.StaffChangeSet) (string, error) {
	raw, err := json.Marshal(changes)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Decode parses a payload produced by Encode. For compatibility with
// payloads exported by older builds it also accepts a bare JSON
// {customers, bills} document without the base64 wrapping.
func Decode(payload string) (domain.StaffChangeSet, error) {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return domain.StaffChangeSet{}, fmt.Errorf("%w: empty payload", ErrDecode)
	}

	raw := []byte(trimmed)
	if !strings.HasPrefix(trimmed, "{") {
		decoded, err := base64.StdEncoding.DecodeString(trimmed)
		if err != nil {
			return domain.StaffChangeSet{}, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		raw = decoded
	}

	var changes domain.StaffChangeSet
	if err := json.Unmarshal(raw, &changes); err != nil {
		return domain.StaffChangeSet{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return changes, nil
}
