// Package xid mints prefixed random identifiers for records created on a
// single device, such as stock items and sync requests. These ids only
// need to be collision resistant across offline replicas; human-facing
// sequential codes (bill and customer ids) come from the ledger package.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New returns "<prefix>-<unixnano>-<hexrandom>". If the random source is
// unavailable the timestamp alone still keeps ids unique on one device.
func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}
