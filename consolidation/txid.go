// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package consolidation

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"storj.io/s3db/pkg/base62"
)

// txTimeWidth is the fixed width of the base62 nanosecond prefix;
// eleven digits hold any int64.
const txTimeWidth = 11

// newTxID builds a transaction id that sorts lexicographically by
// creation time: a fixed-width base62 unix-nanosecond prefix followed
// by a UUID tiebreaker. The owner's pendingVersion marker relies on
// this ordering.
func newTxID(now time.Time) string {
	stamp := base62.EncodeInt64(now.UnixNano())
	if len(stamp) < txTimeWidth {
		stamp = strings.Repeat("0", txTimeWidth-len(stamp)) + stamp
	}
	return stamp + "-" + uuid.NewString()
}

// txTime recovers the creation time embedded in a transaction id.
func txTime(id string) (time.Time, bool) {
	if len(id) < txTimeWidth {
		return time.Time{}, false
	}
	nanos, err := base62.DecodeInt64(id[:txTimeWidth])
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, nanos).UTC(), true
}
