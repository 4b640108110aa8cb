package queue

import (
	"encoding/hex"
	"regexp"
	"sort"

	"github.com/gergesh/convex-mq/pkg/id"
)

// Key prefixes under q/{queue}/:
//
//	msg/{id}            Message row (JSON)
//	pending/{id}        Pending index, insertion-ordered
//	pendingf/{fp}/{id}  Pending index per predicate-fields fingerprint
const (
	prefixMsg           = "msg/"
	prefixPending       = "pending/"
	prefixPendingFields = "pendingf/"
)

var nameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// ValidName reports whether a queue name is usable in the keyspace.
func ValidName(name string) bool { return nameRe.MatchString(name) }

// queuePrefix returns the base prefix for a queue.
// Format: q/{queue}/
func queuePrefix(name string) string { return "q/" + name + "/" }

// msgKey returns the row key for a message.
// Format: q/{queue}/msg/{id}
func msgKey(name string, mid id.ID) []byte {
	prefix := queuePrefix(name) + prefixMsg
	key := make([]byte, len(prefix)+16)
	copy(key, prefix)
	copy(key[len(prefix):], mid[:])
	return key
}

// pendingKey returns the unfiltered pending-index key.
// Format: q/{queue}/pending/{id}
func pendingKey(name string, mid id.ID) []byte {
	prefix := queuePrefix(name) + prefixPending
	key := make([]byte, len(prefix)+16)
	copy(key, prefix)
	copy(key[len(prefix):], mid[:])
	return key
}

// pendingPrefix returns the scan prefix for the unfiltered pending index.
func pendingPrefix(name string) []byte {
	return []byte(queuePrefix(name) + prefixPending)
}

// pendingFieldsKey returns the filtered pending-index key.
// Format: q/{queue}/pendingf/{fingerprint}/{id}
func pendingFieldsKey(name, fp string, mid id.ID) []byte {
	prefix := queuePrefix(name) + prefixPendingFields + fp + "/"
	key := make([]byte, len(prefix)+16)
	copy(key, prefix)
	copy(key[len(prefix):], mid[:])
	return key
}

// pendingFieldsPrefix returns the scan prefix for one fields fingerprint.
func pendingFieldsPrefix(name, fp string) []byte {
	return []byte(queuePrefix(name) + prefixPendingFields + fp + "/")
}

// msgPrefix returns the scan prefix for all message rows of a queue.
func msgPrefix(name string) []byte {
	return []byte(queuePrefix(name) + prefixMsg)
}

// upperBound returns the exclusive end key for a prefix scan.
func upperBound(prefix []byte) []byte {
	hi := make([]byte, len(prefix)+1)
	copy(hi, prefix)
	hi[len(prefix)] = 0xFF
	return hi
}

// idFromKey extracts the trailing 16-byte message id from an index or row key.
func idFromKey(key []byte) (id.ID, bool) {
	if len(key) < 16 {
		return id.ID{}, false
	}
	mid, err := id.FromBytes(key[len(key)-16:])
	if err != nil {
		return id.ID{}, false
	}
	return mid, true
}

// fingerprint canonicalizes a predicate-fields map into an index segment:
// hex of NUL-joined sorted key/value pairs. Hex keeps user values from
// colliding with the '/' key separator. Empty fields map to the empty
// fingerprint, which is never indexed.
func fingerprint(fields map[string]string) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	raw := make([]byte, 0, 16*len(keys))
	for _, k := range keys {
		raw = append(raw, k...)
		raw = append(raw, 0)
		raw = append(raw, fields[k]...)
		raw = append(raw, 0)
	}
	return hex.EncodeToString(raw)
}
