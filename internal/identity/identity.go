// Package identity derives the two identifiers a job carries: the
// canonical job key used as the queue's uniqueness token, and the GJS job
// ID used for log paths and cross-referencing. It also parses queue
// handles of the shape H:token:digits or server//H:token:digits.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/nuulab/gjs/internal/codec"
	"github.com/nuulab/gjs/internal/gjserr"
)

// maxGJSIDLen is the hard cap on the assembled id's length.
const maxGJSIDLen = 256

var handlePattern = regexp.MustCompile(`^(?:[^/]*//)?H:([^:]+):(\d+)$`)

var sanitizePattern = regexp.MustCompile(`[^A-Za-z0-9._\-()=,]`)

// CanonicalKey renders "<name>(<k1>=<v1>, <k2>=<v2>, ...)" with keys sorted
// lexicographically and values rendered by a stable scalar printer. It is
// the queue-side uniqueness token for functions declared unique, and the
// suffix of every GJS job id.
func CanonicalKey(name string, args codec.Dict) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, printScalar(args[k])))
	}

	return fmt.Sprintf("%s(%s)", name, strings.Join(parts, ", "))
}

// printScalar renders a value deterministically for use inside a canonical
// key. Nested dicts/lists are rendered recursively using the same rules so
// that equal dictionaries always produce the same string regardless of Go
// map iteration order.
func printScalar(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case bool:
		if x {
			return "true"
		}
		return "false"
	case string:
		return x
	case codec.Dict:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s:%s", k, printScalar(x[k])))
		}
		return "{" + strings.Join(parts, ",") + "}"
	case []any:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = printScalar(item)
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return fmt.Sprintf("%v", x)
	}
}

// GJSID assembles the library-generated job identifier. prefix is either a
// parsed queue handle's host-stripped form ("H:token:digits") when the job
// is executed by a worker, or a freshly generated 128-bit hex string when
// executed locally without a queue handle (pass "" to request the latter).
// The result is truncated to 256 bytes, prefix first, and sanitized to
// [A-Za-z0-9._\-()=,].
func GJSID(prefix, name string, args codec.Dict) (string, error) {
	if prefix == "" {
		p, err := randomPrefix()
		if err != nil {
			return "", err
		}
		prefix = p
	}

	raw := prefix + "." + CanonicalKey(name, args)
	sanitized := sanitizePattern.ReplaceAllString(raw, "_")

	if len(sanitized) > maxGJSIDLen {
		sanitized = sanitized[:maxGJSIDLen]
	}

	return sanitized, nil
}

// randomPrefix generates a 128-bit random identifier rendered as 32 hex
// characters, used as the local-execution GJS id prefix when a job has no
// queue handle to derive one from.
func randomPrefix() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", gjserr.New(gjserr.CodecError, fmt.Errorf("identity: failed to generate random prefix: %w", err))
	}
	return hex.EncodeToString(b), nil
}

// ParseHandle validates and strips a queue handle of the shape
// "H:token:digits" or "server//H:token:digits", returning the host-
// stripped "H:token:digits" form. Any other shape fails with
// HandleFormatError. Parsing happens exactly once, here; every caller that
// needs a handle's canonical form goes through this function.
func ParseHandle(handle string) (string, error) {
	m := handlePattern.FindStringSubmatch(handle)
	if m == nil {
		return "", gjserr.Newf(gjserr.HandleFormatError, "malformed queue handle %q", handle)
	}
	return fmt.Sprintf("H:%s:%s", m[1], m[2]), nil
}
