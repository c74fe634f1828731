package classifier

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/dwsmith1983/runwarden/pkg/types"
)

var fingerprintRules = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`\[\.\.\. truncated \d+ bytes \.\.\.\]`), ""},
	{regexp.MustCompile(`\d{4}-\d{2}-\d{2}[t ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:z|[+-]\d{2}:?\d{2})?`), "<ts>"},
	{regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`), "<uuid>"},
	{regexp.MustCompile(`(?:/tmp|/var/folders|/home/runner/work/_temp)/\S*`), "<tmp>"},
	{regexp.MustCompile(`\b[0-9a-f]{7,}\b`), "<hex>"},
	{regexp.MustCompile(`\d+`), "<n>"},
	{regexp.MustCompile(`\s+`), " "},
}

// Fingerprint normalizes a log excerpt so that reruns of the same failure
// produce the same text: case, timestamps, UUIDs, hex ids, numbers, temp
// paths and whitespace runs are folded away.
func Fingerprint(excerpt string) string {
	s := strings.ToLower(excerpt)
	for _, r := range fingerprintRules {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	return strings.TrimSpace(s)
}

// Signature derives the failure signature of a classified failure on a
// target.
func Signature(targetID string, category types.FailureCategory, excerpt string) types.FailureSignature {
	sum := sha256.Sum256([]byte(targetID + "|" + string(category) + "|" + Fingerprint(excerpt)))
	return types.FailureSignature(hex.EncodeToString(sum[:16]))
}
