package classifier

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dwsmith1983/runwarden/pkg/types"
)

func TestFingerprint_FoldsVolatileTokens(t *testing.T) {
	a := "2026-03-01T10:00:01.123Z Error: request 3f2b1c9e-1a2b-4c3d-8e9f-0a1b2c3d4e5f failed after 3 retries\n  at /tmp/build-123/main.go:42 (sha 9f8e7d6c5b)"
	b := "2026-03-02T11:22:33.999Z ERROR: request 11111111-2222-3333-4444-555555555555 failed after 5 retries\n\n  at /tmp/build-999/main.go:17 (sha a1b2c3d4e5)"
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
	assert.NotContains(t, Fingerprint(a), "3f2b1c9e")
}

func TestFingerprint_IgnoresTruncationMarker(t *testing.T) {
	assert.Equal(t, Fingerprint("boom"), Fingerprint(TruncationMarker(1234)+"\nboom"))
}

func TestSignature(t *testing.T) {
	log := "npm ERR! network timeout at https://registry.npmjs.org"
	s1 := Signature("tgt_1", types.CategoryTransientInfra, log)
	s2 := Signature("tgt_1", types.CategoryTransientInfra, strings.ToUpper(log))

	assert.Len(t, string(s1), 32)
	assert.Equal(t, s1, s2)
	assert.NotEqual(t, s1, Signature("tgt_2", types.CategoryTransientInfra, log))
	assert.NotEqual(t, s1, Signature("tgt_1", types.CategoryFlakyTest, log))
	assert.NotEqual(t, s1, Signature("tgt_1", types.CategoryTransientInfra, "segmentation fault"))
}

func TestSignature_StableAcrossTruncatedTails(t *testing.T) {
	build := func(duration string) string {
		var b strings.Builder
		b.WriteString("=== job: test ===\n")
		for i := 0; i < 60; i++ {
			fmt.Fprintf(&b, "step %d setting up runner and restoring cache\n", i)
		}
		fmt.Fprintf(&b, "build finished in %s\n", duration)
		for i := 0; i < 20; i++ {
			fmt.Fprintf(&b, "test %d ok\n", i)
		}
		b.WriteString("Error: connect ETIMEDOUT 140.82.112.3:443\n")
		return b.String()
	}

	a := Tail(build("9.8s"), 1500)
	b := Tail(build("12345.3s"), 1500)
	assert.True(t, strings.HasPrefix(a, "[... truncated"))
	assert.True(t, strings.HasPrefix(b, "[... truncated"))
	assert.Equal(t,
		Signature("tgt_1", types.CategoryTransientInfra, a),
		Signature("tgt_1", types.CategoryTransientInfra, b),
	)
}
