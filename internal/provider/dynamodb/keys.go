package dynamodb

import (
	"fmt"
	"time"

	"github.com/dwsmith1983/runwarden/pkg/types"
)

// PK/SK prefix constants.
const (
	prefixTarget    = "TARGET#"
	prefixObs       = "OBS#"
	prefixLedger    = "LEDGER#"
	prefixAttempt   = "ATTEMPT#"
	prefixSignature = "SIG#"
	prefixVerdict   = "VERDICT#"
	prefixCursor    = "CURSOR#"
	prefixLock      = "LOCK#"
	prefixType      = "TYPE#"

	skConfig  = "CONFIG"
	skState   = "STATE"
	skVerdict = "VERDICT"
	skCursor  = "CURSOR"
	skLock    = "LOCK"
)

func targetPK(id string) string                     { return prefixTarget + id }
func ledgerPK(key string) string                    { return prefixLedger + key }
func signaturePK(sig types.FailureSignature) string { return prefixSignature + string(sig) }
func verdictPK(runID string) string                 { return prefixVerdict + runID }
func cursorPK(name string) string                   { return prefixCursor + name }
func lockPK(key string) string                      { return prefixLock + key }

func configSK() string  { return skConfig }
func stateSK() string   { return skState }
func verdictSK() string { return skVerdict }
func cursorSK() string  { return skCursor }
func lockSK() string    { return skLock }

// sortableTime is fixed width so sort keys order chronologically.
const sortableTime = "2006-01-02T15:04:05.000000000Z"

// observationSK sorts observations chronologically within a target partition.
func observationSK(observedAt time.Time, id string) string {
	return prefixObs + observedAt.UTC().Format(sortableTime) + "#" + id
}

// attemptSK zero-pads the attempt number so lexical order matches numeric order.
func attemptSK(number int) string {
	return fmt.Sprintf("%s%06d", prefixAttempt, number)
}

// targetSignaturesPK is the GSI1 partition listing a target's signatures.
func targetSignaturesPK(targetID string) string {
	return prefixType + "signature#" + targetID
}

func ttlEpoch(d time.Duration) int64 {
	return time.Now().Add(d).Unix()
}

func isExpired(epoch int64) bool {
	return epoch > 0 && time.Now().Unix() > epoch
}
