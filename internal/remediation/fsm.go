package remediation

import (
	"fmt"

	"github.com/dwsmith1983/runwarden/pkg/types"
)

// Transition table: from -> allowed tos
var validTransitions = map[types.SignatureStatus][]types.SignatureStatus{
	types.SignatureFresh:     {types.SignatureRetried, types.SignatureExhausted, types.SignatureResolved},
	types.SignatureRetried:   {types.SignatureRetried, types.SignatureExhausted, types.SignatureResolved},
	types.SignatureExhausted: {types.SignatureResolved},
	types.SignatureResolved:  {types.SignatureFresh},
}

// CanTransition checks if moving a signature between statuses is valid.
func CanTransition(from, to types.SignatureStatus) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Transition validates a status change.
func Transition(from, to types.SignatureStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: invalid signature transition from %s to %s", types.ErrStateInvariant, from, to)
	}
	return nil
}
