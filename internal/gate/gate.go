// Package gate decides whether a classified failure may be remediated
// automatically. Decisions are pure functions of their inputs.
package gate

import (
	"time"

	"github.com/dwsmith1983/runwarden/pkg/types"
)

// ReasonInvalidPolicy escalates failures whose target policy does not parse.
const ReasonInvalidPolicy = "invalid_policy"

// Gate resolves a target's policy and applies the decision rules.
type Gate struct {
	policyFor func(types.Target) types.RemediationPolicy
}

// New creates a Gate. policyFor returns the effective policy of a target.
func New(policyFor func(types.Target) types.RemediationPolicy) *Gate {
	return &Gate{policyFor: policyFor}
}

// Decide rules on a verdict given the signature's attempts (ordered by
// number). The rules form a strict precedence chain:
//
//  1. categories that are never retried escalate;
//  2. confidence below the threshold escalates;
//  3. a full ledger skips as exhausted;
//  4. a last attempt inside the cooldown window skips;
//  5. otherwise retry.
func (g *Gate) Decide(target types.Target, verdict types.Verdict, attempts []types.RemediationAttempt, now time.Time) types.Decision {
	if !verdict.Category.Retryable() {
		return types.Decision{Action: types.ActionEscalate, Reason: string(verdict.Category)}
	}
	policy, err := ParsePolicy(g.policyFor(target))
	if err != nil {
		return types.Decision{Action: types.ActionEscalate, Reason: ReasonInvalidPolicy}
	}
	return Decide(policy, verdict, attempts, now)
}

// Decide applies the rules under an explicit policy.
func Decide(policy Policy, verdict types.Verdict, attempts []types.RemediationAttempt, now time.Time) types.Decision {
	if !verdict.Category.Retryable() {
		return types.Decision{Action: types.ActionEscalate, Reason: string(verdict.Category)}
	}
	if verdict.Confidence < policy.ConfidenceThreshold {
		return types.Decision{Action: types.ActionEscalate, Reason: types.ReasonLowConfidence}
	}
	if len(attempts) >= policy.MaxAttempts {
		return types.Decision{Action: types.ActionSkip, Reason: types.ReasonExhausted}
	}
	if n := len(attempts); n > 0 {
		last := attempts[n-1]
		if now.Before(last.CreatedAt.Add(policy.CooldownAfter(last.AttemptNumber))) {
			return types.Decision{Action: types.ActionSkip, Reason: types.ReasonCooldown}
		}
	}
	return types.Decision{Action: types.ActionRetry}
}

// CooldownRemaining reports how long until the next retry is allowed.
func CooldownRemaining(policy Policy, attempts []types.RemediationAttempt, now time.Time) time.Duration {
	if len(attempts) == 0 {
		return 0
	}
	last := attempts[len(attempts)-1]
	if d := last.CreatedAt.Add(policy.CooldownAfter(last.AttemptNumber)).Sub(now); d > 0 {
		return d
	}
	return 0
}
