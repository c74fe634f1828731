package gate

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dwsmith1983/runwarden/pkg/types"
)

// Policy is a RemediationPolicy with its durations parsed.
type Policy struct {
	ConfidenceThreshold float64
	MaxAttempts         int
	Cooldown            time.Duration
	CooldownMultiplier  float64
	MaxCooldown         time.Duration
}

// ParsePolicy validates a remediation policy. The threshold, the bound and
// the cooldown have no defaults and must be set.
func ParsePolicy(p types.RemediationPolicy) (Policy, error) {
	var errs []error
	if p.ConfidenceThreshold <= 0 || p.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("confidenceThreshold must be in (0,1], got %v", p.ConfidenceThreshold))
	}
	if p.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("maxAttempts must be at least 1, got %d", p.MaxAttempts))
	}
	cooldown, err := time.ParseDuration(p.Cooldown)
	if err != nil || cooldown < 0 {
		errs = append(errs, fmt.Errorf("cooldown %q is not a duration", p.Cooldown))
	}
	var maxCooldown time.Duration
	if p.MaxCooldown != "" {
		if maxCooldown, err = time.ParseDuration(p.MaxCooldown); err != nil || maxCooldown < cooldown {
			errs = append(errs, fmt.Errorf("maxCooldown %q must be a duration no shorter than cooldown", p.MaxCooldown))
		}
	}
	if p.CooldownMultiplier < 0 {
		errs = append(errs, fmt.Errorf("cooldownMultiplier must not be negative"))
	}
	if len(errs) > 0 {
		return Policy{}, errors.Join(errs...)
	}
	return Policy{
		ConfidenceThreshold: p.ConfidenceThreshold,
		MaxAttempts:         p.MaxAttempts,
		Cooldown:            cooldown,
		CooldownMultiplier:  p.CooldownMultiplier,
		MaxCooldown:         maxCooldown,
	}, nil
}

// CooldownAfter returns the wait after the given attempt number:
// cooldown * multiplier^(attempt-1), capped at MaxCooldown when set. A
// multiplier of 0 or 1 keeps the window constant.
func (p Policy) CooldownAfter(attempt int) time.Duration {
	if attempt <= 1 || p.CooldownMultiplier <= 1 {
		return p.Cooldown
	}
	wait := float64(p.Cooldown) * math.Pow(p.CooldownMultiplier, float64(attempt-1))
	if p.MaxCooldown > 0 && wait > float64(p.MaxCooldown) {
		return p.MaxCooldown
	}
	if wait > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(wait)
}
