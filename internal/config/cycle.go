package config

import (
	"errors"
	"time"

	"github.com/dwsmith1983/runwarden/internal/classifier"
	"github.com/dwsmith1983/runwarden/internal/registry"
	"github.com/dwsmith1983/runwarden/pkg/types"
)

// Cycle defaults.
const (
	DefaultInterval        = 24 * time.Hour
	DefaultDeadline        = 10 * time.Minute
	DefaultWorkers         = 4
	DefaultPageSize        = 1
	DefaultLogExcerptBytes = 16000
	DefaultCallTimeout     = 30 * time.Second
)

// CycleSettings is CycleConfig with defaults applied and durations parsed.
type CycleSettings struct {
	Interval             time.Duration
	Deadline             time.Duration
	Workers              int
	PageSize             int
	ObservationRetention int
	LogExcerptBytes      int
	InferenceTimeout     time.Duration
	RerunTimeout         time.Duration
	PlatformTimeout      time.Duration
}

// ParseCycle applies defaults to c and parses its durations.
func ParseCycle(c types.CycleConfig) (CycleSettings, error) {
	s := CycleSettings{
		Workers:              c.Workers,
		PageSize:             c.PageSize,
		ObservationRetention: c.ObservationRetention,
		LogExcerptBytes:      c.LogExcerptBytes,
	}
	if s.Workers == 0 {
		s.Workers = DefaultWorkers
	}
	if s.PageSize == 0 {
		s.PageSize = DefaultPageSize
	}
	if s.ObservationRetention == 0 {
		s.ObservationRetention = registry.DefaultRetention
	}
	if s.LogExcerptBytes == 0 {
		s.LogExcerptBytes = DefaultLogExcerptBytes
	}

	var errs [5]error
	s.Interval, errs[0] = parseDuration("cycle.interval", c.Interval, DefaultInterval)
	s.Deadline, errs[1] = parseDuration("cycle.deadline", c.Deadline, DefaultDeadline)
	s.InferenceTimeout, errs[2] = parseDuration("cycle.inferenceTimeout", c.InferenceTimeout, classifier.DefaultTimeout)
	s.RerunTimeout, errs[3] = parseDuration("cycle.rerunTimeout", c.RerunTimeout, DefaultCallTimeout)
	s.PlatformTimeout, errs[4] = parseDuration("cycle.platformTimeout", c.PlatformTimeout, DefaultCallTimeout)
	if err := errors.Join(errs[:]...); err != nil {
		return CycleSettings{}, err
	}
	return s, nil
}
