package app

import (
	"context"
	"time"
)

// healthProbeTimeout bounds a single dependency check
const healthProbeTimeout = 2 * time.Second

// Health represents the health status served on /health
type Health struct {
	TS    string `json:"ts"`
	OK    bool   `json:"ok"`
	Store string `json:"store,omitempty"`
	Error string `json:"error,omitempty"`
}

// Probe checks that one dependency answers
type Probe func(ctx context.Context) error

// CheckHealth runs probe, if any, and reports the outcome at now
func CheckHealth(ctx context.Context, store string, probe Probe, now time.Time) Health {
	h := Health{
		TS:    now.UTC().Format(time.RFC3339Nano),
		OK:    true,
		Store: store,
	}
	if probe == nil {
		return h
	}

	ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()
	if err := probe(ctx); err != nil {
		h.OK = false
		h.Error = err.Error()
	}
	return h
}
