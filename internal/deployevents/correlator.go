package deployevents

import (
	"context"
	"math"
	"sort"
	"time"
)

// Correlation attributes an SLO burn to a deployment event with a proximity
// score in [0,1]: 1 for a deployment at the burn onset, decaying linearly to
// 0 at the window edge. Deployments after the onset are heavily discounted,
// since a deploy cannot have started a burn that precedes it.
type Correlation struct {
	Event DeploymentEvent
	Score float64
}

// EventReader is the slice of the store the correlator needs.
type EventReader interface {
	EventsNear(ctx context.Context, service string, t time.Time, window time.Duration) ([]DeploymentEvent, error)
}

// Correlator matches deployment events to SLO burn onsets.
type Correlator struct {
	store EventReader
	// Window bounds how far from the onset a deployment can be and still
	// correlate (default 6h).
	Window time.Duration
}

func NewCorrelator(store EventReader) *Correlator {
	return &Correlator{store: store, Window: 6 * time.Hour}
}

// Correlate returns the service's deployments near the burn onset, scored
// and sorted best first. An empty result means no deployment plausibly
// explains the burn.
func (c *Correlator) Correlate(ctx context.Context, service string, burnOnset time.Time) ([]Correlation, error) {
	events, err := c.store.EventsNear(ctx, service, burnOnset, c.Window)
	if err != nil {
		return nil, err
	}

	out := make([]Correlation, 0, len(events))
	for _, event := range events {
		score := c.score(event.OccurredAt, burnOnset)
		if score <= 0 {
			continue
		}
		out = append(out, Correlation{Event: event, Score: score})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Event.ExternalEventID < out[j].Event.ExternalEventID
	})
	return out, nil
}

func (c *Correlator) score(occurred, onset time.Time) float64 {
	delta := onset.Sub(occurred)
	proximity := 1 - math.Abs(delta.Seconds())/c.Window.Seconds()
	if proximity <= 0 {
		return 0
	}
	// A deployment shortly before the onset is the prime suspect; one
	// after the onset cannot have started the burn.
	if delta < 0 {
		proximity *= 0.25
	}
	return proximity
}
