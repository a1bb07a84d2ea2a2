package rtd

import (
	"github.com/corememltd/adlooxrtd/internal/bucket"
	"github.com/corememltd/adlooxrtd/internal/fpd"
)

// Values is one placement's prefixed targeting key/values. Values are
// strings, numbers or bucket lists, ready for the ad server.
type Values map[string]any

// Targeting maps ad-unit codes to their targeting key/values. Placements
// with nothing to say are absent rather than empty.
type Targeting map[string]Values

// Bid carries the slice of a bid object this module reads back: the
// placement it belongs to and the viewability intersection ratio attached
// by the measurement collaborator before targeting resolution.
type Bid struct {
	AdUnitCode        string
	IntersectionRatio *float64 // in [0, 1]
}

// GetTargeting builds the per-placement targeting map from the cached
// flattened data, the per-placement overlays and the bids' viewability
// signal. It is a pure read over current state: no fetch is issued and no
// state is mutated.
func (m *Module) GetTargeting(adUnitCodes []string, bids []Bid) Targeting {
	m.metrics.TargetingCalls.Inc()

	m.mu.Lock()
	data := m.session.data
	slots := m.session.slots
	thresholds := m.cfg.Thresholds
	m.mu.Unlock()

	base := make(Values, len(data))
	for k, v := range data {
		if nv, ok := fpd.Normalize(v); ok {
			base[targetingPrefix+k] = nv
		}
	}

	out := make(Targeting, len(adUnitCodes))
	for _, code := range adUnitCodes {
		vals := make(Values, len(base)+1)
		for k, v := range base {
			vals[k] = v
		}
		for k, v := range slots[code] {
			if nv, ok := fpd.Normalize(v); ok {
				vals[targetingPrefix+k] = nv
			}
		}
		if ratio := bestIntersection(bids, code); ratio != nil {
			if met := bucket.Met(thresholds, *ratio*100); len(met) > 0 {
				vals[targetingPrefix+atfKey] = met
			}
		}
		if len(vals) > 0 {
			out[code] = vals
		}
	}
	return out
}

// bestIntersection picks the highest viewability ratio among the bids for a
// placement, nil when none carries the signal.
func bestIntersection(bids []Bid, code string) *float64 {
	var best *float64
	for i := range bids {
		b := &bids[i]
		if b.AdUnitCode != code || b.IntersectionRatio == nil {
			continue
		}
		if best == nil || *b.IntersectionRatio > *best {
			best = b.IntersectionRatio
		}
	}
	return best
}
