package rtd

import (
	"github.com/prebid/openrtb/v20/openrtb2"

	"github.com/corememltd/adlooxrtd/internal/fpd"
)

// placement pairs an ad-unit code with its resolved identifier. Request
// order is preserved throughout: the service's per-placement response array
// is positional and carries no keys.
type placement struct {
	code string
	id   string
}

// resolvePlacement derives the stable placement identifier for one ad unit.
// The chain never fails: explicit GPID, then the declared ad-slot path,
// then the page-layout hook, then the raw ad-unit code.
func (m *Module) resolvePlacement(imp *openrtb2.Imp) string {
	if s := fpd.ExtString(imp.Ext, "gpid"); s != "" {
		return s
	}
	if s := fpd.ExtString(imp.Ext, "data", "pbadslot"); s != "" {
		return s
	}
	if m.slotResolver != nil {
		if s := m.slotResolver(imp.ID); s != "" {
			return s
		}
	}
	return imp.ID
}

// eligiblePlacements returns, in request order, every imp not yet carrying
// fragment data.
func (m *Module) eligiblePlacements(req *openrtb2.BidRequest) []placement {
	placements := make([]placement, 0, len(req.Imp))
	for i := range req.Imp {
		imp := &req.Imp[i]
		if fpd.HasNamespace(imp.Ext) {
			continue
		}
		placements = append(placements, placement{code: imp.ID, id: m.resolvePlacement(imp)})
	}
	return placements
}
