package rtd

import (
	"encoding/json"
	"fmt"

	"github.com/prebid/openrtb/v20/openrtb2"

	"github.com/corememltd/adlooxrtd/internal/bucket"
	"github.com/corememltd/adlooxrtd/internal/fpd"
)

// processResponse distributes a classification payload into the request's
// first-party namespaces and rebuilds the session record. On a malformed
// payload it returns a *ResponseParseError and leaves all shared state
// untouched.
func (m *Module) processResponse(body []byte, snap configSnapshot, placements []placement, auction *AuctionContext) error {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return &ResponseParseError{Err: err}
	}

	// The reserved slot entries are validated up front so nothing has been
	// written when they turn out to be malformed.
	var slotEntries []map[string]any
	if raw, ok := payload[fpd.SlotKey]; ok {
		if err := json.Unmarshal(raw, &slotEntries); err != nil {
			return &ResponseParseError{Err: fmt.Errorf("per-placement entries: %w", err)}
		}
	}

	site := fpd.Fragment{}
	user := fpd.Fragment{}
	for key, raw := range payload {
		if key == fpd.SlotKey {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		cat, mapped := fpd.Lookup(key)
		val := segmentValue(snap.thresholds, mapped, v)
		if cat.Scope == fpd.ScopeUser {
			user[cat.Name] = val
		} else {
			site[cat.Name] = val
		}
	}
	site[okKey] = true

	slots := make(map[string]fpd.Fragment, len(slotEntries))
	for i, entry := range slotEntries {
		if i >= len(placements) {
			break
		}
		frag := make(fpd.Fragment, len(entry))
		for key, v := range entry {
			cat, mapped := fpd.Lookup(key)
			frag[cat.Name] = segmentValue(snap.thresholds, mapped, v)
		}
		slots[placements[i].code] = frag
	}

	req := auction.Request
	if req.Site == nil {
		req.Site = &openrtb2.Site{}
	}
	if ext, err := fpd.SetNamespace(req.Site.Ext, site); err == nil {
		req.Site.Ext = ext
	} else {
		m.logger.Debug().Err(err).Msg("adloox rtd: could not write site fragment")
	}
	if len(user) > 0 {
		if req.User == nil {
			req.User = &openrtb2.User{}
		}
		if ext, err := fpd.SetNamespace(req.User.Ext, user); err == nil {
			req.User.Ext = ext
		} else {
			m.logger.Debug().Err(err).Msg("adloox rtd: could not write user fragment")
		}
	}
	for i := range req.Imp {
		frag, ok := slots[req.Imp[i].ID]
		if !ok || len(frag) == 0 {
			continue
		}
		if ext, err := fpd.SetNamespace(req.Imp[i].Ext, frag); err == nil {
			req.Imp[i].Ext = ext
		} else {
			m.logger.Debug().Str("imp", req.Imp[i].ID).Err(err).Msg("adloox rtd: could not write imp fragment")
		}
	}

	// Fresh maps every fetch; targeting holds references to the previous
	// record, so it is replaced wholesale rather than mutated.
	m.mu.Lock()
	m.session = session{
		ready: true,
		data:  fpd.Flatten(site, user),
		slots: slots,
	}
	m.mu.Unlock()

	return nil
}

// segmentValue bucketizes a historic-table category when its raw value is a
// non-negative number; everything else passes through unchanged.
func segmentValue(t bucket.Thresholds, mapped bool, v any) any {
	if mapped {
		if f, ok := v.(float64); ok && f >= 0 {
			return bucket.Met(t, f)
		}
	}
	return v
}
