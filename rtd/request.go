package rtd

import (
	"net/url"
	"strconv"
)

// maxPageURLLen caps the url parameter after query and fragment stripping.
const maxPageURLLen = 300

// slotSeparator joins a placement identifier with its raw ad-unit code in
// the multi-valued slot parameter.
const slotSeparator = "\t"

// buildRequestURL assembles the canonical outbound query. Parameters with
// no value are omitted entirely; the slot parameter repeats once per
// placement in request order.
func (m *Module) buildRequestURL(snap configSnapshot, page string, placements []placement, consent *Consent) string {
	q := url.Values{}
	q.Set("v", Name+"-go/"+Version)

	if id := snap.identity; id != nil {
		q.Set("client", strconv.Itoa(id.ClientID))
		q.Set("platform", strconv.Itoa(id.PlatformID))
		q.Set("tag", strconv.Itoa(id.TagID))
	}
	if snap.imps != nil {
		q.Set("imp", strconv.Itoa(*snap.imps))
	}
	if snap.freqCapIP != nil {
		q.Set("fc_ip", strconv.Itoa(*snap.freqCapIP))
	}
	if snap.freqCapIPUA != nil {
		q.Set("fc_ipua", strconv.Itoa(*snap.freqCapIPUA))
	}

	if consent != nil {
		if consent.GDPRApplies != nil {
			if *consent.GDPRApplies {
				q.Set("gdpr", "1")
			} else {
				q.Set("gdpr", "0")
			}
		}
		if consent.ConsentString != "" {
			q.Set("gdpr_consent", consent.ConsentString)
		}
		if consent.USPrivacy != "" {
			q.Set("us_privacy", consent.USPrivacy)
		}
	}

	if u := cleanPageURL(page); u != "" {
		q.Set("url", u)
	}

	for _, p := range placements {
		v := p.id
		if !snap.slotInPath && p.id != p.code {
			v = p.id + slotSeparator + p.code
		}
		q.Add("s", v)
	}

	return m.endpoint + "?" + q.Encode()
}

// cleanPageURL strips the query and fragment from the page URL and caps its
// length.
func cleanPageURL(page string) string {
	if page == "" {
		return ""
	}
	if u, err := url.Parse(page); err == nil {
		u.RawQuery = ""
		u.Fragment = ""
		u.RawFragment = ""
		page = u.String()
	}
	if r := []rune(page); len(r) > maxPageURLLen {
		page = string(r[:maxPageURLLen])
	}
	return page
}
