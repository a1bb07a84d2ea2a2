// Package fpd handles the first-party-data fragments this module reads and
// writes on the ORTB2 request: the scoped segment-category table, ext.data
// namespace access, and the targeting value normalization rule.
package fpd

import (
	"encoding/json"

	"github.com/buger/jsonparser"
)

const (
	// Namespace is the ext.data key every fragment lives under.
	Namespace = "adloox_rtd"

	// SlotKey is the reserved response key holding the ordered per-placement
	// entries. It is never a segment category.
	SlotKey = "_"
)

// Scope selects which request-level namespace a category value is written to.
type Scope int

const (
	// ScopeSite routes a value to site.ext.data.
	ScopeSite Scope = iota
	// ScopeUser routes a value to user.ext.data.
	ScopeUser
)

// Category names one segment category and the scope its value belongs to.
type Category struct {
	Name  string
	Scope Scope
}

// categories maps the historic single-letter wire codes kept for backwards
// compatibility with the classification service. Remapped codes carry
// user-level data; every other code keeps its name and lands site-scoped.
var categories = map[string]Category{
	"a": {Name: "aud", Scope: ScopeUser},
	"d": {Name: "dis", Scope: ScopeUser},
	"v": {Name: "vid", Scope: ScopeUser},
}

// Lookup resolves a response key to its category. The second return reports
// whether the key went through the historic table, which is also what makes
// a numeric value subject to threshold bucketing.
func Lookup(code string) (Category, bool) {
	if c, ok := categories[code]; ok {
		return c, true
	}
	return Category{Name: code, Scope: ScopeSite}, false
}

// Fragment is one flat category-to-value namespace payload.
type Fragment map[string]any

// Flatten unions the site- and user-scoped fragments into the cached view
// targeting reads from. User-scoped values win on name collisions.
func Flatten(site, user Fragment) Fragment {
	out := make(Fragment, len(site)+len(user))
	for k, v := range site {
		out[k] = v
	}
	for k, v := range user {
		out[k] = v
	}
	return out
}

// SetNamespace writes frag under ext.data.<Namespace>, creating intermediate
// objects as needed and preserving sibling ext keys.
func SetNamespace(ext json.RawMessage, frag Fragment) (json.RawMessage, error) {
	payload, err := json.Marshal(frag)
	if err != nil {
		return ext, err
	}
	if len(ext) == 0 {
		ext = json.RawMessage(`{}`)
	}
	out, err := jsonparser.Set(ext, payload, "data", Namespace)
	if err != nil {
		return ext, err
	}
	return out, nil
}

// HasNamespace reports whether ext already carries fragment data.
func HasNamespace(ext json.RawMessage) bool {
	if len(ext) == 0 {
		return false
	}
	_, _, _, err := jsonparser.Get(ext, "data", Namespace)
	return err == nil
}

// ExtString reads a string at the given key path, returning "" when the path
// is absent or not a string.
func ExtString(ext json.RawMessage, keys ...string) string {
	if len(ext) == 0 {
		return ""
	}
	s, err := jsonparser.GetString(ext, keys...)
	if err != nil {
		return ""
	}
	return s
}

// Normalize applies the targeting value rule: booleans collapse to 0/1,
// empty arrays and falsy scalars drop, everything else passes through.
// The second return is false when the value contributes no targeting key.
func Normalize(v any) (any, bool) {
	switch x := v.(type) {
	case nil:
		return nil, false
	case bool:
		if x {
			return 1, true
		}
		return nil, false
	case string:
		if x == "" {
			return nil, false
		}
		return x, true
	case int:
		if x == 0 {
			return nil, false
		}
		return x, true
	case float64:
		if x == 0 {
			return nil, false
		}
		return x, true
	case []int:
		if len(x) == 0 {
			return nil, false
		}
		return x, true
	case []string:
		if len(x) == 0 {
			return nil, false
		}
		return x, true
	case []any:
		if len(x) == 0 {
			return nil, false
		}
		return x, true
	default:
		return v, true
	}
}
