package rtd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/corememltd/adlooxrtd/internal/bucket"
)

// Identity is the account under which classification queries are issued. It
// arrives either from the deprecated inline account block or asynchronously
// from the analytics adapter.
type Identity struct {
	ClientID   int `json:"clientid"`
	PlatformID int `json:"platformid"`
	TagID      int `json:"tagid"`
}

// Config is the validated, normalized provider configuration. After New
// returns it only changes when an external identity delivery fires.
type Config struct {
	Identity    *Identity
	Imps        *int
	FreqCapIP   *int
	FreqCapIPUA *int
	Thresholds  bucket.Thresholds
	SlotInPath  bool
}

// Wire shapes for the host-supplied configuration. Optional fields stay
// pointers so an absent parameter can be omitted from the outbound query
// instead of being sent as a zero.
type rawConfig struct {
	Params *rawParams `json:"params"`
}

type rawParams struct {
	Account     *rawAccount `json:"account"`
	Imps        *int        `json:"imps"`
	FreqCapIP   *int        `json:"freqcap_ip"`
	FreqCapIPUA *int        `json:"freqcap_ipua"`
	Thresholds  *[]int      `json:"thresholds"`
	SlotInPath  *bool       `json:"slotinpath"`
}

type rawAccount struct {
	ClientID   *int `json:"clientid"`
	PlatformID *int `json:"platformid"`
	TagID      *int `json:"tagid"`
}

// parseConfig validates raw and returns the normalized configuration plus
// the inline account identity when the deprecated block is present. It is
// idempotent: re-validating a normalized configuration yields the same
// result.
func parseConfig(raw json.RawMessage) (Config, *Identity, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Config{}, nil, &ConfigError{Field: "config", Reason: "must be an object"}
	}

	var top rawConfig
	if err := json.Unmarshal(trimmed, &top); err != nil {
		return Config{}, nil, configErrorFromJSON(err)
	}

	var p rawParams
	if top.Params != nil {
		p = *top.Params
	}

	var cfg Config
	if p.Imps != nil {
		if *p.Imps <= 0 {
			return Config{}, nil, &ConfigError{Field: "params.imps", Reason: "must be a positive integer"}
		}
		cfg.Imps = p.Imps
	}
	if p.FreqCapIP != nil {
		if *p.FreqCapIP < 0 {
			return Config{}, nil, &ConfigError{Field: "params.freqcap_ip", Reason: "must be a non-negative integer"}
		}
		cfg.FreqCapIP = p.FreqCapIP
	}
	if p.FreqCapIPUA != nil {
		if *p.FreqCapIPUA < 0 {
			return Config{}, nil, &ConfigError{Field: "params.freqcap_ipua", Reason: "must be a non-negative integer"}
		}
		cfg.FreqCapIPUA = p.FreqCapIPUA
	}

	if p.Thresholds == nil {
		cfg.Thresholds = bucket.Default()
	} else {
		if len(*p.Thresholds) == 0 {
			return Config{}, nil, &ConfigError{Field: "params.thresholds", Reason: "must be a non-empty array of integers in (0,100]"}
		}
		for _, cut := range *p.Thresholds {
			if cut <= 0 || cut > 100 {
				return Config{}, nil, &ConfigError{Field: "params.thresholds", Reason: fmt.Sprintf("cutoff %d is outside (0,100]", cut)}
			}
		}
		cfg.Thresholds = bucket.Normalize(*p.Thresholds)
	}

	if p.SlotInPath != nil {
		cfg.SlotInPath = *p.SlotInPath
	}

	var inline *Identity
	if p.Account != nil {
		if p.Account.ClientID == nil || p.Account.PlatformID == nil || p.Account.TagID == nil {
			return Config{}, nil, &ConfigError{Field: "params.account", Reason: "requires clientid, platformid and tagid"}
		}
		inline = &Identity{
			ClientID:   *p.Account.ClientID,
			PlatformID: *p.Account.PlatformID,
			TagID:      *p.Account.TagID,
		}
	}

	return cfg, inline, nil
}

func configErrorFromJSON(err error) error {
	var ute *json.UnmarshalTypeError
	if errors.As(err, &ute) && ute.Field != "" {
		return &ConfigError{Field: ute.Field, Reason: "cannot be a " + ute.Value}
	}
	return &ConfigError{Field: "config", Reason: err.Error()}
}
