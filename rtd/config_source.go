package rtd

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ConfigSource delivers the account identity asynchronously, typically from
// the sibling analytics adapter. Deliver must not block. The callback may
// fire more than once; every delivery overwrites the previous identity.
type ConfigSource interface {
	Deliver(func(Identity))
}

// HTTPConfigSource fetches the identity block as JSON over HTTP. It is the
// stand-in used when no analytics adapter runs in-process.
type HTTPConfigSource struct {
	URL    string
	Client *http.Client
	Logger *zerolog.Logger
}

// Deliver fetches the identity on a background goroutine and hands it to cb
// on success. Failures are logged and dropped; the provider keeps running
// without account params until a later delivery.
func (s *HTTPConfigSource) Deliver(cb func(Identity)) {
	go func() {
		logger := s.logger()
		client := s.Client
		if client == nil {
			client = http.DefaultClient
		}

		resp, err := client.Get(s.URL)
		if err != nil {
			logger.Error().Err(err).Str("url", s.URL).Msg("adloox rtd: identity fetch failed")
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			logger.Error().Int("status", resp.StatusCode).Str("url", s.URL).Msg("adloox rtd: identity fetch refused")
			return
		}

		var id Identity
		if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
			logger.Error().Err(err).Msg("adloox rtd: identity response is not valid JSON")
			return
		}
		cb(id)
	}()
}

func (s *HTTPConfigSource) logger() zerolog.Logger {
	if s.Logger != nil {
		return *s.Logger
	}
	return log.Logger
}
