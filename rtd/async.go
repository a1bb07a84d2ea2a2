package rtd

import (
	"context"
	"io"
	"net/http"
	"time"
)

// fetch issues the classification query and hands the body to the response
// processor. signal fires on every path, transport errors, bad statuses and
// parse failures alike: an auction is never blocked on this module.
func (m *Module) fetch(ctx context.Context, fetchID, query string, snap configSnapshot, placements []placement, auction *AuctionContext, signal func()) {
	defer signal()

	start := time.Now()
	logger := m.logger.With().Str("fetch_id", fetchID).Logger()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, query, nil)
	if err != nil {
		logger.Error().Err(err).Msg("adloox rtd: building request failed")
		m.metrics.Fetches.WithLabelValues(statusError).Inc()
		return
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		logger.Error().Err(err).Msg("adloox rtd: fetch failed")
		m.metrics.Fetches.WithLabelValues(statusError).Inc()
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Error().Int("status", resp.StatusCode).Msg("adloox rtd: unexpected fetch status")
		m.metrics.Fetches.WithLabelValues(statusError).Inc()
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Error().Err(err).Msg("adloox rtd: reading response failed")
		m.metrics.Fetches.WithLabelValues(statusError).Inc()
		return
	}
	m.metrics.FetchDuration.Observe(time.Since(start).Seconds())

	if err := m.processResponse(body, snap, placements, auction); err != nil {
		logger.Error().Err(err).Msg("adloox rtd: discarding response")
		m.metrics.Fetches.WithLabelValues(statusError).Inc()
		return
	}

	logger.Debug().Int("ad_units", len(placements)).Msg("adloox rtd: response distributed")
	m.metrics.Fetches.WithLabelValues(statusOK).Inc()
}
