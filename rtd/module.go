// Package rtd implements the Adloox real-time-data provider. It augments
// auction requests with third-party segmentation and viewability data
// fetched from the Adloox classification service, and later exposes that
// data as ad-server targeting key/values.
package rtd

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/prebid/openrtb/v20/openrtb2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/corememltd/adlooxrtd/internal/bucket"
	"github.com/corememltd/adlooxrtd/internal/fpd"
)

const (
	// Name identifies the provider to the host pipeline.
	Name = "adloox"

	// Version is reported on every outbound query.
	Version = "1.0.0"

	// DefaultEndpoint is the classification service origin and path.
	DefaultEndpoint = "https://p.adlooxtracking.com/q"

	targetingPrefix = "adl_"
	atfKey          = "atf"
	okKey           = "ok"
)

// AuctionContext is the host-side view of one auction: the ORTB2 request
// (ad units are imps, ad-unit codes are imp IDs) plus the consent signal
// for the page.
type AuctionContext struct {
	Request *openrtb2.BidRequest
	Consent *Consent
}

// Consent carries the privacy signals forwarded on the outbound query.
type Consent struct {
	GDPRApplies   *bool
	ConsentString string // IAB TCF consent string
	USPrivacy     string
}

// SlotResolver infers an ad-slot path for an ad unit from the page layout
// when the request declares none. A nil resolver skips that step of the
// fallback chain.
type SlotResolver func(adUnitCode string) string

// session is the explicitly owned record of the last completed fetch:
// written once per successful response, read many times by targeting.
// Concurrent auctions overwrite it wholesale; the last completion wins.
type session struct {
	ready bool
	data  fpd.Fragment
	slots map[string]fpd.Fragment
}

// Module is the provider instance. One Module serves the whole process;
// every auction shares its configuration and session record.
type Module struct {
	mu      sync.Mutex
	cfg     Config
	session session

	endpoint     string
	httpClient   *http.Client
	logger       zerolog.Logger
	metrics      *Metrics
	slotResolver SlotResolver
	configSource ConfigSource
}

// Option customizes a Module at registration.
type Option func(*Module)

// WithHTTPClient sets the client used for classification fetches. Timeouts
// are the client's concern; the module manages none of its own.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Module) { m.httpClient = c }
}

// WithLogger replaces the global logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Module) { m.logger = l }
}

// WithEndpoint overrides the classification service endpoint.
func WithEndpoint(u string) Option {
	return func(m *Module) { m.endpoint = u }
}

// WithMetrics sets the metrics the module records into.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Module) { m.metrics = metrics }
}

// WithSlotResolver installs the page-layout hook used by the placement
// identifier fallback chain.
func WithSlotResolver(r SlotResolver) Option {
	return func(m *Module) { m.slotResolver = r }
}

// WithConfigSource installs the collaborator that delivers the account
// identity when the inline block is absent.
func WithConfigSource(s ConfigSource) Option {
	return func(m *Module) { m.configSource = s }
}

// New validates the host-supplied configuration and registers the provider.
// A *ConfigError is returned, and logged, on any validation failure; the
// failed registration has no side effects.
func New(raw json.RawMessage, opts ...Option) (*Module, error) {
	m := &Module{
		endpoint:   DefaultEndpoint,
		httpClient: http.DefaultClient,
		logger:     log.Logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = NewMetrics(nil)
	}

	cfg, inline, err := parseConfig(raw)
	if err != nil {
		m.logger.Error().Err(err).Msg("adloox rtd: registration refused")
		return nil, err
	}
	m.cfg = cfg

	switch {
	case inline != nil:
		m.cfg.Identity = inline
		m.logger.Warn().Msg("adloox rtd: inline account params are deprecated, supply the identity via the analytics adapter")
		m.metrics.ConfigMerges.WithLabelValues(sourceInline).Inc()
	case m.configSource != nil:
		m.configSource.Deliver(m.mergeIdentity)
	default:
		m.logger.Debug().Msg("adloox rtd: no account identity source, queries will omit account params")
	}

	return m, nil
}

// mergeIdentity is the delivery callback for the external configuration
// collaborator. It may fire more than once; every delivery overwrites.
func (m *Module) mergeIdentity(id Identity) {
	m.mu.Lock()
	m.cfg.Identity = &id
	m.mu.Unlock()
	m.metrics.ConfigMerges.WithLabelValues(sourceProvider).Inc()
	m.logger.Debug().Int("client", id.ClientID).Msg("adloox rtd: account identity delivered")
}

// Augment resolves placement identifiers for the auction, issues the
// classification query asynchronously and, when the response arrives,
// distributes the data into the request's first-party namespaces. done
// fires exactly once: synchronously when the fetch short-circuits, after
// the fetch completes otherwise. No failure propagates to the caller.
func (m *Module) Augment(ctx context.Context, auction *AuctionContext, done func()) {
	var once sync.Once
	signal := func() {
		if done != nil {
			once.Do(done)
		}
	}

	if auction == nil || auction.Request == nil {
		signal()
		return
	}

	snap := m.snapshot()
	placements := m.eligiblePlacements(auction.Request)
	if len(placements) == 0 && m.sessionReady() {
		m.logger.Debug().Msg("adloox rtd: no eligible ad units and data already cached, skipping fetch")
		m.metrics.Fetches.WithLabelValues(statusSkipped).Inc()
		signal()
		return
	}

	page := ""
	if auction.Request.Site != nil {
		page = auction.Request.Site.Page
	}
	query := m.buildRequestURL(snap, page, placements, auction.Consent)

	go m.fetch(ctx, uuid.NewString(), query, snap, placements, auction, signal)
}

// configSnapshot freezes the configuration an auction runs with, so a
// concurrent identity delivery cannot change it mid-flight.
type configSnapshot struct {
	identity    *Identity
	imps        *int
	freqCapIP   *int
	freqCapIPUA *int
	thresholds  bucket.Thresholds
	slotInPath  bool
}

func (m *Module) snapshot() configSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return configSnapshot{
		identity:    m.cfg.Identity,
		imps:        m.cfg.Imps,
		freqCapIP:   m.cfg.FreqCapIP,
		freqCapIPUA: m.cfg.FreqCapIPUA,
		thresholds:  m.cfg.Thresholds,
		slotInPath:  m.cfg.SlotInPath,
	}
}

func (m *Module) sessionReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.ready
}
