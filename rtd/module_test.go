package rtd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prebid/openrtb/v20/openrtb2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corememltd/adlooxrtd/internal/fpd"
)

const testAccount = `{"params":{"account":{"clientid":11,"platformid":22,"tagid":33}}}`

// waitDone fails the test unless done fires within a second.
func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("completion callback never fired")
	}
}

func TestAugmentEndToEnd(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(`{"seg":"abc","a":65,"_":[{"a":75},{"d":40}]}`))
	}))
	defer srv.Close()

	m := newTestModule(t, testAccount, WithEndpoint(srv.URL), WithHTTPClient(srv.Client()))

	auction := &AuctionContext{
		Request: &openrtb2.BidRequest{
			Site: &openrtb2.Site{Page: "https://example.com/article?ref=feed"},
			Imp: []openrtb2.Imp{
				{ID: "div-1", Ext: json.RawMessage(`{"gpid":"/1234/top"}`)},
				{ID: "div-2"},
			},
		},
		Consent: &Consent{GDPRApplies: boolp(true), ConsentString: "CPconsent"},
	}

	done := make(chan struct{})
	m.Augment(context.Background(), auction, func() { close(done) })
	waitDone(t, done)

	// outbound query carried the account, page and slots
	require.NotNil(t, gotQuery)
	assert.Equal(t, "11", gotQuery.Get("client"))
	assert.Equal(t, "https://example.com/article", gotQuery.Get("url"))
	assert.Equal(t, []string{"/1234/top\tdiv-1", "div-2"}, gotQuery["s"])
	assert.Equal(t, "1", gotQuery.Get("gdpr"))
	assert.Equal(t, "CPconsent", gotQuery.Get("gdpr_consent"))

	// fragments distributed: site passthrough + flag, user remap, per placement
	site := namespaceOf(t, auction.Request.Site.Ext)
	assert.Equal(t, "abc", site["seg"])
	assert.Equal(t, true, site["ok"])
	user := namespaceOf(t, auction.Request.User.Ext)
	assert.Equal(t, []any{float64(50), float64(60)}, user["aud"])
	assert.Equal(t, []any{float64(50), float64(60), float64(70)}, namespaceOf(t, auction.Request.Imp[0].Ext)["aud"])
	assert.Equal(t, []any{}, namespaceOf(t, auction.Request.Imp[1].Ext)["dis"])

	// and targeting reads it all back
	targeting := m.GetTargeting([]string{"div-1"}, nil)
	assert.Equal(t, []int{50, 60, 70}, targeting["div-1"]["adl_aud"])
	assert.Equal(t, "abc", targeting["div-1"]["adl_seg"])
	assert.Equal(t, 1, targeting["div-1"]["adl_ok"])
}

func TestAugmentSoftFailsOnBadPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	m := newTestModule(t, testAccount, WithEndpoint(srv.URL), WithHTTPClient(srv.Client()))
	auction := &AuctionContext{Request: &openrtb2.BidRequest{Imp: []openrtb2.Imp{{ID: "div-1"}}}}

	done := make(chan struct{})
	m.Augment(context.Background(), auction, func() { close(done) })
	waitDone(t, done)

	assert.Nil(t, auction.Request.Site)
	assert.False(t, m.sessionReady())
	assert.Empty(t, m.GetTargeting([]string{"div-1"}, nil))
}

func TestAugmentSoftFailsOnBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	m := newTestModule(t, testAccount, WithEndpoint(srv.URL), WithHTTPClient(srv.Client()))
	auction := &AuctionContext{Request: &openrtb2.BidRequest{Imp: []openrtb2.Imp{{ID: "div-1"}}}}

	done := make(chan struct{})
	m.Augment(context.Background(), auction, func() { close(done) })
	waitDone(t, done)

	assert.False(t, m.sessionReady())
}

func TestAugmentShortCircuit(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write([]byte(`{"_":[{"a":75}]}`))
	}))
	defer srv.Close()

	m := newTestModule(t, testAccount, WithEndpoint(srv.URL), WithHTTPClient(srv.Client()))

	first := &AuctionContext{Request: &openrtb2.BidRequest{Imp: []openrtb2.Imp{{ID: "div-1"}}}}
	done := make(chan struct{})
	m.Augment(context.Background(), first, func() { close(done) })
	waitDone(t, done)
	require.EqualValues(t, 1, requests.Load())

	// the first auction's imp now carries fragment data, so replaying it
	// with a warm cache issues no request and completes synchronously
	fired := false
	m.Augment(context.Background(), first, func() { fired = true })
	assert.True(t, fired)
	assert.EqualValues(t, 1, requests.Load())
}

func TestAugmentNoAdUnitsColdCacheStillFetches(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write([]byte(`{"seg":"page-only"}`))
	}))
	defer srv.Close()

	m := newTestModule(t, testAccount, WithEndpoint(srv.URL), WithHTTPClient(srv.Client()))
	auction := &AuctionContext{Request: &openrtb2.BidRequest{}}

	done := make(chan struct{})
	m.Augment(context.Background(), auction, func() { close(done) })
	waitDone(t, done)

	assert.EqualValues(t, 1, requests.Load())
	assert.True(t, m.sessionReady())
}

func TestAugmentNilAuction(t *testing.T) {
	m := newTestModule(t, testAccount)

	var calls atomic.Int32
	m.Augment(context.Background(), nil, func() { calls.Add(1) })
	assert.EqualValues(t, 1, calls.Load())

	m.Augment(context.Background(), &AuctionContext{}, func() { calls.Add(2) })
	assert.EqualValues(t, 3, calls.Load())
}

func TestAugmentConcurrentAuctionsCompleteOnce(t *testing.T) {
	// stagger responses so completions arrive out of request order
	var served atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if served.Add(1) == 1 {
			time.Sleep(100 * time.Millisecond)
		}
		w.Write([]byte(`{"seg":"x","_":[{"a":75}]}`))
	}))
	defer srv.Close()

	m := newTestModule(t, testAccount, WithEndpoint(srv.URL), WithHTTPClient(srv.Client()))

	const auctions = 2
	counts := make([]atomic.Int32, auctions)
	var wg sync.WaitGroup
	for i := 0; i < auctions; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			auction := &AuctionContext{Request: &openrtb2.BidRequest{Imp: []openrtb2.Imp{{ID: "div-1"}}}}
			inner := make(chan struct{})
			m.Augment(context.Background(), auction, func() {
				counts[i].Add(1)
				close(inner)
			})
			<-inner
		}()
	}
	wg.Wait()

	// give any spurious second invocation a moment to show up
	time.Sleep(50 * time.Millisecond)
	for i := range counts {
		assert.EqualValues(t, 1, counts[i].Load(), "auction %d", i)
	}
	assert.True(t, m.sessionReady())
}

func TestConfigSourceDeliversIdentity(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	delivered := make(chan struct{})
	source := configSourceFunc(func(cb func(Identity)) {
		go func() {
			cb(Identity{ClientID: 77, PlatformID: 88, TagID: 99})
			close(delivered)
		}()
	})

	m := newTestModule(t, `{}`, WithEndpoint(srv.URL), WithHTTPClient(srv.Client()), WithConfigSource(source))

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("identity never delivered")
	}

	auction := &AuctionContext{Request: &openrtb2.BidRequest{Imp: []openrtb2.Imp{{ID: "div-1"}}}}
	done := make(chan struct{})
	m.Augment(context.Background(), auction, func() { close(done) })
	waitDone(t, done)

	assert.Equal(t, "77", gotQuery.Get("client"))
	assert.Equal(t, "88", gotQuery.Get("platform"))
	assert.Equal(t, "99", gotQuery.Get("tag"))
}

func TestAugmentBeforeIdentityDeliveryOmitsAccountParams(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	// a source that never resolves: the query must tolerate the absence
	source := configSourceFunc(func(func(Identity)) {})
	m := newTestModule(t, `{}`, WithEndpoint(srv.URL), WithHTTPClient(srv.Client()), WithConfigSource(source))

	auction := &AuctionContext{Request: &openrtb2.BidRequest{Imp: []openrtb2.Imp{{ID: "div-1"}}}}
	done := make(chan struct{})
	m.Augment(context.Background(), auction, func() { close(done) })
	waitDone(t, done)

	assert.NotContains(t, gotQuery, "client")
	assert.NotContains(t, gotQuery, "platform")
	assert.NotContains(t, gotQuery, "tag")
}

func TestHTTPConfigSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"clientid":5,"platformid":6,"tagid":7}`))
	}))
	defer srv.Close()

	got := make(chan Identity, 1)
	source := &HTTPConfigSource{URL: srv.URL, Client: srv.Client()}
	source.Deliver(func(id Identity) { got <- id })

	select {
	case id := <-got:
		assert.Equal(t, Identity{ClientID: 5, PlatformID: 6, TagID: 7}, id)
	case <-time.After(time.Second):
		t.Fatal("identity never delivered")
	}
}

func TestHTTPConfigSourceDropsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	called := make(chan struct{}, 1)
	source := &HTTPConfigSource{URL: srv.URL, Client: srv.Client()}
	source.Deliver(func(Identity) { called <- struct{}{} })

	select {
	case <-called:
		t.Fatal("callback fired on a failed fetch")
	case <-time.After(100 * time.Millisecond):
	}
}

// configSourceFunc adapts a function to the ConfigSource interface.
type configSourceFunc func(func(Identity))

func (f configSourceFunc) Deliver(cb func(Identity)) { f(cb) }

// session overlay consistency: fragments written during one auction are
// visible to targeting for a different set of codes.
func TestFragmentsSurviveAcrossCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"a":95,"_":[{"v":50}]}`))
	}))
	defer srv.Close()

	m := newTestModule(t, testAccount, WithEndpoint(srv.URL), WithHTTPClient(srv.Client()))
	auction := &AuctionContext{Request: &openrtb2.BidRequest{Imp: []openrtb2.Imp{{ID: "div-1"}}}}

	done := make(chan struct{})
	m.Augment(context.Background(), auction, func() { close(done) })
	waitDone(t, done)

	m.mu.Lock()
	data := m.session.data
	slots := m.session.slots
	m.mu.Unlock()
	assert.Equal(t, fpd.Fragment{"aud": []int{50, 60, 70, 80, 90}, "ok": true}, data)
	assert.Equal(t, []int{50}, slots["div-1"]["vid"])
}
