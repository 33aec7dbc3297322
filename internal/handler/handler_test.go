package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promolink/auction-engine/internal/clock"
	"github.com/promolink/auction-engine/internal/domain"
	"github.com/promolink/auction-engine/internal/gate"
	"github.com/promolink/auction-engine/internal/ledger"
	"github.com/promolink/auction-engine/internal/readmodel"
	"github.com/promolink/auction-engine/internal/registry"
	"github.com/promolink/auction-engine/internal/scheduler"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testServer struct {
	router *gin.Engine
	clk    *clock.Fake
	sched  *scheduler.Scheduler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := ledger.NewMemoryStore()
	clk := clock.NewFake(testStart)
	reg := registry.New(store, clk, nil, 12*time.Hour)
	g := gate.New(reg, store, clk, time.Second)

	rm := readmodel.New(nil)
	g.RegisterEventHandler(rm.HandleEvent)

	sched := scheduler.New(g, reg, clk, 0)

	router := gin.New()
	NewHandler(g, rm, sched).RegisterRoutes(router)

	return &testServer{router: router, clk: clk, sched: sched}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) createEnglish(t *testing.T) string {
	t.Helper()

	w := s.do(t, http.MethodPost, "/v1/auction", gin.H{
		"kind":          "english",
		"subject_ref":   "promoter-7",
		"start_at":      testStart,
		"end_at":        testStart.Add(48 * time.Hour),
		"starting_bid":  100,
		"bid_increment": 25,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var snap domain.Auction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	require.NotEmpty(t, snap.ID)

	// Activation is time-driven; run the due transition.
	s.sched.ProcessDue(s.clk.Now())
	return snap.ID
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "auction-engine")
}

func TestCreateAuction(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/auction", gin.H{
		"kind":           "dutch",
		"subject_ref":    "promo-3",
		"start_at":       testStart,
		"end_at":         testStart.Add(48 * time.Hour),
		"start_price":    10000,
		"floor_price":    4000,
		"decay_step":     1000,
		"decay_interval": "1h",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var snap domain.Auction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, domain.KindDutch, snap.Kind)
	assert.Equal(t, domain.StatusPending, snap.Status)
	assert.Equal(t, int64(10000), snap.CurrentPrice)
}

func TestCreateAuction_BadInput(t *testing.T) {
	s := newTestServer(t)

	cases := []struct {
		name string
		body gin.H
	}{
		{"missing kind", gin.H{
			"subject_ref": "promoter-7",
			"start_at":    testStart, "end_at": testStart.Add(time.Hour),
		}},
		{"bad decay interval", gin.H{
			"kind": "dutch", "subject_ref": "promo-3",
			"start_at": testStart, "end_at": testStart.Add(time.Hour),
			"start_price": 10000, "floor_price": 4000,
			"decay_step": 1000, "decay_interval": "soon",
		}},
		{"zero increment", gin.H{
			"kind": "english", "subject_ref": "promoter-7",
			"start_at": testStart, "end_at": testStart.Add(time.Hour),
			"starting_bid": 100,
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/v1/auction", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestSubmitBid(t *testing.T) {
	s := newTestServer(t)
	id := s.createEnglish(t)

	w := s.do(t, http.MethodPost, "/v1/auction/"+id+"/bid", gin.H{
		"bidder_id": "brand-a", "amount": 100,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var snap domain.Auction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, "brand-a", snap.CurrentLeaderID)
	assert.Equal(t, int64(100), snap.CurrentBid)
}

func TestSubmitBid_BelowIncrementConflict(t *testing.T) {
	s := newTestServer(t)
	id := s.createEnglish(t)

	w := s.do(t, http.MethodPost, "/v1/auction/"+id+"/bid", gin.H{
		"bidder_id": "brand-a", "amount": 100,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/v1/auction/"+id+"/bid", gin.H{
		"bidder_id": "brand-b", "amount": 110,
	})
	require.Equal(t, http.StatusConflict, w.Code)

	// The rejection body carries the reason and the authoritative snapshot.
	var resp struct {
		Reason  domain.RejectReason `json:"reason"`
		Auction domain.Auction      `json:"auction"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, domain.ReasonBelowIncrement, resp.Reason)
	assert.Equal(t, int64(100), resp.Auction.CurrentBid)
}

func TestSubmitBid_ClosedAuctionRejected(t *testing.T) {
	s := newTestServer(t)
	id := s.createEnglish(t)

	s.clk.Advance(49 * time.Hour)
	s.sched.ProcessDue(s.clk.Now())

	w := s.do(t, http.MethodPost, "/v1/auction/"+id+"/bid", gin.H{
		"bidder_id": "brand-a", "amount": 100,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp struct {
		Reason domain.RejectReason `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, domain.ReasonAuctionNotActive, resp.Reason)
}

func TestSubmitBid_UnknownAuction(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/auction/missing/bid", gin.H{
		"bidder_id": "brand-a", "amount": 100,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetSnapshotAndHistory(t *testing.T) {
	s := newTestServer(t)
	id := s.createEnglish(t)

	for _, amount := range []int64{100, 150} {
		w := s.do(t, http.MethodPost, "/v1/auction/"+id+"/bid", gin.H{
			"bidder_id": "brand-a", "amount": amount,
		})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := s.do(t, http.MethodGet, "/v1/auction/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap domain.Auction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, int64(150), snap.CurrentBid)

	w = s.do(t, http.MethodGet, "/v1/auction/"+id+"/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history []domain.Bid
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history, 2)
	assert.Equal(t, domain.OutcomeSuperseded, history[0].Outcome)
	assert.Equal(t, domain.OutcomeAccepted, history[1].Outcome)

	w = s.do(t, http.MethodGet, "/v1/auction/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = s.do(t, http.MethodGet, "/v1/auction/missing/history", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestClaimLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/auction", gin.H{
		"kind":           "dutch",
		"subject_ref":    "promo-3",
		"start_at":       testStart,
		"end_at":         testStart.Add(48 * time.Hour),
		"start_price":    10000,
		"floor_price":    4000,
		"decay_step":     1000,
		"decay_interval": "1h",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var created domain.Auction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	s.sched.ProcessDue(s.clk.Now())

	s.clk.Advance(3 * time.Hour)
	s.sched.ProcessDue(s.clk.Now())

	// Claiming at an outdated price conflicts.
	w = s.do(t, http.MethodPost, "/v1/auction/"+created.ID+"/claim", gin.H{
		"bidder_id": "brand-a", "price": 10000,
	})
	require.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/v1/auction/"+created.ID+"/claim", gin.H{
		"bidder_id": "brand-a", "price": 7000,
	})
	require.Equal(t, http.StatusOK, w.Code)
	var snap domain.Auction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, domain.StatusClosed, snap.Status)

	w = s.do(t, http.MethodPost, "/v1/auction/"+created.ID+"/claim", gin.H{
		"bidder_id": "brand-b", "price": 7000,
	})
	assert.Equal(t, http.StatusGone, w.Code)
}
