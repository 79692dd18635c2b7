package market

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/albionforge/itemgraph/internal/domain"
	"github.com/albionforge/itemgraph/internal/platform/logger"
)

func record(id string) domain.ItemRecord {
	return domain.ItemRecord{Identifier: id}
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, []string{"Caerleon", "Martlock"}, 5*time.Second, logger.NewNop())
	c.sleep = func(time.Duration) {}
	return c, srv
}

func pricesHandler(t *testing.T, prices map[string][]PriceObservation) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		rawIDs := strings.TrimPrefix(r.URL.Path, "/api/v2/stats/prices/")
		decoded, err := url.PathUnescape(rawIDs)
		require.NoError(t, err)
		var out []PriceObservation
		for _, id := range strings.Split(decoded, ",") {
			out = append(out, prices[id]...)
		}
		require.NoError(t, json.NewEncoder(w).Encode(out))
	}
}

func TestValidateBatchPartitionsActiveAndInactive(t *testing.T) {
	c, _ := newTestClient(t, pricesHandler(t, map[string][]PriceObservation{
		"T4_HIDE": {
			{ItemID: "T4_HIDE", City: "Caerleon", SellPriceMin: 120},
			{ItemID: "T4_HIDE", City: "Martlock", SellPriceMin: 0, BuyPriceMax: 0},
		},
		"T5_HIDE@1": {
			{ItemID: "T5_HIDE@1", City: "Caerleon", SellPriceMin: 0, BuyPriceMax: 0},
			{ItemID: "T5_HIDE@1", City: "Martlock", SellPriceMin: 0, BuyPriceMax: 0},
		},
	}))

	results := c.ValidateBatch(context.Background(), []domain.ItemRecord{
		record("T4_HIDE"), record("T5_HIDE@1"),
	})
	require.Len(t, results, 2)

	require.True(t, results[0].IsValid)
	require.Equal(t, 1, results[0].ActiveCityCount)
	require.Equal(t, int64(120), results[0].MaxObservedPrice)

	require.False(t, results[1].IsValid)
	require.Equal(t, "No active prices found", results[1].Reason)
}

func TestValidateBatchBuyPriceAloneValidates(t *testing.T) {
	c, _ := newTestClient(t, pricesHandler(t, map[string][]PriceObservation{
		"T6_ORE": {{ItemID: "T6_ORE", City: "Martlock", BuyPriceMax: 55}},
	}))

	results := c.ValidateBatch(context.Background(), []domain.ItemRecord{record("T6_ORE")})
	require.Len(t, results, 1)
	require.True(t, results[0].IsValid)
	require.Equal(t, int64(55), results[0].MaxObservedPrice)
}

func TestValidateBatchRetriesThenDowngrades(t *testing.T) {
	var calls atomic.Int32
	var sleeps []time.Duration
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	c.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }

	results := c.ValidateBatch(context.Background(), []domain.ItemRecord{
		record("T4_HIDE"), record("T5_HIDE@1"),
	})

	require.Equal(t, int32(5), calls.Load(), "throttled batch retries exactly maxRetries times")
	require.Len(t, sleeps, 4, "no sleep after the final attempt")
	for i := 1; i < len(sleeps); i++ {
		// Jitter is ±20%, so consecutive doubled backoffs still order.
		require.GreaterOrEqual(t, sleeps[i], sleeps[i-1],
			"retry delay must be non-decreasing")
	}
	for _, d := range sleeps {
		require.LessOrEqual(t, d, 30*time.Second, "backoff capped at 30s")
	}

	require.Len(t, results, 2)
	for _, res := range results {
		require.False(t, res.IsValid)
		require.True(t, strings.HasPrefix(res.Reason, domain.ReasonValidationFailedPrefix),
			"downgraded reason %q must carry the shared prefix", res.Reason)
	}
}

func TestValidateBatchBodyThrottleIndicator(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"error": "Rate limit exceeded, slow down"}`))
	}))

	results := c.ValidateBatch(context.Background(), []domain.ItemRecord{record("T4_HIDE")})
	require.Equal(t, int32(5), calls.Load(), "a 200 with a throttle body still counts as throttled")
	require.False(t, results[0].IsValid)
}

func TestValidateBatchNonRetryableStatusFailsFast(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))

	results := c.ValidateBatch(context.Background(), []domain.ItemRecord{record("T4_HIDE")})
	require.Equal(t, int32(1), calls.Load())
	require.False(t, results[0].IsValid)
}

func TestValidateBatchSplitsOversizedRequests(t *testing.T) {
	var requests atomic.Int32
	prices := map[string][]PriceObservation{
		"T4_HIDE":   {{ItemID: "T4_HIDE", City: "Caerleon", SellPriceMin: 10}},
		"T5_HIDE":   {{ItemID: "T5_HIDE", City: "Caerleon", SellPriceMin: 20}},
		"T6_HIDE":   {{ItemID: "T6_HIDE", City: "Caerleon", SellPriceMin: 30}},
		"T7_HIDE":   {{ItemID: "T7_HIDE", City: "Caerleon", SellPriceMin: 40}},
		"T8_HIDE@2": {},
	}
	handler := pricesHandler(t, prices)
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		handler(w, r)
	}))

	records := []domain.ItemRecord{
		record("T4_HIDE"), record("T5_HIDE"), record("T6_HIDE"),
		record("T7_HIDE"), record("T8_HIDE@2"),
	}

	unsplit := c.ValidateBatch(context.Background(), records)
	require.Equal(t, int32(1), requests.Load())

	// Force bisection and check the concatenated results match.
	c.maxURLLength = len(c.baseURL) + 40
	requests.Store(0)
	split := c.ValidateBatch(context.Background(), records)
	require.Greater(t, requests.Load(), int32(1), "oversized batch must split")
	require.Equal(t, unsplit, split)

	// Order is preserved across the split.
	for i, rec := range records {
		require.Equal(t, rec.Identifier, split[i].Identifier)
	}
}

func TestEvaluateCountsDistinctCities(t *testing.T) {
	// Two qualities in Caerleon plus one in Martlock: two active cities.
	results := Evaluate([]domain.ItemRecord{record("T4_2H_BOW")}, []PriceObservation{
		{ItemID: "T4_2H_BOW", City: "Caerleon", Quality: 1, SellPriceMin: 900},
		{ItemID: "T4_2H_BOW", City: "Caerleon", Quality: 2, SellPriceMin: 1200},
		{ItemID: "T4_2H_BOW", City: "Martlock", Quality: 1, BuyPriceMax: 800},
		{ItemID: "T4_2H_BOW", City: "Thetford", Quality: 1},
	})
	require.Len(t, results, 1)
	require.True(t, results[0].IsValid)
	require.Equal(t, 2, results[0].ActiveCityCount)
	require.Equal(t, int64(1200), results[0].MaxObservedPrice)
}

func TestEvaluateEmptyObservations(t *testing.T) {
	results := Evaluate([]domain.ItemRecord{record("T4_HIDE")}, nil)
	require.Len(t, results, 1)
	require.False(t, results[0].IsValid)
	require.Equal(t, ReasonNoActivePrices, results[0].Reason)
}
