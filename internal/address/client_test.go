package address

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/l0p7/addrnorm/internal/cache"
	"github.com/l0p7/addrnorm/internal/dadata"
	"github.com/l0p7/addrnorm/internal/metrics"
	mock_address "github.com/l0p7/addrnorm/internal/mocks/address"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rawSuggestion(t *testing.T, value string, data map[string]any) dadata.RawSuggestion {
	t.Helper()
	encoded, err := json.Marshal(data)
	require.NoError(t, err)
	return dadata.RawSuggestion{Value: value, UnrestrictedValue: value, Data: encoded}
}

func newTestClient(t *testing.T, upstream Upstream, clock *testClock) (*Client, cache.Store[[]Suggestion]) {
	t.Helper()
	store := cache.NewMemory[[]Suggestion](cache.WithClock(clock.Now))
	client := NewClient(discardLogger(), Options{
		Upstream: upstream,
		Cache:    store,
		Metrics:  metrics.NewRecorder(nil),
	})
	return client, store
}

func TestClientSuggestCachesByLowercasedQueryAndCount(t *testing.T) {
	ctrl := gomock.NewController(t)
	upstream := mock_address.NewMockUpstream(ctrl)
	upstream.EXPECT().Suggest(gomock.Any(), gomock.Any()).Return([]dadata.RawSuggestion{
		rawSuggestion(t, "г Сочи, ул Искры", map[string]any{"city": "Сочи", "street": "Искры"}),
	}, nil).Times(1)

	client, _ := newTestClient(t, upstream, newTestClock())
	ctx := context.Background()

	first := client.Suggest(ctx, "Сочи Искры", SuggestOptions{Count: 5})
	second := client.Suggest(ctx, "сочи искры", SuggestOptions{Count: 5})

	require.Len(t, first, 1)
	require.Equal(t, first, second)

	result := client.Lookup(ctx, "СОЧИ ИСКРЫ", SuggestOptions{})
	require.True(t, result.FromCache, "default count of 5 shares the entry")
	require.Equal(t, OutcomeFound, result.Outcome)
}

func TestClientSuggestDifferentCountMisses(t *testing.T) {
	ctrl := gomock.NewController(t)
	upstream := mock_address.NewMockUpstream(ctrl)
	upstream.EXPECT().Suggest(gomock.Any(), gomock.Any()).Return([]dadata.RawSuggestion{}, nil).Times(2)

	client, _ := newTestClient(t, upstream, newTestClock())
	client.Suggest(context.Background(), "Краснодар", SuggestOptions{Count: 1})
	client.Suggest(context.Background(), "Краснодар", SuggestOptions{Count: 2})
}

func TestClientSuggestBuildsRequest(t *testing.T) {
	ctrl := gomock.NewController(t)
	upstream := mock_address.NewMockUpstream(ctrl)

	var captured []dadata.SuggestRequest
	upstream.EXPECT().Suggest(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req dadata.SuggestRequest) ([]dadata.RawSuggestion, error) {
			captured = append(captured, req)
			return []dadata.RawSuggestion{}, nil
		}).Times(4)

	client, _ := newTestClient(t, upstream, newTestClock())
	ctx := context.Background()

	client.Suggest(ctx, "Анапа", SuggestOptions{})
	client.SuggestCities(ctx, "Гел", 3)
	client.SuggestStreets(ctx, "Красная", "Краснодар", 7)
	client.SuggestDistricts(ctx, "Адлер", 2)

	require.Len(t, captured, 4)

	assert.Equal(t, DefaultCount, captured[0].Count)
	assert.Equal(t, []dadata.Location{{RegionFiasID: DefaultRegionFiasID}}, captured[0].Locations)
	assert.Empty(t, captured[0].FromBound)

	assert.Equal(t, dadata.BoundCity, captured[1].FromBound)
	assert.Equal(t, dadata.BoundSettlement, captured[1].ToBound)
	assert.Equal(t, 3, captured[1].Count)

	assert.Equal(t, dadata.BoundStreet, captured[2].FromBound)
	assert.Equal(t, dadata.BoundStreet, captured[2].ToBound)
	assert.Equal(t, []dadata.Location{{City: "Краснодар"}}, captured[2].Locations)

	assert.Equal(t, dadata.BoundArea, captured[3].FromBound)
	assert.Equal(t, dadata.BoundArea, captured[3].ToBound)
	assert.Equal(t, []dadata.Location{{RegionFiasID: DefaultRegionFiasID}}, captured[3].Locations)
}

func TestClientSuggestCustomRegion(t *testing.T) {
	ctrl := gomock.NewController(t)
	upstream := mock_address.NewMockUpstream(ctrl)
	upstream.EXPECT().Suggest(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req dadata.SuggestRequest) ([]dadata.RawSuggestion, error) {
			require.Equal(t, "region-1", req.Locations[0].RegionFiasID)
			return nil, nil
		})

	client := NewClient(discardLogger(), Options{Upstream: upstream, DefaultRegionFiasID: "region-1"})
	require.Empty(t, client.Suggest(context.Background(), "Майкоп", SuggestOptions{}))
}

func TestClientDisabledShortCircuits(t *testing.T) {
	clock := newTestClock()
	client, store := newTestClient(t, nil, clock)
	ctx := context.Background()

	require.False(t, client.IsAvailable())

	result := client.Lookup(ctx, "Краснодар", SuggestOptions{})
	require.Equal(t, OutcomeDisabled, result.Outcome)
	require.NotNil(t, result.Suggestions)
	require.Empty(t, result.Suggestions)

	require.Empty(t, client.SuggestCities(ctx, "Краснодар", 5))
	_, ok := client.EnrichPropertyAddress(ctx, "Краснодар, ул Красная")
	require.False(t, ok)

	n, err := store.Len(ctx)
	require.NoError(t, err)
	require.Zero(t, n, "disabled client never touches the cache")
}

func TestClientShortQueryRejected(t *testing.T) {
	ctrl := gomock.NewController(t)
	upstream := mock_address.NewMockUpstream(ctrl)
	upstream.EXPECT().Suggest(gomock.Any(), gomock.Any()).Times(0)

	client, store := newTestClient(t, upstream, newTestClock())
	ctx := context.Background()

	for _, query := range []string{"", "К", "1"} {
		result := client.Lookup(ctx, query, SuggestOptions{})
		require.Equal(t, OutcomeRejected, result.Outcome, "query %q", query)
		require.Empty(t, result.Suggestions)
	}

	n, err := store.Len(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestClientEmptyResultCachedUnderDefault(t *testing.T) {
	ctrl := gomock.NewController(t)
	upstream := mock_address.NewMockUpstream(ctrl)
	upstream.EXPECT().Suggest(gomock.Any(), gomock.Any()).Return([]dadata.RawSuggestion{}, nil).Times(2)

	clock := newTestClock()
	store := cache.NewMemory[[]Suggestion](
		cache.WithClock(clock.Now),
		cache.WithPolicy(cache.Policy{
			City:     12 * time.Hour,
			District: 12 * time.Hour,
			Street:   time.Hour,
			Default:  30 * time.Minute,
		}),
	)
	client := NewClient(discardLogger(), Options{Upstream: upstream, Cache: store})
	ctx := context.Background()

	first := client.Lookup(ctx, "Несуществующая", SuggestOptions{})
	require.Equal(t, OutcomeEmpty, first.Outcome)
	require.False(t, first.FromCache)

	clock.Advance(29 * time.Minute)
	second := client.Lookup(ctx, "Несуществующая", SuggestOptions{})
	require.Equal(t, OutcomeEmpty, second.Outcome)
	require.True(t, second.FromCache)

	clock.Advance(2 * time.Minute)
	third := client.Lookup(ctx, "Несуществующая", SuggestOptions{})
	require.False(t, third.FromCache, "default ttl elapsed while street ttl has not")
}

func TestClientCategoryFollowsFirstSuggestion(t *testing.T) {
	ctrl := gomock.NewController(t)
	upstream := mock_address.NewMockUpstream(ctrl)
	upstream.EXPECT().Suggest(gomock.Any(), gomock.Any()).Return([]dadata.RawSuggestion{
		rawSuggestion(t, "г Краснодар", map[string]any{"city": "Краснодар", "region": "Краснодарский"}),
	}, nil).Times(1)

	clock := newTestClock()
	client, _ := newTestClient(t, upstream, clock)
	ctx := context.Background()

	client.Suggest(ctx, "Краснодар", SuggestOptions{})
	clock.Advance(11 * time.Hour)

	result := client.Lookup(ctx, "Краснодар", SuggestOptions{})
	require.True(t, result.FromCache, "city entries live for twelve hours")
	require.Equal(t, KindCity, result.Suggestions[0].Type)
}

func TestClientUpstreamFailureDegrades(t *testing.T) {
	ctrl := gomock.NewController(t)
	upstream := mock_address.NewMockUpstream(ctrl)
	upstream.EXPECT().Suggest(gomock.Any(), gomock.Any()).Return(nil, errors.New("connection reset")).Times(2)

	client, store := newTestClient(t, upstream, newTestClock())
	ctx := context.Background()

	result := client.Lookup(ctx, "Краснодар", SuggestOptions{})
	require.Equal(t, OutcomeFailed, result.Outcome)
	require.NotNil(t, result.Suggestions)
	require.Empty(t, result.Suggestions)

	n, err := store.Len(ctx)
	require.NoError(t, err)
	require.Zero(t, n, "failures are not cached")

	require.Empty(t, client.Suggest(ctx, "Краснодар", SuggestOptions{}))
}

func TestClientSkipsUnparsableItems(t *testing.T) {
	ctrl := gomock.NewController(t)
	upstream := mock_address.NewMockUpstream(ctrl)
	upstream.EXPECT().Suggest(gomock.Any(), gomock.Any()).Return([]dadata.RawSuggestion{
		{Value: "broken", Data: json.RawMessage(`[1,2,3]`)},
		rawSuggestion(t, "bad geo", map[string]any{"city": "Сочи", "geo_lat": "north"}),
		rawSuggestion(t, "г Сочи", map[string]any{"city": "Сочи", "geo_lat": "43.58", "geo_lon": "39.72"}),
	}, nil)

	client, _ := newTestClient(t, upstream, newTestClock())
	got := client.Suggest(context.Background(), "Сочи", SuggestOptions{})

	require.Len(t, got, 1)
	require.Equal(t, "г Сочи", got[0].Text)
	require.Equal(t, SourceExternalAPI, got[0].Source)
	require.NotNil(t, got[0].Components.GeoLat)
	require.InDelta(t, 43.58, *got[0].Components.GeoLat, 1e-9)
	require.InDelta(t, 39.72, *got[0].Components.GeoLon, 1e-9)
}

func TestClientCachedValueIsolatedFromCaller(t *testing.T) {
	ctrl := gomock.NewController(t)
	upstream := mock_address.NewMockUpstream(ctrl)
	upstream.EXPECT().Suggest(gomock.Any(), gomock.Any()).Return([]dadata.RawSuggestion{
		rawSuggestion(t, "г Сочи", map[string]any{"city": "Сочи", "geo_lat": "43.58", "geo_lon": "39.72"}),
	}, nil).Times(1)

	client, _ := newTestClient(t, upstream, newTestClock())
	ctx := context.Background()

	first := client.Suggest(ctx, "Сочи", SuggestOptions{})
	first[0].Text = "mutated"
	*first[0].Components.GeoLat = 0
	*first[0].Components.GeoLon = 0

	second := client.Suggest(ctx, "Сочи", SuggestOptions{})
	require.Equal(t, "г Сочи", second[0].Text)
	require.InDelta(t, 43.58, *second[0].Components.GeoLat, 1e-9)
	require.InDelta(t, 39.72, *second[0].Components.GeoLon, 1e-9)

	*second[0].Components.GeoLat = 1
	third := client.Suggest(ctx, "Сочи", SuggestOptions{})
	require.InDelta(t, 43.58, *third[0].Components.GeoLat, 1e-9)
}

func TestClientClearCache(t *testing.T) {
	ctrl := gomock.NewController(t)
	upstream := mock_address.NewMockUpstream(ctrl)
	upstream.EXPECT().Suggest(gomock.Any(), gomock.Any()).Return([]dadata.RawSuggestion{}, nil).Times(2)

	client, _ := newTestClient(t, upstream, newTestClock())
	ctx := context.Background()

	client.Suggest(ctx, "Краснодар", SuggestOptions{})
	n, err := client.CacheLen(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	require.NoError(t, client.ClearCache(ctx))
	n, err = client.CacheLen(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	client.Suggest(ctx, "Краснодар", SuggestOptions{})
}

func TestClientWithoutCache(t *testing.T) {
	ctrl := gomock.NewController(t)
	upstream := mock_address.NewMockUpstream(ctrl)
	upstream.EXPECT().Suggest(gomock.Any(), gomock.Any()).Return([]dadata.RawSuggestion{}, nil).Times(2)

	client := NewClient(nil, Options{Upstream: upstream})
	ctx := context.Background()
	client.Suggest(ctx, "Краснодар", SuggestOptions{})
	client.Suggest(ctx, "Краснодар", SuggestOptions{})

	require.NoError(t, client.ClearCache(ctx))
	n, err := client.CacheLen(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}
