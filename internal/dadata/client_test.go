package dadata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient(Config{APIKey: "  "})
	require.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestSuggestRequestMarshalJSON(t *testing.T) {
	req := SuggestRequest{
		Query:     "Искры",
		Count:     5,
		Locations: []Location{{City: "Сочи"}},
		FromBound: BoundStreet,
		ToBound:   BoundStreet,
	}
	payload, err := json.Marshal(req)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"query": "Искры",
		"count": 5,
		"locations": [{"city": "Сочи"}],
		"from_bound": {"value": "street"},
		"to_bound": {"value": "street"}
	}`, string(payload))

	payload, err = json.Marshal(SuggestRequest{Query: "Сочи"})
	require.NoError(t, err)
	require.JSONEq(t, `{"query": "Сочи"}`, string(payload))
}

func TestClientSuggest(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		handler func(t *testing.T, w http.ResponseWriter, r *http.Request)
		want    []string
		wantErr string
	}{
		{
			name:   "returns suggestions",
			secret: "secret",
			handler: func(t *testing.T, w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/suggest/address", r.URL.Path)
				assert.Equal(t, "Token key", r.Header.Get("Authorization"))
				assert.Equal(t, "secret", r.Header.Get("X-Secret"))

				var body map[string]any
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "сочи", body["query"])
				assert.EqualValues(t, 5, body["count"])
				assert.Equal(t, map[string]any{"value": "city"}, body["from_bound"])

				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"suggestions":[
					{"value":"г Сочи","unrestricted_value":"Краснодарский край, г Сочи","data":{"city":"Сочи","geo_lat":"43.5854","geo_lon":"39.7231"}},
					{"value":"г Сочи, р-н Адлерский","data":{"city":"Сочи","area":null}}
				]}`))
			},
			want: []string{"г Сочи", "г Сочи, р-н Адлерский"},
		},
		{
			name: "omits secret header when unset",
			handler: func(t *testing.T, w http.ResponseWriter, r *http.Request) {
				assert.Empty(t, r.Header.Get("X-Secret"))
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"suggestions":[]}`))
			},
			want: []string{},
		},
		{
			name: "server error",
			handler: func(t *testing.T, w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"message":"forbidden"}`))
			},
			wantErr: "response error 403",
		},
		{
			name: "malformed payload",
			handler: func(t *testing.T, w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"unexpected":true}`))
			},
			wantErr: "dadata: suggest",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				tt.handler(t, w, r)
			}))
			defer server.Close()

			client, err := NewClient(Config{APIKey: "key", SecretKey: tt.secret, BaseURL: server.URL, Timeout: time.Second})
			require.NoError(t, err)
			defer func() { _ = client.Close() }()

			got, err := client.Suggest(context.Background(), SuggestRequest{Query: "сочи", Count: 5, FromBound: BoundCity, ToBound: BoundSettlement})
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			values := make([]string, 0, len(got))
			for _, s := range got {
				values = append(values, s.Value)
			}
			assert.Equal(t, tt.want, values)
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		limit int
		want  string
	}{
		{name: "short input unchanged", input: "ошибка", limit: 64, want: "ошибка"},
		{name: "ascii cut", input: "forbidden", limit: 3, want: "for..."},
		{name: "cut inside rune backs off", input: "ошибка", limit: 3, want: "о..."},
		{name: "cut on rune boundary", input: "ошибка", limit: 4, want: "ош..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.input, tt.limit)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestClientSuggestCyrillicErrorBodyStaysValidUTF8(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		// byte 256 falls in the middle of a two-byte rune
		_, _ = w.Write([]byte(strings.Repeat("ошибка ", 60)))
	}))
	defer server.Close()

	client, err := NewClient(Config{APIKey: "key", BaseURL: server.URL, Timeout: time.Second})
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	_, err = client.Suggest(context.Background(), SuggestRequest{Query: "сочи", Count: 5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "response error 400")
	assert.True(t, utf8.ValidString(err.Error()), "error message must not split a rune")
}

func TestClientSuggestRateLimitHonoursContext(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"suggestions":[]}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{APIKey: "key", BaseURL: server.URL, RateLimit: 0.001})
	require.NoError(t, err)

	_, err = client.Suggest(context.Background(), SuggestRequest{Query: "first"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = client.Suggest(ctx, SuggestRequest{Query: "second"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit wait")
	assert.Equal(t, 1, calls)
}

func TestRawSuggestionDecodeData(t *testing.T) {
	data, err := RawSuggestion{Data: json.RawMessage(`{"street":"Искры","house":"88"}`)}.DecodeData()
	require.NoError(t, err)
	assert.Equal(t, "Искры", data.Street)
	assert.Equal(t, "88", data.House)

	data, err = RawSuggestion{}.DecodeData()
	require.NoError(t, err)
	assert.Equal(t, AddressData{}, data)

	_, err = RawSuggestion{Data: json.RawMessage(`{"street":12}`)}.DecodeData()
	require.Error(t, err)
}
