package dewarmte

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI is a mock DeWarmte cloud backed by httptest, counting calls
// to each endpoint.
type fakeAPI struct {
	mu           sync.Mutex
	authCalls    int
	refreshCalls int

	authStatus    int
	refreshStatus int

	productsHandler http.HandlerFunc
	tbStatusHandler http.HandlerFunc
	insightsHandler http.HandlerFunc
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		authStatus:    http.StatusOK,
		refreshStatus: http.StatusOK,
	}
}

func (f *fakeAPI) server(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1/auth/token/":
			f.mu.Lock()
			f.authCalls++
			status := f.authStatus
			f.mu.Unlock()

			assert.Equal(t, "POST", r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

			if status != http.StatusOK {
				w.WriteHeader(status)
				return
			}
			json.NewEncoder(w).Encode(map[string]string{
				"access":  "access-1",
				"refresh": "refresh-1",
			})
		case r.URL.Path == "/v1/auth/token/refresh/":
			f.mu.Lock()
			f.refreshCalls++
			status := f.refreshStatus
			f.mu.Unlock()

			body, _ := io.ReadAll(r.Body)
			var req map[string]string
			json.Unmarshal(body, &req)
			assert.NotEmpty(t, req["refresh"], "refresh endpoint should receive the refresh token")

			if status != http.StatusOK {
				w.WriteHeader(status)
				return
			}
			json.NewEncoder(w).Encode(map[string]string{"access": "access-refreshed"})
		case r.URL.Path == "/v1/customer/products/" && f.productsHandler != nil:
			f.productsHandler(w, r)
		case r.URL.Path == "/v1/customer/products/tb-status/" && f.tbStatusHandler != nil:
			f.tbStatusHandler(w, r)
		case f.insightsHandler != nil:
			f.insightsHandler(w, r)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func (f *fakeAPI) counts() (auth, refresh int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authCalls, f.refreshCalls
}

func newTestClient(baseURL string) *Client {
	return NewClient(Config{
		BaseURL:  baseURL,
		Email:    "user@example.com",
		Password: "secret",
	}, nil, nil)
}

func TestClient_Authenticate(t *testing.T) {
	api := newFakeAPI()
	server := api.server(t)
	defer server.Close()

	client := newTestClient(server.URL)
	err := client.Authenticate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "access-1", client.accessToken)
	assert.Equal(t, "refresh-1", client.refreshToken)
	assert.WithinDuration(t, time.Now().Add(tokenValidity), client.expiresAt, 5*time.Second)
}

func TestClient_Authenticate_Rejected(t *testing.T) {
	api := newFakeAPI()
	api.authStatus = http.StatusUnauthorized
	server := api.server(t)
	defer server.Close()

	client := newTestClient(server.URL)
	err := client.Authenticate(context.Background())
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
}

func TestClient_EnsureAuthenticated_NoOpWhenValid(t *testing.T) {
	api := newFakeAPI()
	server := api.server(t)
	defer server.Close()

	client := newTestClient(server.URL)
	client.accessToken = "still-valid"
	client.refreshToken = "refresh-1"
	client.expiresAt = time.Now().Add(10 * time.Minute)

	err := client.EnsureAuthenticated(context.Background())
	require.NoError(t, err)

	auth, refresh := api.counts()
	assert.Zero(t, auth, "valid token should not trigger authentication")
	assert.Zero(t, refresh, "valid token should not trigger refresh")
	assert.Equal(t, "still-valid", client.accessToken)
}

func TestClient_EnsureAuthenticated_RefreshesExpiredToken(t *testing.T) {
	api := newFakeAPI()
	server := api.server(t)
	defer server.Close()

	client := newTestClient(server.URL)
	client.accessToken = "expired"
	client.refreshToken = "refresh-1"
	client.expiresAt = time.Now().Add(-time.Minute)

	err := client.EnsureAuthenticated(context.Background())
	require.NoError(t, err)

	auth, refresh := api.counts()
	assert.Zero(t, auth, "refresh token present, full re-auth not expected")
	assert.Equal(t, 1, refresh, "expired token should trigger exactly one refresh")
	assert.Equal(t, "access-refreshed", client.accessToken)
	assert.Equal(t, "refresh-1", client.refreshToken, "refresh token is preserved, not rotated")
}

func TestClient_EnsureAuthenticated_FullAuthWithoutRefreshToken(t *testing.T) {
	api := newFakeAPI()
	server := api.server(t)
	defer server.Close()

	client := newTestClient(server.URL)
	err := client.EnsureAuthenticated(context.Background())
	require.NoError(t, err)

	auth, refresh := api.counts()
	assert.Equal(t, 1, auth)
	assert.Zero(t, refresh)
	assert.Equal(t, "access-1", client.accessToken)
}

func TestClient_RefreshFallsBackToAuthenticate(t *testing.T) {
	api := newFakeAPI()
	api.refreshStatus = http.StatusUnauthorized
	server := api.server(t)
	defer server.Close()

	client := newTestClient(server.URL)
	client.accessToken = "expired"
	client.refreshToken = "stale-refresh"
	client.expiresAt = time.Now().Add(-time.Minute)

	err := client.EnsureAuthenticated(context.Background())
	require.NoError(t, err)

	auth, refresh := api.counts()
	assert.Equal(t, 1, refresh)
	assert.Equal(t, 1, auth, "rejected refresh should fall back to full re-auth")
	assert.Equal(t, "access-1", client.accessToken)
}

func TestClient_Get_401RetriesExactlyOnce(t *testing.T) {
	api := newFakeAPI()

	var productCalls int
	var mu sync.Mutex
	api.productsHandler = func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		productCalls++
		calls := productCalls
		mu.Unlock()

		if calls == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "Bearer access-refreshed", r.Header.Get("Authorization"),
			"retry must carry the refreshed token")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"count":   1,
			"results": []map[string]interface{}{{"id": "d1", "nickname": "Pump"}},
		})
	}
	server := api.server(t)
	defer server.Close()

	client := newTestClient(server.URL)
	client.accessToken = "revoked"
	client.refreshToken = "refresh-1"
	client.expiresAt = time.Now().Add(10 * time.Minute)

	devices, err := client.GetDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "d1", devices[0].ID)

	_, refresh := api.counts()
	assert.Equal(t, 1, refresh)
	assert.Equal(t, 2, productCalls)
}

func TestClient_Get_401RetryFailurePropagates(t *testing.T) {
	api := newFakeAPI()
	api.productsHandler = func(w http.ResponseWriter, r *http.Request) {
		// Always unauthorized: the retry must fail too, with no
		// second retry loop.
		w.WriteHeader(http.StatusUnauthorized)
	}
	server := api.server(t)
	defer server.Close()

	client := newTestClient(server.URL)
	client.accessToken = "revoked"
	client.refreshToken = "refresh-1"
	client.expiresAt = time.Now().Add(10 * time.Minute)

	_, err := client.GetDevices(context.Background())
	require.Error(t, err)

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, http.StatusUnauthorized, transportErr.StatusCode)

	_, refresh := api.counts()
	assert.Equal(t, 1, refresh, "only one refresh-and-retry is permitted")
}

func TestClient_GetDevices_EmptyOnZeroCount(t *testing.T) {
	api := newFakeAPI()
	api.productsHandler = func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]interface{}{"count": 0, "results": []interface{}{}})
	}
	server := api.server(t)
	defer server.Close()

	client := newTestClient(server.URL)
	devices, err := client.GetDevices(context.Background())
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestClient_GetDevices_ReturnsResults(t *testing.T) {
	api := newFakeAPI()
	api.productsHandler = func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"count": 2,
			"results": []map[string]interface{}{
				{"id": "d1", "nickname": "Garage", "type": "AO", "status": map[string]interface{}{"supply_temperature": 45.2}},
				{"id": "d2", "nickname": "Attic", "type": "PS", "status": map[string]interface{}{"is_on": true}},
			},
		})
	}
	server := api.server(t)
	defer server.Close()

	client := newTestClient(server.URL)
	devices, err := client.GetDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "Garage", devices[0].Nickname)
	assert.Equal(t, "AO", devices[0].Model)
	assert.Equal(t, 45.2, devices[0].Status["supply_temperature"])
	assert.Equal(t, true, devices[1].Status["is_on"])
}

func TestClient_GetOutdoorTemperature(t *testing.T) {
	tests := []struct {
		name string
		body map[string]interface{}
		want *float64
	}{
		{
			name: "present",
			body: map[string]interface{}{"outdoor_temperature": 7.1},
			want: floatPtr(7.1),
		},
		{
			name: "absent",
			body: map[string]interface{}{"water_pressure": 1.8},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI()
			api.tbStatusHandler = func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(tt.body)
			}
			server := api.server(t)
			defer server.Close()

			client := newTestClient(server.URL)
			temp, err := client.GetOutdoorTemperature(context.Background())
			require.NoError(t, err)
			if tt.want == nil {
				assert.Nil(t, temp)
			} else {
				require.NotNil(t, temp)
				assert.Equal(t, *tt.want, *temp)
			}
		})
	}
}

func TestClient_GetInsights(t *testing.T) {
	api := newFakeAPI()
	api.insightsHandler = func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/customer/products/d1/insights/", r.URL.Path)
		assert.Equal(t, time.Now().Format("2006-01-02"), r.URL.Query().Get("start_date"))
		assert.Equal(t, "hourly", r.URL.Query().Get("timespan"))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"electricity_consumed": 2.0},
				{"electricity_consumed": 3.5},
			},
			"heat_sum":        10.0,
			"electricity_sum": 3.0,
			"cop":             3.3,
		})
	}
	server := api.server(t)
	defer server.Close()

	client := newTestClient(server.URL)
	insights, err := client.GetInsights(context.Background(), "d1")
	require.NoError(t, err)

	assert.Equal(t, 5.5, insights.CalculatedConsumedElectricity)
	assert.Equal(t, 10.0, insights.HeatSum)
	assert.Equal(t, 3.0, insights.ElectricitySum)
	assert.Equal(t, 3.3, insights.COP)
}

func TestClient_GetInsights_MissingFields(t *testing.T) {
	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{
			name: "missing data",
			body: map[string]interface{}{"heat_sum": 10.0, "electricity_sum": 3.0, "cop": 3.3},
		},
		{
			name: "missing summary",
			body: map[string]interface{}{"data": []interface{}{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI()
			api.insightsHandler = func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(tt.body)
			}
			server := api.server(t)
			defer server.Close()

			client := newTestClient(server.URL)
			_, err := client.GetInsights(context.Background(), "d1")
			require.Error(t, err)

			var decodeErr *DecodeError
			assert.ErrorAs(t, err, &decodeErr)
		})
	}
}

func TestClient_Get_TransportErrorCarriesStatus(t *testing.T) {
	api := newFakeAPI()
	api.productsHandler = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}
	server := api.server(t)
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.GetDevices(context.Background())
	require.Error(t, err)

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, http.StatusBadGateway, transportErr.StatusCode)
	assert.Contains(t, transportErr.Error(), "upstream down")
}

// memoryStore is an in-memory TokenStore for tests
type memoryStore struct {
	tokens *Tokens
}

func (m *memoryStore) GetTokens(ctx context.Context) (*Tokens, error) {
	return m.tokens, nil
}

func (m *memoryStore) SaveTokens(ctx context.Context, tokens *Tokens) error {
	m.tokens = tokens
	return nil
}

func TestClient_TokenStoreRoundTrip(t *testing.T) {
	api := newFakeAPI()
	server := api.server(t)
	defer server.Close()

	store := &memoryStore{}

	first := NewClient(Config{BaseURL: server.URL, Email: "u", Password: "p"}, store, nil)
	require.NoError(t, first.Authenticate(context.Background()))
	require.NotNil(t, store.tokens)
	assert.Equal(t, "access-1", store.tokens.AccessToken)
	assert.Equal(t, "refresh-1", store.tokens.RefreshToken)

	// A fresh client restores the stored tokens instead of
	// re-submitting the password.
	second := NewClient(Config{BaseURL: server.URL, Email: "u", Password: "p"}, store, nil)
	require.NoError(t, second.EnsureAuthenticated(context.Background()))

	auth, _ := api.counts()
	assert.Equal(t, 1, auth, "second client should reuse stored tokens")
	assert.Equal(t, "access-1", second.accessToken)
}

func floatPtr(v float64) *float64 {
	return &v
}
