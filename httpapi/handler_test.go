package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-diagnostics/go-diagnostics"
)

func setUpTestServer(t *testing.T) (*httptest.Server, *http.Client) {
	t.Helper()
	engine := diagnostics.NewEngine(
		diagnostics.NewMemoryGraph(),
		diagnostics.NewMemoryLedger(),
		diagnostics.Config{},
	)
	server := httptest.NewServer(NewRouter(NewHandler(engine)))
	t.Cleanup(server.Close)
	return server, server.Client()
}

func postJSON(t *testing.T, client *http.Client, url string, body string) *http.Response {
	t.Helper()
	resp, err := client.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func registerTestEntity(t *testing.T, client *http.Client, base string, body string) {
	t.Helper()
	resp := postJSON(t, client, base+"/entities", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

// feedReadings submits count live readings ending just before the current
// instant, one second apart.
func feedReadings(t *testing.T, client *http.Client, base string, id string, value float64, count int, age time.Duration) {
	t.Helper()
	for i := 0; i < count; i++ {
		ts := time.Now().Add(-age - time.Duration(count-i)*time.Second)
		body := fmt.Sprintf(`{"value": %v, "timestamp": %q}`, value, ts.Format(time.RFC3339Nano))
		resp := postJSON(t, client, base+"/entities/"+id+"/readings", body)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	}
}

func TestRegisterEntity(t *testing.T) {
	server, client := setUpTestServer(t)

	t.Run("ValidComposite", func(t *testing.T) {
		resp := postJSON(t, client, server.URL+"/entities", `{"id":"site","kind":"composite"}`)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
	})

	t.Run("ValidLeafUnderParent", func(t *testing.T) {
		resp := postJSON(t, client, server.URL+"/entities", `{"id":"temp_1","kind":"leaf","parent_id":"site"}`)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
	})

	t.Run("DuplicateID", func(t *testing.T) {
		resp := postJSON(t, client, server.URL+"/entities", `{"id":"site","kind":"composite"}`)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("UnknownParent", func(t *testing.T) {
		resp := postJSON(t, client, server.URL+"/entities", `{"id":"temp_2","kind":"leaf","parent_id":"ghost"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("InvalidKind", func(t *testing.T) {
		resp := postJSON(t, client, server.URL+"/entities", `{"id":"x","kind":"cluster"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		resp := postJSON(t, client, server.URL+"/entities", `{bad-json`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestSubmitReading(t *testing.T) {
	server, client := setUpTestServer(t)
	registerTestEntity(t, client, server.URL, `{"id":"rack","kind":"composite"}`)
	registerTestEntity(t, client, server.URL, `{"id":"temp_1","kind":"leaf","parent_id":"rack"}`)

	t.Run("Accepted", func(t *testing.T) {
		resp := postJSON(t, client, server.URL+"/entities/temp_1/readings", `{"value": 23.5}`)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	})

	t.Run("UnknownEntity", func(t *testing.T) {
		resp := postJSON(t, client, server.URL+"/entities/ghost/readings", `{"value": 1}`)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("CompositeEntity", func(t *testing.T) {
		resp := postJSON(t, client, server.URL+"/entities/rack/readings", `{"value": 1}`)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		resp := postJSON(t, client, server.URL+"/entities/temp_1/readings", `{bad-json`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestGetHealth(t *testing.T) {
	server, client := setUpTestServer(t)
	registerTestEntity(t, client, server.URL, `{"id":"site","kind":"composite"}`)
	registerTestEntity(t, client, server.URL, `{"id":"temp_1","kind":"leaf","parent_id":"site"}`)
	feedReadings(t, client, server.URL, "temp_1", 23.5, 5, 0)

	resp, err := client.Get(server.URL + "/entities/site/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health healthPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, diagnostics.EntityID("site"), health.EntityID)
	assert.Equal(t, "HEALTHY", health.Status)
	require.Len(t, health.Children, 1)
	assert.Equal(t, "HEALTHY", health.Children[0].Status)
	require.NotNil(t, health.Children[0].Traits)
	assert.Equal(t, "LIVE", health.Children[0].Traits.Freshness.Status)

	t.Run("UnknownEntity", func(t *testing.T) {
		resp, err := client.Get(server.URL + "/entities/ghost/health")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestGetTraits(t *testing.T) {
	server, client := setUpTestServer(t)
	registerTestEntity(t, client, server.URL, `{"id":"temp_1","kind":"leaf"}`)
	feedReadings(t, client, server.URL, "temp_1", 23.5, 5, 0)

	t.Run("Defaults", func(t *testing.T) {
		resp, err := client.Get(server.URL + "/entities/temp_1/traits")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var traits traitsPayload
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&traits))
		assert.Equal(t, "STABLE", traits.Stability.Status)
		assert.Equal(t, 5, traits.Stability.Samples)
	})

	t.Run("ExplicitWindow", func(t *testing.T) {
		resp, err := client.Get(server.URL + "/entities/temp_1/traits?window=30s")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("InvalidWindow", func(t *testing.T) {
		resp, err := client.Get(server.URL + "/entities/temp_1/traits?window=banana")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestListAlertsDeduplication(t *testing.T) {
	server, client := setUpTestServer(t)
	registerTestEntity(t, client, server.URL, `{"id":"temp_1","kind":"leaf"}`)
	// The feed stopped five minutes ago, so every cycle reports the same
	// stale condition.
	feedReadings(t, client, server.URL, "temp_1", 23.5, 3, 5*time.Minute)

	fetch := func(query string) []observedAlert {
		resp, err := client.Get(server.URL + "/alerts" + query)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var alerts []observedAlert
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&alerts))
		return alerts
	}

	first := fetch("")
	require.NotEmpty(t, first)
	var stale *observedAlert
	for i := range first {
		if first[i].Type == diagnostics.AlertStale {
			stale = &first[i]
		}
	}
	require.NotNil(t, stale, "expected a stale alert for the silent feed")
	assert.True(t, stale.Fresh, "first observation must be fresh")
	assert.Equal(t, "HIGH", stale.Severity)

	second := fetch("")
	for _, a := range second {
		if a.Type == diagnostics.AlertStale {
			assert.False(t, a.Fresh, "repeat observation must not be fresh")
			assert.Equal(t, stale.ID, a.ID, "condition id must be stable across cycles")
		}
	}

	// With the fresh filter, an unchanged condition disappears entirely.
	assert.Empty(t, fetch("?fresh=true"))
}

func TestDetachEntity(t *testing.T) {
	server, client := setUpTestServer(t)
	registerTestEntity(t, client, server.URL, `{"id":"site","kind":"composite"}`)
	registerTestEntity(t, client, server.URL, `{"id":"temp_1","kind":"leaf","parent_id":"site"}`)

	doDelete := func(path string) *http.Response {
		req, err := http.NewRequest(http.MethodDelete, server.URL+path, nil)
		require.NoError(t, err)
		resp, err := client.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	t.Run("RejectOwningEntity", func(t *testing.T) {
		resp := doDelete("/entities/site")
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("ForceCascades", func(t *testing.T) {
		resp := doDelete("/entities/site?force=true")
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)

		get, err := client.Get(server.URL + "/entities/temp_1")
		require.NoError(t, err)
		defer func() { _ = get.Body.Close() }()
		assert.Equal(t, http.StatusNotFound, get.StatusCode)
	})
}

func TestValidateBudgets(t *testing.T) {
	server, client := setUpTestServer(t)
	registerTestEntity(t, client, server.URL,
		`{"id":"ugv","kind":"composite","budgets":[{"attribute":"power_draw_w","limit":300,"unit":"watts"}]}`)
	registerTestEntity(t, client, server.URL,
		`{"id":"lidar","kind":"leaf","parent_id":"ugv","attributes":{"power_draw_w":180}}`)
	registerTestEntity(t, client, server.URL,
		`{"id":"radio","kind":"leaf","parent_id":"ugv","attributes":{"power_draw_w":150}}`)

	resp, err := client.Get(server.URL + "/entities/ugv/budgets")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var reports []budgetReportPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reports))
	require.Len(t, reports, 1)
	assert.Equal(t, "power_draw_w", reports[0].Attribute)
	assert.Equal(t, 330.0, reports[0].Total)
	assert.True(t, reports[0].Exceeded)
	assert.Equal(t, -30.0, reports[0].Headroom)
}

func TestReparentEntity(t *testing.T) {
	server, client := setUpTestServer(t)
	registerTestEntity(t, client, server.URL, `{"id":"rack_a","kind":"composite"}`)
	registerTestEntity(t, client, server.URL, `{"id":"rack_b","kind":"composite"}`)
	registerTestEntity(t, client, server.URL, `{"id":"temp_1","kind":"leaf","parent_id":"rack_a"}`)

	doPut := func(path, body string) *http.Response {
		req, err := http.NewRequest(http.MethodPut, server.URL+path, bytes.NewBufferString(body))
		require.NoError(t, err)
		resp, err := client.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	t.Run("Moves", func(t *testing.T) {
		resp := doPut("/entities/temp_1/parent", `{"parent_id":"rack_b"}`)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	})

	t.Run("RejectsCycle", func(t *testing.T) {
		resp := doPut("/entities/rack_b/parent", `{"parent_id":"rack_b"}`)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}
