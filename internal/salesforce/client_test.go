package salesforce

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "github.com/lekkimworld/salesforce-consent-demo-herokuapp/pkg/domain-errors"
)

// testUpstream pairs a fake data service with a fake token endpoint whose
// instance_url points back at the data service.
type testUpstream struct {
	data       *httptest.Server
	tokens     *httptest.Server
	tokenCalls atomic.Int32
	dataCalls  atomic.Int32
}

func newTestUpstream(t *testing.T, dataHandler func(w http.ResponseWriter, r *http.Request, call int32)) *testUpstream {
	t.Helper()
	u := &testUpstream{}
	u.data = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := u.dataCalls.Add(1)
		dataHandler(w, r, call)
	}))
	t.Cleanup(u.data.Close)
	u.tokens = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := u.tokenCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"tok-%d","instance_url":%q}`, n, u.data.URL)
	}))
	t.Cleanup(u.tokens.Close)
	return u
}

func newTestClient(t *testing.T, u *testUpstream) *Client {
	t.Helper()
	_, keyPEM := testKeyPEM(t)
	cache := newTestCache(t, u.tokens.URL, keyPEM)
	return NewClient(cache, "v59.0", http.DefaultClient, testLogger())
}

func TestClient_Get(t *testing.T) {
	t.Run("builds versioned path with bearer token", func(t *testing.T) {
		var gotPath, gotAuth, gotQuery string
		u := newTestUpstream(t, func(w http.ResponseWriter, r *http.Request, call int32) {
			gotPath = r.URL.Path
			gotQuery = r.URL.Query().Get("q")
			gotAuth = r.Header.Get("Authorization")
			_, _ = w.Write([]byte(`{"totalSize":0,"records":[]}`))
		})
		client := newTestClient(t, u)

		body, err := client.Get(context.Background(), "/query", url.Values{"q": {"SELECT Id FROM Contact"}})
		require.NoError(t, err)
		assert.JSONEq(t, `{"totalSize":0,"records":[]}`, string(body))
		assert.Equal(t, "/services/data/v59.0/query", gotPath)
		assert.Equal(t, "SELECT Id FROM Contact", gotQuery)
		assert.Equal(t, "Bearer tok-1", gotAuth)
	})

	t.Run("401 forces one refresh and one retry", func(t *testing.T) {
		u := newTestUpstream(t, func(w http.ResponseWriter, r *http.Request, call int32) {
			if call == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"totalSize":1,"records":[{"Id":"x"}]}`))
		})
		client := newTestClient(t, u)

		body, err := client.Get(context.Background(), "/query", nil)
		require.NoError(t, err)
		assert.Contains(t, string(body), `"totalSize":1`)
		assert.Equal(t, int32(2), u.dataCalls.Load(), "exactly one retry after the 401")
		assert.Equal(t, int32(2), u.tokenCalls.Load(), "initial mint plus one forced refresh")
	})

	t.Run("second 401 is fatal without a third attempt", func(t *testing.T) {
		u := newTestUpstream(t, func(w http.ResponseWriter, r *http.Request, call int32) {
			w.WriteHeader(http.StatusUnauthorized)
		})
		client := newTestClient(t, u)

		_, err := client.Get(context.Background(), "/query", nil)
		require.Error(t, err)
		assert.True(t, dErrors.Is(err, dErrors.CodeUpstreamAuth))
		assert.Equal(t, int32(2), u.dataCalls.Load())
	})

	t.Run("non-2xx becomes an APIError", func(t *testing.T) {
		u := newTestUpstream(t, func(w http.ResponseWriter, r *http.Request, call int32) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`[{"errorCode":"MALFORMED_QUERY"}]`))
		})
		client := newTestClient(t, u)

		_, err := client.Get(context.Background(), "/query", nil)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusBadRequest, apiErr.Status)
		assert.Contains(t, apiErr.Error(), "MALFORMED_QUERY")
	})

	t.Run("embedded error in a 2xx body becomes an APIError", func(t *testing.T) {
		u := newTestUpstream(t, func(w http.ResponseWriter, r *http.Request, call int32) {
			_, _ = w.Write([]byte(`{"error":"invalid_session","error_description":"expired"}`))
		})
		client := newTestClient(t, u)

		_, err := client.Get(context.Background(), "/query", nil)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusOK, apiErr.Status)
	})
}

func TestClient_Patch(t *testing.T) {
	t.Run("sends JSON body", func(t *testing.T) {
		var gotBody map[string]any
		var gotMethod string
		u := newTestUpstream(t, func(w http.ResponseWriter, r *http.Request, call int32) {
			gotMethod = r.Method
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			_, _ = w.Write([]byte(`{"success":true}`))
		})
		client := newTestClient(t, u)

		err := client.Patch(context.Background(), "/consent/action/web", map[string]string{"ids": "003x"})
		require.NoError(t, err)
		assert.Equal(t, http.MethodPatch, gotMethod)
		assert.Equal(t, "003x", gotBody["ids"])
	})
}
