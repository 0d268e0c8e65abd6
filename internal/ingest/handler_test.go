package ingest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonhttp "webhook-relay/internal/common/http"
	"webhook-relay/internal/common/logging"
	"webhook-relay/internal/models"
	"webhook-relay/internal/registry"
)

func newTestRouter(f *fixture) *mux.Router {
	r := mux.NewRouter()
	NewHandler(f.gateway, false, logging.NewNopLogger()).RegisterRoutes(r)
	return r
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestIngest_PathToken(t *testing.T) {
	f := newFixture(t, registry.SourceInput{})
	r := newTestRouter(f)

	req := httptest.NewRequest(http.MethodPost, "/ingest/"+f.source.Token+"/hooks/push?ref=main", strings.NewReader(`{"a":1}`))
	req.Header.Set("Content-Type", "application/json")
	rec := serve(r, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp.EventID)
	assert.False(t, resp.Duplicate)
	require.Len(t, resp.Deliveries, 1)
	assert.Equal(t, f.dest.ID, resp.Deliveries[0].DestinationID)
	assert.Equal(t, models.OutcomePending, resp.Deliveries[0].Outcome)

	event, err := f.store.GetEvent(req.Context(), resp.EventID)
	require.NoError(t, err)
	assert.Equal(t, "/hooks/push", event.Path)
	assert.Equal(t, "ref=main", event.Query)
	assert.Equal(t, "192.0.2.1", event.RemoteIP)
}

func TestIngest_BearerToken(t *testing.T) {
	f := newFixture(t, registry.SourceInput{})
	r := newTestRouter(f)

	req := httptest.NewRequest(http.MethodPut, "/ingest", strings.NewReader("payload"))
	req.Header.Set("Authorization", "Bearer "+f.source.Token)
	rec := serve(r, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	event, err := f.store.GetEvent(req.Context(), resp.EventID)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, event.Method)
	assert.Equal(t, "/", event.Path)
	assert.NotContains(t, event.Headers, "Authorization")
}

func TestIngest_Duplicate(t *testing.T) {
	f := newFixture(t, registry.SourceInput{})
	r := newTestRouter(f)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/ingest/"+f.source.Token, strings.NewReader("{}"))
		req.Header.Set(IdempotencyHeader, "abc")
		return serve(r, req)
	}

	first := send()
	require.Equal(t, http.StatusAccepted, first.Code)
	second := send()
	require.Equal(t, http.StatusOK, second.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(second.Body).Decode(&resp))
	assert.True(t, resp.Duplicate)
}

func TestIngest_Errors(t *testing.T) {
	f := newFixture(t, registry.SourceInput{MaxBodyBytes: 8})
	r := newTestRouter(f)

	tests := []struct {
		name       string
		req        *http.Request
		wantStatus int
		wantType   string
	}{
		{
			name:       "unknown token",
			req:        httptest.NewRequest(http.MethodPost, "/ingest/nope", strings.NewReader("{}")),
			wantStatus: http.StatusUnauthorized,
			wantType:   "unauthorized",
		},
		{
			name:       "missing token",
			req:        httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader("{}")),
			wantStatus: http.StatusUnauthorized,
			wantType:   "unauthorized",
		},
		{
			name:       "body too large",
			req:        httptest.NewRequest(http.MethodPost, "/ingest/"+f.source.Token, strings.NewReader("0123456789")),
			wantStatus: http.StatusRequestEntityTooLarge,
			wantType:   "payload_too_large",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(r, tt.req)
			require.Equal(t, tt.wantStatus, rec.Code)

			var body commonhttp.ErrorBody
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.wantType, body.Error.Type)
			assert.NotEmpty(t, body.Error.Message)
		})
	}
}

func TestIngest_StoreUnavailable(t *testing.T) {
	f := newFixture(t, registry.SourceInput{})
	r := newTestRouter(f)
	require.NoError(t, f.store.Close())

	rec := serve(r, httptest.NewRequest(http.MethodPost, "/ingest/"+f.source.Token, strings.NewReader("{}")))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
