package controller

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/canopy-network/perpindexer/app/query/types"
	"github.com/canopy-network/perpindexer/pkg/db/models/indexer"
	"github.com/canopy-network/perpindexer/pkg/errdefs"
	"github.com/canopy-network/perpindexer/pkg/ratelimit"
	"github.com/canopy-network/perpindexer/pkg/vault"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mockVaults struct {
	mock.Mock
}

func (m *mockVaults) MegavaultHistoricalPnl(ctx context.Context, resolution indexer.PnlTickResolution) (vault.MegavaultHistoricalPnlResponse, error) {
	args := m.Called(ctx, resolution)
	return args.Get(0).(vault.MegavaultHistoricalPnlResponse), args.Error(1)
}

func (m *mockVaults) VaultsHistoricalPnl(ctx context.Context, resolution indexer.PnlTickResolution) (vault.VaultsHistoricalPnlResponse, error) {
	args := m.Called(ctx, resolution)
	return args.Get(0).(vault.VaultsHistoricalPnlResponse), args.Error(1)
}

func (m *mockVaults) MegavaultPositions(ctx context.Context) (vault.MegavaultPositionResponse, error) {
	args := m.Called(ctx)
	return args.Get(0).(vault.MegavaultPositionResponse), args.Error(1)
}

func newTestRouter(t *testing.T, vaults *mockVaults, limiter *ratelimit.Limiter, deps ...types.Dependency) *mux.Router {
	app := &types.App{
		Vaults:       vaults,
		Dependencies: deps,
		Limiter:      limiter,
		Logger:       zaptest.NewLogger(t),
	}
	r, err := NewController(app).NewRouter()
	require.NoError(t, err)
	return r
}

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestMegavaultHistoricalPnlDefaultsToDay(t *testing.T) {
	vaults := &mockVaults{}
	vaults.On("MegavaultHistoricalPnl", mock.Anything, indexer.PnlTickResolutionDay).
		Return(vault.MegavaultHistoricalPnlResponse{MegavaultPnl: []vault.PnlTickResponse{{ID: "t1", Equity: "10", BlockHeight: "5"}}}, nil)
	r := newTestRouter(t, vaults, nil)

	rec := get(r, "/v4/vault/v1/megavault/historicalPnl")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body vault.MegavaultHistoricalPnlResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.MegavaultPnl, 1)
	assert.Equal(t, "10", body.MegavaultPnl[0].Equity)
	vaults.AssertExpectations(t)
}

func TestVaultsHistoricalPnlHourly(t *testing.T) {
	vaults := &mockVaults{}
	vaults.On("VaultsHistoricalPnl", mock.Anything, indexer.PnlTickResolutionHour).
		Return(vault.VaultsHistoricalPnlResponse{VaultsPnl: []vault.VaultHistoricalPnl{}}, nil)
	r := newTestRouter(t, vaults, nil)

	rec := get(r, "/v4/vault/v1/vaults/historicalPnl?resolution=hour")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"vaultsPnl":[]}`, rec.Body.String())
	vaults.AssertExpectations(t)
}

func TestInvalidResolutionIsRejectedBeforeHandler(t *testing.T) {
	vaults := &mockVaults{}
	r := newTestRouter(t, vaults, nil)

	rec := get(r, "/v4/vault/v1/megavault/historicalPnl?resolution=week")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Errors, 1)
	assert.Equal(t, "resolution", body.Errors[0].Param)
	assert.Equal(t, "week", body.Errors[0].Value)
	assert.Equal(t, "query", body.Errors[0].Location)
	vaults.AssertNotCalled(t, "MegavaultHistoricalPnl", mock.Anything, mock.Anything)
}

func TestMegavaultPositions(t *testing.T) {
	vaults := &mockVaults{}
	vaults.On("MegavaultPositions", mock.Anything).Return(vault.MegavaultPositionResponse{Positions: []vault.VaultPosition{}}, nil)
	r := newTestRouter(t, vaults, nil)

	rec := get(r, "/v4/vault/v1/megavault/positions")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"positions":[]}`, rec.Body.String())
}

func TestServiceErrorsAnswer500(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "configuration", err: errdefs.Configuration("vault maps to a missing market")},
		{name: "corruption", err: errdefs.Corruption("funding index missing")},
		{name: "unavailable", err: errdefs.Unavailable("postgres", errors.New("connection refused"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vaults := &mockVaults{}
			vaults.On("MegavaultPositions", mock.Anything).Return(vault.MegavaultPositionResponse{}, tt.err)
			r := newTestRouter(t, vaults, nil)

			rec := get(r, "/v4/vault/v1/megavault/positions")
			require.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.False(t, strings.Contains(rec.Body.String(), tt.err.Error()))
		})
	}
}

func TestRateLimitedRequestsAnswer429(t *testing.T) {
	vaults := &mockVaults{}
	vaults.On("MegavaultPositions", mock.Anything).Return(vault.MegavaultPositionResponse{Positions: []vault.VaultPosition{}}, nil).Once()
	r := newTestRouter(t, vaults, ratelimit.New(0.001, 1))

	assert.Equal(t, http.StatusOK, get(r, "/v4/vault/v1/megavault/positions").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(r, "/v4/vault/v1/megavault/positions").Code)
	vaults.AssertExpectations(t)
}

func TestHealth(t *testing.T) {
	ok := types.Dependency{Name: "redis", Ping: func(context.Context) error { return nil }}
	down := types.Dependency{Name: "postgres", Ping: func(context.Context) error {
		return errdefs.Unavailable("postgres ping", errors.New("refused"))
	}}

	rec := get(newTestRouter(t, &mockVaults{}, nil, ok), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = get(newTestRouter(t, &mockVaults{}, nil, ok, down), "/health")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "postgres")
}

func TestCORSPreflight(t *testing.T) {
	h := WithCORS(newTestRouter(t, &mockVaults{}, nil))
	req := httptest.NewRequest(http.MethodOptions, "/v4/vault/v1/megavault/positions", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSchemaValidate(t *testing.T) {
	schema := querySchema{{Name: "limit"}, resolutionParam}
	req := httptest.NewRequest(http.MethodGet, "/?resolution=hour", nil)

	params, errs := schema.validate(req)
	require.Len(t, errs, 1)
	assert.Equal(t, "limit", errs[0].Param)
	assert.Equal(t, "hour", params["resolution"])
}
