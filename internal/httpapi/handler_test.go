package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/R3E-Network/modular_accounts/internal/errors"
	"github.com/R3E-Network/modular_accounts/internal/events"
	"github.com/R3E-Network/modular_accounts/internal/fallback"
	"github.com/R3E-Network/modular_accounts/internal/metrics"
	"github.com/R3E-Network/modular_accounts/internal/modules"
	"github.com/R3E-Network/modular_accounts/internal/runtime"
	"github.com/R3E-Network/modular_accounts/internal/state"
	"github.com/R3E-Network/modular_accounts/internal/types"
	"github.com/R3E-Network/modular_accounts/internal/wire"
	"github.com/R3E-Network/modular_accounts/pkg/logger"
	"github.com/R3E-Network/modular_accounts/pkg/testutil"
)

var (
	account   = types.Address{0: 0xac, 19: 0x01}
	valA      = types.Address{19: 0x0a}
	valB      = types.Address{19: 0x0b}
	valC      = types.Address{19: 0x0c}
	fbHandler = types.Address{19: 0xfb}
	sel       = types.Selector{0xaa, 0xbb, 0xcc, 0xdd}
)

type fixture struct {
	h       http.Handler
	events  *events.RingBuffer
	metrics *metrics.Collector
}

func newFixture(t *testing.T, opts Options) fixture {
	t.Helper()
	ctx := context.Background()
	rb := events.NewRingBuffer(64)
	mc := metrics.NewCollector("")

	m := modules.NewManager(state.NewStore(), testutil.NewMockExecutor(),
		modules.WithLogger(logger.NewDiscard("modules")),
		modules.WithEvents(rb),
		modules.WithMetrics(mc),
	)
	require.NoError(t, m.InitAccount(ctx, account))
	for _, v := range []types.Address{valA, valB, valC} {
		require.NoError(t, m.InstallValidator(ctx, account, v, nil))
	}
	require.NoError(t, m.InstallFallback(ctx, account, fbHandler, wire.EncodeFallbackInstall(sel, types.CallModeStatic, nil)))

	opts.Events = rb
	opts.Metrics = mc
	opts.Logger = logger.NewDiscard("httpapi")
	return fixture{h: NewHandler(m, opts), events: rb, metrics: mc}
}

func (f fixture) get(t *testing.T, path string, out interface{}) int {
	t.Helper()
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func accountPath(suffix string) string {
	return "/v1/accounts/" + types.HexAddress(account) + suffix
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, Options{})
	var body map[string]string
	assert.Equal(t, http.StatusOK, f.get(t, "/healthz", &body))
	assert.Equal(t, "ok", body["status"])
}

func TestAccount(t *testing.T) {
	f := newFixture(t, Options{})

	var resp accountResponse
	require.Equal(t, http.StatusOK, f.get(t, accountPath(""), &resp))
	assert.True(t, resp.Initialized)
	assert.Equal(t, types.NeoAddress(account), resp.NeoAddress)

	// Neo addresses are accepted in the path too.
	var byNeo accountResponse
	require.Equal(t, http.StatusOK, f.get(t, "/v1/accounts/"+types.NeoAddress(account), &byNeo))
	assert.Equal(t, types.HexAddress(account), byNeo.Account)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/v1/accounts/nope", nil))
}

func TestValidatorPagination(t *testing.T) {
	f := newFixture(t, Options{MaxPageSize: 2})

	var page pageResponse
	require.Equal(t, http.StatusOK, f.get(t, accountPath("/validators"), &page))
	// head insertion: newest first, capped by the max page size
	assert.Equal(t, []string{types.HexAddress(valC), types.HexAddress(valB)}, page.Entries)
	assert.False(t, page.Done)
	assert.Equal(t, types.HexAddress(valB), page.Next)

	var last pageResponse
	require.Equal(t, http.StatusOK, f.get(t, accountPath("/validators?page_size=5&cursor="+page.Next), &last))
	assert.Equal(t, []string{types.HexAddress(valA)}, last.Entries)
	assert.True(t, last.Done)
	assert.Equal(t, types.HexAddress(types.Sentinel), last.Next)

	var executors pageResponse
	require.Equal(t, http.StatusOK, f.get(t, accountPath("/executors"), &executors))
	assert.Empty(t, executors.Entries)
	assert.True(t, executors.Done)
}

func TestPaginationErrors(t *testing.T) {
	f := newFixture(t, Options{})
	unknown := types.HexAddress(types.Address{19: 0x77})

	assert.Equal(t, http.StatusBadRequest, f.get(t, accountPath("/validators?page_size=0"), nil))
	assert.Equal(t, http.StatusBadRequest, f.get(t, accountPath("/validators?page_size=x"), nil))
	assert.Equal(t, http.StatusBadRequest, f.get(t, accountPath("/validators?cursor=zz"), nil))
	assert.Equal(t, http.StatusBadRequest, f.get(t, accountPath("/validators?cursor="+unknown), nil))
}

func TestFallbackLookup(t *testing.T) {
	f := newFixture(t, Options{})

	var installed fallbackResponse
	require.Equal(t, http.StatusOK, f.get(t, accountPath("/fallbacks/0xaabbccdd"), &installed))
	assert.True(t, installed.Installed)
	assert.Equal(t, types.HexAddress(fbHandler), installed.Handler)
	assert.Equal(t, types.CallModeStatic.String(), installed.CallMode)

	var missing fallbackResponse
	require.Equal(t, http.StatusOK, f.get(t, accountPath("/fallbacks/0x01020304"), &missing))
	assert.False(t, missing.Installed)
	assert.Empty(t, missing.Handler)
	assert.Empty(t, missing.CallMode)

	assert.Equal(t, http.StatusBadRequest, f.get(t, accountPath("/fallbacks/0x0102"), nil))
}

func TestIsModuleInstalled(t *testing.T) {
	f := newFixture(t, Options{})

	tests := []struct {
		name   string
		path   string
		status int
		want   bool
	}{
		{"validator", "/modules/validator/" + types.HexAddress(valA), http.StatusOK, true},
		{"validator by id", "/modules/1/" + types.HexAddress(valB), http.StatusOK, true},
		{"executor", "/modules/executor/" + types.HexAddress(valA), http.StatusOK, false},
		{"fallback", "/modules/fallback/" + types.HexAddress(fbHandler) + "?selector=0xaabbccdd", http.StatusOK, true},
		{"fallback other handler", "/modules/fallback/" + types.HexAddress(valA) + "?selector=0xaabbccdd", http.StatusOK, false},
		{"fallback no selector", "/modules/fallback/" + types.HexAddress(fbHandler), http.StatusBadRequest, false},
		{"hook", "/modules/hook/" + types.HexAddress(valA), http.StatusBadRequest, false},
		{"unknown type", "/modules/widget/" + types.HexAddress(valA), http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp installedResponse
			require.Equal(t, tt.status, f.get(t, accountPath(tt.path), &resp))
			if tt.status == http.StatusOK {
				assert.Equal(t, tt.want, resp.Installed)
			}
		})
	}
}

func TestEvents(t *testing.T) {
	f := newFixture(t, Options{})

	var all []events.Event
	require.Equal(t, http.StatusOK, f.get(t, "/v1/events?limit=100", &all))
	// account init, three validators, one fallback
	assert.Len(t, all, 5)

	var installed []events.Event
	require.Equal(t, http.StatusOK, f.get(t, "/v1/events?type="+string(events.EventModuleInstalled), &installed))
	assert.Len(t, installed, 4)

	var byAccount []events.Event
	require.Equal(t, http.StatusOK, f.get(t, "/v1/events?account="+types.NeoAddress(account)+"&limit=2", &byAccount))
	assert.Len(t, byAccount, 2)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/v1/events?limit=-1", nil))
}

func TestSelectorHelper(t *testing.T) {
	f := newFixture(t, Options{})
	var resp map[string]string
	require.Equal(t, http.StatusOK, f.get(t, "/v1/selectors?signature=onInstall(bytes)", &resp))
	assert.Equal(t, types.SelectorOf("onInstall(bytes)").String(), resp["selector"])
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/v1/selectors", nil))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, Options{})
	f.get(t, "/healthz", nil)

	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "modules_lifecycle_total"))
	assert.True(t, strings.Contains(body, `modules_http_requests_total{method="GET",route="/healthz",status="200"} 1`))
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, Options{RateLimitRPS: 1, RateLimitBurst: 1})

	assert.Equal(t, http.StatusOK, f.get(t, accountPath(""), nil))
	assert.Equal(t, http.StatusTooManyRequests, f.get(t, accountPath(""), nil))
	// health checks sit outside the limiter
	assert.Equal(t, http.StatusOK, f.get(t, "/healthz", nil))
}

func TestCORSWrapsRouter(t *testing.T) {
	f := newFixture(t, Options{CORSOrigins: []string{"*"}})
	req := httptest.NewRequest(http.MethodOptions, accountPath("/validators"), nil)
	req.Header.Set("Origin", "https://wallet.example")
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://wallet.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

type txFixture struct {
	h      http.Handler
	env    *runtime.Env
	events *events.RingBuffer
}

func newTxFixture(t *testing.T) txFixture {
	t.Helper()
	rb := events.NewRingBuffer(64)
	env := runtime.NewEnv(state.NewStore(), runtime.EnvOptions{
		Host:     []runtime.Option{runtime.WithLogger(logger.NewDiscard("runtime"))},
		Manager:  []modules.Option{modules.WithLogger(logger.NewDiscard("modules")), modules.WithEvents(rb)},
		Dispatch: []fallback.Option{fallback.WithLogger(logger.NewDiscard("fallback")), fallback.WithEvents(rb)},
	})
	require.NoError(t, env.DeployAccount(context.Background(), account))

	h := NewHandler(env.Manager, Options{
		Events:     rb,
		Logger:     logger.NewDiscard("httpapi"),
		Transactor: env.Host,
	})
	return txFixture{h: h, env: env, events: rb}
}

func (f txFixture) post(t *testing.T, path, body string, out interface{}) int {
	t.Helper()
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func (f txFixture) get(t *testing.T, path string, out interface{}) int {
	t.Helper()
	return fixture{h: f.h}.get(t, path, out)
}

func txBody(from types.Address, data []byte) string {
	return `{"from":"` + types.HexAddress(from) + `","data":"` + hexutil.Encode(data) + `"}`
}

func TestTransactInstallsAndDispatches(t *testing.T) {
	f := newTxFixture(t)
	outsider := types.Address{19: 0xee}
	echo := types.Address{19: 0xec}
	f.env.Host.Deploy(echo, runtime.ModuleFunc{
		Handle: func(ctx context.Context, fr runtime.Frame, input []byte) ([]byte, error) {
			return append([]byte{0x01}, input[:4]...), nil
		},
	})

	installValidator := wire.EncodeModuleCall(wire.SigInstallModule, wire.ModuleCall{Type: types.ModuleTypeValidator, Module: valA})
	installFallback := wire.EncodeModuleCall(wire.SigInstallModule, wire.ModuleCall{
		Type:   types.ModuleTypeFallback,
		Module: echo,
		Data:   wire.EncodeFallbackInstall(sel, types.CallModeSingle, nil),
	})

	// registry mutations need the account as sender
	var denied map[string]string
	assert.Equal(t, http.StatusForbidden, f.post(t, accountPath("/transact"), txBody(outsider, installValidator), &denied))
	assert.Contains(t, denied["error"], "unauthorized")

	require.Equal(t, http.StatusOK, f.post(t, accountPath("/transact"), txBody(account, installValidator), nil))
	require.Equal(t, http.StatusOK, f.post(t, accountPath("/transact"), txBody(account, installFallback), nil))

	var page pageResponse
	require.Equal(t, http.StatusOK, f.get(t, accountPath("/validators"), &page))
	assert.Equal(t, []string{types.HexAddress(valA)}, page.Entries)

	var out transactResponse
	require.Equal(t, http.StatusOK, f.post(t, accountPath("/transact"), txBody(outsider, append(sel[:], 0x99)), &out))
	assert.Equal(t, hexutil.Bytes{0x01, 0xaa, 0xbb, 0xcc, 0xdd}, out.Result)
	assert.Len(t, f.events.RecentByType(events.EventFallbackDispatched, 10), 1)

	var rejected map[string]string
	assert.Equal(t, http.StatusNotFound, f.post(t, accountPath("/transact"), txBody(outsider, []byte{1, 2, 3, 4}), &rejected))
	assert.Contains(t, rejected["error"], "no fallback handler")
}

func TestTransactRevertData(t *testing.T) {
	f := newTxFixture(t)
	failing := types.Address{19: 0xfa}
	f.env.Host.Deploy(failing, runtime.ModuleFunc{
		Handle: func(ctx context.Context, fr runtime.Frame, input []byte) ([]byte, error) {
			return nil, apperrors.NewRevertError([]byte{0xde, 0xad})
		},
	})
	install := wire.EncodeModuleCall(wire.SigInstallModule, wire.ModuleCall{
		Type:   types.ModuleTypeFallback,
		Module: failing,
		Data:   wire.EncodeFallbackInstall(sel, types.CallModeStatic, nil),
	})
	require.Equal(t, http.StatusOK, f.post(t, accountPath("/transact"), txBody(account, install), nil))

	var resp map[string]string
	assert.Equal(t, http.StatusUnprocessableEntity, f.post(t, accountPath("/transact"), txBody(account, sel[:]), &resp))
	assert.Equal(t, "0xdead", resp["revert_data"])
}

func TestTransactRejectsBadRequests(t *testing.T) {
	f := newTxFixture(t)
	stranger := types.HexAddress(types.Address{19: 0x55})

	assert.Equal(t, http.StatusBadRequest, f.post(t, accountPath("/transact"), `{"from":"nope","data":"0x"}`, nil))
	assert.Equal(t, http.StatusBadRequest, f.post(t, accountPath("/transact"), `{"from":"`+types.HexAddress(account)+`","data":"zz"}`, nil))
	assert.Equal(t, http.StatusBadRequest, f.post(t, accountPath("/transact"), `{"from":"`+types.HexAddress(account)+`","data":"0x","gas":1}`, nil))
	assert.Equal(t, http.StatusBadRequest, f.post(t, accountPath("/transact"), `{"from":"`+types.HexAddress(account)+`","data":"0x","value":-1}`, nil))
	assert.Equal(t, http.StatusNotFound, f.post(t, "/v1/accounts/"+stranger+"/transact", txBody(account, nil), nil))

	zeroHandler := wire.EncodeModuleCall(wire.SigInstallModule, wire.ModuleCall{
		Type: types.ModuleTypeFallback,
		Data: wire.EncodeFallbackInstall(sel, types.CallModeSingle, nil),
	})
	var invalid map[string]string
	assert.Equal(t, http.StatusBadRequest, f.post(t, accountPath("/transact"), txBody(account, zeroHandler), &invalid))
	assert.Contains(t, invalid["error"], "invalid module")

	// without a transactor the route is not registered
	fx := newFixture(t, Options{})
	rec := httptest.NewRecorder()
	fx.h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, accountPath("/transact"), strings.NewReader(txBody(account, nil))))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
