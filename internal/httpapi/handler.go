// Package httpapi exposes module registries over HTTP: read views of every
// registry plus a transaction endpoint that runs account calls.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"

	apperrors "github.com/R3E-Network/modular_accounts/internal/errors"
	"github.com/R3E-Network/modular_accounts/internal/events"
	"github.com/R3E-Network/modular_accounts/internal/metrics"
	"github.com/R3E-Network/modular_accounts/internal/middleware"
	"github.com/R3E-Network/modular_accounts/internal/modules"
	"github.com/R3E-Network/modular_accounts/internal/types"
	"github.com/R3E-Network/modular_accounts/internal/wire"
	"github.com/R3E-Network/modular_accounts/pkg/logger"
)

const (
	defaultMaxPageSize = 100
	defaultEventLimit  = 50
	maxEventLimit      = 1000
	maxTransactBody    = 1 << 20
)

// Transactor runs an external transaction against deployed code.
type Transactor interface {
	Transact(ctx context.Context, from, to types.Address, value *big.Int, data []byte) ([]byte, error)
}

// Options configures the handler. Zero values disable the optional parts.
type Options struct {
	MaxPageSize    int
	RateLimitRPS   float64
	RateLimitBurst int
	CORSOrigins    []string
	Metrics        *metrics.Collector
	Events         events.EventLogger
	Logger         *logger.Logger
	// RateLimiter overrides the limiter built from RateLimitRPS/Burst.
	RateLimiter *middleware.RateLimiter
	// Transactor enables POST /v1/accounts/{account}/transact.
	Transactor Transactor
}

type handler struct {
	manager     *modules.Manager
	tx          Transactor
	events      events.EventLogger
	log         *logger.Logger
	maxPageSize int
}

// NewHandler returns the API router.
func NewHandler(manager *modules.Manager, opts Options) http.Handler {
	h := &handler{
		manager:     manager,
		tx:          opts.Transactor,
		events:      opts.Events,
		log:         opts.Logger,
		maxPageSize: opts.MaxPageSize,
	}
	if h.log == nil {
		h.log = logger.NewDefault("httpapi")
	}
	if h.maxPageSize <= 0 {
		h.maxPageSize = defaultMaxPageSize
	}

	r := mux.NewRouter()
	r.Use(middleware.TracingMiddleware(h.log))
	if opts.Metrics != nil {
		r.Use(middleware.MetricsMiddleware(opts.Metrics))
		r.Handle("/metrics", opts.Metrics.Handler()).Methods(http.MethodGet)
	}

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	limiter := opts.RateLimiter
	if limiter == nil && opts.RateLimitRPS > 0 {
		limiter = middleware.NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst, h.log)
	}
	if limiter != nil {
		v1.Use(limiter.Handler)
	}

	v1.HandleFunc("/selectors", h.selector).Methods(http.MethodGet)
	v1.HandleFunc("/events", h.recentEvents).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{account}", h.account).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{account}/validators", h.list(types.ModuleTypeValidator)).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{account}/executors", h.list(types.ModuleTypeExecutor)).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{account}/fallbacks/{selector}", h.fallback).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{account}/modules/{type}/{module}", h.installed).Methods(http.MethodGet)
	if h.tx != nil {
		v1.HandleFunc("/accounts/{account}/transact", h.transact).Methods(http.MethodPost)
	}

	if len(opts.CORSOrigins) > 0 {
		return middleware.NewCORSMiddleware(opts.CORSOrigins).Handler(r)
	}
	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type accountResponse struct {
	Account     string `json:"account"`
	NeoAddress  string `json:"neo_address"`
	Initialized bool   `json:"initialized"`
}

func (h *handler) account(w http.ResponseWriter, r *http.Request) {
	account, ok := h.pathAddress(w, r, "account")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{
		Account:     types.HexAddress(account),
		NeoAddress:  types.NeoAddress(account),
		Initialized: h.manager.IsAccountInitialized(r.Context(), account),
	})
}

type pageResponse struct {
	Account string   `json:"account"`
	Type    string   `json:"type"`
	Entries []string `json:"entries"`
	Next    string   `json:"next"`
	Done    bool     `json:"done"`
}

func (h *handler) list(typ types.ModuleType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := h.pathAddress(w, r, "account")
		if !ok {
			return
		}

		cursor := types.Sentinel
		if raw := r.URL.Query().Get("cursor"); raw != "" {
			c, err := types.ParseAddress(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Errorf("cursor: %w", err))
				return
			}
			cursor = c
		}

		size := h.maxPageSize
		if raw := r.URL.Query().Get("page_size"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, fmt.Errorf("page_size must be a positive integer"))
				return
			}
			size = min(n, h.maxPageSize)
		}

		listFn := h.manager.ListValidators
		if typ == types.ModuleTypeExecutor {
			listFn = h.manager.ListExecutors
		}
		entries, next, err := listFn(r.Context(), account, cursor, size)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}

		resp := pageResponse{
			Account: types.HexAddress(account),
			Type:    typ.String(),
			Entries: make([]string, len(entries)),
			Next:    types.HexAddress(next),
			Done:    next == types.Sentinel,
		}
		for i, e := range entries {
			resp.Entries[i] = types.HexAddress(e)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type fallbackResponse struct {
	Account   string `json:"account"`
	Selector  string `json:"selector"`
	Installed bool   `json:"installed"`
	Handler   string `json:"handler,omitempty"`
	CallMode  string `json:"call_mode,omitempty"`
}

func (h *handler) fallback(w http.ResponseWriter, r *http.Request) {
	account, ok := h.pathAddress(w, r, "account")
	if !ok {
		return
	}
	sel, err := types.ParseSelector(mux.Vars(r)["selector"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rec := h.manager.FallbackHandler(r.Context(), account, sel)
	resp := fallbackResponse{
		Account:   types.HexAddress(account),
		Selector:  sel.String(),
		Installed: rec.Installed(),
	}
	if rec.Installed() {
		resp.Handler = types.HexAddress(rec.Handler)
		resp.CallMode = rec.CallMode.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

type installedResponse struct {
	Account   string `json:"account"`
	Module    string `json:"module"`
	Type      string `json:"type"`
	Installed bool   `json:"installed"`
}

// installed answers isModuleInstalled. Fallback queries need ?selector=.
func (h *handler) installed(w http.ResponseWriter, r *http.Request) {
	account, ok := h.pathAddress(w, r, "account")
	if !ok {
		return
	}
	module, ok := h.pathAddress(w, r, "module")
	if !ok {
		return
	}
	typ, err := types.ParseModuleType(mux.Vars(r)["type"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var extra []byte
	if typ == types.ModuleTypeFallback {
		sel, err := types.ParseSelector(r.URL.Query().Get("selector"))
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("selector: %w", err))
			return
		}
		extra = wire.EncodeSelectorArg(sel)
	}

	yes, err := h.manager.IsModuleInstalled(r.Context(), account, typ, module, extra)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, installedResponse{
		Account:   types.HexAddress(account),
		Module:    types.HexAddress(module),
		Type:      typ.String(),
		Installed: yes,
	})
}

type transactRequest struct {
	From  string        `json:"from"`
	Value *big.Int      `json:"value,omitempty"`
	Data  hexutil.Bytes `json:"data"`
}

type transactResponse struct {
	Account string        `json:"account"`
	Result  hexutil.Bytes `json:"result"`
}

// transact runs calldata against an initialized account as sent by from.
// Registry mutations only succeed when from is the account itself.
func (h *handler) transact(w http.ResponseWriter, r *http.Request) {
	account, ok := h.pathAddress(w, r, "account")
	if !ok {
		return
	}

	var body transactRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTransactBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	from, err := types.ParseAddress(body.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("from: %w", err))
		return
	}
	if body.Value != nil && body.Value.Sign() < 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("value must not be negative"))
		return
	}
	if !h.manager.IsAccountInitialized(r.Context(), account) {
		writeError(w, http.StatusNotFound, fmt.Errorf("account %s is not initialized", types.HexAddress(account)))
		return
	}

	out, err := h.tx.Transact(r.Context(), from, account, body.Value, body.Data)
	if err != nil {
		h.log.WithContext(r.Context()).WithError(err).WithField("account", types.HexAddress(account)).Debug("transaction reverted")
		if data, ok := apperrors.RevertData(err); ok {
			writeJSON(w, statusFor(err), map[string]string{
				"error":       err.Error(),
				"revert_data": hexutil.Encode(data),
			})
			return
		}
		writeError(w, statusFor(err), err)
		return
	}
	if out == nil {
		out = []byte{}
	}
	writeJSON(w, http.StatusOK, transactResponse{Account: types.HexAddress(account), Result: out})
}

func (h *handler) recentEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeJSON(w, http.StatusOK, []events.Event{})
		return
	}

	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("limit must be a positive integer"))
			return
		}
		limit = min(n, maxEventLimit)
	}

	var out []events.Event
	switch q := r.URL.Query(); {
	case q.Get("account") != "":
		account, err := types.ParseAddress(q.Get("account"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		out = h.events.RecentByAccount(types.HexAddress(account), limit)
	case q.Get("type") != "":
		out = h.events.RecentByType(events.EventType(q.Get("type")), limit)
	default:
		out = h.events.Recent(limit)
	}
	if out == nil {
		out = []events.Event{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) selector(w http.ResponseWriter, r *http.Request) {
	sig := r.URL.Query().Get("signature")
	if sig == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("signature is required"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"signature": sig,
		"selector":  types.SelectorOf(sig).String(),
	})
}

func (h *handler) pathAddress(w http.ResponseWriter, r *http.Request, name string) (types.Address, bool) {
	a, err := types.ParseAddress(mux.Vars(r)[name])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%s: %w", name, err))
		return types.ZeroAddress, false
	}
	return a, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrUnauthorized):
		return http.StatusForbidden
	case apperrors.IsNoFallbackHandler(err):
		return http.StatusNotFound
	case apperrors.IsReverted(err):
		return http.StatusUnprocessableEntity
	case apperrors.IsLinkedList(err),
		apperrors.IsInvalidModule(err),
		errors.Is(err, apperrors.ErrDecode),
		errors.Is(err, apperrors.ErrUnsupportedModuleType),
		errors.Is(err, apperrors.ErrSelectorInUse),
		errors.Is(err, apperrors.ErrInvalidCallMode),
		errors.Is(err, apperrors.ErrCannotRemoveLastValidator),
		errors.Is(err, apperrors.ErrWriteProtection):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
