package fallback

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	apperrors "github.com/R3E-Network/modular_accounts/internal/errors"
	"github.com/R3E-Network/modular_accounts/internal/events"
	"github.com/R3E-Network/modular_accounts/internal/metrics"
	"github.com/R3E-Network/modular_accounts/internal/types"
	"github.com/R3E-Network/modular_accounts/internal/wire"
	"github.com/R3E-Network/modular_accounts/pkg/logger"
)

// Relayer performs the three kinds of outbound call a dispatch can make.
// caller is the account the dispatch runs for. Errors carrying a revert
// payload must be *errors.RevertError so the payload survives the relay.
type Relayer interface {
	StaticCall(ctx context.Context, caller, target types.Address, data []byte) ([]byte, error)
	Call(ctx context.Context, caller, target types.Address, value *big.Int, data []byte) ([]byte, error)
	DelegateCall(ctx context.Context, caller, target types.Address, data []byte) ([]byte, error)
}

// Dispatcher relays unmatched calls to fallback handlers.
type Dispatcher struct {
	table   *Table
	relay   Relayer
	log     *logger.Logger
	metrics metrics.Recorder
	events  events.EventLogger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithEvents sets the event log.
func WithEvents(e events.EventLogger) Option {
	return func(d *Dispatcher) { d.events = e }
}

// NewDispatcher creates a dispatcher over table that relays through relay.
func NewDispatcher(table *Table, relay Relayer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		table:   table,
		relay:   relay,
		log:     logger.NewDefault("fallback"),
		metrics: metrics.NoOpCollector{},
		events:  events.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Table returns the table the dispatcher reads.
func (d *Dispatcher) Table() *Table { return d.table }

// Dispatch relays calldata, received by account, to the handler registered
// for its selector. Return data and relay errors are passed back untouched.
func (d *Dispatcher) Dispatch(ctx context.Context, account types.Address, calldata []byte) ([]byte, error) {
	start := time.Now()
	sel := types.SelectorFromCalldata(calldata)

	rec := d.table.Get(ctx, account, sel)
	if !rec.Installed() {
		err := apperrors.NewNoFallbackHandlerError(sel)
		d.observe(ctx, account, sel, rec, len(calldata), time.Since(start), err)
		return nil, err
	}

	var (
		out []byte
		err error
	)
	switch rec.CallMode {
	case types.CallModeStatic:
		out, err = d.relay.StaticCall(ctx, account, rec.Handler, wire.AppendContextSuffix(calldata, account))
	case types.CallModeSingle:
		out, err = d.relay.Call(ctx, account, rec.Handler, new(big.Int), wire.AppendContextSuffix(calldata, account))
	case types.CallModeDelegate:
		out, err = d.relay.DelegateCall(ctx, account, rec.Handler, calldata)
	default:
		err = fmt.Errorf("%w: 0x%02x stored for selector %s", apperrors.ErrInvalidCallMode, uint8(rec.CallMode), sel)
	}

	d.observe(ctx, account, sel, rec, len(calldata), time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Dispatcher) observe(ctx context.Context, account types.Address, sel types.Selector, rec Record, size int, elapsed time.Duration, err error) {
	mode := "none"
	if rec.Installed() {
		mode = rec.CallMode.String()
	}
	d.metrics.RecordDispatch(mode, elapsed, err)

	typ := events.EventFallbackDispatched
	if err != nil && (apperrors.IsNoFallbackHandler(err) || apperrors.Is(err, apperrors.ErrInvalidCallMode)) {
		typ = events.EventFallbackRejected
	}
	b := events.NewEvent(typ).
		Account(types.HexAddress(account)).
		Selector(sel.String()).
		CallMode(mode).
		Duration(elapsed).
		Metadata("calldata_bytes", strconv.Itoa(size)).
		ErrorFrom(err)
	if rec.Installed() {
		b.Module(types.HexAddress(rec.Handler)).ModuleType(types.ModuleTypeFallback.String())
	}
	b.LogToWithContext(ctx, d.events)

	entry := d.log.WithContext(ctx).WithFields(map[string]interface{}{
		"account":  types.HexAddress(account),
		"selector": sel.String(),
		"mode":     mode,
	})
	if err != nil {
		entry.WithError(err).Debug("fallback dispatch failed")
		return
	}
	entry.Debug("fallback dispatched")
}
