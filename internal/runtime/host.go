// Package runtime is an in-process execution host for accounts and modules.
//
// Contracts are Go values registered at an address. Every call runs in its own
// frame, and every frame is an atomic unit of the shared state store: a
// failing frame reverts exactly its own writes. Static frames and everything
// they call are read-only. Delegate frames run foreign code in the caller's
// identity and storage.
package runtime

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	apperrors "github.com/R3E-Network/modular_accounts/internal/errors"
	"github.com/R3E-Network/modular_accounts/internal/fallback"
	"github.com/R3E-Network/modular_accounts/internal/modules"
	"github.com/R3E-Network/modular_accounts/internal/state"
	"github.com/R3E-Network/modular_accounts/internal/types"
	"github.com/R3E-Network/modular_accounts/pkg/logger"
)

// MaxCallDepth bounds nested frames.
const MaxCallDepth = 1024

// ErrCallDepth is returned when a call would exceed MaxCallDepth.
var ErrCallDepth = fmt.Errorf("runtime: max call depth %d exceeded", MaxCallDepth)

// CallKind is the kind of frame.
type CallKind uint8

const (
	KindCall CallKind = iota
	KindStatic
	KindDelegate
)

func (k CallKind) String() string {
	switch k {
	case KindStatic:
		return "staticcall"
	case KindDelegate:
		return "delegatecall"
	default:
		return "call"
	}
}

// Contract is code deployed at an address.
type Contract interface {
	Run(ctx context.Context, f Frame, input []byte) ([]byte, error)
}

// Frame is the execution context of one call.
type Frame struct {
	Host   *Host
	Kind   CallKind
	Self   types.Address // identity and storage owner
	Code   types.Address // address the running code was loaded from
	Caller types.Address
	Value  *big.Int
	Static bool
	Depth  int
}

type frameKey struct{}

func frameFrom(ctx context.Context) *Frame {
	f, _ := ctx.Value(frameKey{}).(*Frame)
	return f
}

// Host holds deployed code over a state store.
type Host struct {
	store *state.Store
	log   *logger.Logger

	mu   sync.RWMutex
	code map[types.Address]Contract
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(h *Host) { h.log = l }
}

// NewHost creates a host over store.
func NewHost(store *state.Store, opts ...Option) *Host {
	h := &Host{
		store: store,
		log:   logger.NewDefault("runtime"),
		code:  make(map[types.Address]Contract),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Store returns the backing store.
func (h *Host) Store() *state.Store { return h.store }

// Deploy installs code at addr, replacing any previous code.
func (h *Host) Deploy(addr types.Address, c Contract) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.code[addr] = c
}

// CodeAt returns the code deployed at addr.
func (h *Host) CodeAt(addr types.Address) (Contract, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.code[addr]
	return c, ok
}

// Call runs target's code as a state-mutating call from caller.
func (h *Host) Call(ctx context.Context, caller, target types.Address, value *big.Int, data []byte) ([]byte, error) {
	return h.run(ctx, Frame{Kind: KindCall, Self: target, Code: target, Caller: caller, Value: value}, data)
}

// StaticCall runs target's code read-only.
func (h *Host) StaticCall(ctx context.Context, caller, target types.Address, data []byte) ([]byte, error) {
	return h.run(ctx, Frame{Kind: KindStatic, Self: target, Code: target, Caller: caller, Static: true}, data)
}

// DelegateCall runs target's code as caller, keeping the sender and value of
// the frame that issued it.
func (h *Host) DelegateCall(ctx context.Context, caller, target types.Address, data []byte) ([]byte, error) {
	f := Frame{Kind: KindDelegate, Self: caller, Code: target, Caller: caller}
	if parent := frameFrom(ctx); parent != nil && parent.Self == caller {
		f.Caller = parent.Caller
		f.Value = parent.Value
	}
	return h.run(ctx, f, data)
}

// Execute is the execution primitive module hooks go through: a plain call
// issued by onBehalfOf.
func (h *Host) Execute(ctx context.Context, onBehalfOf, target types.Address, value *big.Int, callData []byte) ([]byte, error) {
	return h.Call(ctx, onBehalfOf, target, value, callData)
}

// Transact runs an external transaction. It always opens a fresh execution
// unit, so it must not be called with a context that is already inside one.
func (h *Host) Transact(ctx context.Context, from, to types.Address, value *big.Int, data []byte) ([]byte, error) {
	if h.store.InUnit(ctx) {
		return nil, fmt.Errorf("runtime: transact inside an execution unit")
	}
	return h.Call(ctx, from, to, value, data)
}

// Query runs an external read-only call.
func (h *Host) Query(ctx context.Context, from, to types.Address, data []byte) ([]byte, error) {
	return h.StaticCall(ctx, from, to, data)
}

func (h *Host) run(ctx context.Context, f Frame, data []byte) ([]byte, error) {
	f.Host = h
	if f.Value == nil {
		f.Value = new(big.Int)
	}
	if parent := frameFrom(ctx); parent != nil {
		f.Depth = parent.Depth + 1
		f.Static = f.Static || parent.Static
	}
	if f.Depth > MaxCallDepth {
		return nil, ErrCallDepth
	}
	if f.Static && f.Value.Sign() != 0 {
		return nil, apperrors.ErrWriteProtection
	}

	code, ok := h.CodeAt(f.Code)
	if !ok {
		return nil, nil
	}

	var out []byte
	err := h.store.Atomic(ctx, func(ctx context.Context) error {
		if f.Static {
			ctx = state.WithReadOnly(ctx)
		}
		ctx = context.WithValue(ctx, frameKey{}, &f)

		res, err := code.Run(ctx, f, append([]byte(nil), data...))
		if err != nil {
			return err
		}
		out = append([]byte(nil), res...)
		return nil
	})

	entry := h.log.WithContext(ctx).WithFields(map[string]interface{}{
		"kind":   f.Kind.String(),
		"self":   types.HexAddress(f.Self),
		"code":   types.HexAddress(f.Code),
		"caller": types.HexAddress(f.Caller),
		"depth":  f.Depth,
	})
	if err != nil {
		entry.WithError(err).Debug("frame reverted")
		return nil, err
	}
	entry.Debug("frame returned")
	return out, nil
}

var (
	_ modules.Executor = (*Host)(nil)
	_ fallback.Relayer = (*Host)(nil)
)
