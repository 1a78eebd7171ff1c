// Package testutil provides test doubles for the execution and relay
// primitives.
package testutil

import (
	"context"
	"math/big"
	"sync"

	"github.com/R3E-Network/modular_accounts/internal/types"
)

// Call kinds recorded by the mocks.
const (
	KindExecute  = "execute"
	KindStatic   = "static"
	KindCall     = "call"
	KindDelegate = "delegate"
)

// Call is one recorded invocation.
type Call struct {
	Kind   string
	Caller types.Address
	Target types.Address
	Value  *big.Int
	Data   []byte
}

type recorder struct {
	mu    sync.Mutex
	calls []Call
}

func (r *recorder) record(c Call) {
	c.Data = append([]byte(nil), c.Data...)
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
}

// Calls returns a copy of the recorded calls.
func (r *recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Reset forgets recorded calls.
func (r *recorder) Reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}

// MockExecutor is a test implementation of the module execution primitive.
// Func, when set, runs with the caller's context so it may reenter the
// registry inside the same execution unit.
type MockExecutor struct {
	recorder
	Func func(ctx context.Context, target types.Address, data []byte) ([]byte, error)
}

// NewMockExecutor creates an executor that accepts every hook.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{}
}

// Execute records the call and runs Func.
func (m *MockExecutor) Execute(ctx context.Context, onBehalfOf, target types.Address, value *big.Int, data []byte) ([]byte, error) {
	m.record(Call{Kind: KindExecute, Caller: onBehalfOf, Target: target, Value: value, Data: data})
	if m.Func != nil {
		return m.Func(ctx, target, data)
	}
	return nil, nil
}

// MockRelayer is a test implementation of the fallback relay primitive. Every
// relay returns Out and Err.
type MockRelayer struct {
	recorder
	Out []byte
	Err error
}

// NewMockRelayer creates a relayer returning out.
func NewMockRelayer(out []byte) *MockRelayer {
	return &MockRelayer{Out: out}
}

func (m *MockRelayer) StaticCall(_ context.Context, caller, target types.Address, data []byte) ([]byte, error) {
	m.record(Call{Kind: KindStatic, Caller: caller, Target: target, Data: data})
	return m.Out, m.Err
}

func (m *MockRelayer) Call(_ context.Context, caller, target types.Address, value *big.Int, data []byte) ([]byte, error) {
	m.record(Call{Kind: KindCall, Caller: caller, Target: target, Value: value, Data: data})
	return m.Out, m.Err
}

func (m *MockRelayer) DelegateCall(_ context.Context, caller, target types.Address, data []byte) ([]byte, error) {
	m.record(Call{Kind: KindDelegate, Caller: caller, Target: target, Data: data})
	return m.Out, m.Err
}
