package runtime

import (
	"context"

	"github.com/R3E-Network/modular_accounts/internal/state"
	"github.com/R3E-Network/modular_accounts/internal/types"
	"github.com/R3E-Network/modular_accounts/internal/wire"
)

// storageNamespace holds contract-private storage.
const storageNamespace = "runtime.storage"

// Load reads key from the storage of f.Self.
func (f Frame) Load(ctx context.Context, key state.Word) state.Word {
	return f.Host.store.Get(ctx, state.SlotOf(storageNamespace, f.Self[:], key[:]))
}

// Store writes key in the storage of f.Self.
func (f Frame) Store(ctx context.Context, key, value state.Word) error {
	return f.Host.store.Set(ctx, state.SlotOf(storageNamespace, f.Self[:], key[:]), value)
}

// ContractFunc adapts a function to Contract.
type ContractFunc func(ctx context.Context, f Frame, input []byte) ([]byte, error)

// Run calls fn.
func (fn ContractFunc) Run(ctx context.Context, f Frame, input []byte) ([]byte, error) {
	return fn(ctx, f, input)
}

// ModuleFunc builds a module contract from closures. OnInstall and
// OnUninstall receive the decoded hook bytes; every other input goes to
// Handle. Nil callbacks accept and return nothing.
type ModuleFunc struct {
	OnInstall   func(ctx context.Context, f Frame, data []byte) error
	OnUninstall func(ctx context.Context, f Frame, data []byte) error
	Handle      ContractFunc
}

var (
	onInstallSel   = types.SelectorOf(wire.SigOnInstall)
	onUninstallSel = types.SelectorOf(wire.SigOnUninstall)
)

// Run routes input by selector.
func (m ModuleFunc) Run(ctx context.Context, f Frame, input []byte) ([]byte, error) {
	switch types.SelectorFromCalldata(input) {
	case onInstallSel:
		if m.OnInstall == nil {
			return nil, nil
		}
		_, data, err := wire.DecodeHookCall(input)
		if err != nil {
			return nil, err
		}
		return nil, m.OnInstall(ctx, f, data)
	case onUninstallSel:
		if m.OnUninstall == nil {
			return nil, nil
		}
		_, data, err := wire.DecodeHookCall(input)
		if err != nil {
			return nil, err
		}
		return nil, m.OnUninstall(ctx, f, data)
	}
	if m.Handle == nil {
		return nil, nil
	}
	return m.Handle(ctx, f, input)
}
