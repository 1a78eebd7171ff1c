package runtime

import (
	"context"

	"github.com/R3E-Network/modular_accounts/internal/fallback"
	"github.com/R3E-Network/modular_accounts/internal/modules"
	"github.com/R3E-Network/modular_accounts/internal/state"
	"github.com/R3E-Network/modular_accounts/internal/types"
)

// Env wires a host, the module manager, the dispatcher and the account code
// over one store.
type Env struct {
	Host       *Host
	Manager    *modules.Manager
	Dispatcher *fallback.Dispatcher
	Account    *Account
}

// EnvOptions carries per-component options for NewEnv.
type EnvOptions struct {
	Host     []Option
	Manager  []modules.Option
	Dispatch []fallback.Option
}

// NewEnv builds the stack. The host is the manager's executor and the
// dispatcher's relayer.
func NewEnv(store *state.Store, opts EnvOptions) *Env {
	host := NewHost(store, opts.Host...)
	manager := modules.NewManager(store, host, opts.Manager...)
	dispatcher := fallback.NewDispatcher(manager.Fallbacks(), host, opts.Dispatch...)
	return &Env{
		Host:       host,
		Manager:    manager,
		Dispatcher: dispatcher,
		Account:    NewAccount(manager, dispatcher),
	}
}

// DeployAccount puts account code at addr and initializes its registry.
func (e *Env) DeployAccount(ctx context.Context, addr types.Address) error {
	if err := e.Manager.InitAccount(ctx, addr); err != nil {
		return err
	}
	e.Host.Deploy(addr, e.Account)
	return nil
}
