package runtime

import (
	"context"

	apperrors "github.com/R3E-Network/modular_accounts/internal/errors"
	"github.com/R3E-Network/modular_accounts/internal/fallback"
	"github.com/R3E-Network/modular_accounts/internal/modules"
	"github.com/R3E-Network/modular_accounts/internal/types"
	"github.com/R3E-Network/modular_accounts/internal/wire"
)

// DefaultAccountID is returned by accountId().
const DefaultAccountID = "r3e.modular-account.v1"

var (
	selInstallModule          = types.SelectorOf(wire.SigInstallModule)
	selUninstallModule        = types.SelectorOf(wire.SigUninstallModule)
	selIsModuleInstalled      = types.SelectorOf(wire.SigIsModuleInstalled)
	selGetValidatorsPaginated = types.SelectorOf(wire.SigGetValidatorsPaginated)
	selGetExecutorsPaginated  = types.SelectorOf(wire.SigGetExecutorsPaginated)
	selAccountID              = types.SelectorOf(wire.SigAccountID)
)

// Account is the modular account contract. Its registry is keyed by the
// address it runs as, so one Account value can be deployed at many
// addresses.
type Account struct {
	id         string
	manager    *modules.Manager
	dispatcher *fallback.Dispatcher
}

// NewAccount creates account code over a manager and a dispatcher sharing
// one store.
func NewAccount(manager *modules.Manager, dispatcher *fallback.Dispatcher) *Account {
	return &Account{id: DefaultAccountID, manager: manager, dispatcher: dispatcher}
}

// Run implements Contract.
func (a *Account) Run(ctx context.Context, f Frame, input []byte) ([]byte, error) {
	account := f.Self

	switch types.SelectorFromCalldata(input) {
	case selInstallModule:
		if err := onlySelf(f); err != nil {
			return nil, err
		}
		mc, err := wire.DecodeModuleCall(input[4:])
		if err != nil {
			return nil, err
		}
		return nil, a.manager.InstallModule(ctx, account, mc.Type, mc.Module, mc.Data)

	case selUninstallModule:
		if err := onlySelf(f); err != nil {
			return nil, err
		}
		mc, err := wire.DecodeModuleCall(input[4:])
		if err != nil {
			return nil, err
		}
		return nil, a.manager.UninstallModule(ctx, account, mc.Type, mc.Module, mc.Data)

	case selIsModuleInstalled:
		mc, err := wire.DecodeModuleCall(input[4:])
		if err != nil {
			return nil, err
		}
		ok, err := a.manager.IsModuleInstalled(ctx, account, mc.Type, mc.Module, mc.Data)
		if err != nil {
			return nil, err
		}
		return wire.EncodeBool(ok), nil

	case selGetValidatorsPaginated:
		return a.page(ctx, account, input, a.manager.ListValidators)

	case selGetExecutorsPaginated:
		return a.page(ctx, account, input, a.manager.ListExecutors)

	case selAccountID:
		return wire.EncodeString(a.id), nil
	}

	return a.dispatcher.Dispatch(ctx, account, input)
}

type listFunc func(ctx context.Context, account, cursor types.Address, pageSize int) ([]types.Address, types.Address, error)

func (a *Account) page(ctx context.Context, account types.Address, input []byte, list listFunc) ([]byte, error) {
	cursor, size, err := wire.DecodePaginateCall(input[4:])
	if err != nil {
		return nil, err
	}
	entries, next, err := list(ctx, account, cursor, size)
	if err != nil {
		return nil, err
	}
	return wire.EncodePage(entries, next), nil
}

// onlySelf is the access-control predicate of the simulated deployment: the
// registry of an account is mutated only by the account itself.
func onlySelf(f Frame) error {
	if f.Caller != f.Self {
		return apperrors.ErrUnauthorized
	}
	return nil
}
