package modules

import (
	"context"

	apperrors "github.com/R3E-Network/modular_accounts/internal/errors"
	"github.com/R3E-Network/modular_accounts/internal/sentinel"
	"github.com/R3E-Network/modular_accounts/internal/types"
	"github.com/R3E-Network/modular_accounts/internal/wire"
)

// InstallValidator adds module to the account's validators and calls its
// onInstall hook with initData.
func (m *Manager) InstallValidator(ctx context.Context, account, module types.Address, initData []byte) error {
	return m.installInSet(ctx, types.ModuleTypeValidator, m.validators, account, module, initData)
}

// UninstallValidator removes module. packedArg is the ABI encoding of
// (address predecessor, bytes teardownData).
func (m *Manager) UninstallValidator(ctx context.Context, account, module types.Address, packedArg []byte) error {
	return m.uninstallFromSet(ctx, types.ModuleTypeValidator, m.validators, account, module, packedArg)
}

// IsValidatorInstalled reports whether module is a validator of account.
func (m *Manager) IsValidatorInstalled(ctx context.Context, account, module types.Address) bool {
	return m.validators.Contains(ctx, account, module)
}

// ListValidators pages through the validators of account, newest first.
func (m *Manager) ListValidators(ctx context.Context, account, cursor types.Address, pageSize int) ([]types.Address, types.Address, error) {
	return m.validators.Paginate(ctx, account, cursor, pageSize)
}

// InstallExecutor adds module to the account's executors and calls its
// onInstall hook with initData.
func (m *Manager) InstallExecutor(ctx context.Context, account, module types.Address, initData []byte) error {
	return m.installInSet(ctx, types.ModuleTypeExecutor, m.executors, account, module, initData)
}

// UninstallExecutor removes module. packedArg is the ABI encoding of
// (address predecessor, bytes teardownData).
func (m *Manager) UninstallExecutor(ctx context.Context, account, module types.Address, packedArg []byte) error {
	return m.uninstallFromSet(ctx, types.ModuleTypeExecutor, m.executors, account, module, packedArg)
}

// IsExecutorInstalled reports whether module is an executor of account.
func (m *Manager) IsExecutorInstalled(ctx context.Context, account, module types.Address) bool {
	return m.executors.Contains(ctx, account, module)
}

// ListExecutors pages through the executors of account, newest first.
func (m *Manager) ListExecutors(ctx context.Context, account, cursor types.Address, pageSize int) ([]types.Address, types.Address, error) {
	return m.executors.Paginate(ctx, account, cursor, pageSize)
}

// RequireExecutor fails with ErrInvalidModule unless caller is an installed
// executor of account. Entry points reserved to executors call it first.
func (m *Manager) RequireExecutor(ctx context.Context, account, caller types.Address) error {
	if !m.executors.Contains(ctx, account, caller) {
		return apperrors.ErrInvalidModule
	}
	return nil
}

func (m *Manager) installInSet(ctx context.Context, typ types.ModuleType, set *sentinel.List, account, module types.Address, initData []byte) error {
	return m.run(ctx, change{
		typ:     typ,
		op:      "install",
		account: account,
		module:  module,
		mutate: func(ctx context.Context) error {
			return set.Push(ctx, account, module)
		},
		hook: wire.OnInstall(initData),
	})
}

func (m *Manager) uninstallFromSet(ctx context.Context, typ types.ModuleType, set *sentinel.List, account, module types.Address, packedArg []byte) error {
	c := change{typ: typ, op: "uninstall", account: account, module: module}

	prev, teardown, err := wire.DecodeUninstallArg(packedArg)
	if err != nil {
		return m.fail(ctx, c, err)
	}

	c.fields = map[string]interface{}{"predecessor": types.HexAddress(prev)}
	c.mutate = func(ctx context.Context) error {
		if typ == types.ModuleTypeValidator && m.requireValidator && set.IsSoleEntry(ctx, account, module) {
			return apperrors.ErrCannotRemoveLastValidator
		}
		return set.Pop(ctx, account, prev, module)
	}
	c.hook = wire.OnUninstall(teardown)
	return m.run(ctx, c)
}
