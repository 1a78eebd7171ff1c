package modules

import (
	"context"
	"fmt"

	apperrors "github.com/R3E-Network/modular_accounts/internal/errors"
	"github.com/R3E-Network/modular_accounts/internal/fallback"
	"github.com/R3E-Network/modular_accounts/internal/types"
	"github.com/R3E-Network/modular_accounts/internal/wire"
)

// InstallFallback registers handler for a selector. packedParams is the ABI
// encoding of (bytes4 selector, uint8 callMode, bytes initData). A selector
// that already has a handler must be uninstalled first.
func (m *Manager) InstallFallback(ctx context.Context, account, handler types.Address, packedParams []byte) error {
	c := change{typ: types.ModuleTypeFallback, op: "install", account: account, module: handler}

	sel, mode, initData, err := wire.DecodeFallbackInstall(packedParams)
	if err != nil {
		return m.fail(ctx, c, err)
	}
	c.fields = map[string]interface{}{"selector": sel.String(), "call_mode": mode.String()}

	switch {
	case handler == types.ZeroAddress:
		return m.fail(ctx, c, fmt.Errorf("%w: zero fallback handler", apperrors.ErrInvalidModule))
	case !mode.Valid():
		return m.fail(ctx, c, fmt.Errorf("%w: 0x%02x", apperrors.ErrInvalidCallMode, uint8(mode)))
	}

	c.mutate = func(ctx context.Context) error {
		if m.fallbacks.Get(ctx, account, sel).Installed() {
			return fmt.Errorf("%w: %s", apperrors.ErrSelectorInUse, sel)
		}
		return m.fallbacks.Put(ctx, account, sel, fallback.Record{Handler: handler, CallMode: mode})
	}
	c.hook = wire.OnInstall(initData)
	return m.run(ctx, c)
}

// UninstallFallback clears the handler of the selector encoded in packedArg
// (ABI bytes4) and calls handler's onUninstall hook with packedArg itself.
func (m *Manager) UninstallFallback(ctx context.Context, account, handler types.Address, packedArg []byte) error {
	c := change{typ: types.ModuleTypeFallback, op: "uninstall", account: account, module: handler}

	sel, err := wire.DecodeSelectorArg(packedArg)
	if err != nil {
		return m.fail(ctx, c, err)
	}
	c.fields = map[string]interface{}{"selector": sel.String()}

	c.mutate = func(ctx context.Context) error {
		return m.fallbacks.ClearHandler(ctx, account, sel)
	}
	c.hook = wire.OnUninstall(packedArg)
	return m.run(ctx, c)
}

// IsFallbackInstalled reports whether any handler is registered for sel.
func (m *Manager) IsFallbackInstalled(ctx context.Context, account types.Address, sel types.Selector) bool {
	return m.fallbacks.Get(ctx, account, sel).Installed()
}

// IsFallbackInstalledFor reports whether handler is the one registered for
// the selector in encodedSelector (ABI bytes4).
func (m *Manager) IsFallbackInstalledFor(ctx context.Context, account, handler types.Address, encodedSelector []byte) (bool, error) {
	sel, err := wire.DecodeSelectorArg(encodedSelector)
	if err != nil {
		return false, err
	}
	rec := m.fallbacks.Get(ctx, account, sel)
	return rec.Installed() && rec.Handler == handler, nil
}

// FallbackHandler returns the raw record for sel, stale mode byte included.
func (m *Manager) FallbackHandler(ctx context.Context, account types.Address, sel types.Selector) fallback.Record {
	return m.fallbacks.Get(ctx, account, sel)
}
