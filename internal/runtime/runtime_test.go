package runtime

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/R3E-Network/modular_accounts/internal/errors"
	"github.com/R3E-Network/modular_accounts/internal/fallback"
	"github.com/R3E-Network/modular_accounts/internal/modules"
	"github.com/R3E-Network/modular_accounts/internal/state"
	"github.com/R3E-Network/modular_accounts/internal/types"
	"github.com/R3E-Network/modular_accounts/internal/wire"
	"github.com/R3E-Network/modular_accounts/pkg/logger"
)

var (
	acct     = types.MustParseAddress("0xacc0000000000000000000000000000000000001")
	outsider = types.MustParseAddress("0xe0a0000000000000000000000000000000000001")
	v1       = types.MustParseAddress("0x7100000000000000000000000000000000000001")
	v2       = types.MustParseAddress("0x7100000000000000000000000000000000000002")
	h1       = types.MustParseAddress("0x4a4d000000000000000000000000000000000001")
	sel      = types.Selector{0xaa, 0xbb, 0xcc, 0xdd}
)

func newEnv(t *testing.T) *Env {
	t.Helper()
	env := NewEnv(state.NewStore(), EnvOptions{
		Host:     []Option{WithLogger(logger.NewDiscard("runtime"))},
		Manager:  []modules.Option{modules.WithLogger(logger.NewDiscard("modules"))},
		Dispatch: []fallback.Option{fallback.WithLogger(logger.NewDiscard("fallback"))},
	})
	require.NoError(t, env.DeployAccount(context.Background(), acct))
	return env
}

// selfCall sends calldata from the account to itself, the way an owner
// action reaches the registry after validation.
func selfCall(env *Env, data []byte) ([]byte, error) {
	return env.Host.Transact(context.Background(), acct, acct, nil, data)
}

func install(env *Env, typ types.ModuleType, module types.Address, data []byte) error {
	_, err := selfCall(env, wire.EncodeModuleCall(wire.SigInstallModule, wire.ModuleCall{Type: typ, Module: module, Data: data}))
	return err
}

func uninstall(env *Env, typ types.ModuleType, module types.Address, data []byte) error {
	_, err := selfCall(env, wire.EncodeModuleCall(wire.SigUninstallModule, wire.ModuleCall{Type: typ, Module: module, Data: data}))
	return err
}

func validators(t *testing.T, env *Env) []types.Address {
	t.Helper()
	out, err := env.Host.Query(context.Background(), outsider, acct, wire.EncodePaginateCall(wire.SigGetValidatorsPaginated, types.Sentinel, 10))
	require.NoError(t, err)
	entries, next, err := wire.DecodePage(out)
	require.NoError(t, err)
	assert.Equal(t, types.Sentinel, next)
	return entries
}

func TestAccount_ValidatorScenario(t *testing.T) {
	env := newEnv(t)
	env.Host.Deploy(v1, ModuleFunc{})
	env.Host.Deploy(v2, ModuleFunc{})

	require.NoError(t, install(env, types.ModuleTypeValidator, v1, nil))
	assert.Equal(t, []types.Address{v1}, validators(t, env))

	require.NoError(t, install(env, types.ModuleTypeValidator, v2, nil))
	assert.Equal(t, []types.Address{v2, v1}, validators(t, env))

	require.NoError(t, uninstall(env, types.ModuleTypeValidator, v2, wire.EncodeUninstallArg(types.Sentinel, nil)))
	assert.Equal(t, []types.Address{v1}, validators(t, env))
}

func TestAccount_MutationsRequireSelf(t *testing.T) {
	env := newEnv(t)

	data := wire.EncodeModuleCall(wire.SigInstallModule, wire.ModuleCall{Type: types.ModuleTypeValidator, Module: v1})
	_, err := env.Host.Transact(context.Background(), outsider, acct, nil, data)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	assert.Empty(t, validators(t, env))

	data = wire.EncodeModuleCall(wire.SigUninstallModule, wire.ModuleCall{Type: types.ModuleTypeValidator, Module: v1})
	_, err = env.Host.Transact(context.Background(), outsider, acct, nil, data)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestAccount_ReentrantInstallHook(t *testing.T) {
	env := newEnv(t)

	var observed bool
	env.Host.Deploy(v1, ModuleFunc{
		OnInstall: func(ctx context.Context, f Frame, _ []byte) error {
			q := wire.EncodeModuleCall(wire.SigIsModuleInstalled, wire.ModuleCall{Type: types.ModuleTypeValidator, Module: f.Self})
			out, err := f.Host.StaticCall(ctx, f.Self, f.Caller, q)
			if err != nil {
				return err
			}
			observed, err = wire.DecodeBool(out)
			return err
		},
	})

	require.NoError(t, install(env, types.ModuleTypeValidator, v1, nil))
	assert.True(t, observed, "hook must see its own module installed")
}

func TestAccount_HookRevertRollsBackInstall(t *testing.T) {
	env := newEnv(t)
	payload := []byte("no thanks")
	env.Host.Deploy(v1, ModuleFunc{
		OnInstall: func(ctx context.Context, f Frame, _ []byte) error {
			if err := f.Store(ctx, state.Word{1}, state.Word{2}); err != nil {
				return err
			}
			return apperrors.NewRevertError(payload)
		},
	})

	err := install(env, types.ModuleTypeValidator, v1, nil)
	data, ok := apperrors.RevertData(err)
	require.True(t, ok, "err = %v", err)
	assert.Equal(t, payload, data)
	assert.Empty(t, validators(t, env))

	probe := Frame{Host: env.Host, Self: v1}
	assert.True(t, probe.Load(context.Background(), state.Word{1}).IsZero(), "hook writes are reverted too")
}

func TestAccount_FallbackScenario(t *testing.T) {
	env := newEnv(t)

	var (
		gotCaller types.Address
		gotInput  []byte
	)
	env.Host.Deploy(h1, ModuleFunc{
		Handle: func(_ context.Context, f Frame, input []byte) ([]byte, error) {
			gotCaller, gotInput = f.Caller, input
			return []byte("pong"), nil
		},
	})

	require.NoError(t, install(env, types.ModuleTypeFallback, h1, wire.EncodeFallbackInstall(sel, types.CallModeSingle, nil)))

	call := []byte{0xaa, 0xbb, 0xcc, 0xdd, 0x12, 0x34}
	out, err := env.Host.Transact(context.Background(), outsider, acct, nil, call)
	require.NoError(t, err)
	assert.Equal(t, []byte("pong"), out)
	assert.Equal(t, acct, gotCaller)
	assert.Equal(t, append(append([]byte{}, call...), acct[:]...), gotInput)

	require.NoError(t, uninstall(env, types.ModuleTypeFallback, h1, wire.EncodeSelectorArg(sel)))
	_, err = env.Host.Transact(context.Background(), outsider, acct, nil, call)
	var nfh *apperrors.NoFallbackHandlerError
	require.ErrorAs(t, err, &nfh)
	assert.Equal(t, sel, nfh.Selector)
}

func TestAccount_DispatchRevertPassThrough(t *testing.T) {
	env := newEnv(t)
	payload := []byte{0x08, 0xc3, 0x79, 0xa0, 0x00, 0x01}
	env.Host.Deploy(h1, ModuleFunc{
		Handle: func(context.Context, Frame, []byte) ([]byte, error) {
			return nil, apperrors.NewRevertError(payload)
		},
	})
	require.NoError(t, install(env, types.ModuleTypeFallback, h1, wire.EncodeFallbackInstall(sel, types.CallModeStatic, nil)))

	_, err := env.Host.Query(context.Background(), outsider, acct, sel[:])
	data, ok := apperrors.RevertData(err)
	require.True(t, ok)
	assert.Equal(t, payload, data)
}

func TestAccount_CallModeIsolation(t *testing.T) {
	key, val := state.Word{0x0b}, state.Word{0x0c}
	writer := ModuleFunc{
		Handle: func(ctx context.Context, f Frame, _ []byte) ([]byte, error) {
			return f.Self[:], f.Store(ctx, key, val)
		},
	}

	t.Run("static cannot write", func(t *testing.T) {
		env := newEnv(t)
		env.Host.Deploy(h1, writer)
		require.NoError(t, install(env, types.ModuleTypeFallback, h1, wire.EncodeFallbackInstall(sel, types.CallModeStatic, nil)))

		_, err := env.Host.Transact(context.Background(), outsider, acct, nil, sel[:])
		assert.ErrorIs(t, err, apperrors.ErrWriteProtection)
	})

	t.Run("single writes handler storage", func(t *testing.T) {
		env := newEnv(t)
		env.Host.Deploy(h1, writer)
		require.NoError(t, install(env, types.ModuleTypeFallback, h1, wire.EncodeFallbackInstall(sel, types.CallModeSingle, nil)))

		out, err := env.Host.Transact(context.Background(), outsider, acct, nil, sel[:])
		require.NoError(t, err)
		assert.Equal(t, h1[:], out)
		assert.Equal(t, val, Frame{Host: env.Host, Self: h1}.Load(context.Background(), key))
	})

	t.Run("delegate runs as the account", func(t *testing.T) {
		env := newEnv(t)
		var sender types.Address
		env.Host.Deploy(h1, ModuleFunc{
			Handle: func(ctx context.Context, f Frame, input []byte) ([]byte, error) {
				sender = f.Caller
				if len(input) != 4 {
					t.Errorf("delegate input must carry no suffix, got %d bytes", len(input))
				}
				return f.Self[:], f.Store(ctx, key, val)
			},
		})
		require.NoError(t, install(env, types.ModuleTypeFallback, h1, wire.EncodeFallbackInstall(sel, types.CallModeDelegate, nil)))

		out, err := env.Host.Transact(context.Background(), outsider, acct, nil, sel[:])
		require.NoError(t, err)
		assert.Equal(t, acct[:], out)
		assert.Equal(t, outsider, sender, "delegate frames keep the original sender")
		assert.Equal(t, val, Frame{Host: env.Host, Self: acct}.Load(context.Background(), key))
		assert.True(t, Frame{Host: env.Host, Self: h1}.Load(context.Background(), key).IsZero())
	})
}

func TestAccount_ViewEntryPoints(t *testing.T) {
	env := newEnv(t)
	env.Host.Deploy(v1, ModuleFunc{})
	require.NoError(t, install(env, types.ModuleTypeExecutor, v1, nil))

	out, err := env.Host.Query(context.Background(), outsider, acct, wire.EncodePaginateCall(wire.SigGetExecutorsPaginated, types.ZeroAddress, 5))
	require.NoError(t, err)
	entries, _, err := wire.DecodePage(out)
	require.NoError(t, err)
	assert.Equal(t, []types.Address{v1}, entries)

	out, err = env.Host.Query(context.Background(), outsider, acct, wire.Call(wire.SigAccountID, nil))
	require.NoError(t, err)
	id, err := wire.DecodeString(out)
	require.NoError(t, err)
	assert.Equal(t, DefaultAccountID, id)

	_, err = env.Host.Query(context.Background(), outsider, acct, wire.EncodePaginateCall(wire.SigGetValidatorsPaginated, v2, 5))
	assert.True(t, apperrors.IsLinkedList(err), "unknown cursor: %v", err)
}

func TestHost_NoCodeIsEmptySuccess(t *testing.T) {
	env := newEnv(t)
	out, err := env.Host.Call(context.Background(), acct, v2, big.NewInt(0), []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Nil(t, out)

	// Modules without code accept their hooks.
	require.NoError(t, install(env, types.ModuleTypeValidator, v2, nil))
}

func TestHost_DepthLimit(t *testing.T) {
	env := newEnv(t)
	loop := types.MustParseAddress("0x1000000000000000000000000000000000000001")
	env.Host.Deploy(loop, ContractFunc(func(ctx context.Context, f Frame, input []byte) ([]byte, error) {
		return f.Host.Call(ctx, f.Self, f.Self, nil, input)
	}))

	_, err := env.Host.Transact(context.Background(), outsider, loop, nil, nil)
	assert.ErrorIs(t, err, ErrCallDepth)
}

func TestHost_StaticRejectsValue(t *testing.T) {
	env := newEnv(t)
	called := false
	env.Host.Deploy(h1, ContractFunc(func(ctx context.Context, f Frame, _ []byte) ([]byte, error) {
		_, err := f.Host.Call(ctx, f.Self, v2, big.NewInt(1), nil)
		called = true
		return nil, err
	}))

	_, err := env.Host.Query(context.Background(), outsider, h1, nil)
	assert.True(t, called)
	assert.ErrorIs(t, err, apperrors.ErrWriteProtection)
}

func TestHost_TransactInsideUnit(t *testing.T) {
	env := newEnv(t)
	err := env.Host.Store().Atomic(context.Background(), func(ctx context.Context) error {
		_, err := env.Host.Transact(ctx, outsider, acct, nil, nil)
		return err
	})
	assert.Error(t, err)
}
