// Package wire holds the bit-exact calldata encodings of the module registry.
//
// Everything here is standard Solidity ABI so that packed arguments built by
// wallets and SDKs for ERC-7579 accounts decode unchanged.
package wire

import (
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	apperrors "github.com/R3E-Network/modular_accounts/internal/errors"
	"github.com/R3E-Network/modular_accounts/internal/types"
)

// Function signatures understood by modules and the account contract.
const (
	SigOnInstall              = "onInstall(bytes)"
	SigOnUninstall            = "onUninstall(bytes)"
	SigInstallModule          = "installModule(uint256,address,bytes)"
	SigUninstallModule        = "uninstallModule(uint256,address,bytes)"
	SigIsModuleInstalled      = "isModuleInstalled(uint256,address,bytes)"
	SigGetValidatorsPaginated = "getValidatorsPaginated(address,uint256)"
	SigGetExecutorsPaginated  = "getExecutorsPaginated(address,uint256)"
	SigAccountID              = "accountId()"
)

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("wire: abi type %s: %v", t, err))
	}
	return typ
}

var (
	tAddress   = mustType("address")
	tAddresses = mustType("address[]")
	tBytes     = mustType("bytes")
	tBytes4    = mustType("bytes4")
	tUint8     = mustType("uint8")
	tUint256   = mustType("uint256")
	tBool      = mustType("bool")
	tString    = mustType("string")

	bytesArgs           = abi.Arguments{{Type: tBytes}}
	uninstallArgs       = abi.Arguments{{Type: tAddress}, {Type: tBytes}}
	fallbackInstallArgs = abi.Arguments{{Type: tBytes4}, {Type: tUint8}, {Type: tBytes}}
	selectorArgs        = abi.Arguments{{Type: tBytes4}}
	moduleCallArgs      = abi.Arguments{{Type: tUint256}, {Type: tAddress}, {Type: tBytes}}
	paginateArgs        = abi.Arguments{{Type: tAddress}, {Type: tUint256}}
	pageArgs            = abi.Arguments{{Type: tAddresses}, {Type: tAddress}}
	boolArgs            = abi.Arguments{{Type: tBool}}
	stringArgs          = abi.Arguments{{Type: tString}}
)

// HookCall builds the calldata of onInstall(bytes) or onUninstall(bytes).
func HookCall(signature string, data []byte) []byte {
	return Call(signature, mustPack(bytesArgs, nonNil(data)))
}

// OnInstall is HookCall(SigOnInstall, data).
func OnInstall(data []byte) []byte { return HookCall(SigOnInstall, data) }

// OnUninstall is HookCall(SigOnUninstall, data).
func OnUninstall(data []byte) []byte { return HookCall(SigOnUninstall, data) }

// Call prefixes ABI-encoded arguments with the selector of signature.
func Call(signature string, args []byte) []byte {
	sel := types.SelectorOf(signature)
	out := make([]byte, 0, len(sel)+len(args))
	out = append(out, sel[:]...)
	return append(out, args...)
}

// DecodeHookCall splits a hook call into its selector and bytes argument.
func DecodeHookCall(calldata []byte) (types.Selector, []byte, error) {
	if len(calldata) < 4 {
		return types.Selector{}, nil, apperrors.DecodeError("hook call", fmt.Errorf("calldata too short"))
	}
	vals, err := bytesArgs.Unpack(calldata[4:])
	if err != nil {
		return types.Selector{}, nil, apperrors.DecodeError("hook call", err)
	}
	return types.SelectorFromCalldata(calldata), vals[0].([]byte), nil
}

// EncodeUninstallArg packs (address predecessor, bytes teardownData).
func EncodeUninstallArg(predecessor types.Address, teardown []byte) []byte {
	return mustPack(uninstallArgs, common.Address(predecessor), nonNil(teardown))
}

// DecodeUninstallArg unpacks (address predecessor, bytes teardownData).
func DecodeUninstallArg(data []byte) (types.Address, []byte, error) {
	vals, err := uninstallArgs.Unpack(data)
	if err != nil {
		return types.ZeroAddress, nil, apperrors.DecodeError("uninstall argument", err)
	}
	return types.Address(vals[0].(common.Address)), vals[1].([]byte), nil
}

// EncodeFallbackInstall packs (bytes4 selector, uint8 callMode, bytes initData).
func EncodeFallbackInstall(sel types.Selector, mode types.CallMode, initData []byte) []byte {
	return mustPack(fallbackInstallArgs, [4]byte(sel), uint8(mode), nonNil(initData))
}

// DecodeFallbackInstall unpacks (bytes4 selector, uint8 callMode, bytes initData).
// The mode byte is returned as stored; validity is checked by the caller.
func DecodeFallbackInstall(data []byte) (types.Selector, types.CallMode, []byte, error) {
	vals, err := fallbackInstallArgs.Unpack(data)
	if err != nil {
		return types.Selector{}, 0, nil, apperrors.DecodeError("fallback install argument", err)
	}
	return types.Selector(vals[0].([4]byte)), types.CallMode(vals[1].(uint8)), vals[2].([]byte), nil
}

// EncodeSelectorArg packs (bytes4 selector).
func EncodeSelectorArg(sel types.Selector) []byte {
	return mustPack(selectorArgs, [4]byte(sel))
}

// DecodeSelectorArg unpacks (bytes4 selector).
func DecodeSelectorArg(data []byte) (types.Selector, error) {
	vals, err := selectorArgs.Unpack(data)
	if err != nil {
		return types.Selector{}, apperrors.DecodeError("selector argument", err)
	}
	return types.Selector(vals[0].([4]byte)), nil
}

// AppendContextSuffix returns calldata followed by the raw 20 account bytes.
// The input slice is never modified.
func AppendContextSuffix(calldata []byte, account types.Address) []byte {
	out := make([]byte, 0, len(calldata)+types.AddressLength)
	out = append(out, calldata...)
	return append(out, account[:]...)
}

// SplitContextSuffix is the handler-side inverse of AppendContextSuffix.
func SplitContextSuffix(data []byte) ([]byte, types.Address, bool) {
	if len(data) < types.AddressLength {
		return nil, types.ZeroAddress, false
	}
	cut := len(data) - types.AddressLength
	var account types.Address
	copy(account[:], data[cut:])
	return data[:cut], account, true
}

// ModuleCall is the argument tuple of installModule, uninstallModule and
// isModuleInstalled.
type ModuleCall struct {
	Type   types.ModuleType
	Module types.Address
	Data   []byte
}

// EncodeModuleCall builds the full calldata of one of the module entry points.
func EncodeModuleCall(signature string, mc ModuleCall) []byte {
	args := mustPack(moduleCallArgs, new(big.Int).SetUint64(uint64(mc.Type)), common.Address(mc.Module), nonNil(mc.Data))
	return Call(signature, args)
}

// DecodeModuleCall decodes the arguments of a module entry point, selector
// excluded.
func DecodeModuleCall(args []byte) (ModuleCall, error) {
	vals, err := moduleCallArgs.Unpack(args)
	if err != nil {
		return ModuleCall{}, apperrors.DecodeError("module call", err)
	}
	typ := vals[0].(*big.Int)
	if !typ.IsUint64() {
		return ModuleCall{}, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedModuleType, typ)
	}
	return ModuleCall{
		Type:   types.ModuleType(typ.Uint64()),
		Module: types.Address(vals[1].(common.Address)),
		Data:   vals[2].([]byte),
	}, nil
}

// EncodePaginateCall builds getValidatorsPaginated / getExecutorsPaginated calldata.
func EncodePaginateCall(signature string, cursor types.Address, pageSize int) []byte {
	return Call(signature, mustPack(paginateArgs, common.Address(cursor), big.NewInt(int64(pageSize))))
}

// DecodePaginateCall decodes (address cursor, uint256 pageSize). Page sizes
// beyond the int range are clamped.
func DecodePaginateCall(args []byte) (types.Address, int, error) {
	vals, err := paginateArgs.Unpack(args)
	if err != nil {
		return types.ZeroAddress, 0, apperrors.DecodeError("paginate call", err)
	}
	size := vals[1].(*big.Int)
	n := math.MaxInt32
	if size.IsInt64() && size.Int64() < math.MaxInt32 {
		n = int(size.Int64())
	}
	return types.Address(vals[0].(common.Address)), n, nil
}

// EncodePage packs (address[] entries, address next).
func EncodePage(entries []types.Address, next types.Address) []byte {
	addrs := make([]common.Address, len(entries))
	for i, e := range entries {
		addrs[i] = common.Address(e)
	}
	return mustPack(pageArgs, addrs, common.Address(next))
}

// DecodePage unpacks (address[] entries, address next).
func DecodePage(data []byte) ([]types.Address, types.Address, error) {
	vals, err := pageArgs.Unpack(data)
	if err != nil {
		return nil, types.ZeroAddress, apperrors.DecodeError("page", err)
	}
	addrs := vals[0].([]common.Address)
	entries := make([]types.Address, len(addrs))
	for i, a := range addrs {
		entries[i] = types.Address(a)
	}
	return entries, types.Address(vals[1].(common.Address)), nil
}

// EncodeBool packs a bool return value.
func EncodeBool(v bool) []byte { return mustPack(boolArgs, v) }

// DecodeBool unpacks a bool return value.
func DecodeBool(data []byte) (bool, error) {
	vals, err := boolArgs.Unpack(data)
	if err != nil {
		return false, apperrors.DecodeError("bool", err)
	}
	return vals[0].(bool), nil
}

// EncodeString packs a string return value.
func EncodeString(s string) []byte { return mustPack(stringArgs, s) }

// DecodeString unpacks a string return value.
func DecodeString(data []byte) (string, error) {
	vals, err := stringArgs.Unpack(data)
	if err != nil {
		return "", apperrors.DecodeError("string", err)
	}
	return vals[0].(string), nil
}

// mustPack panics on programmer errors only: every call site passes Go values
// that match the argument types.
func mustPack(args abi.Arguments, vals ...interface{}) []byte {
	out, err := args.Pack(vals...)
	if err != nil {
		panic(fmt.Sprintf("wire: pack: %v", err))
	}
	return out
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
