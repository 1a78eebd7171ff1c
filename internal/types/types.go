// Package types defines the identity and tag types shared by the registry,
// the dispatcher and the runtime.
package types

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"golang.org/x/crypto/sha3"
)

// Address identifies an account or a module. Bytes are kept in big-endian
// (wire) order, so the 20-byte dispatch suffix is the raw array.
type Address = util.Uint160

// AddressLength is the size of an Address on the wire.
const AddressLength = util.Uint160Size

var (
	// ZeroAddress marks "no entry" and "no handler".
	ZeroAddress = Address{}

	// Sentinel anchors every sentinel list and is never a valid entry.
	Sentinel = Address{AddressLength - 1: 0x01}
)

// IsReserved reports whether a is the zero address or the sentinel.
func IsReserved(a Address) bool {
	return a == ZeroAddress || a == Sentinel
}

// HexAddress renders a as 0x-prefixed big-endian hex.
func HexAddress(a Address) string {
	return "0x" + hex.EncodeToString(a[:])
}

// NeoAddress renders a as a Neo N3 base58 address.
func NeoAddress(a Address) string {
	return address.Uint160ToString(a)
}

// ParseAddress accepts 0x-prefixed 40-char hex (wire order) or a Neo N3
// address string.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ZeroAddress, fmt.Errorf("address: empty")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		raw, err := hex.DecodeString(s[2:])
		if err != nil {
			return ZeroAddress, fmt.Errorf("address %q: %w", s, err)
		}
		return AddressFromBytes(raw)
	}
	a, err := address.StringToUint160(s)
	if err != nil {
		return ZeroAddress, fmt.Errorf("address %q: %w", s, err)
	}
	return a, nil
}

// AddressFromBytes converts a 20-byte big-endian slice.
func AddressFromBytes(b []byte) (Address, error) {
	if len(b) != AddressLength {
		return ZeroAddress, fmt.Errorf("address: want %d bytes, got %d", AddressLength, len(b))
	}
	return util.Uint160DecodeBytesBE(b)
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Selector is the 4-byte function selector leading every calldata.
type Selector [4]byte

// String renders the selector as 0x-prefixed hex.
func (s Selector) String() string {
	return "0x" + hex.EncodeToString(s[:])
}

// SelectorOf hashes a canonical signature such as "onInstall(bytes)".
func SelectorOf(signature string) Selector {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	var sel Selector
	copy(sel[:], h.Sum(nil))
	return sel
}

// SelectorFromCalldata returns the leading four bytes of data, zero-padded on
// the right when data is shorter.
func SelectorFromCalldata(data []byte) Selector {
	var sel Selector
	copy(sel[:], data)
	return sel
}

// ParseSelector parses 0x-prefixed (or bare) 8-char hex.
func ParseSelector(s string) (Selector, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Selector{}, fmt.Errorf("selector %q: %w", s, err)
	}
	if len(raw) != 4 {
		return Selector{}, fmt.Errorf("selector %q: want 4 bytes, got %d", s, len(raw))
	}
	var sel Selector
	copy(sel[:], raw)
	return sel, nil
}

// CallMode selects how the dispatcher relays a call to a fallback handler.
// Values follow the ERC-7579 call type byte.
type CallMode uint8

const (
	// CallModeSingle relays with a state-mutating call and zero value.
	CallModeSingle CallMode = 0x00
	// CallModeStatic relays with a read-only call.
	CallModeStatic CallMode = 0xFE
	// CallModeDelegate relays in the account's own storage and identity.
	CallModeDelegate CallMode = 0xFF
)

// Valid reports whether m is one of the three relay modes.
func (m CallMode) Valid() bool {
	switch m {
	case CallModeSingle, CallModeStatic, CallModeDelegate:
		return true
	default:
		return false
	}
}

// String returns the mode name.
func (m CallMode) String() string {
	switch m {
	case CallModeSingle:
		return "single"
	case CallModeStatic:
		return "static"
	case CallModeDelegate:
		return "delegate"
	default:
		return fmt.Sprintf("callmode(0x%02x)", uint8(m))
	}
}

// ParseCallMode converts a mode name.
func ParseCallMode(s string) (CallMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "single", "call":
		return CallModeSingle, nil
	case "static", "staticcall":
		return CallModeStatic, nil
	case "delegate", "delegatecall":
		return CallModeDelegate, nil
	default:
		return 0, fmt.Errorf("unknown call mode %q", s)
	}
}

// ModuleType is the ERC-7579 module type id.
type ModuleType uint64

const (
	ModuleTypeValidator ModuleType = 1
	ModuleTypeExecutor  ModuleType = 2
	ModuleTypeFallback  ModuleType = 3
	ModuleTypeHook      ModuleType = 4
)

// String returns the module type name.
func (t ModuleType) String() string {
	switch t {
	case ModuleTypeValidator:
		return "validator"
	case ModuleTypeExecutor:
		return "executor"
	case ModuleTypeFallback:
		return "fallback"
	case ModuleTypeHook:
		return "hook"
	default:
		return fmt.Sprintf("moduletype(%d)", uint64(t))
	}
}

// ParseModuleType converts a module type name.
func ParseModuleType(s string) (ModuleType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "validator", "validators", "1":
		return ModuleTypeValidator, nil
	case "executor", "executors", "2":
		return ModuleTypeExecutor, nil
	case "fallback", "fallbacks", "3":
		return ModuleTypeFallback, nil
	case "hook", "hooks", "4":
		return ModuleTypeHook, nil
	default:
		return 0, fmt.Errorf("unknown module type %q", s)
	}
}
