package chain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// RPCRequest is a JSON-RPC 2.0 request.
type RPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      uint64        `json:"id"`
}

// RPCResponse is a JSON-RPC 2.0 response.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("rpc error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ContractParam is an invocation argument.
type ContractParam struct {
	Type  string      `json:"type"`
	Value interface{} `json:"value"`
}

// NewHash160Param builds a Hash160 argument from a 0x-prefixed LE hash.
func NewHash160Param(hash string) ContractParam {
	return ContractParam{Type: "Hash160", Value: hash}
}

// NewIntegerParam builds an Integer argument.
func NewIntegerParam(v *big.Int) ContractParam {
	if v == nil {
		v = new(big.Int)
	}
	return ContractParam{Type: "Integer", Value: v.String()}
}

// NewByteArrayParam builds a ByteArray argument.
func NewByteArrayParam(b []byte) ContractParam {
	return ContractParam{Type: "ByteArray", Value: base64.StdEncoding.EncodeToString(b)}
}

// StackItem is one VM stack item.
type StackItem struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// InvokeResult is the result of invokefunction.
type InvokeResult struct {
	Script      string      `json:"script"`
	State       string      `json:"state"`
	GasConsumed string      `json:"gasconsumed"`
	Exception   string      `json:"exception,omitempty"`
	Stack       []StackItem `json:"stack"`
	Tx          string      `json:"tx,omitempty"`
}

// Halted reports whether the VM finished without fault.
func (r *InvokeResult) Halted() bool {
	return strings.EqualFold(r.State, "HALT")
}

// ParseByteArray decodes a ByteString or Buffer item. Any and Null items
// decode to nil.
func ParseByteArray(item StackItem) ([]byte, error) {
	switch item.Type {
	case "Any", "Null":
		return nil, nil
	case "ByteString", "Buffer":
	default:
		return nil, fmt.Errorf("expected ByteString, got %s", item.Type)
	}
	var s string
	if err := json.Unmarshal(item.Value, &s); err != nil {
		return nil, fmt.Errorf("decode %s value: %w", item.Type, err)
	}
	return base64.StdEncoding.DecodeString(s)
}
