package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/sirupsen/logrus"

	apperrors "github.com/R3E-Network/modular_accounts/internal/errors"
	"github.com/R3E-Network/modular_accounts/internal/types"
	"github.com/R3E-Network/modular_accounts/pkg/logger"
)

// OnCallMethod is the contract method the executor invokes on a module.
const OnCallMethod = "onCall"

// Executor runs module hooks as test invocations against a Neo N3 node. The
// target receives onCall(account, value, callData); a FAULT becomes a revert
// carrying the VM exception text.
type Executor struct {
	client *Client
	method string
	log    *logger.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithMethod overrides the invoked method name.
func WithMethod(method string) ExecutorOption {
	return func(e *Executor) {
		if method != "" {
			e.method = method
		}
	}
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(log *logger.Logger) ExecutorOption {
	return func(e *Executor) {
		if log != nil {
			e.log = log
		}
	}
}

// NewExecutor creates an executor over client.
func NewExecutor(client *Client, opts ...ExecutorOption) *Executor {
	e := &Executor{
		client: client,
		method: OnCallMethod,
		log:    logger.NewDefault("chain"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ScriptHash renders an address the way Neo RPC expects contract hashes.
func ScriptHash(addr types.Address) string {
	return "0x" + addr.StringLE()
}

// Execute implements the module manager's executor.
func (e *Executor) Execute(ctx context.Context, onBehalfOf, target types.Address, value *big.Int, callData []byte) ([]byte, error) {
	params := []ContractParam{
		NewHash160Param(ScriptHash(onBehalfOf)),
		NewIntegerParam(value),
		NewByteArrayParam(callData),
	}

	res, err := e.client.InvokeFunction(ctx, ScriptHash(target), e.method, params)
	if err != nil {
		return nil, fmt.Errorf("invoke %s on %s: %w", e.method, types.HexAddress(target), err)
	}

	e.log.WithContext(ctx).WithFields(logrus.Fields{
		"target": types.HexAddress(target),
		"state":  res.State,
		"gas":    res.GasConsumed,
	}).Debug("remote hook executed")

	if !res.Halted() {
		return nil, apperrors.NewRevertError([]byte(res.Exception))
	}
	if len(res.Stack) == 0 {
		return nil, nil
	}
	out, err := ParseByteArray(res.Stack[0])
	if err != nil {
		return nil, fmt.Errorf("decode %s result: %w", e.method, err)
	}
	return out, nil
}
