package chain

import (
	"context"
	"encoding/json"
	"fmt"
)

// InvokeFunction test-invokes a contract method. Nothing is persisted on chain.
func (c *Client) InvokeFunction(ctx context.Context, scriptHash string, method string, params []ContractParam) (*InvokeResult, error) {
	if params == nil {
		params = []ContractParam{}
	}
	args := []interface{}{scriptHash, method, params}
	result, err := c.Call(ctx, "invokefunction", args)
	if err != nil {
		return nil, err
	}

	var invokeResult InvokeResult
	if err := json.Unmarshal(result, &invokeResult); err != nil {
		return nil, fmt.Errorf("decode invoke result: %w", err)
	}
	return &invokeResult, nil
}
