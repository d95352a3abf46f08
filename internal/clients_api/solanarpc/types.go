package solanarpc

import (
	"encoding/json"
	"fmt"
)

// HolderRecord is one raw per-account balance as returned by the remote,
// before aggregation. Address is the token-account owner (base58 public key),
// Balance is in raw token units.
type HolderRecord struct {
	Address string
	Balance uint64
}

// rpcRequest is a JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcResponse is a JSON-RPC 2.0 response envelope.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// Rate-limit error codes returned by public RPC nodes alongside HTTP 429.
const (
	rpcCodeNodeBehind  = -32005
	rpcCodeRateLimited = -32429
)

func (e *rpcError) rateLimited() bool {
	return e.Code == rpcCodeNodeBehind || e.Code == rpcCodeRateLimited
}

// tokenAccountsResult is the paginated getTokenAccounts result.
type tokenAccountsResult struct {
	Total         int            `json:"total"`
	Limit         int            `json:"limit"`
	Page          int            `json:"page"`
	TokenAccounts []tokenAccount `json:"token_accounts"`
}

type tokenAccount struct {
	Address string `json:"address"`
	Mint    string `json:"mint"`
	Owner   string `json:"owner"`
	Amount  uint64 `json:"amount"`
	Frozen  bool   `json:"frozen"`
}
