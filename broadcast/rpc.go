package broadcast

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// RPCSink submits transactions to the consensus engine's RPC endpoint.
type RPCSink struct {
	client *resty.Client
}

type rpcResponse struct {
	Result struct {
		Code uint32 `json:"code"`
		Log  string `json:"log"`
		Hash string `json:"hash"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    string `json:"data"`
	} `json:"error"`
}

// NewRPCSink creates a sink posting to the RPC server at baseURL.
func NewRPCSink(baseURL string, timeout time.Duration) *RPCSink {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(100 * time.Millisecond)
	return &RPCSink{client: c}
}

// Send calls broadcast_tx_sync.
func (s *RPCSink) Send(ctx context.Context, tx []byte) error {
	var out rpcResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("tx", "0x"+hex.EncodeToString(tx)).
		SetResult(&out).
		Get("/broadcast_tx_sync")
	if err != nil {
		return fmt.Errorf("broadcast_tx_sync: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("broadcast_tx_sync: http %d", resp.StatusCode())
	}
	if out.Error != nil {
		return fmt.Errorf("broadcast_tx_sync: rpc error %d: %s %s", out.Error.Code, out.Error.Message, out.Error.Data)
	}
	if out.Result.Code != 0 {
		return fmt.Errorf("broadcast_tx_sync: rejected with code %d: %s", out.Result.Code, out.Result.Log)
	}
	return nil
}
