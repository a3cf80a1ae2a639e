package web3

import "context"

// ChainSnapshot 是链的概要信息，数值以 0x 前缀的十六进制字符串表示。
type ChainSnapshot struct {
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Notes       string `json:"notes,omitempty"`
}

// Client 定义链客户端需要提供的只读能力。
type Client interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	Close()
}
