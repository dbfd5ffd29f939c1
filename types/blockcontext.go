package types

import (
	"github.com/colorfulnotion/blockexec/common"
)

// BlockContext carries the block-level values syscalls expose and the limits every
// call runs under.
type BlockContext struct {
	ChainID           common.Felt `json:"chain_id"`
	BlockNumber       uint64      `json:"block_number"`
	BlockTimestamp    uint64      `json:"block_timestamp"`
	SequencerAddress  common.Felt `json:"sequencer_address"`
	FeeTokenAddress   common.Felt `json:"fee_token_address"`
	InvokeTxMaxNSteps uint64      `json:"invoke_tx_max_n_steps"`
	MaxRecursionDepth int         `json:"max_recursion_depth"`
}

// TransactionContext describes the account transaction a call tree runs under.
type TransactionContext struct {
	TransactionHash common.Felt   `json:"transaction_hash"`
	MaxFee          common.Felt   `json:"max_fee"`
	Version         common.Felt   `json:"version"`
	Signature       []common.Felt `json:"signature"`
	Nonce           common.Felt   `json:"nonce"`
	SenderAddress   common.Felt   `json:"sender_address"`
}

// TxInfoFelts is the tx-info struct layout written for GetTxInfo, with the signature
// pointer left to the caller: version, account, max_fee, signature_len,
// signature (placeholder), transaction_hash, chain_id, nonce.
func (tx *TransactionContext) TxInfoFelts(chainID common.Felt) []common.Felt {
	return []common.Felt{
		tx.Version,
		tx.SenderAddress,
		tx.MaxFee,
		common.NewFelt(uint64(len(tx.Signature))),
		{},
		tx.TransactionHash,
		chainID,
		tx.Nonce,
	}
}
