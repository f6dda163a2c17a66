package adapters

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/ZanzyTHEbar/fundscope/internal/analysis"
	"github.com/ZanzyTHEbar/fundscope/internal/clock"
	apperrors "github.com/ZanzyTHEbar/fundscope/internal/errors"
	"github.com/ZanzyTHEbar/fundscope/internal/monitoring"
	"github.com/ZanzyTHEbar/fundscope/internal/resilience"
)

// DefaultBlockfrostBaseURL is the Cardano mainnet endpoint.
const DefaultBlockfrostBaseURL = "https://cardano-mainnet.blockfrost.io/api/v0"

const (
	blockfrostPageSize = 100
	lovelacePerADA     = 1_000_000
)

var lovelaceDivisor = decimal.NewFromInt(lovelacePerADA)

// AddressTx is one entry of an address transaction listing.
type AddressTx struct {
	Hash        string    `json:"tx_hash"`
	BlockHeight int64     `json:"block_height"`
	BlockTime   time.Time `json:"block_time"`
}

// TxDetail is the subset of transaction detail the collector reads.
type TxDetail struct {
	Hash          string    `json:"hash"`
	BlockTime     time.Time `json:"block_time"`
	Fees          string    `json:"fees"`
	ValidContract bool      `json:"valid_contract"`
}

// UTXO is one input or output with its lovelace amount.
type UTXO struct {
	Address  string          `json:"address"`
	Lovelace decimal.Decimal `json:"lovelace"`
}

// TxUTXOs lists a transaction's inputs and outputs.
type TxUTXOs struct {
	Hash    string `json:"hash"`
	Inputs  []UTXO `json:"inputs"`
	Outputs []UTXO `json:"outputs"`
}

// BlockfrostConfig configures the blockchain-indexing adapter.
type BlockfrostConfig struct {
	ProjectID         string
	BaseURL           string
	RequestsPerSecond float64
	RetryMax          int
	// MaxTransactions bounds how many transactions are inspected per wallet.
	MaxTransactions int
}

// BlockfrostAdapter reads wallet activity from the Blockfrost API.
type BlockfrostAdapter struct {
	client *Client
	maxTxs int
	logger *slog.Logger
}

// NewBlockfrostAdapter creates a blockchain-indexing adapter.
func NewBlockfrostAdapter(cfg BlockfrostConfig, clk clock.Clock, metrics *monitoring.Metrics, logger *slog.Logger) *BlockfrostAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBlockfrostBaseURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.MaxTransactions <= 0 {
		cfg.MaxTransactions = 500
	}
	if logger == nil {
		logger = monitoring.Discard()
	}

	client := NewClient(ClientConfig{
		Name:              "blockfrost",
		BaseURL:           cfg.BaseURL,
		Headers:           map[string]string{"project_id": cfg.ProjectID},
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             10,
		RetryMax:          cfg.RetryMax,
		Breaker: resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  time.Minute,
		},
	}, clk, metrics, logger)

	return &BlockfrostAdapter{
		client: client,
		maxTxs: cfg.MaxTransactions,
		logger: logger.With("component", "blockfrost_adapter"),
	}
}

// ListAddressTransactions pages through an address's transactions in
// ascending order, stopping after limit entries.
func (b *BlockfrostAdapter) ListAddressTransactions(ctx context.Context, address string, limit int) ([]AddressTx, error) {
	var out []AddressTx
	for page := 1; limit <= 0 || len(out) < limit; page++ {
		q := url.Values{
			"page":  {strconv.Itoa(page)},
			"count": {strconv.Itoa(blockfrostPageSize)},
			"order": {"asc"},
		}
		_, body, err := b.client.Get(ctx, fmt.Sprintf("addresses/%s/transactions", address), q)
		if err != nil {
			// An address that never transacted is unknown to the indexer.
			if apperrors.IsNotFound(err) && page == 1 {
				return nil, nil
			}
			return nil, err
		}

		items := gjson.ParseBytes(body).Array()
		for _, item := range items {
			out = append(out, AddressTx{
				Hash:        item.Get("tx_hash").Str,
				BlockHeight: item.Get("block_height").Int(),
				BlockTime:   time.Unix(item.Get("block_time").Int(), 0).UTC(),
			})
			if limit > 0 && len(out) == limit {
				break
			}
		}
		if len(items) < blockfrostPageSize {
			break
		}
	}
	return out, nil
}

// FetchTransaction returns transaction detail by hash.
func (b *BlockfrostAdapter) FetchTransaction(ctx context.Context, hash string) (*TxDetail, error) {
	_, body, err := b.client.Get(ctx, "txs/"+hash, nil)
	if err != nil {
		return nil, err
	}
	doc := gjson.ParseBytes(body)
	valid := doc.Get("valid_contract")
	return &TxDetail{
		Hash:          doc.Get("hash").Str,
		BlockTime:     time.Unix(doc.Get("block_time").Int(), 0).UTC(),
		Fees:          doc.Get("fees").Str,
		ValidContract: !valid.Exists() || valid.Bool(),
	}, nil
}

// FetchTransactionUTXOs returns the inputs and outputs of a transaction.
func (b *BlockfrostAdapter) FetchTransactionUTXOs(ctx context.Context, hash string) (*TxUTXOs, error) {
	_, body, err := b.client.Get(ctx, fmt.Sprintf("txs/%s/utxos", hash), nil)
	if err != nil {
		return nil, err
	}
	doc := gjson.ParseBytes(body)
	return &TxUTXOs{
		Hash:    doc.Get("hash").Str,
		Inputs:  parseUTXOs(doc.Get("inputs")),
		Outputs: parseUTXOs(doc.Get("outputs")),
	}, nil
}

func parseUTXOs(list gjson.Result) []UTXO {
	var out []UTXO
	for _, item := range list.Array() {
		u := UTXO{Address: item.Get("address").Str, Lovelace: decimal.Zero}
		for _, amt := range item.Get("amount").Array() {
			if amt.Get("unit").Str != "lovelace" {
				continue
			}
			if q, err := decimal.NewFromString(amt.Get("quantity").Str); err == nil {
				u.Lovelace = u.Lovelace.Add(q)
			}
		}
		out = append(out, u)
	}
	return out
}

// FetchSignal aggregates wallet activity: valid transactions touching the
// wallet, distinct counterparty addresses and ADA received from others.
// Change returned to the wallet itself is not counted as received.
func (b *BlockfrostAdapter) FetchSignal(ctx context.Context, wallet string) (analysis.OnChainSignal, error) {
	if wallet == "" {
		return analysis.OnChainSignal{}, apperrors.NewValidationError("wallet address is empty", "wallet_address")
	}

	txs, err := b.ListAddressTransactions(ctx, wallet, b.maxTxs)
	if err != nil {
		return analysis.OnChainSignal{}, err
	}

	counterparties := make(map[string]struct{})
	received := decimal.Zero
	count := 0

	for _, tx := range txs {
		detail, err := b.FetchTransaction(ctx, tx.Hash)
		if err != nil {
			return analysis.OnChainSignal{}, err
		}
		if !detail.ValidContract {
			continue
		}
		utxos, err := b.FetchTransactionUTXOs(ctx, tx.Hash)
		if err != nil {
			return analysis.OnChainSignal{}, err
		}
		count++

		outgoing := false
		for _, in := range utxos.Inputs {
			if in.Address == wallet {
				outgoing = true
				continue
			}
			counterparties[in.Address] = struct{}{}
		}
		for _, o := range utxos.Outputs {
			if o.Address != wallet {
				if outgoing {
					counterparties[o.Address] = struct{}{}
				}
				continue
			}
			if !outgoing {
				received = received.Add(o.Lovelace)
			}
		}
	}

	ada, _ := received.Div(lovelaceDivisor).Float64()
	b.logger.Debug("wallet aggregated", "transactions", count, "counterparties", len(counterparties))
	return analysis.OnChainSignal{
		TransactionCount:     count,
		UniqueCounterparties: len(counterparties),
		TotalReceived:        ada,
	}, nil
}
