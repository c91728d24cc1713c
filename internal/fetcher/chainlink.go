package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	aggregatorABIJSON = `[
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`
)

var (
	aggregatorABI abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// ChainlinkOptions parameterise the on-chain benchmark fetcher.
type ChainlinkOptions struct {
	RPCURL      string
	FeedAddress string
	Timeout     time.Duration
	Location    *time.Location
}

// Chainlink reads XAU/USD or XAG/USD from a Chainlink aggregator. Feeds only
// expose the latest round, so a quote is returned only when that round was
// updated on the target date.
type Chainlink struct {
	opts      ChainlinkOptions
	logger    zerolog.Logger
	caller    ethereum.ContractCaller
	clientMux sync.Mutex
}

// NewChainlink builds a new Chainlink fetcher.
func NewChainlink(opts ChainlinkOptions, logger zerolog.Logger) *Chainlink {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Chainlink{opts: opts, logger: logger.With().Str("component", "chainlink_fetcher").Logger()}
}

// FetchBenchmark retrieves the latest aggregator answer.
func (c *Chainlink) FetchBenchmark(ctx context.Context, date time.Time) BenchmarkQuote {
	quote := BenchmarkQuote{Date: date}
	if c.opts.RPCURL == "" && c.caller == nil {
		quote.Err = errors.New("ethereum rpc url not configured")
		return quote
	}
	if c.opts.FeedAddress == "" {
		quote.Err = errors.New("chainlink feed address not configured")
		return quote
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	caller, err := c.getCaller(ctx)
	if err != nil {
		quote.Err = fmt.Errorf("dial ethereum rpc: %w", err)
		return quote
	}

	feed := common.HexToAddress(c.opts.FeedAddress)

	decimalsOut, err := c.call(ctx, caller, feed, "decimals")
	if err != nil {
		quote.Err = err
		return quote
	}
	decimals, ok := decimalsOut[0].(uint8)
	if !ok {
		quote.Err = errors.New("failed to decode decimals output")
		return quote
	}

	roundOut, err := c.call(ctx, caller, feed, "latestRoundData")
	if err != nil {
		quote.Err = err
		return quote
	}
	if len(roundOut) != 5 {
		quote.Err = errors.New("unexpected latestRoundData response")
		return quote
	}
	answer, ok1 := roundOut[1].(*big.Int)
	updatedAt, ok2 := roundOut[3].(*big.Int)
	if !ok1 || !ok2 {
		quote.Err = errors.New("failed to decode latestRoundData output")
		return quote
	}

	updated := time.Unix(updatedAt.Int64(), 0).In(c.opts.Location)
	if updated.Format(dateLayout) != date.Format(dateLayout) {
		quote.Err = fmt.Errorf("chainlink round updated %s, not on %s", updated.Format(time.RFC3339), date.Format(dateLayout))
		return quote
	}

	price := decimal.NewFromBigInt(answer, -int32(decimals))
	if !price.IsPositive() {
		quote.Err = fmt.Errorf("chainlink returned non-positive answer %s", price)
		return quote
	}

	quote.Price = price
	return quote
}

func (c *Chainlink) call(ctx context.Context, caller ethereum.ContractCaller, feed common.Address, method string) ([]interface{}, error) {
	payload, err := aggregatorABI.Pack(method)
	if err != nil {
		return nil, err
	}

	res, err := caller.CallContract(ctx, ethereum.CallMsg{To: &feed, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	outputs, err := aggregatorABI.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("empty %s response", method)
	}
	return outputs, nil
}

func (c *Chainlink) getCaller(ctx context.Context) (ethereum.ContractCaller, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.caller != nil {
		return c.caller, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.caller = client
	return client, nil
}

var _ BenchmarkFetcher = (*Chainlink)(nil)
