package fetcher

import (
	"context"
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

// ChainlinkOptions parameterise the on-chain fetcher.
type ChainlinkOptions struct {
	RPCURL  string
	Timeout time.Duration
}

// Chainlink reads prices from Chainlink aggregator contracts. The feed id is the
// aggregator contract address.
type Chainlink struct {
	opts      ChainlinkOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex

	decimalsMux sync.Mutex
	decimals    map[common.Address]uint8
}

// NewChainlink builds a new aggregator fetcher.
func NewChainlink(opts ChainlinkOptions, logger zerolog.Logger) *Chainlink {
	return &Chainlink{
		opts:     opts,
		logger:   logger.With().Str("component", "chainlink_fetcher").Logger(),
		decimals: make(map[common.Address]uint8),
	}
}

// Fetch returns the latest answer of the aggregator at feedID scaled by its decimals.
func (c *Chainlink) Fetch(ctx context.Context, feedID string) (float64, error) {
	if c.opts.RPCURL == "" {
		return 0, fmt.Errorf("%w: ethereum rpc url not configured", ErrFeedUnavailable)
	}
	if !common.IsHexAddress(feedID) {
		return 0, fmt.Errorf("%w: aggregator address %q is not a hex address", ErrFeedDataMissing, feedID)
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: dial rpc: %v", ErrFeedUnavailable, err)
	}

	addr := common.HexToAddress(feedID)

	places, err := c.aggregatorDecimals(ctx, client, addr)
	if err != nil {
		return 0, err
	}

	outputs, err := c.call(ctx, client, addr, "latestRoundData")
	if err != nil {
		return 0, err
	}
	if len(outputs) != 5 {
		return 0, fmt.Errorf("%w: unexpected latestRoundData response", ErrFeedDataMissing)
	}

	answer, ok := outputs[1].(*big.Int)
	if !ok || answer == nil {
		return 0, fmt.Errorf("%w: failed to decode latestRoundData answer", ErrFeedDataMissing)
	}
	if answer.Sign() <= 0 {
		return 0, fmt.Errorf("%w: aggregator %s returned non-positive answer", ErrFeedDataMissing, addr.Hex())
	}

	price := decimal.NewFromBigInt(answer, -int32(places))
	return price.InexactFloat64(), nil
}

func (c *Chainlink) aggregatorDecimals(ctx context.Context, client *ethclient.Client, addr common.Address) (uint8, error) {
	c.decimalsMux.Lock()
	places, ok := c.decimals[addr]
	c.decimalsMux.Unlock()
	if ok {
		return places, nil
	}

	outputs, err := c.call(ctx, client, addr, "decimals")
	if err != nil {
		return 0, err
	}
	if len(outputs) != 1 {
		return 0, fmt.Errorf("%w: unexpected decimals response", ErrFeedDataMissing)
	}
	places, ok = outputs[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("%w: failed to decode decimals output", ErrFeedDataMissing)
	}

	c.decimalsMux.Lock()
	c.decimals[addr] = places
	c.decimalsMux.Unlock()

	c.logger.Debug().Str("aggregator", addr.Hex()).Uint8("decimals", places).Msg("cached aggregator decimals")
	return places, nil
}

func (c *Chainlink) call(ctx context.Context, client *ethclient.Client, addr common.Address, method string) ([]interface{}, error) {
	payload, err := aggregatorABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: call %s: %v", ErrFeedUnavailable, method, err)
	}

	outputs, err := aggregatorABI.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack %s: %v", ErrFeedDataMissing, method, err)
	}
	return outputs, nil
}

func (c *Chainlink) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

// Close releases the RPC client, if one was dialled.
func (c *Chainlink) Close() {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

var _ PriceFeed = (*Chainlink)(nil)
