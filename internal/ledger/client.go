package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	stakingABIJSON = `[
{"inputs":[],"name":"totalStaked","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"totalRewardsDistributed","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"getStakeInfo","outputs":[{"internalType":"uint256","name":"amount","type":"uint256"},{"internalType":"uint256","name":"lifetimeRewards","type":"uint256"},{"internalType":"uint256","name":"pendingRewards","type":"uint256"},{"internalType":"uint256","name":"lastStakeTime","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"getUnbondingSchedule","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"},{"internalType":"uint256[]","name":"releaseTimes","type":"uint256[]"}],"stateMutability":"view","type":"function"}
]`

	// geth reports reverted eth_call executions with this JSON-RPC code.
	revertErrorCode = 3
)

var (
	stakingABI abi.ABI

	errReverted = errors.New("execution reverted")
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(stakingABIJSON))
	if err != nil {
		panic("failed to parse staking ABI: " + err.Error())
	}
	stakingABI = parsed
}

// Caller is the subset of ethclient used by Client.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Options parameterise the staking contract reader.
type Options struct {
	RPCURL         string
	StakingAddress string
	Timeout        time.Duration
	TokenDecimals  int32
	NativeDecimals int32
}

// Client reads the staking contract through go-ethereum.
type Client struct {
	opts    Options
	logger  zerolog.Logger
	caller  Caller
	staking common.Address
	closer  func()
}

// Dial validates options and constructs the RPC client. It is the one
// startup step allowed to abort the process.
func Dial(ctx context.Context, opts Options, logger zerolog.Logger) (*Client, error) {
	if opts.RPCURL == "" {
		return nil, errors.New("ledger rpc url not configured")
	}
	if !common.IsHexAddress(opts.StakingAddress) {
		return nil, fmt.Errorf("invalid staking contract address %q", opts.StakingAddress)
	}

	eth, err := ethclient.DialContext(ctx, opts.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial ledger rpc: %w", err)
	}

	client := NewClient(eth, opts, logger)
	client.closer = eth.Close
	return client, nil
}

// NewClient wraps an existing caller.
func NewClient(caller Caller, opts Options, logger zerolog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "ledger").Logger(),
		caller:  caller,
		staking: common.HexToAddress(opts.StakingAddress),
	}
}

// Close releases the RPC connection.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// TotalStaked returns the contract's total staked amount in token units.
func (c *Client) TotalStaked(ctx context.Context) (decimal.Decimal, error) {
	value, err := c.callUint(ctx, "totalStaked")
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromBigInt(value, -c.opts.TokenDecimals), nil
}

// TotalRewardsDistributed returns cumulative rewards in native units.
func (c *Client) TotalRewardsDistributed(ctx context.Context) (decimal.Decimal, error) {
	value, err := c.callUint(ctx, "totalRewardsDistributed")
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromBigInt(value, -c.opts.NativeDecimals), nil
}

// NativeBalance returns an address's native-currency balance.
func (c *Client) NativeBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	if !common.IsHexAddress(address) {
		return decimal.Decimal{}, fmt.Errorf("invalid address %q", address)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	balance, err := c.caller.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return decimal.Decimal{}, &ReadError{Op: "balance", Err: err}
	}
	return decimal.NewFromBigInt(balance, -c.opts.NativeDecimals), nil
}

// StakePosition reads getStakeInfo for an address. A revert maps to ErrNotStaker;
// any other failure is a *ReadError.
func (c *Client) StakePosition(ctx context.Context, address string) (StakePosition, error) {
	if !common.IsHexAddress(address) {
		return StakePosition{}, fmt.Errorf("invalid address %q", address)
	}

	outputs, err := c.call(ctx, "getStakeInfo", common.HexToAddress(address))
	if errors.Is(err, errReverted) {
		c.logger.Debug().Str("address", address).Msg("getStakeInfo reverted")
		return StakePosition{}, ErrNotStaker
	}
	if err != nil {
		return StakePosition{}, err
	}
	if len(outputs) != 4 {
		return StakePosition{}, &ReadError{Op: "getStakeInfo", Err: fmt.Errorf("unexpected output count %d", len(outputs))}
	}

	values := make([]*big.Int, len(outputs))
	for i, out := range outputs {
		v, ok := out.(*big.Int)
		if !ok {
			return StakePosition{}, &ReadError{Op: "getStakeInfo", Err: fmt.Errorf("output %d has type %T", i, out)}
		}
		values[i] = v
	}

	pos := StakePosition{
		Amount:                decimal.NewFromBigInt(values[0], -c.opts.TokenDecimals),
		LifetimeRewardsEarned: decimal.NewFromBigInt(values[1], -c.opts.NativeDecimals),
		PendingRewards:        decimal.NewFromBigInt(values[2], -c.opts.NativeDecimals),
	}
	if values[3].Sign() > 0 {
		ts := time.Unix(values[3].Int64(), 0).UTC()
		pos.LastStakeTime = &ts
	}
	return pos, nil
}

// UnbondingSchedule reads the pending withdrawals for an address.
func (c *Client) UnbondingSchedule(ctx context.Context, address string) ([]UnbondingEntry, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid address %q", address)
	}

	outputs, err := c.call(ctx, "getUnbondingSchedule", common.HexToAddress(address))
	if errors.Is(err, errReverted) {
		return nil, ErrNotStaker
	}
	if err != nil {
		return nil, err
	}
	if len(outputs) != 2 {
		return nil, &ReadError{Op: "getUnbondingSchedule", Err: fmt.Errorf("unexpected output count %d", len(outputs))}
	}

	amounts, ok := outputs[0].([]*big.Int)
	if !ok {
		return nil, &ReadError{Op: "getUnbondingSchedule", Err: fmt.Errorf("amounts has type %T", outputs[0])}
	}
	releases, ok := outputs[1].([]*big.Int)
	if !ok {
		return nil, &ReadError{Op: "getUnbondingSchedule", Err: fmt.Errorf("release times has type %T", outputs[1])}
	}
	if len(amounts) != len(releases) {
		return nil, &ReadError{Op: "getUnbondingSchedule", Err: fmt.Errorf("length mismatch %d != %d", len(amounts), len(releases))}
	}

	entries := make([]UnbondingEntry, 0, len(amounts))
	for i := range amounts {
		entries = append(entries, UnbondingEntry{
			Amount:      decimal.NewFromBigInt(amounts[i], -c.opts.TokenDecimals),
			ReleaseTime: time.Unix(releases[i].Int64(), 0).UTC(),
		})
	}
	return entries, nil
}

// BlockNumber returns the latest block height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	block, err := c.caller.BlockNumber(ctx)
	if err != nil {
		return 0, &ReadError{Op: "blockNumber", Err: err}
	}
	return block, nil
}

func (c *Client) callUint(ctx context.Context, method string) (*big.Int, error) {
	outputs, err := c.call(ctx, method)
	if err != nil {
		return nil, err
	}
	if len(outputs) != 1 {
		return nil, &ReadError{Op: method, Err: fmt.Errorf("unexpected output count %d", len(outputs))}
	}
	value, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, &ReadError{Op: method, Err: fmt.Errorf("output has type %T", outputs[0])}
	}
	return value, nil
}

func (c *Client) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	payload, err := stakingABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	res, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &c.staking, Data: payload}, nil)
	if err != nil {
		if isRevert(err) {
			return nil, &ReadError{Op: method, Err: fmt.Errorf("%w: %v", errReverted, err)}
		}
		return nil, &ReadError{Op: method, Err: err}
	}

	outputs, err := stakingABI.Unpack(method, res)
	if err != nil {
		return nil, &ReadError{Op: method, Err: fmt.Errorf("unpack: %w", err)}
	}
	return outputs, nil
}

// isRevert reports whether an eth_call failed inside contract execution
// rather than in transport.
func isRevert(err error) bool {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == revertErrorCode {
		return true
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) && dataErr.ErrorData() != nil {
		return true
	}
	return false
}

var _ Reader = (*Client)(nil)
