package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testStaking = "0x00000000000000000000000000000000000000aa"

type revertError struct{}

func (revertError) Error() string          { return "execution reverted" }
func (revertError) ErrorCode() int         { return 3 }
func (revertError) ErrorData() interface{} { return "0x" }

type fakeCaller struct {
	outputs map[string][]interface{}
	errs    map[string]error
	balance *big.Int
	block   uint64
	calls   []string
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	method, err := stakingABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	f.calls = append(f.calls, method.Name)
	if err := f.errs[method.Name]; err != nil {
		return nil, err
	}
	return method.Outputs.Pack(f.outputs[method.Name]...)
}

func (f *fakeCaller) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeCaller) BlockNumber(context.Context) (uint64, error) {
	return f.block, nil
}

func wei(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func newTestClient(caller Caller) *Client {
	return NewClient(caller, Options{StakingAddress: testStaking, TokenDecimals: 18, NativeDecimals: 18}, zerolog.Nop())
}

func TestClientTotals(t *testing.T) {
	caller := &fakeCaller{
		outputs: map[string][]interface{}{
			"totalStaked":             {wei(500)},
			"totalRewardsDistributed": {wei(3)},
		},
		balance: wei(7),
		block:   42,
	}
	client := newTestClient(caller)
	ctx := context.Background()

	staked, err := client.TotalStaked(ctx)
	require.NoError(t, err)
	assert.True(t, staked.Equal(decimal.NewFromInt(500)), staked.String())

	rewards, err := client.TotalRewardsDistributed(ctx)
	require.NoError(t, err)
	assert.True(t, rewards.Equal(decimal.NewFromInt(3)))

	balance, err := client.NativeBalance(ctx, testStaking)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(7)))

	block, err := client.BlockNumber(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 42, block)
}

func TestClientStakePosition(t *testing.T) {
	ts := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	caller := &fakeCaller{outputs: map[string][]interface{}{
		"getStakeInfo":         {wei(100), wei(2), big.NewInt(0), big.NewInt(ts.Unix())},
		"getUnbondingSchedule": {[]*big.Int{wei(5), wei(6)}, []*big.Int{big.NewInt(ts.Unix()), big.NewInt(ts.Unix() + 60)}},
	}}
	client := newTestClient(caller)

	pos, err := client.StakePosition(context.Background(), "0x00000000000000000000000000000000000000bb")
	require.NoError(t, err)
	assert.True(t, pos.Amount.Equal(decimal.NewFromInt(100)))
	assert.True(t, pos.LifetimeRewardsEarned.Equal(decimal.NewFromInt(2)))
	assert.True(t, pos.PendingRewards.IsZero())
	require.NotNil(t, pos.LastStakeTime)
	assert.True(t, pos.LastStakeTime.Equal(ts))

	schedule, err := client.UnbondingSchedule(context.Background(), "0x00000000000000000000000000000000000000bb")
	require.NoError(t, err)
	require.Len(t, schedule, 2)
	assert.True(t, TotalUnbonding(schedule).Equal(decimal.NewFromInt(11)))
}

func TestClientZeroLastStakeTimeIsNil(t *testing.T) {
	caller := &fakeCaller{outputs: map[string][]interface{}{
		"getStakeInfo": {big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0)},
	}}
	pos, err := newTestClient(caller).StakePosition(context.Background(), "0x00000000000000000000000000000000000000bb")
	require.NoError(t, err)
	assert.Nil(t, pos.LastStakeTime)
}

func TestClientRevertIsNotStaker(t *testing.T) {
	caller := &fakeCaller{errs: map[string]error{
		"getStakeInfo":         revertError{},
		"getUnbondingSchedule": revertError{},
	}}
	client := newTestClient(caller)

	_, err := client.StakePosition(context.Background(), "0x00000000000000000000000000000000000000bb")
	assert.True(t, errors.Is(err, ErrNotStaker), "got %v", err)

	_, err = client.UnbondingSchedule(context.Background(), "0x00000000000000000000000000000000000000bb")
	assert.True(t, errors.Is(err, ErrNotStaker), "got %v", err)
}

func TestClientTransportFaultIsReadError(t *testing.T) {
	caller := &fakeCaller{errs: map[string]error{
		"getStakeInfo": errors.New("connection reset by peer"),
		"totalStaked":  revertError{},
	}}
	client := newTestClient(caller)

	_, err := client.StakePosition(context.Background(), "0x00000000000000000000000000000000000000bb")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotStaker))
	var readErr *ReadError
	require.True(t, errors.As(err, &readErr))
	assert.Equal(t, "getStakeInfo", readErr.Op)

	// a revert on an aggregate read is a fault, not an absence
	_, err = client.TotalStaked(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotStaker))
}

func TestDialValidatesOptions(t *testing.T) {
	_, err := Dial(context.Background(), Options{}, zerolog.Nop())
	assert.Error(t, err)

	_, err = Dial(context.Background(), Options{RPCURL: "http://127.0.0.1:8545", StakingAddress: "nope"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestClientRejectsMalformedAddress(t *testing.T) {
	client := newTestClient(&fakeCaller{})
	_, err := client.StakePosition(context.Background(), "not-an-address")
	assert.Error(t, err)
}
