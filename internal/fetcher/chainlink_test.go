package fetcher

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/shopspring/decimal"
)

type fakeAggregator struct {
	answer    *big.Int
	updatedAt time.Time
	err       error
}

func (f *fakeAggregator) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	method, err := aggregatorABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "decimals":
		return method.Outputs.Pack(uint8(8))
	case "latestRoundData":
		round := big.NewInt(42)
		return method.Outputs.Pack(round, f.answer, big.NewInt(f.updatedAt.Unix()), big.NewInt(f.updatedAt.Unix()), round)
	}
	return nil, errors.New("unexpected method")
}

func newTestChainlink(caller ethereum.ContractCaller) *Chainlink {
	c := NewChainlink(ChainlinkOptions{FeedAddress: "0x214eD9Da11D2fbe465a6fc601a91E62EbEc1a0D6", Timeout: time.Second}, noopLogger())
	c.caller = caller
	return c
}

func TestChainlinkMissingConfig(t *testing.T) {
	c := NewChainlink(ChainlinkOptions{}, noopLogger())
	if q := c.FetchBenchmark(context.Background(), mustDate("2025-11-27")); q.OK() {
		t.Fatal("未配置 RPC 时应报错")
	}

	c = NewChainlink(ChainlinkOptions{RPCURL: "http://localhost"}, noopLogger())
	if q := c.FetchBenchmark(context.Background(), mustDate("2025-11-27")); q.OK() {
		t.Fatal("缺少 feed 地址应报错")
	}
}

func TestChainlinkLatestRound(t *testing.T) {
	date := mustDate("2025-11-27")
	answer := big.NewInt(265035000000) // 2650.35 with 8 decimals
	c := newTestChainlink(&fakeAggregator{answer: answer, updatedAt: date.Add(15 * time.Hour)})

	q := c.FetchBenchmark(context.Background(), date)
	if !q.OK() {
		t.Fatalf("不应报错: %v", q.Err)
	}
	if !q.Price.Equal(decimal.RequireFromString("2650.35")) {
		t.Fatalf("期望 2650.35, 实际 %s", q.Price)
	}
}

func TestChainlinkStaleRound(t *testing.T) {
	date := mustDate("2025-11-27")
	c := newTestChainlink(&fakeAggregator{answer: big.NewInt(265035000000), updatedAt: date.Add(-20 * time.Hour)})

	if q := c.FetchBenchmark(context.Background(), date); q.OK() {
		t.Fatal("非目标日期更新的轮次应失败")
	}
}

func TestChainlinkCallError(t *testing.T) {
	c := newTestChainlink(&fakeAggregator{err: errors.New("rpc down")})
	if q := c.FetchBenchmark(context.Background(), mustDate("2025-11-27")); q.OK() {
		t.Fatal("RPC 错误应返回失败")
	}
}
