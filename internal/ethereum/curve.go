package ethereum

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/kjannette/shares-trader/internal/tradeerr"
)

const explorerTxPrefix = "https://sepolia.etherscan.io/tx/"

// ContractCaller is the read surface Curve needs from a node. *Client
// satisfies it; tests substitute an in-memory contract.
type ContractCaller interface {
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error)
}

// Curve reads and encodes calls for one bonding-curve token contract.
// Nothing is cached; every method is a fresh eth_call.
type Curve struct {
	caller ContractCaller
	addr   common.Address
	abi    abi.ABI
}

func NewCurve(caller ContractCaller, tokenAddr string) (*Curve, error) {
	parsed, err := abi.JSON(curveABIJSON())
	if err != nil {
		return nil, fmt.Errorf("parse curve ABI: %w", err)
	}
	return &Curve{
		caller: caller,
		addr:   common.HexToAddress(tokenAddr),
		abi:    parsed,
	}, nil
}

func (c *Curve) Address() common.Address { return c.addr }

func (c *Curve) ExplorerURL(txHash string) string {
	return explorerTxPrefix + txHash
}

func (c *Curve) TokensInCurve(ctx context.Context) (*big.Int, error) {
	return c.callUint(ctx, "tokensInCurve")
}

func (c *Curve) BalanceOf(ctx context.Context, user common.Address) (*big.Int, error) {
	return c.callUint(ctx, "balanceOf", user)
}

// CurrentPriceMicroUSD is the spot token price in 8-decimal USD.
func (c *Curve) CurrentPriceMicroUSD(ctx context.Context) (*big.Int, error) {
	return c.callUint(ctx, "getCurrentPriceMicroUSD")
}

// EthUsdPrice is the oracle ETH price in 8-decimal USD.
func (c *Curve) EthUsdPrice(ctx context.Context) (*big.Int, error) {
	return c.callUint(ctx, "getEthUsdPrice")
}

func (c *Curve) BuyFeeBps(ctx context.Context) (*big.Int, error) {
	return c.callUint(ctx, "BUY_FEE")
}

func (c *Curve) SellFeeBps(ctx context.Context, tokens *big.Int) (*big.Int, error) {
	return c.callUint(ctx, "calculateSellFee", tokens)
}

func (c *Curve) TokensForEth(ctx context.Context, wei *big.Int) (*big.Int, error) {
	return c.callUint(ctx, "getTokensForEth", wei)
}

func (c *Curve) EthForTokens(ctx context.Context, tokens *big.Int) (*big.Int, error) {
	return c.callUint(ctx, "getEthForTokens", tokens)
}

func (c *Curve) EthNeededForBuy(ctx context.Context, tokens *big.Int) (*big.Int, error) {
	return c.callUint(ctx, "getEthNeededForBuy", tokens)
}

// DailySellLimitUSD is the per-user rolling limit in 8-decimal USD.
func (c *Curve) DailySellLimitUSD(ctx context.Context) (*big.Int, error) {
	return c.callUint(ctx, "dailySellLimitUsd")
}

// LastSellTime is the user's last sell as epoch seconds, 0 if never.
func (c *Curve) LastSellTime(ctx context.Context, user common.Address) (*big.Int, error) {
	return c.callUint(ctx, "lastSellTime", user)
}

// ContractETHBalance is the ETH the contract holds for sell payouts.
func (c *Curve) ContractETHBalance(ctx context.Context) (*big.Int, error) {
	bal, err := c.caller.BalanceAt(ctx, c.addr)
	if err != nil {
		return nil, tradeerr.Transport("eth_getBalance", err)
	}
	return bal, nil
}

func (c *Curve) PackBuy(minTokensOut *big.Int) ([]byte, error) {
	data, err := c.abi.Pack("buy", minTokensOut)
	if err != nil {
		return nil, fmt.Errorf("pack buy: %w", err)
	}
	return data, nil
}

func (c *Curve) PackSell(tokensIn, minEthOut *big.Int) ([]byte, error) {
	data, err := c.abi.Pack("sell", tokensIn, minEthOut)
	if err != nil {
		return nil, fmt.Errorf("pack sell: %w", err)
	}
	return data, nil
}

// --- helpers ---

func (c *Curve) callUint(ctx context.Context, method string, args ...any) (*big.Int, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := c.caller.CallContract(ctx, c.addr, data)
	if err != nil {
		return nil, tradeerr.Transport("eth_call "+method, err)
	}
	vals, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("unpack %s: expected 1 value, got %d", method, len(vals))
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack %s: unexpected type %T", method, vals[0])
	}
	return v, nil
}
