package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ErrReadOnly is returned by SignAndSend when no private key was configured.
var ErrReadOnly = errors.New("ethereum client is read-only: no private key configured")

type Client struct {
	rpc        *ethclient.Client
	privateKey *ecdsa.PrivateKey
	wallet     common.Address
	chainID    *big.Int
	gasLimit   uint64
	gasMul     float64
}

// NewClient dials the RPC endpoint. An empty privateKeyHex yields a client
// that can read but not send.
func NewClient(rpcURL, privateKeyHex string, chainID int64, gasLimit int, gasMultiplier float64) (*Client, error) {
	rpc, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial RPC: %w", err)
	}

	c := &Client{
		rpc:      rpc,
		chainID:  big.NewInt(chainID),
		gasLimit: uint64(gasLimit),
		gasMul:   gasMultiplier,
	}

	if privateKeyHex == "" {
		return c, nil
	}

	pk, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		rpc.Close()
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	c.privateKey = pk
	c.wallet = crypto.PubkeyToAddress(pk.PublicKey)
	return c, nil
}

func (c *Client) WalletAddress() common.Address { return c.wallet }
func (c *Client) CanSign() bool                 { return c.privateKey != nil }
func (c *Client) Close()                        { c.rpc.Close() }

// BalanceAt returns the latest ETH balance of addr in wei.
func (c *Client) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	return c.rpc.BalanceAt(ctx, addr, nil)
}

func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	mul := new(big.Float).SetFloat64(c.gasMul)
	adjusted := new(big.Float).Mul(new(big.Float).SetInt(price), mul)
	result, _ := adjusted.Int(nil)
	return result, nil
}

// SignAndSend estimates gas, signs a legacy transaction and broadcasts it,
// returning the tx hash. Estimation runs the call against pending state, so
// a trade that would revert fails here with the contract's revert reason.
func (c *Client) SignAndSend(ctx context.Context, to common.Address, value *big.Int, data []byte) (string, error) {
	if c.privateKey == nil {
		return "", ErrReadOnly
	}

	estimated, err := c.rpc.EstimateGas(ctx, geth.CallMsg{
		From:  c.wallet,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return "", fmt.Errorf("estimate gas: %w", err)
	}
	gas := c.gasLimit
	if estimated > gas {
		gas = estimated + estimated/5
	}

	nonce, err := c.rpc.PendingNonceAt(ctx, c.wallet)
	if err != nil {
		return "", fmt.Errorf("get nonce: %w", err)
	}
	gasPrice, err := c.GasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("get gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}

	if err := c.rpc.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send tx: %w", err)
	}

	return signed.Hash().Hex(), nil
}

// CallContract performs a read-only eth_call against the latest block.
func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return c.rpc.CallContract(ctx, geth.CallMsg{To: &to, Data: data}, nil)
}
