package ethereum

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/kjannette/shares-trader/internal/tradeerr"
)

const testToken = "0x2222222222222222222222222222222222222222"

// fakeContract answers eth_calls by decoding the selector against the curve
// ABI and packing whatever the handler returns.
type fakeContract struct {
	t        *testing.T
	abi      abi.ABI
	handlers map[string]func(args []any) *big.Int
	balance  *big.Int
	callErr  error
	calls    []string
}

func newFakeContract(t *testing.T) *fakeContract {
	parsed, err := abi.JSON(curveABIJSON())
	if err != nil {
		t.Fatalf("parse ABI: %v", err)
	}
	return &fakeContract{t: t, abi: parsed, handlers: map[string]func([]any) *big.Int{}}
}

func (f *fakeContract) CallContract(_ context.Context, to common.Address, data []byte) ([]byte, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	if to != common.HexToAddress(testToken) {
		f.t.Fatalf("call sent to %s", to.Hex())
	}
	method, err := f.abi.MethodById(data[:4])
	if err != nil {
		f.t.Fatalf("unknown selector %x", data[:4])
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		f.t.Fatalf("unpack %s args: %v", method.Name, err)
	}
	f.calls = append(f.calls, method.Name)
	h, ok := f.handlers[method.Name]
	if !ok {
		f.t.Fatalf("no handler for %s", method.Name)
	}
	return method.Outputs.Pack(h(args))
}

func (f *fakeContract) BalanceAt(_ context.Context, addr common.Address) (*big.Int, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	return f.balance, nil
}

func TestCurve_ReadsDecodeUint(t *testing.T) {
	fake := newFakeContract(t)
	fake.handlers["tokensInCurve"] = func([]any) *big.Int { return big.NewInt(123456) }
	fake.handlers["getEthForTokens"] = func(args []any) *big.Int {
		// echo input * 2
		return new(big.Int).Mul(args[0].(*big.Int), big.NewInt(2))
	}

	curve, err := NewCurve(fake, testToken)
	if err != nil {
		t.Fatal(err)
	}

	tokens, err := curve.TokensInCurve(context.Background())
	if err != nil {
		t.Fatalf("TokensInCurve: %v", err)
	}
	if tokens.Int64() != 123456 {
		t.Fatalf("expected 123456, got %s", tokens)
	}

	eth, err := curve.EthForTokens(context.Background(), big.NewInt(21))
	if err != nil {
		t.Fatalf("EthForTokens: %v", err)
	}
	if eth.Int64() != 42 {
		t.Fatalf("expected argument to round-trip through ABI, got %s", eth)
	}
}

func TestCurve_AddressArgument(t *testing.T) {
	user := common.HexToAddress("0x3333333333333333333333333333333333333333")
	fake := newFakeContract(t)
	fake.handlers["lastSellTime"] = func(args []any) *big.Int {
		if args[0].(common.Address) != user {
			t.Fatalf("wrong user passed: %v", args[0])
		}
		return big.NewInt(1700000000)
	}

	curve, _ := NewCurve(fake, testToken)
	ts, err := curve.LastSellTime(context.Background(), user)
	if err != nil {
		t.Fatal(err)
	}
	if ts.Int64() != 1700000000 {
		t.Fatalf("got %s", ts)
	}
}

func TestCurve_CallFailureIsTransportError(t *testing.T) {
	fake := newFakeContract(t)
	fake.callErr = errors.New("connection refused")

	curve, _ := NewCurve(fake, testToken)
	_, err := curve.EthUsdPrice(context.Background())

	var te *tradeerr.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %T: %v", err, err)
	}
	if te.Op != "eth_call getEthUsdPrice" {
		t.Fatalf("unexpected op %q", te.Op)
	}

	if _, err := curve.ContractETHBalance(context.Background()); !tradeerr.IsRetriable(err) {
		t.Fatalf("balance failure should be retriable, got %v", err)
	}
}

func TestCurve_PackSellEncodesBothArgs(t *testing.T) {
	curve, _ := NewCurve(newFakeContract(t), testToken)

	data, err := curve.PackSell(big.NewInt(5), big.NewInt(7))
	if err != nil {
		t.Fatal(err)
	}
	method, err := curve.abi.MethodById(data[:4])
	if err != nil || method.Name != "sell" {
		t.Fatalf("expected sell selector, got %v (%v)", method, err)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		t.Fatal(err)
	}
	if args[0].(*big.Int).Int64() != 5 || args[1].(*big.Int).Int64() != 7 {
		t.Fatalf("unexpected args %v", args)
	}
}
