package ethereum

import (
	"io"
	"strings"
)

// Minimal ABI for the artist shares bonding-curve token. Only the methods we call.

func curveABIJSON() io.Reader {
	return strings.NewReader(`[
		{"name": "tokensInCurve", "type": "function", "stateMutability": "view",
			"inputs": [], "outputs": [{"name": "", "type": "uint256"}]},
		{"name": "balanceOf", "type": "function", "stateMutability": "view",
			"inputs": [{"name": "account", "type": "address"}],
			"outputs": [{"name": "", "type": "uint256"}]},
		{"name": "getCurrentPriceMicroUSD", "type": "function", "stateMutability": "view",
			"inputs": [], "outputs": [{"name": "", "type": "uint256"}]},
		{"name": "getEthUsdPrice", "type": "function", "stateMutability": "view",
			"inputs": [], "outputs": [{"name": "", "type": "uint256"}]},
		{"name": "BUY_FEE", "type": "function", "stateMutability": "view",
			"inputs": [], "outputs": [{"name": "", "type": "uint256"}]},
		{"name": "calculateSellFee", "type": "function", "stateMutability": "view",
			"inputs": [{"name": "tokenAmount", "type": "uint256"}],
			"outputs": [{"name": "", "type": "uint256"}]},
		{"name": "getTokensForEth", "type": "function", "stateMutability": "view",
			"inputs": [{"name": "ethAmount", "type": "uint256"}],
			"outputs": [{"name": "", "type": "uint256"}]},
		{"name": "getEthForTokens", "type": "function", "stateMutability": "view",
			"inputs": [{"name": "tokenAmount", "type": "uint256"}],
			"outputs": [{"name": "", "type": "uint256"}]},
		{"name": "getEthNeededForBuy", "type": "function", "stateMutability": "view",
			"inputs": [{"name": "tokenAmount", "type": "uint256"}],
			"outputs": [{"name": "", "type": "uint256"}]},
		{"name": "dailySellLimitUsd", "type": "function", "stateMutability": "view",
			"inputs": [], "outputs": [{"name": "", "type": "uint256"}]},
		{"name": "lastSellTime", "type": "function", "stateMutability": "view",
			"inputs": [{"name": "", "type": "address"}],
			"outputs": [{"name": "", "type": "uint256"}]},
		{"name": "buy", "type": "function", "stateMutability": "payable",
			"inputs": [{"name": "minTokensOut", "type": "uint256"}], "outputs": []},
		{"name": "sell", "type": "function", "stateMutability": "nonpayable",
			"inputs": [
				{"name": "tokenAmount", "type": "uint256"},
				{"name": "minEthOut",   "type": "uint256"}
			], "outputs": []}
	]`)
}
