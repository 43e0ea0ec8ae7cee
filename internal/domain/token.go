package domain

import "strings"

// Token 代币元信息。Address 在 Solana 上是 mint，在 Base 上是 ERC-20 合约地址。
type Token struct {
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	Decimals int    `json:"decimals"`
}

const (
	SolMint  = "So11111111111111111111111111111111111111112"
	UsdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

	DefaultSolanaPair = "SOL/USDC"
	DefaultBasePair   = "WETH/USDC"

	// PaperStartingBalance 纸交易初始 quote 余额，也是 PnL 的固定基线
	PaperStartingBalance = 1000.0
)

// solanaTokens 常用 Solana mint 的精度表；未收录的 mint 通过 RPC 查询
var solanaTokens = map[string]Token{
	SolMint:  {Symbol: "SOL", Address: SolMint, Decimals: 9},
	UsdcMint: {Symbol: "USDC", Address: UsdcMint, Decimals: 6},
	"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB": {Symbol: "USDT", Address: "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", Decimals: 6},
	"JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN":  {Symbol: "JUP", Address: "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN", Decimals: 6},
	"DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263": {Symbol: "BONK", Address: "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263", Decimals: 5},
}

// LookupSolanaToken 按 mint 查询已知代币
func LookupSolanaToken(mint string) (Token, bool) {
	t, ok := solanaTokens[strings.TrimSpace(mint)]
	return t, ok
}

// SplitPair "SOL/USDC" -> ("SOL", "USDC")
func SplitPair(pair string) (base, quote string) {
	parts := strings.SplitN(pair, "/", 2)
	if len(parts) != 2 {
		return strings.TrimSpace(pair), ""
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

// LookupSolanaSymbol 按符号查询已知代币（大小写不敏感）
func LookupSolanaSymbol(symbol string) (Token, bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	for _, t := range solanaTokens {
		if t.Symbol == symbol {
			return t, true
		}
	}
	return Token{}, false
}
