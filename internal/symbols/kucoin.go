package symbols

import "strings"

// kucoinCanonical converts KuCoin futures symbols:
//
//	XBTUSDTM -> BTCUSDT
//	ETH-USDTM -> ETHUSDT
func kucoinCanonical(sym string) string {
	sym = strings.ReplaceAll(sym, "-", "")
	sym = strings.TrimSuffix(sym, "M")
	if strings.HasPrefix(sym, "XBT") {
		sym = "BTC" + sym[3:]
	}
	return sym
}
