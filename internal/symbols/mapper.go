package symbols

import "strings"

// Canonical converts a venue-specific perpetual symbol to the canonical
// uppercase form without separators (BTCUSDT), so legs of a pair quoted on
// different venues compare equal.
// Supported venues: binance, bybit, bitget, kucoin, coinbase, kraken, okx.
func Canonical(venue, sym string) string {
	sym = strings.ToUpper(strings.TrimSpace(sym))
	switch strings.ToLower(venue) {
	case "binance", "bybit":
		sym = stripMultiplier(sym)
	case "bitget":
		// v1 mix symbols carry the product line after an underscore
		if i := strings.IndexByte(sym, '_'); i > 0 {
			sym = sym[:i]
		}
		sym = stripMultiplier(sym)
	case "coinbase":
		sym = strings.ReplaceAll(sym, "-", "")
	case "kraken":
		sym = strings.ReplaceAll(sym, "/", "")
		sym = strings.ReplaceAll(sym, "-", "")
	case "kucoin":
		sym = kucoinCanonical(sym)
	case "okx":
		sym = strings.TrimSuffix(sym, "-SWAP")
		sym = strings.ReplaceAll(sym, "-", "")
	}
	return sym
}

// Match reports whether a venue symbol refers to the canonical instrument.
func Match(venue, sym, canonical string) bool {
	return Canonical(venue, sym) == Canonical("", canonical)
}

func stripMultiplier(sym string) string {
	switch {
	case strings.HasPrefix(sym, "1000"):
		return sym[4:]
	case strings.HasPrefix(sym, "SHIB1000"):
		return "SHIB" + sym[8:]
	}
	return sym
}
