package models

// AssetInfo describes one member of the fixed asset catalogue exposed by
// GET /api/assets.
type AssetInfo struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals int    `json:"decimals"`
	Type     string `json:"type"`
}

// Catalogue is the fixed set of assets this exchange instance knows about.
// USDC is additionally the hard-coded quote asset (QuoteAsset).
var Catalogue = []AssetInfo{
	{Symbol: "USDC", Name: "USD Coin", Decimals: 6, Type: "stablecoin"},
	{Symbol: "USDT", Name: "Tether USD", Decimals: 6, Type: "stablecoin"},
	{Symbol: "ETH", Name: "Ether", Decimals: 18, Type: "crypto"},
	{Symbol: "BTC", Name: "Bitcoin", Decimals: 8, Type: "crypto"},
	{Symbol: "DAI", Name: "Dai Stablecoin", Decimals: 18, Type: "stablecoin"},
}

// IsKnownAsset reports whether symbol is a member of the catalogue.
func IsKnownAsset(symbol string) bool {
	for _, a := range Catalogue {
		if a.Symbol == symbol {
			return true
		}
	}
	return false
}

// AssetDecimals returns the declared decimal scale for symbol, or 0 if the
// asset is not in the catalogue.
func AssetDecimals(symbol string) int {
	for _, a := range Catalogue {
		if a.Symbol == symbol {
			return a.Decimals
		}
	}
	return 0
}
