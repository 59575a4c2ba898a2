// Package tradingutils provides small, pure decimal helpers shared by the
// exchange adapters and the signal dispatcher.
package tradingutils

import (
	"github.com/shopspring/decimal"
)

// TruncatePrice truncates (never rounds) a price to the instrument's price
// precision. The exchange contract requires truncation, not rounding: a
// rounded-up value could cross a limit the venue would reject.
func TruncatePrice(price decimal.Decimal, priceDecimals int) decimal.Decimal {
	return price.Truncate(int32(priceDecimals))
}

// TruncateQuantity truncates a size to the instrument's szDecimals.
func TruncateQuantity(qty decimal.Decimal, szDecimals int) decimal.Decimal {
	return qty.Truncate(int32(szDecimals))
}

// RoundPrice rounds a price to the specified decimals; used for display
// purposes only (the read API), never for values headed to the exchange.
func RoundPrice(price decimal.Decimal, priceDecimals int) decimal.Decimal {
	return price.Round(int32(priceDecimals))
}

// RoundQuantity rounds a quantity to the specified decimals; display only.
func RoundQuantity(qty decimal.Decimal, qtyDecimals int) decimal.Decimal {
	return qty.Round(int32(qtyDecimals))
}

// CalculateNetProfit computes realized profit after both legs' trading fees.
func CalculateNetProfit(entryPrice, exitPrice, size decimal.Decimal, isLong bool, feeRate decimal.Decimal) decimal.Decimal {
	var gross decimal.Decimal
	if isLong {
		gross = exitPrice.Sub(entryPrice).Mul(size)
	} else {
		gross = entryPrice.Sub(exitPrice).Mul(size)
	}
	fees := entryPrice.Add(exitPrice).Mul(size).Mul(feeRate)
	return gross.Sub(fees)
}

// SlippagePrice applies a slippage allowance in basis points to a reference
// price in the direction of the given side, before truncation.
func SlippagePrice(referencePrice decimal.Decimal, isBuy bool, slippageBps int) decimal.Decimal {
	bps := decimal.NewFromInt(int64(slippageBps)).Div(decimal.NewFromInt(10_000))
	if isBuy {
		return referencePrice.Mul(decimal.NewFromInt(1).Add(bps))
	}
	return referencePrice.Mul(decimal.NewFromInt(1).Sub(bps))
}
