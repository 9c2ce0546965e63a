// Package output renders price, quote and swap session results for the CLI.
package output

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/swapgate/swapgate/internal/core"
	"github.com/swapgate/swapgate/internal/tokens"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// SwapView is a price or quote answer together with the tokens it trades.
type SwapView struct {
	Kind     string
	ChainID  int64
	Sell     tokens.Token
	Buy      tokens.Token
	Response *core.SwapResponse
}

// Formatter renders swap results.
type Formatter interface {
	FormatSwap(view *SwapView) (string, error)
	FormatSession(state core.SwapSessionState) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &TableFormatter{Markdown: true}
	default:
		return &TableFormatter{}
	}
}

type field struct {
	name  string
	value string
}

func swapFields(view *SwapView) []field {
	resp := view.Response
	if resp == nil {
		resp = &core.SwapResponse{}
	}

	sellAmount := displayAmount(resp.SellAmount, view.Sell)
	buyAmount := displayAmount(resp.BuyAmount, view.Buy)
	fields := []field{
		{"Chain", fmt.Sprintf("%d", view.ChainID)},
		{"Sell", sellAmount + " " + view.Sell.Symbol},
		{"Buy", buyAmount + " " + view.Buy.Symbol},
		{"Rate", rate(resp, view)},
	}

	var buyTax, sellTax *string
	if resp.TokenMetadata != nil {
		buyTax = resp.TokenMetadata.BuyToken.BuyTaxBps
		sellTax = resp.TokenMetadata.SellToken.SellTaxBps
	}
	fields = append(fields,
		field{view.Buy.Symbol + " buy tax", taxLabel(buyTax)},
		field{view.Sell.Symbol + " sell tax", taxLabel(sellTax)},
	)

	if tx := resp.Transaction; tx != nil {
		if tx.Gas != "" {
			fields = append(fields, field{"Gas", tx.Gas})
		}
		if tx.To != "" {
			fields = append(fields, field{"Settlement", tx.To})
		}
	}
	if view.Kind == "quote" {
		permit := "not required"
		if resp.Permit2.HasTypedData() {
			permit = "signature required"
		}
		fields = append(fields, field{"Permit2", permit})
	}
	return fields
}

func sessionFields(state core.SwapSessionState) []field {
	fields := []field{
		{"Session", state.SessionID},
		{"Phase", string(state.Phase)},
	}
	if state.TransactionHash != "" {
		fields = append(fields, field{"Transaction", state.TransactionHash})
	}
	if r := state.Receipt; r != nil {
		fields = append(fields,
			field{"Block", fmt.Sprintf("%d", r.BlockNumber)},
			field{"Gas used", fmt.Sprintf("%d", r.GasUsed)},
		)
	}
	if state.Err != nil {
		fields = append(fields, field{"Error", core.UserMessage(state.Err)})
	}
	return fields
}

func displayAmount(base string, token tokens.Token) string {
	if base == "" {
		return "-"
	}
	display, err := tokens.FromBaseUnits(base, token.Decimals)
	if err != nil {
		return base
	}
	return display
}

// rate is the buy amount received per whole unit sold.
func rate(resp *core.SwapResponse, view *SwapView) string {
	sell, err := decimal.NewFromString(resp.SellAmount)
	if err != nil || sell.IsZero() {
		return "-"
	}
	buy, err := decimal.NewFromString(resp.BuyAmount)
	if err != nil {
		return "-"
	}
	perUnit := buy.Shift(-view.Buy.Decimals).Div(sell.Shift(-view.Sell.Decimals))
	return fmt.Sprintf("1 %s = %s %s", view.Sell.Symbol, perUnit.Round(6).String(), view.Buy.Symbol)
}

func taxLabel(bps *string) string {
	if bps == nil {
		return "none"
	}
	value, err := decimal.NewFromString(*bps)
	if err != nil {
		return *bps
	}
	if value.IsZero() {
		return "none"
	}
	return fmt.Sprintf("%s bps (%s%%)", value.String(), value.Shift(-2).String())
}
