// Package validate checks inbound price and quote parameters before anything is sent upstream.
package validate

import (
	"math/big"
	"net/url"
	"regexp"
	"strconv"

	"github.com/ethereum/go-ethereum/common/math"

	"github.com/swapgate/swapgate/internal/core"
)

var (
	addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	integerPattern = regexp.MustCompile(`^\d+$`)
)

const maxFeeBps = 10000

// Schema describes which amount fields an endpoint accepts.
type Schema struct {
	Name string
	// RequireSell makes sellAmount mandatory and rejects buyAmount.
	RequireSell bool
}

var (
	PriceSchema = Schema{Name: "price"}
	QuoteSchema = Schema{Name: "quote", RequireSell: true}
)

var fieldOrder = []string{
	"chainId", "sellToken", "buyToken", "sellAmount", "buyAmount", "taker",
	"swapFeeRecipient", "swapFeeBps", "swapFeeToken", "tradeSurplusRecipient",
}

var addressFields = map[string]bool{
	"sellToken":             true,
	"buyToken":              true,
	"taker":                 true,
	"swapFeeRecipient":      true,
	"swapFeeToken":          true,
	"tradeSurplusRecipient": true,
}

var amountFields = map[string]bool{
	"sellAmount": true,
	"buyAmount":  true,
}

// Validate checks raw against schema. Every violation is reported in a single *core.ValidationError.
func Validate(schema Schema, raw url.Values) (core.ValidatedSwapParams, error) {
	violations := make(map[string]string)
	get := func(name string) string {
		vals := raw[name]
		if len(vals) > 1 {
			violations[name] = "must be given once"
		}
		if len(vals) == 0 {
			return ""
		}
		return vals[0]
	}

	params := core.ValidatedSwapParams{
		SellToken:             get("sellToken"),
		BuyToken:              get("buyToken"),
		SellAmount:            get("sellAmount"),
		BuyAmount:             get("buyAmount"),
		Taker:                 get("taker"),
		SwapFeeRecipient:      get("swapFeeRecipient"),
		SwapFeeBps:            get("swapFeeBps"),
		SwapFeeToken:          get("swapFeeToken"),
		TradeSurplusRecipient: get("tradeSurplusRecipient"),
	}

	chainID := get("chainId")
	switch {
	case chainID == "":
		violations["chainId"] = "is required"
	case !integerPattern.MatchString(chainID):
		violations["chainId"] = "must be a positive integer"
	default:
		id, err := strconv.ParseInt(chainID, 10, 64)
		if err != nil || id <= 0 {
			violations["chainId"] = "must be a positive integer"
		} else {
			params.ChainID = id
		}
	}

	values := map[string]string{
		"sellToken":             params.SellToken,
		"buyToken":              params.BuyToken,
		"sellAmount":            params.SellAmount,
		"buyAmount":             params.BuyAmount,
		"taker":                 params.Taker,
		"swapFeeRecipient":      params.SwapFeeRecipient,
		"swapFeeBps":            params.SwapFeeBps,
		"swapFeeToken":          params.SwapFeeToken,
		"tradeSurplusRecipient": params.TradeSurplusRecipient,
	}

	for name := range addressFields {
		value := values[name]
		if value == "" {
			continue
		}
		if !addressPattern.MatchString(value) {
			violations[name] = "must be a 0x-prefixed 40 character hex address"
		}
	}
	if params.SellToken == "" {
		violations["sellToken"] = "is required"
	}
	if params.BuyToken == "" {
		violations["buyToken"] = "is required"
	}

	for name := range amountFields {
		if msg := checkAmount(values[name]); msg != "" {
			violations[name] = msg
		}
	}

	if params.SwapFeeBps != "" {
		if !integerPattern.MatchString(params.SwapFeeBps) {
			violations["swapFeeBps"] = "must be a non-negative integer"
		} else if bps, err := strconv.Atoi(params.SwapFeeBps); err != nil || bps > maxFeeBps {
			violations["swapFeeBps"] = "must not exceed 10000"
		}
	}

	if schema.RequireSell {
		if params.SellAmount == "" {
			violations["sellAmount"] = "is required"
		}
		if params.BuyAmount != "" {
			violations["buyAmount"] = "is not accepted; quote by sellAmount"
		}
	} else {
		switch {
		case params.SellAmount == "" && params.BuyAmount == "":
			violations["sellAmount"] = "is required unless buyAmount is set"
		case params.SellAmount != "" && params.BuyAmount != "":
			violations["buyAmount"] = "only one of sellAmount or buyAmount may be set"
		}
	}

	if len(violations) > 0 {
		return core.ValidatedSwapParams{}, core.NewValidationError(violations, fieldOrder)
	}

	params.Passthrough = passthrough(raw)
	return params, nil
}

func checkAmount(value string) string {
	if value == "" {
		return ""
	}
	if !integerPattern.MatchString(value) {
		return "must be a non-negative integer in base units"
	}
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok || amount.Cmp(math.MaxBig256) > 0 {
		return "exceeds uint256"
	}
	return ""
}

func passthrough(raw url.Values) url.Values {
	var extra url.Values
	for key, vals := range raw {
		if isKnown(key) {
			continue
		}
		if extra == nil {
			extra = url.Values{}
		}
		extra[key] = append([]string(nil), vals...)
	}
	return extra
}

func isKnown(key string) bool {
	for _, name := range fieldOrder {
		if name == key {
			return true
		}
	}
	return false
}
