package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/swapgate/swapgate/internal/config"
	"github.com/swapgate/swapgate/internal/core"
	"github.com/swapgate/swapgate/internal/core/swapclient"
	"github.com/swapgate/swapgate/internal/core/validate"
	"github.com/swapgate/swapgate/internal/output"
	"github.com/swapgate/swapgate/internal/tokens"
)

// tradeFlags are shared by price, quote and swap.
type tradeFlags struct {
	chainID      int64
	sell         string
	buy          string
	amount       string
	taker        string
	proxyURL     string
	outputFormat string
	out          string
}

func (f *tradeFlags) register(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&f.chainID, "chain", 1, "Chain id")
	cmd.Flags().StringVar(&f.sell, "sell", "", "Token to sell (symbol or address)")
	cmd.Flags().StringVar(&f.buy, "buy", "", "Token to buy (symbol or address)")
	cmd.Flags().StringVar(&f.amount, "amount", "", "Amount to sell in display units (e.g. 1.5)")
	cmd.Flags().StringVar(&f.taker, "taker", "", "Taker address")
	cmd.Flags().StringVar(&f.proxyURL, "proxy-url", "", "Proxy base URL (default swap.proxy_url)")
	cmd.Flags().StringVar(&f.outputFormat, "output-format", string(output.FormatTable), "Output format: table|markdown|json")
	cmd.Flags().StringVar(&f.out, "out", "", "Write output to a file (default stdout)")
	_ = cmd.MarkFlagRequired("sell")
	_ = cmd.MarkFlagRequired("buy")
	_ = cmd.MarkFlagRequired("amount")
}

func (f *tradeFlags) request() core.SwapRequest {
	return core.SwapRequest{
		ChainID:    f.chainID,
		SellToken:  strings.TrimSpace(f.sell),
		BuyToken:   strings.TrimSpace(f.buy),
		SellAmount: strings.TrimSpace(f.amount),
		Taker:      strings.TrimSpace(f.taker),
	}
}

// tradeParams resolves the request's tokens and converts the amount to base units before
// running it through the same schema the proxy enforces.
func tradeParams(registry *tokens.Registry, schema validate.Schema, req core.SwapRequest) (core.ValidatedSwapParams, tokens.Token, tokens.Token, error) {
	var none tokens.Token
	sell, err := registry.Lookup(req.ChainID, req.SellToken)
	if err != nil {
		return core.ValidatedSwapParams{}, none, none, fmt.Errorf("sell token: %w", err)
	}
	buy, err := registry.Lookup(req.ChainID, req.BuyToken)
	if err != nil {
		return core.ValidatedSwapParams{}, none, none, fmt.Errorf("buy token: %w", err)
	}
	base, err := tokens.ToBaseUnits(req.SellAmount, sell.Decimals)
	if err != nil {
		return core.ValidatedSwapParams{}, none, none, fmt.Errorf("amount: %w", err)
	}

	values := url.Values{}
	values.Set("chainId", strconv.FormatInt(req.ChainID, 10))
	values.Set("sellToken", sell.Address)
	values.Set("buyToken", buy.Address)
	values.Set("sellAmount", base)
	if req.Taker != "" {
		values.Set("taker", req.Taker)
	}

	params, err := validate.Validate(schema, values)
	if err != nil {
		return core.ValidatedSwapParams{}, none, none, err
	}
	return params, sell, buy, nil
}

type fetchFunc func(*swapclient.Client, context.Context, core.ValidatedSwapParams) (*core.SwapResponse, error)

func runTradeLookup(cmd *cobra.Command, f *tradeFlags, kind string, schema validate.Schema, fetch fetchFunc) error {
	ctx := cmd.Context()
	format, err := output.ParseFormat(f.outputFormat)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	registry, err := loadTokenRegistry(cfg)
	if err != nil {
		return err
	}

	params, sell, buy, err := tradeParams(registry, schema, f.request())
	if err != nil {
		return errors.New(core.UserMessage(err))
	}

	proxyURL := strings.TrimSpace(f.proxyURL)
	if proxyURL == "" {
		proxyURL = cfg.Swap.ProxyURL
	}
	client := swapclient.New(proxyURL)

	timeouts := swapTimeouts(cfg.Swap.Timeouts)
	timeout := timeouts.Price
	if kind == "quote" {
		timeout = timeouts.Quote
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := fetch(client, fetchCtx, params)
	if err != nil {
		return errors.New(core.UserMessage(err))
	}

	rendered, err := output.NewFormatter(format).FormatSwap(&output.SwapView{
		Kind:     kind,
		ChainID:  params.ChainID,
		Sell:     sell,
		Buy:      buy,
		Response: resp,
	})
	if err != nil {
		return err
	}

	sink, err := openSink(f.out)
	if err != nil {
		return err
	}
	defer func() { _ = sink.close() }()

	_, err = fmt.Fprintln(sink.writer, rendered)
	return err
}

var (
	priceFlags tradeFlags
	quoteFlags tradeFlags
)

var priceCmd = &cobra.Command{
	Use:   "price",
	Short: "Fetch an indicative price through the proxy",
	Example: `  swapgate price --sell ETH --buy USDC --amount 1
  swapgate price --chain 8453 --sell WETH --buy USDC --amount 0.5 --output-format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTradeLookup(cmd, &priceFlags, "price", validate.PriceSchema, (*swapclient.Client).Price)
	},
}

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Fetch a firm quote through the proxy",
	Example: `  swapgate quote --sell USDC --buy WETH --amount 250 --taker 0xYourAddress`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTradeLookup(cmd, &quoteFlags, "quote", validate.QuoteSchema, (*swapclient.Client).Quote)
	},
}

func init() {
	priceFlags.register(priceCmd)
	quoteFlags.register(quoteCmd)
	rootCmd.AddCommand(priceCmd)
	rootCmd.AddCommand(quoteCmd)
}

func swapTimeouts(cfg config.TimeoutsConfig) core.TimeoutConfig {
	return core.TimeoutConfig{
		Price:        cfg.Price,
		Quote:        cfg.Quote,
		Approval:     cfg.Approval,
		Signature:    cfg.Signature,
		Swap:         cfg.Swap,
		Confirmation: cfg.Confirmation,
	}.WithDefaults()
}
