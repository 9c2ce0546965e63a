package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/swapgate/swapgate/internal/core"
	"github.com/swapgate/swapgate/internal/core/engine"
	"github.com/swapgate/swapgate/internal/core/swapclient"
	"github.com/swapgate/swapgate/internal/observability"
	"github.com/swapgate/swapgate/internal/output"
	"github.com/swapgate/swapgate/internal/wallet"
)

var (
	swapFlags  tradeFlags
	swapRPCURL string
	swapKeyEnv string
	swapYes    bool
)

var swapCmd = &cobra.Command{
	Use:   "swap",
	Short: "Price, quote, sign and submit a swap",
	Long: `Run a full swap session: fetch a price, request a firm quote, sign the Permit2
document when the quote carries one, broadcast the transaction and wait for confirmation.

The private key is read from the environment variable named by --key-env.`,
	Example: `  SWAPGATE_PRIVATE_KEY=... swapgate swap --sell USDC --buy WETH --amount 100 --rpc-url https://eth.llamarpc.com`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		format, err := output.ParseFormat(swapFlags.outputFormat)
		if err != nil {
			return err
		}
		formatter := output.NewFormatter(format)

		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		registry, err := loadTokenRegistry(cfg)
		if err != nil {
			return err
		}

		rpcURL := firstNonEmpty(swapRPCURL, cfg.Swap.RPCURL)
		keyEnv := firstNonEmpty(swapKeyEnv, cfg.Swap.KeyEnv)
		proxyURL := firstNonEmpty(swapFlags.proxyURL, cfg.Swap.ProxyURL)

		rpc, err := wallet.Dial(ctx, rpcURL)
		if err != nil {
			return err
		}
		defer rpc.Close()

		signer, err := wallet.FromEnv(keyEnv, rpc)
		if err != nil {
			return err
		}

		req := swapFlags.request()
		if req.Taker == "" {
			req.Taker = signer.Address().Hex()
		}

		orch := engine.NewOrchestrator(swapclient.New(proxyURL), signer, &wallet.ReceiptWatcher{Backend: rpc}, registry)
		orch.Timeouts = swapTimeouts(cfg.Swap.Timeouts)
		orch.RetryAttempts = cfg.Swap.RetryAttempts
		orch.RetryBaseDelay = cfg.Swap.RetryBaseDelay
		orch.PollInterval = cfg.Swap.PollInterval
		orch.Debounce = 0
		orch.Observer = func(state core.SwapSessionState) {
			observability.CLILogger.Debug("Swap phase",
				zap.String("session", state.SessionID),
				zap.String("phase", string(state.Phase)))
		}

		sell, err := registry.Lookup(req.ChainID, req.SellToken)
		if err != nil {
			return err
		}
		buy, err := registry.Lookup(req.ChainID, req.BuyToken)
		if err != nil {
			return err
		}

		sink, err := openSink(swapFlags.out)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		render := func(kind string, resp *core.SwapResponse) error {
			rendered, err := formatter.FormatSwap(&output.SwapView{
				Kind:     kind,
				ChainID:  req.ChainID,
				Sell:     sell,
				Buy:      buy,
				Response: resp,
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(sink.writer, rendered)
			return err
		}

		if err := orch.SetAmount(ctx, req); err != nil {
			return errors.New(core.UserMessage(err))
		}
		orch.Wait()
		state := orch.State()
		if state.Phase != core.PhasePriceReady {
			return sessionError(state)
		}
		if err := render("price", state.Price); err != nil {
			return err
		}

		if err := orch.RequestQuote(ctx); err != nil {
			return errors.New(core.UserMessage(err))
		}
		orch.Wait()
		state = orch.State()
		if state.Phase != core.PhaseQuoteReady {
			return sessionError(state)
		}
		if err := render("quote", state.Quote); err != nil {
			return err
		}

		if !swapYes {
			ok, err := confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), "Submit this swap?")
			if err != nil {
				return err
			}
			if !ok {
				orch.Cancel()
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Swap cancelled.")
				return nil
			}
		}

		_, execErr := orch.Execute(ctx)
		rendered, err := formatter.FormatSession(orch.State())
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(sink.writer, rendered); err != nil {
			return err
		}
		if execErr != nil {
			return errors.New(core.UserMessage(execErr))
		}
		return nil
	},
}

func sessionError(state core.SwapSessionState) error {
	if state.Err != nil {
		return errors.New(core.UserMessage(state.Err))
	}
	return fmt.Errorf("swap session stopped in phase %s", state.Phase)
}

// confirm asks a y/N question. Anything but y or yes declines.
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	if _, err := fmt.Fprintf(out, "%s [y/N]: ", question); err != nil {
		return false, err
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func init() {
	swapFlags.register(swapCmd)
	swapCmd.Flags().StringVar(&swapRPCURL, "rpc-url", "", "JSON-RPC endpoint (default swap.rpc_url)")
	swapCmd.Flags().StringVar(&swapKeyEnv, "key-env", "", "Environment variable holding the private key (default swap.key_env)")
	swapCmd.Flags().BoolVarP(&swapYes, "yes", "y", false, "Submit without confirmation")
	rootCmd.AddCommand(swapCmd)
}
