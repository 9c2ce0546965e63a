package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/swapgate/swapgate/internal/core"
	"github.com/swapgate/swapgate/internal/core/permit2"
	"github.com/swapgate/swapgate/internal/core/retry"
	"github.com/swapgate/swapgate/internal/core/validate"
	"github.com/swapgate/swapgate/internal/metrics"
	"github.com/swapgate/swapgate/internal/observability"
	"github.com/swapgate/swapgate/internal/tokens"
)

const (
	DefaultRetryAttempts  = 3
	DefaultRetryBaseDelay = 500 * time.Millisecond
	DefaultDebounce       = 300 * time.Millisecond
	DefaultPollInterval   = 2 * time.Second
)

var (
	// ErrSwapInProgress is returned when the session cannot change while a transaction is in flight.
	ErrSwapInProgress = errors.New("a swap transaction is already in flight")
	// ErrNoPrice is returned when a quote is requested before a price is available.
	ErrNoPrice = errors.New("no price available; enter an amount first")
	// ErrNoQuote is returned when Execute is called without a ready quote.
	ErrNoQuote = errors.New("no quote ready to execute")
)

// QuoteSource fetches indicative prices and binding quotes.
type QuoteSource interface {
	Price(ctx context.Context, params core.ValidatedSwapParams) (*core.SwapResponse, error)
	Quote(ctx context.Context, params core.ValidatedSwapParams) (*core.SwapResponse, error)
}

// Wallet signs Permit2 documents and broadcasts transactions.
type Wallet interface {
	permit2.TypedDataSigner
	SendTransaction(ctx context.Context, tx core.TxRequest) (string, error)
}

// ReceiptWatcher reports the outcome of a submitted transaction. It returns
// core.ErrReceiptPending until the transaction is mined.
type ReceiptWatcher interface {
	Receipt(ctx context.Context, txHash string) (*core.Receipt, error)
}

// TokenResolver maps a symbol or address to token metadata.
type TokenResolver interface {
	Lookup(chainID int64, symbolOrAddress string) (tokens.Token, error)
}

type requestKind int

const (
	kindPrice requestKind = iota
	kindQuote
	kindSignature
	kindSubmit
	numKinds
)

func (k requestKind) String() string {
	switch k {
	case kindPrice:
		return "price"
	case kindQuote:
		return "quote"
	case kindSignature:
		return "signature"
	case kindSubmit:
		return "submit"
	default:
		return "unknown"
	}
}

type pendingFetch struct {
	kind   requestKind
	cancel context.CancelFunc
}

// Orchestrator drives one swap session from amount entry to confirmation.
//
// Each kind of network operation carries a monotonic request token captured at dispatch.
// A result is applied only if its token is still the latest for that kind when it resolves,
// so a slow response can never overwrite a newer one.
type Orchestrator struct {
	Quotes   QuoteSource
	Wallet   Wallet
	Receipts ReceiptWatcher
	Tokens   TokenResolver

	Timeouts       core.TimeoutConfig
	RetryAttempts  int
	RetryBaseDelay time.Duration
	Debounce       time.Duration
	PollInterval   time.Duration

	Clock func() time.Time
	// Sleep waits between retries and receipt polls. Defaults to retry.Sleep.
	Sleep retry.Sleeper
	// Observer receives a snapshot after every phase change. It is called without locks held.
	Observer func(core.SwapSessionState)

	mu        sync.Mutex
	state     core.SwapSessionState
	tokens    [numKinds]uint64
	debounces [numKinds]context.CancelFunc
	fetches   map[uint64]pendingFetch
	seq       uint64
	wg        sync.WaitGroup
}

// NewOrchestrator returns an orchestrator with default retry and debounce settings.
func NewOrchestrator(quotes QuoteSource, wallet Wallet, receipts ReceiptWatcher, resolver TokenResolver) *Orchestrator {
	return &Orchestrator{
		Quotes:         quotes,
		Wallet:         wallet,
		Receipts:       receipts,
		Tokens:         resolver,
		Timeouts:       core.DefaultTimeouts,
		RetryAttempts:  DefaultRetryAttempts,
		RetryBaseDelay: DefaultRetryBaseDelay,
		Debounce:       DefaultDebounce,
		PollInterval:   DefaultPollInterval,
	}
}

// State returns a snapshot of the session.
func (o *Orchestrator) State() core.SwapSessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ensureSession()
	return o.snapshot()
}

// Wait blocks until every dispatched price and quote fetch has resolved.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// SetAmount records a new trade intent and schedules a debounced price fetch.
// A zero or empty amount returns the session to Idle. Errors in the request itself are
// returned and recorded on the session; fetch failures are only recorded.
func (o *Orchestrator) SetAmount(ctx context.Context, req core.SwapRequest) error {
	if ctx == nil {
		ctx = context.Background()
	}

	o.mu.Lock()
	o.ensureSession()
	if o.inFlight() {
		o.mu.Unlock()
		return ErrSwapInProgress
	}

	token := o.bump(kindPrice)
	o.bump(kindQuote)
	o.bump(kindSignature)
	o.cancelKind(kindQuote)

	o.state.Request = req
	o.clearExecution()
	o.state.Price = nil

	if zeroAmount(req.SellAmount) {
		o.cancelKind(kindPrice)
		o.state.Params = nil
		o.state.Err = nil
		snap := o.transition(core.PhaseIdle)
		o.mu.Unlock()
		o.notify(snap)
		return nil
	}

	params, err := o.buildParams(req)
	if err != nil {
		o.cancelKind(kindPrice)
		o.state.Params = nil
		o.state.Err = err
		snap := o.transition(core.PhaseIdle)
		o.mu.Unlock()
		o.notify(snap)
		return err
	}

	o.state.Params = &params
	o.state.Err = nil
	snap := o.transition(core.PhasePricing)
	o.dispatch(ctx, kindPrice, token, func(ctx context.Context) (*core.SwapResponse, error) {
		return o.Quotes.Price(ctx, params)
	}, o.resolvePrice)
	o.mu.Unlock()

	o.notify(snap)
	return nil
}

// RequestQuote schedules a debounced binding quote for the current price.
func (o *Orchestrator) RequestQuote(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	o.mu.Lock()
	o.ensureSession()
	switch o.state.Phase {
	case core.PhasePriceReady, core.PhaseReviewing, core.PhaseQuoteReady:
	default:
		busy := o.inFlight()
		o.mu.Unlock()
		if busy {
			return ErrSwapInProgress
		}
		return ErrNoPrice
	}
	if o.state.Params == nil {
		o.mu.Unlock()
		return ErrNoPrice
	}

	params, err := validate.Validate(validate.QuoteSchema, o.state.Params.Values())
	if err != nil {
		o.state.Err = err
		o.mu.Unlock()
		return err
	}

	token := o.bump(kindQuote)
	o.bump(kindSignature)
	o.clearExecution()
	o.state.Err = nil
	snap := o.transition(core.PhaseReviewing)
	o.dispatch(ctx, kindQuote, token, func(ctx context.Context) (*core.SwapResponse, error) {
		return o.Quotes.Quote(ctx, params)
	}, o.resolveQuote)
	o.mu.Unlock()

	o.notify(snap)
	return nil
}

// Execute signs the Permit2 document when present, submits the transaction and waits for its
// receipt. Signing and submission are never retried; receipt polling is.
func (o *Orchestrator) Execute(ctx context.Context) (*core.Receipt, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	timeouts := o.Timeouts.WithDefaults()

	o.mu.Lock()
	o.ensureSession()
	if o.state.Phase != core.PhaseQuoteReady || o.state.Quote == nil || o.state.Params == nil {
		o.mu.Unlock()
		return nil, ErrNoQuote
	}
	quote := o.state.Quote
	chainID := o.state.Params.ChainID
	sigToken := o.bump(kindSignature)

	assembled := quote
	if permit2.Required(quote) {
		snap := o.transition(core.PhaseAwaitingSignature)
		o.mu.Unlock()
		o.notify(snap)

		assembler := permit2.Assembler{Signer: o.Wallet, Timeout: timeouts.Signature}
		sig, err := assembler.Sign(ctx, quote)
		if err == nil {
			assembled, err = permit2.Splice(quote, sig)
		}

		o.mu.Lock()
		if o.tokens[kindSignature] != sigToken {
			o.mu.Unlock()
			logDiscarded(kindSignature)
			return nil, &core.CancelledError{Operation: "signature"}
		}
		if err != nil {
			return nil, o.fail(err)
		}
		o.state.Signature = sig
		o.state.Quote = assembled
	}

	if assembled.Transaction == nil || assembled.Transaction.To == "" || !hasData(assembled.Transaction.Data) {
		return nil, o.fail(core.ErrMissingCalldata)
	}

	submitToken := o.bump(kindSubmit)
	snap := o.transition(core.PhaseSubmitting)
	o.mu.Unlock()
	o.notify(snap)

	tx := core.TxRequest{
		ChainID: chainID,
		To:      assembled.Transaction.To,
		Data:    assembled.Transaction.Data,
		Value:   assembled.Transaction.Value,
		Gas:     assembled.Transaction.Gas,
	}
	hash, err := o.submit(ctx, tx, timeouts.Swap)

	o.mu.Lock()
	if o.tokens[kindSubmit] != submitToken {
		o.mu.Unlock()
		logDiscarded(kindSubmit)
		return nil, &core.CancelledError{Operation: "swap"}
	}
	if err != nil {
		return nil, o.fail(err)
	}
	o.state.TransactionHash = hash
	snap = o.transition(core.PhaseConfirming)
	o.mu.Unlock()
	o.notify(snap)

	receipt, err := o.awaitReceipt(ctx, hash, timeouts.Confirmation)

	o.mu.Lock()
	if o.tokens[kindSubmit] != submitToken {
		o.mu.Unlock()
		return receipt, &core.CancelledError{Operation: "confirmation"}
	}
	if err != nil {
		return nil, o.fail(err)
	}
	o.state.Receipt = receipt
	if !receipt.Success {
		return receipt, o.fail(core.ErrTransactionReverted)
	}
	o.state.Err = nil
	snap = o.transition(core.PhaseConfirmed)
	o.mu.Unlock()
	o.notify(snap)
	return receipt, nil
}

// Cancel abandons the pending price, quote or signature. Quote-side cancellation passes
// through Cancelled back to PriceReady with the amount intact. A signature request already
// shown in the wallet cannot be withdrawn; its result is ignored.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	o.ensureSession()

	var snaps []core.SwapSessionState
	switch o.state.Phase {
	case core.PhasePricing:
		o.bump(kindPrice)
		o.cancelKind(kindPrice)
		o.state.Err = nil
		snaps = append(snaps, o.transition(core.PhaseIdle))
	case core.PhaseReviewing, core.PhaseQuoteReady, core.PhaseAwaitingSignature:
		o.bump(kindQuote)
		o.bump(kindSignature)
		o.cancelKind(kindQuote)
		o.clearExecution()
		o.state.Err = nil
		snaps = append(snaps, o.transition(core.PhaseCancelled))
		snaps = append(snaps, o.transition(o.restingPhase()))
	}
	o.mu.Unlock()

	for _, snap := range snaps {
		o.notify(snap)
	}
}

// Back leaves a failed or reviewed quote and returns to the price with the amount intact.
func (o *Orchestrator) Back() error {
	o.mu.Lock()
	o.ensureSession()
	if o.inFlight() {
		o.mu.Unlock()
		return ErrSwapInProgress
	}

	switch o.state.Phase {
	case core.PhaseFailed, core.PhaseCancelled, core.PhaseQuoteReady, core.PhaseReviewing, core.PhaseConfirmed:
	default:
		o.mu.Unlock()
		return nil
	}

	o.bump(kindQuote)
	o.bump(kindSignature)
	o.cancelKind(kindQuote)
	o.clearExecution()
	o.state.Err = nil
	snap := o.transition(o.restingPhase())
	o.mu.Unlock()

	o.notify(snap)
	return nil
}

// Reset discards the session and starts a new one. Pending results are ignored.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	for kind := requestKind(0); kind < numKinds; kind++ {
		o.bump(kind)
		o.cancelKind(kind)
	}
	o.state = core.SwapSessionState{}
	o.ensureSession()
	snap := o.transition(core.PhaseIdle)
	o.mu.Unlock()

	o.notify(snap)
}

// dispatch starts a debounced fetch. The caller holds o.mu and has already bumped the token.
// A newer dispatch of the same kind stops this one while it is still debouncing; once sent,
// the fetch runs to completion and its result is dropped if the token moved on.
func (o *Orchestrator) dispatch(
	ctx context.Context,
	kind requestKind,
	token uint64,
	fetch retry.Operation[*core.SwapResponse],
	resolve func(*core.SwapResponse, error) core.SwapSessionState,
) {
	if cancel := o.debounces[kind]; cancel != nil {
		cancel()
	}

	fetchCtx, cancelFetch := context.WithCancel(ctx)
	waitCtx, cancelWait := context.WithCancel(fetchCtx)
	o.debounces[kind] = cancelWait

	o.seq++
	id := o.seq
	if o.fetches == nil {
		o.fetches = make(map[uint64]pendingFetch)
	}
	o.fetches[id] = pendingFetch{kind: kind, cancel: cancelFetch}

	timeout := o.Timeouts.WithDefaults().Price
	if kind == kindQuote {
		timeout = o.Timeouts.WithDefaults().Quote
	}
	backoff := retry.RetryWithBackoff(fetch, kind.String(), o.attempts(), o.baseDelay(), timeout, retry.WithSleeper(o.sleeper()))

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.release(id)

		if err := retry.Sleep(waitCtx, o.Debounce); err != nil {
			return
		}
		if !o.current(kind, token) {
			return
		}

		resp, err := backoff(fetchCtx, o.onRetry(kind.String()))

		o.mu.Lock()
		if o.tokens[kind] != token {
			o.mu.Unlock()
			logDiscarded(kind)
			return
		}
		snap := resolve(resp, err)
		o.mu.Unlock()
		o.notify(snap)
	}()
}

func (o *Orchestrator) resolvePrice(resp *core.SwapResponse, err error) core.SwapSessionState {
	if err != nil {
		o.state.Price = nil
		o.state.Err = err
		return o.transition(core.PhaseIdle)
	}
	o.state.Price = resp
	o.state.Err = nil
	return o.transition(core.PhasePriceReady)
}

func (o *Orchestrator) resolveQuote(resp *core.SwapResponse, err error) core.SwapSessionState {
	if err != nil {
		o.state.Quote = nil
		o.state.Err = err
		return o.transition(core.PhasePriceReady)
	}
	o.state.Quote = resp
	o.state.Err = nil
	return o.transition(core.PhaseQuoteReady)
}

func (o *Orchestrator) submit(ctx context.Context, tx core.TxRequest, timeout time.Duration) (string, error) {
	if o.Wallet == nil {
		return "", &core.SubmissionError{Cause: errors.New("no wallet connected")}
	}
	hash, err := retry.WithTimeout(ctx, func(ctx context.Context) (string, error) {
		return o.Wallet.SendTransaction(ctx, tx)
	}, "swap", timeout, retry.NonRetryable())
	if err != nil {
		var (
			timeoutErr *core.TimeoutError
			cancelled  *core.CancelledError
		)
		if errors.As(err, &timeoutErr) || errors.As(err, &cancelled) {
			return "", err
		}
		return "", &core.SubmissionError{Cause: err}
	}
	if strings.TrimSpace(hash) == "" {
		return "", &core.SubmissionError{Cause: errors.New("wallet returned no transaction hash")}
	}
	return hash, nil
}

// awaitReceipt polls until the transaction is mined. Transient RPC failures are retried with
// backoff; a pending receipt waits PollInterval before asking again.
func (o *Orchestrator) awaitReceipt(ctx context.Context, hash string, timeout time.Duration) (*core.Receipt, error) {
	if o.Receipts == nil {
		return nil, errors.New("no receipt watcher configured")
	}

	fetch := retry.RetryWithBackoff(func(ctx context.Context) (*core.Receipt, error) {
		receipt, err := o.Receipts.Receipt(ctx, hash)
		if errors.Is(err, core.ErrReceiptPending) {
			return nil, nil
		}
		return receipt, err
	}, "confirmation", o.attempts(), o.baseDelay(), 0, retry.WithSleeper(o.sleeper()))

	return retry.WithTimeout(ctx, func(ctx context.Context) (*core.Receipt, error) {
		for {
			receipt, err := fetch(ctx, o.onRetry("confirmation"))
			if err != nil {
				return nil, err
			}
			if receipt != nil {
				return receipt, nil
			}
			if err := o.sleeper()(ctx, o.pollInterval()); err != nil {
				return nil, &core.CancelledError{Operation: "confirmation", Cause: err}
			}
		}
	}, "confirmation", timeout)
}

// buildParams resolves tokens and converts the display amount into base units.
func (o *Orchestrator) buildParams(req core.SwapRequest) (core.ValidatedSwapParams, error) {
	if o.Quotes == nil {
		return core.ValidatedSwapParams{}, errors.New("no quote source configured")
	}
	if o.Tokens == nil {
		return core.ValidatedSwapParams{}, errors.New("no token registry configured")
	}

	fields := map[string]string{}
	sell, err := o.Tokens.Lookup(req.ChainID, req.SellToken)
	if err != nil {
		fields["sellToken"] = err.Error()
	}
	buy, err := o.Tokens.Lookup(req.ChainID, req.BuyToken)
	if err != nil {
		fields["buyToken"] = err.Error()
	}

	var amount string
	if _, ok := fields["sellToken"]; !ok {
		amount, err = tokens.ToBaseUnits(req.SellAmount, sell.Decimals)
		if err != nil {
			fields["sellAmount"] = err.Error()
		}
	}
	if len(fields) > 0 {
		return core.ValidatedSwapParams{}, core.NewValidationError(fields, []string{"sellToken", "buyToken", "sellAmount"})
	}

	values := url.Values{}
	values.Set("chainId", strconv.FormatInt(req.ChainID, 10))
	values.Set("sellToken", sell.Address)
	values.Set("buyToken", buy.Address)
	values.Set("sellAmount", amount)
	if taker := strings.TrimSpace(req.Taker); taker != "" {
		values.Set("taker", taker)
	}
	return validate.Validate(validate.PriceSchema, values)
}

// fail records err and moves to Failed. The caller holds o.mu; fail releases it.
func (o *Orchestrator) fail(err error) error {
	o.state.Err = err
	snap := o.transition(core.PhaseFailed)
	o.mu.Unlock()
	o.notify(snap)
	return err
}

func (o *Orchestrator) transition(phase core.SwapPhase) core.SwapSessionState {
	o.state.Phase = phase
	o.state.UpdatedAt = o.now()
	metrics.RecordSwapPhase(string(phase))
	if logger := sessionLogger(); logger != nil {
		fields := []zap.Field{
			zap.String("session_id", o.state.SessionID),
			zap.String("phase", string(phase)),
		}
		if o.state.Err != nil {
			fields = append(fields, zap.Error(o.state.Err))
		}
		logger.Debug("swap phase changed", fields...)
	}
	return o.snapshot()
}

func (o *Orchestrator) snapshot() core.SwapSessionState {
	snap := o.state
	if o.state.Params != nil {
		params := *o.state.Params
		snap.Params = &params
	}
	if o.state.Signature != nil {
		snap.Signature = append([]byte(nil), o.state.Signature...)
	}
	return snap
}

func (o *Orchestrator) notify(snap core.SwapSessionState) {
	if o.Observer != nil {
		o.Observer(snap)
	}
}

func (o *Orchestrator) ensureSession() {
	if o.state.SessionID != "" {
		return
	}
	o.state.SessionID = uuid.NewString()
	if o.state.Phase == "" {
		o.state.Phase = core.PhaseIdle
	}
	o.state.UpdatedAt = o.now()
}

func (o *Orchestrator) clearExecution() {
	o.state.Quote = nil
	o.state.Signature = nil
	o.state.TransactionHash = ""
	o.state.Receipt = nil
}

func (o *Orchestrator) restingPhase() core.SwapPhase {
	if o.state.Price != nil {
		return core.PhasePriceReady
	}
	return core.PhaseIdle
}

func (o *Orchestrator) inFlight() bool {
	return o.state.Phase == core.PhaseSubmitting || o.state.Phase == core.PhaseConfirming
}

func (o *Orchestrator) bump(kind requestKind) uint64 {
	o.tokens[kind]++
	return o.tokens[kind]
}

func (o *Orchestrator) current(kind requestKind, token uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tokens[kind] == token
}

func (o *Orchestrator) cancelKind(kind requestKind) {
	if cancel := o.debounces[kind]; cancel != nil {
		cancel()
		o.debounces[kind] = nil
	}
	for id, pending := range o.fetches {
		if pending.kind == kind {
			pending.cancel()
			delete(o.fetches, id)
		}
	}
}

func (o *Orchestrator) release(id uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if pending, ok := o.fetches[id]; ok {
		pending.cancel()
		delete(o.fetches, id)
	}
}

func (o *Orchestrator) onRetry(operation string) func(int, error) {
	return func(attempt int, err error) {
		metrics.RecordSwapRetry(operation)
		if logger := sessionLogger(); logger != nil {
			logger.Warn(fmt.Sprintf("%s attempt failed, retrying", operation),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
	}
}

func (o *Orchestrator) attempts() int {
	if o.RetryAttempts <= 0 {
		return DefaultRetryAttempts
	}
	return o.RetryAttempts
}

func (o *Orchestrator) baseDelay() time.Duration {
	if o.RetryBaseDelay <= 0 {
		return DefaultRetryBaseDelay
	}
	return o.RetryBaseDelay
}

func (o *Orchestrator) pollInterval() time.Duration {
	if o.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return o.PollInterval
}

func (o *Orchestrator) sleeper() retry.Sleeper {
	if o.Sleep != nil {
		return o.Sleep
	}
	return retry.Sleep
}

func (o *Orchestrator) now() time.Time {
	if o != nil && o.Clock != nil {
		return o.Clock()
	}
	return time.Now().UTC()
}

func zeroAmount(amount string) bool {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return true
	}
	value, err := decimal.NewFromString(amount)
	return err == nil && value.IsZero()
}

func hasData(data string) bool {
	data = strings.TrimSpace(data)
	return data != "" && data != "0x"
}

func sessionLogger() interface {
	Debug(string, ...zap.Field)
	Warn(string, ...zap.Field)
} {
	if observability.CLILogger != nil {
		return observability.CLILogger
	}
	if observability.ServerLogger != nil {
		return observability.ServerLogger
	}
	return nil
}

func logDiscarded(kind requestKind) {
	if logger := sessionLogger(); logger != nil {
		logger.Debug("discarding superseded response", zap.String("operation", kind.String()))
	}
}
