package core

import (
	"encoding/json"
	"net/url"
	"strconv"
	"time"
)

// ValidatedSwapParams is the schema-checked form of a price or quote request.
// Amount fields are base-unit decimal strings; empty means absent.
type ValidatedSwapParams struct {
	ChainID               int64
	SellToken             string
	BuyToken              string
	SellAmount            string
	BuyAmount             string
	Taker                 string
	SwapFeeRecipient      string
	SwapFeeBps            string
	SwapFeeToken          string
	TradeSurplusRecipient string

	// Passthrough holds parameters outside the schema. They are forwarded but never inspected.
	Passthrough url.Values
}

// Values re-encodes the params as a query. Validating the result yields the same params.
func (p ValidatedSwapParams) Values() url.Values {
	values := url.Values{}
	for key, vals := range p.Passthrough {
		for _, v := range vals {
			values.Add(key, v)
		}
	}

	values.Set("chainId", strconv.FormatInt(p.ChainID, 10))
	values.Set("sellToken", p.SellToken)
	values.Set("buyToken", p.BuyToken)

	optional := map[string]string{
		"sellAmount":            p.SellAmount,
		"buyAmount":             p.BuyAmount,
		"taker":                 p.Taker,
		"swapFeeRecipient":      p.SwapFeeRecipient,
		"swapFeeBps":            p.SwapFeeBps,
		"swapFeeToken":          p.SwapFeeToken,
		"tradeSurplusRecipient": p.TradeSurplusRecipient,
	}
	for key, value := range optional {
		if value != "" {
			values.Set(key, value)
		}
	}
	return values
}

// Transaction is the executable payload of a binding quote.
type Transaction struct {
	To       string `json:"to"`
	Data     string `json:"data"`
	Value    string `json:"value,omitempty"`
	Gas      string `json:"gas,omitempty"`
	GasPrice string `json:"gasPrice,omitempty"`
}

// Permit2 carries the off-chain approval the settlement contract expects.
type Permit2 struct {
	Type   string          `json:"type,omitempty"`
	Hash   string          `json:"hash,omitempty"`
	EIP712 json.RawMessage `json:"eip712,omitempty"`
}

// HasTypedData reports whether an EIP-712 document is attached.
func (p *Permit2) HasTypedData() bool {
	if p == nil || len(p.EIP712) == 0 {
		return false
	}
	return string(p.EIP712) != "null"
}

// TokenTax lists transfer taxes for a token, in basis points.
type TokenTax struct {
	BuyTaxBps  *string `json:"buyTaxBps"`
	SellTaxBps *string `json:"sellTaxBps"`
}

// TokenMetadata is the upstream tax summary for both legs.
type TokenMetadata struct {
	BuyToken  TokenTax `json:"buyToken"`
	SellToken TokenTax `json:"sellToken"`
}

// SwapResponse is the price or quote payload. Only the fields the pipeline acts on are typed;
// everything else is kept in Extra and written back verbatim.
type SwapResponse struct {
	SellToken     string          `json:"sellToken,omitempty"`
	BuyToken      string          `json:"buyToken,omitempty"`
	SellAmount    string          `json:"sellAmount,omitempty"`
	BuyAmount     string          `json:"buyAmount,omitempty"`
	Transaction   *Transaction    `json:"transaction,omitempty"`
	Permit2       *Permit2        `json:"permit2,omitempty"`
	Fees          json.RawMessage `json:"fees,omitempty"`
	TokenMetadata *TokenMetadata  `json:"tokenMetadata,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var swapResponseFields = []string{
	"sellToken", "buyToken", "sellAmount", "buyAmount",
	"transaction", "permit2", "fees", "tokenMetadata",
}

// UnmarshalJSON decodes the typed fields and keeps the rest.
func (r *SwapResponse) UnmarshalJSON(data []byte) error {
	type plain SwapResponse
	var typed plain
	if err := json.Unmarshal(data, &typed); err != nil {
		return err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, key := range swapResponseFields {
		delete(all, key)
	}

	*r = SwapResponse(typed)
	if len(all) > 0 {
		r.Extra = all
	}
	return nil
}

// MarshalJSON writes the typed fields merged with Extra.
func (r SwapResponse) MarshalJSON() ([]byte, error) {
	type plain SwapResponse
	typed, err := json.Marshal(plain(r))
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return typed, nil
	}

	merged := make(map[string]json.RawMessage, len(r.Extra)+len(swapResponseFields))
	for key, value := range r.Extra {
		merged[key] = value
	}
	var known map[string]json.RawMessage
	if err := json.Unmarshal(typed, &known); err != nil {
		return nil, err
	}
	for key, value := range known {
		merged[key] = value
	}
	return json.Marshal(merged)
}

// Clone returns a copy whose Transaction can be changed without touching r.
func (r *SwapResponse) Clone() *SwapResponse {
	if r == nil {
		return nil
	}
	out := *r
	if r.Transaction != nil {
		tx := *r.Transaction
		out.Transaction = &tx
	}
	if r.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(r.Extra))
		for key, value := range r.Extra {
			out.Extra[key] = value
		}
	}
	return &out
}

// TxRequest is what the wallet broadcasts.
type TxRequest struct {
	ChainID int64
	To      string
	Data    string
	Value   string
	Gas     string
}

// Receipt is the confirmation outcome of a submitted transaction.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	Success     bool
	GasUsed     uint64
}

// SwapPhase is a step of the swap session state machine.
type SwapPhase string

const (
	PhaseIdle              SwapPhase = "idle"
	PhasePricing           SwapPhase = "pricing"
	PhasePriceReady        SwapPhase = "price_ready"
	PhaseReviewing         SwapPhase = "reviewing"
	PhaseQuoteReady        SwapPhase = "quote_ready"
	PhaseAwaitingSignature SwapPhase = "awaiting_signature"
	PhaseSubmitting        SwapPhase = "submitting"
	PhaseConfirming        SwapPhase = "confirming"
	PhaseConfirmed         SwapPhase = "confirmed"
	PhaseFailed            SwapPhase = "failed"
	PhaseCancelled         SwapPhase = "cancelled"
)

// Terminal reports whether the phase ends a swap attempt.
func (p SwapPhase) Terminal() bool {
	return p == PhaseConfirmed || p == PhaseFailed
}

// SwapRequest is the user's trade intent in display units.
type SwapRequest struct {
	ChainID    int64
	SellToken  string
	BuyToken   string
	SellAmount string
	Taker      string
}

// SameTrade reports whether both requests describe the same pair, amount and taker.
func (r SwapRequest) SameTrade(other SwapRequest) bool {
	return r.ChainID == other.ChainID &&
		r.SellToken == other.SellToken &&
		r.BuyToken == other.BuyToken &&
		r.SellAmount == other.SellAmount &&
		r.Taker == other.Taker
}

// SwapSessionState is the orchestrator's working state for one swap attempt.
type SwapSessionState struct {
	SessionID       string
	Phase           SwapPhase
	Request         SwapRequest
	Params          *ValidatedSwapParams
	Price           *SwapResponse
	Quote           *SwapResponse
	Signature       []byte
	TransactionHash string
	Receipt         *Receipt
	Err             error
	UpdatedAt       time.Time
}

// TimeoutConfig maps pipeline operations to their deadlines.
type TimeoutConfig struct {
	Price        time.Duration
	Quote        time.Duration
	Approval     time.Duration
	Signature    time.Duration
	Swap         time.Duration
	Confirmation time.Duration
}

// DefaultTimeouts are used when configuration leaves a deadline unset.
var DefaultTimeouts = TimeoutConfig{
	Price:        10 * time.Second,
	Quote:        15 * time.Second,
	Approval:     60 * time.Second,
	Signature:    2 * time.Minute,
	Swap:         60 * time.Second,
	Confirmation: 5 * time.Minute,
}

// WithDefaults fills zero deadlines from DefaultTimeouts.
func (t TimeoutConfig) WithDefaults() TimeoutConfig {
	if t.Price <= 0 {
		t.Price = DefaultTimeouts.Price
	}
	if t.Quote <= 0 {
		t.Quote = DefaultTimeouts.Quote
	}
	if t.Approval <= 0 {
		t.Approval = DefaultTimeouts.Approval
	}
	if t.Signature <= 0 {
		t.Signature = DefaultTimeouts.Signature
	}
	if t.Swap <= 0 {
		t.Swap = DefaultTimeouts.Swap
	}
	if t.Confirmation <= 0 {
		t.Confirmation = DefaultTimeouts.Confirmation
	}
	return t
}
