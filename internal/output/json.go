package output

import (
	"encoding/json"

	"github.com/swapgate/swapgate/internal/core"
	"github.com/swapgate/swapgate/internal/tokens"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

type jsonLeg struct {
	Token  tokens.Token `json:"token"`
	Amount string       `json:"amount"`
	Base   string       `json:"baseAmount"`
}

type jsonSwap struct {
	Kind     string             `json:"kind"`
	ChainID  int64              `json:"chainId"`
	Sell     jsonLeg            `json:"sell"`
	Buy      jsonLeg            `json:"buy"`
	Response *core.SwapResponse `json:"response"`
}

type jsonSession struct {
	SessionID       string        `json:"sessionId"`
	Phase           string        `json:"phase"`
	TransactionHash string        `json:"transactionHash,omitempty"`
	Receipt         *core.Receipt `json:"receipt,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// FormatSwap renders the upstream payload, untouched, along with display amounts.
func (f *JSONFormatter) FormatSwap(view *SwapView) (string, error) {
	if view == nil {
		return "", nil
	}
	payload := jsonSwap{Kind: view.Kind, ChainID: view.ChainID, Response: view.Response}
	payload.Sell = jsonLeg{Token: view.Sell}
	payload.Buy = jsonLeg{Token: view.Buy}
	if resp := view.Response; resp != nil {
		payload.Sell.Base = resp.SellAmount
		payload.Sell.Amount = displayAmount(resp.SellAmount, view.Sell)
		payload.Buy.Base = resp.BuyAmount
		payload.Buy.Amount = displayAmount(resp.BuyAmount, view.Buy)
	}
	return f.marshal(payload)
}

// FormatSession renders the outcome of a swap session.
func (f *JSONFormatter) FormatSession(state core.SwapSessionState) (string, error) {
	payload := jsonSession{
		SessionID:       state.SessionID,
		Phase:           string(state.Phase),
		TransactionHash: state.TransactionHash,
		Receipt:         state.Receipt,
	}
	if state.Err != nil {
		payload.Error = core.UserMessage(state.Err)
	}
	return f.marshal(payload)
}

func (f *JSONFormatter) marshal(v any) (string, error) {
	var (
		data []byte
		err  error
	)
	if f.Indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}
