// Package tokens resolves token symbols and addresses to display metadata and decimals.
package tokens

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed tokens.yaml
var builtin []byte

// NativeAddress is the placeholder the aggregator uses for a chain's native asset.
const NativeAddress = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"

// Token is display metadata for one token on one chain.
type Token struct {
	ChainID     int64  `yaml:"chain_id" json:"chainId"`
	Symbol      string `yaml:"symbol" json:"symbol"`
	Name        string `yaml:"name" json:"name"`
	Address     string `yaml:"address" json:"address"`
	Decimals    int32  `yaml:"decimals" json:"decimals"`
	LogoURL     string `yaml:"logo_url" json:"logoURL,omitempty"`
	CoingeckoID string `yaml:"coingecko_id" json:"coingeckoId,omitempty"`
}

// Native reports whether the token is the chain's native asset.
func (t Token) Native() bool {
	return strings.EqualFold(t.Address, NativeAddress)
}

type registryFile struct {
	Tokens []Token `yaml:"tokens"`
}

// ErrUnknownToken is returned when a symbol or address is not registered.
var ErrUnknownToken = errors.New("unknown token")

// Registry indexes tokens by chain and by symbol or address.
type Registry struct {
	mu     sync.RWMutex
	tokens map[int64]map[string]Token
}

// Default returns a registry holding the built-in token list.
func Default() (*Registry, error) {
	reg := &Registry{}
	if err := reg.LoadYAML(builtin); err != nil {
		return nil, fmt.Errorf("load built-in tokens: %w", err)
	}
	return reg, nil
}

// LoadFile merges the tokens in path into the registry. Later entries replace earlier ones.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read token file: %w", err)
	}
	return r.LoadYAML(data)
}

// LoadYAML merges tokens from a YAML document.
func (r *Registry) LoadYAML(data []byte) error {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse token file: %w", err)
	}
	for i, token := range file.Tokens {
		if err := r.Add(token); err != nil {
			return fmt.Errorf("token %d: %w", i, err)
		}
	}
	return nil
}

// Add registers a token.
func (r *Registry) Add(token Token) error {
	if token.ChainID <= 0 {
		return errors.New("chain_id must be positive")
	}
	if !common.IsHexAddress(token.Address) {
		return fmt.Errorf("invalid address %q", token.Address)
	}
	if token.Decimals < 0 || token.Decimals > 77 {
		return fmt.Errorf("invalid decimals %d", token.Decimals)
	}
	if token.Symbol == "" {
		return errors.New("symbol is required")
	}
	if !token.Native() {
		token.Address = common.HexToAddress(token.Address).Hex()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tokens == nil {
		r.tokens = make(map[int64]map[string]Token)
	}
	byKey, ok := r.tokens[token.ChainID]
	if !ok {
		byKey = make(map[string]Token)
		r.tokens[token.ChainID] = byKey
	}
	byKey[strings.ToUpper(token.Symbol)] = token
	byKey[strings.ToLower(token.Address)] = token
	return nil
}

// Lookup resolves a symbol (case-insensitive) or address on chainID.
func (r *Registry) Lookup(chainID int64, symbolOrAddress string) (Token, error) {
	key := strings.TrimSpace(symbolOrAddress)
	if key == "" {
		return Token{}, ErrUnknownToken
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	byKey := r.tokens[chainID]
	if strings.HasPrefix(strings.ToLower(key), "0x") {
		if token, ok := byKey[strings.ToLower(key)]; ok {
			return token, nil
		}
	} else if token, ok := byKey[strings.ToUpper(key)]; ok {
		return token, nil
	}
	return Token{}, fmt.Errorf("%w: %s on chain %d", ErrUnknownToken, key, chainID)
}

// List returns the tokens registered for chainID.
func (r *Registry) List(chainID int64) []Token {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Token
	for key, token := range r.tokens[chainID] {
		if strings.HasPrefix(key, "0x") {
			out = append(out, token)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// ToBaseUnits converts a human amount such as "1.5" to an integer string in the token's base
// units. Amounts with more fractional digits than the token supports are rejected.
func ToBaseUnits(amount string, decimals int32) (string, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return "", fmt.Errorf("invalid amount %q", amount)
	}
	if value.Sign() <= 0 {
		return "", fmt.Errorf("amount must be positive: %q", amount)
	}
	scaled := value.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return "", fmt.Errorf("amount %q has more than %d decimal places", amount, decimals)
	}
	return scaled.BigInt().String(), nil
}

// FromBaseUnits renders a base-unit integer string in display units.
func FromBaseUnits(base string, decimals int32) (string, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("invalid base amount %q", base)
	}
	return value.Shift(-decimals).String(), nil
}
