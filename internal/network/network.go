// Package network holds the static network definitions and the curated
// registry of exchange wallets watched on each of them.
package network

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

//go:embed registry.yaml
var defaultRegistry []byte

// Network is a chain queried through its own endpoint set
type Network struct {
	ID                string     `yaml:"id" json:"id"`
	Name              string     `yaml:"name" json:"name"`
	ChainID           uint64     `yaml:"chain_id" json:"chain_id"`
	RPCURLs           []string   `yaml:"rpc_urls" json:"rpc_urls"`
	HistoryAPI        string     `yaml:"history_api,omitempty" json:"history_api,omitempty"`
	Explorer          string     `yaml:"explorer" json:"explorer"`
	CoinGeckoPlatform string     `yaml:"coingecko_platform" json:"coingecko_platform"`
	DEXScreenerChain  string     `yaml:"dexscreener_chain" json:"dexscreener_chain"`
	Stablecoin        Stablecoin `yaml:"stablecoin" json:"stablecoin"`
	Examples          []Example  `yaml:"examples,omitempty" json:"examples,omitempty"`
	Wallets           []Wallet   `yaml:"wallets" json:"wallets"`
}

// Example is a well-known token shown as a lookup suggestion
type Example struct {
	Symbol  string `yaml:"symbol" json:"symbol"`
	Address string `yaml:"address" json:"address"`
}

// Stablecoin is the USD reference token used for DEX quotes
type Stablecoin struct {
	Symbol   string `yaml:"symbol" json:"symbol"`
	Address  string `yaml:"address" json:"address"`
	Decimals uint8  `yaml:"decimals" json:"decimals"`
}

// Wallet is a labelled registry entry
type Wallet struct {
	Label   string `yaml:"label" json:"label"`
	Address string `yaml:"address" json:"address"`
}

// TokenURL links to the token page filtered on a holder address
func (n Network) TokenURL(token, holder string) string {
	return fmt.Sprintf("%s/token/%s?a=%s", strings.TrimRight(n.Explorer, "/"), token, holder)
}

// AddressURL links to an address page
func (n Network) AddressURL(addr string) string {
	return fmt.Sprintf("%s/address/%s", strings.TrimRight(n.Explorer, "/"), addr)
}

// Registry is the ordered set of known networks
type Registry struct {
	networks []Network
	byID     map[string]int
}

type registryFile struct {
	Networks []Network `yaml:"networks"`
}

// Default returns the registry compiled into the binary
func Default() *Registry {
	r, err := Parse(defaultRegistry)
	if err != nil {
		panic(fmt.Sprintf("embedded registry is invalid: %v", err))
	}
	return r
}

// Load reads a registry from path, or returns the default one when path is empty
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML registry document
func Parse(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}
	if len(file.Networks) == 0 {
		return nil, errors.New("registry defines no networks")
	}

	r := &Registry{byID: make(map[string]int, len(file.Networks))}
	for i, n := range file.Networks {
		n.ID = strings.ToUpper(strings.TrimSpace(n.ID))
		if err := validate(n); err != nil {
			return nil, fmt.Errorf("network %d (%s): %w", i, n.ID, err)
		}
		if _, dup := r.byID[n.ID]; dup {
			return nil, fmt.Errorf("duplicate network id %q", n.ID)
		}
		r.byID[n.ID] = len(r.networks)
		r.networks = append(r.networks, n)
	}
	return r, nil
}

func validate(n Network) error {
	if n.ID == "" {
		return errors.New("missing id")
	}
	if len(n.RPCURLs) == 0 {
		return errors.New("no rpc_urls")
	}
	if n.Explorer == "" {
		return errors.New("missing explorer")
	}
	if n.Stablecoin.Address != "" && !common.IsHexAddress(n.Stablecoin.Address) {
		return fmt.Errorf("invalid stablecoin address %q", n.Stablecoin.Address)
	}
	for _, w := range n.Wallets {
		if strings.TrimSpace(w.Label) == "" {
			return fmt.Errorf("wallet %s has no label", w.Address)
		}
		if !common.IsHexAddress(w.Address) {
			return fmt.Errorf("wallet %q has invalid address %q", w.Label, w.Address)
		}
	}
	return nil
}

// Get looks up a network by id, case-insensitively
func (r *Registry) Get(id string) (Network, bool) {
	idx, ok := r.byID[strings.ToUpper(strings.TrimSpace(id))]
	if !ok {
		return Network{}, false
	}
	return r.networks[idx], true
}

// IDs returns network ids in registry order
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.networks))
	for i, n := range r.networks {
		ids[i] = n.ID
	}
	return ids
}

// All returns every network in registry order
func (r *Registry) All() []Network {
	out := make([]Network, len(r.networks))
	copy(out, r.networks)
	return out
}
