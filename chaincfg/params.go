// Package chaincfg defines the per-network parameters (magic bytes, default
// port, genesis header, checkpoints) that the rest of the core is
// parameterized over, grounded on pkg/go-chaincfg/params.go's Params/Register
// shape but trimmed to what a headers-only chain needs: no address encoding,
// no HD key magics, no consensus-deployment voting, no cashaddress prefixes.
package chaincfg

import (
	"fmt"

	"github.com/bitcoin-sv/headerd/wire"
	"github.com/libsv/go-bt/v2/chainhash"
	"github.com/ordishs/gocore"
)

// Checkpoint pins a known-good header at a given height, used to reject
// low-work chains during sync (spec.md §5).
type Checkpoint struct {
	Height int32
	Hash   chainhash.Hash
}

// Params defines the network parameters for one headers-only network.
type Params struct {
	// Name is the human-readable network identifier ("mainnet", "testnet", ...).
	Name string

	// Magic is the 4-byte value every message frame must carry (spec.md §4.1).
	Magic uint32

	// DefaultPort is the default peer-to-peer TCP port.
	DefaultPort string

	// DNSSeeds lists hostnames used for initial peer discovery.
	DNSSeeds []string

	// GenesisHeader is the first header of the chain.
	GenesisHeader wire.BlockHeader

	// GenesisHash is the hash of GenesisHeader, cached to avoid recomputing it.
	GenesisHash chainhash.Hash

	// PowLimitBits is the easiest allowed difficulty target, in compact form.
	PowLimitBits uint32

	// TargetSpacingSeconds is the intended time between headers.
	TargetSpacingSeconds uint32

	// RetargetIntervalBlocks is the number of blocks between difficulty
	// retargets; zero means no retargeting (e.g. a fixed-difficulty regtest).
	RetargetIntervalBlocks uint32

	// Checkpoints are ordered oldest to newest.
	Checkpoints []Checkpoint

	// MinChainWork is the minimum cumulative work a peer's advertised chain
	// must clear before the sync orchestrator will follow it (spec.md §5's
	// low-work-headers rejection).
	MinChainWork *chainhash.Hash
}

var registered = make(map[string]*Params)

// Register adds params to the registry, keyed by Name. Re-registering the
// same name overwrites the prior entry, which test code relies on.
func Register(params *Params) {
	registered[params.Name] = params
}

// Get returns the registered params for name, or an error if unregistered.
func Get(name string) (*Params, error) {
	p, ok := registered[name]
	if !ok {
		return nil, fmt.Errorf("chaincfg: unknown network %q", name)
	}

	return p, nil
}

// FromConfig reads the "network" key via gocore and resolves it to Params.
func FromConfig() (*Params, error) {
	network, _ := gocore.Config().Get("network", "mainnet")
	return Get(network)
}

func init() {
	Register(&MainNetParams)
	Register(&TestNetParams)
	Register(&RegtestParams)
}
