package chaincfg

import (
	"github.com/bitcoin-sv/headerd/wire"
)

func genesis(bits uint32, time uint32) wire.BlockHeader {
	h := wire.BlockHeader{
		Version: 1,
		Time:    time,
		Bits:    bits,
		Nonce:   0,
	}

	return h
}

// MainNetParams is the production network.
var MainNetParams = func() Params {
	g := genesis(0x1d00ffff, 1231006505)
	p := Params{
		Name:                   "mainnet",
		Magic:                  0xf9beb4d9,
		DefaultPort:            "8633",
		DNSSeeds:               []string{"seed.headerd.example"},
		GenesisHeader:          g,
		PowLimitBits:           0x1d00ffff,
		TargetSpacingSeconds:   600,
		RetargetIntervalBlocks: 2016,
	}
	p.GenesisHash = g.BlockHash()

	return p
}()

// TestNetParams is the public test network. It uses mainnet's genesis bits
// and proof-of-work limit, and has no minimum-difficulty exception.
var TestNetParams = func() Params {
	g := genesis(0x1d00ffff, 1296688602)
	p := Params{
		Name:                   "testnet",
		Magic:                  0x0b110907,
		DefaultPort:            "18633",
		DNSSeeds:               []string{"testnet-seed.headerd.example"},
		GenesisHeader:          g,
		PowLimitBits:           0x1d00ffff,
		TargetSpacingSeconds:   600,
		RetargetIntervalBlocks: 2016,
	}
	p.GenesisHash = g.BlockHash()

	return p
}()

// RegtestParams is the local regression-test network: trivial difficulty,
// no retargeting, no DNS seeds (peers are added manually).
var RegtestParams = func() Params {
	g := genesis(0x207fffff, 1296688602)
	p := Params{
		Name:                   "regtest",
		Magic:                  0xfabfb5da,
		DefaultPort:            "18833",
		DNSSeeds:               nil,
		GenesisHeader:          g,
		PowLimitBits:           0x207fffff,
		TargetSpacingSeconds:   600,
		RetargetIntervalBlocks: 0,
	}
	p.GenesisHash = g.BlockHash()

	return p
}()
