// Package dispatcher implements the command-to-handler registry and the
// pre-VERACK gating policy (spec.md §4.4). Grounded on the switch-based
// command dispatch in
// other_examples/f8e41bd4_2tbmz9y2xt-lang-rubin-protocol__clients-go-node-p2p-peer.go.go
// (its Peer.Run loop dispatching by msg.Command to a PeerHandler), here
// generalized from a fixed switch into a registerable map so the dispatcher
// doesn't need to know about connmgr/netsync/relay/addrmgr's handler set at
// compile time.
package dispatcher

import (
	"sync"

	"github.com/bitcoin-sv/headerd/peer"
	"github.com/bitcoin-sv/headerd/ulogger"
	"github.com/bitcoin-sv/headerd/wire"
)

// Handler processes one decoded message for p. A false return signals a
// handler-level failure, distinct from "not found" (which always succeeds).
type Handler func(p *peer.Peer, msg wire.Message) bool

// gatedCommands lists the commands silently dropped before a peer's
// handshake latches (spec.md §4.3's pre-VERACK gating). version/verack
// drive the handshake itself and are never gated; ping/pong are liveness
// and always allowed.
var gatedCommands = map[wire.Command]struct{}{
	wire.CmdGetHeaders: {},
	wire.CmdHeaders:    {},
	wire.CmdInv:        {},
	wire.CmdAddr:       {},
	wire.CmdGetAddr:    {},
}

// Dispatcher is the command registry, consulted once per decoded message.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[wire.Command]Handler
	logger   ulogger.Logger
}

// New returns an empty Dispatcher.
func New(logger ulogger.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[wire.Command]Handler),
		logger:   logger,
	}
}

// Register installs h for cmd, replacing any existing handler.
func (d *Dispatcher) Register(cmd wire.Command, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[cmd] = h
}

// Dispatch looks up and invokes the handler for cmd against p. An unknown
// command, or one gated before the peer's handshake latches, is ignored and
// reported as success (spec.md §4.4/§4.3). A handler panic is recovered,
// logged, and reported as a handler failure rather than crashing the
// reactor goroutine.
func (d *Dispatcher) Dispatch(p *peer.Peer, cmd wire.Command, msg wire.Message) (ok bool) {
	if _, gated := gatedCommands[cmd]; gated && !p.SuccessfullyConnected() {
		return true
	}

	d.mu.RLock()
	h, found := d.handlers[cmd]
	d.mu.RUnlock()

	if !found {
		return true
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorf("dispatcher: handler for %q panicked: %v", cmd, r)
			ok = false
		}
	}()

	return h(p, msg)
}
