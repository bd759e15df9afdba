// Command headerd runs the headers-only P2P node core as a standalone
// process, wiring the coordinator together with gocore-sourced bootstrap
// configuration, mirroring the teacher's own main.go init()/gocore.Log
// bootstrap sequence (minus the multi-binary cmd dispatcher, which has no
// analogue here: this module builds a single binary).
//
// chainstore.ChainStore is an external collaborator this core never
// implements (chainstore/chainstore.go); the in-memory reference store
// under chainstore/memory exists purely so this binary has something
// runnable to hand the coordinator. A real deployment links its own
// ChainStore in place of chainstore/memory.
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bitcoin-sv/headerd/chaincfg"
	"github.com/bitcoin-sv/headerd/chainstore/memory"
	"github.com/bitcoin-sv/headerd/connmgr"
	"github.com/bitcoin-sv/headerd/coordinator"
	"github.com/bitcoin-sv/headerd/ulogger"
	"github.com/ordishs/gocore"
)

const progname = "headerd"

func init() {
	gocore.SetInfo(progname, "dev", "none")
	gocore.Log(progname)

	gocore.AddAppPayloadFn("CONFIG", func() interface{} {
		return gocore.Config().GetAll()
	})
}

func main() {
	logLevel, _ := gocore.Config().Get("logLevel", "info")
	logger := ulogger.New(progname, logLevel)

	logger.Infof("%s starting\nSTATS\n%s", progname, gocore.Config().Stats())

	// The network, data directory and listen address have no built-in
	// default: each must be set in the configuration.
	for _, key := range []string{"network", "datadir", "listen_addr"} {
		if v, ok := gocore.Config().Get(key); !ok || v == "" {
			logger.Errorf("%s must be set explicitly", key)
			os.Exit(1)
		}
	}

	params, err := chaincfg.FromConfig()
	if err != nil {
		logger.Errorf("unknown network: %v", err)
		os.Exit(1)
	}

	dataDir, _ := gocore.Config().Get("datadir")
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		logger.Errorf("create datadir %s: %v", dataDir, err)
		os.Exit(1)
	}

	listenAddr, _ := gocore.Config().Get("listen_addr")

	maxOutbound, _ := gocore.Config().GetInt("max_outbound", 8)
	maxInbound, _ := gocore.Config().GetInt("max_inbound", 125)
	maxPerIP, _ := gocore.Config().GetInt("max_per_ip", 2)

	chainStore := memory.New(params, logger.New("chainstore"))

	cfg := coordinator.Config{
		DataDir:    dataDir,
		ListenAddr: listenAddr,
		Params:     params,
		ChainStore: chainStore,
		ConnMgr: connmgr.Config{
			MaxOutbound: maxOutbound,
			MaxInbound:  maxInbound,
			MaxPerIP:    maxPerIP,
		},
		Logger: logger.New("coordinator"),
	}

	c := coordinator.New(cfg)

	if err := c.Start(); err != nil {
		logger.Errorf("start coordinator: %v", err)
		os.Exit(1)
	}

	logger.Infof("listening on %s, network %s, datadir %s", listenAddr, params.Name, dataDir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Infof("received %s, shutting down", sig)
	case <-c.Done():
		logger.Warnf("coordinator stopped unexpectedly")
	}

	if err := c.Stop(); err != nil {
		logger.Errorf("stop coordinator: %v", err)
	}

	// Give in-flight peer goroutines a moment to unwind before exit, the
	// same bounded grace period the teacher's store-close defers use.
	time.Sleep(100 * time.Millisecond)
}
