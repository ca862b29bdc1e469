// Command spvnode is the CLI entry point: load a per-network TOML
// config, initialize or load the chain/UTXO files, connect to the
// configured peer, and run the synchronization driver plus a small RPC
// listener.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"rubin.dev/spvnode/chain"
	"rubin.dev/spvnode/config"
	"rubin.dev/spvnode/driver"
	"rubin.dev/spvnode/params"
	"rubin.dev/spvnode/store"
	"rubin.dev/spvnode/utxo"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("spvnode", flag.ContinueOnError)
	fs.SetOutput(stderr)
	network := fs.String("network", "mainnet", "network name (mainnet|testnet)")
	configPath := fs.String("config", "", "path to TOML config file (optional)")
	userAgent := fs.String("user-agent", "/spvnode:0.1.0/", "P2P version message user agent")
	dryRun := fs.Bool("dry-run", false, "print effective config and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	netParams, ok := params.ByName(*network)
	if !ok {
		fmt.Fprintf(stderr, "spvnode: unknown network %q\n", *network)
		return 2
	}

	var file *config.File
	if *configPath != "" {
		f, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "spvnode: config load failed: %v\n", err)
			return 2
		}
		file = f
	}
	cfg, err := config.Resolve(file, *network)
	if err != nil {
		fmt.Fprintf(stderr, "spvnode: config resolve failed: %v\n", err)
		return 2
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: debugLevelToSlog(cfg.DebugLevel)}))

	if *dryRun {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(cfg)
		return 0
	}

	for _, dir := range []string{
		filepath.Dir(cfg.BlockchainPath),
		filepath.Dir(cfg.UtxoSetPath),
		filepath.Dir(cfg.WalletPath),
	} {
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				fmt.Fprintf(stderr, "spvnode: creating data directory failed: %v\n", err)
				return 1
			}
		}
	}

	undoLogPath := store.DefaultUndoLogPath(*network)
	if err := os.MkdirAll(filepath.Dir(undoLogPath), 0o750); err != nil {
		fmt.Fprintf(stderr, "spvnode: creating undo log directory failed: %v\n", err)
		return 1
	}
	undoLog, err := store.OpenUndoLog(undoLogPath)
	if err != nil {
		logger.Error("fatal: undo log open failed", "err", err)
		return 1
	}
	defer undoLog.Close()

	chainState, loaded, err := store.LoadChain(cfg.BlockchainPath, logger)
	if err != nil {
		logger.Error("fatal: blockchain load failed", "err", err)
		return 1
	}
	if !loaded {
		logger.Info("no blockchain file found, starting from genesis", "network", netParams.Name)
		chainState = chain.NewHeaderChain(netParams.Genesis, logger)
	}

	utxoSet, loaded, err := store.LoadUtxoSet(cfg.UtxoSetPath, undoLog)
	if err != nil {
		logger.Error("fatal: utxo set load failed", "err", err)
		return 1
	}
	if !loaded {
		logger.Info("no utxo set file found, starting empty", "network", netParams.Name)
		utxoSet = utxo.NewSet(chainState.GenesisHash(), undoLog)
	}

	d := driver.New(driver.Config{
		Logger:    logger,
		Network:   netParams,
		PeerAddr:  fmt.Sprintf("%s:%d", cfg.PeerAddr, cfg.PeerPort),
		UserAgent: *userAgent,
		ChainPath: cfg.BlockchainPath,
		UtxoPath:  cfg.UtxoSetPath,
		UndoLog:   undoLog,
		Chain:     chainState,
		Utxo:      utxoSet,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := d.Connect(ctx); err != nil {
		logger.Error("fatal: initial peer connect failed", "err", err)
		return 1
	}

	rpcAddr := fmt.Sprintf("%s:%d", cfg.RPCAddr, cfg.RPCPort)
	listener, err := net.Listen("tcp", rpcAddr)
	if err != nil {
		logger.Error("fatal: rpc listener bind failed", "err", err)
		return 1
	}
	defer listener.Close()
	go serveRPC(ctx, listener, d, logger)

	if err := d.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("driver exited", "err", err)
		return 1
	}
	return 0
}

func debugLevelToSlog(level config.DebugLevel) slog.Level {
	switch level {
	case config.Debug:
		return slog.LevelDebug
	case config.Notice, config.Status:
		return slog.LevelInfo
	case config.Warning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
