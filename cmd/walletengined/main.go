// Package main provides walletengined - a standalone wallet transfer
// engine daemon: opens or creates a wallet file, drives it against a
// CryptoNote daemon's JSON-RPC interface, and keeps it synced until
// interrupted.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cryptonote-go/walletengine/internal/config"
	"github.com/cryptonote-go/walletengine/internal/cryptonote"
	"github.com/cryptonote-go/walletengine/internal/engine"
	"github.com/cryptonote-go/walletengine/internal/node"
	"github.com/cryptonote-go/walletengine/internal/walletkeys"
	"github.com/cryptonote-go/walletengine/pkg/helpers"
	"github.com/cryptonote-go/walletengine/pkg/logging"
)

var version = "0.1.0-dev"

func main() {
	var (
		dataDir     = flag.String("data-dir", "~/.walletengine", "Data directory")
		nodeURL     = flag.String("node", "", "Node JSON-RPC endpoint, overrides config")
		nodeWS      = flag.String("node-ws", "", "Node push-subscription websocket endpoint, overrides config")
		generate    = flag.Bool("generate", false, "Generate a new account if no wallet file exists")
		mnemonic    = flag.String("mnemonic", "", "Restore from a BIP-39 mnemonic instead of generating a fresh account")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("walletengined %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *nodeURL != "" {
		cfg.NodeEndpoint = *nodeURL
	}
	if *nodeWS != "" {
		cfg.NodeSubscribeEndpoint = *nodeWS
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	log := logging.New(&logging.Config{Level: cfg.Logging.Level, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	crypto := cryptonote.New()
	nodeClient := node.NewClient(cfg.NodeEndpoint, cfg.NodeSubscribeEndpoint, 30*time.Second, log)
	listener := &cliListener{log: log.Component("wallet")}

	walletPath := filepath.Join(expandPath(cfg.Storage.DataDir), "wallet.bin")
	password := readPassword("Wallet password: ")

	var w *engine.Wallet
	if _, statErr := os.Stat(walletPath); os.IsNotExist(statErr) {
		if !*generate {
			log.Fatal("no wallet file found; rerun with -generate to create one", "path", walletPath)
		}
		w, err = createWallet(cfg, crypto, nodeClient, listener, log, walletPath, password, *mnemonic)
	} else {
		w, err = engine.Load(walletPath, password, cfg, crypto, nodeClient, listener, log)
	}
	if err != nil {
		log.Fatal("open wallet", "error", err)
	}

	historyPath := filepath.Join(expandPath(cfg.Storage.DataDir), cfg.Storage.HistoryDBFile)
	if err := w.EnableHistory(historyPath); err != nil {
		log.Warn("history index disabled", "error", err)
	} else {
		defer w.CloseHistory()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go w.Run(ctx)

	unlocked, total := w.GetBalance()
	log.Info("wallet opened",
		"unlocked", helpers.FormatAmount(unlocked, cfg.DisplayDecimals),
		"total", helpers.FormatAmount(total, cfg.DisplayDecimals),
	)

	stopSync := startSyncLoop(ctx, w, cfg, log)
	defer stopSync()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	cancel()
	if err := w.Save(walletPath, password, true); err != nil {
		log.Error("save wallet on shutdown", "error", err)
	}
	log.Info("goodbye")
}

type cliListener struct {
	log *logging.Logger
}

func (l *cliListener) SynchronizationProgress(height uint32) {
	l.log.Debug("sync progress", "height", height)
}
func (l *cliListener) SynchronizationCompleted(height uint32) {
	l.log.Info("sync completed", "height", height)
}
func (l *cliListener) SynchronizationFailed(err error) {
	l.log.Error("synchronization failed, wallet state may be stale until restarted", "error", err)
}
func (l *cliListener) BalanceChanged() {
	l.log.Info("balance changed")
}
func (l *cliListener) SendTransactionCompleted(walletTxID uint64, err error) {
	if err != nil {
		l.log.Error("send failed", "wallet_tx_id", walletTxID, "error", err)
		return
	}
	l.log.Info("send completed", "wallet_tx_id", walletTxID)
}

func createWallet(cfg *config.Config, crypto cryptonote.Crypto, n node.Node, listener engine.Listener, log *logging.Logger, path, password, mnemonic string) (*engine.Wallet, error) {
	var (
		keys walletkeys.AccountKeys
		err  error
	)
	if mnemonic != "" {
		keys, err = walletkeys.NewAccountFromMnemonic(crypto, mnemonic, "")
	} else {
		var phrase string
		phrase, err = walletkeys.NewMnemonic()
		if err == nil {
			keys, err = walletkeys.NewAccountFromMnemonic(crypto, phrase, "")
		}
		if err == nil {
			log.Warn("record this recovery phrase now, it will not be shown again", "mnemonic", phrase)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("generate account: %w", err)
	}

	w := engine.New(cfg, keys, crypto, n, listener, log)
	if err := w.Save(path, password, false); err != nil {
		return nil, fmt.Errorf("save new wallet: %w", err)
	}

	address := walletkeys.EncodeAddress(walletkeys.DefaultAddressTag, keys.SpendPublic, keys.ViewPublic)
	log.Info("created new wallet", "address", address, "path", path)
	return w, nil
}

func startSyncLoop(ctx context.Context, w *engine.Wallet, cfg *config.Config, log *logging.Logger) func() {
	done := make(chan struct{})
	go func() {
		defer close(done)
		syncTicker := time.NewTicker(cfg.SyncPollInterval)
		poolTicker := time.NewTicker(cfg.PoolPollInterval)
		defer syncTicker.Stop()
		defer poolTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-syncTicker.C:
				if err := w.SyncOnce(ctx); err != nil {
					log.Warn("sync round failed", "error", err)
				}
			case <-poolTicker.C:
				if err := w.PoolRound(ctx, uint64(time.Now().Unix())); err != nil {
					log.Warn("pool round failed", "error", err)
				}
			}
		}
	}()
	return func() { <-done }
}

func readPassword(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return strings.TrimRight(line, "\r\n")
}

func expandPath(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
