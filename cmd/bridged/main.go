// Command bridged runs the Aurigraph cross-chain bridge coordination
// daemon.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aurigraph/bridge/internal/app"
	"github.com/aurigraph/bridge/internal/metrics"
	"github.com/aurigraph/bridge/internal/models"
	"github.com/aurigraph/bridge/internal/services/atomicswap"
	"github.com/aurigraph/bridge/internal/services/audit"
	"github.com/aurigraph/bridge/internal/services/msgqueue"
	"github.com/aurigraph/bridge/internal/services/multisig"
	"github.com/aurigraph/bridge/internal/services/orchestrator"
	"github.com/aurigraph/bridge/internal/services/validatorkeys"
	"github.com/aurigraph/chainadapter"
	"github.com/aurigraph/chainadapter/aurigraph"
	"github.com/aurigraph/chainadapter/bitcoin"
	"github.com/aurigraph/chainadapter/evm"
	"github.com/aurigraph/chainadapter/simulated"
	"github.com/aurigraph/chainadapter/solana"
	"github.com/aurigraph/chainadapter/substrate"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const version = "0.3.0"

var configPath string

func main() {
	// .env is optional; it seeds BRIDGE_CONFIG and secrets for local runs.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "bridged",
		Short: "Aurigraph cross-chain bridge coordination daemon",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("BRIDGE_CONFIG"), "path to YAML config")

	root.AddCommand(runCmd(), validatorsCmd(), versionCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bridge node",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync()

			cfg, err := app.Load(configPath)
			if err != nil {
				return err
			}
			return runNode(cmd.Context(), logger, cfg)
		},
	}
}

func runNode(ctx context.Context, logger *zap.Logger, cfg *app.Config) error {
	registry, err := buildRegistry(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer registry.ShutdownAll(context.Background())

	keys, err := buildKeystore(cfg)
	if err != nil {
		return err
	}

	ms := multisig.NewEngine(logger)
	for i := 0; i < cfg.ValidatorCount(); i++ {
		validator, err := keys.DeriveValidator(uint32(i))
		if err != nil {
			return err
		}
		ms.RegisterValidator(validator)
	}
	logger.Info("validator set ready",
		zap.Int("active", ms.ActiveCount()),
		zap.Int("threshold", ms.Threshold()))

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	queue := msgqueue.NewQueue(logger)

	var auditLog *audit.Logger
	if path := cfg.AuditLogPath(); path != "" {
		if auditLog, err = audit.NewLogger(path); err != nil {
			return err
		}
	}

	orcOpts := []orchestrator.Option{orchestrator.WithMetrics(m)}
	if auditLog != nil {
		orcOpts = append(orcOpts, orchestrator.WithAuditLog(auditLog))
	}
	orc := orchestrator.New(logger, orchestrator.Config{
		Timeout:               cfg.TransferTimeout(),
		MultiSigEnabled:       cfg.MultiSigEnabled(),
		ConfirmationOverrides: cfg.ConfirmationOverrides(registry.ChainIDs()),
	}, registry, ms, keys, queue, orcOpts...)

	var swaps *atomicswap.Engine
	if cfg.AtomicSwapEnabled() {
		swaps = atomicswap.NewEngine(logger, atomicswap.WithTimeout(cfg.AtomicSwapTimeout()))
		logger.Info("atomic swap engine enabled",
			zap.Duration("timeout", cfg.AtomicSwapTimeout()))
	}

	// Prometheus endpoint.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: cfg.MetricsListen(), Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("metrics listening", zap.String("addr", cfg.MetricsListen()))

	// Queue dispatcher loop: acknowledge intents against their chains.
	dispatchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go dispatchLoop(dispatchCtx, logger, queue, registry, m)
	if swaps != nil {
		go swapExpirySweep(dispatchCtx, logger, swaps, m)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
	orc.Wait()
	return nil
}

// dispatchLoop drains the message queue on a fixed cadence, verifying
// the referenced transaction with the destination chain's adapter.
func dispatchLoop(ctx context.Context, logger *zap.Logger, queue *msgqueue.Queue,
	registry *chainadapter.Registry, m *metrics.Metrics) {

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		processed, err := queue.ProcessPending(ctx,
			func(ctx context.Context, msg *models.CrossChainMessage) (string, error) {
				return dispatchMessage(ctx, registry, msg)
			})
		if err != nil && err != context.Canceled {
			logger.Warn("queue drain interrupted", zap.Error(err))
		}
		if processed > 0 {
			logger.Debug("queue drained", zap.Int("processed", processed))
		}
		for _, chain := range registry.ChainIDs() {
			m.SetQueueDepth(chain, queue.QueueStatus(chain).Pending)
		}
	}
}

// dispatchMessage confirms the referenced transaction is visible on the
// destination chain and returns its status as the delivery receipt.
// Messages without a tx reference are delivered as-is.
func dispatchMessage(ctx context.Context, registry *chainadapter.Registry, msg *models.CrossChainMessage) (string, error) {
	adapter, ok := registry.Get(msg.TargetChain)
	if !ok {
		return "", fmt.Errorf("no adapter for chain %q", msg.TargetChain)
	}

	var payload struct {
		TxHash string `json:"txHash"`
	}
	_ = json.Unmarshal(msg.Payload, &payload)
	if payload.TxHash == "" {
		return "accepted", nil
	}
	info, err := adapter.TransactionStatus(ctx, payload.TxHash)
	if err != nil {
		return "", err
	}
	return string(info.Status), nil
}

// swapExpirySweep refunds swaps whose deadline passed without
// completion.
func swapExpirySweep(ctx context.Context, logger *zap.Logger, swaps *atomicswap.Engine, m *metrics.Metrics) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, swap := range swaps.ListSwaps() {
			if swap.Status.Terminal() || !swap.Expired(time.Now()) {
				continue
			}
			if _, err := swaps.RefundSwap(swap.ID, "expired"); err != nil {
				logger.Debug("expiry refund skipped",
					zap.String("swapId", swap.ID),
					zap.Error(err))
				continue
			}
			m.ObserveSwap(string(models.SwapRefunded))
		}
	}
}

func validatorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validators",
		Short: "Print the derived validator set",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.Load(configPath)
			if err != nil {
				return err
			}
			keys, err := buildKeystore(cfg)
			if err != nil {
				return err
			}
			for i := 0; i < cfg.ValidatorCount(); i++ {
				v, err := keys.DeriveValidator(uint32(i))
				if err != nil {
					return err
				}
				fmt.Printf("%s\t%s\n", v.ID, v.PublicKey)
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the bridged version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("bridged", version)
		},
	}
}

// buildKeystore derives the local validator keystore, generating a
// fresh mnemonic when none is configured.
func buildKeystore(cfg *app.Config) (*validatorkeys.Service, error) {
	mnemonic := cfg.ValidatorMnemonic()
	if mnemonic == "" {
		var err error
		if mnemonic, err = validatorkeys.GenerateMnemonic(); err != nil {
			return nil, err
		}
	}
	return validatorkeys.NewFromMnemonic(mnemonic, "")
}

// buildRegistry creates and initializes the adapter per configured
// chain. Chains without an rpc.url run on the simulated adapter with
// the configured processing window.
func buildRegistry(ctx context.Context, logger *zap.Logger, cfg *app.Config) (*chainadapter.Registry, error) {
	registry := chainadapter.NewRegistry()

	simOpts := []simulated.Option{simulated.WithSendDelay(cfg.ProcessingDelayMin())}
	adapters := map[string]chainadapter.ChainAdapter{
		"ethereum":  evm.NewAdapter(evm.Ethereum),
		"bsc":       evm.NewAdapter(evm.BSC),
		"polygon":   evm.NewAdapter(evm.Polygon),
		"avalanche": evm.NewAdapter(evm.Avalanche),
		"solana":    solana.NewAdapter(),
		"polkadot":  substrate.NewAdapter(),
		"bitcoin":   bitcoin.NewAdapter(),
		"aurigraph": aurigraph.NewAdapter(simOpts...),
	}

	for chainID, adapter := range adapters {
		acfg := cfg.AdapterConfig(chainID)
		if acfg.RPCURL == "" && chainID != "aurigraph" {
			// No node configured: fall back to the simulated chain so the
			// bridge stays operable end to end.
			info := *adapter.Info()
			adapter = simulated.NewAdapter(info, simOpts...)
			logger.Info("using simulated adapter", zap.String("chain", chainID))
		}
		if err := adapter.Initialize(ctx, acfg); err != nil {
			return nil, fmt.Errorf("initialize %s adapter: %w", chainID, err)
		}
		if err := registry.Register(adapter); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
