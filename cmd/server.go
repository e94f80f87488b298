// Server = chain adapters + state/store + event bus + orchestrator +
// recovery monitor + rpc transport. All components are configured via
// environment variables (strings!).

package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	logger "github.com/sirupsen/logrus"

	"github.com/FusionX-io/bridge-go/bridge"
	"github.com/FusionX-io/bridge-go/chain"
	"github.com/FusionX-io/bridge-go/etherman"
	"github.com/FusionX-io/bridge-go/eventbus"
	"github.com/FusionX-io/bridge-go/recovery"
	"github.com/FusionX-io/bridge-go/rpc"
	"github.com/FusionX-io/bridge-go/state"
	"github.com/FusionX-io/bridge-go/stellarman"
)

// Default params for the server. More often we don't recommend users
// to tweak those, so they live here rather than in the config.
const (
	recoveryScanInterval = 30 * time.Second
	recoveryGracePeriod  = 5 * time.Minute

	confirmAttempts = 30
	confirmInterval = 2 * time.Second

	eventHistorySize = 10000
)

// Keep the configuration's fields as "text" as possible. Its easier to
// load from env vars or a config file.
type CoordinatorServerConfig struct {
	// eth side; empty rpc url selects the in-memory simulated chain
	EthRpcUrl             string
	EthEscrowContractAddr string
	EthPrivateKey         string

	// stellar side; empty horizon url selects the in-memory simulated chain
	StellarHorizonUrl    string
	StellarPassphrase    string
	StellarSourceAccount string

	// state side
	DbFilePath string // empty = in-memory

	// rpc side
	HttpIp   string // eg. 0.0.0.0
	HttpPort string // eg. 8080

	// recovery side
	RecoveryOperators []string // initiators allowed to force recovery
}

// CoordinatorServer holds the objects the coordinator consists of.
type CoordinatorServer struct {
	MyStateDb   *state.StateDB
	MyStore     *state.Store
	MyBus       *eventbus.Bus
	MySrcChain  chain.Adapter
	MyDstChain  chain.Adapter
	MyOrc       *bridge.Orchestrator
	MyRecoverDb *recovery.RequestDB
	MyMonitor   *recovery.Monitor
	MyRpc       *rpc.Server
}

// NewCoordinatorServer wires every component and turns on the long
// running loops. ctx cancels them; wg waits for them to finish.
func NewCoordinatorServer(csc *CoordinatorServerConfig, ctx context.Context, wg *sync.WaitGroup) (*CoordinatorServer, error) {
	dbPath := csc.DbFilePath
	if dbPath == "" {
		dbPath = ":memory:"
	}
	sqldb, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		logger.Fatalf("failed to open db file: %v", err)
		return nil, err
	}

	myStateDb, err := state.NewStateDB(sqldb)
	if err != nil {
		logger.Fatalf("failed to create state db: %v", err)
		return nil, err
	}

	myStore := state.NewStore(myStateDb, state.DefaultConfig())

	busCfg := eventbus.DefaultConfig()
	busCfg.HistorySize = eventHistorySize
	myBus := eventbus.New(busCfg)

	srcChain, err := setupEthChain(csc)
	if err != nil {
		logger.Fatalf("failed to create eth adapter: %v", err)
		return nil, err
	}
	dstChain := setupStellarChain(csc)

	myOrc := bridge.New(myStore, myBus, srcChain, dstChain)

	myRecoverDb, err := recovery.NewRequestDB(sqldb)
	if err != nil {
		logger.Fatalf("failed to create recovery db: %v", err)
		return nil, err
	}

	recoveryCfg := recovery.DefaultConfig()
	recoveryCfg.ScanInterval = recoveryScanInterval
	recoveryCfg.GracePeriod = recoveryGracePeriod
	recoveryCfg.Operators = csc.RecoveryOperators
	myMonitor := recovery.NewMonitor(recoveryCfg, myStore, myOrc, myBus, myRecoverDb)

	rpcCfg := rpc.DefaultConfig()
	if csc.HttpIp != "" {
		rpcCfg.ListenIP = csc.HttpIp
	}
	if csc.HttpPort != "" {
		rpcCfg.ListenPort = csc.HttpPort
	}
	myRpc := rpc.NewServer(rpcCfg, myOrc, myBus)

	// Important: turn on the long running loops!
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := myMonitor.Start(ctx); err != nil && err != context.Canceled {
			logger.Errorf("recovery monitor stopped: %v", err)
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := myRpc.Start(ctx); err != nil {
			logger.Errorf("rpc server stopped: %v", err)
		}
	}()
	// Don't forget to call wg.Wait() in the main routine.

	return &CoordinatorServer{
		MyStateDb:   myStateDb,
		MyStore:     myStore,
		MyBus:       myBus,
		MySrcChain:  srcChain,
		MyDstChain:  dstChain,
		MyOrc:       myOrc,
		MyRecoverDb: myRecoverDb,
		MyMonitor:   myMonitor,
		MyRpc:       myRpc,
	}, nil
}

func setupEthChain(csc *CoordinatorServerConfig) (chain.Adapter, error) {
	if csc.EthRpcUrl == "" {
		logger.Warn("no eth rpc url, using simulated ethereum chain")
		return chain.NewSimChain("ethereum"), nil
	}

	cfg := etherman.DefaultConfig()
	cfg.URL = csc.EthRpcUrl
	cfg.EscrowContractAddress = csc.EthEscrowContractAddr
	cfg.PrivateKey = csc.EthPrivateKey
	cfg.ConfirmAttempts = confirmAttempts
	cfg.ConfirmInterval = confirmInterval
	return etherman.NewEtherman(cfg)
}

func setupStellarChain(csc *CoordinatorServerConfig) chain.Adapter {
	if csc.StellarHorizonUrl == "" {
		logger.Warn("no horizon url, using simulated stellar chain")
		return chain.NewSimChain("stellar")
	}

	cfg := stellarman.DefaultConfig()
	cfg.HorizonURL = csc.StellarHorizonUrl
	cfg.SourceAccount = csc.StellarSourceAccount
	if csc.StellarPassphrase != "" {
		cfg.NetworkPassphrase = csc.StellarPassphrase
	}
	cfg.ConfirmAttempts = confirmAttempts
	cfg.ConfirmInterval = confirmInterval
	return stellarman.NewStellarman(cfg, stellarman.JSONSigner{
		NetworkPassphrase: cfg.NetworkPassphrase,
	})
}

// Create, then start the coordinator server and wait. Press Ctrl-C to
// kill the server.
func StartCoordinatorServerAndWait(csc *CoordinatorServerConfig) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		fmt.Printf("Received signal: %v, cancelling context...\n", sig)
		cancel()
	}()

	var wg sync.WaitGroup

	_, err := NewCoordinatorServer(csc, ctx, &wg)
	if err != nil {
		logger.Fatalf("failed to create coordinator server: %v", err)
		return
	}

	wg.Wait()
}

// FileExists reports whether the path names an existing regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
