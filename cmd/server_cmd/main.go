package main

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/FusionX-io/bridge-go/cmd"
	"github.com/FusionX-io/bridge-go/logconfig"
)

const (
	ENV_CONFIG_FILE_PATH = "COORDINATOR_CONFIG"
)

func main() {
	logconfig.ConfigInfoLogger()

	// Tool to read environment variables
	viper.AutomaticEnv()

	// An optional configuration file; env vars alone are enough for the
	// simulated setup.
	_config_file := viper.GetString(ENV_CONFIG_FILE_PATH)
	if _config_file != "" {
		if !cmd.FileExists(_config_file) {
			fmt.Printf("Coordinator configuration file not found: %s\n", _config_file)
			return
		}
		if !initializeViper(_config_file) {
			return
		}
	}

	csc := PrepareCoordinatorServerConfig()

	fmt.Println("Starting coordinator server... press Ctrl+C to kill the server")
	cmd.StartCoordinatorServerAndWait(csc)
}

func initializeViper(filePath string) bool {
	viper.SetConfigFile(filePath)
	if err := viper.ReadInConfig(); err != nil {
		fmt.Printf("Error reading configuration file, %s", err)
		return false
	}
	return true
}

// PrepareCoordinatorServerConfig reads configuration variables and
// returns a CoordinatorServerConfig.
func PrepareCoordinatorServerConfig() *cmd.CoordinatorServerConfig {
	return &cmd.CoordinatorServerConfig{
		// eth side
		EthRpcUrl:             viper.GetString("ETH_RPC_URL"),
		EthEscrowContractAddr: viper.GetString("ETH_ESCROW_CONTRACT_ADDR"),
		EthPrivateKey:         viper.GetString("ETH_PRIVATE_KEY"),
		// stellar side
		StellarHorizonUrl:    viper.GetString("STELLAR_HORIZON_URL"),
		StellarPassphrase:    viper.GetString("STELLAR_PASSPHRASE"),
		StellarSourceAccount: viper.GetString("STELLAR_SOURCE_ACCOUNT"),
		// state side
		DbFilePath: viper.GetString("DB_FILE_PATH"),
		// rpc side
		HttpIp:   viper.GetString("HTTP_IP"),
		HttpPort: viper.GetString("HTTP_PORT"),
		// recovery side
		RecoveryOperators: viper.GetStringSlice("RECOVERY_OPERATORS"),
	}
}
