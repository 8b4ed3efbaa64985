package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

var rootCmd = &cobra.Command{
	Use:          "scitexctl",
	Short:        "SciTeX Cloud job gateway",
	Long:         `Run the SciTeX Cloud job gateway and talk to it from the command line.`,
	Version:      version,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func main() {
	Execute()
}

func init() {
	cobra.OnInitialize(initClientConfig)

	rootCmd.PersistentFlags().String("server", "http://localhost:8000", "gateway URL used by the client commands")
	rootCmd.PersistentFlags().String("api-key", "", "API key used by the client commands")
	rootCmd.PersistentFlags().String("client-config", "", "client config file (default $HOME/.scitex/client.yaml)")
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("api_key", rootCmd.PersistentFlags().Lookup("api-key"))
}

// initClientConfig reads the client settings of the job commands from the
// client config file and SCITEX_* variables. Server settings live in
// scitex.yml and are read by the config package.
func initClientConfig() {
	if file, _ := rootCmd.PersistentFlags().GetString("client-config"); file != "" {
		viper.SetConfigFile(file)
	} else {
		viper.SetConfigName("client")
		viper.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home + "/.scitex")
		}
	}
	viper.SetEnvPrefix("scitex")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Warning: could not read client config: %v\n", err)
		}
	}
}

// exitOnError prints err and exits, the way every command reports failure.
func exitOnError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
		os.Exit(1)
	}
}
