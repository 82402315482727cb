package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/scribelog/scribec/config"
	"github.com/scribelog/scribec/internal"
)

var tmpConfig = config.New()

var RootCmd = &cobra.Command{
	Use:   "scribec",
	Short: "Forward log entries to a scribe collector",
	Long:  ``,
}

func init() {
	cobra.OnInitialize(initConfig)

	pflags := RootCmd.PersistentFlags()
	dconf := config.Default

	pflags.StringVarP(&tmpConfig.File, "config", "c", "",
		"load configuration from `FILE`")
	pflags.BoolVarP(&tmpConfig.Verbose, "verbose", "v", dconf.Verbose,
		"print debug output")
	pflags.StringVar(&tmpConfig.Host, "host", dconf.Host,
		"collector `HOST:PORT` to connect to")
	pflags.DurationVar(&tmpConfig.Timeout, "timeout", dconf.Timeout,
		"time to wait for writes to be acknowledged")
	pflags.DurationVar(&tmpConfig.DialTimeout, "dial-timeout", dconf.DialTimeout,
		"time to wait for the collector connection")
	pflags.StringVar(&tmpConfig.Category, "category", dconf.Category,
		"a `CATEGORY` for forwarded entries")

	internal.PanicOnError(viper.BindPFlag("host", pflags.Lookup("host")))
	internal.PanicOnError(viper.BindPFlag("timeout", pflags.Lookup("timeout")))
	internal.PanicOnError(viper.BindPFlag("dial-timeout", pflags.Lookup("dial-timeout")))
	internal.PanicOnError(viper.BindPFlag("category", pflags.Lookup("category")))
	internal.PanicOnError(viper.BindPFlag("verbose", pflags.Lookup("verbose")))

	RootCmd.AddCommand(WriteCmd)
	RootCmd.AddCommand(VersionCmd)
}

func initConfig() {
	if tmpConfig.File != "" {
		viper.SetConfigFile(tmpConfig.File)
	} else {
		viper.SetConfigName("scribec")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/scribec")
	}
	viper.SetEnvPrefix("scribec")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && tmpConfig.File != "" {
			fmt.Fprintf(os.Stderr, "reading config: %v\n", err)
			os.Exit(1)
		}
	}

	tmpConfig.Host = viper.GetString("host")
	tmpConfig.Timeout = viper.GetDuration("timeout")
	tmpConfig.DialTimeout = viper.GetDuration("dial-timeout")
	tmpConfig.Category = viper.GetString("category")
	tmpConfig.Verbose = viper.GetBool("verbose")
	if tmpConfig.Timeout == 0 {
		tmpConfig.Timeout = 10 * time.Second
	}

	if err := tmpConfig.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
}

func main() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
