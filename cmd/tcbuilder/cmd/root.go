// Copyright © 2018 One Concern

package cmd

import (
	"os"

	"github.com/oneconcern/tcbuilder/pkg/dlogger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tcbuilder",
	Short: "tcbuilder customizes TorizonCore images",
	Long: `tcbuilder customizes TorizonCore images.

An image is first unpacked into a storage area, where its root filesystem becomes the base
commit. Configuration changes made on a device are isolated into change sets, which are
composed onto the base commit. The resulting commit is then deployed as an installer
archive, a raw block image, or pushed straight to a device.

The whole sequence can also be described in a build manifest and run at once.
`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		started = true
		opts := []dlogger.Option{dlogger.Console(!tcbFlags.root.logJSON)}
		if tcbFlags.root.logFile != "" {
			opts = append(opts, dlogger.OutputPaths(tcbFlags.root.logFile))
		}
		l, err := dlogger.GetLogger(tcbFlags.root.logLevel, opts...)
		if err != nil {
			return errUsage.WrapMessage("--%s %q", logLevelFlag, tcbFlags.root.logLevel).Wrap(err)
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

var (
	config *CLIConfig
	logger = zap.NewNop()

	// started tells failures of a command from command line parsing errors
	started bool
)

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, cancel := signalContext()
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		report(err)
		osExit(exitCode(err))
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return errUsage.Wrap(err)
	})
	addStorageFlag(rootCmd)
	addLogLevelFlag(rootCmd)
	addLogFileFlag(rootCmd)
	addLogJSONFlag(rootCmd)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	viper.SetDefault("storage", defaultStorage)
	viper.SetDefault("loglevel", dlogger.LogLevelInfo)
	if os.Getenv("TCBUILDER_CONFIG") != "" {
		// Use config file from the flag.
		viper.SetConfigFile(os.Getenv("TCBUILDER_CONFIG"))
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.tcbuilder")
		viper.AddConfigPath("/etc/tcbuilder")
		viper.SetConfigName("tcbuilder")
	}

	viper.SetEnvPrefix("tcbuilder")
	viper.AutomaticEnv() // read in environment variables that match
	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		infoLogger.Println("Using config file:", viper.ConfigFileUsed())
	}
	var err error
	config, err = newConfig()
	if err != nil {
		wrapFatalWithCodef(exitCode(err), "%v", err)
		return
	}
	config.setFlags(&tcbFlags)
}
