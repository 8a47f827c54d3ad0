package cmd

import (
	"fmt"
	"os"

	"github.com/marketchat/marketchat-go/marketchat"
	"github.com/marketchat/marketchat-go/marketchat/rest"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile    string
	restClient *rest.Client
)

const (
	endpointsKey = "endpoints"
	restBaseKey  = "rest_base"
	tokenKey     = "token"
	userIDKey    = "user_id"
	userNameKey  = "user_name"
	userEmailKey = "user_email"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "marketchat",
	Short: "Command-line client for the marketplace chat backend.",
	Long: `marketchat talks to the marketplace chat backend: list the rooms you
participate in, read message history, and open a live chat session.

Configuration is read from ~/.marketchat.yaml (or --config) and from
MARKETCHAT_* environment variables. Required keys: endpoints (socket URLs
in preference order), rest_base, token, user_id, user_name.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		base := viper.GetString(restBaseKey)
		if base == "" {
			return fmt.Errorf("rest_base is not configured (see --config)")
		}
		restClient = rest.NewClient(base)
		restClient.SetToken(viper.GetString(tokenKey))
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.marketchat.yaml)")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".marketchat")
	}

	viper.SetEnvPrefix("marketchat")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "using config file:", viper.ConfigFileUsed())
	}
}

// sessionConfig assembles the SDK config from viper keys.
func sessionConfig() marketchat.Config {
	cfg := marketchat.DefaultConfig()
	cfg.Endpoints = viper.GetStringSlice(endpointsKey)
	cfg.RESTBase = viper.GetString(restBaseKey)
	return cfg
}

func sessionIdentity() marketchat.Identity {
	return marketchat.Identity{
		UserID: viper.GetInt64(userIDKey),
		Name:   viper.GetString(userNameKey),
		Email:  viper.GetString(userEmailKey),
		Token:  viper.GetString(tokenKey),
	}
}
