package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"liberator/internal/config"
	"liberator/internal/logging"
)

var (
	cfgFile    string
	outputJSON bool

	v   = viper.New()
	cfg config.Config

	logCloser io.Closer

	rootCmd = &cobra.Command{
		Use:   "liberate",
		Short: "Move a hosted-platform project onto portable infrastructure",
		Long: `liberate scans a project exported from a hosted backend platform,
detects the constructs that tie it to the platform, converts them into
portable routes and middlewares, and packages or deploys the result.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			if logCloser != nil {
				_ = logCloser.Close()
			}
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "enable debug logs")
	rootCmd.PersistentFlags().StringP("log", "l", "", "also write logs to this file")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "print machine-readable JSON")
	if err := v.BindPFlag("log.file", rootCmd.PersistentFlags().Lookup("log")); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(scanCmd, convertCmd, packCmd, deployCmd, serveCmd)
}

func setup(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		c.Log.Level = "debug"
	}
	closer, err := logging.Setup(c.Log, os.Stderr)
	if err != nil {
		return err
	}
	logCloser = closer
	cfg = c
	return nil
}

// Execute runs the root command with a context cancelled on SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		log.Errorln(err)
	}
	return err
}

// emit prints v as indented JSON when --json is set, otherwise calls human.
func emit(w io.Writer, v any, human func(io.Writer)) error {
	if !outputJSON {
		human(w)
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
