// Package cli provides the shared command-line scaffolding for the
// five Buzz binaries (main_fuse_local, main_fuse_aws, main_hbee_local,
// main_hbee_lambda, main_hcomb): global flags, config loading, and
// the version command. Each binary builds its own root command on top
// of New, supplying its role's RunE.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloudfuse-io/buzz-go/internal/config"
)

// coded is implemented by *errors.BuzzError (and, through promotion,
// every wrapper type embedding it), letting Execute map a returned
// error to its process exit code without importing each concrete type.
type coded interface {
	ExitCode() int
}

// CLI holds the command-line interface state shared by every binary.
type CLI struct {
	rootCmd *cobra.Command
	cfg     *config.Config

	configPath string
	Debug      bool
}

// New builds a CLI around use/short/long, with run as the root
// command's action.
func New(use, short, long string, run func(c *CLI, args []string) error) *CLI {
	c := &CLI{}
	c.rootCmd = &cobra.Command{
		Use:           use,
		Short:         short,
		Long:          long,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(c, args)
		},
	}
	c.rootCmd.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default: ~/.buzz/config.yaml)")
	c.rootCmd.PersistentFlags().BoolVar(&c.Debug, "debug", false, "verbose debug logs")
	c.rootCmd.AddCommand(newVersionCmd())
	return c
}

// Command exposes the root cobra.Command so a binary's main can
// register role-specific flags before calling Execute.
func (c *CLI) Command() *cobra.Command { return c.rootCmd }

// Config returns the loaded configuration; valid from RunE onward.
func (c *CLI) Config() *config.Config { return c.cfg }

// Execute runs the CLI and maps the returned error to a process exit
// code through the shared BuzzError taxonomy (spec §7).
func (c *CLI) Execute() int {
	err := c.rootCmd.Execute()
	if err == nil {
		return 0
	}
	fmt.Fprintln(os.Stderr, err)
	for e := err; e != nil; e = unwrap(e) {
		if ce, ok := e.(coded); ok {
			return ce.ExitCode()
		}
	}
	return 1
}

func (c *CLI) initConfig() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}

func unwrap(err error) error {
	u, ok := err.(interface{ Unwrap() error })
	if !ok {
		return nil
	}
	return u.Unwrap()
}

