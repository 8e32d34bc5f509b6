package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fluxorio/nodelet/pkg/config"
	"github.com/fluxorio/nodelet/pkg/core"
	"github.com/fluxorio/nodelet/pkg/demo"
	"github.com/fluxorio/nodelet/pkg/loader"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "nodeletd",
		Short: "Run nodelet units in a single process",
		Long: `nodeletd loads nodelet units into one process. Every unit gets a
single-threaded and a multi-threaded callback queue, and all units share an
in-process bus for topics and services.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "config file (.yaml, .yml or .json)")

	root.AddCommand(newRunCmd(), newTypesCmd(), newConfigCmd())
	return root
}

// loadConfig reads --config, or returns the defaults when it is unset
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// newLoader creates a loader with every built-in unit type registered
func newLoader(opts ...loader.Option) (*loader.Loader, error) {
	l := loader.New(opts...)
	if err := demo.Register(l); err != nil {
		return nil, fmt.Errorf("registering demo units: %w", err)
	}
	return l, nil
}

func newTypesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List the unit types that can be loaded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := newLoader(loader.WithLogger(core.NopLogger()))
			if err != nil {
				return err
			}
			for _, t := range l.Types() {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration nodeletd would run with: the file given by
--config merged over the defaults, or just the defaults.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return cfg.Write(cmd.OutOrStdout(), format)
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", "yaml", "output format (yaml or json)")
	return cmd
}
