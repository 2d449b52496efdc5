package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kpotier/pairentropy/pkg/cfg"
)

func main() {
	log := logrus.StandardLogger()

	var verbose bool
	root := &cobra.Command{
		Use:   "pairentropy <run.toml>",
		Short: "Pair-entropy and radial-distribution calculations on trajectories",
		Long: `pairentropy dispatches the calculations listed in a TOML run file:
the differentiable pair entropy of a set of particles (value, per-atom
gradient and virial) and the kernel-smoothed radial distribution function.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			}
			c, err := cfg.New(args[0])
			if err != nil {
				return err
			}
			c.Start(log)
			return nil
		},
		SilenceUsage: true,
	}
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
