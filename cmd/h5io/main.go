// Command h5io writes, reads and inspects array container files.
package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/robert-malhotra/go-h5io/config"
	"github.com/robert-malhotra/go-h5io/h5io"
)

var (
	configPath string
	logLevel   string

	conf        *config.Config
	datasetOpts []h5io.DatasetOption
)

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	RootCmd.AddCommand(WriteCmd)
	RootCmd.AddCommand(ReadCmd)
	RootCmd.AddCommand(InfoCmd)
	RootCmd.AddCommand(PrimesCmd)
}

// RootCmd is the main command for the 'h5io' binary.
var RootCmd = &cobra.Command{
	Use:           "h5io",
	Short:         "`h5io` moves matrices in and out of array container files",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		conf = config.Default()
		if configPath != "" {
			if conf, err = config.Load(configPath); err != nil {
				return err
			}
		}
		if logLevel != "" {
			conf.Log.Level = logLevel
		}
		if err := config.ConfigureLogging(conf.Log); err != nil {
			return err
		}
		datasetOpts, err = h5io.DatasetOptionsFromConfig(conf)
		return err
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Usage()
	},
}

// openFile opens path through a pool configured from the loaded config, so
// every subcommand shares its handle settings.
func openFile(path string, mode h5io.Mode) (*h5io.Pool, *h5io.FileHandle, error) {
	opts := append(h5io.PoolOptionsFromConfig(conf),
		h5io.WithHandleOptions(h5io.WithDatasetDefaults(datasetOpts...)))
	pool := h5io.NewPool(opts...)
	h, err := pool.Get(path, mode)
	if err != nil {
		pool.Free()
		return nil, nil, err
	}
	return pool, h, nil
}

func main() {
	if err := RootCmd.Execute(); err != nil {
		log.WithError(err).WithField("code", h5io.CodeOf(err).String()).Error("h5io failed")
		fmt.Fprintf(os.Stderr, "h5io: %v\n", err)
		os.Exit(1)
	}
}
