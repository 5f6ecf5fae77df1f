package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/hcl"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	mdbCmd = &cobra.Command{
		Use:               "mdb",
		Short:             "A transactional database",
		Long:              "Mdb is a small transactional database with MVCC and a write-ahead log.",
		PersistentPostRun: mdbPostRun,
		SilenceUsage:      true,
	}

	logFile   = "mdb.log"
	logLevel  = "info"
	logStderr = false
	logOutput io.Closer

	configFile = "mdb.hcl"
	noConfig   = false

	// configFlags holds one flag per variable which may be set in the config file; commands
	// share these flags rather than defining their own.
	configFlags = pflag.NewFlagSet("config", pflag.ContinueOnError)
)

func init() {
	// Set here rather than in the literal to avoid an initialization cycle through applyConfig.
	mdbCmd.PersistentPreRunE = mdbPreRun

	log.SetFormatter(&log.TextFormatter{
		DisableLevelTruncation: true,
	})

	pfs := mdbCmd.PersistentFlags()
	configFlag(pfs, "log-file", func(cfs *pflag.FlagSet) {
		cfs.StringVar(&logFile, "log-file", logFile, "`file` to use for logging")
	})
	configFlag(pfs, "log-level", func(cfs *pflag.FlagSet) {
		cfs.StringVar(&logLevel, "log-level", logLevel,
			"log level: trace, debug, info, warn, error, fatal, or panic")
	})

	pfs.BoolVarP(&logStderr, "log-stderr", "s", logStderr, "log to standard error")
	pfs.StringVar(&configFile, "config-file", configFile, "`file` to load config from")
	pfs.BoolVar(&noConfig, "no-config", noConfig, "don't load config file")
}

// configFlag adds the config flag called name to flags, defining it the first time it is used.
func configFlag(flags *pflag.FlagSet, name string, define func(cfs *pflag.FlagSet)) {
	flg := configFlags.Lookup(name)
	if flg == nil {
		define(configFlags)
		flg = configFlags.Lookup(name)
	}
	flags.AddFlag(flg)
}

func Execute() error {
	return mdbCmd.Execute()
}

func mdbPreRun(cmd *cobra.Command, args []string) error {
	if err := applyConfig(); err != nil {
		return fmt.Errorf("mdb: %s", err)
	}
	if err := openLogOutput(); err != nil {
		return fmt.Errorf("mdb: %s", err)
	}

	log.WithFields(log.Fields{
		"pid":     os.Getpid(),
		"command": cmd.Name(),
	}).Info("mdb starting")
	return nil
}

func mdbPostRun(cmd *cobra.Command, args []string) {
	log.WithField("pid", os.Getpid()).Info("mdb done")

	if logOutput != nil {
		logOutput.Close()
		logOutput = nil
	}
}

// applyConfig loads the config file; the default file is optional, one named with
// --config-file is not.
func applyConfig() error {
	if noConfig || configFile == "" {
		return nil
	}

	err := loadConfig()
	if errors.Is(err, fs.ErrNotExist) && !mdbCmd.PersistentFlags().Changed("config-file") {
		return nil
	}
	return err
}

func openLogOutput() error {
	lvl, err := log.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)

	if logStderr || logFile == "" {
		log.SetOutput(os.Stderr)
		return nil
	}
	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	log.SetOutput(f)
	logOutput = f
	return nil
}

// loadConfig sets each config flag named in the config file, unless it was given on the
// command line.
func loadConfig() error {
	b, err := os.ReadFile(configFile)
	if err != nil {
		return err
	}

	vars := map[string]interface{}{}
	if err := hcl.Decode(&vars, string(b)); err != nil {
		return fmt.Errorf("%s: %s", configFile, err)
	}

	for name, val := range vars {
		flg := configFlags.Lookup(name)
		if flg == nil {
			return fmt.Errorf("%s: unknown config variable: %s", configFile, name)
		} else if flg.Changed {
			continue
		}
		if err := flg.Value.Set(fmt.Sprint(val)); err != nil {
			return fmt.Errorf("%s: %s: %s", configFile, name, err)
		}
	}
	return nil
}

// memBytes parses a memory budget such as 64MB or 512KiB.
func memBytes(mem string) (int64, error) {
	n, err := humanize.ParseBytes(mem)
	if err != nil {
		return 0, fmt.Errorf("mdb: mem: %s", err)
	}
	return int64(n), nil
}
