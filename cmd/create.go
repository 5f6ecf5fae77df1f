package cmd

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/leftmike/mdb/engine"
	"github.com/leftmike/mdb/table"
)

var (
	createCmd = &cobra.Command{
		Use:   "create",
		Short: "Create a new database",
		Args:  cobra.NoArgs,
		RunE:  createRun,
	}

	dataDir = "testdata"
	mem     = "64MB"
)

func initDataFlags(fs *pflag.FlagSet) {
	configFlag(fs, "data", func(cfs *pflag.FlagSet) {
		cfs.StringVar(&dataDir, "data", dataDir, "`directory` containing the database")
	})
	configFlag(fs, "mem", func(cfs *pflag.FlagSet) {
		cfs.StringVar(&mem, "mem", mem, "`size` of memory to use for caching pages")
	})
}

// initAddrFlag adds the server address flag shared by start and shell.
func initAddrFlag(fs *pflag.FlagSet) {
	configFlag(fs, "addr", func(cfs *pflag.FlagSet) {
		cfs.StringVar(&addr, "addr", addr, "`address` of the server")
	})
}

func init() {
	initDataFlags(createCmd.Flags())

	mdbCmd.AddCommand(createCmd)
}

func createRun(cmd *cobra.Command, args []string) error {
	n, err := memBytes(mem)
	if err != nil {
		return err
	}

	e, err := engine.Create(dataDir, n, log.StandardLogger())
	if err != nil {
		return fmt.Errorf("mdb: create %s: %s", dataDir, err)
	}
	cat, err := table.Open(e)
	if err != nil {
		e.Close()
		return fmt.Errorf("mdb: create %s: %s", dataDir, err)
	}
	cat.Close()

	err = e.Close()
	if err != nil {
		return fmt.Errorf("mdb: create %s: %s", dataDir, err)
	}
	fmt.Printf("mdb: created %s\n", dataDir)
	return nil
}
