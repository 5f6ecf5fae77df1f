package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leftmike/mdb/repl"
	"github.com/leftmike/mdb/server"
)

var (
	shellCmd = &cobra.Command{
		Use:   "shell [file ...]",
		Short: "Run statements against an mdb server",
		Long: "Run statements from files, from --stmt flags, or interactively against an mdb " +
			"server.",
		RunE: shellRun,
	}

	stmtArgs = []string{}
)

func init() {
	fs := shellCmd.Flags()
	initAddrFlag(fs)
	fs.StringSliceVar(&stmtArgs, "stmt", stmtArgs, "`statement` to execute; multiple allowed")

	mdbCmd.AddCommand(shellCmd)
}

func shellRun(cmd *cobra.Command, args []string) error {
	c, err := server.Dial(addr)
	if err != nil {
		return fmt.Errorf("mdb: %s", err)
	}
	defer c.Close()

	for _, stmt := range stmtArgs {
		err := repl.Run(c, strings.NewReader(stmt), os.Stdout)
		if err != nil {
			return fmt.Errorf("mdb: %s", err)
		}
	}

	for _, arg := range args {
		f, err := os.Open(arg)
		if err != nil {
			return fmt.Errorf("mdb: statement file: %s", err)
		}
		err = repl.Run(c, f, os.Stdout)
		f.Close()
		if err != nil {
			return fmt.Errorf("mdb: %s: %s", arg, err)
		}
	}

	if len(args) == 0 && len(stmtArgs) == 0 {
		return repl.Interact(c)
	}
	return nil
}
