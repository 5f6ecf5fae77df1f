package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/leftmike/mdb/engine"
	"github.com/leftmike/mdb/server"
	"github.com/leftmike/mdb/session"
	"github.com/leftmike/mdb/table"
)

var (
	startCmd = &cobra.Command{
		Use:   "start",
		Short: "Start the mdb database server",
		Args:  cobra.NoArgs,
		RunE:  startRun,
	}

	addr = "localhost:9999"
)

func init() {
	fs := startCmd.Flags()
	initDataFlags(fs)
	initAddrFlag(fs)

	mdbCmd.AddCommand(startCmd)
}

// openDatabase exits the process if the database can not be opened: a database which fails
// to open is corrupt or misconfigured.
func openDatabase() (*engine.Engine, *table.Catalog) {
	n, err := memBytes(mem)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	entry := log.WithField("data", dataDir)
	e, err := engine.Open(dataDir, n, log.StandardLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "mdb: open %s: %s\n", dataDir, err)
		entry.WithError(err).Fatal("mdb: open database")
	}
	cat, err := table.Open(e)
	if err != nil {
		e.Close()
		fmt.Fprintf(os.Stderr, "mdb: open %s: %s\n", dataDir, err)
		entry.WithError(err).Fatal("mdb: open catalog")
	}
	return e, cat
}

func startRun(cmd *cobra.Command, args []string) error {
	e, cat := openDatabase()

	svr := &server.Server{
		NewExecutor: func() server.Executor {
			return session.NewExecutor(cat)
		},
		Logger: log.StandardLogger(),
	}

	done := make(chan error, 1)
	go func() {
		done <- svr.ListenAndServe(addr)
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)

	fmt.Printf("mdb: listening on %s; waiting for ^C to shutdown\n", addr)
	var err error
	select {
	case <-ch:
		go func() {
			<-ch
			os.Exit(0)
		}()

		fmt.Println("mdb: shutting down")
		svr.Shutdown(context.Background())
		<-done
	case err = <-done:
		err = fmt.Errorf("mdb: %s", err)
	}

	cat.Close()
	if cerr := e.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("mdb: close: %s", cerr)
	}
	return err
}
