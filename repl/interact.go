package repl

import (
	"fmt"
	"io"
	"os"

	"github.com/peterh/liner"
)

const (
	mdbHistory = ".mdb_history"
)

// Interact prompts for statements on the console until end of input or quit.
func Interact(ex Executor) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	if f, err := os.Open(mdbHistory); err == nil {
		line.ReadHistory(f)
		f.Close()
	}

	var err error
	for {
		var s string
		s, err = line.Prompt("mdb> ")
		if err == io.EOF || err == liner.ErrPromptAborted {
			fmt.Println()
			err = nil
			break
		} else if err != nil {
			break
		}

		stmt, ok := statement(s)
		if !ok {
			continue
		}
		line.AppendHistory(s)
		if isQuit(stmt) {
			break
		}
		execute(ex, stmt, os.Stdout)
	}

	if f, ferr := os.Create(mdbHistory); ferr != nil {
		fmt.Fprintf(os.Stderr, "mdb: error writing history file, %s: %s\n", mdbHistory, ferr)
	} else {
		line.WriteHistory(f)
		f.Close()
	}
	return err
}
