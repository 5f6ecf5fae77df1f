package repl

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

type Executor interface {
	Execute(stmt string) (string, error)
}

// statement trims a line, returning false for blank lines and comments.
func statement(line string) (string, bool) {
	stmt := strings.TrimSpace(line)
	if stmt == "" || strings.HasPrefix(stmt, "--") {
		return "", false
	}
	return stmt, true
}

func isQuit(stmt string) bool {
	stmt = strings.ToLower(stmt)
	return stmt == "quit" || stmt == "exit"
}

func execute(ex Executor, stmt string, w io.Writer) {
	out, err := ex.Execute(stmt)
	if err != nil {
		fmt.Fprintln(w, err)
	} else {
		fmt.Fprint(w, out)
	}
}

// Run executes the statements in r, one per line, writing the output and any errors to w.
func Run(ex Executor, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		stmt, ok := statement(scanner.Text())
		if !ok {
			continue
		} else if isQuit(stmt) {
			break
		}
		execute(ex, stmt, w)
	}
	return scanner.Err()
}
