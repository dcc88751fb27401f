package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

func (a *App) getStatus() string {
	if user := a.session.User(); user != nil {
		return fmt.Sprintf("(%s)", user.Email)
	}
	return ""
}

// Root runs the interactive command loop until EOF or "exit".
func (a *App) Root(ctx context.Context) {
	fmt.Fprintln(a.out, "Welcome to FlowGuard CLI (type 'help' for commands)")
	scanner := bufio.NewScanner(os.Stdin)
	a.repl(ctx, scanner)
}

func (a *App) repl(ctx context.Context, scanner *bufio.Scanner) {
	for {
		fmt.Fprintf(a.out, "fg %s> ", a.getStatus())
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd := parts[0]

		switch cmd {
		case "help":
			if a.isLoggedIn() {
				fmt.Fprintln(a.out, "Available commands: (l)ist, upload, run, report, whoami, setkey, logout, exit")
			} else {
				fmt.Fprintln(a.out, "Available commands: register, login, exit")
			}

		case "register":
			_ = a.Register(ctx)

		case "login":
			_ = a.Login(ctx)

		case "logout":
			_ = a.Logout(ctx)

		case "whoami":
			_ = a.Whoami(ctx)

		case "setkey":
			_ = a.SetKey(ctx)

		case "l", "list":
			_ = a.List(ctx)

		case "upload":
			_ = a.Upload(ctx)

		case "run":
			_ = a.RunFlow(ctx)

		case "report":
			_ = a.Report(ctx)

		case "exit", "quit":
			fmt.Fprintln(a.out, "Bye!")
			return

		default:
			fmt.Fprintln(a.out, "Unknown command:", cmd)
		}
	}
}
