// ABOUTME: CLI entrypoint for the fluxchat terminal client.
// ABOUTME: Parses flags, connects to a fluxchat server, and runs the Bubble Tea program.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		serverURL      string
		token          string
		conversationID string
		showVersion    bool
	)
	fs := flag.NewFlagSet("fluxchat-tui", flag.ContinueOnError)
	fs.StringVar(&serverURL, "server", "http://127.0.0.1:7790", "fluxchat server URL")
	fs.StringVar(&token, "token", os.Getenv("FLUXCHAT_AUTH_TOKEN"), "Bearer token for the server")
	fs.StringVar(&conversationID, "conversation", "", "Continue an existing conversation")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if showVersion {
		fmt.Printf("fluxchat-tui %s\n", version)
		return 0
	}

	chat := NewChatClient(strings.TrimRight(serverURL, "/"), token)
	model := NewChatModel(context.Background(), chat, conversationID)

	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
