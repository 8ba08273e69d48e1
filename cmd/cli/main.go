package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"ojsubmit/internal/cli/command"
	"ojsubmit/internal/cli/config"
	httpclient "ojsubmit/internal/cli/http"
	"ojsubmit/internal/cli/repl"
	"ojsubmit/internal/cli/state"
)

const defaultConfigPath = "configs/cli.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	baseURL := flag.String("base", "", "Override submit service base URL")
	judgeURL := flag.String("judge", "", "Override judge service base URL")
	timeout := flag.Duration("timeout", 0, "Override HTTP timeout (e.g. 10s)")
	user := flag.String("user", "", "Override user id")
	statePath := flag.String("state", "", "Override session state path")
	pretty := flag.Bool("pretty", false, "Pretty print JSON response")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	if *judgeURL != "" {
		cfg.JudgeBaseURL = *judgeURL
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *statePath != "" {
		cfg.StatePath = *statePath
	}
	if *pretty {
		trueValue := true
		cfg.PrettyJSON = &trueValue
	}

	sessionState, err := state.Load(cfg.StatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load session state failed: %v\n", err)
		os.Exit(1)
	}
	if *user != "" {
		sessionState.UserID = *user
	}

	userProvider := func() string { return sessionState.UserID }
	session := repl.New(
		httpclient.New(cfg.BaseURL, cfg.Timeout, userProvider),
		httpclient.New(cfg.JudgeBaseURL, cfg.Timeout, userProvider),
		command.Registry(),
		&sessionState,
		cfg.StatePath,
		cfg.PrettyJSON != nil && *cfg.PrettyJSON,
	)

	// Remaining arguments run as a single command, e.g. "cli id decode id=...".
	if args := flag.Args(); len(args) > 0 {
		if err := session.Exec(context.Background(), strings.Join(quoteArgs(args), " ")); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if err := session.Run(context.Background(), cfg.HistoryFile); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func quoteArgs(args []string) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		if strings.ContainsAny(arg, " \t\"'") {
			arg = "'" + strings.ReplaceAll(arg, "'", `'"'"'`) + "'"
		}
		out[i] = arg
	}
	return out
}
