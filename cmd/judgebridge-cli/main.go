package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"judgebridge/internal/cli/command"
	"judgebridge/internal/cli/config"
	"judgebridge/internal/cli/http"
	"judgebridge/internal/cli/repl"
	"judgebridge/internal/cli/state"
)

const defaultConfigPath = "configs/cli.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	baseURL := flag.String("base", "", "Override bridge base URL")
	timeout := flag.Duration("timeout", 0, "Override HTTP timeout (e.g. 10s)")
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

	client := httpclient.New(cfg.BaseURL, cfg.Timeout)
	commands := command.Registry()
	prettyJSON := cfg.PrettyJSON != nil && *cfg.PrettyJSON

	// One-shot mode: judgebridge-cli task result token=abc
	if args := flag.Args(); len(args) > 0 {
		session := repl.New(client, commands, &sessionState, cfg.StatePath, prettyJSON, nil, os.Stdout)
		if err := session.Execute(context.Background(), strings.Join(quoteArgs(args), " ")); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	rl, err := repl.NewReadline(cfg.HistoryPath, commands)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	session := repl.New(client, commands, &sessionState, cfg.StatePath, prettyJSON, rl, rl.Stdout())
	session.Run(context.Background())
}

// quoteArgs re-quotes shell arguments so the line splitter sees them unchanged.
func quoteArgs(args []string) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		if strings.ContainsAny(arg, " \t\"'\\") {
			escaped := strings.ReplaceAll(arg, `\`, `\\`)
			out[i] = `"` + strings.ReplaceAll(escaped, `"`, `\"`) + `"`
			continue
		}
		out[i] = arg
	}
	return out
}
