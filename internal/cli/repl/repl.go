package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"judgebridge/internal/cli/command"
	httpclient "judgebridge/internal/cli/http"
	"judgebridge/internal/cli/state"
	pkgerrors "judgebridge/pkg/errors"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

const defaultPrompt = "judgebridge> "

// ErrExit is returned by Execute when the user asked to leave.
var ErrExit = errors.New("exit requested")

// LineReader is the part of *readline.Instance the session needs.
type LineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
}

// Session holds REPL state.
type Session struct {
	client     *httpclient.Client
	commands   map[string]command.Command
	state      *state.SessionState
	statePath  string
	prettyJSON bool
	reader     LineReader
	out        io.Writer
	now        func() time.Time
}

func New(client *httpclient.Client, commands map[string]command.Command, st *state.SessionState, statePath string, prettyJSON bool, reader LineReader, out io.Writer) *Session {
	return &Session{
		client:     client,
		commands:   commands,
		state:      st,
		statePath:  statePath,
		prettyJSON: prettyJSON,
		reader:     reader,
		out:        out,
		now:        time.Now,
	}
}

// NewReadline opens an interactive terminal reader with persistent history.
func NewReadline(historyPath string, commands map[string]command.Command) (*readline.Instance, error) {
	items := []readline.PrefixCompleterInterface{
		readline.PcItem("help"),
		readline.PcItem("exit"),
		readline.PcItem("set", readline.PcItem("base"), readline.PcItem("timeout")),
		readline.PcItem("show", readline.PcItem("config"), readline.PcItem("tokens")),
	}
	groups := map[string][]readline.PrefixCompleterInterface{}
	for _, cmd := range commands {
		groups[cmd.Group] = append(groups[cmd.Group], readline.PcItem(cmd.Action))
	}
	for group, actions := range groups {
		items = append(items, readline.PcItem(group, actions...))
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          defaultPrompt,
		HistoryFile:     historyPath,
		AutoComplete:    readline.NewPrefixCompleter(items...),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("init readline failed: %w", err)
	}
	return rl, nil
}

func (s *Session) Run(ctx context.Context) {
	for {
		s.reader.SetPrompt(defaultPrompt)
		line, err := s.reader.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.printLine("read input failed: %v", err)
			}
			return
		}
		if err := s.Execute(ctx, line); err != nil {
			if errors.Is(err, ErrExit) {
				s.printLine("bye")
				return
			}
			s.printLine("error: %v", err)
		}
	}
}

// Execute runs one input line.
func (s *Session) Execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	switch line {
	case "exit", "quit":
		return ErrExit
	case "help":
		s.printHelp()
		return nil
	}
	if strings.HasPrefix(line, "set ") {
		s.handleSet(strings.TrimSpace(strings.TrimPrefix(line, "set ")))
		return nil
	}
	if strings.HasPrefix(line, "show ") {
		s.handleShow(strings.TrimSpace(strings.TrimPrefix(line, "show ")))
		return nil
	}
	return s.handleCommand(ctx, line)
}

func (s *Session) handleSet(args string) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		s.printLine("usage: set base|timeout")
		return
	}
	switch parts[0] {
	case "base":
		if len(parts) < 2 {
			s.printLine("usage: set base http://127.0.0.1:5000")
			return
		}
		s.client.SetBaseURL(parts[1])
		s.printLine("base set to %s", parts[1])
	case "timeout":
		if len(parts) < 2 {
			s.printLine("usage: set timeout 10s")
			return
		}
		dur, err := time.ParseDuration(parts[1])
		if err != nil {
			s.printLine("invalid duration: %v", err)
			return
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	default:
		s.printLine("unknown set command")
	}
}

func (s *Session) handleShow(args string) {
	switch args {
	case "tokens":
		if len(s.state.RecentTokens) == 0 {
			s.printLine("tokens: <empty>")
			return
		}
		for _, token := range s.state.RecentTokens {
			marker := " "
			if token == s.state.LastToken {
				marker = "*"
			}
			s.printLine("%s %s", marker, token)
		}
	case "config":
		s.printLine("base: %s", s.client.BaseURL())
		s.printLine("statePath: %s", s.statePath)
	default:
		s.printLine("usage: show tokens|config")
	}
}

func (s *Session) handleCommand(ctx context.Context, line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) < 2 {
		return fmt.Errorf("invalid command, use: <group> <action> key=value ...")
	}
	cmd, ok := s.commands[tokens[0]+" "+tokens[1]]
	if !ok {
		return fmt.Errorf("unknown command: %s %s", tokens[0], tokens[1])
	}
	params, err := command.ParseArgs(tokens[2:])
	if err != nil {
		return err
	}

	params.Canonicalize(cmd.Fields)
	s.applyParamShortcuts(cmd, params)
	if err := s.promptMissing(cmd, params); err != nil {
		return err
	}
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Query, req.Body)
	if err != nil {
		return err
	}
	s.renderResponse(resp)
	s.rememberToken(cmd, resp.Body)
	return nil
}

func (s *Session) applyParamShortcuts(cmd command.Command, params command.Params) {
	switch cmd.Key() {
	case "task submit":
		if params.Get("source_file") != "" && params.Get("source_code") == "" {
			params.Set("source_code", command.FromFile)
		}
	case "task result":
		if params.Get("token") == "" && s.state.LastToken != "" {
			params.Set("token", s.state.LastToken)
		}
	}
}

func (s *Session) promptMissing(cmd command.Command, params command.Params) error {
	for _, field := range cmd.Fields {
		if !field.Required || params.Get(field.Name) != "" {
			continue
		}
		value, err := s.promptValue(field.Prompt)
		if err != nil {
			return err
		}
		params.Set(field.Name, value)
	}
	return nil
}

func (s *Session) promptValue(prompt string) (string, error) {
	if s.reader == nil {
		return "", fmt.Errorf("missing required parameter: %s", prompt)
	}
	s.reader.SetPrompt(prompt + ": ")
	defer s.reader.SetPrompt(defaultPrompt)
	line, err := s.reader.Readline()
	if err != nil {
		return "", fmt.Errorf("read input failed: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (s *Session) renderResponse(resp httpclient.ResponseInfo) {
	if traceID := resp.TraceID(); traceID != "" {
		s.printLine("HTTP %d (%s) trace=%s", resp.StatusCode, resp.Duration, traceID)
	} else {
		s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration)
	}
	if len(resp.Body) == 0 {
		return
	}
	if s.prettyJSON {
		var raw interface{}
		if err := json.Unmarshal(resp.Body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(resp.Body))
}

func (s *Session) rememberToken(cmd command.Command, body []byte) {
	if cmd.Key() != "task submit" {
		return
	}
	type submitData struct {
		Token string `json:"token"`
	}
	type respEnvelope struct {
		Code int        `json:"code"`
		Data submitData `json:"data"`
	}
	var resp respEnvelope
	if err := json.Unmarshal(body, &resp); err != nil {
		return
	}
	if resp.Code != int(pkgerrors.Success) || resp.Data.Token == "" {
		return
	}
	s.state.Remember(resp.Data.Token, s.now())
	if err := state.Save(s.statePath, *s.state); err != nil {
		s.printLine("save session state failed: %v", err)
	}
}

func (s *Session) printHelp() {
	s.printLine("usage: <group> <action> key=value ...")
	s.printLine("system: help | exit | set base|timeout | show tokens|config")
	s.printLine("commands:")
	for _, usage := range command.Usages(s.commands) {
		s.printLine("  %s", usage)
	}
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}
