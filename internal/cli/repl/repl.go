package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"ojsubmit/internal/cli/command"
	httpclient "ojsubmit/internal/cli/http"
	"ojsubmit/internal/cli/state"
	pkgerrors "ojsubmit/pkg/errors"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

const prompt = "ojsubmit> "

// ErrExit is returned by Exec when the user asked to leave.
var ErrExit = errors.New("exit")

// PromptFunc reads one value for a missing field.
type PromptFunc func(label string) (string, error)

// Session holds REPL state.
type Session struct {
	submit     *httpclient.Client
	judge      *httpclient.Client
	commands   map[string]command.Command
	state      *state.SessionState
	statePath  string
	prettyJSON bool

	out    io.Writer
	prompt PromptFunc
}

func New(submit, judge *httpclient.Client, commands map[string]command.Command, st *state.SessionState, statePath string, prettyJSON bool) *Session {
	return &Session{
		submit:     submit,
		judge:      judge,
		commands:   commands,
		state:      st,
		statePath:  statePath,
		prettyJSON: prettyJSON,
		out:        os.Stdout,
		prompt: func(string) (string, error) {
			return "", fmt.Errorf("interactive input is not available")
		},
	}
}

// SetIO replaces the output writer and the prompt used for missing fields.
func (s *Session) SetIO(out io.Writer, prompt PromptFunc) {
	s.out = out
	if prompt != nil {
		s.prompt = prompt
	}
}

// Run reads lines with readline until exit or EOF.
func (s *Session) Run(ctx context.Context, historyFile string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyFile,
		AutoComplete:    s.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline failed: %w", err)
	}
	defer func() { _ = rl.Close() }()

	s.SetIO(rl.Stdout(), func(label string) (string, error) {
		rl.SetPrompt(label + ": ")
		defer rl.SetPrompt(prompt)
		line, err := rl.Readline()
		if err != nil {
			return "", fmt.Errorf("read input failed: %w", err)
		}
		return strings.TrimSpace(line), nil
	})

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		if err := s.Exec(ctx, line); err != nil {
			if errors.Is(err, ErrExit) {
				return nil
			}
			s.printLine("error: %v", err)
		}
	}
}

// Exec runs one input line.
func (s *Session) Exec(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if handled, err := s.handleSystemCommand(tokens); handled {
		return err
	}
	if len(tokens) < 2 {
		return fmt.Errorf("invalid command, use: <service> <action> key=value ...")
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
	s.applyDefaults(cmd, params)
	if err := s.promptMissing(cmd, params); err != nil {
		return err
	}

	if cmd.Local != nil {
		out, err := command.RunLocal(cmd, params)
		if err != nil {
			return describeError(err)
		}
		s.renderJSON(out)
		return nil
	}

	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}
	client := s.submit
	if cmd.Service == "judge" {
		client = s.judge
	}
	resp, err := client.Do(ctx, req.Method, req.Path, req.Headers, req.Body)
	if err != nil {
		return err
	}
	s.renderResponse(resp)
	s.rememberSubmission(cmd, resp.Body)
	return nil
}

func (s *Session) handleSystemCommand(tokens []string) (bool, error) {
	switch tokens[0] {
	case "exit", "quit":
		s.printLine("bye")
		return true, ErrExit
	case "help":
		s.printHelp()
		return true, nil
	case "set":
		s.handleSet(tokens[1:])
		return true, nil
	case "show":
		s.handleShow(tokens[1:])
		return true, nil
	}
	return false, nil
}

func (s *Session) handleSet(args []string) {
	if len(args) < 2 {
		s.printLine("usage: set base|judge|timeout|user <value>")
		return
	}
	switch args[0] {
	case "base":
		s.submit.SetBaseURL(args[1])
		s.printLine("base set to %s", args[1])
	case "judge":
		s.judge.SetBaseURL(args[1])
		s.printLine("judge base set to %s", args[1])
	case "timeout":
		dur, err := time.ParseDuration(args[1])
		if err != nil {
			s.printLine("invalid duration: %v", err)
			return
		}
		s.submit.SetTimeout(dur)
		s.judge.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	case "user":
		s.state.UserID = args[1]
		s.saveState()
		s.printLine("user set to %s", args[1])
	default:
		s.printLine("unknown set command")
	}
}

func (s *Session) handleShow(args []string) {
	if len(args) == 0 {
		s.printLine("usage: show config|state")
		return
	}
	switch args[0] {
	case "config":
		s.printLine("base: %s", s.submit.BaseURL())
		s.printLine("judge: %s", s.judge.BaseURL())
		s.printLine("statePath: %s", s.statePath)
	case "state":
		s.printLine("user: %s", orEmpty(s.state.UserID))
		s.printLine("last submission: %s", orEmpty(s.state.LastSubmissionID))
	default:
		s.printLine("usage: show config|state")
	}
}

func (s *Session) applyDefaults(cmd command.Command, params command.Params) {
	for _, field := range cmd.Fields {
		if params.Get(field.Name) != "" {
			continue
		}
		switch field.Name {
		case "id":
			if s.state.LastSubmissionID != "" {
				params.Set("id", s.state.LastSubmissionID)
			}
		case "user_id":
			if s.state.UserID != "" {
				params.Set("user_id", s.state.UserID)
			}
		case "source_code":
			if params.Get("source_file") != "" {
				params.Set("source_code", "_file_")
			}
		}
	}
}

func (s *Session) promptMissing(cmd command.Command, params command.Params) error {
	for _, field := range cmd.Fields {
		if !field.Required || params.Get(field.Name) != "" {
			continue
		}
		value, err := s.prompt(field.Prompt)
		if err != nil {
			return err
		}
		params.Set(field.Name, value)
	}
	return nil
}

func (s *Session) rememberSubmission(cmd command.Command, body []byte) {
	if cmd.Service != "submit" || cmd.Action != "create" {
		return
	}
	var resp struct {
		Code pkgerrors.ErrorCode `json:"code"`
		Data struct {
			SubmissionID string `json:"submission_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Code != pkgerrors.Success || resp.Data.SubmissionID == "" {
		return
	}
	s.state.LastSubmissionID = resp.Data.SubmissionID
	s.saveState()
}

func (s *Session) saveState() {
	if err := state.Save(s.statePath, *s.state); err != nil {
		s.printLine("save state failed: %v", err)
	}
}

func (s *Session) renderResponse(resp httpclient.ResponseInfo) {
	s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration)
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

func (s *Session) renderJSON(v interface{}) {
	var (
		data []byte
		err  error
	)
	if s.prettyJSON {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		s.printLine("render output failed: %v", err)
		return
	}
	s.printLine("%s", string(data))
}

func (s *Session) completer() *readline.PrefixCompleter {
	byService := map[string][]readline.PrefixCompleterInterface{}
	var services []string
	for _, key := range command.SortedKeys(s.commands) {
		cmd := s.commands[key]
		if _, ok := byService[cmd.Service]; !ok {
			services = append(services, cmd.Service)
		}
		byService[cmd.Service] = append(byService[cmd.Service], readline.PcItem(cmd.Action))
	}
	items := make([]readline.PrefixCompleterInterface, 0, len(services)+4)
	for _, service := range services {
		items = append(items, readline.PcItem(service, byService[service]...))
	}
	items = append(items,
		readline.PcItem("set", readline.PcItem("base"), readline.PcItem("judge"), readline.PcItem("timeout"), readline.PcItem("user")),
		readline.PcItem("show", readline.PcItem("config"), readline.PcItem("state")),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
	return readline.NewPrefixCompleter(items...)
}

func (s *Session) printHelp() {
	s.printLine("usage: <service> <action> key=value ...")
	s.printLine("system: help | exit | set base|judge|timeout|user | show config|state")
	s.printLine("commands:")
	for _, key := range command.SortedKeys(s.commands) {
		cmd := s.commands[key]
		if cmd.Usage != "" {
			s.printLine("  %-20s %s", key, cmd.Usage)
			continue
		}
		s.printLine("  %s", key)
	}
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}

// describeError adds the error code to coded errors.
func describeError(err error) error {
	var coded *pkgerrors.Error
	if errors.As(err, &coded) {
		return fmt.Errorf("[%d] %s", coded.Code, coded.Error())
	}
	return err
}

func orEmpty(v string) string {
	if v == "" {
		return "<empty>"
	}
	return v
}
