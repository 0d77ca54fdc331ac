package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/bazelment/agentdesk/agent-cli-wrapper/agentstream"
	"github.com/bazelment/agentdesk/agent-cli-wrapper/claude"
	"github.com/bazelment/agentdesk/agentdesk/session"
	"github.com/bazelment/agentdesk/agentdesk/store"
)

var errTurnFailed = errors.New("turn ended with an error")

var (
	runCWD    string
	runResume string
	runAttach []string
)

var runCmd = &cobra.Command{
	Use:   "run [prompt]",
	Short: "Run one turn in the terminal",
	Long: `Run starts a session (or continues one with --resume), prints the
transcript as it streams and exits when the turn ends. Questions from the
agent are asked on the terminal; without a terminal they are denied.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRun(cmd.Context(), strings.Join(args, " "))
	},
}

func init() {
	runCmd.Flags().StringVar(&runCWD, "cwd", "", "Working directory for the agent (default: current directory)")
	runCmd.Flags().StringVar(&runResume, "resume", "", "Continue the session with this id")
	runCmd.Flags().StringSliceVar(&runAttach, "attach", nil, "Attach a file to the prompt (repeatable)")
	rootCmd.AddCommand(runCmd)
}

// terminalAnswerer resolves permission requests on the controlling terminal.
type terminalAnswerer struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool
}

func (a *terminalAnswerer) answer(req session.PermissionRequest) agentstream.PermissionResult {
	if !a.interactive {
		return agentstream.Deny("no interactive terminal to answer " + req.ToolName)
	}
	if req.ToolName == claude.AskUserQuestionTool {
		updated, err := askQuestions(a.in, a.out, req.Input)
		if err != nil {
			return agentstream.Deny(err.Error())
		}
		return agentstream.Allow(updated)
	}
	fmt.Fprintf(a.out, "\nAllow %s%s? [y/N] ", req.ToolName, summarizeInput(req.Input))
	line, _ := a.in.ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return agentstream.Allow(req.Input)
	}
	return agentstream.Deny("denied by user")
}

func runRun(ctx context.Context, prompt string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, newLevel(cfg))
	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	runner, err := newRunner(cfg, logger, nil)
	if err != nil {
		return err
	}

	cwd := runCWD
	if cwd == "" {
		if cwd, err = os.Getwd(); err != nil {
			return err
		}
	}
	attachments := make([]agentstream.Attachment, 0, len(runAttach))
	for _, p := range runAttach {
		attachments = append(attachments, agentstream.NewAttachment(p))
	}

	answerer := &terminalAnswerer{
		in:          bufio.NewReader(os.Stdin),
		out:         os.Stderr,
		interactive: term.IsTerminal(int(os.Stdin.Fd())),
	}
	out := newTranscript(os.Stdout)
	finished := make(chan error, 1)
	var once sync.Once
	finish := func(err error) { once.Do(func() { finished <- err }) }
	requests := make(chan session.PermissionRequest, 16)
	done := make(chan struct{})

	mgr := session.NewManager(session.ManagerConfig{
		Store:  st,
		Runner: runner,
		Logger: logger,
		Broadcaster: session.BroadcasterFunc(func(_ string, ev session.Event) {
			switch ev.Type {
			case session.EventMessage:
				out.render(*ev.Message)
			case session.EventPermissionRequest:
				select {
				case requests <- *ev.Permission:
				case <-done:
				}
			case session.EventError:
				finish(errors.New(ev.Error))
			case session.EventStatus:
				switch ev.Status {
				case store.StatusCompleted, store.StatusIdle:
					finish(nil)
				case store.StatusError:
					finish(errTurnFailed)
				}
			}
		}),
		PermissionTimeout: cfg.Permission.Timeout,
	})
	defer mgr.Close()

	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case req := <-requests:
				mgr.RespondPermission(session.PermissionAnswer{
					SessionID: req.SessionID,
					ToolUseID: req.ToolUseID,
					Result:    answerer.answer(req),
				})
			}
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	id := runResume
	if id == "" {
		sess, err := mgr.Start(ctx, session.StartRequest{Prompt: prompt, CWD: cwd, Attachments: attachments})
		if err != nil {
			return err
		}
		id = sess.ID
	} else if err := mgr.Continue(ctx, id, prompt, attachments); err != nil {
		return err
	}

	select {
	case err = <-finished:
	case <-ctx.Done():
		err = mgr.Stop(context.Background(), id)
	}
	fmt.Fprintln(os.Stderr, rule())
	fmt.Fprintf(os.Stderr, "session %s\n", id)
	return err
}

// rule returns a horizontal line as wide as the terminal.
func rule() string {
	width, _, err := term.GetSize(int(os.Stderr.Fd()))
	if err != nil || width <= 0 {
		width = 40
	}
	return strings.Repeat("-", width)
}
