package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/sipeed/mjbridge/pkg/bridge"
	"github.com/sipeed/mjbridge/pkg/jobs"
	"github.com/sipeed/mjbridge/pkg/usage"
)

const replHelp = `commands:
  imagine <prompt>     generate a grid
  upscale <1-4>        upscale one image of the last grid
  variation <1-4>      vary one image of the last grid
  reroll               run the last prompt again
  zoom                 zoom out the last upscale
  x4                   4x upscale the last upscale
  show <job-id>        re-post a job and make it current
  cancel               cancel the current job
  info                 account info
  stats                usage of this session
  quit`

var errQuit = errors.New("quit")

// operations is the part of the bridge the shell drives.
type operations interface {
	Generate(ctx context.Context, prompt string, obs jobs.Observer) (*jobs.Result, error)
	Upscale(ctx context.Context, ref jobs.Ref, index int, prompt string, obs jobs.Observer) (*jobs.Result, error)
	Variation(ctx context.Context, ref jobs.Ref, index int, prompt string, obs jobs.Observer) (*jobs.Result, error)
	Reroll(ctx context.Context, ref jobs.Ref, prompt string, obs jobs.Observer) (*jobs.Result, error)
	ZoomOut(ctx context.Context, ref jobs.Ref, prompt string, obs jobs.Observer) (*jobs.Result, error)
	X4Upscale(ctx context.Context, ref jobs.Ref, prompt string, obs jobs.Observer) (*jobs.Result, error)
	Show(ctx context.Context, jobID string, obs jobs.Observer) (*jobs.Result, error)
	Info(ctx context.Context) (string, error)
	CancelCurrentJob(ctx context.Context, ref jobs.Ref) error
	Stats() bridge.Stats
}

// shell keeps the last result so follow-up commands can act on it.
type shell struct {
	ops    operations
	out    io.Writer
	obs    jobs.Observer
	last   *jobs.Result
	prompt string
}

func newReplCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Start the interactive shell",
		Args:  cobra.NoArgs,
		RunE:  runRepl,
	}
}

func runRepl(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		rl, err := readline.NewEx(&readline.Config{
			Prompt:          "mj> ",
			HistoryFile:     filepath.Join(filepath.Dir(configPath), "history"),
			InterruptPrompt: "^C",
			EOFPrompt:       "quit",
		})
		if err != nil {
			return fmt.Errorf("init readline: %w", err)
		}
		defer rl.Close()

		sh := &shell{ops: a.bridge, out: rl.Stdout(), obs: stderrObserver()}
		fmt.Fprintln(sh.out, "connected, type help for commands")
		for {
			line, err := rl.Readline()
			if errors.Is(err, readline.ErrInterrupt) {
				if line == "" {
					return nil
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}

			if err := sh.exec(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
		}
	})
}

// exec runs one shell line. It returns errQuit when the user leaves.
func (s *shell) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	name, rest := strings.ToLower(fields[0]), strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))

	switch name {
	case "quit", "exit":
		return errQuit
	case "help", "?":
		fmt.Fprintln(s.out, replHelp)
		return nil
	case "imagine":
		if rest == "" {
			return errors.New("usage: imagine <prompt>")
		}
		res, err := s.ops.Generate(ctx, rest, s.obs)
		if err != nil {
			return err
		}
		s.prompt = rest
		return s.keep(res)
	case "upscale", "u", "variation", "v":
		ref, err := s.current()
		if err != nil {
			return err
		}
		index, err := parseIndex(rest)
		if err != nil {
			return err
		}
		op := s.ops.Upscale
		if name == "variation" || name == "v" {
			op = s.ops.Variation
		}
		res, err := op(ctx, ref, index, s.prompt, s.obs)
		if err != nil {
			return err
		}
		return s.keep(res)
	case "reroll", "zoom", "x4":
		ref, err := s.current()
		if err != nil {
			return err
		}
		op := map[string]func(context.Context, jobs.Ref, string, jobs.Observer) (*jobs.Result, error){
			"reroll": s.ops.Reroll,
			"zoom":   s.ops.ZoomOut,
			"x4":     s.ops.X4Upscale,
		}[name]
		res, err := op(ctx, ref, s.prompt, s.obs)
		if err != nil {
			return err
		}
		return s.keep(res)
	case "show":
		if rest == "" {
			return errors.New("usage: show <job-id>")
		}
		res, err := s.ops.Show(ctx, rest, s.obs)
		if err != nil {
			return err
		}
		s.prompt = res.Prompt
		return s.keep(res)
	case "cancel":
		ref, err := s.current()
		if err != nil {
			return err
		}
		return s.ops.CancelCurrentJob(ctx, ref)
	case "info":
		text, err := s.ops.Info(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, text)
		return nil
	case "stats":
		st := s.ops.Stats()
		fmt.Fprintln(s.out, usage.Summary(st.Total, st.ByKind))
		fmt.Fprintf(s.out, "pending: %d\n", st.Pending)
		return nil
	}
	return fmt.Errorf("unknown command %q, type help", name)
}

func (s *shell) keep(res *jobs.Result) error {
	s.last = res
	printResult(s.out, res)
	return nil
}

func (s *shell) current() (jobs.Ref, error) {
	if s.last == nil {
		return jobs.Ref{}, errors.New("no current job, run imagine or show first")
	}
	return s.last.Ref(), nil
}

func parseIndex(arg string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || n < 1 || n > 4 {
		return 0, fmt.Errorf("image index must be 1-4, got %q", arg)
	}
	return n, nil
}
