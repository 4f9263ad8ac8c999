package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sipeed/mjbridge/pkg/jobs"
	"github.com/sipeed/mjbridge/pkg/utils"
)

const downloadTimeout = 2 * time.Minute

// withApp starts the bridge, runs fn and shuts the bridge down.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := startApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func newImagineCmd() *cobra.Command {
	var downloadDir string
	cmd := &cobra.Command{
		Use:   "imagine [prompt]",
		Short: "Generate an image grid from a prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.bridge.Generate(ctx, prompt, stderrObserver())
				if err != nil {
					return err
				}
				printResult(cmd.OutOrStdout(), res)
				return maybeDownload(ctx, cmd.OutOrStdout(), res, downloadDir)
			})
		},
	}
	cmd.Flags().StringVarP(&downloadDir, "download", "d", "", "save the finished image into this directory")
	return cmd
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the account's subscription and usage info",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				text, err := a.bridge.Info(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), text)
				return nil
			})
		},
	}
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [job-id]",
		Short: "Re-post a finished job by its id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.bridge.Show(ctx, args[0], stderrObserver())
				if err != nil {
					return err
				}
				printResult(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
}

type refFlags struct {
	jobID     string
	messageID string
	ephemeral bool
	prompt    string
}

func (f *refFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.jobID, "job-id", "", "job id of the message to act on")
	cmd.Flags().StringVar(&f.messageID, "message-id", "", "Discord message id carrying the buttons")
	cmd.Flags().BoolVar(&f.ephemeral, "ephemeral", false, "the message is ephemeral")
	cmd.Flags().StringVar(&f.prompt, "prompt", "", "prompt of the original job, used to match the reply")
	_ = cmd.MarkFlagRequired("job-id")
	_ = cmd.MarkFlagRequired("message-id")
}

func (f *refFlags) ref() jobs.Ref {
	return jobs.Ref{JobID: f.jobID, MessageID: f.messageID, Ephemeral: f.ephemeral}
}

// newActionCmds builds the button commands that act on an existing job.
func newActionCmds() []*cobra.Command {
	type action struct {
		use     string
		short   string
		indexed bool
		run     func(ctx context.Context, a *app, ref jobs.Ref, index int, prompt string) (*jobs.Result, error)
	}
	actions := []action{
		{"upscale", "Upscale one image of a grid", true, func(ctx context.Context, a *app, ref jobs.Ref, i int, p string) (*jobs.Result, error) {
			return a.bridge.Upscale(ctx, ref, i, p, stderrObserver())
		}},
		{"variation", "Make variations of one image of a grid", true, func(ctx context.Context, a *app, ref jobs.Ref, i int, p string) (*jobs.Result, error) {
			return a.bridge.Variation(ctx, ref, i, p, stderrObserver())
		}},
		{"reroll", "Run the job's prompt again", false, func(ctx context.Context, a *app, ref jobs.Ref, _ int, p string) (*jobs.Result, error) {
			return a.bridge.Reroll(ctx, ref, p, stderrObserver())
		}},
		{"zoom", "Zoom out an upscaled image", false, func(ctx context.Context, a *app, ref jobs.Ref, _ int, p string) (*jobs.Result, error) {
			return a.bridge.ZoomOut(ctx, ref, p, stderrObserver())
		}},
		{"x4", "Upscale an upscaled image 4x", false, func(ctx context.Context, a *app, ref jobs.Ref, _ int, p string) (*jobs.Result, error) {
			return a.bridge.X4Upscale(ctx, ref, p, stderrObserver())
		}},
	}

	cmds := make([]*cobra.Command, 0, len(actions)+1)
	for _, act := range actions {
		var (
			flags       refFlags
			index       int
			downloadDir string
		)
		cmd := &cobra.Command{
			Use:   act.use,
			Short: act.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, func(ctx context.Context, a *app) error {
					res, err := act.run(ctx, a, flags.ref(), index, flags.prompt)
					if err != nil {
						return err
					}
					printResult(cmd.OutOrStdout(), res)
					return maybeDownload(ctx, cmd.OutOrStdout(), res, downloadDir)
				})
			},
		}
		flags.bind(cmd)
		if act.indexed {
			cmd.Flags().IntVarP(&index, "index", "i", 1, "image index in the grid (1-4)")
		}
		cmd.Flags().StringVarP(&downloadDir, "download", "d", "", "save the finished image into this directory")
		cmds = append(cmds, cmd)
	}

	var cancelFlags refFlags
	cancelCmd := &cobra.Command{
		Use:   "cancel",
		Short: "Press the cancel button of a running job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return a.bridge.CancelCurrentJob(ctx, cancelFlags.ref())
			})
		},
	}
	cancelFlags.bind(cancelCmd)
	return append(cmds, cancelCmd)
}

func stderrObserver() jobs.Observer {
	return jobs.ObserverFunc(func(p jobs.Progress) {
		fmt.Fprintf(os.Stderr, "[%s] %s\n", p.Kind, p)
	})
}

func printResult(w io.Writer, res *jobs.Result) {
	fmt.Fprintf(w, "image:      %s\n", res.ImageURL)
	fmt.Fprintf(w, "job id:     %s\n", res.JobID)
	fmt.Fprintf(w, "message id: %s\n", res.MessageID)
	if res.Ephemeral {
		fmt.Fprintln(w, "ephemeral:  yes")
	}
	if res.Prompt != "" {
		fmt.Fprintf(w, "prompt:     %s\n", res.Prompt)
	}
}

func maybeDownload(ctx context.Context, w io.Writer, res *jobs.Result, dir string) error {
	if dir == "" || res.ImageURL == "" {
		return nil
	}
	path, err := utils.DownloadFile(ctx, res.ImageURL, dir, utils.DownloadOptions{
		Timeout:      downloadTimeout,
		LoggerPrefix: "download",
	})
	if err != nil {
		return fmt.Errorf("download %s: %w", res.ImageURL, err)
	}
	fmt.Fprintf(w, "saved:      %s\n", path)
	return nil
}
