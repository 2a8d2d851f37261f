package main

import (
	"fmt"

	"github.com/matcontt/tindercam/disposition"
	"github.com/spf13/cobra"
)

func newSwipeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "swipe <image>",
		Short: "Capture an image and apply one swipe gesture to it",
		Long: `Captures the image, replays the horizontal translations given with --move
and releases the gesture. A photo that is not committed is discarded.

Example: tindercam swipe shot.jpg --move 0,50,120`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			moves, err := cmd.Flags().GetFloat64Slice("move")
			if err != nil {
				return err
			}
			return withApp(cmd, func(app *disposition.App) error {
				return swipe(cmd, app, args[0], moves)
			})
		},
	}
	cmd.Flags().Float64SliceP("move", "m", nil, "Cumulative horizontal translations, positive to the right")
	return cmd
}

func swipe(cmd *cobra.Command, app *disposition.App, filename string, moves []float64) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	tr := disposition.NewTranslator(app.Config.Server.Language)
	orch := app.Orchestrator

	photo, err := orch.Capture(ctx, app.Ingestor.FileSession(filename))
	if err != nil {
		if alert := tr.AlertFor(disposition.SignalCaptureFailed, orch.Store().Counts()); alert != nil {
			fmt.Fprintf(out, "%s: %s\n", alert.Title, alert.Body)
		}
		return err
	}
	fmt.Fprintf(out, "Captured %s (%dx%d)\n", photo.ID, photo.Width, photo.Height)

	if err := replay(orch, moves); err != nil {
		orch.Discard(ctx)
		return err
	}
	outcome, err := orch.Release(ctx)
	if err != nil && outcome.Signal == "" {
		return err
	}
	fmt.Fprintf(out, "Verdict: %s\n", outcome.Verdict)
	if outcome.Evicted != nil {
		alert := tr.AlertFor(disposition.SignalTrashEviction, outcome.Counts)
		fmt.Fprintf(out, "%s: %s (%s)\n", alert.Title, alert.Body, outcome.Evicted.ID)
	}
	if alert := tr.AlertFor(outcome.Signal, outcome.Counts); alert != nil {
		fmt.Fprintf(out, "%s: %s\n", alert.Title, alert.Body)
	}
	if orch.InFlight() != nil {
		if _, discardErr := orch.Discard(ctx); discardErr != nil && err == nil {
			err = discardErr
		}
		fmt.Fprintf(out, "Not committed, photo discarded\n")
	}
	fmt.Fprintln(out, tr.GalleryCounter(orch.Store().Counts()))
	return err
}

func replay(orch *disposition.Orchestrator, moves []float64) error {
	if err := orch.BeginGesture(); err != nil {
		return err
	}
	for _, x := range moves {
		if _, err := orch.Move(x); err != nil {
			return err
		}
	}
	return nil
}
