package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"reel/internal/scene"
)

func newStoryboardCommand(ctx *commandContext) *cobra.Command {
	storyboardCmd := &cobra.Command{
		Use:   "storyboard",
		Short: "Create and inspect storyboards",
	}
	storyboardCmd.AddCommand(newStoryboardCreateCommand(ctx))
	storyboardCmd.AddCommand(newStoryboardShowCommand(ctx))
	return storyboardCmd
}

func newStoryboardCreateCommand(ctx *commandContext) *cobra.Command {
	var brief scene.Brief
	var mood string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a storyboard from a creative brief",
		RunE: func(cmd *cobra.Command, args []string) error {
			brief.Description = strings.TrimSpace(brief.Description)
			if brief.Description == "" {
				return errors.New("--description is required")
			}
			if brief.SceneCount < 0 {
				return fmt.Errorf("invalid scene count %d", brief.SceneCount)
			}

			sess, err := ctx.openSession(false)
			if err != nil {
				return err
			}
			defer sess.Close()

			runCtx := cmd.Context()
			if runCtx == nil {
				runCtx = context.Background()
			}
			if _, err := sess.store.Initialize(runCtx, brief, strings.TrimSpace(mood)); err != nil {
				return err
			}
			snap := sess.store.Snapshot()
			if jsonOutput {
				return writeJSON(cmd, snap)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created storyboard %s\n", snap.Storyboard.ID)
			renderSnapshot(out, snap, isTerminal(out))
			return nil
		},
	}

	cmd.Flags().StringVarP(&brief.Description, "description", "d", "", "Creative brief describing the video")
	cmd.Flags().StringVar(&brief.Title, "title", "", "Working title")
	cmd.Flags().IntVarP(&brief.SceneCount, "scenes", "n", 0, "Requested number of scenes (backend default when 0)")
	cmd.Flags().StringVarP(&mood, "mood", "m", "", "Mood applied to every scene")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newStoryboardShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <storyboard-id>",
		Short: "Load a storyboard from the backend and show its scenes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStoryboard(cmd, args[0], false, func(_ context.Context, sess *storeSession) error {
				snap := sess.store.Snapshot()
				if jsonOutput {
					return writeJSON(cmd, snap)
				}
				out := cmd.OutOrStdout()
				renderSnapshot(out, snap, isTerminal(out))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
