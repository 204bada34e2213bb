package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"reel/internal/services"
	"reel/internal/statecache"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status [storyboard-id]",
		Short: "Show cached storyboard state without contacting the backend",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cache, err := statecache.Open(cfg)
			if err != nil {
				return fmt.Errorf("open state cache: %w", err)
			}
			defer cache.Close()

			runCtx := cmd.Context()
			if runCtx == nil {
				runCtx = context.Background()
			}
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				rec, err := cache.Load(runCtx, args[0])
				if errors.Is(err, services.ErrNotFound) {
					return fmt.Errorf("storyboard %s has no cached state; run `reel storyboard show %s` first", args[0], args[0])
				}
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, rec)
				}
				fmt.Fprintf(out, "Storyboard %s  push: %s  version: %d  saved: %s\n",
					rec.Storyboard.ID, label(string(rec.Channel)), rec.Version, formatAge(rec.SavedAt, time.Now()))
				fmt.Fprintln(out, renderScenes(rec.Scenes, rec.ActiveIndex, isTerminal(out)))
				return nil
			}

			summaries, err := cache.List(runCtx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, summaries)
			}
			if len(summaries) == 0 {
				fmt.Fprintln(out, "No cached storyboards")
				return nil
			}
			now := time.Now()
			rows := make([][]string, 0, len(summaries))
			for _, s := range summaries {
				rows = append(rows, []string{
					s.StoryboardID,
					label(s.Mood),
					strconv.Itoa(s.Scenes),
					strconv.Itoa(s.Generating),
					strconv.Itoa(s.Failed),
					formatAge(s.SavedAt, now),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Storyboard", "Mood", "Scenes", "Generating", "Failed", "Saved"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
