package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"reel/internal/reconcile"
	"reel/internal/scene"
	"reel/internal/textutil"
)

const defaultWaitTimeout = 10 * time.Minute

func newSceneCommand(ctx *commandContext) *cobra.Command {
	sceneCmd := &cobra.Command{
		Use:   "scene",
		Short: "Generate and edit scenes",
	}

	sceneCmd.AddCommand(
		newSceneActionCommand(ctx, "approve-text", "Approve scene text and generate its image", false,
			func(ctx context.Context, store *reconcile.Store, id string) error { return store.ApproveText(ctx, id) }),
		newSceneActionCommand(ctx, "regenerate-image", "Generate a new image for a scene", false,
			func(ctx context.Context, store *reconcile.Store, id string) error { return store.RegenerateImage(ctx, id) }),
		newSceneActionCommand(ctx, "approve-image", "Approve the image and start video generation", true,
			func(ctx context.Context, store *reconcile.Store, id string) error { return store.ApproveImage(ctx, id) }),
		newSceneActionCommand(ctx, "regenerate-video", "Start a new video job for a scene", true,
			func(ctx context.Context, store *reconcile.Store, id string) error { return store.RegenerateVideo(ctx, id) }),
		newRegenerateTextCommand(ctx),
		newEditTextCommand(ctx),
		newDurationCommand(ctx),
		newAddSceneCommand(ctx),
		newRemoveSceneCommand(ctx),
		newReorderCommand(ctx),
		newAssetCommand(ctx),
		newTrimCommand(ctx),
	)
	return sceneCmd
}

type sceneAction func(ctx context.Context, store *reconcile.Store, sceneID string) error

// newSceneActionCommand builds a `<storyboard-id> <scene-id>` command. Video
// actions accept --wait to keep the session open until the job settles.
func newSceneActionCommand(ctx *commandContext, use, short string, video bool, action sceneAction) *cobra.Command {
	var wait bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   use + " <storyboard-id> <scene-id>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			storyboardID, sceneID := args[0], args[1]
			return ctx.withStoryboard(cmd, storyboardID, wait, func(runCtx context.Context, sess *storeSession) error {
				if err := action(runCtx, sess.store, sceneID); err != nil {
					return err
				}
				if wait {
					if err := waitForVideo(runCtx, sess.store, sceneID, timeout); err != nil {
						return err
					}
				}
				return printScene(cmd, sess.store, sceneID)
			})
		},
	}
	if video {
		cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the video job to finish")
		cmd.Flags().DurationVar(&timeout, "timeout", defaultWaitTimeout, "Maximum time to wait with --wait")
	}
	return cmd
}

func newRegenerateTextCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "regenerate-text <storyboard-id> <scene-id>",
		Short: "Rewrite the scene text",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			storyboardID, sceneID := args[0], args[1]
			return ctx.withStoryboard(cmd, storyboardID, false, func(runCtx context.Context, sess *storeSession) error {
				before, _ := sess.store.Scene(sceneID)
				if err := sess.store.RegenerateText(runCtx, sceneID); err != nil {
					return err
				}
				if err := printScene(cmd, sess.store, sceneID); err != nil {
					return err
				}
				if after, ok := sess.store.Scene(sceneID); ok {
					out := cmd.OutOrStdout()
					fmt.Fprintf(out, "Text: %s\n", after.Text)
					fmt.Fprintf(out, "Similarity to previous text: %.0f%%\n", 100*textutil.Similarity(before.Text, after.Text))
				}
				return nil
			})
		},
	}
}

func newEditTextCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "edit-text <storyboard-id> <scene-id> <text...>",
		Short: "Replace the scene text",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args[2:], " ")
			return ctx.withStoryboard(cmd, args[0], false, func(runCtx context.Context, sess *storeSession) error {
				if err := sess.store.EditText(runCtx, args[1], text); err != nil {
					return err
				}
				return printScene(cmd, sess.store, args[1])
			})
		},
	}
}

func newDurationCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "duration <storyboard-id> <scene-id> <seconds>",
		Short: "Set the scene duration",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			seconds, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("invalid duration %q: %w", args[2], err)
			}
			return ctx.withStoryboard(cmd, args[0], false, func(runCtx context.Context, sess *storeSession) error {
				if err := sess.store.UpdateDuration(runCtx, args[1], seconds); err != nil {
					return err
				}
				return printScene(cmd, sess.store, args[1])
			})
		},
	}
}

func newAddSceneCommand(ctx *commandContext) *cobra.Command {
	var position int

	cmd := &cobra.Command{
		Use:   "add <storyboard-id>",
		Short: "Add a scene",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pos := reconcile.AppendPosition
			if cmd.Flags().Changed("position") {
				if position < 1 {
					return fmt.Errorf("invalid position %d", position)
				}
				pos = position - 1
			}
			return ctx.withStoryboard(cmd, args[0], false, func(runCtx context.Context, sess *storeSession) error {
				id, err := sess.store.AddScene(runCtx, pos)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added scene %s\n", id)
				return printStoryboard(cmd, sess.store)
			})
		},
	}
	cmd.Flags().IntVarP(&position, "position", "p", 0, "1-based position for the new scene (default: append)")
	return cmd
}

func newRemoveSceneCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <storyboard-id> <scene-id>",
		Short: "Remove a scene",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStoryboard(cmd, args[0], false, func(runCtx context.Context, sess *storeSession) error {
				if err := sess.store.RemoveScene(runCtx, args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed scene %s\n", args[1])
				return printStoryboard(cmd, sess.store)
			})
		},
	}
}

func newReorderCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reorder <storyboard-id> <scene-id>...",
		Short: "Reorder scenes; every scene id must appear exactly once",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			order := append([]string(nil), args[1:]...)
			return ctx.withStoryboard(cmd, args[0], false, func(runCtx context.Context, sess *storeSession) error {
				if err := sess.store.ReorderScenes(runCtx, order); err != nil {
					return err
				}
				return printStoryboard(cmd, sess.store)
			})
		},
	}
}

func newAssetCommand(ctx *commandContext) *cobra.Command {
	var clearAsset bool

	cmd := &cobra.Command{
		Use:   "asset <storyboard-id> <scene-id> <brand|character|background> [asset-id]",
		Short: "Attach or clear an overlay asset",
		Args:  cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, ok := scene.ParseAssetKind(args[2])
			if !ok {
				return fmt.Errorf("unknown asset kind %q", args[2])
			}
			assetID := ""
			if len(args) == 4 {
				assetID = strings.TrimSpace(args[3])
			}
			if assetID == "" && !clearAsset {
				return errors.New("asset id is required unless --clear is set")
			}
			if assetID != "" && clearAsset {
				return errors.New("--clear does not take an asset id")
			}
			return ctx.withStoryboard(cmd, args[0], false, func(runCtx context.Context, sess *storeSession) error {
				var invalidates bool
				var err error
				if clearAsset {
					invalidates, err = sess.store.ClearAsset(runCtx, args[1], kind)
				} else {
					invalidates, err = sess.store.SetAsset(runCtx, args[1], kind, assetID)
				}
				if err != nil {
					return err
				}
				if err := printScene(cmd, sess.store, args[1]); err != nil {
					return err
				}
				if invalidates {
					fmt.Fprintln(cmd.OutOrStdout(), "The current image no longer matches its assets; regenerate the image to apply the change.")
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&clearAsset, "clear", false, "Remove the asset of this kind")
	return cmd
}

func newTrimCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "trim <storyboard-id> <scene-id> <start> <end>",
		Short: "Set the trim window over the generated video, in seconds",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("invalid trim start %q: %w", args[2], err)
			}
			end, err := strconv.ParseFloat(args[3], 64)
			if err != nil {
				return fmt.Errorf("invalid trim end %q: %w", args[3], err)
			}
			return ctx.withStoryboard(cmd, args[0], false, func(runCtx context.Context, sess *storeSession) error {
				if err := sess.store.SetTrim(runCtx, args[1], start, end); err != nil {
					return err
				}
				return printScene(cmd, sess.store, args[1])
			})
		},
	}
}

func printScene(cmd *cobra.Command, store *reconcile.Store, sceneID string) error {
	sc, ok := store.Scene(sceneID)
	if !ok {
		return fmt.Errorf("scene %s is no longer part of the storyboard", sceneID)
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderSceneLine(sc))
	return nil
}

func printStoryboard(cmd *cobra.Command, store *reconcile.Store) error {
	out := cmd.OutOrStdout()
	renderSnapshot(out, store.Snapshot(), isTerminal(out))
	return nil
}

// waitForVideo blocks until the scene's video leaves the generating state.
func waitForVideo(ctx context.Context, store *reconcile.Store, sceneID string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	settled := make(chan struct{}, 1)
	check := func(snap reconcile.Snapshot) {
		sc, ok := snap.Scene(sceneID)
		if !ok || sc.Generation.Video != scene.StatusGenerating {
			select {
			case settled <- struct{}{}:
			default:
			}
		}
	}
	unsubscribe := store.Subscribe(check)
	defer unsubscribe()
	check(store.Snapshot())

	select {
	case <-settled:
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("scene %s: video still generating after %s", sceneID, timeout)
		}
		return ctx.Err()
	}
}
