package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"reel/internal/logging"
	"reel/internal/notifications"
	"reel/internal/reconcile"
	"reel/internal/scene"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "watch <storyboard-id>",
		Short: "Follow a storyboard live until generation settles",
		Long: "Loads the storyboard with the push channel attached and renders every update.\n" +
			"Exits once no scene is generating unless --follow is set. Only one watcher\n" +
			"per storyboard may run at a time.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, ctx, args[0], follow)
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep watching after generation settles")
	return cmd
}

func runWatch(cmd *cobra.Command, ctx *commandContext, storyboardID string, follow bool) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}

	lockPath := cfg.LockPath(storyboardID)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire watch lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("storyboard %s is already being watched (lock %s)", storyboardID, lockPath)
	}
	defer func() { _ = lock.Unlock() }()

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	runCtx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sess, err := ctx.openSession(true)
	if err != nil {
		return err
	}
	defer sess.Close()

	watcher := notifications.NewWatcher(notifications.NewService(cfg), sess.logger)
	defer watcher.Close()
	sess.store.Subscribe(watcher.Observe)

	out := cmd.OutOrStdout()
	printer := newWatchPrinter(out, isTerminal(out))
	sess.store.Subscribe(printer.Observe)

	settled := make(chan struct{})
	var settleOnce sync.Once
	if !follow {
		sess.store.Subscribe(func(snap reconcile.Snapshot) {
			if len(snap.Generating()) == 0 {
				settleOnce.Do(func() { close(settled) })
			}
		})
	}

	if _, err := sess.store.LoadExisting(runCtx, storyboardID); err != nil {
		return err
	}
	sess.logger.Info("watching storyboard",
		logging.String(logging.FieldStoryboardID, storyboardID),
		logging.Bool("follow", follow),
	)

	select {
	case <-settled:
		fmt.Fprintln(out, "No scenes generating; done.")
		return nil
	case <-runCtx.Done():
		return nil
	}
}

// watchPrinter renders snapshots. On a terminal it redraws the whole table;
// otherwise it appends one line per scene whose status changed.
type watchPrinter struct {
	out    io.Writer
	redraw bool

	mu   sync.Mutex
	last map[string]scene.Scene
}

func newWatchPrinter(out io.Writer, redraw bool) *watchPrinter {
	return &watchPrinter{out: out, redraw: redraw, last: make(map[string]scene.Scene)}
}

func (p *watchPrinter) Observe(snap reconcile.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.redraw {
		fmt.Fprint(p.out, ansiClear)
		renderSnapshot(p.out, snap, true)
		return
	}

	next := make(map[string]scene.Scene, len(snap.Scenes))
	for _, sc := range snap.Scenes {
		next[sc.ID] = sc
		prev, ok := p.last[sc.ID]
		if ok && prev.Phase == sc.Phase && prev.Generation == sc.Generation {
			continue
		}
		fmt.Fprintf(p.out, "[v%d] %s\n", snap.Version, renderSceneLine(sc))
	}
	for id := range p.last {
		if _, ok := next[id]; !ok {
			fmt.Fprintf(p.out, "[v%d] %s removed\n", snap.Version, id)
		}
	}
	if snap.Change.Kind == reconcile.ChangeChannel {
		fmt.Fprintf(p.out, "[v%d] push channel %s\n", snap.Version, label(string(snap.Channel)))
	}
	p.last = next
}
