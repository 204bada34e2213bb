package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"reel/internal/config"
	"reel/internal/jobclient"
	"reel/internal/logging"
	"reel/internal/pushchannel"
	"reel/internal/reconcile"
	"reel/internal/statecache"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		c.logger, c.loggerErr = logging.NewFromConfig(cfg)
	})
	return c.logger, c.loggerErr
}

// storeSession is a reconciliation store wired to the job client, the
// optional push channel and the state cache recorder.
type storeSession struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *reconcile.Store
	cache    *statecache.Store
	recorder *statecache.Recorder
}

// openSession builds a store. live attaches the push channel; one-shot
// commands leave it off and rely on polling while they run.
func (c *commandContext) openSession(live bool) (*storeSession, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, err
	}

	client := jobclient.NewFromConfig(cfg, logger)
	opts := reconcile.OptionsFromConfig(cfg)
	opts.Logger = logger
	var channel reconcile.Channel
	if live && cfg.Push.Enabled {
		channel = pushchannel.New(client, pushchannel.WithLogger(logger))
	} else {
		opts.PushEnabled = false
	}

	sess := &storeSession{
		cfg:    cfg,
		logger: logger,
		store:  reconcile.New(client, channel, opts),
	}

	cache, err := statecache.Open(cfg)
	if err != nil {
		logging.WarnWithContext(logger, "state cache unavailable", "state_cache_unavailable", logging.Error(err))
		return sess, nil
	}
	sess.cache = cache
	sess.recorder = statecache.NewRecorder(cache, logger)
	sess.store.Subscribe(sess.recorder.Observe)
	return sess, nil
}

// Close stops the store, then flushes the recorder so the cache holds the
// final snapshot.
func (s *storeSession) Close() {
	s.store.Close()
	if s.recorder != nil {
		s.recorder.Close()
	}
	if s.cache != nil {
		_ = s.cache.Close()
	}
}

// withStoryboard loads a storyboard into a one-shot session and runs fn.
func (c *commandContext) withStoryboard(cmd *cobra.Command, storyboardID string, live bool, fn func(ctx context.Context, sess *storeSession) error) error {
	sess, err := c.openSession(live)
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := sess.store.LoadExisting(ctx, storyboardID); err != nil {
		return err
	}
	return fn(ctx, sess)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
