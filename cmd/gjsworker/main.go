// Command gjsworker is the worker CLI entry point: register one or more
// functions and supervise N instances of each against the configured
// Gearman servers until signaled to stop with SIGINT or SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nuulab/gjs/pkg/gjsconfig"
	"github.com/nuulab/gjs/pkg/jobrunner"
	"github.com/nuulab/gjs/pkg/notifier"
	"github.com/nuulab/gjs/pkg/statuscache"
	"github.com/nuulab/gjs/pkg/workerpool"

	"github.com/redis/go-redis/v9"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fail(err.Error())
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gjsworker <function[,function...]> [instances]",
		Short: "Run one or more GJS worker instances",
		Long: `gjsworker registers the named function(s) with every configured
Gearman server and supervises the requested number of worker instances
per function until it receives SIGINT or SIGTERM.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runWorker,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./gjs.yaml)")
	gjsconfig.BindFlags(cmd.Flags())
	cmd.Flags().Int("instances", 1, "number of worker instances per function")

	return cmd
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := gjsconfig.LoadWithFlags(cfgFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("gjsworker: %w", err)
	}
	if err := gjsconfig.Validate(cfg); err != nil {
		return err
	}

	instances, err := resolveInstances(cmd, args)
	if err != nil {
		return err
	}

	names := strings.Split(args[0], ",")
	descs, err := lookup(names)
	if err != nil {
		return err
	}

	var cache *statuscache.Cache
	if cfg.StatusCacheRedisAddr != "" {
		cache = statuscache.New(redis.NewClient(&redis.Options{Addr: cfg.StatusCacheRedisAddr}))
	}

	var notify notifier.Notifier = notifier.NullNotifier{}
	if len(cfg.NotificationsEmails) > 0 {
		notify = notifier.NewSMTPNotifier("localhost", 25, cfg.NotificationsFromAddress,
			cfg.NotificationsEmails, cfg.NotificationsSubjectPrefix)
	}

	pool := workerpool.New(workerpool.Config{
		Servers: cfg.GearmanServers,
		Notifier: jobrunner.Options{
			LogDir:   cfg.WorkerLogDir,
			Notifier: notify,
		},
		Cache: cache,
	})

	for _, d := range descs {
		if err := pool.Register(d, instances); err != nil {
			return err
		}
	}

	info(fmt.Sprintf("registering %s (%d instance(s) each) against %s",
		strings.Join(names, ", "), instances, strings.Join(cfg.GearmanServers, ", ")))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		info("shutting down")
		cancel()
	}()

	errs := pool.Run(ctx)
	for _, e := range errs {
		fail(e.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("gjsworker: %d worker instance(s) failed to register", len(errs))
	}

	success("clean shutdown")
	return nil
}

func resolveInstances(cmd *cobra.Command, args []string) (int, error) {
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 1 {
			return 0, fmt.Errorf("gjsworker: invalid instance count %q", args[1])
		}
		return n, nil
	}
	n, _ := cmd.Flags().GetInt("instances")
	if n < 1 {
		n = 1
	}
	return n, nil
}

// Color helpers for terminal output.
func green(s string) string  { return "\033[32m" + s + "\033[0m" }
func red(s string) string    { return "\033[31m" + s + "\033[0m" }
func cyan(s string) string   { return "\033[36m" + s + "\033[0m" }

func success(msg string) { fmt.Println(green("✓ ") + msg) }
func fail(msg string)    { fmt.Fprintln(os.Stderr, red("✗ ")+msg) }
func info(msg string)    { fmt.Println(cyan("ℹ ") + msg) }
