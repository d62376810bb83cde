// Command gjsadmin is the administrative CLI over QueueClient's admin
// surface: status, cancel, jobs, unique-jobs, workers, version, and
// shutdown.
package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nuulab/gjs/pkg/gjsconfig"
	"github.com/nuulab/gjs/pkg/queueclient"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fail(err.Error())
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gjsadmin",
		Short: "Administer a GJS-backed Gearman deployment",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./gjs.yaml)")

	root.AddCommand(statusCmd())
	root.AddCommand(cancelCmd())
	root.AddCommand(jobsCmd())
	root.AddCommand(uniqueJobsCmd())
	root.AddCommand(workersCmd())
	root.AddCommand(versionCmd())
	root.AddCommand(shutdownCmd())
	return root
}

func newClient() (*queueclient.QueueClient, error) {
	cfg, err := gjsconfig.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := gjsconfig.Validate(cfg); err != nil {
		return nil, err
	}
	return queueclient.New(queueclient.Config{Servers: cfg.GearmanServers, DialTimeout: 5 * time.Second})
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <handle>",
		Short: "Query the status of a job by its queue handle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := newClient()
			if err != nil {
				return err
			}
			defer q.Close()

			st, err := q.Status(args[0])
			if err != nil {
				return err
			}
			if !st.Found {
				fail(fmt.Sprintf("handle %s not found on any configured server", args[0]))
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Handle:\t%s\n", cyan(args[0]))
			fmt.Fprintf(w, "Known:\t%v\n", st.Known)
			fmt.Fprintf(w, "Running:\t%v\n", st.Running)
			fmt.Fprintf(w, "Progress:\t%d/%d\n", st.Numerator, st.Denominator)
			return w.Flush()
		},
	}
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <handle>",
		Short: "Cancel a queued (not yet running) job by its queue handle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := newClient()
			if err != nil {
				return err
			}
			defer q.Close()

			ok, err := q.Cancel(args[0])
			if err != nil {
				return err
			}
			if ok {
				success(fmt.Sprintf("job %s canceled", args[0]))
			} else {
				fail(fmt.Sprintf("job %s was not accepted for cancellation", args[0]))
			}
			return nil
		},
	}
}

func jobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List jobs known to every configured server (show jobs)",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := newClient()
			if err != nil {
				return err
			}
			defer q.Close()
			out, err := q.Admin().ListJobs()
			if err != nil {
				return err
			}
			printBlocks(out)
			return nil
		},
	}
}

func uniqueJobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unique-jobs",
		Short: "List unique jobs known to every configured server (show unique jobs)",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := newClient()
			if err != nil {
				return err
			}
			defer q.Close()
			out, err := q.Admin().ListUniqueJobs()
			if err != nil {
				return err
			}
			printBlocks(out)
			return nil
		},
	}
}

func workersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "workers",
		Short: "List connected workers on every configured server",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := newClient()
			if err != nil {
				return err
			}
			defer q.Close()
			out, err := q.Admin().ListWorkers()
			if err != nil {
				return err
			}
			printBlocks(out)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print each server's reported version",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := newClient()
			if err != nil {
				return err
			}
			defer q.Close()
			out, err := q.Admin().Version()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			for addr, v := range out {
				fmt.Fprintf(w, "%s\t%s\n", cyan(addr), v)
			}
			return w.Flush()
		},
	}
}

func shutdownCmd() *cobra.Command {
	graceful := false
	cmd := &cobra.Command{
		Use:   "shutdown",
		Short: "Shut down every configured server",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := newClient()
			if err != nil {
				return err
			}
			defer q.Close()
			if err := q.Admin().Shutdown(graceful); err != nil {
				return err
			}
			success("shutdown sent to every configured server")
			return nil
		},
	}
	cmd.Flags().BoolVar(&graceful, "graceful", false, "request a graceful shutdown")
	return cmd
}

func printBlocks(out map[string][]string) {
	for addr, lines := range out {
		fmt.Println(bold(addr))
		for _, l := range lines {
			fmt.Println("  " + l)
		}
	}
}

// Color helpers for terminal output.
func green(s string) string  { return "\033[32m" + s + "\033[0m" }
func red(s string) string    { return "\033[31m" + s + "\033[0m" }
func cyan(s string) string   { return "\033[36m" + s + "\033[0m" }
func bold(s string) string   { return "\033[1m" + s + "\033[0m" }

func success(msg string) { fmt.Println(green("✓ ") + msg) }
func fail(msg string)    { fmt.Fprintln(os.Stderr, red("✗ ")+msg) }
