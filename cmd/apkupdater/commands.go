package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/EikeiDev/apkupdateross/internal/catalog"
	"github.com/EikeiDev/apkupdateross/internal/catalog/manifest"
	"github.com/EikeiDev/apkupdateross/internal/download"
	"github.com/EikeiDev/apkupdateross/internal/executor"
	"github.com/EikeiDev/apkupdateross/internal/installer"
	"github.com/EikeiDev/apkupdateross/internal/logging"
	"github.com/EikeiDev/apkupdateross/internal/privilege"
	"github.com/EikeiDev/apkupdateross/internal/progress"
)

var (
	showAll      bool
	installMode  string
	installQuery string
	historyLimit int
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search all enabled catalogs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			found, err := a.agg.Search(ctx, args[0])
			if err != nil {
				return err
			}
			printCandidates(found, nil)
			return nil
		})
	},
}

var updatesCmd = &cobra.Command{
	Use:   "updates",
	Short: "List available updates for installed packages",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			installed, err := a.installed()
			if err != nil {
				return err
			}
			if err := a.board.Refresh(ctx, installed); err != nil {
				return err
			}
			if !showAll {
				printCandidates(a.board.Items(), nil)
				return nil
			}
			ignored, err := a.store.Ignored()
			if err != nil {
				return err
			}
			printCandidates(a.board.Fetched(), ignored)
			return nil
		})
	},
}

var installCmd = &cobra.Command{
	Use:   "install <id|package>",
	Short: "Install an update or a search result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return runInstall(ctx, a, args[0])
		})
	},
}

var ignoreCmd = &cobra.Command{
	Use:   "ignore <id>",
	Short: "Toggle whether an update version is ignored",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid id %q", args[0])
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			ignored, err := a.board.ToggleIgnore(id)
			if err != nil {
				return err
			}
			if ignored {
				fmt.Printf("%d ignored\n", id)
			} else {
				fmt.Printf("%d no longer ignored\n", id)
			}
			return nil
		})
	},
}

var modesCmd = &cobra.Command{
	Use:   "modes",
	Short: "Show which install modes are usable",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			root := executor.Runner{Prefix: a.cfg.RootShell}
			extra := map[installer.Mode]func(context.Context) error{
				installer.ModeRoot: func(ctx context.Context) error {
					return privilege.VerifyRoot(ctx, root)
				},
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "MODE\tAVAILABLE\tREASON")
			for _, av := range privilege.ProbeModes(ctx, a.pipeline.Backends(), extra) {
				mark := "yes"
				if !av.Available {
					mark = "no"
				}
				current := ""
				if av.Mode.String() == a.cfg.InstallMode {
					current = " (configured)"
				}
				fmt.Fprintf(tw, "%s%s\t%s\t%s\n", av.Mode, current, mark, av.Reason)
			}
			return tw.Flush()
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent install attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			entries, err := a.store.History(historyLimit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "WHEN\tPACKAGE\tVERSION\tMODE\tRESULT")
			for _, e := range entries {
				result := "failed"
				if e.Succeeded {
					result = "installed"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.At.Local().Format(time.DateTime), e.PackageName, e.Version, e.Mode, result)
			}
			return tw.Flush()
		})
	},
}

func init() {
	updatesCmd.Flags().BoolVar(&showAll, "all", false, "include ignored versions")
	installCmd.Flags().StringVar(&installMode, "mode", "", "install mode: standard, root or broker (default from config)")
	installCmd.Flags().StringVar(&installQuery, "search", "", "pick the candidate from a search instead of the update list")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of entries to show")
}

// withApp builds the app, runs fn with a context cancelled on SIGINT or
// SIGTERM, and tears the app down.
func withApp(cmd *cobra.Command, fn func(context.Context, *app) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, a)
}

func printCandidates(list []catalog.Candidate, ignored map[int]bool) {
	if len(list) == 0 {
		fmt.Println("Nothing found.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPACKAGE\tVERSION\tSOURCE\t")
	for _, c := range list {
		version := c.Version
		if c.OldVersion != "" {
			version = c.OldVersion + " -> " + c.Version
		}
		var flags string
		switch {
		case ignored[c.ID]:
			flags = "ignored"
		case c.External:
			flags = "external"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", c.ID, c.Name, c.PackageName, version, c.Source, flags)
	}
	tw.Flush()
}

// resolveCandidate finds target by correlation id or package name, in the
// search results when a query is given and in the update list otherwise.
func (a *app) resolveCandidate(ctx context.Context, target, query string) (catalog.Candidate, error) {
	var pool []catalog.Candidate
	if query != "" {
		found, err := a.agg.Search(ctx, query)
		if err != nil {
			return catalog.Candidate{}, err
		}
		pool = found
	} else {
		installed, err := a.installed()
		if err != nil {
			return catalog.Candidate{}, err
		}
		if err := a.board.Refresh(ctx, installed); err != nil {
			return catalog.Candidate{}, err
		}
		pool = a.board.Items()
	}

	id, idErr := strconv.Atoi(target)
	for _, c := range pool {
		if (idErr == nil && c.ID == id) || c.PackageName == target {
			return c, nil
		}
	}
	return catalog.Candidate{}, fmt.Errorf("no candidate matches %q", target)
}

func runInstall(ctx context.Context, a *app, target string) error {
	modeName := installMode
	if modeName == "" {
		modeName = a.cfg.InstallMode
	}
	mode, err := installer.ParseMode(modeName)
	if err != nil {
		return err
	}

	c, err := a.resolveCandidate(ctx, target, installQuery)
	if err != nil {
		return err
	}
	if err := a.dl.Cleanup(download.StaleAge); err != nil {
		log.Warn("stale downloads not removed", logging.KeyError, err)
	}

	sub := a.bus.Subscribe()
	defer sub.Close()
	boardSub := a.bus.Subscribe()
	defer boardSub.Close()
	go a.board.Watch(ctx, boardSub)

	if err := a.pipeline.Install(ctx, c, mode); err != nil {
		return err
	}
	if c.External {
		return nil
	}

	o := awaitOutcome(ctx, a, sub, c)
	switch {
	case o.Succeeded:
		apps, err := a.installed()
		if err != nil {
			return err
		}
		return manifest.SaveInstalled(a.cfg.InstalledFile, manifest.MarkInstalled(apps, c))
	case !o.NotifyUser:
		return fmt.Errorf("install of %s cancelled", c.Name)
	default:
		return fmt.Errorf("install of %s failed", c.Name)
	}
}

// awaitOutcome renders progress for c until its outcome arrives. An
// interrupt cancels the attempt and keeps waiting for the cancel outcome.
func awaitOutcome(ctx context.Context, a *app, sub *progress.Subscription, c catalog.Candidate) progress.Outcome {
	view := newProgressView(c.Name)
	defer view.finish()

	done := ctx.Done()
	for {
		select {
		case <-done:
			done = nil
			a.pipeline.Cancel(c.ID)
		case p := <-sub.Progress():
			if p.ID == c.ID {
				view.update(p)
			}
		case o := <-sub.Status():
			if o.ID == c.ID {
				return o
			}
		}
	}
}
