package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/H4MSA/solivrah/client"
	"github.com/H4MSA/solivrah/internal/core"
	"github.com/H4MSA/solivrah/internal/quest"
)

func statusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show identity, XP and streak",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(cmd.Context(), opts, func(d *device) error {
				out := cmd.OutOrStdout()
				rec := d.store().Snapshot()
				printStatus(out, "identity", d.identity(), color.FgCyan)
				printStatus(out, "xp", rec.XP, color.FgGreen)
				printStatus(out, "streak", rec.Streak, color.FgGreen)
				printStatus(out, "theme", rec.Theme, color.FgMagenta)
				printStatus(out, "completed", rec.CompletedQuestCount, color.FgGreen)
				if pending := d.manager.PendingSync(); len(pending) > 0 {
					printWarning(out, "%d quest completions waiting to sync", len(pending))
				}
				if queued := d.sess.Scheduler().Pending(); len(queued) > 0 {
					printWarning(out, "progress writes queued for %s", strings.Join(queued, ", "))
				}
				if d.remote != nil {
					health, err := d.remote.Health(cmd.Context())
					if err != nil {
						printWarning(out, "server %s unreachable: %v", d.cfg.Device.ServerURL, err)
					} else {
						printStatus(out, "server", health.Status, color.FgGreen)
					}
				}
				return nil
			})
		},
	}
}

func questsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "quests",
		Short: "List current, upcoming and completed quests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(cmd.Context(), opts, func(d *device) error {
				out := cmd.OutOrStdout()
				p := d.manager.Partitions()
				if p.Current == nil && len(p.Completed) == 0 {
					fmt.Fprintln(out, `No quests yet. Run "solivrah roadmap" to plan your journey.`)
					return nil
				}
				if p.Current != nil {
					fmt.Fprintf(out, "%s\n", color.New(color.Bold).Sprint("Current"))
					printQuest(cmd, *p.Current)
				}
				if len(p.Upcoming) > 0 {
					fmt.Fprintf(out, "%s\n", color.New(color.Bold).Sprint("Upcoming"))
					for _, q := range p.Upcoming {
						printQuest(cmd, q)
					}
				}
				if len(p.Completed) > 0 {
					fmt.Fprintf(out, "%s\n", color.New(color.Bold).Sprint("Completed"))
					for _, q := range p.Completed {
						printQuest(cmd, q)
					}
				}
				return nil
			})
		},
	}
}

func printQuest(cmd *cobra.Command, q core.Quest) {
	mark := "  "
	if q.Completed {
		mark = okMark() + " "
	}
	extra := ""
	if q.RequiresPhoto {
		extra = " [photo: " + string(q.VerificationStatus) + "]"
	}
	if q.PendingSync {
		extra += " " + warnMark() + " not synced"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s%-4s day %-3d %-6s %3dxp  %s%s\n",
		mark, q.ID, q.Day, q.Difficulty, q.XPReward, q.Title, extra)
}

func completeCmd(opts *rootOptions) *cobra.Command {
	var photo string
	cmd := &cobra.Command{
		Use:   "complete <quest-id>",
		Short: "Complete a quest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			imageURL, err := photoReference(photo)
			if err != nil {
				return err
			}
			return withDevice(cmd.Context(), opts, func(d *device) error {
				res, err := d.manager.CompleteQuest(cmd.Context(), args[0], imageURL)
				if errors.Is(err, core.ErrNotFound) {
					return fmt.Errorf("no quest %q; run \"solivrah quests\" to list them", args[0])
				}
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !res.Applied {
					fmt.Fprintf(out, "%s already completed\n", res.Quest.ID)
					return nil
				}
				fmt.Fprintf(out, "%s %s completed, +%d xp\n", okMark(), res.Quest.ID, res.XPAwarded)
				if res.Verification != nil {
					printStatus(out, "photo", res.Quest.VerificationStatus, color.FgCyan)
				}
				if res.Quest.PendingSync {
					printWarning(out, "saved on this device; it is retried on the next command or by watch")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&photo, "photo", "", "photo file or image URL for quests that require one")
	return cmd
}

// photoReference turns a local file into a data URL; URLs pass through.
func photoReference(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "data:") {
		return ref, nil
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		return "", fmt.Errorf("read photo: %w", err)
	}
	return "data:" + http.DetectContentType(data) + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func themeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "theme <name>",
		Short: "Choose Discipline, Focus, Resilience or Wildcard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			theme, err := core.ParseTheme(args[0])
			if err != nil {
				return err
			}
			return withDevice(cmd.Context(), opts, func(d *device) error {
				if err := d.store().SetTheme(theme); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s theme set to %s\n", okMark(), theme)
				return nil
			})
		},
	}
}

func resetCmd(opts *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset XP, streak and completed quest count",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("reset cannot be undone; pass --yes to confirm")
			}
			return withDevice(cmd.Context(), opts, func(d *device) error {
				d.store().ResetProgress()
				if d.identity().IsGuest() {
					if err := d.ai.ClearGuestCache(); err != nil {
						printWarning(cmd.OutOrStdout(), "clear guest ai cache: %v", err)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s progress reset\n", okMark())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}

func loginCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "login <user-id>",
		Short: "Switch to an account, merging guest progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(cmd.Context(), opts, func(d *device) error {
				if err := d.sess.Login(cmd.Context(), args[0]); err != nil {
					return err
				}
				rec := d.store().Snapshot()
				fmt.Fprintf(cmd.OutOrStdout(), "%s logged in as %s (xp %d, streak %d)\n", okMark(), args[0], rec.XP, rec.Streak)
				return nil
			})
		},
	}
}

func logoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Return to guest progress on this device",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(cmd.Context(), opts, func(d *device) error {
				if err := d.sess.Logout(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s logged out\n", okMark())
				return nil
			})
		},
	}
}

func watchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow account events and retry unsynced quests",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withDevice(ctx, opts, func(d *device) error {
				return watch(ctx, cmd, d)
			})
		},
	}
}

func watch(ctx context.Context, cmd *cobra.Command, d *device) error {
	id := d.identity()
	if d.remote == nil || id.IsGuest() {
		return fmt.Errorf("watch needs device.server_url and a logged in user")
	}
	out := cmd.OutOrStdout()

	resync := quest.NewResyncer(d.manager, d.cfg.Sync.Resync)
	resync.Start(ctx)
	defer resync.Stop()

	ws := client.NewWSClient(d.cfg.Device.ServerURL, id.UserID, client.WithWSAPIKey(d.cfg.Device.APIKey))
	ws.OnEvent(func(e client.Event) {
		switch e.Type {
		case core.EventProgressUpdated:
			rec, err := e.AsProgress()
			if err != nil {
				printWarning(out, "bad progress event: %v", err)
				return
			}
			if rec.UpdatedAt.After(d.store().Snapshot().UpdatedAt) {
				d.store().Restore(rec)
			}
			printStatus(out, "progress", fmt.Sprintf("xp %d, streak %d", rec.XP, rec.Streak), color.FgGreen)
		case core.EventQuestCompleted, core.EventQuestSynced:
			q, err := e.AsQuest()
			if err != nil {
				printWarning(out, "bad quest event: %v", err)
				return
			}
			printStatus(out, string(e.Type), q.ID+" "+q.Title, color.FgCyan)
		case core.EventRoadmapCreated:
			if err := d.manager.Load(ctx, id); err != nil {
				printWarning(out, "reload quests: %v", err)
			}
			printStatus(out, "roadmap", "new roadmap received", color.FgMagenta)
		}
	})
	if err := ws.Connect(ctx); err != nil {
		return fmt.Errorf("connect events: %w", err)
	}
	defer ws.Close()

	fmt.Fprintf(out, "%s watching %s, ctrl-c to stop\n", okMark(), id)
	<-ctx.Done()
	return nil
}
