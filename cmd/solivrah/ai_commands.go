package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/H4MSA/solivrah/internal/ai"
	"github.com/H4MSA/solivrah/internal/names"
	"github.com/H4MSA/solivrah/internal/quest"
)

func fallbackNote(cmd *cobra.Command, fallback bool) {
	if fallback {
		printWarning(cmd.OutOrStdout(), "AI service unavailable, showing a default response")
	}
}

func affirmCmd(opts *rootOptions) *cobra.Command {
	var mood string
	cmd := &cobra.Command{
		Use:   "affirm",
		Short: "Get a daily affirmation for your theme",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(cmd.Context(), opts, func(d *device) error {
				rec := d.store().Snapshot()
				username := d.username()
				if username == "" {
					username = names.GuestHandle(rec.Theme)
				}
				res, err := d.ai.Affirmation(cmd.Context(), ai.AffirmationRequest{Theme: rec.Theme, Username: username, Mood: mood})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), res.Affirmation)
				fallbackNote(cmd, res.Fallback)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&mood, "mood", "", "how you feel today")
	return cmd
}

func coachCmd(opts *rootOptions) *cobra.Command {
	var mood, extra string
	var history bool
	cmd := &cobra.Command{
		Use:   "coach [message]",
		Short: "Ask the coach for guidance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(cmd.Context(), opts, func(d *device) error {
				out := cmd.OutOrStdout()
				if history {
					for _, ex := range d.ai.CoachingHistory() {
						fmt.Fprintf(out, "%s %s\n", color.CyanString(ex.At.Local().Format("Jan 02 15:04")), ex.Message)
						fmt.Fprintf(out, "  %s\n", ex.Reply)
					}
					if len(args) == 0 {
						return nil
					}
				}
				res, err := d.ai.Coaching(cmd.Context(), ai.CoachingRequest{
					Message:     strings.Join(args, " "),
					Mood:        mood,
					Context:     extra,
					UserProfile: d.profile(),
				})
				if err != nil {
					return err
				}
				fmt.Fprintln(out, res.Reply)
				fallbackNote(cmd, res.Fallback)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&mood, "mood", "", "current mood")
	cmd.Flags().StringVar(&extra, "context", "", "extra context for the coach")
	cmd.Flags().BoolVar(&history, "history", false, "show earlier guest coaching turns")
	return cmd
}

func chatCmd(opts *rootOptions) *cobra.Command {
	var personality string
	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Chat with the assistant",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(cmd.Context(), opts, func(d *device) error {
				res, err := d.ai.Chat(cmd.Context(), ai.ChatRequest{
					Message:     strings.Join(args, " "),
					Personality: ai.Personality(personality),
					UserProfile: d.profile(),
				})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), res.Reply)
				fallbackNote(cmd, res.Fallback)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&personality, "personality", string(ai.PersonalityPlayful), "playful or professional")
	return cmd
}

func moodCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mood <journal entry>",
		Short: "Classify the mood of a journal entry",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(cmd.Context(), opts, func(d *device) error {
				res, err := d.ai.Mood(cmd.Context(), ai.MoodRequest{JournalEntry: strings.Join(args, " ")})
				if err != nil {
					return err
				}
				printStatus(cmd.OutOrStdout(), "mood", res.Mood, color.FgMagenta)
				fallbackNote(cmd, res.Fallback)
				return nil
			})
		},
	}
}

func roadmapCmd(opts *rootOptions) *cobra.Command {
	var struggles string
	var dailyTime float64
	var replace bool
	cmd := &cobra.Command{
		Use:   "roadmap <goals>",
		Short: "Plan a 30-day roadmap and turn it into quests",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(cmd.Context(), opts, func(d *device) error {
				out := cmd.OutOrStdout()
				rec := d.store().Snapshot()
				if replace {
					// a fresh plan, not the cached one
					if err := d.ai.InvalidateRoadmap(); err != nil {
						return fmt.Errorf("clear cached roadmap: %w", err)
					}
				}
				res, err := d.ai.Roadmap(cmd.Context(), ai.RoadmapRequest{
					Goals:       strings.Join(args, " "),
					Struggles:   struggles,
					DailyTime:   dailyTime,
					UserProfile: d.profile(),
				})
				if err != nil {
					return err
				}
				fallbackNote(cmd, res.Fallback)
				fmt.Fprintf(out, "%s: %s (%d days)\n", color.New(color.Bold).Sprint(res.Roadmap.Theme), res.Roadmap.Goal, len(res.Roadmap.Days))

				if len(d.manager.Quests()) > 0 && !replace {
					printWarning(out, "quests already planned; pass --replace to start over")
					return nil
				}
				quests := quest.FromRoadmap(d.identity().UserID, res.Roadmap, rec.Theme)
				if err := d.manager.SetQuests(cmd.Context(), quests); err != nil {
					printWarning(out, "some quests are saved on this device only: %v", err)
				}
				fmt.Fprintf(out, "%s %d quests planned\n", okMark(), len(quests))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&struggles, "struggles", "", "what usually gets in the way")
	cmd.Flags().Float64Var(&dailyTime, "daily-time", 0.5, "hours per day you can spend")
	cmd.Flags().BoolVar(&replace, "replace", false, "replace existing quests with a newly generated plan")
	return cmd
}
