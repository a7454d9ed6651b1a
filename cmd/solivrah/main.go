package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/H4MSA/solivrah/internal/config"
)

type rootOptions struct {
	configPath string
	user       string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "solivrah",
		Short: "Daily quests, streaks and AI coaching",
		Long: `solivrah tracks XP and streaks across a 30-day quest roadmap.

Progress is kept on this device while you are a guest and moves to your
account when you log in. Run "solivrah serve" to host the API for other
devices.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ./solivrah.yaml or ~/.config/solivrah/solivrah.yaml)")
	root.PersistentFlags().StringVar(&opts.user, "user", "", "act as this user instead of the remembered identity")

	root.AddCommand(
		serveCmd(opts),
		initCmd(),
		statusCmd(opts),
		questsCmd(opts),
		completeCmd(opts),
		themeCmd(opts),
		resetCmd(opts),
		loginCmd(opts),
		logoutCmd(opts),
		watchCmd(opts),
		affirmCmd(opts),
		coachCmd(opts),
		chatCmd(opts),
		moodCmd(opts),
		roadmapCmd(opts),
	)
	return root
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(o.configPath)
}
