package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tOgg1/backlot/internal/db"
	"github.com/tOgg1/backlot/internal/models"
)

func init() {
	rootCmd.AddCommand(seedCmd)
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load demo users, projects, channels and messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		defer s.Close()

		result, err := seedDemo(ctx, s.store)
		if err != nil {
			return err
		}
		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(cmd.OutOrStdout(), result)
		}
		if result.AlreadySeeded {
			printf(cmd.OutOrStdout(), "Demo data already present\n")
		} else {
			printf(cmd.OutOrStdout(), "Seeded %d users, %d projects, %d channels, %d messages\n",
				len(result.Users), result.Projects, result.Channels, result.Messages)
		}
		PrintNextSteps(HintContext{Action: "seed", UserID: "dana"})
		return nil
	},
}

type seedResult struct {
	AlreadySeeded bool     `json:"already_seeded"`
	Users         []string `json:"users"`
	Projects      int      `json:"projects"`
	Channels      int      `json:"channels"`
	Messages      int      `json:"messages"`
}

var demoUsers = []db.User{
	{Username: "dana", FullName: "Dana Cho"},
	{Username: "marco", FullName: "Marco Ruiz"},
	{Username: "priya", FullName: "Priya Nair"},
	{Username: "lee", FullName: "Lee Okafor"},
}

func seedDemo(ctx context.Context, store *db.Store) (*seedResult, error) {
	result := &seedResult{}
	users := map[string]*db.User{}
	for _, demo := range demoUsers {
		user := demo
		err := store.CreateUser(ctx, &user)
		if errors.Is(err, db.ErrUserExists) {
			result.AlreadySeeded = true
			existing, getErr := store.GetUser(ctx, demo.Username)
			if getErr != nil {
				return nil, getErr
			}
			user = *existing
		} else if err != nil {
			return nil, err
		}
		users[user.Username] = &user
		result.Users = append(result.Users, user.Username)
	}
	if result.AlreadySeeded {
		return result, nil
	}
	dana, marco, priya, lee := users["dana"].ID, users["marco"].ID, users["priya"].ID, users["lee"].ID

	send := func(from, to, body string) error {
		if _, err := store.SendMessage(ctx, from, to, body); err != nil {
			return fmt.Errorf("seed message: %w", err)
		}
		result.Messages++
		return nil
	}

	contextID := "application-night-shoot-gaffer"
	if _, err := store.OpenConversation(ctx, priya, dana, db.ConversationOptions{
		Folder:          models.FolderApplications,
		ContextID:       &contextID,
		ContextMetadata: map[string]string{"role": "Gaffer", "project": "Night Shoot"},
	}); err != nil {
		return nil, err
	}
	for _, m := range []struct{ from, to, body string }{
		{marco, dana, "Are we still on for the location scout Thursday?"},
		{dana, marco, "Yes, 7am at the harbor lot."},
		{priya, dana, "Thanks for considering me for the gaffer role."},
		{lee, dana, "Sending over the revised call sheet tonight."},
	} {
		if err := send(m.from, m.to, m.body); err != nil {
			return nil, err
		}
	}

	nightShoot := &db.Project{Title: "Night Shoot"}
	if err := store.CreateProject(ctx, nightShoot, dana, marco, lee); err != nil {
		return nil, err
	}
	harbor := &db.Project{Title: "Harbor Documentary", Folder: models.FolderJobs}
	if err := store.CreateProject(ctx, harbor, dana, priya); err != nil {
		return nil, err
	}
	result.Projects = 2
	for _, u := range []struct {
		project, author string
		kind            models.UpdateKind
		body            string
	}{
		{nightShoot.ID, marco, models.UpdateKindScheduleChange, "Day 3 moves to Friday because of rain."},
		{nightShoot.ID, lee, models.UpdateKindMilestone, "Locked the final location."},
		{harbor.ID, priya, models.UpdateKindAnnouncement, "Crew call for the harbor interviews is up."},
	} {
		if _, err := store.PostProjectUpdate(ctx, u.project, u.author, u.kind, u.body); err != nil {
			return nil, fmt.Errorf("seed update: %w", err)
		}
		result.Messages++
	}

	lighting := &db.Channel{Name: "Lighting Talk", ChannelType: string(models.FolderCommunity)}
	lounge := &db.Channel{Name: "Green Room Lounge", ChannelType: string(models.FolderGreenRoom)}
	for _, ch := range []*db.Channel{lighting, lounge} {
		if err := store.CreateChannel(ctx, ch); err != nil {
			return nil, err
		}
		for _, member := range []string{dana, marco, priya, lee} {
			if err := store.JoinChannel(ctx, ch.ID, member); err != nil {
				return nil, err
			}
		}
	}
	result.Channels = 2
	if _, err := store.PostChannelMessage(ctx, lighting.ID, marco, "Anyone tried the new LED tubes on a night exterior?"); err != nil {
		return nil, err
	}
	result.Messages++
	return result, nil
}
