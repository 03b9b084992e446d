package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tOgg1/backlot/internal/db"
	"github.com/tOgg1/backlot/internal/events"
	"github.com/tOgg1/backlot/internal/models"
)

var (
	updateKind     string
	userFullName   string
	userAvatar     string
	projectMembers []string
	projectFolder  string
	channelType    string
	channelSlug    string
)

func init() {
	rootCmd.AddCommand(sendCmd, postUpdateCmd, readCmd, userCmd, projectCmd, channelCmd)

	postUpdateCmd.Flags().StringVarP(&updateKind, "kind", "k", string(models.UpdateKindGeneral), "update kind (announcement, milestone, schedule_change, general)")

	userCmd.AddCommand(userAddCmd, userListCmd)
	userAddCmd.Flags().StringVar(&userFullName, "full-name", "", "display name")
	userAddCmd.Flags().StringVar(&userAvatar, "avatar", "", "avatar URL")

	projectCmd.AddCommand(projectCreateCmd, projectAddMemberCmd)
	projectCreateCmd.Flags().StringSliceVarP(&projectMembers, "member", "m", nil, "members besides the acting user (repeatable)")
	projectCreateCmd.Flags().StringVar(&projectFolder, "folder", string(models.FolderBacklot), "folder the project is listed in")

	channelCmd.AddCommand(channelCreateCmd, channelJoinCmd, channelPostCmd)
	channelCreateCmd.Flags().StringVarP(&channelType, "type", "t", "community", "channel type; also the folder it is listed in")
	channelCreateCmd.Flags().StringVar(&channelSlug, "slug", "", "channel slug (default from name)")
}

// session bundles what write commands need: the store, the acting user and a
// hub that records published events for watchers and servers.
type session struct {
	database *db.DB
	store    *db.Store
	user     *db.User
	hub      *events.Hub
}

func openSession(ctx context.Context, needUser bool) (*session, error) {
	database, err := openDatabase()
	if err != nil {
		return nil, err
	}
	s := &session{
		database: database,
		store:    db.NewStore(database),
		hub: events.NewHub(
			events.WithRecorder(db.NewEventRepository(database)),
			events.WithLogger(cmdLogger("hub")),
		),
	}
	if needUser {
		user, err := resolveActingUser(ctx, s.store)
		if err != nil {
			_ = database.Close()
			return nil, err
		}
		s.user = user
	}
	return s, nil
}

func (s *session) Close() {
	s.hub.Close()
	_ = s.database.Close()
}

var sendCmd = &cobra.Command{
	Use:   "send <user> <message...>",
	Short: "Send a direct message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx, true)
		if err != nil {
			return err
		}
		defer s.Close()

		recipient, err := s.store.GetUser(ctx, args[0])
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		msg, err := s.store.SendMessage(ctx, s.user.ID, recipient.ID, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}

		notice := models.MessageNotice{ConversationID: msg.ConversationID, SenderID: s.user.ID, RecipientID: recipient.ID}
		for _, userID := range []string{recipient.ID, s.user.ID} {
			if err := s.hub.PublishToUser(ctx, userID, models.EventNewMessage, notice); err != nil {
				return err
			}
		}

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(cmd.OutOrStdout(), msg)
		}
		printf(cmd.OutOrStdout(), "Sent to %s (conversation %s)\n", recipient.Contact().Label(), msg.ConversationID)
		PrintNextSteps(HintContext{Action: "send", Selection: models.DirectSelection(msg.ConversationID).String(), UserID: recipient.Username})
		return nil
	},
}

var postUpdateCmd = &cobra.Command{
	Use:   "post-update <project-id> <message...>",
	Short: "Post to a project's update thread",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx, true)
		if err != nil {
			return err
		}
		defer s.Close()

		project, err := s.store.GetProject(ctx, args[0])
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		kind := models.ParseUpdateKind(updateKind)
		if kind == models.UpdateKindNone {
			return fmt.Errorf("invalid update kind %q", updateKind)
		}
		update, err := s.store.PostProjectUpdate(ctx, project.ID, s.user.ID, kind, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}

		if err := s.hub.PublishProjectUpdate(ctx, models.ProjectUpdateNotice{
			ProjectID:  project.ID,
			ThreadID:   project.UpdateThreadID,
			UpdateKind: kind,
			Preview:    truncateCell(update.Body, previewWidth),
		}); err != nil {
			return err
		}

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(cmd.OutOrStdout(), update)
		}
		printf(cmd.OutOrStdout(), "Posted %s update to %s\n", kind, project.Title)
		return nil
	},
}

var readCmd = &cobra.Command{
	Use:   "read <selection>",
	Short: "Mark an inbox item as read",
	Long:  "Mark a conversation id, project:<id> or channel:<id> as read by the acting user.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx, true)
		if err != nil {
			return err
		}
		defer s.Close()

		selection := models.ParseSelection(args[0])
		switch selection.Kind {
		case models.SelectionProject:
			err = s.store.MarkProjectRead(ctx, selection.ID, s.user.ID)
		case models.SelectionChannel:
			err = s.store.MarkChannelRead(ctx, selection.ID, s.user.ID)
		case models.SelectionDirectMessage:
			err = s.store.MarkConversationRead(ctx, selection.ID, s.user.ID)
		default:
			err = fmt.Errorf("nothing to mark read")
		}
		if err != nil {
			return err
		}
		// Counts changed; watchers refetch.
		if err := s.hub.PublishToUser(ctx, s.user.ID, models.EventNewUpdate, nil); err != nil {
			return err
		}
		printf(cmd.OutOrStdout(), "Marked %s as read\n", selection.String())
		return nil
	},
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Create a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		defer s.Close()

		user := &db.User{Username: args[0], FullName: userFullName, AvatarURL: userAvatar}
		if err := s.store.CreateUser(ctx, user); err != nil {
			return err
		}
		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(cmd.OutOrStdout(), user)
		}
		printf(cmd.OutOrStdout(), "Created user %s (%s)\n", user.Username, user.ID)
		PrintNextSteps(HintContext{Action: "user_add", UserID: user.Username})
		return nil
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		defer s.Close()

		users, err := s.store.ListUsers(ctx)
		if err != nil {
			return err
		}
		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(cmd.OutOrStdout(), users)
		}
		rows := make([][]string, 0, len(users))
		for _, u := range users {
			rows = append(rows, []string{u.Username, u.FullName, u.ID})
		}
		return writeTable(cmd.OutOrStdout(), []string{"USERNAME", "NAME", "ID"}, rows)
	},
}

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create <title...>",
	Short: "Create a project with the acting user as a member",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx, true)
		if err != nil {
			return err
		}
		defer s.Close()

		members := []string{s.user.ID}
		for _, ref := range projectMembers {
			member, err := s.store.GetUser(ctx, ref)
			if err != nil {
				return fmt.Errorf("%s: %w", ref, err)
			}
			members = append(members, member.ID)
		}
		project := &db.Project{Title: strings.Join(args, " "), Folder: models.ParseFolder(projectFolder)}
		if err := s.store.CreateProject(ctx, project, members...); err != nil {
			return err
		}
		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(cmd.OutOrStdout(), project)
		}
		printf(cmd.OutOrStdout(), "Created project %s (%s)\n", project.Title, project.ID)
		return nil
	},
}

var projectAddMemberCmd = &cobra.Command{
	Use:   "add-member <project-id> <user>",
	Short: "Add a member to a project",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		defer s.Close()

		member, err := s.store.GetUser(ctx, args[1])
		if err != nil {
			return fmt.Errorf("%s: %w", args[1], err)
		}
		if err := s.store.AddProjectMember(ctx, args[0], member.ID); err != nil {
			return err
		}
		if err := s.hub.PublishToUser(ctx, member.ID, models.EventNewUpdate, nil); err != nil {
			return err
		}
		printf(cmd.OutOrStdout(), "Added %s to %s\n", member.Username, args[0])
		return nil
	},
}

var channelCmd = &cobra.Command{
	Use:   "channel",
	Short: "Manage topic channels",
}

var channelCreateCmd = &cobra.Command{
	Use:   "create <name...>",
	Short: "Create a channel and join it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx, true)
		if err != nil {
			return err
		}
		defer s.Close()

		channel := &db.Channel{Name: strings.Join(args, " "), Slug: channelSlug, ChannelType: channelType}
		if err := s.store.CreateChannel(ctx, channel); err != nil {
			return err
		}
		if err := s.store.JoinChannel(ctx, channel.ID, s.user.ID); err != nil {
			return err
		}
		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(cmd.OutOrStdout(), channel)
		}
		printf(cmd.OutOrStdout(), "Created #%s (%s)\n", channel.Slug, channel.ID)
		return nil
	},
}

var channelJoinCmd = &cobra.Command{
	Use:   "join <channel>",
	Short: "Join a channel by id or slug",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx, true)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.store.JoinChannel(ctx, args[0], s.user.ID); err != nil {
			return err
		}
		if err := s.hub.PublishToUser(ctx, s.user.ID, models.EventNewUpdate, nil); err != nil {
			return err
		}
		printf(cmd.OutOrStdout(), "Joined %s\n", args[0])
		return nil
	},
}

var channelPostCmd = &cobra.Command{
	Use:   "post <channel> <message...>",
	Short: "Post to a channel",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx, true)
		if err != nil {
			return err
		}
		defer s.Close()

		msg, err := s.store.PostChannelMessage(ctx, args[0], s.user.ID, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		// Channels have no rooms; every client refetches.
		if err := s.hub.Broadcast(ctx, models.EventNewUpdate, map[string]string{"channel_id": msg.ChannelID}); err != nil {
			return err
		}
		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(cmd.OutOrStdout(), msg)
		}
		printf(cmd.OutOrStdout(), "Posted to %s\n", args[0])
		return nil
	},
}
