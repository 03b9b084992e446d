package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tOgg1/backlot/internal/db"
	"github.com/tOgg1/backlot/internal/deeplink"
	"github.com/tOgg1/backlot/internal/events"
	"github.com/tOgg1/backlot/internal/inbox"
	"github.com/tOgg1/backlot/internal/logging"
	"github.com/tOgg1/backlot/internal/models"
	"github.com/tOgg1/backlot/internal/realtime/ws"
)

var (
	inboxFolder  string
	inboxOpen    string
	inboxWith    string
	inboxContext string
	inboxRole    string
	inboxName    string
	inboxClear   bool
	inboxLink    string
	inboxSearch  string
	inboxUnread  bool
)

func init() {
	rootCmd.AddCommand(inboxCmd)

	flags := inboxCmd.Flags()
	flags.StringVarP(&inboxFolder, "folder", "f", "", "folder to show (all, personal, backlot, applications, community, greenroom, jobs)")
	flags.StringVarP(&inboxOpen, "open", "o", "", "open an item (conversation id, project:<id>, channel:<id>)")
	flags.StringVar(&inboxWith, "with", "", "open or start a conversation with this user")
	flags.StringVar(&inboxContext, "context", "", "entry context kind shown with the opened item (e.g. application)")
	flags.StringVar(&inboxRole, "role", "", "entry context role")
	flags.StringVar(&inboxName, "name", "", "entry context name")
	flags.BoolVar(&inboxClear, "clear", false, "close the open item")
	flags.StringVar(&inboxLink, "link", "", "apply a deep link query string (id=...&folder=...)")
	flags.StringVarP(&inboxSearch, "search", "s", "", "only show items whose names or previews contain this text")
	flags.BoolVar(&inboxUnread, "unread", false, "only show items with unread activity")
}

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Show the unified inbox",
	Long: `Show direct messages, project updates and channels merged by latest
activity. The open item and folder are remembered between runs.

With --watch the inbox stays open and refreshes on realtime events.`,
	Example: `  backlot inbox
  backlot inbox --folder personal
  backlot inbox --open project:42
  backlot inbox --with dana --context application --role Gaffer --name "Night Shoot"
  backlot inbox --watch`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runInbox(ctx, cmd.OutOrStdout())
	},
}

func runInbox(ctx context.Context, out io.Writer) error {
	logger := logging.FromContext(ctx)

	database, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	store := db.NewStore(database)
	user, err := resolveActingUser(ctx, store)
	if err != nil {
		return err
	}

	location, err := newContextLocation(contextStore())
	if err != nil {
		return err
	}
	state, err := applyInboxFlags(ctx, store, location.Read())
	if err != nil {
		return err
	}
	location.override(state)

	var transport inbox.Transport
	if IsWatchMode() {
		t, closeTransport, err := buildTransport(ctx, database, user.ID)
		if err != nil {
			return err
		}
		defer closeTransport()
		transport = t
	}

	changed := make(chan struct{}, 1)
	cfg := GetConfig()
	box, err := inbox.New(inbox.Options{
		UserID:         user.ID,
		Backend:        store,
		Transport:      transport,
		Location:       location,
		DefaultFolder:  models.ParseFolder(cfg.Inbox.DefaultFolder),
		ChannelFolders: parseFolders(cfg.Inbox.ChannelFolders),
		FetchTimeout:   cfg.Inbox.FetchTimeout,
		UnreadTTL:      cfg.Inbox.UnreadTTL,
		Logger:         logging.WithUser(logger, user.ID),
		OnChange: func(inbox.View) {
			select {
			case changed <- struct{}{}:
			default:
			}
		},
	})
	if err != nil {
		return err
	}
	defer box.Close()

	if err := box.Start(ctx); err != nil {
		// Source failures surface as notices; the inbox still renders.
		logger.Debug().Err(err).Msg("inbox started with errors")
	}
	if inboxClear {
		if err := box.ClearSelection(); err != nil {
			return err
		}
	}

	if !IsWatchMode() {
		return renderInbox(out, filterView(box.View()))
	}

	if err := renderInbox(out, filterView(box.View())); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
			view := box.View()
			if view.Loading {
				continue
			}
			if !IsJSONLOutput() && !IsNonInteractive() {
				fmt.Fprint(out, "\x1b[H\x1b[2J")
			}
			if err := renderInbox(out, filterView(view)); err != nil {
				return err
			}
		}
	}
}

// applyInboxFlags layers command-line overrides on the saved deep link.
func applyInboxFlags(ctx context.Context, store *db.Store, state deeplink.State) (deeplink.State, error) {
	if inboxLink != "" {
		parsed, err := deeplink.Parse(inboxLink)
		if err != nil {
			return state, err
		}
		state = parsed
	}
	if inboxFolder != "" {
		folder := models.ParseFolder(inboxFolder)
		if err := models.ValidateFolder(folder); err != nil {
			return state, err
		}
		state.Folder = string(folder)
	}
	if inboxOpen != "" {
		state.ID = inboxOpen
		state.User = ""
		state = state.WithoutEntryContext()
	}
	if inboxWith != "" {
		target, err := store.GetUser(ctx, inboxWith)
		if err != nil {
			return state, fmt.Errorf("%s: %w", inboxWith, err)
		}
		state.ID = ""
		state.User = target.ID
		state = state.WithoutEntryContext()
	}
	if inboxContext != "" || inboxRole != "" || inboxName != "" {
		state.Context, state.Role, state.Name = inboxContext, inboxRole, inboxName
	}
	return state, nil
}

// filterView narrows the rendered rows. Unread totals still cover the whole folder.
func filterView(view inbox.View) inbox.View {
	if inboxSearch == "" && !inboxUnread {
		return view
	}
	view.Items = inbox.Filter(view.Items, inbox.FilterOptions{Query: inboxSearch, UnreadOnly: inboxUnread})
	return view
}

func parseFolders(names []string) []models.Folder {
	folders := make([]models.Folder, 0, len(names))
	for _, name := range names {
		folders = append(folders, models.ParseFolder(name))
	}
	return folders
}

// buildTransport returns the configured push transport for watch mode.
func buildTransport(ctx context.Context, database *db.DB, userID string) (inbox.Transport, func(), error) {
	cfg := GetConfig().Realtime
	if cfg.Transport == "websocket" {
		header := http.Header{}
		if cfg.Token != "" {
			header.Set("Authorization", "Bearer "+cfg.Token)
		}
		timeout := cfg.DialTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger := cmdLogger("ws")
		client, err := ws.Dial(dialCtx, ws.ClientOptions{
			URL:          cfg.URL,
			UserID:       userID,
			Header:       header,
			MinBackoff:   cfg.ReconnectInterval,
			MaxBackoff:   10 * cfg.ReconnectInterval,
			PingInterval: 30 * time.Second,
			Logger:       &logger,
		})
		if err != nil {
			return nil, nil, &PreflightError{
				Message:  err.Error(),
				Hint:     "is 'backlot serve' running at realtime.url?",
				NextStep: "backlot serve",
			}
		}
		return client, func() { _ = client.Close() }, nil
	}

	// Local mode tails the event log written by other backlot commands.
	hub := events.NewHub(events.WithLogger(cmdLogger("hub")))
	client := hub.Connect(userID)
	relayCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		config := DefaultStreamConfig()
		if err := newRelayStreamer(db.NewEventRepository(database), hub, config).Stream(relayCtx); err != nil {
			cmdLogger("relay").Warn().Err(err).Msg("event relay stopped")
		}
	}()
	return client, func() {
		cancel()
		<-done
		client.Close()
		hub.Close()
	}, nil
}

type inboxRow struct {
	Kind        models.ItemKind `json:"kind"`
	ID          string          `json:"id"`
	Select      string          `json:"select"`
	Folder      models.Folder   `json:"folder"`
	Title       string          `json:"title"`
	Preview     string          `json:"preview,omitempty"`
	Unread      int             `json:"unread"`
	ActivityAt  *time.Time      `json:"activity_at,omitempty"`
	Provisional bool            `json:"provisional,omitempty"`
	Open        bool            `json:"open,omitempty"`
}

type inboxOutput struct {
	Folder       models.Folder         `json:"folder"`
	State        string                `json:"state"`
	Open         string                `json:"open,omitempty"`
	Entry        *inbox.EntryContext   `json:"entry,omitempty"`
	Error        string                `json:"error,omitempty"`
	Items        []inboxRow            `json:"items"`
	Notices      []inbox.Notice        `json:"notices,omitempty"`
	FolderUnread map[models.Folder]int `json:"folder_unread,omitempty"`
	TotalUnread  int                   `json:"total_unread"`
}

func toInboxOutput(view inbox.View) inboxOutput {
	out := inboxOutput{
		Folder:       view.Folder,
		State:        view.Selection.State.String(),
		Open:         view.Selection.Open.String(),
		Entry:        view.Selection.Entry,
		Items:        make([]inboxRow, 0, len(view.Items)),
		Notices:      view.Notices,
		FolderUnread: view.FolderUnread,
		TotalUnread:  view.TotalUnread,
	}
	if view.Selection.Err != nil {
		out.Error = view.Selection.Err.Error()
	}
	for _, item := range view.Items {
		row := inboxRow{
			Kind:   item.Kind(),
			ID:     item.ItemID(),
			Select: models.SelectionFor(item).String(),
			Folder: item.ItemFolder(),
			Title:  itemTitle(item),
			Unread: item.Unread(),
			Open:   strings.HasPrefix(rowMarker(item, view.Target), targetMarker),
		}
		row.Preview = itemPreview(item)
		if ts := item.ActivityAt(); !ts.IsZero() {
			row.ActivityAt = &ts
		}
		if dm, ok := item.(*models.DirectMessageItem); ok {
			row.Provisional = dm.Provisional
		}
		out.Items = append(out.Items, row)
	}
	return out
}

func renderInbox(out io.Writer, view inbox.View) error {
	if IsJSONOutput() || IsJSONLOutput() {
		return WriteOutput(out, toInboxOutput(view))
	}

	fmt.Fprintf(out, "%s  (%d unread)\n", strings.ToUpper(string(view.Folder)), view.TotalUnread)
	for _, notice := range view.Notices {
		fmt.Fprintf(out, "! %s\n", notice.Message)
	}
	if len(view.Items) == 0 {
		fmt.Fprintln(out, "No conversations yet.")
	} else if err := writeInboxTable(out, view, !IsNonInteractive(), time.Now()); err != nil {
		return err
	}

	snap := view.Selection
	switch snap.State {
	case inbox.StateResolvingDeepLink:
		fmt.Fprintln(out, "\nOpening conversation…")
	case inbox.StateNotFound:
		var linkErr *inbox.DeepLinkError
		if errors.As(snap.Err, &linkErr) {
			fmt.Fprintf(out, "\nCould not open a conversation with %s: %v\n", linkErr.TargetUserID, linkErr.Err)
			fmt.Fprintln(out, "Start a new message with: backlot send <user> <message>")
		} else {
			fmt.Fprintf(out, "\n%s is no longer in this folder.\n", snap.Open.String())
		}
	case inbox.StateSelected:
		if view.Target != nil {
			fmt.Fprintf(out, "\nOpen: %s\n", describeTarget(view.Target))
		}
	}
	if snap.Entry != nil {
		fmt.Fprintf(out, "Re: %s\n", describeEntry(snap.Entry))
	}
	return nil
}

func describeTarget(target *inbox.Target) string {
	item := targetItem(target)
	if item == nil {
		return target.Selection.String()
	}
	label := itemTitle(item)
	if target.Provisional() {
		label += " (new)"
	}
	return fmt.Sprintf("%s %s", item.Kind(), label)
}

func describeEntry(entry *inbox.EntryContext) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{entry.Kind, entry.Role, entry.Name} {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, " · ")
}
