package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/spf13/cobra"

	"github.com/tOgg1/backlot/internal/db"
	"github.com/tOgg1/backlot/internal/events"
	"github.com/tOgg1/backlot/internal/models"
)

var (
	eventsNames  []string
	eventsScope  string
	eventsTarget string
	eventsSince  string
	eventsLimit  int
	eventsPrune  string
)

func init() {
	rootCmd.AddCommand(eventsCmd)

	flags := eventsCmd.Flags()
	flags.StringSliceVar(&eventsNames, "name", nil, "filter by event name (repeatable)")
	flags.StringVar(&eventsScope, "scope", "", "filter by scope (room, user, broadcast)")
	flags.StringVar(&eventsTarget, "target", "", "filter by room or user id")
	flags.StringVar(&eventsSince, "since", "", "only events since a duration ago (1h) or a date")
	flags.IntVar(&eventsLimit, "limit", 50, "max events to list")
	flags.StringVar(&eventsPrune, "prune", "", "delete events older than a duration (e.g. 720h) and exit")
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List or stream the realtime event log",
	Example: `  backlot events --since 1h
  backlot events --watch --jsonl --name new_message`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := MustBeJSONLForWatch(); err != nil {
			return err
		}
		ctx := cmd.Context()
		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()
		repo := db.NewEventRepository(database)

		if eventsPrune != "" {
			age, err := time.ParseDuration(eventsPrune)
			if err != nil {
				return fmt.Errorf("invalid --prune: %w", err)
			}
			deleted, err := repo.DeleteOlderThan(ctx, time.Now().Add(-age), 0)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "Deleted %d events\n", deleted)
			return nil
		}

		since, err := parseSince(eventsSince, time.Now())
		if err != nil {
			return err
		}
		names := make([]models.EventName, 0, len(eventsNames))
		for _, name := range eventsNames {
			names = append(names, models.EventName(strings.TrimSpace(name)))
		}

		config := DefaultStreamConfig()
		config.Names = names
		config.Scope = events.Scope(eventsScope)
		config.Target = eventsTarget
		config.Since = since
		config.BatchSize = eventsLimit

		if IsWatchMode() {
			config.IncludeExisting = since != nil
			return NewEventStreamer(repo, cmd.OutOrStdout(), config).Stream(ctx)
		}

		streamer := newStreamer(repo, config)
		batch, _, err := streamer.poll(ctx, "", since)
		if err != nil {
			return err
		}
		lines := make([]eventLine, 0, len(batch))
		for _, event := range batch {
			lines = append(lines, toEventLine(event))
		}
		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(cmd.OutOrStdout(), lines)
		}
		if len(lines) == 0 {
			printf(cmd.OutOrStdout(), "No events.\n")
			return nil
		}
		rows := make([][]string, 0, len(lines))
		for _, line := range lines {
			rows = append(rows, []string{
				line.Timestamp.Local().Format(time.DateTime),
				string(line.Event),
				string(line.Scope),
				line.Target,
				truncateCell(string(line.Payload), previewWidth),
			})
		}
		return writeTable(cmd.OutOrStdout(), []string{"TIME", "EVENT", "SCOPE", "TARGET", "PAYLOAD"}, rows)
	},
}

// parseSince accepts a Go duration relative to now or any date dateparse understands.
func parseSince(raw string, now time.Time) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if age, err := time.ParseDuration(raw); err == nil {
		ts := now.Add(-age).UTC()
		return &ts, nil
	}
	ts, err := dateparse.ParseLocal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid --since %q: %w", raw, err)
	}
	ts = ts.UTC()
	return &ts, nil
}
