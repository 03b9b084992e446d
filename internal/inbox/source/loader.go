package source

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tOgg1/backlot/internal/models"
)

var defaultChannelFolders = []models.Folder{models.FolderCommunity, models.FolderGreenRoom}

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	Backend Backend
	// ChannelFolders are the folders besides "all" that host channels.
	ChannelFolders []models.Folder
	// Timeout bounds each fetch; zero means no extra bound.
	Timeout time.Duration
	Logger  zerolog.Logger
}

// Loader fetches and normalizes one source at a time.
type Loader struct {
	backend        Backend
	channelFolders map[models.Folder]bool
	timeout        time.Duration
	logger         zerolog.Logger
}

// Result is the outcome of one source fetch.
type Result struct {
	Source Kind
	Folder models.Folder
	Items  []models.Item
	Err    error
}

// NewLoader creates a Loader.
func NewLoader(cfg LoaderConfig) *Loader {
	folders := cfg.ChannelFolders
	if folders == nil {
		folders = defaultChannelFolders
	}
	allowed := make(map[models.Folder]bool, len(folders))
	for _, folder := range folders {
		allowed[folder] = true
	}
	return &Loader{
		backend:        cfg.Backend,
		channelFolders: allowed,
		timeout:        cfg.Timeout,
		logger:         cfg.Logger,
	}
}

// HostsChannels reports whether channels are fetched for the folder.
func (l *Loader) HostsChannels(folder models.Folder) bool {
	return folder == models.FolderAll || l.channelFolders[folder]
}

// Fetch loads one source for {userID, folder}. Errors are wrapped in *SourceError.
func (l *Loader) Fetch(ctx context.Context, kind Kind, userID string, folder models.Folder) Result {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	result := Result{Source: kind, Folder: folder}
	var err error
	switch kind {
	case KindDirectMessages:
		var records []DirectMessageRecord
		records, err = l.backend.FetchDirectMessageInbox(ctx, userID, folderFilter(folder))
		result.Items = NormalizeDirectMessages(records, folder)
	case KindProjectUpdates:
		var records []ProjectUpdateRecord
		records, err = l.backend.FetchProjectUpdateInbox(ctx, userID, folderFilter(folder))
		result.Items = NormalizeProjectUpdates(records, folder)
	case KindChannels:
		if !l.HostsChannels(folder) {
			result.Items = []models.Item{}
			return result
		}
		var records []ChannelRecord
		records, err = l.backend.FetchChannels(ctx, userID, channelKindFilter(folder))
		result.Items = NormalizeChannels(records, folder)
	}

	if err != nil {
		l.logger.Warn().Err(err).Str("source", string(kind)).Str("folder", string(folder)).Msg("source fetch failed")
		result.Items = nil
		result.Err = &SourceError{Source: kind, Folder: folder, Err: err}
	}
	return result
}

// FetchAll loads all three sources concurrently and calls apply as each one
// completes. A failing source never cancels the others.
func (l *Loader) FetchAll(ctx context.Context, userID string, folder models.Folder, apply func(Result)) []Result {
	results := make([]Result, len(Kinds))
	var g errgroup.Group
	for i, kind := range Kinds {
		g.Go(func() error {
			res := l.Fetch(ctx, kind, userID, folder)
			results[i] = res
			if apply != nil {
				apply(res)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// folderFilter maps "all" to the backend's "no filter".
func folderFilter(folder models.Folder) models.Folder {
	if folder == models.FolderAll {
		return ""
	}
	return folder
}

func channelKindFilter(folder models.Folder) string {
	if folder == models.FolderAll {
		return ""
	}
	return string(folder)
}
