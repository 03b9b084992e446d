package cli

import (
	"sync"

	"github.com/tOgg1/backlot/internal/config"
	"github.com/tOgg1/backlot/internal/deeplink"
	"github.com/tOgg1/backlot/internal/logging"
)

// contextLocation persists the deep-link state in the CLI context file so the
// next command reopens what the last one left open.
type contextLocation struct {
	store *config.ContextStore

	mu    sync.Mutex
	state deeplink.State
}

var _ deeplink.Location = (*contextLocation)(nil)

// newContextLocation loads the saved link. Command-line overrides are merged
// on top by the caller before the inbox starts.
func newContextLocation(store *config.ContextStore) (*contextLocation, error) {
	saved, err := store.Load()
	if err != nil {
		return nil, err
	}
	state, err := deeplink.Parse(saved.Link)
	if err != nil {
		logging.Logger.Warn().Err(err).Msg("ignoring unreadable saved link")
		state = deeplink.State{}
	}
	return &contextLocation{store: store, state: state}, nil
}

func (l *contextLocation) Read() deeplink.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// override replaces the in-memory state without saving it.
func (l *contextLocation) override(state deeplink.State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = state
}

func (l *contextLocation) Write(state deeplink.State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = state

	link, err := state.Encode()
	if err != nil {
		return err
	}
	saved, err := l.store.Load()
	if err != nil {
		return err
	}
	saved.SetLink(link)
	return l.store.Save(saved)
}
