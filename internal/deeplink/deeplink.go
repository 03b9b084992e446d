// Package deeplink mirrors inbox selection state into URL query parameters so a
// reload or a shared link reopens the same item.
package deeplink

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/go-querystring/query"
)

// State is the set of query parameters the inbox reads and writes.
type State struct {
	// ID is the open selection in its flat form (conv id, project:<id>, channel:<id>).
	ID string `url:"id,omitempty"`
	// User asks the inbox to open (or create) a conversation with this user.
	User   string `url:"user,omitempty"`
	Folder string `url:"folder,omitempty"`
	// Context, Role and Name describe where the conversation was opened from,
	// e.g. context=application&role=Gaffer&name=Dana.
	Context string `url:"context,omitempty"`
	Role    string `url:"role,omitempty"`
	Name    string `url:"name,omitempty"`
}

// HasEntryContext reports whether an entry banner is attached.
func (s State) HasEntryContext() bool {
	return s.Context != "" || s.Role != "" || s.Name != ""
}

// WithoutEntryContext returns s with the entry banner fields cleared.
func (s State) WithoutEntryContext() State {
	s.Context, s.Role, s.Name = "", "", ""
	return s
}

// Encode renders the state as a query string with stable key order.
func (s State) Encode() (string, error) {
	values, err := query.Values(s)
	if err != nil {
		return "", fmt.Errorf("encode deep link: %w", err)
	}
	return values.Encode(), nil
}

// Parse reads a query string, with or without a leading "?" or a full URL.
func Parse(raw string) (State, error) {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[i+1:]
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return State{}, fmt.Errorf("parse deep link: %w", err)
	}
	return State{
		ID:      values.Get("id"),
		User:    values.Get("user"),
		Folder:  values.Get("folder"),
		Context: values.Get("context"),
		Role:    values.Get("role"),
		Name:    values.Get("name"),
	}, nil
}

// Location is the externally observable deep-link state.
type Location interface {
	Read() State
	Write(State) error
}

// MemoryLocation keeps the state in memory and records every write.
type MemoryLocation struct {
	mu      sync.Mutex
	state   State
	history []State
}

// NewMemoryLocation seeds a location with an initial state.
func NewMemoryLocation(initial State) *MemoryLocation {
	return &MemoryLocation{state: initial}
}

func (l *MemoryLocation) Read() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *MemoryLocation) Write(state State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = state
	l.history = append(l.history, state)
	return nil
}

// History returns the states written so far, oldest first.
func (l *MemoryLocation) History() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]State, len(l.history))
	copy(out, l.history)
	return out
}
