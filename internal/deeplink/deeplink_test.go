package deeplink

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeOmitsEmptyAndSortsKeys(t *testing.T) {
	encoded, err := State{ID: "project:42", Folder: "backlot"}.Encode()
	require.NoError(t, err)
	require.Equal(t, "folder=backlot&id=project%3A42", encoded)

	empty, err := State{}.Encode()
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestParseAcceptsURLsAndQueries(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want State
	}{
		{name: "bare query", raw: "id=c1&folder=personal", want: State{ID: "c1", Folder: "personal"}},
		{name: "leading question mark", raw: "?user=u9", want: State{User: "u9"}},
		{
			name: "full url with entry context",
			raw:  "https://app.example.com/messages?id=c2&context=application&role=Gaffer&name=Dana%20K",
			want: State{ID: "c2", Context: "application", Role: "Gaffer", Name: "Dana K"},
		},
		{name: "empty", raw: "", want: State{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseRejectsMalformedEscapes(t *testing.T) {
	_, err := Parse("id=%zz")
	require.Error(t, err)
}

func TestEntryContextHelpers(t *testing.T) {
	state := State{ID: "c1", Context: "application", Role: "Grip"}
	require.True(t, state.HasEntryContext())

	cleared := state.WithoutEntryContext()
	require.False(t, cleared.HasEntryContext())
	require.Equal(t, "c1", cleared.ID)
}

func TestMemoryLocationRecordsHistory(t *testing.T) {
	loc := NewMemoryLocation(State{Folder: "all"})
	require.Equal(t, "all", loc.Read().Folder)

	require.NoError(t, loc.Write(State{ID: "c1"}))
	require.NoError(t, loc.Write(State{ID: "c2"}))
	require.Equal(t, "c2", loc.Read().ID)
	require.Len(t, loc.History(), 2)
}
