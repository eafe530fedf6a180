package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/lasso/internal/chat"
	"github.com/roach88/lasso/internal/store"
)

var seedTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// seedUser is an onboarded user written straight to the store.
type seedUser struct {
	id        chat.UserID
	name      string
	age       int
	interests []string
	username  string
	status    chat.MatchStatus
}

func alice() seedUser {
	return seedUser{id: 1, name: "Alice", age: 30, interests: []string{"jazz", "hiking", "chess"}, username: "alice", status: chat.StatusSeeking}
}

func bob() seedUser {
	return seedUser{id: 2, name: "Bob", age: 31, interests: []string{"hiking", "jazz", "cooking"}, status: chat.StatusSeeking}
}

// seedDB creates a database with users and returns its path.
func seedDB(t *testing.T, users ...seedUser) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lasso.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	for _, su := range users {
		u, _, err := st.Create(ctx, chat.NewUser(su.id, seedTime))
		require.NoError(t, err)
		u.Username = su.username
		u.Profile = chat.Profile{Name: su.name, Age: su.age, Interests: su.interests}
		u.Dialogue = chat.DialogueReady
		u.Status = su.status
		_, err = st.CASUpdate(ctx, u, u.Version, "")
		require.NoError(t, err)
	}
	return path
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// decodeData unmarshals the data field of a JSON CLI response.
func decodeData[T any](t *testing.T, out string) T {
	t.Helper()
	var resp struct {
		Status string `json:"status"`
		Data   T      `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}
