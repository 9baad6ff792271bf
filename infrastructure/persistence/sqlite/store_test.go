package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chatgraph/application/ports"
	"chatgraph/infrastructure/persistence/storetest"
	pkgerrors "chatgraph/pkg/errors"
	"chatgraph/tests/fixtures"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "chat.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ports.Store { return openTestStore(t) })
}

func TestStore_InMemory(t *testing.T) {
	s, err := Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	chat := fixtures.NewChatBuilder().Build()
	require.NoError(t, s.CreateChat(context.Background(), chat))
	err = s.CreateChat(context.Background(), chat)
	assert.True(t, pkgerrors.IsConcurrencyConflict(err))
}

func TestStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chat.db")

	s, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	chat := fixtures.NewChatBuilder().WithOwner("alice").Build()
	require.NoError(t, s.CreateChat(ctx, chat))
	require.NoError(t, s.Close())

	s, err = Open(path, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetChat(ctx, chat.ID())
	require.NoError(t, err)
	assert.Equal(t, "alice", got.OwnerID())
}

type result struct {
	rows int64
	err  error
}

func (r result) LastInsertId() (int64, error) { return 0, nil }
func (r result) RowsAffected() (int64, error) { return r.rows, r.err }

func TestRowsAffected(t *testing.T) {
	tests := []struct {
		name    string
		res     result
		want    int64
		wantErr bool
	}{
		{name: "counted", res: result{rows: 1}, want: 1},
		{name: "nothing matched", res: result{rows: 0}, want: 0},
		{name: "driver cannot count", res: result{err: errors.New("not supported")}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := rowsAffected(tt.res, "CommitConversation")
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeDatabase))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}
