package mailbox

import (
	"context"
	"sort"
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nhle/club-activator/internal/model"
	"github.com/nhle/club-activator/internal/testutil"
)

const (
	testUser     = "bot@example.com"
	testPassword = "secret"
	subject      = "Trainer Club Activation"
)

func startServer(t *testing.T) *testutil.IMAPServer {
	t.Helper()
	return testutil.NewIMAPServer(t, testUser, testPassword)
}

func newClient(t *testing.T, srv *testutil.IMAPServer, password string) *IMAPClient {
	t.Helper()
	host, port := srv.HostPort(t)
	return NewIMAPClient(model.IMAPConfig{
		Host:     host,
		Port:     port,
		Username: testUser,
		Password: password,
		Insecure: true,
	}, zap.NewNop())
}

func uids(msgs []Message) []uint32 {
	out := make([]uint32, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.UID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestMailboxSearchAndFlag(t *testing.T) {
	srv := startServer(t)
	srv.Append(t, testutil.ActivationEmail("<foo@example.com>", subject, "https://club.example.com/a/1"))
	srv.Append(t, testutil.ActivationEmail("<spam@example.com>", "Newsletter", "https://club.example.com/a/2"))
	srv.Append(t, testutil.ActivationEmail("<bar@example.com>", subject, "https://club.example.com/a/3"), imap.FlagSeen)
	srv.Append(t, testutil.ActivationEmail(`"Baz Q" <baz@example.com>`, subject, "https://club.example.com/a/4"))

	ctx := context.Background()
	mb, err := newClient(t, srv, testPassword).Open(ctx)
	require.NoError(t, err)
	defer mb.Close()

	msgs, err := mb.Search(ctx, Criteria{Subject: subject, Window: NewWindow(1, 10)})
	require.NoError(t, err)
	require.Equal(t, []uint32{1, 4}, uids(msgs))

	byUID := map[uint32]Message{}
	for _, m := range msgs {
		byUID[m.UID] = m
	}
	assert.Equal(t, "foo@example.com", byUID[1].To)
	assert.Contains(t, byUID[1].Text, "https://club.example.com/a/1")
	assert.Equal(t, "baz@example.com", byUID[4].To)

	t.Run("window bounds the search", func(t *testing.T) {
		msgs, err := mb.Search(ctx, Criteria{Subject: subject, Window: NewWindow(2, 2)})
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("searching does not mark seen", func(t *testing.T) {
		msgs, err := mb.Search(ctx, Criteria{Subject: subject, Window: NewWindow(1, 10)})
		require.NoError(t, err)
		assert.Equal(t, []uint32{1, 4}, uids(msgs))
	})

	t.Run("flagged messages drop out", func(t *testing.T) {
		require.NoError(t, mb.FlagSeen(ctx, 1))

		msgs, err := mb.Search(ctx, Criteria{Subject: subject, Window: NewWindow(1, 10)})
		require.NoError(t, err)
		assert.Equal(t, []uint32{4}, uids(msgs))
	})
}

func TestMailboxOpenBadPassword(t *testing.T) {
	srv := startServer(t)

	_, err := newClient(t, srv, "wrong").Open(context.Background())
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
}

func TestMailboxSearchCancelled(t *testing.T) {
	srv := startServer(t)
	mb, err := newClient(t, srv, testPassword).Open(context.Background())
	require.NoError(t, err)
	defer mb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = mb.Search(ctx, Criteria{Window: NewWindow(1, 10)})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, mb.FlagSeen(ctx, 1), context.Canceled)
}

func TestWindow(t *testing.T) {
	w := NewWindow(1, 100)
	assert.Equal(t, Window{Start: 1, End: 100}, w)
	assert.Equal(t, uint32(100), w.Size())
	assert.Equal(t, "1:100", w.String())

	next := w.Next()
	assert.Equal(t, Window{Start: 101, End: 200}, next)
	assert.Equal(t, Window{Start: 201, End: 300}, next.Next())

	assert.Equal(t, Window{Start: 1, End: 1}, NewWindow(0, 0))
}

func TestParseTo(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "bracketed", raw: "To: <foo@bar.com>\r\n\r\n", want: "foo@bar.com"},
		{name: "display name", raw: "To: Foo <foo@bar.com>, other@bar.com\r\n\r\n", want: "foo@bar.com"},
		{name: "encoded name", raw: "To: =?utf-8?q?F=C3=B6o?= <foo@bar.com>\r\n\r\n", want: "foo@bar.com"},
		{name: "unparseable kept verbatim", raw: "To: <foo@bar.com\r\n\r\n", want: "<foo@bar.com"},
		{name: "missing", raw: "Subject: hi\r\n\r\n", want: ""},
		{name: "empty", raw: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseTo([]byte(tt.raw)))
		})
	}
}
