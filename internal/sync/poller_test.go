package sync

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nhle/club-activator/internal/extract"
	"github.com/nhle/club-activator/internal/mailbox"
	"github.com/nhle/club-activator/internal/model"
	"github.com/nhle/club-activator/internal/store"
	"github.com/nhle/club-activator/internal/testutil"
	"github.com/nhle/club-activator/internal/verify"
)

const subject = "Trainer Club Activation"

type mockScanner struct {
	mock.Mock
}

func (m *mockScanner) Search(ctx context.Context, c mailbox.Criteria) ([]mailbox.Message, error) {
	args := m.Called(ctx, c)
	msgs, _ := args.Get(0).([]mailbox.Message)
	return msgs, args.Error(1)
}

func (m *mockScanner) FlagSeen(ctx context.Context, uid uint32) error {
	return m.Called(ctx, uid).Error(0)
}

func (m *mockScanner) onWindow(start, end uint32, msgs ...mailbox.Message) *mock.Call {
	criteria := mailbox.Criteria{Subject: subject, Window: mailbox.Window{Start: start, End: end}}
	return m.On("Search", mock.Anything, criteria).Return(msgs, nil)
}

type fakeVerifier struct {
	mu      gosync.Mutex
	tasks   []verify.Task
	verdict func(task verify.Task) (verify.Outcome, error)
}

func (f *fakeVerifier) Verify(_ context.Context, task verify.Task) (verify.Result, error) {
	f.mu.Lock()
	f.tasks = append(f.tasks, task)
	f.mu.Unlock()

	outcome, err := f.verdict(task)
	if err != nil {
		return verify.Result{AccountID: task.AccountID}, err
	}
	return verify.Result{Outcome: outcome, AccountID: task.AccountID}, nil
}

func (f *fakeVerifier) calls() []verify.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]verify.Task(nil), f.tasks...)
}

func always(outcome verify.Outcome) *fakeVerifier {
	return &fakeVerifier{verdict: func(verify.Task) (verify.Outcome, error) { return outcome, nil }}
}

// failingStore fails every activation update.
type failingStore struct {
	store.Store
}

func (failingStore) UpdateActivation(context.Context, string, model.ActivationStatus, time.Time) error {
	return errors.New("disk full")
}

func email(uid uint32, login string) mailbox.Message {
	return mailbox.Message{
		UID:  uid,
		To:   "<" + login + "@example.com>",
		Text: "Activate here: https://club.example.com/activate/" + login + "\r\n",
	}
}

func testConfig() Config {
	return Config{
		Subject:         subject,
		Batch:           2,
		DefaultPassword: "default-pw",
	}
}

func newPoller(t *testing.T, st store.Store, sc Scanner, v Verifier, cfg Config) *Poller {
	t.Helper()
	ex, err := extract.New("")
	require.NoError(t, err)
	return New(st, sc, ex, v, cfg, zap.NewNop())
}

func requireStatus(t *testing.T, st store.Store, login string, want model.ActivationStatus) {
	t.Helper()
	acct, err := st.FindByLogin(context.Background(), login)
	require.NoError(t, err)
	assert.Equal(t, want, acct.Activated, login)
}

func TestRunStopsAtFirstEmptyWindow(t *testing.T) {
	for _, concurrency := range []int{0, 1} {
		st := testutil.NewTestStore(t)
		sc := &mockScanner{}
		sc.onWindow(1, 2, email(1, "foo"), email(2, "bar")).Once()
		sc.onWindow(3, 4, email(3, "baz")).Once()
		sc.onWindow(5, 6).Once()
		sc.On("FlagSeen", mock.Anything, mock.Anything).Return(nil)

		cfg := testConfig()
		cfg.Concurrency = concurrency
		report, err := newPoller(t, st, sc, always(verify.Activated), cfg).Run(context.Background(), 1)
		require.NoError(t, err)

		sc.AssertExpectations(t)
		sc.AssertNumberOfCalls(t, "Search", 3)
		sc.AssertNumberOfCalls(t, "FlagSeen", 3)

		assert.Equal(t, 3, report.Windows)
		assert.Equal(t, 3, report.Messages)
		assert.Equal(t, 3, report.Outcomes[verify.Activated])
		assert.NotEmpty(t, report.RunID)

		for _, login := range []string{"foo", "bar", "baz"} {
			requireStatus(t, st, login, model.ActivationDone)
		}
	}
}

func TestReprocessingIsIdempotent(t *testing.T) {
	st := testutil.NewTestStore(t)
	sc := &mockScanner{}
	sc.onWindow(1, 2, email(1, "foo"))
	sc.onWindow(3, 4)
	sc.On("FlagSeen", mock.Anything, uint32(1)).Return(nil)

	v := &fakeVerifier{verdict: func(verify.Task) (verify.Outcome, error) { return verify.Activated, nil }}
	_, err := newPoller(t, st, sc, v, testConfig()).Run(context.Background(), 1)
	require.NoError(t, err)
	requireStatus(t, st, "foo", model.ActivationDone)

	v.verdict = func(verify.Task) (verify.Outcome, error) { return verify.AlreadyActivated, nil }
	report, err := newPoller(t, st, sc, v, testConfig()).Run(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Outcomes[verify.AlreadyActivated])
	requireStatus(t, st, "foo", model.ActivationDone)

	accounts, err := st.ListAccounts(context.Background(), store.AccountFilter{})
	require.NoError(t, err)
	assert.Len(t, accounts, 1)

	calls := v.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0].AccountID, calls[1].AccountID)
}

func TestAccountUpsert(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewTestStore(t)

	_, err := st.FindByLogin(ctx, "foo")
	require.ErrorIs(t, err, store.ErrNotFound)

	testutil.SeedAccount(t, st, "own", "own-pw", model.ActivationPending)

	sc := &mockScanner{}
	sc.onWindow(1, 4, email(1, "foo"), email(2, "foo"), email(3, "own"), email(4, "foo"))
	sc.On("FlagSeen", mock.Anything, mock.Anything).Return(nil)

	cfg := testConfig()
	cfg.Batch = 4
	v := always(verify.TokenExpiredEmailResent)
	_, err = newPoller(t, st, sc, v, cfg).ProcessBatch(ctx, mailbox.NewWindow(1, 4))
	require.NoError(t, err)

	acct, err := st.FindByLogin(ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, "foo@example.com", acct.Email)
	assert.Equal(t, "default-pw", acct.Password)
	assert.Equal(t, model.ActivationRetry, acct.Activated)

	accounts, err := st.ListAccounts(ctx, store.AccountFilter{})
	require.NoError(t, err)
	assert.Len(t, accounts, 2)

	for _, task := range v.calls() {
		switch task.Login {
		case "foo":
			assert.Equal(t, acct.ID, task.AccountID)
			assert.Equal(t, "default-pw", task.Password)
			assert.Equal(t, "https://club.example.com/activate/foo", task.Link)
		case "own":
			assert.Equal(t, "own-pw", task.Password)
		default:
			t.Fatalf("unexpected login %q", task.Login)
		}
	}
}

func TestFailedUpdateLeavesMessageUnseen(t *testing.T) {
	st := failingStore{Store: testutil.NewTestStore(t)}
	sc := &mockScanner{}
	sc.onWindow(1, 2, email(1, "foo"))

	_, err := newPoller(t, st, sc, always(verify.Activated), testConfig()).Run(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	sc.AssertNotCalled(t, "FlagSeen", mock.Anything, mock.Anything)
}

func TestUnextractableMessageIsSkipped(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewTestStore(t)
	sc := &mockScanner{}
	sc.onWindow(1, 2, mailbox.Message{UID: 1, To: "<foo@example.com>", Text: "no link here"}, email(2, "bar"))
	sc.On("FlagSeen", mock.Anything, uint32(2)).Return(nil)

	v := always(verify.Activated)
	p := newPoller(t, st, sc, v, testConfig())
	n, err := p.ProcessBatch(ctx, mailbox.NewWindow(1, 2))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, v.calls(), 1)
	sc.AssertNotCalled(t, "FlagSeen", mock.Anything, uint32(1))
	assert.Equal(t, 1, p.Report().Skipped)

	_, err = st.FindByLogin(ctx, "foo")
	assert.ErrorIs(t, err, store.ErrNotFound)

	events, err := st.ListEvents(ctx, 10)
	require.NoError(t, err)
	byUID := map[uint32]model.ActivationEvent{}
	for _, ev := range events {
		byUID[ev.MessageUID] = ev
	}
	assert.Equal(t, EventSkipped, byUID[1].Outcome)
	assert.NotEmpty(t, byUID[1].Detail)
	assert.Equal(t, string(verify.Activated), byUID[2].Outcome)
	assert.Equal(t, p.Report().RunID, byUID[2].RunID)
}

func TestFatalVerification(t *testing.T) {
	verdict := func(task verify.Task) (verify.Outcome, error) {
		if task.Login == "bar" {
			return "", &verify.FatalError{Stage: "fetch", Link: task.Link, Err: verify.ErrUnrecognizedPage}
		}
		return verify.Activated, nil
	}

	t.Run("skips the message by default", func(t *testing.T) {
		st := testutil.NewTestStore(t)
		sc := &mockScanner{}
		sc.onWindow(1, 2, email(1, "foo"), email(2, "bar"))
		sc.onWindow(3, 4)
		sc.On("FlagSeen", mock.Anything, uint32(1)).Return(nil)

		report, err := newPoller(t, st, sc, &fakeVerifier{verdict: verdict}, testConfig()).Run(context.Background(), 1)
		require.NoError(t, err)

		assert.Equal(t, 1, report.Failed)
		assert.Equal(t, 1, report.Outcomes[verify.Activated])
		sc.AssertNotCalled(t, "FlagSeen", mock.Anything, uint32(2))
		requireStatus(t, st, "bar", model.ActivationPending)
		requireStatus(t, st, "foo", model.ActivationDone)
	})

	t.Run("halts when configured", func(t *testing.T) {
		st := testutil.NewTestStore(t)
		sc := &mockScanner{}
		sc.onWindow(1, 2, email(2, "bar"))

		cfg := testConfig()
		cfg.HaltOnFatal = true
		_, err := newPoller(t, st, sc, &fakeVerifier{verdict: verdict}, cfg).Run(context.Background(), 1)
		require.Error(t, err)
		assert.True(t, verify.IsFatal(err))
		sc.AssertNumberOfCalls(t, "Search", 1)
	})
}

func TestAbortedTaskWritesNothing(t *testing.T) {
	st := testutil.NewTestStore(t)
	sc := &mockScanner{}
	sc.onWindow(1, 2, email(1, "foo"))

	p := newPoller(t, st, sc, always(verify.Aborted), testConfig())
	_, err := p.ProcessBatch(context.Background(), mailbox.NewWindow(1, 2))
	require.NoError(t, err)

	requireStatus(t, st, "foo", model.ActivationPending)
	sc.AssertNotCalled(t, "FlagSeen", mock.Anything, mock.Anything)
	assert.Equal(t, 1, p.Report().Outcomes[verify.Aborted])
}

func TestDryRun(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewTestStore(t)
	sc := &mockScanner{}
	sc.onWindow(1, 2, email(1, "foo"), mailbox.Message{UID: 2, Text: "junk"})
	sc.onWindow(3, 4)

	cfg := testConfig()
	cfg.DryRun = true
	v := always(verify.Activated)
	report, err := newPoller(t, st, sc, v, cfg).Run(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Planned)
	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, v.calls())
	sc.AssertNotCalled(t, "FlagSeen", mock.Anything, mock.Anything)

	accounts, err := st.ListAccounts(ctx, store.AccountFilter{})
	require.NoError(t, err)
	assert.Empty(t, accounts)
	events, err := st.ListEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSearchFailureStopsRun(t *testing.T) {
	sc := &mockScanner{}
	sc.On("Search", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))

	_, err := newPoller(t, testutil.NewTestStore(t), sc, always(verify.Activated), testConfig()).Run(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "window 1:2")
}

func TestFlagFailureStopsRun(t *testing.T) {
	st := testutil.NewTestStore(t)
	sc := &mockScanner{}
	sc.onWindow(1, 2, email(1, "foo"))
	sc.On("FlagSeen", mock.Anything, uint32(1)).Return(errors.New("connection reset"))

	_, err := newPoller(t, st, sc, always(verify.Activated), testConfig()).Run(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flagging uid 1")
	sc.AssertNumberOfCalls(t, "Search", 1)
}
