package command

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/runwarden/internal/registry"
	"github.com/dwsmith1983/runwarden/internal/testutil"
	"github.com/dwsmith1983/runwarden/pkg/types"
)

func TestInterpret_AddTarget(t *testing.T) {
	tests := []struct {
		name string
		text string
		want types.AddTargetArgs
	}{
		{
			name: "repository",
			text: "Add new Telegram bot: https://github.com/octo/app, acc1, @alerts",
			want: types.AddTargetArgs{RepoURL: "https://github.com/octo/app", AccountID: "acc1", ProjectID: "octo/app", WorkflowID: "*", Channel: "@alerts", Label: "app"},
		},
		{
			name: "workflow file without kind word",
			text: "Add new bot: https://github.com/octo/app/actions/workflows/ci.yml, acc_2, chan-1",
			want: types.AddTargetArgs{RepoURL: "https://github.com/octo/app/actions/workflows/ci.yml", AccountID: "acc_2", ProjectID: "octo/app", WorkflowID: "ci.yml", Channel: "chan-1", Label: "app"},
		},
		{
			name: "loose spacing and trailing slash",
			text: "  Add new Slack bot:   https://ghe.example.com/team/svc/ ,acc-3 ,  #ops  ",
			want: types.AddTargetArgs{RepoURL: "https://ghe.example.com/team/svc/", AccountID: "acc-3", ProjectID: "team/svc", WorkflowID: "*", Channel: "#ops", Label: "svc"},
		},
		{
			name: "short form",
			text: "Add new bot: https://x/y, acc1, chanA",
			want: types.AddTargetArgs{RepoURL: "https://x/y", AccountID: "acc1", ProjectID: "x/y", WorkflowID: "*", Channel: "chanA", Label: "y"},
		},
		{
			name: "git suffix",
			text: "Add new Telegram bot: http://github.com/octo/lib.git, acc1, @c",
			want: types.AddTargetArgs{RepoURL: "http://github.com/octo/lib.git", AccountID: "acc1", ProjectID: "octo/lib", WorkflowID: "*", Channel: "@c", Label: "lib"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := Interpret(tt.text)
			require.Equal(t, types.CommandAddTarget, cmd.Kind)
			require.NotNil(t, cmd.AddTarget)
			assert.Equal(t, tt.want, *cmd.AddTarget)
		})
	}
}

func TestInterpret_FailsClosed(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"chatter", "hello there"},
		{"lowercase prefix", "add new Telegram bot: https://github.com/octo/app, acc1, @c"},
		{"leading text", "please Add new Telegram bot: https://github.com/octo/app, acc1, @c"},
		{"two kind words", "Add new Big Telegram bot: https://github.com/octo/app, acc1, @c"},
		{"missing channel", "Add new Telegram bot: https://github.com/octo/app, acc1"},
		{"extra field", "Add new Telegram bot: https://github.com/octo/app, acc1, @c, extra"},
		{"trailing words", "Add new Telegram bot: https://github.com/octo/app, acc1, @c now"},
		{"account with space", "Add new Telegram bot: https://github.com/octo/app, acc 1, @c"},
		{"account with dot", "Add new Telegram bot: https://github.com/octo/app, acc.1, @c"},
		{"no scheme", "Add new Telegram bot: github.com/octo/app, acc1, @c"},
		{"ftp scheme", "Add new Telegram bot: ftp://github.com/octo/app, acc1, @c"},
		{"host only", "Add new Telegram bot: https://github.com/, acc1, @c"},
		{"three segments", "Add new Telegram bot: https://github.com/octo/app/tree, acc1, @c"},
		{"not a workflow path", "Add new Telegram bot: https://github.com/octo/app/actions/runs/5, acc1, @c"},
		{"query string", "Add new Telegram bot: https://github.com/octo/app?tab=1, acc1, @c"},
		{"credentials in url", "Add new Telegram bot: https://user:pw@github.com/octo/app, acc1, @c"},
		{"empty path segment", "Add new Telegram bot: https://github.com/octo//app, acc1, @c"},
		{"bare git suffix", "Add new Telegram bot: https://github.com/octo/.git, acc1, @c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := Interpret(tt.text)
			assert.Equal(t, types.CommandUnknown, cmd.Kind)
			assert.Nil(t, cmd.AddTarget)
		})
	}
}

type recordingReplier struct {
	mu      sync.Mutex
	replies []string
	chats   []string
	err     error
}

func (r *recordingReplier) SendTo(_ context.Context, chatID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chats = append(r.chats, chatID)
	r.replies = append(r.replies, text)
	return r.err
}

type failingStore struct{ err error }

func (f failingStore) UpsertTarget(context.Context, types.Target, registry.UpsertOptions) (string, error) {
	return "", f.err
}

type countingObserver struct{ n int }

func (c *countingObserver) CommandApplied(context.Context, types.CommandKind) { c.n++ }

func newTestRegistry() *registry.Registry {
	return registry.New(testutil.NewMockProvider(), types.RemediationPolicy{
		ConfidenceThreshold: 0.5, MaxAttempts: 3, Cooldown: "10m",
	})
}

func msg(id int64, chat, text string) types.InboundMessage {
	return types.InboundMessage{UpdateID: id, ChatID: chat, Text: text}
}

const addApp = "Add new Telegram bot: https://github.com/octo/app, acc1, @alerts"

func TestHandle_AddsTargetAndAcknowledges(t *testing.T) {
	reg := newTestRegistry()
	replier := &recordingReplier{}
	obs := &countingObserver{}
	h := NewHandler(reg, WithReplier(replier), WithObserver(obs))
	ctx := context.Background()

	res, err := h.Handle(ctx, msg(1, "42", addApp))
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, types.TargetID("acc1", "octo/app", "*"), res.TargetID)

	target, err := reg.GetTarget(ctx, res.TargetID)
	require.NoError(t, err)
	assert.Equal(t, "@alerts", target.Channel)
	assert.Equal(t, "https://github.com/octo/app", target.RepoURL)
	assert.True(t, target.Enabled)

	require.Len(t, replier.replies, 1)
	assert.Contains(t, replier.replies[0], "✅ New bot added successfully!")
	assert.Equal(t, "42", replier.chats[0])
	assert.Equal(t, 1, obs.n)
}

type countingStore struct {
	*registry.Registry
	calls []types.Target
}

func (c *countingStore) UpsertTarget(ctx context.Context, t types.Target, opts registry.UpsertOptions) (string, error) {
	c.calls = append(c.calls, t)
	return c.Registry.UpsertTarget(ctx, t, opts)
}

func TestHandle_ShortFormUpsertsOnce(t *testing.T) {
	store := &countingStore{Registry: newTestRegistry()}
	h := NewHandler(store)
	ctx := context.Background()

	res, err := h.Handle(ctx, msg(1, "42", "Add new bot: https://x/y, acc1, chanA"))
	require.NoError(t, err)
	assert.True(t, res.Applied)
	require.Len(t, store.calls, 1)
	assert.Equal(t, "acc1", store.calls[0].AccountID)
	assert.Equal(t, "x/y", store.calls[0].ProjectID)
	assert.Equal(t, "chanA", store.calls[0].Channel)

	_, err = h.Handle(ctx, msg(2, "42", "Add new bot: https://x/y acc1 chanA"))
	require.NoError(t, err)
	assert.Len(t, store.calls, 1)
}

func TestHandle_RepeatIsIdempotent(t *testing.T) {
	reg := newTestRegistry()
	h := NewHandler(reg)
	ctx := context.Background()

	first, err := h.Handle(ctx, msg(1, "42", addApp))
	require.NoError(t, err)
	second, err := h.Handle(ctx, msg(2, "42", addApp))
	require.NoError(t, err)
	assert.Equal(t, first.TargetID, second.TargetID)

	targets, err := reg.ListTargets(ctx)
	require.NoError(t, err)
	assert.Len(t, targets, 1)
}

func TestHandle_DuplicateWithDifferentSettings(t *testing.T) {
	reg := newTestRegistry()
	replier := &recordingReplier{}
	h := NewHandler(reg, WithReplier(replier))
	ctx := context.Background()

	_, err := h.Handle(ctx, msg(1, "42", addApp))
	require.NoError(t, err)
	res, err := h.Handle(ctx, msg(2, "42", "Add new Telegram bot: https://github.com/octo/app, acc1, @other"))
	require.NoError(t, err)
	assert.False(t, res.Applied)
	require.Len(t, replier.replies, 2)
	assert.Contains(t, replier.replies[1], "already monitored")

	target, err := reg.GetTarget(ctx, types.TargetID("acc1", "octo/app", "*"))
	require.NoError(t, err)
	assert.Equal(t, "@alerts", target.Channel)
}

func TestHandle_UnknownIsIgnored(t *testing.T) {
	reg := newTestRegistry()
	replier := &recordingReplier{}
	h := NewHandler(reg, WithReplier(replier))

	res, err := h.Handle(context.Background(), msg(1, "42", "Add new Telegram bot: broken"))
	require.NoError(t, err)
	assert.Equal(t, types.CommandUnknown, res.Command.Kind)
	assert.False(t, res.Applied)
	assert.Empty(t, replier.replies)

	targets, err := reg.ListTargets(context.Background())
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestHandle_AllowedChats(t *testing.T) {
	reg := newTestRegistry()
	h := NewHandler(reg, WithAllowedChats("42"))
	ctx := context.Background()

	res, err := h.Handle(ctx, msg(1, "13", addApp))
	require.NoError(t, err)
	assert.False(t, res.Applied)

	res, err = h.Handle(ctx, msg(2, "42", addApp))
	require.NoError(t, err)
	assert.True(t, res.Applied)
}

func TestHandle_StorageFailure(t *testing.T) {
	replier := &recordingReplier{}
	h := NewHandler(failingStore{err: types.ErrStorageUnavailable}, WithReplier(replier))

	res, err := h.Handle(context.Background(), msg(1, "42", addApp))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrStorageUnavailable)
	assert.False(t, res.Applied)
	require.Len(t, replier.replies, 1)
	assert.Contains(t, replier.replies[0], "❌")
}

func TestHandle_ReplyFailureIsNotFatal(t *testing.T) {
	h := NewHandler(newTestRegistry(), WithReplier(&recordingReplier{err: errors.New("telegram down")}))
	res, err := h.Handle(context.Background(), msg(1, "42", addApp))
	require.NoError(t, err)
	assert.True(t, res.Applied)
}

type fakeReceiver struct {
	msgs    []types.InboundMessage
	offsets []int64
	err     error
}

func (f *fakeReceiver) Receive(_ context.Context, offset int64) ([]types.InboundMessage, error) {
	f.offsets = append(f.offsets, offset)
	if f.err != nil {
		return nil, f.err
	}
	var out []types.InboundMessage
	for _, m := range f.msgs {
		if m.UpdateID >= offset {
			out = append(out, m)
		}
	}
	return out, nil
}

func TestInbox_PollAppliesOnce(t *testing.T) {
	prov := testutil.NewMockProvider()
	reg := registry.New(prov, types.RemediationPolicy{ConfidenceThreshold: 0.5, MaxAttempts: 3, Cooldown: "10m"})
	recv := &fakeReceiver{msgs: []types.InboundMessage{
		msg(11, "42", "Add new Telegram bot: https://github.com/octo/lib, acc1, @c"),
		msg(10, "42", addApp),
		msg(12, "42", "just chatting"),
	}}
	inbox := NewInbox(recv, prov, NewHandler(reg), nil)
	ctx := context.Background()

	applied, err := inbox.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)

	cursor, err := prov.GetCursor(ctx, CursorName)
	require.NoError(t, err)
	assert.Equal(t, int64(13), cursor)

	applied, err = inbox.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, applied)
	assert.Equal(t, []int64{0, 13}, recv.offsets)
}

func TestInbox_DeliverSkipsHandledUpdates(t *testing.T) {
	prov := testutil.NewMockProvider()
	replier := &recordingReplier{}
	inbox := NewInbox(nil, prov, NewHandler(newTestRegistry(), WithReplier(replier)), nil)
	ctx := context.Background()

	ok, err := inbox.Deliver(ctx, msg(5, "42", addApp))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = inbox.Deliver(ctx, msg(5, "42", addApp))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, replier.replies, 1)

	applied, err := inbox.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, applied)
}

func TestInbox_FailureKeepsCursor(t *testing.T) {
	prov := testutil.NewMockProvider()
	recv := &fakeReceiver{msgs: []types.InboundMessage{msg(3, "42", addApp)}}
	inbox := NewInbox(recv, prov, NewHandler(failingStore{err: types.ErrStorageUnavailable}), nil)
	ctx := context.Background()

	_, err := inbox.Poll(ctx)
	require.ErrorIs(t, err, types.ErrStorageUnavailable)

	cursor, err := prov.GetCursor(ctx, CursorName)
	require.NoError(t, err)
	assert.Zero(t, cursor)
}

func TestInbox_ReceiveError(t *testing.T) {
	prov := testutil.NewMockProvider()
	inbox := NewInbox(&fakeReceiver{err: errors.New("timeout")}, prov, NewHandler(newTestRegistry()), nil)
	_, err := inbox.Poll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "receiving messages")
}

func TestParseRepoURL(t *testing.T) {
	project, workflow, err := ParseRepoURL(" https://github.com/octo/app/actions/workflows/ci.yml ")
	require.NoError(t, err)
	assert.Equal(t, "octo/app", project)
	assert.Equal(t, "ci.yml", workflow)

	_, _, err = ParseRepoURL("ftp://github.com/octo/app")
	var pe *types.ParseError
	assert.ErrorAs(t, err, &pe)
}
