package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "Ekronos-Agents/internal/errors"
)

type recordingNotifier struct {
	mu     sync.Mutex
	ch     Channel
	events []Event
	err    error
}

func (r *recordingNotifier) Channel() Channel { return r.ch }

func (r *recordingNotifier) Notify(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, 0)
	err := n.Notify(context.Background(), Event{Code: xerrors.CodeUpstream, Message: "boom", TaskID: "t1", Attempts: 1})
	require.NoError(t, err)
	assert.Equal(t, "t1", got.TaskID)
	assert.Equal(t, xerrors.CodeUpstream, got.Code)
}

func TestWebhookNotifierNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL, 0).Notify(context.Background(), Event{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 500")
}

func TestWebhookNotifierUnconfiguredIsNoop(t *testing.T) {
	assert.NoError(t, NewWebhookNotifier(" ", 0).Notify(context.Background(), Event{}))
}

func TestFanoutJoinsErrors(t *testing.T) {
	ok := &recordingNotifier{ch: ChannelLog}
	bad := &recordingNotifier{ch: ChannelWebhook, err: assert.AnError}
	d := NewFanout(ok, nil, bad)
	assert.Equal(t, []Channel{ChannelLog, ChannelWebhook}, d.Channels())

	err := d.Notify(context.Background(), Event{Code: xerrors.CodeUnknown})
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	require.Len(t, ok.events, 1)
	assert.False(t, ok.events[0].OccurredAt.IsZero())

	var nilDispatcher *FanoutDispatcher
	assert.NoError(t, nilDispatcher.Notify(context.Background(), Event{}))
}
