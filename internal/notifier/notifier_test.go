package notifier

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/xhscollect/internal/config"
	"github.com/ibeckermayer/xhscollect/internal/digest"
	"github.com/ibeckermayer/xhscollect/internal/export"
	"github.com/ibeckermayer/xhscollect/internal/types"
)

type mail struct {
	to, subject, html, plain string
}

type fakeSender struct {
	sent []mail
}

func (f *fakeSender) Send(to, subject, htmlBody, plainBody string) error {
	f.sent = append(f.sent, mail{to, subject, htmlBody, plainBody})
	return nil
}

type fakeRecorder struct {
	saved [][]types.Comment
}

func (f *fakeRecorder) SaveComments(_ context.Context, comments []types.Comment) error {
	f.saved = append(f.saved, comments)
	return nil
}

func completeEvent() Event {
	comments := []types.Comment{{ID: 1, Username: "a", Content: "hello", Likes: 3}}
	r := export.BuildReport(comments, export.Meta{Title: "note", Expected: 1, Actual: 1})
	return Event{Kind: KindComplete, SessionID: "s1", Comments: comments, Report: &r, Count: 1, Expected: 1}
}

func TestNotifier_FanOut(t *testing.T) {
	var kinds []Kind
	rec := &fakeRecorder{}
	n := New(zerolog.Nop(),
		LogSink{Log: zerolog.Nop()},
		StoreSink{Store: rec},
		SinkFunc(func(_ context.Context, ev Event) error {
			kinds = append(kinds, ev.Kind)
			assert.False(t, ev.Time.IsZero())
			return nil
		}),
	)

	require.NoError(t, n.Notify(context.Background(), Event{Kind: KindProgress, Count: 4}))
	require.NoError(t, n.Notify(context.Background(), completeEvent()))

	assert.Equal(t, []Kind{KindProgress, KindComplete}, kinds)
	require.Len(t, rec.saved, 1, "only completions are persisted")
	assert.Equal(t, "hello", rec.saved[0][0].Content)
}

func TestNotifier_FailingSinkDoesNotBlockOthers(t *testing.T) {
	boom := errors.New("boom")
	delivered := false

	n := New(zerolog.Nop())
	n.Add(SinkFunc(func(context.Context, Event) error { return boom }))
	n.Add(SinkFunc(func(context.Context, Event) error { delivered = true; return nil }))

	err := n.Notify(context.Background(), Event{Kind: KindError, Message: "x"})
	assert.ErrorIs(t, err, boom)
	assert.True(t, delivered)
}

func TestMailSink(t *testing.T) {
	sender := &fakeSender{}
	b, err := digest.New(5)
	require.NoError(t, err)
	sink := NewMailSink(sender, "me@example.com", b)

	require.NoError(t, sink.Notify(context.Background(), Event{Kind: KindProgress}))
	assert.Empty(t, sender.sent)

	require.NoError(t, sink.Notify(context.Background(), completeEvent()))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "me@example.com", sender.sent[0].to)
	assert.Contains(t, sender.sent[0].subject, "note")

	require.NoError(t, sink.Notify(context.Background(), Event{
		Kind:    KindError,
		Page:    types.PageMeta{URL: "https://www.xiaohongshu.com/explore/x"},
		Message: "no comment elements <found>",
	}))
	require.Len(t, sender.sent, 2)
	assert.Equal(t, "评论采集失败", sender.sent[1].subject)
	assert.Contains(t, sender.sent[1].html, "&lt;found&gt;")
}

func TestNewMailSinkFromConfig(t *testing.T) {
	sink, err := NewMailSinkFromConfig(config.EmailConfig{})
	require.NoError(t, err)
	assert.Nil(t, sink)

	_, err = NewMailSinkFromConfig(config.EmailConfig{Provider: "pigeon"})
	assert.ErrorContains(t, err, "unknown email provider")

	_, err = NewMailSinkFromConfig(config.EmailConfig{Provider: "smtp", SMTPHost: "localhost"})
	assert.Error(t, err)

	sink, err = NewMailSinkFromConfig(config.EmailConfig{Provider: "smtp", SMTPHost: "localhost", ToAddr: "me@example.com"})
	require.NoError(t, err)
	assert.NotNil(t, sink)
}
