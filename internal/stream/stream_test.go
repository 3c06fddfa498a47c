package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docqa/backend/internal/apperrors"
	"github.com/docqa/backend/internal/query"
)

type scriptedStream struct {
	frags  []string
	failAt int
	pos    int
	closed bool
}

func (s *scriptedStream) Recv() (string, error) {
	if s.failAt > 0 && s.pos == s.failAt {
		return "", apperrors.ErrGenerationUnavailable
	}
	if s.pos >= len(s.frags) {
		return "", io.EOF
	}
	s.pos++
	return s.frags[s.pos-1], nil
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}

type collectSink struct {
	events []string
	failOn int
}

func (c *collectSink) Send(e Event) error {
	if c.failOn > 0 && len(c.events)+1 == c.failOn {
		return errors.New("client went away")
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	c.events = append(c.events, string(data))
	return nil
}

var guideSource = query.Source{FileName: "guide.pdf", Page: 2, Content: "text", FileURL: "/uploads/g.pdf"}

func TestPipe_EventShape(t *testing.T) {
	tokens := &scriptedStream{frags: []string{"Hel", "lo"}}
	sink := &collectSink{}

	err := Pipe(context.Background(), tokens, []query.Source{guideSource}, sink)
	require.NoError(t, err)

	assert.Equal(t, []string{
		`{"text":"Hel"}`,
		`{"text":"lo"}`,
		`{"isDone":true,"source":[{"fileName":"guide.pdf","page":2,"content":"text","fileUrl":"/uploads/g.pdf"}]}`,
	}, sink.events)
	assert.True(t, tokens.closed)
}

func TestPipe_SkipsEmptyFragments(t *testing.T) {
	tokens := &scriptedStream{frags: []string{"", "A", "", "B"}}
	sink := &collectSink{}

	require.NoError(t, Pipe(context.Background(), tokens, nil, sink))

	assert.Equal(t, []string{`{"text":"A"}`, `{"text":"B"}`, `{"isDone":true,"source":[]}`}, sink.events)
}

func TestPipe_NoDoneAfterGenerationError(t *testing.T) {
	tokens := &scriptedStream{frags: []string{"Hel", "lo", "!"}, failAt: 2}
	sink := &collectSink{}

	err := Pipe(context.Background(), tokens, []query.Source{guideSource}, sink)

	assert.ErrorIs(t, err, apperrors.ErrGenerationUnavailable)
	assert.Equal(t, []string{`{"text":"Hel"}`, `{"text":"lo"}`}, sink.events)
	assert.True(t, tokens.closed)
}

func TestPipe_StopsWhenClientGone(t *testing.T) {
	tokens := &scriptedStream{frags: []string{"a", "b", "c"}}
	sink := &collectSink{failOn: 2}

	err := Pipe(context.Background(), tokens, nil, sink)

	assert.Error(t, err)
	assert.Equal(t, []string{`{"text":"a"}`}, sink.events)
	assert.Equal(t, 2, tokens.pos)
	assert.True(t, tokens.closed)
}

func TestPipe_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink := &collectSink{}

	err := Pipe(ctx, &scriptedStream{frags: []string{"a"}}, nil, sink)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sink.events)
}

func TestSSESink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSSESink(bufio.NewWriter(&buf))

	require.NoError(t, sink.Send(TextEvent("Hi")))
	require.NoError(t, sink.Send(DoneEvent(nil)))

	assert.Equal(t, "data: {\"text\":\"Hi\"}\n\ndata: {\"isDone\":true,\"source\":[]}\n\n", buf.String())
}
