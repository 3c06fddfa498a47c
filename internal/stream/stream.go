package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/docqa/backend/internal/llm"
	"github.com/docqa/backend/internal/metrics"
	"github.com/docqa/backend/internal/query"
	"github.com/docqa/backend/pkg/logger"
)

// Event is one message of an answer stream: either a text fragment or the
// final done marker carrying the sources.
type Event struct {
	Text    string
	Done    bool
	Sources []query.Source
}

func TextEvent(text string) Event {
	return Event{Text: text}
}

func DoneEvent(sources []query.Source) Event {
	return Event{Done: true, Sources: sources}
}

type textPayload struct {
	Text string `json:"text"`
}

type donePayload struct {
	IsDone bool           `json:"isDone"`
	Source []query.Source `json:"source"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	if e.Done {
		sources := e.Sources
		if sources == nil {
			sources = []query.Source{}
		}
		return json.Marshal(donePayload{IsDone: true, Source: sources})
	}
	return json.Marshal(textPayload{Text: e.Text})
}

type Sink interface {
	Send(Event) error
}

// Pipe forwards every non-empty fragment from tokens to sink in order, then
// sends one done event once tokens is drained. On any error it stops without
// a done event. Pipe closes tokens.
func Pipe(ctx context.Context, tokens llm.TokenStream, sources []query.Source, sink Sink) error {
	defer tokens.Close()

	sent := 0
	for {
		if err := ctx.Err(); err != nil {
			return abort(sent, err)
		}

		frag, err := tokens.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return abort(sent, err)
		}
		if frag == "" {
			continue
		}

		if err := sink.Send(TextEvent(frag)); err != nil {
			return abort(sent, fmt.Errorf("failed to send text event: %w", err))
		}
		metrics.StreamEvents.WithLabelValues("text").Inc()
		sent++
	}

	if err := sink.Send(DoneEvent(sources)); err != nil {
		return abort(sent, fmt.Errorf("failed to send done event: %w", err))
	}
	metrics.StreamEvents.WithLabelValues("done").Inc()

	logger.Debug("Answer stream completed", zap.Int("text_events", sent), zap.Int("sources", len(sources)))
	return nil
}

func abort(sent int, err error) error {
	metrics.StreamsAborted.Inc()
	logger.Warn("Answer stream aborted", zap.Int("text_events", sent), zap.Error(err))
	return err
}

// SSESink writes events as server-sent events and flushes after each one.
type SSESink struct {
	w *bufio.Writer
}

func NewSSESink(w *bufio.Writer) *SSESink {
	return &SSESink{w: w}
}

func (s *SSESink) Send(e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	return s.w.Flush()
}
