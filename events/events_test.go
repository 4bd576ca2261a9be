package events_test

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"shift-booker/events"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		text string
		want events.Severity
	}{
		{"✅ AVAILABLE: 2025-12-01 | Morning", events.Success},
		{"🎉 All target shifts processed!", events.Success},
		{"❌ FULL: 2025-12-01 | Morning. Removing from targets.", events.Error},
		{"❌ FATAL ERROR: boom", events.Error},
		{"⚠️ WARNING: claim rejected", events.Warning},
		{"💡 TIP: copy the date exactly", events.Info},
		{"Scanning for 2 target shifts...", events.Info},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			require.Equal(t, tc.want, events.Classify(tc.text))
		})
	}
}

func TestSinkPerProducerOrder(t *testing.T) {
	t.Parallel()
	sink := events.NewSink(discardLogger())

	const producers, perProducer = 8, 200
	var wg sync.WaitGroup
	for p := range producers {
		wg.Go(func() {
			for i := range perProducer {
				sink.Publish(strconv.Itoa(p), strconv.Itoa(i))
			}
		})
	}
	wg.Wait()

	got := sink.Drain()
	require.Len(t, got, producers*perProducer)
	require.Zero(t, sink.Len())

	last := make(map[string]int)
	for _, e := range got {
		n, err := strconv.Atoi(e.Text)
		require.NoError(t, err)
		if prev, ok := last[e.Account]; ok {
			require.Greater(t, n, prev, "events of producer %s out of order", e.Account)
		}
		last[e.Account] = n
	}
}

func TestSinkNext(t *testing.T) {
	t.Parallel()
	sink := events.NewSink(discardLogger())

	go func() {
		time.Sleep(20 * time.Millisecond)
		sink.Publish("1:abc***", "hello")
	}()

	got, err := sink.Next(t.Context())
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "hello", got[0].Text)
	require.Contains(t, got[0].String(), "[1:abc***] hello")

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	_, err = sink.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
