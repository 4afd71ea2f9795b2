package robot

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartroomba/roombadash/internal/oi"
	"github.com/smartroomba/roombadash/internal/recorder"
	"github.com/smartroomba/roombadash/internal/transport"
)

func playbackConn(samples []recorder.Sample) *transport.PlaybackConn {
	return transport.NewPlaybackFromSamples(transport.PlaybackOptions{}, samples)
}

func TestRunDrainsPlaybackToCompletion(t *testing.T) {
	t.Parallel()

	samples := recorder.DemoSamples(10, 400*time.Millisecond)
	orch := New(playbackConn(samples), nil, Config{
		Target:     "demo",
		Kind:       transport.Playback,
		PacketCode: oi.PacketAll,
		Pause:      time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Exhaustion ends the run cleanly, not with an error.
	require.NoError(t, orch.Run(ctx))

	assert.Equal(t, uint64(10), orch.Decoded())
	assert.Equal(t, uint64(0), orch.DecodeErrors())
	require.NotNil(t, orch.Last())
	assert.Equal(t, oi.PacketAll, orch.Last().Code)
	assert.Equal(t, transport.Disconnected, orch.Conn().State())
}

func TestRunForwardsToSubscribers(t *testing.T) {
	t.Parallel()

	samples := recorder.DemoSamples(5, 400*time.Millisecond)
	orch := New(playbackConn(samples), nil, Config{
		Target:     "demo",
		Kind:       transport.Playback,
		PacketCode: oi.PacketAll,
		Pause:      time.Millisecond,
	})

	_, ch := orch.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, orch.Run(ctx))

	var got []*oi.SensorData
	for d := range ch { // channel is closed when the run ends
		got = append(got, d)
	}
	require.Len(t, got, 5)
	for _, d := range got {
		assert.Equal(t, oi.PacketAll, d.Code)
	}
}

func TestRunRecordsReadings(t *testing.T) {
	t.Parallel()

	samples := recorder.DemoSamples(4, 400*time.Millisecond)
	sink := &closableBuffer{}
	rec := recorder.NewWriter(sink)

	orch := New(playbackConn(samples), rec, Config{
		Target:     "demo",
		Kind:       transport.Playback,
		PacketCode: oi.PacketAll,
		Pause:      time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, orch.Run(ctx))

	assert.Equal(t, 4, rec.Rows())
	assert.True(t, sink.closed, "run teardown closes the recorder")

	// The recording replays: read it back and compare raw bytes.
	r := recorder.NewReader(io.NopCloser(strings.NewReader(sink.String())))
	replayed, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, replayed, 4)
	for i, s := range replayed {
		assert.Equal(t, samples[i].Raw, s.Raw)
	}
}

func TestRunCountsUndecodablePackets(t *testing.T) {
	t.Parallel()

	// Recorded frames are 10-byte physical packets but the orchestrator
	// requests the 26-byte full packet, so every decode fails on length.
	samples := []recorder.Sample{
		{At: time.Now(), Code: oi.PacketPhysical, Raw: make([]byte, 10)},
		{At: time.Now(), Code: oi.PacketPhysical, Raw: make([]byte, 10)},
	}
	orch := New(playbackConn(samples), nil, Config{
		Target:     "demo",
		Kind:       transport.Playback,
		PacketCode: oi.PacketAll,
		Pause:      time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, orch.Run(ctx))

	assert.Equal(t, uint64(0), orch.Decoded())
	assert.Equal(t, uint64(2), orch.DecodeErrors())
	assert.Nil(t, orch.Last())
}

func TestRunFailsFastOnUnreadablePlayback(t *testing.T) {
	t.Parallel()

	conn := transport.NewPlayback(transport.PlaybackOptions{
		Open: func(string) (io.ReadCloser, error) { return nil, io.ErrClosedPipe },
	})
	orch := New(conn, nil, Config{
		Target: "/missing/recording.csv",
		Kind:   transport.Playback,
		Pause:  time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := orch.Run(ctx)
	assert.Error(t, err, "an unreadable recording never becomes readable")
}

func TestContextCancelStopsRun(t *testing.T) {
	t.Parallel()

	// Plenty of samples so the run is still going when we cancel.
	samples := recorder.DemoSamples(100000, 400*time.Millisecond)
	orch := New(playbackConn(samples), nil, Config{
		Target:     "demo",
		Kind:       transport.Playback,
		PacketCode: oi.PacketAll,
		Pause:      time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- orch.Run(ctx) }()

	require.Eventually(t, func() bool { return orch.Decoded() > 0 },
		5*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop on context cancel")
	}
	assert.Equal(t, transport.Disconnected, orch.Conn().State())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	orch := New(playbackConn(nil), nil, Config{Kind: transport.Playback})
	id, ch := orch.Subscribe()
	id2, _ := orch.Subscribe()
	assert.NotEqual(t, id, id2)

	orch.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)

	// Unsubscribing twice is harmless.
	orch.Unsubscribe(id)
}

// closableBuffer lets the recorder tests observe Close.
type closableBuffer struct {
	strings.Builder
	closed bool
}

func (b *closableBuffer) Close() error {
	b.closed = true
	return nil
}
