package cli

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"screen-ghost/src/events"
)

func TestMirrorEventsForwardsToLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	bus := events.NewBus()
	defer bus.Close()
	stop := mirrorEvents(bus, logger)
	defer stop()

	bus.Publish(events.Event{Stage: events.StageWorker, Kind: events.KindError, Message: "worker crashed"})
	bus.Publish(events.Event{Stage: events.StageBootstrap, Kind: events.KindCompleted, Message: "runtime ready"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if logs.FilterMessage("worker crashed").Len() == 1 &&
			logs.FilterMessage("runtime ready").Len() == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	crashed := logs.FilterMessage("worker crashed")
	if crashed.Len() != 1 {
		t.Fatalf("Expected crash event mirrored once, saw %d entries", crashed.Len())
	}
	if lvl := crashed.All()[0].Level; lvl != zapcore.WarnLevel {
		t.Errorf("Expected error events at warn level, got %v", lvl)
	}

	ready := logs.FilterMessage("runtime ready")
	if ready.Len() != 1 {
		t.Fatalf("Expected completion event mirrored once, saw %d entries", ready.Len())
	}
	if lvl := ready.All()[0].Level; lvl != zapcore.InfoLevel {
		t.Errorf("Expected completion at info level, got %v", lvl)
	}
}
