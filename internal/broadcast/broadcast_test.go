package broadcast

import (
	"errors"
	"log/slog"
	"testing"

	"finch/internal/queue"
)

type recordingObserver struct {
	name      string
	snapshots []Snapshot
	err       error
	panics    bool
}

func (o *recordingObserver) Name() string {
	return o.name
}

func (o *recordingObserver) Notify(snapshot Snapshot) error {
	if o.panics {
		panic("observer exploded")
	}
	if o.err != nil {
		return o.err
	}
	o.snapshots = append(o.snapshots, snapshot)
	return nil
}

func songSnapshot(uniqueID string, positionMS int, status string) Snapshot {
	return Snapshot{
		Song:       &queue.Song{UniqueID: uniqueID, Title: "Track"},
		PositionMS: positionMS,
		Status:     status,
	}
}

func TestSteadyTicksAreCoalesced(t *testing.T) {
	t.Parallel()

	observer := &recordingObserver{name: "test"}
	synchronizer := NewSynchronizer(slog.Default())
	synchronizer.Register(observer)

	for i := 0; i < 50; i++ {
		synchronizer.Publish(songSnapshot("u1", i*250, "playing"))
	}

	if len(observer.snapshots) != 1 {
		t.Fatalf("expected a single notification for steady playback, got %d", len(observer.snapshots))
	}
}

func TestTrackChangeNotifies(t *testing.T) {
	t.Parallel()

	observer := &recordingObserver{name: "test"}
	synchronizer := NewSynchronizer(slog.Default())
	synchronizer.Register(observer)

	synchronizer.Publish(songSnapshot("u1", 0, "playing"))
	synchronizer.Publish(songSnapshot("u1", 250, "playing"))
	synchronizer.Publish(songSnapshot("u2", 0, "playing"))

	if len(observer.snapshots) != 2 {
		t.Fatalf("expected notification per track, got %d", len(observer.snapshots))
	}
	if observer.snapshots[1].Song.UniqueID != "u2" {
		t.Fatalf("expected second notification for new track")
	}
}

func TestStatusChangeNotifies(t *testing.T) {
	t.Parallel()

	observer := &recordingObserver{name: "test"}
	synchronizer := NewSynchronizer(slog.Default())
	synchronizer.Register(observer)

	synchronizer.Publish(songSnapshot("u1", 0, "playing"))
	synchronizer.Publish(songSnapshot("u1", 200, "paused"))
	synchronizer.Publish(songSnapshot("u1", 200, "paused"))

	if len(observer.snapshots) != 2 {
		t.Fatalf("expected notification on status change only, got %d", len(observer.snapshots))
	}
	if observer.snapshots[1].Status != "paused" {
		t.Fatalf("expected paused status delivered")
	}
}

func TestSeekJumpNotifies(t *testing.T) {
	t.Parallel()

	observer := &recordingObserver{name: "test"}
	synchronizer := NewSynchronizer(slog.Default())
	synchronizer.Register(observer)

	synchronizer.Publish(songSnapshot("u1", 0, "playing"))
	synchronizer.Publish(songSnapshot("u1", 250, "playing"))
	synchronizer.Publish(songSnapshot("u1", 60_000, "playing"))
	synchronizer.Publish(songSnapshot("u1", 60_250, "playing"))

	if len(observer.snapshots) != 2 {
		t.Fatalf("expected notification on the seek jump only, got %d", len(observer.snapshots))
	}
	if observer.snapshots[1].PositionMS != 60_000 {
		t.Fatalf("expected seek position delivered, got %d", observer.snapshots[1].PositionMS)
	}
}

func TestNilSongTransitionNotifies(t *testing.T) {
	t.Parallel()

	observer := &recordingObserver{name: "test"}
	synchronizer := NewSynchronizer(slog.Default())
	synchronizer.Register(observer)

	synchronizer.Publish(songSnapshot("u1", 0, "playing"))
	synchronizer.Publish(Snapshot{Status: "stopped"})

	if len(observer.snapshots) != 2 {
		t.Fatalf("expected notification when playback stops, got %d", len(observer.snapshots))
	}
	if observer.snapshots[1].Song != nil {
		t.Fatalf("expected nil song in stop notification")
	}
}

func TestFailingObserverDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	broken := &recordingObserver{name: "broken", err: errors.New("socket gone")}
	panicking := &recordingObserver{name: "panicking", panics: true}
	healthy := &recordingObserver{name: "healthy"}

	synchronizer := NewSynchronizer(slog.Default())
	synchronizer.Register(broken)
	synchronizer.Register(panicking)
	synchronizer.Register(healthy)

	synchronizer.Publish(songSnapshot("u1", 0, "playing"))

	if len(healthy.snapshots) != 1 {
		t.Fatalf("expected healthy observer notified despite failures, got %d", len(healthy.snapshots))
	}
}

func TestFailedDeliveryRetriesNextPublish(t *testing.T) {
	t.Parallel()

	observer := &recordingObserver{name: "flaky", err: errors.New("temporarily down")}
	synchronizer := NewSynchronizer(slog.Default())
	synchronizer.Register(observer)

	synchronizer.Publish(songSnapshot("u1", 0, "playing"))
	observer.err = nil
	synchronizer.Publish(songSnapshot("u1", 250, "playing"))

	if len(observer.snapshots) != 1 {
		t.Fatalf("expected redelivery after a failed notify, got %d", len(observer.snapshots))
	}
}
