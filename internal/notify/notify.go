// Package notify surfaces playback incidents as desktop notifications.
package notify

import (
	"fmt"
	"log/slog"

	"github.com/gen2brain/beeep"

	"finch/internal/queue"
)

const appName = "Finch"

type Service struct {
	log *slog.Logger
}

func NewService(log *slog.Logger) *Service {
	return &Service{log: log.With("component", "notify")}
}

// LoadFailed reports a track that could not be loaded and was skipped.
func (s *Service) LoadFailed(song queue.Song, err error) {
	title := song.Title
	if title == "" {
		title = song.StreamURL
	}
	body := fmt.Sprintf("Could not play %q, skipping: %v", title, err)
	if nerr := beeep.Notify(appName, body, ""); nerr != nil {
		s.log.Debug("desktop notification failed", "error", nerr)
	}
}

// TrackChanged announces the new current track.
func (s *Service) TrackChanged(song queue.Song) {
	body := song.Title
	if song.Artist != "" {
		body += " - " + song.Artist
	}
	if err := beeep.Notify(appName, body, ""); err != nil {
		s.log.Debug("desktop notification failed", "error", err)
	}
}
