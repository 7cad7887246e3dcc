// Package presence mirrors the now-playing track to Discord rich presence.
// The Discord IPC socket may not exist, appear late, or vanish while the
// player runs, so every call is fire-and-forget with reconnection on demand.
package presence

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hugolgst/rich-go/client"

	"finch/internal/broadcast"
)

type Service struct {
	mu       sync.Mutex
	log      *slog.Logger
	appID    string
	loggedIn bool
}

func NewService(appID string, log *slog.Logger) *Service {
	return &Service{
		log:   log.With("component", "presence"),
		appID: appID,
	}
}

func (s *Service) Name() string {
	return "presence"
}

// Notify updates the Discord activity off the caller's goroutine. A snapshot
// that arrives while a previous update is still talking to the socket simply
// queues behind it on the mutex; updates are tiny and infrequent after
// coalescing.
func (s *Service) Notify(snapshot broadcast.Snapshot) error {
	go s.update(snapshot)
	return nil
}

func (s *Service) update(snapshot broadcast.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loggedIn {
		if err := client.Login(s.appID); err != nil {
			s.log.Debug("discord unavailable", "error", err)
			return
		}
		s.loggedIn = true
	}

	if snapshot.Song == nil || snapshot.Status != "playing" {
		if err := client.SetActivity(client.Activity{}); err != nil {
			s.log.Debug("clear discord activity", "error", err)
			s.loggedIn = false
		}
		return
	}

	start := time.Now().Add(-time.Duration(snapshot.PositionMS) * time.Millisecond)
	activity := client.Activity{
		Details:    snapshot.Song.Title,
		State:      snapshot.Song.Artist,
		LargeImage: snapshot.Song.ArtURL,
		LargeText:  snapshot.Song.Album,
		Timestamps: &client.Timestamps{Start: &start},
	}
	if err := client.SetActivity(activity); err != nil {
		s.log.Debug("set discord activity", "error", err)
		s.loggedIn = false
	}
}

func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loggedIn {
		client.Logout()
		s.loggedIn = false
	}
}
