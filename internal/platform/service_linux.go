//go:build linux

package platform

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"

	"finch/internal/broadcast"
)

const (
	busName    = "org.mpris.MediaPlayer2.finch"
	objectPath = "/org/mpris/MediaPlayer2"

	rootInterface   = "org.mpris.MediaPlayer2"
	playerInterface = "org.mpris.MediaPlayer2.Player"
)

// mprisService publishes the MPRIS media-player interface on the session
// bus. Desktop environments route media keys and show now-playing info
// through it; its method calls are forwarded to the playback controller.
type mprisService struct {
	mu         sync.Mutex
	log        *slog.Logger
	controller broadcast.Controller
	conn       *dbus.Conn
	props      *prop.Properties
}

func NewService(controller broadcast.Controller, log *slog.Logger) Service {
	return &mprisService{
		log:        log.With("component", "mpris"),
		controller: controller,
	}
}

func (s *mprisService) Start() error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("connect session bus: %w", err)
	}

	reply, err := conn.RequestName(busName, dbus.NameFlagReplaceExisting)
	if err != nil {
		conn.Close()
		return fmt.Errorf("request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return fmt.Errorf("bus name %s already owned", busName)
	}

	props, err := prop.Export(conn, objectPath, s.propertyMap())
	if err != nil {
		conn.Close()
		return fmt.Errorf("export properties: %w", err)
	}

	if err := conn.Export(&mprisRoot{}, objectPath, rootInterface); err != nil {
		conn.Close()
		return fmt.Errorf("export root interface: %w", err)
	}
	player := &mprisPlayer{s: s}
	if err := conn.ExportMethodTable(map[string]interface{}{
		"Play":        player.Play,
		"Pause":       player.Pause,
		"PlayPause":   player.PlayPause,
		"Stop":        player.Stop,
		"Next":        player.Next,
		"Previous":    player.Previous,
		"Seek":        player.seekRelative,
		"SetPosition": player.SetPosition,
	}, objectPath, playerInterface); err != nil {
		conn.Close()
		return fmt.Errorf("export player interface: %w", err)
	}

	node := &introspect.Node{
		Name: objectPath,
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{Name: rootInterface},
			{Name: playerInterface},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), objectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		conn.Close()
		return fmt.Errorf("export introspection: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.props = props
	s.mu.Unlock()

	s.log.Info("mpris interface registered", "bus", busName)
	return nil
}

func (s *mprisService) Stop() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.props = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	if _, err := conn.ReleaseName(busName); err != nil {
		s.log.Warn("release bus name", "error", err)
	}
	return conn.Close()
}

func (s *mprisService) Name() string {
	return "mpris"
}

// Notify mirrors the playback snapshot into the exported MPRIS properties.
func (s *mprisService) Notify(snapshot broadcast.Snapshot) error {
	s.mu.Lock()
	props := s.props
	s.mu.Unlock()

	if props == nil {
		return nil
	}

	if err := props.Set(playerInterface, "PlaybackStatus", dbus.MakeVariant(mprisStatus(snapshot.Status))); err != nil {
		return fmt.Errorf("set PlaybackStatus: %w", err)
	}
	if err := props.Set(playerInterface, "Metadata", dbus.MakeVariant(mprisMetadata(snapshot))); err != nil {
		return fmt.Errorf("set Metadata: %w", err)
	}
	if err := props.Set(playerInterface, "Position", dbus.MakeVariant(int64(snapshot.PositionMS)*1000)); err != nil {
		return fmt.Errorf("set Position: %w", err)
	}
	return nil
}

// mprisRoot and mprisPlayer are the bus-facing method sets, living on
// dedicated receivers instead of the service itself (whose Stop has a
// different signature). The player exports through a method table so the
// wire names stay decoupled from the Go method names. Errors from the
// controller are logged rather than returned over the bus so a transient
// playback error does not break the desktop integration.

type mprisRoot struct{}

func (r *mprisRoot) Raise() *dbus.Error { return nil }
func (r *mprisRoot) Quit() *dbus.Error  { return nil }

type mprisPlayer struct {
	s *mprisService
}

func (p *mprisPlayer) Play() *dbus.Error {
	p.s.forward("play", p.s.controller.Play)
	return nil
}

func (p *mprisPlayer) Pause() *dbus.Error {
	p.s.forward("pause", p.s.controller.Pause)
	return nil
}

func (p *mprisPlayer) PlayPause() *dbus.Error {
	p.s.forward("toggle", p.s.controller.TogglePlayback)
	return nil
}

func (p *mprisPlayer) Stop() *dbus.Error {
	p.s.forward("stop", p.s.controller.Stop)
	return nil
}

func (p *mprisPlayer) Next() *dbus.Error {
	p.s.forward("next", p.s.controller.Next)
	return nil
}

func (p *mprisPlayer) Previous() *dbus.Error {
	p.s.forward("previous", p.s.controller.Previous)
	return nil
}

// seekRelative backs the bus Seek method; the method table supplies the wire
// name so the Go method does not carry the io.Seeker shape. Desktops that
// need absolute positioning call SetPosition instead, so the offset variant
// is accepted and ignored.
func (p *mprisPlayer) seekRelative(_ int64) *dbus.Error {
	return nil
}

func (p *mprisPlayer) SetPosition(_ dbus.ObjectPath, positionUS int64) *dbus.Error {
	p.s.forward("seek", func() error {
		return p.s.controller.SeekMS(int(positionUS / 1000))
	})
	return nil
}

func (s *mprisService) forward(action string, op func() error) {
	if err := op(); err != nil {
		s.log.Warn("media key action failed", "action", action, "error", err)
	}
}

func (s *mprisService) propertyMap() prop.Map {
	return prop.Map{
		rootInterface: {
			"Identity":            {Value: "Finch", Writable: false, Emit: prop.EmitTrue},
			"CanQuit":             {Value: false, Writable: false, Emit: prop.EmitTrue},
			"CanRaise":            {Value: false, Writable: false, Emit: prop.EmitTrue},
			"HasTrackList":        {Value: false, Writable: false, Emit: prop.EmitTrue},
			"SupportedUriSchemes": {Value: []string{"http", "https", "file"}, Writable: false, Emit: prop.EmitTrue},
			"SupportedMimeTypes":  {Value: []string{"audio/mpeg", "audio/flac", "audio/ogg"}, Writable: false, Emit: prop.EmitTrue},
		},
		playerInterface: {
			"PlaybackStatus": {Value: "Stopped", Writable: false, Emit: prop.EmitTrue},
			"Metadata":       {Value: map[string]dbus.Variant{}, Writable: false, Emit: prop.EmitTrue},
			"Position":       {Value: int64(0), Writable: false, Emit: prop.EmitFalse},
			"CanGoNext":      {Value: true, Writable: false, Emit: prop.EmitTrue},
			"CanGoPrevious":  {Value: true, Writable: false, Emit: prop.EmitTrue},
			"CanPlay":        {Value: true, Writable: false, Emit: prop.EmitTrue},
			"CanPause":       {Value: true, Writable: false, Emit: prop.EmitTrue},
			"CanSeek":        {Value: true, Writable: false, Emit: prop.EmitTrue},
			"CanControl":     {Value: true, Writable: false, Emit: prop.EmitTrue},
		},
	}
}

func mprisStatus(status string) string {
	switch status {
	case "playing":
		return "Playing"
	case "paused":
		return "Paused"
	default:
		return "Stopped"
	}
}

func mprisMetadata(snapshot broadcast.Snapshot) map[string]dbus.Variant {
	metadata := map[string]dbus.Variant{}
	song := snapshot.Song
	if song == nil {
		return metadata
	}

	metadata["mpris:trackid"] = dbus.MakeVariant(dbus.ObjectPath("/finch/track/" + dbusSafe(song.UniqueID)))
	metadata["mpris:length"] = dbus.MakeVariant(int64(song.DurationMS) * 1000)
	metadata["xesam:title"] = dbus.MakeVariant(song.Title)
	if song.Artist != "" {
		metadata["xesam:artist"] = dbus.MakeVariant([]string{song.Artist})
	}
	if song.Album != "" {
		metadata["xesam:album"] = dbus.MakeVariant(song.Album)
	}
	if song.ArtURL != "" {
		metadata["mpris:artUrl"] = dbus.MakeVariant(song.ArtURL)
	}
	return metadata
}

// dbusSafe strips characters an object path cannot carry. Unique IDs are
// UUIDs, so only hyphens need rewriting.
func dbusSafe(id string) string {
	out := make([]byte, 0, len(id))
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
