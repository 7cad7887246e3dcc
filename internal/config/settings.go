package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
)

const (
	PlaybackStyleNormal    = "normal"
	PlaybackStyleCrossfade = "crossfade"
	PlaybackStyleGapless   = "gapless"
)

const (
	CrossfadeCurveLinear     = "linear"
	CrossfadeCurveEqualPower = "equal_power"
)

const maxCrossfadeDurationMS = 15000

// Settings drives playback transitions and the external surfaces. Values come
// from settings.json in the app config dir; environment variables override
// the file.
type Settings struct {
	PlaybackStyle       string `json:"playbackStyle" env:"FINCH_PLAYBACK_STYLE"`
	CrossfadeDurationMS int    `json:"crossfadeDurationMs" env:"FINCH_CROSSFADE_DURATION_MS"`
	CrossfadeCurve      string `json:"crossfadeCurve" env:"FINCH_CROSSFADE_CURVE"`
	RemoteEnabled       bool   `json:"remoteEnabled" env:"FINCH_REMOTE_ENABLED"`
	RemoteListenAddr    string `json:"remoteListenAddr" env:"FINCH_REMOTE_LISTEN_ADDR"`
	PresenceEnabled     bool   `json:"presenceEnabled" env:"FINCH_PRESENCE_ENABLED"`
	PresenceAppID       string `json:"presenceAppId" env:"FINCH_PRESENCE_APP_ID"`
	NotifyOnTrackChange bool   `json:"notifyOnTrackChange" env:"FINCH_NOTIFY_ON_TRACK_CHANGE"`
}

func DefaultSettings() Settings {
	return Settings{
		PlaybackStyle:       PlaybackStyleNormal,
		CrossfadeDurationMS: 5000,
		CrossfadeCurve:      CrossfadeCurveEqualPower,
		RemoteEnabled:       false,
		RemoteListenAddr:    "127.0.0.1:4530",
		PresenceEnabled:     false,
		NotifyOnTrackChange: false,
	}
}

// LoadSettings reads the settings file when present, overlays environment
// variables, and normalizes the result. A missing file is not an error.
func LoadSettings(path string) (Settings, error) {
	settings := DefaultSettings()

	body, err := os.ReadFile(path)
	switch {
	case err == nil:
		if unmarshalErr := json.Unmarshal(body, &settings); unmarshalErr != nil {
			return DefaultSettings(), fmt.Errorf("parse settings file %s: %w", path, unmarshalErr)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return DefaultSettings(), fmt.Errorf("read settings file %s: %w", path, err)
	}

	if err := env.Parse(&settings); err != nil {
		return DefaultSettings(), fmt.Errorf("parse settings from environment: %w", err)
	}

	if err := settings.normalize(); err != nil {
		return DefaultSettings(), err
	}

	return settings, nil
}

func SaveSettings(path string, settings Settings) error {
	if err := settings.normalize(); err != nil {
		return err
	}

	body, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	if err := os.WriteFile(path, append(body, '\n'), 0o644); err != nil {
		return fmt.Errorf("write settings file %s: %w", path, err)
	}

	return nil
}

func (s *Settings) normalize() error {
	switch strings.ToLower(strings.TrimSpace(s.PlaybackStyle)) {
	case "", PlaybackStyleNormal:
		s.PlaybackStyle = PlaybackStyleNormal
	case PlaybackStyleCrossfade:
		s.PlaybackStyle = PlaybackStyleCrossfade
	case PlaybackStyleGapless:
		s.PlaybackStyle = PlaybackStyleGapless
	default:
		return fmt.Errorf("invalid playback style %q", s.PlaybackStyle)
	}

	switch strings.ToLower(strings.TrimSpace(s.CrossfadeCurve)) {
	case "", CrossfadeCurveEqualPower:
		s.CrossfadeCurve = CrossfadeCurveEqualPower
	case CrossfadeCurveLinear:
		s.CrossfadeCurve = CrossfadeCurveLinear
	default:
		return fmt.Errorf("invalid crossfade curve %q", s.CrossfadeCurve)
	}

	if s.CrossfadeDurationMS < 0 {
		return fmt.Errorf("crossfade duration must not be negative, got %d", s.CrossfadeDurationMS)
	}
	if s.CrossfadeDurationMS > maxCrossfadeDurationMS {
		s.CrossfadeDurationMS = maxCrossfadeDurationMS
	}

	if s.RemoteEnabled && strings.TrimSpace(s.RemoteListenAddr) == "" {
		return errors.New("remote control enabled without a listen address")
	}

	if s.PresenceEnabled && strings.TrimSpace(s.PresenceAppID) == "" {
		return errors.New("presence enabled without an application id")
	}

	return nil
}
