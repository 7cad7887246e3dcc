package queue

import (
	"strings"

	"go.senan.xyz/taglib"
)

// Song is one queue entry. ID is the server-assigned track id and may repeat
// when the same track is queued twice; UniqueID is minted per insertion and is
// the primary key inside the queue.
type Song struct {
	ID         string `json:"id"`
	UniqueID   string `json:"uniqueId"`
	StreamURL  string `json:"streamUrl"`
	DurationMS int    `json:"durationMs"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	Album      string `json:"album"`
	ArtURL     string `json:"artUrl,omitempty"`
	ServerID   string `json:"serverId,omitempty"`
}

func (s Song) isLocal() bool {
	lowered := strings.ToLower(s.StreamURL)
	return !strings.HasPrefix(lowered, "http://") && !strings.HasPrefix(lowered, "https://")
}

// enrichFromFile fills duration and missing display metadata for local-path
// songs by probing the file's tags. Remote streams carry metadata from the
// server and are left untouched.
func enrichFromFile(song *Song) {
	if !song.isLocal() || song.StreamURL == "" {
		return
	}

	if song.DurationMS <= 0 {
		if properties, err := taglib.ReadProperties(song.StreamURL); err == nil && properties.Length > 0 {
			song.DurationMS = int(properties.Length.Milliseconds())
		}
	}

	if song.Title != "" && song.Artist != "" && song.Album != "" {
		return
	}

	tags, err := taglib.ReadTags(song.StreamURL)
	if err != nil {
		return
	}

	if song.Title == "" {
		song.Title = firstTagValue(tags, taglib.Title, "TITLE")
	}
	if song.Artist == "" {
		song.Artist = firstTagValue(tags, taglib.Artist, "ARTIST")
	}
	if song.Album == "" {
		song.Album = firstTagValue(tags, taglib.Album, "ALBUM")
	}
}

func firstTagValue(tags map[string][]string, keys ...string) string {
	for _, key := range keys {
		for _, value := range tags[key] {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}

	return ""
}
