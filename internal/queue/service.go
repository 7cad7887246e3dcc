package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

const EventStateChanged = "queue:state"

const (
	RepeatModeOff = "off"
	RepeatModeAll = "all"
	RepeatModeOne = "one"
)

// Placement controls where AddSongs inserts relative to the current song.
type Placement string

const (
	PlacementNow  Placement = "now"
	PlacementNext Placement = "next"
	PlacementLast Placement = "last"
)

type Direction string

const (
	DirectionNext     Direction = "next"
	DirectionPrevious Direction = "previous"
)

var ErrEmptyQueue = errors.New("queue is empty")

type Emitter func(eventName string, payload any)

type ChangeListener func(state State)

type State struct {
	Entries      []Song `json:"entries"`
	CurrentIndex int    `json:"currentIndex"`
	CurrentSong  *Song  `json:"currentSong,omitempty"`
	RepeatMode   string `json:"repeatMode"`
	Shuffle      bool   `json:"shuffle"`
	Total        int    `json:"total"`
	UpdatedAt    string `json:"updatedAt"`
}

// Service is the single source of truth for track ordering and the playback
// cursor. entries holds the effective play order; baseOrder remembers the
// insertion order underneath an active shuffle so disabling shuffle restores
// it. All mutations return the resulting snapshot.
type Service struct {
	mu           sync.Mutex
	db           *sql.DB
	log          *slog.Logger
	entries      []Song
	baseOrder    []string
	currentIndex int
	repeatMode   string
	shuffle      bool
	updatedAt    time.Time
	emit         Emitter
	onChange     ChangeListener
	rng          *rand.Rand
}

func NewService(database *sql.DB, log *slog.Logger) *Service {
	service := &Service{
		db:           database,
		log:          log.With("component", "queue"),
		currentIndex: -1,
		repeatMode:   RepeatModeOff,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	service.loadSnapshot()
	return service
}

func (s *Service) SetEmitter(emitter Emitter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit = emitter
}

func (s *Service) SetOnChange(listener ChangeListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = listener
}

func (s *Service) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshotLocked()
}

func (s *Service) CurrentSong() *Song {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.validIndexLocked(s.currentIndex) {
		return nil
	}

	song := s.entries[s.currentIndex]
	return &song
}

// Lookahead returns the song that would become current after the next
// auto-triggered advance, or nil when playback would stop there.
func (s *Service) Lookahead() *Song {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) == 0 {
		return nil
	}

	index, ok := s.resolveNextLocked(true)
	if !ok {
		return nil
	}

	song := s.entries[index]
	return &song
}

// AddSongs inserts the given songs, minting a fresh UniqueID per entry even
// when the same track id is already queued. PlacementNow makes the first
// inserted song current, replacing the queue when clearExisting is set;
// PlacementNext inserts after the current song; PlacementLast appends.
func (s *Service) AddSongs(songs []Song, placement Placement, clearExisting bool) (State, error) {
	if len(songs) == 0 {
		return s.GetState(), nil
	}

	prepared := make([]Song, len(songs))
	for i, song := range songs {
		song.UniqueID = uuid.NewString()
		enrichFromFile(&song)
		prepared[i] = song
	}
	insertedIDs := lo.Map(prepared, func(song Song, _ int) string { return song.UniqueID })

	s.mu.Lock()
	switch placement {
	case PlacementNow:
		if clearExisting || len(s.entries) == 0 {
			s.entries = prepared
			s.baseOrder = append([]string(nil), insertedIDs...)
			s.currentIndex = 0
		} else {
			insertAt := s.insertAfterCurrentIndexLocked()
			s.entries = insertSongs(s.entries, insertAt, prepared)
			s.insertBaseAfterCurrentLocked(insertedIDs)
			s.currentIndex = insertAt
		}
	case PlacementNext:
		insertAt := s.insertAfterCurrentIndexLocked()
		s.entries = insertSongs(s.entries, insertAt, prepared)
		s.insertBaseAfterCurrentLocked(insertedIDs)
	case PlacementLast:
		s.entries = append(s.entries, prepared...)
		s.baseOrder = append(s.baseOrder, insertedIDs...)
	default:
		state := s.snapshotLocked()
		s.mu.Unlock()
		return state, fmt.Errorf("invalid queue placement %q", placement)
	}

	if s.currentIndex < 0 && len(s.entries) > 0 {
		s.currentIndex = 0
	}
	if !s.shuffle {
		s.baseOrder = uniqueIDsOf(s.entries)
	}
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.afterMutation(state)
	return state, nil
}

// RemoveByUniqueID removes the named entries. Removing ids that are not
// present is a no-op. When the current song is removed, the cursor advances
// to the next surviving entry in order, clamping to the tail, or clears when
// the queue empties.
func (s *Service) RemoveByUniqueID(uniqueIDs []string) State {
	removing := idSet(uniqueIDs)

	s.mu.Lock()
	if len(removing) == 0 {
		state := s.snapshotLocked()
		s.mu.Unlock()
		return state
	}

	currentID := s.currentUniqueIDLocked()
	oldIndex := s.currentIndex

	survivorsBefore := 0
	for i := 0; i < oldIndex && i < len(s.entries); i++ {
		if _, removed := removing[s.entries[i].UniqueID]; !removed {
			survivorsBefore++
		}
	}

	before := len(s.entries)
	s.entries = lo.Filter(s.entries, func(song Song, _ int) bool {
		_, removed := removing[song.UniqueID]
		return !removed
	})
	s.baseOrder = lo.Filter(s.baseOrder, func(id string, _ int) bool {
		_, removed := removing[id]
		return !removed
	})

	if len(s.entries) == before {
		state := s.snapshotLocked()
		s.mu.Unlock()
		return state
	}

	switch {
	case len(s.entries) == 0:
		s.currentIndex = -1
	case currentID == "":
		s.currentIndex = -1
	default:
		if _, removed := removing[currentID]; removed {
			if survivorsBefore >= len(s.entries) {
				survivorsBefore = len(s.entries) - 1
			}
			s.currentIndex = survivorsBefore
		} else {
			s.currentIndex = s.indexOfUniqueLocked(currentID)
		}
	}

	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.afterMutation(state)
	return state
}

func (s *Service) MoveToTop(uniqueIDs []string) State {
	return s.moveBlock(uniqueIDs, blockTop)
}

func (s *Service) MoveToBottom(uniqueIDs []string) State {
	return s.moveBlock(uniqueIDs, blockBottom)
}

func (s *Service) MoveToNextOfCurrent(uniqueIDs []string) State {
	return s.moveBlock(uniqueIDs, blockNextOfCurrent)
}

type blockTarget int

const (
	blockTop blockTarget = iota
	blockBottom
	blockNextOfCurrent
)

// moveBlock reorders the named subset as one contiguous block, preserving the
// subset's relative order. The current song keeps its identity; only its
// position may change.
func (s *Service) moveBlock(uniqueIDs []string, target blockTarget) State {
	selected := idSet(uniqueIDs)

	s.mu.Lock()
	moved := lo.Filter(s.entries, func(song Song, _ int) bool {
		_, ok := selected[song.UniqueID]
		return ok
	})
	if len(moved) == 0 {
		state := s.snapshotLocked()
		s.mu.Unlock()
		return state
	}

	currentID := s.currentUniqueIDLocked()
	rest := lo.Filter(s.entries, func(song Song, _ int) bool {
		_, ok := selected[song.UniqueID]
		return !ok
	})

	switch target {
	case blockTop:
		s.entries = append(moved, rest...)
	case blockBottom:
		s.entries = append(rest, moved...)
	case blockNextOfCurrent:
		insertAt := 0
		if currentID != "" {
			if _, currentMoved := selected[currentID]; currentMoved {
				// Anchor the block where the current song sat.
				insertAt = s.restPositionOfCurrentLocked(currentID, selected)
			} else {
				for i, song := range rest {
					if song.UniqueID == currentID {
						insertAt = i + 1
						break
					}
				}
			}
		}
		combined := make([]Song, 0, len(rest)+len(moved))
		combined = append(combined, rest[:insertAt]...)
		combined = append(combined, moved...)
		combined = append(combined, rest[insertAt:]...)
		s.entries = combined
	}

	if currentID != "" {
		s.currentIndex = s.indexOfUniqueLocked(currentID)
	}
	if !s.shuffle {
		s.baseOrder = uniqueIDsOf(s.entries)
	}
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.afterMutation(state)
	return state
}

// SetShuffle toggles shuffle. Enabling pins the current song as the first
// entry of the shuffled order so the audible track never jumps; disabling
// restores the underlying insertion order.
func (s *Service) SetShuffle(enabled bool) State {
	s.mu.Lock()
	if s.shuffle != enabled {
		s.shuffle = enabled
		if enabled {
			s.reshuffleLocked()
		} else {
			s.restoreBaseOrderLocked()
		}
	}
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.afterMutation(state)
	return state
}

func (s *Service) SetRepeatMode(mode string) (State, error) {
	normalized, err := normalizeRepeatMode(mode)
	if err != nil {
		return s.GetState(), err
	}

	s.mu.Lock()
	s.repeatMode = normalized
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.afterMutation(state)
	return state, nil
}

func (s *Service) SetCurrentByUniqueID(uniqueID string) (State, error) {
	s.mu.Lock()
	if len(s.entries) == 0 {
		state := s.snapshotLocked()
		s.mu.Unlock()
		return state, ErrEmptyQueue
	}

	index := s.indexOfUniqueLocked(uniqueID)
	if index < 0 {
		state := s.snapshotLocked()
		s.mu.Unlock()
		return state, fmt.Errorf("unknown queue entry %q", uniqueID)
	}

	s.currentIndex = index
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.afterMutation(state)
	return state, nil
}

func (s *Service) Clear() State {
	s.mu.Lock()
	s.entries = nil
	s.baseOrder = nil
	s.currentIndex = -1
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.afterMutation(state)
	return state
}

// Advance moves the cursor. Repeat rules: one replays the same track on
// auto-triggered advances (a manual next bypasses it), all wraps past the
// end, off clears the cursor there so playback stops. Advancing an empty
// queue is a no-op.
func (s *Service) Advance(direction Direction, autoTriggered bool) (State, bool) {
	s.mu.Lock()
	if len(s.entries) == 0 {
		state := s.snapshotLocked()
		s.mu.Unlock()
		return state, false
	}

	if direction == DirectionPrevious {
		if s.currentIndex == 0 {
			state := s.snapshotLocked()
			s.mu.Unlock()
			return state, false
		}
		if s.currentIndex < 0 {
			s.currentIndex = 0
		} else {
			s.currentIndex--
		}
		s.touchLocked()
		state := s.snapshotLocked()
		s.mu.Unlock()

		s.afterMutation(state)
		return state, true
	}

	nextIndex, ok := s.resolveNextLocked(autoTriggered)
	if !ok {
		s.currentIndex = -1
		s.touchLocked()
		state := s.snapshotLocked()
		s.mu.Unlock()

		s.afterMutation(state)
		return state, false
	}

	s.currentIndex = nextIndex
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.afterMutation(state)
	return state, true
}

func (s *Service) resolveNextLocked(autoTriggered bool) (int, bool) {
	total := len(s.entries)
	if total == 0 {
		return -1, false
	}

	if s.currentIndex < 0 || s.currentIndex >= total {
		return 0, true
	}

	if autoTriggered && s.repeatMode == RepeatModeOne {
		return s.currentIndex, true
	}

	if s.currentIndex < total-1 {
		return s.currentIndex + 1, true
	}

	if s.repeatMode == RepeatModeAll {
		return 0, true
	}

	return -1, false
}

func (s *Service) reshuffleLocked() {
	if len(s.entries) <= 1 {
		return
	}

	var head []Song
	tail := make([]Song, 0, len(s.entries))
	for i, song := range s.entries {
		if i == s.currentIndex {
			head = append(head, song)
			continue
		}
		tail = append(tail, song)
	}

	s.fisherYatesLocked(tail)
	s.breakArtistRunsLocked(tail)

	s.entries = append(head, tail...)
	if len(head) > 0 {
		s.currentIndex = 0
	}
}

func (s *Service) restoreBaseOrderLocked() {
	if len(s.entries) <= 1 {
		return
	}

	currentID := s.currentUniqueIDLocked()

	position := make(map[string]int, len(s.baseOrder))
	for i, id := range s.baseOrder {
		position[id] = i
	}

	restored := make([]Song, len(s.entries))
	copy(restored, s.entries)
	sortSongsByPosition(restored, position)
	s.entries = restored

	if currentID != "" {
		s.currentIndex = s.indexOfUniqueLocked(currentID)
	}
}

func (s *Service) fisherYatesLocked(songs []Song) {
	if len(songs) <= 1 {
		return
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	for i := len(songs) - 1; i > 0; i-- {
		j := s.rng.Intn(i + 1)
		songs[i], songs[j] = songs[j], songs[i]
	}
}

// breakArtistRunsLocked spreads adjacent same-artist pairs left behind by the
// raw shuffle. One pass is enough to keep short queues from feeling stuck on
// one artist.
func (s *Service) breakArtistRunsLocked(songs []Song) {
	for i := 1; i < len(songs); i++ {
		if !sameArtist(songs[i-1], songs[i]) {
			continue
		}
		for j := i + 1; j < len(songs); j++ {
			if sameArtist(songs[i-1], songs[j]) {
				continue
			}
			songs[i], songs[j] = songs[j], songs[i]
			break
		}
	}
}

func (s *Service) insertAfterCurrentIndexLocked() int {
	if s.currentIndex < 0 || s.currentIndex >= len(s.entries) {
		return len(s.entries)
	}

	return s.currentIndex + 1
}

func (s *Service) insertBaseAfterCurrentLocked(insertedIDs []string) {
	currentID := s.currentUniqueIDLocked()
	if currentID == "" {
		s.baseOrder = append(s.baseOrder, insertedIDs...)
		return
	}

	for i, id := range s.baseOrder {
		if id != currentID {
			continue
		}
		updated := make([]string, 0, len(s.baseOrder)+len(insertedIDs))
		updated = append(updated, s.baseOrder[:i+1]...)
		updated = append(updated, insertedIDs...)
		updated = append(updated, s.baseOrder[i+1:]...)
		s.baseOrder = updated
		return
	}

	s.baseOrder = append(s.baseOrder, insertedIDs...)
}

func (s *Service) restPositionOfCurrentLocked(currentID string, selected map[string]struct{}) int {
	position := 0
	for _, song := range s.entries {
		if song.UniqueID == currentID {
			break
		}
		if _, ok := selected[song.UniqueID]; !ok {
			position++
		}
	}

	return position
}

func (s *Service) currentUniqueIDLocked() string {
	if !s.validIndexLocked(s.currentIndex) {
		return ""
	}

	return s.entries[s.currentIndex].UniqueID
}

func (s *Service) indexOfUniqueLocked(uniqueID string) int {
	for i, song := range s.entries {
		if song.UniqueID == uniqueID {
			return i
		}
	}

	return -1
}

func (s *Service) validIndexLocked(index int) bool {
	return index >= 0 && index < len(s.entries)
}

func (s *Service) afterMutation(state State) {
	s.persistSnapshot(state)
	s.emitState(state)
	s.notifyChange(state)
}

func (s *Service) emitState(state State) {
	s.mu.Lock()
	emitter := s.emit
	s.mu.Unlock()

	if emitter != nil {
		emitter(EventStateChanged, state)
	}
}

func (s *Service) notifyChange(state State) {
	s.mu.Lock()
	listener := s.onChange
	s.mu.Unlock()

	if listener != nil {
		listener(state)
	}
}

func (s *Service) snapshotLocked() State {
	entries := make([]Song, len(s.entries))
	copy(entries, s.entries)

	state := State{
		Entries:      entries,
		CurrentIndex: s.currentIndex,
		RepeatMode:   s.repeatMode,
		Shuffle:      s.shuffle,
		Total:        len(entries),
	}

	if s.validIndexLocked(s.currentIndex) {
		song := entries[s.currentIndex]
		state.CurrentSong = &song
	}

	if !s.updatedAt.IsZero() {
		state.UpdatedAt = s.updatedAt.UTC().Format(time.RFC3339)
	}

	return state
}

func (s *Service) touchLocked() {
	s.updatedAt = time.Now().UTC()
}

func (s *Service) persistSnapshot(state State) {
	if s.db == nil {
		return
	}

	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.log.Warn("persist queue snapshot", "error", err)
		return
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, "DELETE FROM queue_entries"); err != nil {
		s.log.Warn("clear persisted queue", "error", err)
		return
	}

	for position, song := range state.Entries {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO queue_entries(position, unique_id, track_id, stream_url, duration_ms, title, artist, album, art_url, server_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			position,
			song.UniqueID,
			song.ID,
			song.StreamURL,
			song.DurationMS,
			song.Title,
			song.Artist,
			song.Album,
			song.ArtURL,
			song.ServerID,
		); err != nil {
			s.log.Warn("persist queue entry", "error", err)
			return
		}
	}

	var currentUniqueID any
	if state.CurrentSong != nil {
		currentUniqueID = state.CurrentSong.UniqueID
	}

	updatedAt := state.UpdatedAt
	if strings.TrimSpace(updatedAt) == "" {
		updatedAt = time.Now().UTC().Format(time.RFC3339)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO playback_state(id, current_unique_id, repeat_mode, shuffle, volume, updated_at)
		VALUES (
			1,
			?,
			?,
			?,
			COALESCE((SELECT volume FROM playback_state WHERE id = 1), 80),
			?
		)
		ON CONFLICT(id) DO UPDATE SET
			current_unique_id = excluded.current_unique_id,
			repeat_mode = excluded.repeat_mode,
			shuffle = excluded.shuffle,
			updated_at = excluded.updated_at
	`,
		currentUniqueID,
		state.RepeatMode,
		boolToInt(state.Shuffle),
		updatedAt,
	); err != nil {
		s.log.Warn("persist playback state", "error", err)
		return
	}

	if err := tx.Commit(); err != nil {
		s.log.Warn("commit queue snapshot", "error", err)
	}
}

func (s *Service) loadSnapshot() {
	if s.db == nil {
		return
	}

	ctx := context.Background()

	var (
		currentUniqueID sql.NullString
		repeatMode      sql.NullString
		shuffleInt      sql.NullInt64
		updatedAt       sql.NullString
	)

	err := s.db.QueryRowContext(
		ctx,
		"SELECT current_unique_id, repeat_mode, shuffle, updated_at FROM playback_state WHERE id = 1",
	).Scan(&currentUniqueID, &repeatMode, &shuffleInt, &updatedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		s.log.Warn("load playback state", "error", err)
		return
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT unique_id, track_id, stream_url, duration_ms, title, artist, album, art_url, server_id
		FROM queue_entries
		ORDER BY position ASC
	`)
	if err != nil {
		s.log.Warn("load persisted queue", "error", err)
		return
	}
	defer rows.Close()

	entries := make([]Song, 0)
	for rows.Next() {
		var song Song
		if scanErr := rows.Scan(
			&song.UniqueID,
			&song.ID,
			&song.StreamURL,
			&song.DurationMS,
			&song.Title,
			&song.Artist,
			&song.Album,
			&song.ArtURL,
			&song.ServerID,
		); scanErr != nil {
			s.log.Warn("scan persisted queue entry", "error", scanErr)
			return
		}
		entries = append(entries, song)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		s.log.Warn("iterate persisted queue", "error", rowsErr)
		return
	}

	newRepeatMode := RepeatModeOff
	if repeatMode.Valid {
		if normalized, normalizeErr := normalizeRepeatMode(repeatMode.String); normalizeErr == nil {
			newRepeatMode = normalized
		}
	}

	currentIndex := -1
	if len(entries) > 0 {
		currentIndex = 0
		if currentUniqueID.Valid {
			for index, song := range entries {
				if song.UniqueID == currentUniqueID.String {
					currentIndex = index
					break
				}
			}
		}
	}

	loadedAt := time.Now().UTC()
	if updatedAt.Valid {
		if parsed, parseErr := time.Parse(time.RFC3339Nano, updatedAt.String); parseErr == nil {
			loadedAt = parsed.UTC()
		}
	}

	s.mu.Lock()
	s.entries = entries
	s.baseOrder = uniqueIDsOf(entries)
	s.currentIndex = currentIndex
	s.repeatMode = newRepeatMode
	s.shuffle = shuffleInt.Valid && shuffleInt.Int64 == 1
	s.updatedAt = loadedAt
	s.mu.Unlock()
}

func normalizeRepeatMode(mode string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", RepeatModeOff:
		return RepeatModeOff, nil
	case RepeatModeAll:
		return RepeatModeAll, nil
	case RepeatModeOne:
		return RepeatModeOne, nil
	default:
		return "", fmt.Errorf("invalid repeat mode %q", mode)
	}
}

func sameArtist(left Song, right Song) bool {
	leftArtist := strings.ToLower(strings.TrimSpace(left.Artist))
	rightArtist := strings.ToLower(strings.TrimSpace(right.Artist))
	if leftArtist == "" || rightArtist == "" {
		return false
	}

	return leftArtist == rightArtist
}

func insertSongs(entries []Song, index int, inserted []Song) []Song {
	if index < 0 {
		index = 0
	}
	if index > len(entries) {
		index = len(entries)
	}

	combined := make([]Song, 0, len(entries)+len(inserted))
	combined = append(combined, entries[:index]...)
	combined = append(combined, inserted...)
	combined = append(combined, entries[index:]...)
	return combined
}

func sortSongsByPosition(songs []Song, position map[string]int) {
	for i := 1; i < len(songs); i++ {
		for j := i; j > 0 && songPosition(position, songs[j]) < songPosition(position, songs[j-1]); j-- {
			songs[j], songs[j-1] = songs[j-1], songs[j]
		}
	}
}

func songPosition(position map[string]int, song Song) int {
	if pos, ok := position[song.UniqueID]; ok {
		return pos
	}

	// Unknown ids sink to the end; should not happen while baseOrder is
	// maintained on every mutation.
	return len(position)
}

func uniqueIDsOf(songs []Song) []string {
	return lo.Map(songs, func(song Song, _ int) string { return song.UniqueID })
}

func idSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}

	return set
}

func boolToInt(value bool) int {
	if value {
		return 1
	}

	return 0
}
