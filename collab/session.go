package collab

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"collabpad/core"

	"github.com/sirupsen/logrus"
)

// Emitter delivers a single event to one connection. The socket transport
// provides an implementation per connection; tests provide fakes.
type Emitter interface {
	Emit(event string, payload any)
}

// Identity is the authenticated user behind a connection, resolved once at
// connection time and immutable afterwards.
type Identity struct {
	UserID      string
	DisplayName string
}

// Presence is a connection's identity and cosmetic attributes while it
// participates in a document room.
type Presence struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Color       string `json:"color"`
}

// presencePalette is the fixed set of cursor colors. Assignment is
// pseudo-random and not unique within a room.
var presencePalette = []string{
	"#F94144", "#F3722C", "#F8961E", "#F9C74F", "#90BE6D",
	"#43AA8B", "#4D908E", "#577590", "#9B5DE5", "#F15BB5",
}

type member struct {
	presence Presence
	emitter  Emitter
}

type room struct {
	members map[string]*member // keyed by connection ID
}

type connState struct {
	identity Identity
	emitter  Emitter
	docs     map[string]struct{} // document IDs this connection has joined
}

// Manager owns all live collaboration state: the room directory, each
// room's presence roster, and the registered connections. One mutex guards
// every mutation; document-store I/O never runs while it is held.
type Manager struct {
	mu    sync.Mutex
	conns map[string]*connState
	rooms map[string]*room

	store core.DocumentStore
	saves *SaveScheduler
}

// NewManager creates a session manager persisting through store, with
// autosaves debounced by the scheduler.
func NewManager(store core.DocumentStore, saves *SaveScheduler) *Manager {
	return &Manager{
		conns: make(map[string]*connState),
		rooms: make(map[string]*room),
		store: store,
		saves: saves,
	}
}

// Register attaches an authenticated connection to the manager. It must be
// called before any other operation for that connection ID.
func (m *Manager) Register(connID string, identity Identity, emitter Emitter) {
	m.mu.Lock()
	m.conns[connID] = &connState{
		identity: identity,
		emitter:  emitter,
		docs:     make(map[string]struct{}),
	}
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"conn_id": connID,
		"user_id": identity.UserID,
	}).Info("Connection registered")
}

// Join admits a connection into a document room after the access check.
// On success the rest of the room learns about the new member and the
// joiner receives the current roster, itself excluded. Failures are
// reported to the joiner as an error event and mutate nothing.
func (m *Manager) Join(ctx context.Context, connID, docID, displayName string) {
	m.mu.Lock()
	c, ok := m.conns[connID]
	m.mu.Unlock()
	if !ok {
		return
	}

	log := logrus.WithFields(logrus.Fields{
		"conn_id":     connID,
		"user_id":     c.identity.UserID,
		"document_id": docID,
	})

	// Store load happens outside the manager lock.
	doc, err := m.store.Get(ctx, docID)
	if err != nil {
		if errors.Is(err, core.ErrDocumentNotFound) {
			log.Warn("Join rejected: document not found")
			c.emitter.Emit(EventError, ErrorEvent{Message: "document not found"})
		} else {
			log.WithError(err).Error("Failed to load document for join")
			c.emitter.Emit(EventError, ErrorEvent{Message: "failed to load document"})
		}
		return
	}
	if !doc.CanAccess(c.identity.UserID) {
		log.Warn("Join rejected: access denied")
		c.emitter.Emit(EventError, ErrorEvent{Message: "access denied"})
		return
	}

	if displayName == "" {
		displayName = c.identity.DisplayName
	}
	presence := Presence{
		UserID:      c.identity.UserID,
		DisplayName: displayName,
		Color:       presencePalette[rand.IntN(len(presencePalette))],
	}

	m.mu.Lock()
	// The connection may have disconnected while the store load was in
	// flight; inserting its presence now would strand a member nobody
	// can remove.
	if cur, ok := m.conns[connID]; !ok || cur != c {
		m.mu.Unlock()
		log.Info("Connection gone before join completed")
		return
	}
	r, ok := m.rooms[docID]
	if !ok {
		r = &room{members: make(map[string]*member)}
		m.rooms[docID] = r
	}
	r.members[connID] = &member{presence: presence, emitter: c.emitter}
	c.docs[docID] = struct{}{}

	peers := make([]Emitter, 0, len(r.members)-1)
	roster := make([]Presence, 0, len(r.members)-1)
	for id, mem := range r.members {
		if id == connID {
			continue
		}
		peers = append(peers, mem.emitter)
		roster = append(roster, mem.presence)
	}
	m.mu.Unlock()

	for _, peer := range peers {
		peer.Emit(EventUserJoined, UserJoinedEvent{
			UserID:      presence.UserID,
			DisplayName: presence.DisplayName,
			Color:       presence.Color,
		})
	}
	c.emitter.Emit(EventUsersList, roster)

	log.WithField("room_size", len(roster)+1).Info("User joined document")
}

// Edit relays an edit delta to every other room member and reschedules the
// document's debounced autosave with the new content. Edits from
// connections without a presence in the room are dropped.
func (m *Manager) Edit(connID, docID string, delta any, content string) {
	m.mu.Lock()
	c, ok := m.conns[connID]
	if !ok {
		m.mu.Unlock()
		return
	}
	r, ok := m.rooms[docID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if _, ok := r.members[connID]; !ok {
		m.mu.Unlock()
		return
	}
	peers := m.peersOf(r, connID)
	userID := c.identity.UserID
	m.mu.Unlock()

	for _, peer := range peers {
		peer.Emit(EventTextChange, TextChangeEvent{
			Delta:   delta,
			Content: content,
			UserID:  userID,
		})
	}

	m.saves.Schedule(docID, content)
}

// Cursor relays a cursor position, tagged with the sender's presence, to
// every other room member. Events arriving before the join completed are
// silently dropped.
func (m *Manager) Cursor(connID, docID string, position any) {
	m.mu.Lock()
	r, ok := m.rooms[docID]
	if !ok {
		m.mu.Unlock()
		return
	}
	mem, ok := r.members[connID]
	if !ok {
		m.mu.Unlock()
		return
	}
	presence := mem.presence
	peers := m.peersOf(r, connID)
	m.mu.Unlock()

	for _, peer := range peers {
		peer.Emit(EventCursorMove, CursorMoveEvent{
			UserID:      presence.UserID,
			DisplayName: presence.DisplayName,
			Color:       presence.Color,
			Position:    position,
		})
	}
}

// Save writes content immediately, bypassing the debounce. The saver gets
// an acknowledgement either way; the rest of the room is notified only on
// success. A pending debounced save for the same document is left alone;
// the store resolves the race as last writer wins.
func (m *Manager) Save(ctx context.Context, connID, docID, content string) {
	m.mu.Lock()
	c, ok := m.conns[connID]
	if !ok {
		m.mu.Unlock()
		return
	}
	r, inRoom := m.rooms[docID]
	if inRoom {
		_, inRoom = r.members[connID]
	}
	if !inRoom {
		m.mu.Unlock()
		c.emitter.Emit(EventError, ErrorEvent{Message: "not in document room"})
		return
	}
	peers := m.peersOf(r, connID)
	m.mu.Unlock()

	log := logrus.WithFields(logrus.Fields{
		"document_id": docID,
		"user_id":     c.identity.UserID,
	})

	if err := m.store.UpdateContent(ctx, docID, content); err != nil {
		log.WithError(err).Error("Explicit save failed")
		c.emitter.Emit(EventDocumentSaved, DocumentSavedEvent{Success: false})
		return
	}

	now := time.Now()
	saved := DocumentSavedEvent{Success: true, Timestamp: &now}
	c.emitter.Emit(EventDocumentSaved, saved)
	for _, peer := range peers {
		peer.Emit(EventDocumentSaved, saved)
	}
	log.Info("Document saved")
}

// Leave removes the connection from one document room, notifying the
// remaining members. A no-op if the connection never joined the room.
func (m *Manager) Leave(connID, docID string) {
	m.mu.Lock()
	if c, ok := m.conns[connID]; ok {
		delete(c.docs, docID)
	}
	left, peers, _ := m.removeFromRoom(connID, docID)
	m.mu.Unlock()

	m.notifyLeft(left, peers)
}

// Unregister tears down a disconnected connection: every room it was a
// member of is left, peers are notified, and pending autosaves are
// cancelled for documents whose room became empty. Rooms with remaining
// editors keep their pending save.
func (m *Manager) Unregister(connID string) {
	m.mu.Lock()
	c, ok := m.conns[connID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.conns, connID)

	type departure struct {
		left  *Presence
		peers []Emitter
	}
	var departures []departure
	var emptied []string
	for docID := range c.docs {
		left, peers, empty := m.removeFromRoom(connID, docID)
		departures = append(departures, departure{left: left, peers: peers})
		if empty {
			emptied = append(emptied, docID)
		}
	}
	m.mu.Unlock()

	for _, d := range departures {
		m.notifyLeft(d.left, d.peers)
	}
	for _, docID := range emptied {
		m.saves.Cancel(docID)
	}

	logrus.WithFields(logrus.Fields{
		"conn_id": connID,
		"user_id": c.identity.UserID,
		"rooms":   len(departures),
	}).Info("Connection unregistered")
}

// RoomSize reports the member count of a document's room, zero if the
// room does not exist.
func (m *Manager) RoomSize(docID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[docID]
	if !ok {
		return 0
	}
	return len(r.members)
}

// removeFromRoom deletes the connection's presence and, if the roster
// became empty, the room itself. Caller must hold m.mu. Returns the
// removed presence (nil if none), the remaining peers, and whether the
// room was deleted.
func (m *Manager) removeFromRoom(connID, docID string) (*Presence, []Emitter, bool) {
	r, ok := m.rooms[docID]
	if !ok {
		return nil, nil, false
	}
	mem, had := r.members[connID]
	delete(r.members, connID)
	if len(r.members) == 0 {
		delete(m.rooms, docID)
		if had {
			return &mem.presence, nil, true
		}
		return nil, nil, true
	}
	if !had {
		return nil, nil, false
	}
	return &mem.presence, m.peersOf(r, connID), false
}

// peersOf snapshots the emitters of every member except connID. Caller
// must hold m.mu.
func (m *Manager) peersOf(r *room, connID string) []Emitter {
	peers := make([]Emitter, 0, len(r.members))
	for id, mem := range r.members {
		if id != connID {
			peers = append(peers, mem.emitter)
		}
	}
	return peers
}

func (m *Manager) notifyLeft(left *Presence, peers []Emitter) {
	if left == nil {
		return
	}
	for _, peer := range peers {
		peer.Emit(EventUserLeft, UserLeftEvent{
			UserID:      left.UserID,
			DisplayName: left.DisplayName,
		})
	}
}
