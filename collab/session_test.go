package collab

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"collabpad/core"
)

// fakeStore is an in-memory DocumentStore that records every content write.
type fakeStore struct {
	mu     sync.Mutex
	docs   map[string]*core.Document
	writes []contentWrite
	fail   bool
}

type contentWrite struct {
	docID   string
	content string
	at      time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: make(map[string]*core.Document)}
}

func (s *fakeStore) addDocument(doc *core.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = doc
}

func (s *fakeStore) contentOf(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.docs[id]; ok {
		return doc.Content
	}
	return ""
}

func (s *fakeStore) writeCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, w := range s.writes {
		if w.docID == id {
			n++
		}
	}
	return n
}

func (s *fakeStore) List(ctx context.Context, userID string) ([]*core.Document, error) {
	return nil, nil
}

func (s *fakeStore) Get(ctx context.Context, id string) (*core.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, core.ErrDocumentNotFound
	}
	dup := *doc
	return &dup, nil
}

func (s *fakeStore) Create(ctx context.Context, doc *core.Document) (string, error) {
	s.addDocument(doc)
	return doc.ID, nil
}

func (s *fakeStore) Update(ctx context.Context, doc *core.Document) error {
	s.addDocument(doc)
	return nil
}

func (s *fakeStore) UpdateContent(ctx context.Context, id, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return fmt.Errorf("store write failed")
	}
	doc, ok := s.docs[id]
	if !ok {
		return core.ErrDocumentNotFound
	}
	doc.Content = content
	s.writes = append(s.writes, contentWrite{docID: id, content: content, at: time.Now()})
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	return nil
}

// fakeEmitter records everything emitted to one connection.
type fakeEmitter struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	name    string
	payload any
}

func (e *fakeEmitter) Emit(name string, payload any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, recordedEvent{name: name, payload: payload})
}

func (e *fakeEmitter) eventsOf(name string) []any {
	e.mu.Lock()
	defer e.mu.Unlock()
	var payloads []any
	for _, ev := range e.events {
		if ev.name == name {
			payloads = append(payloads, ev.payload)
		}
	}
	return payloads
}

func (e *fakeEmitter) count(name string) int {
	return len(e.eventsOf(name))
}

func setupManager(t *testing.T) (*Manager, *fakeStore, *SaveScheduler) {
	t.Helper()
	store := newFakeStore()
	saves := NewSaveScheduler(store, 40*time.Millisecond)
	t.Cleanup(saves.CancelAll)
	return NewManager(store, saves), store, saves
}

func ownedDocument(id, owner string, collaborators ...string) *core.Document {
	return &core.Document{
		ID:            id,
		OwnerID:       owner,
		Title:         "Test document",
		Content:       "initial",
		Collaborators: collaborators,
	}
}

func join(m *Manager, connID, docID, name string) *fakeEmitter {
	emitter := &fakeEmitter{}
	m.Register(connID, Identity{UserID: "user-" + connID, DisplayName: name}, emitter)
	m.Join(context.Background(), connID, docID, name)
	return emitter
}

func TestJoin_SendsRosterAndNotifiesPeers(t *testing.T) {
	m, store, _ := setupManager(t)
	store.addDocument(ownedDocument("doc-1", "user-a", "user-b"))

	aEmitter := join(m, "a", "doc-1", "Alice")

	lists := aEmitter.eventsOf(EventUsersList)
	if len(lists) != 1 {
		t.Fatalf("Expected 1 users-list for first joiner, got %d", len(lists))
	}
	if roster := lists[0].([]Presence); len(roster) != 0 {
		t.Errorf("First joiner should get an empty roster, got %d entries", len(roster))
	}

	bEmitter := join(m, "b", "doc-1", "Bob")

	joined := aEmitter.eventsOf(EventUserJoined)
	if len(joined) != 1 {
		t.Fatalf("Expected 1 user-joined at existing member, got %d", len(joined))
	}
	ev := joined[0].(UserJoinedEvent)
	if ev.UserID != "user-b" || ev.DisplayName != "Bob" {
		t.Errorf("user-joined carries wrong identity: %+v", ev)
	}
	if ev.Color == "" {
		t.Error("user-joined should carry an assigned color")
	}

	lists = bEmitter.eventsOf(EventUsersList)
	if len(lists) != 1 {
		t.Fatalf("Expected 1 users-list for second joiner, got %d", len(lists))
	}
	roster := lists[0].([]Presence)
	if len(roster) != 1 {
		t.Fatalf("Second joiner's roster should contain 1 peer, got %d", len(roster))
	}
	if roster[0].UserID != "user-a" {
		t.Errorf("Roster should contain the first joiner, got %q", roster[0].UserID)
	}
	if bEmitter.count(EventUserJoined) != 0 {
		t.Error("Joiner must not receive user-joined for itself")
	}
}

func TestJoin_DocumentNotFound(t *testing.T) {
	m, _, _ := setupManager(t)

	emitter := join(m, "a", "missing", "Alice")

	errs := emitter.eventsOf(EventError)
	if len(errs) != 1 {
		t.Fatalf("Expected 1 error event, got %d", len(errs))
	}
	if msg := errs[0].(ErrorEvent).Message; msg != "document not found" {
		t.Errorf("Wrong error message: %q", msg)
	}
	if m.RoomSize("missing") != 0 {
		t.Error("Failed join must not create a room")
	}
}

func TestJoin_AccessDenied(t *testing.T) {
	m, store, _ := setupManager(t)
	store.addDocument(ownedDocument("doc-1", "user-owner"))

	emitter := join(m, "x", "doc-1", "Mallory")

	errs := emitter.eventsOf(EventError)
	if len(errs) != 1 {
		t.Fatalf("Expected 1 error event, got %d", len(errs))
	}
	if msg := errs[0].(ErrorEvent).Message; msg != "access denied" {
		t.Errorf("Wrong error message: %q", msg)
	}
	if m.RoomSize("doc-1") != 0 {
		t.Error("Denied user must not be added to the roster")
	}
}

// gatedStore parks Get until released, exposing the window between the
// access check's store load and the room mutation.
type gatedStore struct {
	*fakeStore
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) Get(ctx context.Context, id string) (*core.Document, error) {
	s.entered <- struct{}{}
	<-s.release
	return s.fakeStore.Get(ctx, id)
}

func TestJoin_DisconnectDuringAccessCheckLeavesNoMember(t *testing.T) {
	store := &gatedStore{
		fakeStore: newFakeStore(),
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	store.addDocument(ownedDocument("doc-1", "user-a"))
	saves := NewSaveScheduler(store, 40*time.Millisecond)
	t.Cleanup(saves.CancelAll)
	m := NewManager(store, saves)

	emitter := &fakeEmitter{}
	m.Register("a", Identity{UserID: "user-a", DisplayName: "Alice"}, emitter)

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Join(context.Background(), "a", "doc-1", "Alice")
	}()

	// The connection drops while the join is parked inside the store load.
	<-store.entered
	m.Unregister("a")
	close(store.release)
	<-done

	if size := m.RoomSize("doc-1"); size != 0 {
		t.Errorf("Disconnect during the access check must not leave a room member, room size = %d", size)
	}
	if emitter.count(EventUsersList) != 0 {
		t.Error("Aborted join must not emit a roster")
	}
}

func TestEdit_BroadcastExcludesSender(t *testing.T) {
	m, store, _ := setupManager(t)
	store.addDocument(ownedDocument("doc-1", "user-a", "user-b", "user-c"))

	aEmitter := join(m, "a", "doc-1", "Alice")
	bEmitter := join(m, "b", "doc-1", "Bob")
	cEmitter := join(m, "c", "doc-1", "Carol")

	m.Edit("a", "doc-1", map[string]any{"insert": "Hi"}, "Hi")

	if aEmitter.count(EventTextChange) != 0 {
		t.Error("Sender must never receive its own edit back")
	}
	for name, em := range map[string]*fakeEmitter{"b": bEmitter, "c": cEmitter} {
		events := em.eventsOf(EventTextChange)
		if len(events) != 1 {
			t.Fatalf("Peer %s: expected 1 text-change, got %d", name, len(events))
		}
		ev := events[0].(TextChangeEvent)
		if ev.UserID != "user-a" || ev.Content != "Hi" {
			t.Errorf("Peer %s got wrong text-change: %+v", name, ev)
		}
	}
}

func TestEdit_WithoutPresenceIsDropped(t *testing.T) {
	m, store, _ := setupManager(t)
	store.addDocument(ownedDocument("doc-1", "user-a", "user-b"))

	aEmitter := join(m, "a", "doc-1", "Alice")

	// b registered but never joined the room.
	bEmitter := &fakeEmitter{}
	m.Register("b", Identity{UserID: "user-b", DisplayName: "Bob"}, bEmitter)
	m.Edit("b", "doc-1", nil, "sneaky")

	if aEmitter.count(EventTextChange) != 0 {
		t.Error("Edit from a non-member must not be broadcast")
	}
	time.Sleep(80 * time.Millisecond)
	if got := store.contentOf("doc-1"); got != "initial" {
		t.Errorf("Edit from a non-member must not be persisted, content is %q", got)
	}
}

func TestCursor_RelayedWithPresence(t *testing.T) {
	m, store, _ := setupManager(t)
	store.addDocument(ownedDocument("doc-1", "user-a", "user-b"))

	aEmitter := join(m, "a", "doc-1", "Alice")
	join(m, "b", "doc-1", "Bob")

	m.Cursor("b", "doc-1", float64(42))

	events := aEmitter.eventsOf(EventCursorMove)
	if len(events) != 1 {
		t.Fatalf("Expected 1 cursor-move at peer, got %d", len(events))
	}
	ev := events[0].(CursorMoveEvent)
	if ev.UserID != "user-b" || ev.DisplayName != "Bob" || ev.Color == "" {
		t.Errorf("cursor-move missing sender presence: %+v", ev)
	}
	if ev.Position != float64(42) {
		t.Errorf("cursor-move carries wrong position: %v", ev.Position)
	}
}

func TestCursor_DroppedWithoutPresence(t *testing.T) {
	m, store, _ := setupManager(t)
	store.addDocument(ownedDocument("doc-1", "user-a", "user-b"))

	aEmitter := join(m, "a", "doc-1", "Alice")

	bEmitter := &fakeEmitter{}
	m.Register("b", Identity{UserID: "user-b", DisplayName: "Bob"}, bEmitter)
	m.Cursor("b", "doc-1", 10)

	if aEmitter.count(EventCursorMove) != 0 {
		t.Error("Cursor event before join must be silently dropped")
	}
	if bEmitter.count(EventError) != 0 {
		t.Error("Dropped cursor event must not produce an error event")
	}
}

func TestSave_WritesImmediatelyAndNotifiesRoom(t *testing.T) {
	m, store, _ := setupManager(t)
	store.addDocument(ownedDocument("doc-1", "user-a", "user-b"))

	aEmitter := join(m, "a", "doc-1", "Alice")
	bEmitter := join(m, "b", "doc-1", "Bob")

	m.Save(context.Background(), "a", "doc-1", "Hello")

	if got := store.contentOf("doc-1"); got != "Hello" {
		t.Errorf("Explicit save must write immediately, content is %q", got)
	}

	acks := aEmitter.eventsOf(EventDocumentSaved)
	if len(acks) != 1 {
		t.Fatalf("Expected 1 document-saved ack at saver, got %d", len(acks))
	}
	ack := acks[0].(DocumentSavedEvent)
	if !ack.Success || ack.Timestamp == nil {
		t.Errorf("Successful save ack should carry success and timestamp: %+v", ack)
	}
	if bEmitter.count(EventDocumentSaved) != 1 {
		t.Error("Room members should be notified of a successful save")
	}
}

func TestSave_FailureOnlyAcksSender(t *testing.T) {
	m, store, _ := setupManager(t)
	store.addDocument(ownedDocument("doc-1", "user-a", "user-b"))

	aEmitter := join(m, "a", "doc-1", "Alice")
	bEmitter := join(m, "b", "doc-1", "Bob")

	store.mu.Lock()
	store.fail = true
	store.mu.Unlock()

	m.Save(context.Background(), "a", "doc-1", "Hello")

	acks := aEmitter.eventsOf(EventDocumentSaved)
	if len(acks) != 1 {
		t.Fatalf("Expected 1 document-saved ack at saver, got %d", len(acks))
	}
	if acks[0].(DocumentSavedEvent).Success {
		t.Error("Failed save must ack with success=false")
	}
	if bEmitter.count(EventDocumentSaved) != 0 {
		t.Error("Failed save must not notify the rest of the room")
	}
}

func TestLeave_NotifiesPeersAndDeletesEmptyRoom(t *testing.T) {
	m, store, _ := setupManager(t)
	store.addDocument(ownedDocument("doc-1", "user-a", "user-b", "user-c"))

	aEmitter := join(m, "a", "doc-1", "Alice")
	join(m, "b", "doc-1", "Bob")

	m.Leave("b", "doc-1")

	left := aEmitter.eventsOf(EventUserLeft)
	if len(left) != 1 {
		t.Fatalf("Expected 1 user-left, got %d", len(left))
	}
	ev := left[0].(UserLeftEvent)
	if ev.UserID != "user-b" || ev.DisplayName != "Bob" {
		t.Errorf("user-left carries wrong identity: %+v", ev)
	}
	if m.RoomSize("doc-1") != 1 {
		t.Errorf("Room should have 1 member left, got %d", m.RoomSize("doc-1"))
	}

	m.Leave("a", "doc-1")
	if m.RoomSize("doc-1") != 0 {
		t.Error("Room must be deleted when the last member leaves")
	}

	// A fresh join recreates the room with an empty roster.
	cEmitter := join(m, "c", "doc-1", "Carol")
	if cEmitter.count(EventUserJoined) != 0 {
		t.Error("Fresh room must not replay old membership")
	}
	lists := cEmitter.eventsOf(EventUsersList)
	if len(lists) != 1 {
		t.Fatalf("Expected 1 users-list for fresh joiner, got %d", len(lists))
	}
	if roster := lists[0].([]Presence); len(roster) != 0 {
		t.Errorf("Fresh room roster should be empty, got %d entries", len(roster))
	}
}

func TestLeave_WithoutPresenceIsNoop(t *testing.T) {
	m, store, _ := setupManager(t)
	store.addDocument(ownedDocument("doc-1", "user-a", "user-b"))

	aEmitter := join(m, "a", "doc-1", "Alice")

	bEmitter := &fakeEmitter{}
	m.Register("b", Identity{UserID: "user-b", DisplayName: "Bob"}, bEmitter)
	m.Leave("b", "doc-1")

	if aEmitter.count(EventUserLeft) != 0 {
		t.Error("Leave without presence must not notify anyone")
	}
	if m.RoomSize("doc-1") != 1 {
		t.Error("Leave without presence must not change the roster")
	}
}

func TestUnregister_ReapsAllRooms(t *testing.T) {
	m, store, saves := setupManager(t)
	store.addDocument(ownedDocument("doc-1", "user-a", "user-b"))
	store.addDocument(ownedDocument("doc-2", "user-a"))

	// a is alone in doc-2 and shares doc-1 with b.
	aEmitter := &fakeEmitter{}
	m.Register("a", Identity{UserID: "user-a", DisplayName: "Alice"}, aEmitter)
	m.Join(context.Background(), "a", "doc-1", "Alice")
	m.Join(context.Background(), "a", "doc-2", "Alice")
	bEmitter := join(m, "b", "doc-1", "Bob")

	m.Edit("a", "doc-1", nil, "shared edit")
	m.Edit("a", "doc-2", nil, "solo edit")

	m.Unregister("a")

	left := bEmitter.eventsOf(EventUserLeft)
	if len(left) != 1 {
		t.Fatalf("Expected 1 user-left at remaining peer, got %d", len(left))
	}
	if m.RoomSize("doc-2") != 0 {
		t.Error("Room emptied by disconnect must be deleted")
	}
	if m.RoomSize("doc-1") != 1 {
		t.Error("Room with remaining members must survive the disconnect")
	}

	// The emptied room's pending autosave is discarded; the shared room's
	// pending autosave survives and flushes.
	if saves.Pending("doc-2") {
		t.Error("Pending save for emptied room should be cancelled")
	}
	if !saves.Pending("doc-1") {
		t.Error("Pending save for room with remaining members should survive")
	}

	time.Sleep(80 * time.Millisecond)
	if got := store.contentOf("doc-1"); got != "shared edit" {
		t.Errorf("Surviving pending save should flush, content is %q", got)
	}
	if got := store.contentOf("doc-2"); got != "initial" {
		t.Errorf("Cancelled pending save must not flush, content is %q", got)
	}
}

func TestUnregister_UnknownConnectionIsNoop(t *testing.T) {
	m, _, _ := setupManager(t)
	m.Unregister("ghost") // must not panic
}
