package tui

import (
	"dieseq/project"
	"dieseq/sequencer"
	"dieseq/timeline"
	"dieseq/tool"
)

// Session ties a document path to the live store, player and editor
type Session struct {
	Path   string
	Store  *timeline.Store
	Player *sequencer.Scheduler
	Editor *tool.Editor
}

// NewSession builds the editor for store. The editor saves through the
// session, so "s" writes to path.
func NewSession(path string, store *timeline.Store, player *sequencer.Scheduler) *Session {
	s := &Session{Path: path, Store: store, Player: player}
	s.Editor = tool.NewEditor(store, player, s)
	return s
}

// Restore applies the saved playhead and viewport of a loaded document
func (s *Session) Restore(doc *project.Document) {
	if !doc.Position.IsZero() {
		s.Player.Seek(doc.Position)
	}
	if v := doc.View; v != nil && v.PxPerBeat > 0 {
		s.Editor.View = tool.Viewport{Left: v.Left, Top: v.Top, PxPerBeat: v.PxPerBeat, PxPerStep: v.PxPerStep}
	}
}

// Document captures everything that is saved. Only call it from the
// goroutine driving the editor.
func (s *Session) Document() *project.Document {
	v := s.Editor.View
	doc := s.Snapshot()
	doc.View = &project.View{Left: v.Left, Top: v.Top, PxPerBeat: v.PxPerBeat, PxPerStep: v.PxPerStep}
	return doc
}

// Snapshot is the document without the viewport; safe from any goroutine
func (s *Session) Snapshot() *project.Document {
	return &project.Document{
		Timeline: s.Store.Snapshot(),
		Position: s.Player.Transport().Position,
	}
}

// Save writes the document to the session path
func (s *Session) Save() error {
	return project.Save(s.Path, s.Document())
}
