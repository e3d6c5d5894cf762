package tool

// Button is a pointer button
type Button int

const (
	ButtonNone Button = iota
	ButtonLeft
	ButtonRight
	ButtonMiddle
)

// Mods is a set of held modifier keys
type Mods uint8

const (
	Shift Mods = 1 << iota
	Ctrl
	Alt
)

// Has reports whether every modifier in m2 is held
func (m Mods) Has(m2 Mods) bool { return m&m2 == m2 }

// Event is one input event for the editor
type Event interface {
	isEvent()
}

type PointerDown struct {
	Pos    Point
	Button Button
	Mods   Mods
}

type PointerMove struct {
	Pos  Point
	Mods Mods
}

type PointerUp struct {
	Pos    Point
	Button Button
	Mods   Mods
}

// Scroll delta is in notches, positive away from the user
type Scroll struct {
	Pos   Point
	Delta int
	Mods  Mods
}

// Key is a key press named the way the terminal frontend names it
type Key struct {
	Key string
}

func (PointerDown) isEvent() {}
func (PointerMove) isEvent() {}
func (PointerUp) isEvent()   {}
func (Scroll) isEvent()      {}
func (Key) isEvent()         {}
