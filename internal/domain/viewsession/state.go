package viewsession

// State is the lifecycle state of a session.
type State string

const (
	StateConnecting State = "CONNECTING"
	StateOpen       State = "OPEN"
	StateError      State = "ERROR"
	StateClosed     State = "CLOSED"
)

// ChangeKind identifies what a Change describes.
type ChangeKind string

const (
	ChangeInserted ChangeKind = "inserted"
	ChangeReplaced ChangeKind = "replaced"
	ChangeRemoved  ChangeKind = "removed"
	ChangeState    ChangeKind = "state"
)

// Change is one mutation of the view, delivered to the Listener in mutation order.
//
// For inserted entries Index is the new position. For replaced entries PrevIndex
// is the position before the replacement and Index the position after it. For
// removed entries Index is the position the entry held.
type Change struct {
	Kind      ChangeKind
	Entry     Entry
	Index     int
	PrevIndex int
	State     State
	Err       error
}

// Listener observes a session. It is called serially and must not call
// mutating session methods (Send, OnEvent, Backfill, Close).
type Listener func(Change)
