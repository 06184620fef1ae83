package imap

// State is the lifecycle position of a Session.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateFolderSelected
	StateFetching
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateFolderSelected:
		return "folder-selected"
	case StateFetching:
		return "fetching"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
