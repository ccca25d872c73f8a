package registry

// SessionState is the lifecycle position of one forwarding session.
// Sessions live only in memory; no persisted reference survives restart.
type SessionState string

const (
	SessionConnecting   SessionState = "connecting"
	SessionConnected    SessionState = "connected"
	SessionDisconnected SessionState = "disconnected"
	SessionReconnecting SessionState = "reconnecting"
	SessionStopped      SessionState = "stopped"
	SessionFailed       SessionState = "failed"
)

// sessionTransitions is the session state machine. Stopped and Failed are
// terminal.
var sessionTransitions = map[SessionState][]SessionState{
	SessionConnecting:   {SessionConnected, SessionDisconnected, SessionFailed},
	SessionConnected:    {SessionDisconnected, SessionStopped},
	SessionDisconnected: {SessionReconnecting, SessionStopped, SessionFailed},
	SessionReconnecting: {SessionConnected, SessionFailed},
}

// CanTransitionSession reports whether from -> to is a permitted session transition
func CanTransitionSession(from, to SessionState) bool {
	for _, next := range sessionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a session state admits no further transitions
func (s SessionState) IsTerminal() bool {
	return s == SessionStopped || s == SessionFailed
}
