package session

// Status is the connection state shown to the user.
type Status string

const (
	StatusIdle           Status = "idle"
	StatusConnecting     Status = "connecting"
	StatusAuthenticating Status = "authenticating"
	StatusConnected      Status = "connected"
	StatusGuest          Status = "guest"
	StatusReconnecting   Status = "reconnecting"
	StatusAuthFailed     Status = "auth_failed"
	StatusSessionLimit   Status = "session_limit"
	StatusFailed         Status = "failed"
	StatusClosed         Status = "closed"
)

// Seed is the persisted identity a Manager starts from.
type Seed struct {
	ClientID   string
	TabID      string
	UserToken  string
	GuestToken string
	SessionID  string
	Username   string
	Server     string
}

// AuthResult is the part of an authenticate response that mutates the session.
type AuthResult struct {
	IsGuest        bool
	IsAdmin        bool
	SessionID      string
	Username       string
	GuestToken     string
	GuestRemaining int
}
