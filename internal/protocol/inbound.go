package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformed marks frames that cannot be decoded into a known variant.
var ErrMalformed = errors.New("malformed envelope")

// Inbound is the closed set of server messages. Every variant is declared in
// this file; Unknown carries anything else.
type Inbound interface {
	Type() MessageType
	inbound()
}

type envelope struct {
	Type      MessageType     `json:"msg_type"`
	ID        string          `json:"msg_id"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

type ConversationMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type AuthUser struct {
	Username string `json:"username"`
}

type AuthResponse struct {
	Success                bool                  `json:"success"`
	Error                  string                `json:"error"`
	Message                string                `json:"message"`
	IsGuest                bool                  `json:"is_guest"`
	IsAdmin                bool                  `json:"is_admin"`
	SessionID              string                `json:"rhodes_id"`
	Token                  string                `json:"token"`
	User                   *AuthUser             `json:"user"`
	GuestMessagesRemaining *int                  `json:"guest_messages_remaining"`
	Conversation           []ConversationMessage `json:"conversation"`
}

type Chunk struct {
	ReqID   string `json:"req_id"`
	Content string `json:"content"`
}

type Final struct {
	ReqID   string `json:"req_id"`
	Content string `json:"content"`
	RoomID  string `json:"room_id"`
	Speaker string `json:"speaker"`
	Model   string `json:"model"`
}

type ToolCall struct {
	ReqID      string          `json:"req_id"`
	Name       string          `json:"name"`
	Round      FlexInt         `json:"round"`
	Status     string          `json:"status"`
	Arguments  map[string]any  `json:"arguments"`
	Result     json.RawMessage `json:"result"`
	DurationMS *int64          `json:"duration_ms"`
}

type ReasoningChunk struct {
	ReqID   string `json:"req_id"`
	Content string `json:"content"`
}

type GuestStatus struct {
	LimitReached bool   `json:"limit_reached"`
	Remaining    *int   `json:"messages_remaining"`
	Message      string `json:"message"`
}

type RegisterResponse struct {
	Success  bool   `json:"success"`
	Token    string `json:"token"`
	Username string `json:"username"`
	Message  string `json:"message"`
	Error    string `json:"error"`
}

type LoginResponse struct {
	Success   bool   `json:"success"`
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Error     string `json:"error"`
}

type SessionResumeResponse struct {
	Success      bool                  `json:"success"`
	SessionID    string                `json:"session_id"`
	RhodesID     string                `json:"rhodes_id"`
	Conversation []ConversationMessage `json:"conversation"`
	MessageCount int                   `json:"message_count"`
	Model        string                `json:"model"`
	Error        string                `json:"error"`
}

type SessionNewResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
	Error     string `json:"error"`
}

type SessionSummary struct {
	SessionID    string `json:"session_id"`
	Title        string `json:"title"`
	Model        string `json:"model"`
	MessageCount int    `json:"message_count"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

type SessionListResponse struct {
	Success  bool             `json:"success"`
	Sessions []SessionSummary `json:"sessions"`
	Error    string           `json:"error"`
}

type ModelSetResponse struct {
	Success bool   `json:"success"`
	Model   string `json:"model"`
	Error   string `json:"error"`
}

type SessionRotated struct {
	NewSessionID string `json:"new_session_id"`
	RhodesID     string `json:"rhodes_id"`
	Reason       string `json:"reason"`
	Model        string `json:"model"`
}

type InterruptAck struct {
	Reason string `json:"reason"`
}

type ErrorMessage struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type UserMessageSync struct {
	Sync        bool   `json:"sync"`
	OriginTabID string `json:"origin_tab_id"`
	Content     string `json:"content"`
}

type RoomMember struct {
	Username string `json:"username"`
}

type RoomHistoryMessage struct {
	MsgID    string `json:"msg_id"`
	Role     string `json:"role"`
	Username string `json:"username"`
	Content  string `json:"content"`
}

type RoomResponse struct {
	Kind     MessageType          `json:"-"`
	Success  bool                 `json:"success"`
	RoomID   string               `json:"room_id"`
	Members  []RoomMember         `json:"members"`
	Messages []RoomHistoryMessage `json:"messages"`
	Error    string               `json:"error"`
}

type RoomMessage struct {
	MsgID    string `json:"msg_id"`
	RoomID   string `json:"room_id"`
	Username string `json:"username"`
	Content  string `json:"content"`
}

type VoiceLanguageHint struct {
	Language string `json:"language"`
}

type SystemMessage struct {
	Content string `json:"content"`
}

// Unknown is any envelope whose type this client does not handle.
type Unknown struct {
	Kind MessageType
}

func (AuthResponse) Type() MessageType          { return TypeAuthResponse }
func (Chunk) Type() MessageType                 { return TypeAIMessageChunk }
func (Final) Type() MessageType                 { return TypeAIMessage }
func (ToolCall) Type() MessageType              { return TypeToolCall }
func (ReasoningChunk) Type() MessageType        { return TypeReasoningChunk }
func (GuestStatus) Type() MessageType           { return TypeGuestStatus }
func (RegisterResponse) Type() MessageType      { return TypeRegisterResponse }
func (LoginResponse) Type() MessageType         { return TypeLoginResponse }
func (SessionResumeResponse) Type() MessageType { return TypeSessionResumeResponse }
func (SessionNewResponse) Type() MessageType    { return TypeSessionNewResponse }
func (SessionListResponse) Type() MessageType   { return TypeSessionListResponse }
func (ModelSetResponse) Type() MessageType      { return TypeModelSetResponse }
func (SessionRotated) Type() MessageType        { return TypeSessionRotated }
func (InterruptAck) Type() MessageType          { return TypeInterruptAck }
func (ErrorMessage) Type() MessageType          { return TypeError }
func (UserMessageSync) Type() MessageType       { return TypeUserMessage }
func (r RoomResponse) Type() MessageType        { return r.Kind }
func (RoomMessage) Type() MessageType           { return TypeRoomMessage }
func (VoiceLanguageHint) Type() MessageType     { return TypeVoiceLanguageHint }
func (SystemMessage) Type() MessageType         { return TypeSystemMessage }
func (u Unknown) Type() MessageType             { return u.Kind }

func (AuthResponse) inbound()          {}
func (Chunk) inbound()                 {}
func (Final) inbound()                 {}
func (ToolCall) inbound()              {}
func (ReasoningChunk) inbound()        {}
func (GuestStatus) inbound()           {}
func (RegisterResponse) inbound()      {}
func (LoginResponse) inbound()         {}
func (SessionResumeResponse) inbound() {}
func (SessionNewResponse) inbound()    {}
func (SessionListResponse) inbound()   {}
func (ModelSetResponse) inbound()      {}
func (SessionRotated) inbound()        {}
func (InterruptAck) inbound()          {}
func (ErrorMessage) inbound()          {}
func (UserMessageSync) inbound()       {}
func (RoomResponse) inbound()          {}
func (RoomMessage) inbound()           {}
func (VoiceLanguageHint) inbound()     {}
func (SystemMessage) inbound()         {}
func (Unknown) inbound()               {}

// Decode parses one frame. Bad JSON, a missing type, or a known type whose
// payload does not decode all return an error wrapping ErrMalformed.
func Decode(raw []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing msg_type", ErrMalformed)
	}

	switch env.Type {
	case TypeAuthResponse:
		return decodeAs[AuthResponse](env)
	case TypeAIMessageChunk:
		return decodeAs[Chunk](env)
	case TypeAIMessage:
		return decodeAs[Final](env)
	case TypeToolCall:
		msg, err := decodePayload[ToolCall](env)
		if err != nil {
			return nil, err
		}
		if msg.Name == "" {
			msg.Name = "unknown"
		}
		if msg.Status == "" {
			msg.Status = "complete"
		}
		return msg, nil
	case TypeReasoningChunk:
		return decodeAs[ReasoningChunk](env)
	case TypeGuestStatus:
		return decodeAs[GuestStatus](env)
	case TypeRegisterResponse:
		return decodeAs[RegisterResponse](env)
	case TypeLoginResponse:
		return decodeAs[LoginResponse](env)
	case TypeSessionResumeResponse:
		return decodeAs[SessionResumeResponse](env)
	case TypeSessionNewResponse:
		return decodeAs[SessionNewResponse](env)
	case TypeSessionListResponse:
		return decodeAs[SessionListResponse](env)
	case TypeModelSetResponse:
		return decodeAs[ModelSetResponse](env)
	case TypeSessionRotated:
		return decodeAs[SessionRotated](env)
	case TypeInterruptAck:
		return decodeAs[InterruptAck](env)
	case TypeError:
		return decodeAs[ErrorMessage](env)
	case TypeUserMessage:
		return decodeAs[UserMessageSync](env)
	case TypeRoomCreateResponse, TypeRoomJoinResponse, TypeRoomLeaveResponse:
		msg, err := decodePayload[RoomResponse](env)
		if err != nil {
			return nil, err
		}
		msg.Kind = env.Type
		return msg, nil
	case TypeRoomMessage:
		msg, err := decodePayload[RoomMessage](env)
		if err != nil {
			return nil, err
		}
		if env.ID != "" {
			msg.MsgID = env.ID
		}
		return msg, nil
	case TypeVoiceLanguageHint:
		return decodeAs[VoiceLanguageHint](env)
	case TypeSystemMessage:
		return decodeAs[SystemMessage](env)
	default:
		return Unknown{Kind: env.Type}, nil
	}
}

func decodeAs[T Inbound](env envelope) (Inbound, error) {
	msg, err := decodePayload[T](env)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func decodePayload[T any](env envelope) (T, error) {
	var msg T
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return msg, nil
	}
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		return msg, fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.Type, err)
	}
	return msg, nil
}

// FlexInt accepts a JSON number or numeric string.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = FlexInt(n)
	return nil
}

// ResultText returns the tool result as display text: a JSON string is
// unquoted, anything else is returned as raw JSON.
func (t ToolCall) ResultText() string {
	if len(t.Result) == 0 || string(t.Result) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(t.Result, &s); err == nil {
		return s
	}
	return string(t.Result)
}
