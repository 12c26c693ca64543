// Package protocol defines the wire envelope spoken with the Rhodes server:
// outbound commands and the closed set of inbound message variants.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies envelope variants in both directions.
type MessageType string

const (
	// Outbound.
	TypeAuthRequest           MessageType = "auth_request"
	TypeUserMessage           MessageType = "user_message"
	TypeInterrupt             MessageType = "interrupt"
	TypeSessionResumeRequest  MessageType = "session_resume_request"
	TypeSessionListRequest    MessageType = "session_list_request"
	TypeRegisterRequest       MessageType = "register_request"
	TypeLoginRequest          MessageType = "login_request"
	TypeModelSetRequest       MessageType = "model_set_request"
	TypeRoomMessageRequest    MessageType = "room_message_request"
	TypeRoomPersonalAIRequest MessageType = "room_personal_ai_request"
	TypeRoomJoinRequest       MessageType = "room_join_request"
	TypeRoomLeaveRequest      MessageType = "room_leave_request"
	TypeRoomCreateRequest     MessageType = "room_create_request"
	TypeSystemMessage         MessageType = "system_message"

	// Inbound.
	TypeAuthResponse          MessageType = "auth_response"
	TypeAIMessageChunk        MessageType = "ai_message_chunk"
	TypeAIMessage             MessageType = "ai_message"
	TypeToolCall              MessageType = "tool_call"
	TypeReasoningChunk        MessageType = "reasoning_chunk"
	TypeGuestStatus           MessageType = "guest_status"
	TypeRegisterResponse      MessageType = "register_response"
	TypeLoginResponse         MessageType = "login_response"
	TypeSessionResumeResponse MessageType = "session_resume_response"
	TypeSessionNewResponse    MessageType = "session_new_response"
	TypeSessionListResponse   MessageType = "session_list_response"
	TypeModelSetResponse      MessageType = "model_set_response"
	TypeSessionRotated        MessageType = "session_rotated"
	TypeInterruptAck          MessageType = "interrupt_ack"
	TypeError                 MessageType = "error"
	TypeRoomCreateResponse    MessageType = "room_create_response"
	TypeRoomJoinResponse      MessageType = "room_join_response"
	TypeRoomLeaveResponse     MessageType = "room_leave_response"
	TypeRoomMessage           MessageType = "room_message"
	TypeVoiceLanguageHint     MessageType = "voice_language_hint"
)

// ContinuationPrompt asks the server to resume a reply cut by a reconnect.
const ContinuationPrompt = "[server just restarted, please continue generation]"

// Command is an outbound envelope.
type Command struct {
	Type      MessageType `json:"msg_type"`
	ID        string      `json:"msg_id"`
	Timestamp string      `json:"timestamp"`
	Payload   any         `json:"payload"`
}

// NewCommand stamps a payload with a fresh id and the current time.
func NewCommand(t MessageType, payload any) Command {
	return Command{
		Type:      t,
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	}
}

// Encode marshals the command for the wire.
func (c Command) Encode() ([]byte, error) {
	return json.Marshal(c)
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Runtime string `json:"runtime"`
}

type AuthRequest struct {
	ClientID      string     `json:"client_id"`
	TabID         string     `json:"tab_id"`
	Token         string     `json:"token,omitempty"`
	UserToken     string     `json:"user_token,omitempty"`
	ResumeSession string     `json:"resume_session,omitempty"`
	ClientVersion string     `json:"client_version"`
	Platform      string     `json:"platform"`
	Hostname      string     `json:"hostname,omitempty"`
	System        SystemInfo `json:"system"`
}

type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type UserMessage struct {
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments"`
	AudioOutput bool         `json:"audio_output"`
	Stream      bool         `json:"stream"`
	VoiceMode   bool         `json:"voice_mode,omitempty"`
	HandsFree   bool         `json:"handsfree,omitempty"`
}

type Interrupt struct {
	Reason string `json:"reason"`
}

type SessionResumeRequest struct {
	SessionID string `json:"session_id"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type ModelSetRequest struct {
	Model string `json:"model"`
}

type RoomMessageRequest struct {
	RoomID  string `json:"room_id"`
	Content string `json:"content"`
}

type RoomRequest struct {
	RoomID string `json:"room_id,omitempty"`
}

type RoomCreateRequest struct {
	Name *string `json:"name"`
}

type SystemMessageRequest struct {
	Content string `json:"content"`
	Stream  bool   `json:"stream"`
}

// NewUserMessage builds a user_message. The command id doubles as the
// request id that later chunks and finals are correlated against.
func NewUserMessage(msg UserMessage) Command {
	if msg.Attachments == nil {
		msg.Attachments = []Attachment{}
	}
	msg.Stream = true
	return NewCommand(TypeUserMessage, msg)
}

func NewInterrupt(reason string) Command {
	if reason == "" {
		reason = "stop"
	}
	return NewCommand(TypeInterrupt, Interrupt{Reason: reason})
}

func NewContinuation() Command {
	return NewCommand(TypeSystemMessage, SystemMessageRequest{Content: ContinuationPrompt, Stream: true})
}

func NewSessionListRequest() Command {
	return NewCommand(TypeSessionListRequest, struct{}{})
}
