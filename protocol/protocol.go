// Package protocol defines the relay wire format: one JSON object per line,
// terminated by '\n'. Clients send commands (a "cmd" field); the server
// answers with notifications (a "type" field).
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Command names sent by clients.
const (
	CmdLogin    = "login"
	CmdMsg      = "msg"
	CmdRegister = "register"
	CmdAuth     = "auth"
)

// Notification types sent by the server.
const (
	TypeLoginOK    = "login_ok"
	TypeMsg        = "msg"
	TypeError      = "error"
	TypeRegisterOK = "register_ok"
	TypeAuthOK     = "auth_ok"
)

// Error messages returned to clients for protocol mistakes.
const (
	ErrMsgNoCmd          = "no cmd field"
	ErrMsgUnknownCmd     = "unknown cmd"
	ErrMsgInvalidMsg     = "invalid msg format"
	ErrMsgInvalidLogin   = "invalid login format"
	ErrMsgInvalidAuth    = "invalid auth format"
	ErrMsgUnauthorized   = "unauthorized"
	ErrMsgParsePrefix    = "json parse error: "
	ErrMsgRegisterFailed = "register failed"
)

// ErrEmptyFrame is returned by DecodeCommand for a line with no content.
var ErrEmptyFrame = errors.New("empty frame")

// Command is a decoded client frame. Pointer fields distinguish an absent
// field from an empty string.
type Command struct {
	Cmd      *string `json:"cmd"`
	User     *string `json:"user"`
	Token    *string `json:"token"`
	To       *string `json:"to"`
	Body     *string `json:"body"`
	Email    *string `json:"email"`
	Nick     *string `json:"nick"`
	Password *string `json:"password"`
}

// Name returns the command name, or "" when the cmd field is absent.
func (c *Command) Name() string {
	if c.Cmd == nil {
		return ""
	}

	return *c.Cmd
}

// Notification is a server frame. Only the fields belonging to Type are
// serialized, so empty strings such as an empty body survive the trip.
type Notification struct {
	Type    string
	User    string
	UserID  string
	Token   string
	From    string
	Body    string
	Message string
}

// LoginOK builds a login_ok notification.
func LoginOK(user string) Notification {
	return Notification{Type: TypeLoginOK, User: user}
}

// Msg builds an incoming message notification.
func Msg(from, body string) Notification {
	return Notification{Type: TypeMsg, From: from, Body: body}
}

// Error builds an error notification.
func Error(message string) Notification {
	return Notification{Type: TypeError, Message: message}
}

// RegisterOK builds a register_ok notification.
func RegisterOK(userID string) Notification {
	return Notification{Type: TypeRegisterOK, UserID: userID}
}

// AuthOK builds an auth_ok notification.
func AuthOK(token string) Notification {
	return Notification{Type: TypeAuthOK, Token: token}
}

// MarshalJSON implements json.Marshaler.
func (n Notification) MarshalJSON() ([]byte, error) {
	switch n.Type {
	case TypeLoginOK:
		return json.Marshal(struct {
			Type string `json:"type"`
			User string `json:"user"`
		}{n.Type, n.User})
	case TypeMsg:
		return json.Marshal(struct {
			Type string `json:"type"`
			From string `json:"from"`
			Body string `json:"body"`
		}{n.Type, n.From, n.Body})
	case TypeError:
		return json.Marshal(struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}{n.Type, n.Message})
	case TypeRegisterOK:
		return json.Marshal(struct {
			Type   string `json:"type"`
			UserID string `json:"user_id"`
		}{n.Type, n.UserID})
	case TypeAuthOK:
		return json.Marshal(struct {
			Type  string `json:"type"`
			Token string `json:"token"`
		}{n.Type, n.Token})
	default:
		return nil, fmt.Errorf("unknown notification type %q", n.Type)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Notification) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type    string `json:"type"`
		User    string `json:"user"`
		UserID  string `json:"user_id"`
		Token   string `json:"token"`
		From    string `json:"from"`
		Body    string `json:"body"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*n = Notification(raw)
	return nil
}

// TrimFrame strips the line terminator, tolerating a trailing "\r".
func TrimFrame(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r"))
}

// DecodeCommand parses one client frame.
//
// Parameters:
//   - line: A single frame, with or without its terminator
//
// Returns:
//   - The decoded command
//   - ErrEmptyFrame for a blank line, or the JSON error for malformed input
func DecodeCommand(line []byte) (*Command, error) {
	line = TrimFrame(line)
	if len(bytes.TrimSpace(line)) == 0 {
		return nil, ErrEmptyFrame
	}

	var c Command
	if err := json.Unmarshal(line, &c); err != nil {
		return nil, err
	}

	return &c, nil
}

// DecodeNotification parses one server frame.
func DecodeNotification(line []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(TrimFrame(line), &n); err != nil {
		return Notification{}, err
	}

	return n, nil
}

// Encode serializes v as a frame, including the trailing newline.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	return append(data, '\n'), nil
}

// LoginCommand builds a login frame. An empty token is omitted.
func LoginCommand(user, token string) ([]byte, error) {
	cmd := map[string]string{"cmd": CmdLogin, "user": user}
	if token != "" {
		cmd["token"] = token
	}

	return Encode(cmd)
}

// MsgCommand builds a msg frame.
func MsgCommand(to, body string) ([]byte, error) {
	return Encode(map[string]string{"cmd": CmdMsg, "to": to, "body": body})
}

// RegisterCommand builds a register frame.
func RegisterCommand(email, nick, password string) ([]byte, error) {
	return Encode(map[string]string{"cmd": CmdRegister, "email": email, "nick": nick, "password": password})
}

// AuthCommand builds an auth frame.
func AuthCommand(email, password string) ([]byte, error) {
	return Encode(map[string]string{"cmd": CmdAuth, "email": email, "password": password})
}
