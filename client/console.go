package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/cyberinferno/go-relay/protocol"
)

// ActionKind identifies a parsed console line.
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionLogin
	ActionMsg
	ActionRegister
	ActionAuth
	ActionQuit
	ActionHelp
)

// Action is one console line parsed into a client call.
type Action struct {
	Kind     ActionKind
	User     string
	To       string
	Body     string
	Email    string
	Password string
}

var (
	ErrUnknownCommand = errors.New("unknown command, type /help")
	ErrUsage          = errors.New("usage")
)

const helpText = `Commands:
  /login <username>
  /msg <to> <message>
  /register <email> <nick> <password>
  /auth <email> <password>
  /quit
  /help
`

// ParseLine turns a console line into an Action. Blank lines yield ActionNone.
// Errors wrap ErrUsage or ErrUnknownCommand and carry a message fit for the user.
func ParseLine(line string) (Action, error) {
	line = strings.TrimLeft(strings.TrimRight(line, "\r\n"), " \t")
	if strings.TrimSpace(line) == "" {
		return Action{Kind: ActionNone}, nil
	}

	switch {
	case line == "/quit":
		return Action{Kind: ActionQuit}, nil
	case line == "/help":
		return Action{Kind: ActionHelp}, nil
	case strings.HasPrefix(line, "/login "):
		user := strings.TrimSpace(strings.TrimPrefix(line, "/login "))
		if user == "" {
			return Action{}, fmt.Errorf("%w: /login <username>", ErrUsage)
		}
		return Action{Kind: ActionLogin, User: user}, nil
	case strings.HasPrefix(line, "/msg "):
		rest := strings.TrimLeft(strings.TrimPrefix(line, "/msg "), " \t")
		to, body, _ := strings.Cut(rest, " ")
		if to == "" {
			return Action{}, fmt.Errorf("%w: /msg <to> <message>", ErrUsage)
		}
		return Action{Kind: ActionMsg, To: to, Body: body}, nil
	case strings.HasPrefix(line, "/register "):
		fields := strings.Fields(strings.TrimPrefix(line, "/register "))
		if len(fields) != 3 {
			return Action{}, fmt.Errorf("%w: /register <email> <nick> <password>", ErrUsage)
		}
		return Action{Kind: ActionRegister, Email: fields[0], User: fields[1], Password: fields[2]}, nil
	case strings.HasPrefix(line, "/auth "):
		fields := strings.Fields(strings.TrimPrefix(line, "/auth "))
		if len(fields) != 2 {
			return Action{}, fmt.Errorf("%w: /auth <email> <password>", ErrUsage)
		}
		return Action{Kind: ActionAuth, Email: fields[0], Password: fields[1]}, nil
	default:
		return Action{}, ErrUnknownCommand
	}
}

// FormatNotification renders a server notification for the console.
func FormatNotification(n protocol.Notification, raw []byte) string {
	switch n.Type {
	case protocol.TypeMsg:
		return fmt.Sprintf("[%s] %s", n.From, n.Body)
	case protocol.TypeLoginOK:
		return "[system] logged in as " + n.User
	case protocol.TypeError:
		return "[server error] " + n.Message
	case protocol.TypeRegisterOK:
		return "[system] registered with id " + n.UserID
	case protocol.TypeAuthOK:
		return "[system] authenticated, token saved for /login"
	case "":
		return "[server raw] " + string(raw)
	default:
		return "[server] " + string(raw)
	}
}

// Console runs an interactive line console on top of a Client.
type Console struct {
	client *Client
	in     io.Reader

	outMu sync.Mutex
	out   io.Writer

	tokenMu sync.Mutex
	token   string
}

// NewConsole wires c's handlers to print on out. Call it before c.Connect.
func NewConsole(c *Client, in io.Reader, out io.Writer) *Console {
	con := &Console{client: c, in: in, out: out}

	c.OnNotification(func(e NotificationEvent) {
		if e.Notification.Type == protocol.TypeAuthOK {
			con.tokenMu.Lock()
			con.token = e.Notification.Token
			con.tokenMu.Unlock()
		}
		con.println(FormatNotification(e.Notification, e.Raw))
	})
	c.OnError(func(e ErrorEvent) {
		con.println("[error] " + e.Error.Error())
	})

	return con
}

// Run reads commands from the input until /quit, end of input, ctx
// cancellation or the server closing the connection. It closes the client
// before returning. An input reader blocked in Read is abandoned.
func (con *Console) Run(ctx context.Context) error {
	defer func() { _ = con.client.Close() }()

	con.print(helpText)

	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(con.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-con.client.Done():
			con.println("[system] connection closed")
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			if quit := con.execute(line); quit {
				return nil
			}
		}
	}
}

// execute runs one console line and reports whether the console should exit.
func (con *Console) execute(line string) bool {
	action, err := ParseLine(line)
	if err != nil {
		con.println(err.Error())
		return false
	}

	switch action.Kind {
	case ActionQuit:
		return true
	case ActionHelp:
		con.print(helpText)
	case ActionLogin:
		con.tokenMu.Lock()
		token := con.token
		con.tokenMu.Unlock()
		err = con.client.Login(action.User, token)
	case ActionMsg:
		err = con.client.SendMsg(action.To, action.Body)
	case ActionRegister:
		err = con.client.Register(action.Email, action.User, action.Password)
	case ActionAuth:
		err = con.client.Authenticate(action.Email, action.Password)
	}

	if err != nil {
		con.println("[error] " + err.Error())
	}

	return false
}

func (con *Console) print(s string) {
	con.outMu.Lock()
	defer con.outMu.Unlock()
	_, _ = io.WriteString(con.out, s)
}

func (con *Console) println(s string) {
	con.print(s + "\n")
}
