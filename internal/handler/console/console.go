// Package console drives the chat services from a line-oriented terminal and
// prints the user's event stream as it arrives.
package console

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/webitel/im-mqtt-chat/internal/domain/event"
	"github.com/webitel/im-mqtt-chat/internal/domain/registry"
	"github.com/webitel/im-mqtt-chat/internal/service"
	apperr "github.com/webitel/im-mqtt-chat/pkg/errors"
)

// ErrQuit ends Run without an error once the user typed quit.
var ErrQuit = errors.New("console: quit")

type command struct {
	usage string
	args  int // minimum argument count
	run   func(args []string) (string, error)
}

type Console struct {
	userID    string
	control   service.Controller
	group     service.Grouper
	deliverer service.Deliverer
	logger    *slog.Logger

	out      io.Writer
	outMu    sync.Mutex
	commands map[string]command
}

func New(userID string, control service.Controller, group service.Grouper, deliverer service.Deliverer, out io.Writer, logger *slog.Logger) *Console {
	c := &Console{
		userID:    userID,
		control:   control,
		group:     group,
		deliverer: deliverer,
		logger:    logger,
		out:       out,
	}
	c.commands = c.table()
	return c
}

func (c *Console) table() map[string]command {
	return map[string]command{
		"invite": {"invite <user>", 1, func(a []string) (string, error) {
			return c.control.SendInvite(a[0], "")
		}},
		"accept": {"accept <request_id> <inviter>", 2, func(a []string) (string, error) {
			topic, err := c.control.AcceptInvite(a[0], a[1])
			if err != nil {
				return "", err
			}
			return topic, c.control.SubscribeChat(topic)
		}},
		"reject": {"reject <request_id> <inviter>", 2, func(a []string) (string, error) {
			return "", c.control.RejectInvite(a[0], a[1])
		}},
		"join": {"join <chat_topic>", 1, func(a []string) (string, error) {
			return "", c.control.SubscribeChat(a[0])
		}},
		"part": {"part <chat_topic>", 1, func(a []string) (string, error) {
			return "", c.control.LeaveChat(a[0])
		}},
		"say": {"say <chat_topic> <text...>", 2, func(a []string) (string, error) {
			return c.control.SendMessage(a[0], strings.Join(a[1:], " "))
		}},
		"presence": {"presence online|offline|leave|return|ping", 1, c.presence},
		"forget": {"forget", 0, func([]string) (string, error) {
			c.control.CleanConversations()
			return "", nil
		}},
		"gcreate": {"gcreate <name...>", 1, func(a []string) (string, error) {
			return c.group.CreateGroup(strings.Join(a, " "))
		}},
		"gjoin": {"gjoin <group_id> <admin>", 2, func(a []string) (string, error) {
			return c.group.RequestJoinGroup(a[0], a[1])
		}},
		"gapprove": {"gapprove <group_id> <user> <request_id>", 3, func(a []string) (string, error) {
			return "", c.group.ApproveJoinRequest(a[0], a[1], a[2])
		}},
		"greject": {"greject <group_id> <user> <request_id>", 3, func(a []string) (string, error) {
			return "", c.group.RejectJoinRequest(a[0], a[1], a[2])
		}},
		"gsay": {"gsay <group_id> <text...>", 2, func(a []string) (string, error) {
			return c.group.SendGroupMessage(a[0], strings.Join(a[1:], " "))
		}},
		"gleave": {"gleave <group_id>", 1, func(a []string) (string, error) {
			return "", c.group.LeaveGroup(a[0])
		}},
		"discover": {"discover", 0, func([]string) (string, error) {
			return c.group.RequestGroupList(), nil
		}},
		"groups": {"groups", 0, c.groups},
	}
}

func (c *Console) presence(a []string) (string, error) {
	switch a[0] {
	case "online":
		c.control.SetOnlineStatus()
	case "offline":
		c.control.SetOfflineStatus()
	case "leave":
		c.control.SetStatusDisconnect()
	case "return":
		c.control.SetStatusConnect()
	case "ping":
		c.control.PingPresence()
	default:
		return "", apperr.New(apperr.CodeInvalidArgument, "unknown presence action "+a[0])
	}
	return "", nil
}

func (c *Console) groups([]string) (string, error) {
	var b strings.Builder
	for _, g := range c.group.AdminGroups() {
		fmt.Fprintf(&b, "admin  %s %q members=%d\n", g.GroupID, g.GroupName, g.MemberCount)
	}
	for _, id := range c.group.MemberGroups() {
		fmt.Fprintf(&b, "member %s\n", id)
	}
	for _, g := range c.group.KnownGroups() {
		fmt.Fprintf(&b, "known  %s %q admin=%s\n", g.GroupID, g.GroupName, g.AdminID)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// Execute runs one input line and returns what should be printed for it.
func (c *Console) Execute(line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}

	name, args := fields[0], fields[1:]
	switch name {
	case "quit", "exit":
		return "", ErrQuit
	case "help":
		return c.help(), nil
	}

	cmd, ok := c.commands[name]
	if !ok {
		return "", apperr.New(apperr.CodeInvalidArgument, "unknown command "+name+", try help")
	}
	if len(args) < cmd.args {
		return "", apperr.New(apperr.CodeInvalidArgument, "usage: "+cmd.usage)
	}
	return cmd.run(args)
}

func (c *Console) help() string {
	lines := make([]string, 0, len(c.commands)+1)
	for _, cmd := range c.commands {
		lines = append(lines, "  "+cmd.usage)
	}
	slices.Sort(lines)
	return "commands:\n" + strings.Join(lines, "\n") + "\n  quit"
}

// Run reads commands from in until EOF, quit or ctx cancellation, while
// printing the event stream of the user.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn, err := c.deliverer.Subscribe(ctx, c.userID, registry.ConnectMetadata{Transport: "console"})
	if err != nil {
		return err
	}
	defer c.deliverer.Unsubscribe(c.userID, conn.GetID())

	go c.printEvents(ctx, conn)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	c.println("connected as " + c.userID + ", type help")
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			out, err := c.Execute(line)
			switch {
			case errors.Is(err, ErrQuit):
				return nil
			case err != nil:
				c.logger.Debug("CONSOLE_COMMAND_FAILED", "line", line, "err", err)
				c.println("error: " + err.Error())
			case out != "":
				c.println(out)
			}
		}
	}
}

func (c *Console) printEvents(ctx context.Context, conn registry.Connector) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-conn.Recv():
			if !ok {
				return
			}
			c.println(FormatEvent(ev))
		}
	}
}

// FormatEvent renders ev as a single console line.
func FormatEvent(ev event.Eventer) string {
	payload, err := json.Marshal(ev.GetPayload())
	if err != nil {
		payload = []byte(fmt.Sprintf("%v", ev.GetPayload()))
	}
	return fmt.Sprintf("<< %s %s", ev.GetKind(), payload)
}

func (c *Console) println(s string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintln(c.out, s)
}
