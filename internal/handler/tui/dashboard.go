// Package tui renders a live terminal dashboard of one chat client: broker
// state, fan-out counters, groups and the most recent events.
package tui

import (
	"context"
	"fmt"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"github.com/webitel/im-mqtt-chat/internal/domain/event"
	"github.com/webitel/im-mqtt-chat/internal/domain/model"
	"github.com/webitel/im-mqtt-chat/internal/domain/registry"
	"github.com/webitel/im-mqtt-chat/internal/service"
)

const (
	refreshInterval = 500 * time.Millisecond
	historySize     = 200
)

// Broker is the connection state shown in the header.
type Broker interface {
	ClientID() string
	IsConnected() bool
}

type Dashboard struct {
	broker    Broker
	group     service.Grouper
	hub       registry.Hubber
	deliverer service.Deliverer

	history *History
}

func New(broker Broker, group service.Grouper, hub registry.Hubber, deliverer service.Deliverer) *Dashboard {
	return &Dashboard{
		broker:    broker,
		group:     group,
		hub:       hub,
		deliverer: deliverer,
		history:   NewHistory(historySize),
	}
}

// Run takes over the terminal until q, Ctrl-C or ctx cancellation.
func (d *Dashboard) Run(ctx context.Context) error {
	userID := d.broker.ClientID()
	conn, err := d.deliverer.Subscribe(ctx, userID, registry.ConnectMetadata{Transport: "tui"})
	if err != nil {
		return err
	}
	defer d.deliverer.Unsubscribe(userID, conn.GetID())

	if err := ui.Init(); err != nil {
		return fmt.Errorf("terminal init: %w", err)
	}
	defer ui.Close()

	header := widgets.NewParagraph()
	header.Title = " im-mqtt-chat "

	groups := widgets.NewList()
	groups.Title = " groups "

	events := widgets.NewList()
	events.Title = " events "
	events.TextStyle = ui.NewStyle(ui.ColorWhite)

	grid := ui.NewGrid()
	w, h := ui.TerminalDimensions()
	grid.SetRect(0, 0, w, h)
	grid.Set(
		ui.NewRow(0.2, ui.NewCol(1.0, header)),
		ui.NewRow(0.8,
			ui.NewCol(0.35, groups),
			ui.NewCol(0.65, events),
		),
	)

	draw := func() {
		header.Text = d.Header(d.hub.Stats(userID))
		groups.Rows = d.GroupRows()
		events.Rows = d.history.Rows()
		events.ScrollBottom()
		ui.Render(grid)
	}
	draw()

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	keys := ui.PollEvents()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-keys:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			case "<Resize>":
				payload := e.Payload.(ui.Resize)
				grid.SetRect(0, 0, payload.Width, payload.Height)
				ui.Clear()
				draw()
			}
		case ev, ok := <-conn.Recv():
			if !ok {
				return nil
			}
			d.history.Add(ev)
			draw()
		case <-ticker.C:
			draw()
		}
	}
}

// Header summarizes the connection and the fan-out counters.
func (d *Dashboard) Header(st model.HubStats) string {
	status := "[offline](fg:red)"
	if d.broker.IsConnected() {
		status = "[online](fg:green)"
	}
	return fmt.Sprintf("user %s  broker %s\nsessions %d  delivered %d  dropped %d  uptime %s",
		d.broker.ClientID(), status, st.Sessions, st.Delivered, st.Dropped, st.Uptime.Truncate(time.Second))
}

func (d *Dashboard) GroupRows() []string {
	var rows []string
	for _, g := range d.group.AdminGroups() {
		rows = append(rows, fmt.Sprintf("[*](fg:yellow) %s (%d)", g.GroupName, g.MemberCount))
	}
	for _, id := range d.group.MemberGroups() {
		rows = append(rows, "  "+id)
	}
	for _, g := range d.group.KnownGroups() {
		rows = append(rows, fmt.Sprintf("[?](fg:cyan) %s by %s", g.GroupName, g.AdminID))
	}
	return rows
}

// History keeps the last events as display rows.
type History struct {
	limit int
	rows  []string
}

func NewHistory(limit int) *History { return &History{limit: limit} }

func (h *History) Add(ev event.Eventer) {
	h.rows = append(h.rows, FormatRow(ev))
	if over := len(h.rows) - h.limit; over > 0 {
		h.rows = h.rows[over:]
	}
}

func (h *History) Rows() []string { return h.rows }

// FormatRow colours an event by priority.
func FormatRow(ev event.Eventer) string {
	at := time.UnixMilli(ev.GetOccurredAt()).Format("15:04:05")
	color := "white"
	switch ev.GetPriority() {
	case event.PriorityHigh:
		color = "yellow"
	case event.PriorityLow:
		color = "blue"
	}
	if ev.GetKind() == event.Error {
		color = "red"
	}
	return fmt.Sprintf("%s [%s](fg:%s) %s", at, ev.GetKind(), color, summary(ev.GetPayload()))
}

func summary(p any) string {
	switch v := p.(type) {
	case event.MessagePayload:
		return v.From + ": " + v.Content
	case event.GroupMessagePayload:
		return v.GroupID + " " + v.From + ": " + v.Content
	case event.InviteReceivedPayload:
		return "from " + v.From + " " + v.RequestID
	case event.PresencePayload:
		return v.UserID + " " + string(v.Status)
	case event.Failure:
		return v.Error
	default:
		return ""
	}
}
