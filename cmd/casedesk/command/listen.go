package command

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"casedesk/internal/app"
	"casedesk/internal/backend"
	"casedesk/internal/events"
	"casedesk/internal/realtime"
	"casedesk/internal/store"
)

// listenCmd opens the realtime channel and renders what arrives
var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Listen for real-time notifications and case updates",
	Long: `Connect to the backend websocket and display notifications, task and
process updates and system messages as they arrive.

While listening, type on stdin:
  list        show the notification center
  read <n>    mark the n-th notification of the last list as read
  readall     mark every notification as read
  timeline    show the case timeline
  ping        send a heartbeat now
  quit        disconnect and exit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, token, err := session()
		if err != nil {
			return err
		}
		hydrate, _ := cmd.Flags().GetBool("hydrate")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a := app.New(cfg, app.Deps{Logger: log, Token: token})
		defer a.Shutdown()
		subscribeRenderers(a)

		if hydrate {
			added, err := a.Hydrate(ctx, id)
			if err != nil {
				color.Yellow("⚠ could not load pending notifications: %v", err)
			} else if added > 0 {
				fmt.Printf("%d pending notification(s) loaded\n", added)
			}
		}

		fmt.Printf("🔌 Connecting as user %d to %s...\n", id, a.Connection.Endpoint(id))
		if err := a.Start(ctx, id); err != nil {
			return err
		}

		lines := make(chan string)
		go scanLines(lines)
		return interact(ctx, a, lines)
	},
}

func init() {
	listenCmd.Flags().Bool("hydrate", true, "load unread notifications over REST before connecting")
}

func subscribeRenderers(a *app.App) {
	out := os.Stdout

	a.Bus.Subscribe(events.KindConnectionState, func(e events.Event) {
		var data struct {
			State    string `json:"state"`
			Attempts int    `json:"attempts"`
		}
		if json.Unmarshal(e.Data, &data) != nil {
			return
		}
		switch data.State {
		case realtime.StateConnected.String():
			color.Green("✅ connected")
		case realtime.StateIdle.String():
			color.HiBlack("disconnected (reconnect attempts: %d)", data.Attempts)
		}
	})
	a.Bus.Subscribe(realtime.KindNotification, func(e events.Event) {
		var dto backend.NotificationDTO
		if json.Unmarshal(e.Data, &dto) != nil {
			return
		}
		if n, ok := a.Notifications.FindByRemoteID(dto.ID); ok {
			printNotification(out, n)
		}
	})
	a.Bus.Subscribe(realtime.KindSystemMessage, func(events.Event) {
		if list := a.Notifications.ByCategory(store.CategorySystem); len(list) > 0 {
			printNotification(out, list[0])
		}
	})
	printUpdate := func(t store.EventType) events.Handler {
		return func(e events.Event) {
			var p backend.EventPayload
			if json.Unmarshal(e.Data, &p) != nil {
				return
			}
			if p.Timestamp.IsZero() {
				p.Timestamp = e.Timestamp
			}
			printTimelineEvent(out, store.TimelineEvent{
				Type:          t,
				Title:         p.Title,
				Description:   p.Description,
				User:          p.User,
				Status:        store.ParseStatus(p.Status),
				ProcessNumber: p.ProcessNumber,
				Timestamp:     p.Timestamp,
			})
		}
	}
	a.Bus.Subscribe(realtime.KindTaskUpdate, printUpdate(store.EventTask))
	a.Bus.Subscribe(realtime.KindProcessUpdate, printUpdate(store.EventProcess))
}

func scanLines(lines chan<- string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		lines <- strings.TrimSpace(scanner.Text())
	}
	close(lines)
}

func interact(ctx context.Context, a *app.App, lines <-chan string) error {
	var shown []store.Notification
	for {
		select {
		case <-ctx.Done():
			fmt.Printf("\nBye. %d unread notification(s).\n", a.Notifications.UnreadCount())
			return nil
		case line, ok := <-lines:
			if !ok {
				lines = nil // stdin closed, keep listening until interrupted
				continue
			}
			fields := strings.Fields(line)
			if len(fields) == 0 {
				continue
			}
			switch fields[0] {
			case "list":
				shown = a.Notifications.List()
				for i, n := range shown {
					fmt.Printf("%2d ", i+1)
					printNotification(os.Stdout, n)
				}
				fmt.Printf("%d unread\n", a.Notifications.UnreadCount())
			case "read":
				if len(fields) < 2 {
					fmt.Println("usage: read <n>")
					continue
				}
				idx, err := strconv.Atoi(fields[1])
				if err != nil || idx < 1 || idx > len(shown) {
					fmt.Println("unknown notification, run 'list' first")
					continue
				}
				a.MarkAsRead(shown[idx-1].ID)
				fmt.Printf("%d unread\n", a.Notifications.UnreadCount())
			case "readall":
				fmt.Printf("%d marked as read\n", a.MarkAllAsRead())
			case "timeline":
				for _, e := range a.Timeline.List() {
					printTimelineEvent(os.Stdout, e)
				}
			case "ping":
				if err := a.Ping(); err != nil {
					color.Yellow("⚠ %v", err)
				}
			case "quit", "exit":
				return nil
			default:
				fmt.Println("commands: list, read <n>, readall, timeline, ping, quit")
			}
		}
	}
}
