package command

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"casedesk/internal/backend"
	"casedesk/internal/store"
)

var severityColors = map[store.Severity]*color.Color{
	store.SeverityInfo:    color.New(color.FgCyan),
	store.SeveritySuccess: color.New(color.FgGreen),
	store.SeverityWarning: color.New(color.FgYellow),
	store.SeverityError:   color.New(color.FgRed, color.Bold),
}

func printNotification(w io.Writer, n store.Notification) {
	c, ok := severityColors[n.Severity]
	if !ok {
		c = severityColors[store.SeverityInfo]
	}
	marker := "●"
	if n.Read {
		marker = "○"
	}
	c.Fprintf(w, "%s [%s/%s] %s", marker, n.Category, n.Priority, n.Title)
	fmt.Fprintf(w, "  %s\n", n.CreatedAt.Format(time.Kitchen))
	if n.Message != "" {
		fmt.Fprintf(w, "    %s\n", n.Message)
	}
	if n.Link != "" {
		color.New(color.FgHiBlack).Fprintf(w, "    → %s\n", n.Link)
	}
}

func printTimelineEvent(w io.Writer, e store.TimelineEvent) {
	c := color.New(color.FgMagenta)
	switch e.Status {
	case store.StatusSuccess:
		c = color.New(color.FgGreen)
	case store.StatusWarning:
		c = color.New(color.FgYellow)
	case store.StatusError:
		c = color.New(color.FgRed)
	}
	c.Fprintf(w, "▸ %s %s", e.Type, e.Title)
	if e.ProcessNumber != "" {
		fmt.Fprintf(w, " (proc. %s)", e.ProcessNumber)
	}
	fmt.Fprintf(w, "  %s\n", e.Timestamp.Format(time.Kitchen))
	if e.User != "" || e.Description != "" {
		fmt.Fprintf(w, "    %s %s\n", e.User, e.Description)
	}
}

func printRemoteNotification(w io.Writer, n backend.NotificationDTO) {
	marker := "●"
	if n.Read {
		marker = "○"
	}
	fmt.Fprintf(w, "%s #%-5d %-9s %-7s %s  %s\n",
		marker, n.ID, n.Category, n.Type, n.Title, n.CreatedAt.Local().Format(time.DateTime))
}
