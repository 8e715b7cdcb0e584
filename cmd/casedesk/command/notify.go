package command

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"casedesk/internal/backend"
	"casedesk/internal/realtime"
)

// notifyCmd pushes a notification through the backend (useful against the dev relay)
var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Push a test notification to a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, token, err := session()
		if err != nil {
			return err
		}

		var req backend.PushNotificationRequest
		req.Title, _ = cmd.Flags().GetString("title")
		req.Message, _ = cmd.Flags().GetString("message")
		req.Type, _ = cmd.Flags().GetString("type")
		req.Category, _ = cmd.Flags().GetString("category")
		req.Priority, _ = cmd.Flags().GetString("priority")
		req.Link, _ = cmd.Flags().GetString("link")

		client := backend.NewClient(cfg.APIURL)
		client.SetToken(token)
		created, err := client.PushNotification(cmd.Context(), id, &req)
		if err != nil {
			return err
		}
		color.Green("✓ Notification #%d pushed to user %d", created.ID, id)
		return nil
	},
}

// notifyEventCmd pushes a task, process or system frame
var notifyEventCmd = &cobra.Command{
	Use:   "event",
	Short: "Push a task_update, process_update or system_message frame",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, token, err := session()
		if err != nil {
			return err
		}

		kind, _ := cmd.Flags().GetString("kind")
		title, _ := cmd.Flags().GetString("title")
		message, _ := cmd.Flags().GetString("message")
		status, _ := cmd.Flags().GetString("status")
		process, _ := cmd.Flags().GetString("process")
		user, _ := cmd.Flags().GetString("by")

		req := &backend.PushEventRequest{Kind: kind}
		switch kind {
		case realtime.KindSystemMessage:
			req.Message = message
			req.MessageKind = status
		case realtime.KindTaskUpdate, realtime.KindProcessUpdate:
			payload, err := json.Marshal(backend.EventPayload{
				Title:         title,
				Description:   message,
				User:          user,
				Status:        status,
				ProcessNumber: process,
				Timestamp:     time.Now().UTC(),
			})
			if err != nil {
				return err
			}
			req.Payload = payload
		default:
			return fmt.Errorf("unsupported kind %q", kind)
		}

		client := backend.NewClient(cfg.APIURL)
		client.SetToken(token)
		if err := client.PushEvent(cmd.Context(), id, req); err != nil {
			return err
		}
		color.Green("✓ %s pushed to user %d", kind, id)
		return nil
	},
}

func init() {
	notifyCmd.AddCommand(notifyEventCmd)

	notifyCmd.Flags().String("title", "", "notification title")
	notifyCmd.Flags().String("message", "", "notification body")
	notifyCmd.Flags().String("type", "info", "info, success, warning or error")
	notifyCmd.Flags().String("category", "system", "task, process, system, deadline or payment")
	notifyCmd.Flags().String("priority", "medium", "low, medium or high")
	notifyCmd.Flags().String("link", "", "deep link inside the case desk")
	notifyCmd.MarkFlagRequired("title")

	notifyEventCmd.Flags().String("kind", realtime.KindTaskUpdate, "task_update, process_update or system_message")
	notifyEventCmd.Flags().String("title", "", "event title")
	notifyEventCmd.Flags().String("message", "", "description, or the text of a system message")
	notifyEventCmd.Flags().String("status", "info", "success, warning, error or info")
	notifyEventCmd.Flags().String("process", "", "associated process number")
	notifyEventCmd.Flags().String("by", "", "acting user name")
}
