package command

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"casedesk/internal/backend"
)

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Browse notifications stored by the backend",
}

var notificationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notifications page by page",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, token, err := session()
		if err != nil {
			return err
		}
		page, _ := cmd.Flags().GetInt("page")
		limit, _ := cmd.Flags().GetInt("limit")
		unread, _ := cmd.Flags().GetBool("unread")

		client := backend.NewClient(cfg.APIURL)
		client.SetToken(token)
		result, err := client.ListNotifications(cmd.Context(), id, backend.ListOptions{
			Page:       page,
			Limit:      limit,
			UnreadOnly: unread,
		})
		if err != nil {
			return err
		}

		if len(result.Items) == 0 {
			fmt.Println("No notifications.")
			return nil
		}
		for _, n := range result.Items {
			printRemoteNotification(os.Stdout, n)
		}
		fmt.Printf("\npage %d, %d of %d\n", result.Page, len(result.Items), result.Total)
		if result.HasMore() {
			fmt.Printf("more: casedesk notifications list --page %d\n", result.Page+1)
		}
		return nil
	},
}

var notificationsReadCmd = &cobra.Command{
	Use:   "read <id>",
	Short: "Mark a backend notification as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, token, err := session()
		if err != nil {
			return err
		}
		var notificationID int64
		if _, err := fmt.Sscan(args[0], &notificationID); err != nil {
			return fmt.Errorf("invalid notification id %q", args[0])
		}

		client := backend.NewClient(cfg.APIURL)
		client.SetToken(token)
		if err := client.MarkNotificationRead(cmd.Context(), id, notificationID); err != nil {
			return err
		}
		fmt.Printf("✓ Notification #%d marked as read\n", notificationID)
		return nil
	},
}

func init() {
	notificationsCmd.AddCommand(notificationsListCmd)
	notificationsCmd.AddCommand(notificationsReadCmd)

	notificationsListCmd.Flags().Int("page", 1, "page number")
	notificationsListCmd.Flags().Int("limit", 20, "page size (max 100)")
	notificationsListCmd.Flags().Bool("unread", false, "only unread notifications")
}
