package command

// root.go defines the root command and the global flags.

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"casedesk/cmd/casedesk/authentication"
	"casedesk/internal/config"
	"casedesk/internal/logger"
)

var (
	apiURL string // overrides API_URL
	wsURL  string // overrides WS_BASE_URL
	userID int64  // overrides the logged in user

	cfg *config.Config
	log *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "casedesk",
	Short: "casedesk - real-time notifications for the case desk",
	Long: `casedesk connects to the case desk backend and shows, in real time:
- notifications (deadlines, payments, processes, tasks)
- task and process updates on the case timeline
- system messages

Use "casedesk [command] --help" to see all available commands.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("could not load config: %w", err)
		}
		if apiURL != "" {
			loaded.APIURL = apiURL
		}
		if wsURL != "" {
			loaded.WSBaseURL = wsURL
		}
		if err := loaded.Validate(); err != nil {
			return err
		}
		cfg = loaded
		log = logger.New(cfg)
		return nil
	},
}

// Execute is called by main.main
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "", "backend REST URL (default from API_URL)")
	rootCmd.PersistentFlags().StringVar(&wsURL, "ws", "", "backend websocket base URL (default from WS_BASE_URL)")
	rootCmd.PersistentFlags().Int64Var(&userID, "user", 0, "user id (default: the logged in user)")

	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(notifyCmd)
	rootCmd.AddCommand(notificationsCmd)
}

// session resolves the user id and token for a command. An explicit --user
// without stored credentials runs unauthenticated.
func session() (int64, string, error) {
	creds, err := authentication.GetTokens()
	if err != nil {
		if userID > 0 {
			return userID, "", nil
		}
		return 0, "", err
	}
	id := creds.UserID
	if userID > 0 {
		id = userID
	}
	return id, creds.AccessToken, nil
}
