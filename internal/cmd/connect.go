package cmd

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"
)

var connectCmd = &cobra.Command{
	Use:   "connect <username>",
	Short: "Open the Strava authorization page for a local user",
	Long: `Opens the running server's /connect page in a browser. After the athlete
approves access, Strava redirects back to STRAVA_REDIRECT_URL and the server
queues the first download.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		u, err := connectURL(addr, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Opening %s\n", u)
		if err := browser.OpenURL(u); err != nil {
			fmt.Printf("Could not open a browser, visit the URL above to continue.\n")
		}
		return nil
	},
}

// connectURL points at the connect route of the server listening on addr.
func connectURL(addr, username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", fmt.Errorf("username is required")
	}

	base := addr
	if !strings.Contains(base, "://") {
		if strings.HasPrefix(base, ":") {
			base = "localhost" + base
		}
		base = "http://" + base
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", addr, err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/connect"
	u.RawQuery = url.Values{"username": {username}}.Encode()
	return u.String(), nil
}
