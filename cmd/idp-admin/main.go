// ABOUTME: Admin CLI for the idp-gateway management API
// ABOUTME: Talks HTTP with the management bearer token

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
)

const banner = `
  _     _                          _           _
 (_) __| |_ __          __ _  __| |_ __ ___ (_)_ __
 | |/ _' | '_ \ _____  / _' |/ _' | '_ ' _ \| | '_ \
 | | (_| | |_) |_____|| (_| | (_| | | | | | | | | | |
 |_|\__,_| .__/        \__,_|\__,_|_| |_| |_|_|_| |_|
         |_|
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	baseURL := os.Getenv("IDP_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	token := os.Getenv("IDP_MANAGEMENT_TOKEN")

	client := &adminClient{baseURL: baseURL, token: token}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "users":
		err = cmdUsers(client, args)
	case "agents":
		err = cmdAgents(client, args)
	case "invites":
		err = cmdInvites(client, args)
	case "keys":
		err = cmdKeys(client, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: idp-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  users                       List registered users")
	fmt.Println("  users delete <email>        Delete a user and their credentials")
	fmt.Println("  agents                      List registered agents")
	fmt.Println("  agents create --name NAME --pubkey-file PATH [--owner EMAIL]")
	fmt.Println("                              Register an agent")
	fmt.Println("  agents revoke <id>          Deactivate an agent")
	fmt.Println("  agents approve <id>         Reactivate an agent")
	fmt.Println("  agents delete <id>          Delete an agent")
	fmt.Println("  invites                     List registration URLs")
	fmt.Println("  invites create --email ADDR [--name NAME] [--ttl DUR]")
	fmt.Println("                              Create a registration URL")
	fmt.Println("  invites delete <token>      Delete a registration URL")
	fmt.Println("  keys                        List published signing keys")
	fmt.Println("  keys rotate                 Create a fresh signing key")
	fmt.Println("  keys deactivate <kid>       Retire a signing key")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  IDP_URL                     Gateway base URL (default: http://localhost:8080)")
	fmt.Println("  IDP_MANAGEMENT_TOKEN        Management bearer token (required)")
	fmt.Println()
}

// adminClient wraps HTTP calls to the management API.
type adminClient struct {
	baseURL string
	token   string
}

func (c *adminClient) do(method, path string, body any, out any) error {
	if c.token == "" {
		return fmt.Errorf("IDP_MANAGEMENT_TOKEN environment variable is required")
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, errResp.Error)
		}
		return fmt.Errorf("%s", resp.Status)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func cmdUsers(c *adminClient, args []string) error {
	if len(args) >= 2 && args[0] == "delete" {
		if err := c.do(http.MethodDelete, "/api/admin/users/"+args[1], nil, nil); err != nil {
			return err
		}
		color.Green("Deleted user %s\n", args[1])
		return nil
	}

	var resp struct {
		Users []struct {
			Email       string    `json:"email"`
			Name        string    `json:"name"`
			HasPassword bool      `json:"hasPassword"`
			CreatedAt   time.Time `json:"createdAt"`
		} `json:"users"`
	}
	if err := c.do(http.MethodGet, "/api/admin/users", nil, &resp); err != nil {
		return err
	}

	fmt.Printf("\nUsers (%d):\n\n", len(resp.Users))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  EMAIL\tNAME\tPASSWORD\tCREATED")
	fmt.Fprintln(w, "  -----\t----\t--------\t-------")
	for _, u := range resp.Users {
		password := "-"
		if u.HasPassword {
			password = "yes"
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", u.Email, u.Name, password, u.CreatedAt.Format("Jan 02 15:04"))
	}
	w.Flush()
	fmt.Println()
	return nil
}

func cmdAgents(c *adminClient, args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "create":
			return cmdAgentCreate(c, args[1:])
		case "revoke", "approve":
			if len(args) < 2 {
				return fmt.Errorf("agents %s requires an agent id", args[0])
			}
			if err := c.do(http.MethodPost, "/api/admin/agents/"+args[1]+"/"+args[0], nil, nil); err != nil {
				return err
			}
			color.Green("Agent %s %sd\n", args[1], args[0])
			return nil
		case "delete":
			if len(args) < 2 {
				return fmt.Errorf("agents delete requires an agent id")
			}
			if err := c.do(http.MethodDelete, "/api/admin/agents/"+args[1], nil, nil); err != nil {
				return err
			}
			color.Green("Deleted agent %s\n", args[1])
			return nil
		case "list":
		default:
			return fmt.Errorf("unknown agents subcommand: %s", args[0])
		}
	}

	var resp struct {
		Agents []struct {
			ID        string    `json:"id"`
			Name      string    `json:"name"`
			Owner     string    `json:"owner"`
			Active    bool      `json:"isActive"`
			CreatedAt time.Time `json:"createdAt"`
		} `json:"agents"`
	}
	if err := c.do(http.MethodGet, "/api/admin/agents", nil, &resp); err != nil {
		return err
	}

	fmt.Printf("\nAgents (%d):\n\n", len(resp.Agents))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tNAME\tOWNER\tACTIVE\tCREATED")
	fmt.Fprintln(w, "  --\t----\t-----\t------\t-------")
	for _, a := range resp.Agents {
		active := color.GreenString("yes")
		if !a.Active {
			active = color.RedString("no")
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n", truncate(a.ID, 12), a.Name, a.Owner, active, a.CreatedAt.Format("Jan 02 15:04"))
	}
	w.Flush()
	fmt.Println()
	return nil
}

func cmdAgentCreate(c *adminClient, args []string) error {
	var name, owner, pubkeyFile string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--name", "-n":
			if i+1 < len(args) {
				name = args[i+1]
				i++
			}
		case "--owner", "-o":
			if i+1 < len(args) {
				owner = args[i+1]
				i++
			}
		case "--pubkey-file", "-k":
			if i+1 < len(args) {
				pubkeyFile = args[i+1]
				i++
			}
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}
	if name == "" || pubkeyFile == "" {
		return fmt.Errorf("--name and --pubkey-file are required")
	}

	pubkey, err := os.ReadFile(pubkeyFile)
	if err != nil {
		return fmt.Errorf("reading public key: %w", err)
	}

	var created struct {
		ID string `json:"id"`
	}
	err = c.do(http.MethodPost, "/api/admin/agents", map[string]string{
		"name":      name,
		"owner":     owner,
		"publicKey": strings.TrimSpace(string(pubkey)),
	}, &created)
	if err != nil {
		return err
	}

	color.Green("Created agent %s\n", created.ID)
	return nil
}

func cmdInvites(c *adminClient, args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "create":
			return cmdInviteCreate(c, args[1:])
		case "delete":
			if len(args) < 2 {
				return fmt.Errorf("invites delete requires a token")
			}
			if err := c.do(http.MethodDelete, "/api/admin/registration-urls/"+args[1], nil, nil); err != nil {
				return err
			}
			color.Green("Deleted registration URL\n")
			return nil
		case "list":
		default:
			return fmt.Errorf("unknown invites subcommand: %s", args[0])
		}
	}

	var resp struct {
		RegistrationUrls []struct {
			Token     string    `json:"token"`
			Email     string    `json:"email"`
			Consumed  bool      `json:"consumed"`
			ExpiresAt time.Time `json:"expiresAt"`
		} `json:"registrationUrls"`
	}
	if err := c.do(http.MethodGet, "/api/admin/registration-urls", nil, &resp); err != nil {
		return err
	}

	fmt.Printf("\nRegistration URLs (%d):\n\n", len(resp.RegistrationUrls))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  TOKEN\tEMAIL\tSTATE\tEXPIRES")
	fmt.Fprintln(w, "  -----\t-----\t-----\t-------")
	now := time.Now()
	for _, i := range resp.RegistrationUrls {
		state := "open"
		switch {
		case i.Consumed:
			state = "consumed"
		case now.After(i.ExpiresAt):
			state = "expired"
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", truncate(i.Token, 16), i.Email, state, i.ExpiresAt.Format("Jan 02 15:04"))
	}
	w.Flush()
	fmt.Println()
	return nil
}

func cmdInviteCreate(c *adminClient, args []string) error {
	var email, name, ttl string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--email", "-e":
			if i+1 < len(args) {
				email = args[i+1]
				i++
			}
		case "--name", "-n":
			if i+1 < len(args) {
				name = args[i+1]
				i++
			}
		case "--ttl", "-t":
			if i+1 < len(args) {
				ttl = args[i+1]
				i++
			}
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}
	if email == "" {
		return fmt.Errorf("--email is required")
	}

	body := map[string]string{"email": email, "name": name}
	if ttl != "" {
		body["ttl"] = ttl
	}

	var created struct {
		URL string `json:"url"`
	}
	if err := c.do(http.MethodPost, "/api/admin/registration-urls", body, &created); err != nil {
		return err
	}

	color.Green("Registration URL for %s:\n", email)
	fmt.Printf("  %s\n", created.URL)
	return nil
}

func cmdKeys(c *adminClient, args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "rotate":
			var rotated struct {
				Kid string `json:"kid"`
			}
			if err := c.do(http.MethodPost, "/api/admin/keys/rotate", nil, &rotated); err != nil {
				return err
			}
			color.Green("New signing key: %s\n", rotated.Kid)
			return nil
		case "deactivate":
			if len(args) < 2 {
				return fmt.Errorf("keys deactivate requires a kid")
			}
			if err := c.do(http.MethodPost, "/api/admin/keys/"+args[1]+"/deactivate", nil, nil); err != nil {
				return err
			}
			color.Green("Deactivated key %s\n", args[1])
			return nil
		case "list":
		default:
			return fmt.Errorf("unknown keys subcommand: %s", args[0])
		}
	}

	var resp struct {
		Keys []struct {
			Kid       string    `json:"kid"`
			CreatedAt time.Time `json:"createdAt"`
		} `json:"keys"`
	}
	if err := c.do(http.MethodGet, "/api/admin/keys", nil, &resp); err != nil {
		return err
	}

	fmt.Printf("\nSigning keys (%d):\n\n", len(resp.Keys))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  KID\tCREATED")
	fmt.Fprintln(w, "  ---\t-------")
	for _, k := range resp.Keys {
		fmt.Fprintf(w, "  %s\t%s\n", k.Kid, k.CreatedAt.Format("Jan 02 15:04"))
	}
	w.Flush()
	fmt.Println()
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
