package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/ideaboard/internal/config"
	"github.com/kalambet/ideaboard/internal/outline"
	"github.com/kalambet/ideaboard/internal/provider"
)

// --- keys ---

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage provider API keys",
}

var keysShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show configured keys (masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ks, err := config.OpenKeyStore(config.KeysFilePath())
		if err != nil {
			return err
		}
		masked := ks.Masked()
		for _, p := range config.Providers {
			v := masked[p]
			if v == "" {
				v = colorize(colorDim, "(not set)")
			}
			printStatus(p, "%s", v)
		}
		return nil
	},
}

var keysSetCmd = &cobra.Command{
	Use:   "set <provider> <key>",
	Short: "Set the API key for openai, gemini or together",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, key := args[0], strings.TrimSpace(args[1])

		// A running server owns the key file; tell it first so it picks the
		// key up without a restart.
		if client, err := newAPIClient(); err == nil {
			resp, err := client.put(cmd.Context(), "/keys/"+p, map[string]string{"key": key})
			if err == nil {
				var result map[string]string
				if err := decodeJSON(resp, &result); err != nil {
					return err
				}
				printSuccess("Set %s key %s", p, result["key"])
				return nil
			}
		}

		ks, err := config.OpenKeyStore(config.KeysFilePath())
		if err != nil {
			return err
		}
		if err := ks.Set(p, key); err != nil {
			return err
		}
		if err := ks.Flush(); err != nil {
			return fmt.Errorf("saving keys: %w", err)
		}
		printSuccess("Set %s key %s", p, config.MaskKey(key))
		return nil
	},
}

func init() {
	keysCmd.AddCommand(keysShowCmd)
	keysCmd.AddCommand(keysSetCmd)
}

// --- connections ---

var connectionsCmd = &cobra.Command{
	Use:   "connections",
	Short: "Check provider connectivity",
}

type connectionResult struct {
	Provider   string `json:"provider"`
	OK         bool   `json:"ok"`
	Output     string `json:"output"`
	Error      string `json:"error"`
	MissingKey bool   `json:"missing_key"`
	DurationMs int64  `json:"duration_ms"`
}

var connectionsTestCmd = &cobra.Command{
	Use:   "test [provider]",
	Short: "Make a test call against each provider (or just one)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]string{}
		if len(args) == 1 {
			body["provider"] = args[0]
		}
		resp, err := client.post(cmd.Context(), "/connections/test", body)
		if err != nil {
			return err
		}

		var results []connectionResult
		if len(args) == 1 {
			var one connectionResult
			if err := decodeJSON(resp, &one); err != nil {
				return err
			}
			results = append(results, one)
		} else if err := decodeJSON(resp, &results); err != nil {
			return err
		}

		failed := 0
		for _, r := range results {
			switch {
			case r.OK:
				printSuccess("%s: %s (%dms)", r.Provider, r.Output, r.DurationMs)
			case r.MissingKey:
				failed++
				printWarning("%s: no API key, run `ideaboard keys set %s <key>`", r.Provider, r.Provider)
			default:
				failed++
				printError("%s: %s", r.Provider, r.Error)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d providers failed", failed, len(results))
		}
		return nil
	},
}

func init() {
	connectionsCmd.AddCommand(connectionsTestCmd)
}

// --- session ---

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Create and inspect ideation sessions",
}

type sessionSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Start a new session",
	Long: `Start a new session.

Examples:
  ideaboard session create --parti "A chair for the moon" --domain furniture
  ideaboard session create --title "Lamp study" --parti "Light that breathes"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		parti, _ := cmd.Flags().GetString("parti")
		domain, _ := cmd.Flags().GetString("domain")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/sessions", map[string]string{
			"title":  title,
			"parti":  parti,
			"domain": domain,
		})
		if err != nil {
			return err
		}
		var result struct {
			ID string `json:"id"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Created session %s", result.ID)
		fmt.Println(result.ID)
		return nil
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/sessions?limit=%d", limit))
		if err != nil {
			return err
		}
		var sessions []sessionSummary
		if err := decodeJSON(resp, &sessions); err != nil {
			return err
		}
		if len(sessions) == 0 {
			printStep("No sessions yet")
			return nil
		}
		for _, s := range sessions {
			title := s.Title
			if title == "" {
				title = colorize(colorDim, "(untitled)")
			}
			fmt.Printf("%s  %s  %s\n", s.ID, s.UpdatedAt, title)
		}
		return nil
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print a session snapshot as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/sessions/"+args[0])
		if err != nil {
			return err
		}
		var snap any
		if err := decodeJSON(resp, &snap); err != nil {
			return err
		}
		return printJSON(snap)
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session and its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/sessions/"+args[0])
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Deleted session %s", args[0])
		return nil
	},
}

var sessionHistoryCmd = &cobra.Command{
	Use:   "history <session-id>",
	Short: "Show the generation history of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/sessions/"+args[0]+"/history")
		if err != nil {
			return err
		}
		var history []struct {
			Feature   string `json:"feature"`
			Model     string `json:"model"`
			ItemCount int    `json:"item_count"`
			Status    string `json:"status"`
			Error     string `json:"error"`
			CreatedAt string `json:"created_at"`
		}
		if err := decodeJSON(resp, &history); err != nil {
			return err
		}
		for _, h := range history {
			line := fmt.Sprintf("%s  %-10s %-10s %2d items  %s", h.CreatedAt, h.Feature, h.Status, h.ItemCount, h.Model)
			if h.Error != "" {
				line += "  " + colorize(colorRed, h.Error)
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	sessionCreateCmd.Flags().String("title", "", "session title")
	sessionCreateCmd.Flags().String("parti", "", "the central idea of the design")
	sessionCreateCmd.Flags().String("domain", "", "design domain, e.g. furniture")
	sessionListCmd.Flags().Int("limit", 20, "maximum number of sessions to list")
	sessionCmd.AddCommand(sessionCreateCmd)
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionDeleteCmd)
	sessionCmd.AddCommand(sessionHistoryCmd)
}

// --- generate ---

type streamEvent struct {
	Type string `json:"type"`
	Item *struct {
		ID    string         `json:"id"`
		Value map[string]any `json:"value"`
	} `json:"item"`
	Message string `json:"message"`
	Count   int    `json:"count"`
	Stopped bool   `json:"stopped"`
}

var generateCmd = &cobra.Command{
	Use:   "generate <session-id> <feature>",
	Short: "Generate a batch of concepts, artifacts, parameters, designs or mockups",
	Long: `Generate a batch for one board and print items as they arrive.

Unpinned items on the board are rejected first. Press Ctrl-C to stop early;
items already printed stay on the board.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		n, err := streamGenerate(cmd.Context(), client, args[0], args[1], os.Stdout)
		if err != nil {
			return err
		}
		printSuccess("%d new %s", n, args[1])
		return nil
	},
}

// streamGenerate runs one generation and prints each item as its event
// arrives.
func streamGenerate(ctx context.Context, client *apiClient, sessionID, feature string, out io.Writer) (int, error) {
	resp, err := client.stream(ctx, "/sessions/"+sessionID+"/"+feature+"/generate", nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return 0, apiError(resp.StatusCode, body)
	}

	n := 0
	for data, err := range provider.Events(resp.Body) {
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return n, nil
			}
			return n, fmt.Errorf("reading stream: %w", err)
		}
		var ev streamEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return n, fmt.Errorf("decoding event: %w", err)
		}
		switch ev.Type {
		case "item":
			if ev.Item != nil {
				n++
				printItem(out, ev.Item.ID, false, ev.Item.Value)
			}
		case "error":
			return n, errors.New(ev.Message)
		case "done":
			if ev.Stopped {
				printWarning("generation stopped")
			}
			return ev.Count, nil
		}
	}
	return n, nil
}

// --- pin / reject / render ---

func itemCommand(use, short, action string, body func(cmd *cobra.Command) any, done func(args []string, result map[string]any)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <session-id> <feature> <item-id>",
		Short: short,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			resp, err := client.post(cmd.Context(), fmt.Sprintf("/sessions/%s/%s/items/%s/%s", args[0], args[1], args[2], action), body(cmd))
			if err != nil {
				return err
			}
			var result map[string]any
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
			done(args, result)
			return nil
		},
	}
}

var pinCmd = itemCommand("pin", "Pin an item so the next generation keeps it", "pin",
	func(cmd *cobra.Command) any {
		unpin, _ := cmd.Flags().GetBool("unpin")
		return map[string]bool{"pinned": !unpin}
	},
	func(args []string, _ map[string]any) { printSuccess("Updated pin on %s", args[2]) },
)

var rejectCmd = itemCommand("reject", "Reject an item; later generations avoid it", "reject",
	func(*cobra.Command) any { return nil },
	func(args []string, _ map[string]any) { printSuccess("Rejected %s", args[2]) },
)

var renderCmd = itemCommand("render", "Queue an image render for an artifact or mockup", "render",
	func(*cobra.Command) any { return nil },
	func(args []string, result map[string]any) { printSuccess("Queued render job %v", result["job_id"]) },
)

func init() {
	pinCmd.Flags().Bool("unpin", false, "remove the pin instead")
}

// --- add / clear-rejected ---

var addCmd = &cobra.Command{
	Use:   "add <session-id> <feature> <text>",
	Short: "Add your own pinned item to a board",
	Long: `Add a user-authored item. For concepts, artifacts and parameters the text
is the item's name and its description is generated; for designs it is a
free-text idea.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := addItem(cmd.Context(), client, args[0], args[1], args[2]); err != nil {
			return err
		}
		printSuccess("Added to %s", args[1])
		return nil
	},
}

func addItem(ctx context.Context, client *apiClient, sessionID, feature, text string) error {
	key := "name"
	if feature == "designs" {
		key = "idea"
	}
	resp, err := client.post(ctx, "/sessions/"+sessionID+"/"+feature+"/items", map[string]string{key: text})
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil)
}

var clearRejectedCmd = &cobra.Command{
	Use:   "clear-rejected <session-id> <feature>",
	Short: "Forget a board's rejected items so generation may suggest them again",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		n, err := clearRejected(cmd.Context(), client, args[0], args[1])
		if err != nil {
			return err
		}
		printSuccess("Cleared %d rejected %s", n, args[1])
		return nil
	},
}

func clearRejected(ctx context.Context, client *apiClient, sessionID, feature string) (int, error) {
	resp, err := client.delete(ctx, "/sessions/"+sessionID+"/"+feature+"/rejected")
	if err != nil {
		return 0, err
	}
	var result struct {
		Cleared int `json:"cleared"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return 0, err
	}
	return result.Cleared, nil
}

// --- outline ---

var outlineCmd = &cobra.Command{
	Use:   "outline <session-id>",
	Short: "Summarize text, a file or a URL into the session outline",
	Long: `Summarize text, a file or a URL into the session outline and print it as markdown.

Examples:
  ideaboard outline <id> --text "Notes from the interview..."
  ideaboard outline <id> --file ./brief.pdf
  ideaboard outline <id> --url https://example.com/article --provider gemini`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		url, _ := cmd.Flags().GetString("url")
		file, _ := cmd.Flags().GetString("file")
		prov, _ := cmd.Flags().GetString("provider")

		req := map[string]string{"provider": prov}
		switch {
		case text != "":
			req["content"] = text
		case url != "":
			req["url"] = url
		case file != "":
			content, err := outline.LoadFile(file)
			if err != nil {
				return err
			}
			req["content"] = content
		default:
			return fmt.Errorf("one of --text, --url, or --file is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()

		resp, err := client.post(ctx, "/sessions/"+args[0]+"/outline", req)
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}

		resp, err = client.get(ctx, "/sessions/"+args[0]+"/outline.md")
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, err = io.Copy(os.Stdout, resp.Body)
		return err
	},
}

func init() {
	outlineCmd.Flags().String("text", "", "text to summarize")
	outlineCmd.Flags().String("url", "", "web page or PDF to fetch and summarize")
	outlineCmd.Flags().String("file", "", "local text, markdown, html or pdf file")
	outlineCmd.Flags().String("provider", "", "openai (default) or gemini")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration (file values with IDEABOARD_* overrides)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		fmt.Println(colorize(colorDim, "# "+config.ConfigFilePath()))
		for _, k := range config.ShowAll(cfg) {
			line := fmt.Sprintf("  %s = %s", colorize(colorBold, k.Key), k.Value)
			if os.Getenv(k.EnvVar) != "" {
				line += colorize(colorDim, "  (from "+k.EnvVar+")")
			}
			fmt.Println(line)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetKey(args[0], args[1]); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}
		printSuccess("%s = %s", args[0], args[1])
		if _, err := pingHealth(mustPort()); err == nil {
			printWarning("restart the server for the change to take effect")
		}
		return nil
	},
}

// mustPort is the configured server port, or the default when config fails
// to load.
func mustPort() int {
	cfg, err := config.Load()
	if err != nil {
		return 4100
	}
	return cfg.Server.Port
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
