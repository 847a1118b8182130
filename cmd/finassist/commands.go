package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/finassist/internal/api"
	"github.com/kalambet/finassist/internal/config"
	"github.com/kalambet/finassist/internal/reindex"
	"github.com/kalambet/finassist/internal/router"
	"github.com/kalambet/finassist/internal/storage"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question...>",
	Short: "Ask a finance question",
	Long: `Ask a finance question.

Questions that mention invoices, vendors or payables list the most recent
invoices with a summary. Everything else is answered from the indexed
SharePoint documents.

Examples:
  finassist ask show me unpaid invoices
  finassist ask "what is the approval limit for travel expenses?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.TrimSpace(strings.Join(args, " "))
		if query == "" {
			return fmt.Errorf("a question is required")
		}
		session, _ := cmd.Flags().GetString("session")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runAsk(cmd.Context(), client, os.Stdout, session, query, asJSON)
	},
}

func init() {
	askCmd.Flags().String("session", "cli", "chat session to record the exchange in")
	askCmd.Flags().Bool("json", false, "print the raw result as JSON")
}

func runAsk(ctx context.Context, c *apiClient, w io.Writer, session, query string, asJSON bool) error {
	resp, err := c.post(ctx, "/ask", api.AskRequest{Query: query, SessionID: session})
	if err != nil {
		return err
	}
	var out api.AskResponse
	if err := decodeJSON(resp, &out); err != nil {
		return err
	}
	if asJSON {
		_, err := fmt.Fprintln(w, string(out.Result))
		return err
	}
	res, err := router.Decode(out.Result)
	if err != nil {
		return err
	}
	renderResult(w, res)
	if res.Kind() == router.KindError {
		return errors.New("the question could not be answered")
	}
	return nil
}

// --- reindex ---

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the document index from SharePoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		printStep("Reindexing SharePoint documents...")
		return runReindex(cmd.Context(), client)
	},
}

func runReindex(ctx context.Context, c *apiClient) error {
	resp, err := c.post(ctx, "/reindex", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// 502 still carries an Outcome.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusBadGateway {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}
	var out reindex.Outcome
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decoding outcome: %w", err)
	}

	switch out.Status {
	case reindex.StatusDone:
		printSuccess("%s (%s)", out.Message, out.Duration.Round(time.Millisecond))
	case reindex.StatusInfo:
		printWarning("%s", out.Message)
	default:
		return fmt.Errorf("reindex failed: %s", out.Message)
	}
	return nil
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show chat history",
	RunE: func(cmd *cobra.Command, args []string) error {
		session, _ := cmd.Flags().GetString("session")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runHistory(cmd.Context(), client, os.Stdout, session, limit)
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear <session>",
	Short: "Delete the history of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		n, err := runHistoryClear(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}
		printSuccess("Deleted %d turns from session %s", n, args[0])
		return nil
	},
}

func runHistoryClear(ctx context.Context, c *apiClient, session string) (int, error) {
	resp, err := c.delete(ctx, "/history/"+url.PathEscape(session))
	if err != nil {
		return 0, err
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return 0, fmt.Errorf("no history found for session %s", session)
	}
	var result struct {
		Turns int `json:"turns"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return 0, err
	}
	return result.Turns, nil
}

func init() {
	historyCmd.Flags().String("session", "", "only show this session")
	historyCmd.Flags().Int("limit", 20, "maximum number of turns to show")
	historyCmd.AddCommand(historyClearCmd)
}

func runHistory(ctx context.Context, c *apiClient, w io.Writer, session string, limit int) error {
	q := url.Values{}
	if session != "" {
		q.Set("session_id", session)
	}
	q.Set("limit", fmt.Sprint(limit))

	resp, err := c.get(ctx, "/history?"+q.Encode())
	if err != nil {
		return err
	}
	var turns []storage.ChatTurn
	if err := decodeJSON(resp, &turns); err != nil {
		return err
	}
	if len(turns) == 0 {
		fmt.Fprintln(w, "No history found.")
		return nil
	}

	for _, t := range turns {
		label := t.Role
		switch t.Role {
		case storage.RoleYou:
			label = colorize(colorCyan, "You")
		case storage.RoleBot:
			label = colorize(colorGreen, "Bot")
		case storage.RoleError:
			label = colorize(colorRed, "Error")
		}
		fmt.Fprintf(w, "%s  %s  %s: %s\n", t.CreatedAt.Local().Format("2006-01-02 15:04"), t.SessionID, label, t.Content)
	}
	return nil
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server and index status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			printError("config error: %v", err)
			return nil
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		showStatus(cmd.Context(), client, cfg)
		return nil
	},
}

func showStatus(ctx context.Context, c *apiClient, cfg config.Config) {
	resp, err := c.get(ctx, "/health")
	running := err == nil && resp.StatusCode == http.StatusOK
	if resp != nil {
		resp.Body.Close()
	}
	if running {
		printStatus("Server", "running on port %d", cfg.Server.Port)
	} else {
		printStatus("Server", "stopped")
	}

	printStatus("LLM", "%s (%s, embeddings %s)", cfg.LLM.Provider, cfg.LLM.ChatModel, cfg.LLM.EmbedModel)
	if cfg.InvoicesConfigured() {
		printStatus("Invoices", "%s table %s", cfg.Invoices.Driver, cfg.Invoices.Table)
	} else {
		printStatus("Invoices", "not configured")
	}
	printStatus("Index file", "%s", cfg.IndexPath())

	if running {
		resp, err := c.get(ctx, "/index")
		if err == nil {
			var st api.IndexStatus
			if decodeJSON(resp, &st) == nil {
				if st.Index != nil {
					printStatus("Index", "%d chunks from %d documents, built %s", st.Index.Chunks, st.Index.Sources, st.Index.BuiltAt.Local().Format(time.RFC1123))
				} else {
					printStatus("Index", "not built")
				}
				if st.LastRun != nil {
					printStatus("Last reindex", "%s at %s: %s", st.LastRun.Status, st.LastRun.FinishedAt.Local().Format(time.RFC1123), st.LastRun.Message)
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
