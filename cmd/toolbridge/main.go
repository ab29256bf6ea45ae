package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	chromem "github.com/philippgille/chromem-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/toolbridge/toolbridge/auth"
	"github.com/toolbridge/toolbridge/client"
	"github.com/toolbridge/toolbridge/plugin/searchindex"
	"github.com/toolbridge/toolbridge/store"
	"github.com/toolbridge/toolbridge/store/cache/sqlite"
	"github.com/toolbridge/toolbridge/stream"
)

const apologyMessage = "Sorry, an error occurred. Please try again."

func main() {
	_ = godotenv.Load()

	viper.SetEnvPrefix("toolbridge")
	viper.AutomaticEnv()
	viper.SetDefault("api_url", "http://localhost:3001")

	root := &cobra.Command{
		Use:           "toolbridge",
		Short:         "Terminal client for the AI automation tools dashboard",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("api-url", viper.GetString("api_url"), "backend base URL")
	root.PersistentFlags().String("user", viper.GetString("user"), "authenticated user id")
	root.PersistentFlags().String("cache", defaultCachePath(), "path to the local history cache")
	_ = viper.BindPFlag("api_url", root.PersistentFlags().Lookup("api-url"))
	_ = viper.BindPFlag("user", root.PersistentFlags().Lookup("user"))
	_ = viper.BindPFlag("cache", root.PersistentFlags().Lookup("cache"))

	root.AddCommand(newSessionsCmd(), newToolsCmd(), newChatCmd(), newCreditsCmd(), newSearchCmd(), newFavoritesCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "toolbridge.db"
	}
	return dir + "/toolbridge/history.db"
}

func newClient() *client.Client {
	return client.New(
		viper.GetString("api_url"),
		client.WithIdentity(auth.NewStatic(viper.GetString("user"))),
	)
}

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage chat sessions",
	}
	archived := cmd.Flags().Bool("archived", false, "show archived sessions")
	toolID := cmd.Flags().String("tool", "", "filter by tool id")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		c := newClient()
		sessions, err := c.ListSessions(cmd.Context(), *toolID, *archived)
		if err != nil {
			return err
		}
		for _, sess := range sessions {
			fmt.Printf("%s\t%s\t%s\n", sess.ID, sess.UpdatedAt.Format(time.DateTime), sess.Title)
		}
		return nil
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "rename <session-id> <title>",
			Short: "Rename a session",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				_, err := newClient().RenameSession(cmd.Context(), args[0], args[1])
				return err
			},
		},
		&cobra.Command{
			Use:   "archive <session-id>",
			Short: "Archive a session",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				_, err := newClient().ArchiveSession(cmd.Context(), args[0])
				return err
			},
		},
		&cobra.Command{
			Use:   "unarchive <session-id>",
			Short: "Restore an archived session",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				_, err := newClient().UnarchiveSession(cmd.Context(), args[0])
				return err
			},
		},
		&cobra.Command{
			Use:   "delete <session-id>",
			Short: "Delete a session",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return newClient().DeleteSession(cmd.Context(), args[0])
			},
		},
	)
	return cmd
}

func newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tool catalog",
	}
	category := cmd.Flags().String("category", "", "filter by category slug")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		c := newClient()
		tools, err := c.ListTools(cmd.Context(), *category)
		if err != nil {
			return err
		}
		for _, t := range tools {
			fmt.Printf("%s\t%s\t%s\t%d credits\n", t.ID, t.Type, t.Name, t.CreditCost)
		}
		return nil
	}
	return cmd
}

func newFavoritesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "favorites",
		Short: "Manage favorited tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			favorites, err := newClient().ListFavorites(cmd.Context())
			if err != nil {
				return err
			}
			for _, fav := range favorites {
				name := fav.ToolID
				if fav.Tool != nil {
					name = fav.Tool.Name
				}
				fmt.Printf("%s\t%s\n", fav.ToolID, name)
			}
			return nil
		},
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <tool-id>",
			Short: "Favorite a tool",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				_, err := newClient().AddFavorite(cmd.Context(), args[0])
				return err
			},
		},
		&cobra.Command{
			Use:   "remove <tool-id>",
			Short: "Unfavorite a tool",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return newClient().RemoveFavorite(cmd.Context(), args[0])
			},
		},
	)
	return cmd
}

func newCreditsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "credits",
		Short: "Show the current credit balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			balance, err := newClient().GetCreditBalance(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("balance: %d (+%d bonus)\n", balance.Balance, balance.BonusCredits)
			return nil
		},
	}
}

// openSearchIndex opens the persistent conversation search index next to the
// history cache. Embeddings go through the backend's OpenAI-compatible
// embeddings endpoint.
func openSearchIndex() (*searchindex.Index, error) {
	embedFn := chromem.NewEmbeddingFuncOpenAICompat(
		viper.GetString("api_url")+"/api/public",
		viper.GetString("api_key"),
		"text-embedding-3-small",
		nil,
	)
	return searchindex.New(filepath.Dir(viper.GetString("cache")), embedFn)
}

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Semantic search over past conversations",
		Args:  cobra.MinimumNArgs(1),
	}
	limit := cmd.Flags().Int("limit", 5, "max results")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		idx, err := openSearchIndex()
		if err != nil {
			return err
		}
		results, err := idx.Search(cmd.Context(), viper.GetString("user"), strings.Join(args, " "), *limit)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("no matches")
			return nil
		}
		for _, r := range results {
			fmt.Printf("%.2f\t%s\t%s\n", r.Score, r.SessionID, firstLine(r.Content, 120))
		}
		return nil
	}
	return cmd
}

func firstLine(s string, n int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return truncate(s, n)
}

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat <tool-id>",
		Short: "Interactive chat with a chat-driven tool",
		Args:  cobra.ExactArgs(1),
	}
	sessionID := cmd.Flags().String("session", "", "resume an existing session")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context(), args[0], *sessionID)
	}
	return cmd
}

func runChat(ctx context.Context, toolID, sessionID string) error {
	c := newClient()
	st := store.New()
	logger := slog.Default()

	tool, err := c.GetTool(ctx, toolID)
	if err != nil {
		return err
	}

	cache, err := sqlite.Open(viper.GetString("cache"))
	if err != nil {
		logger.Warn("history cache unavailable", "err", err)
	} else {
		defer cache.Close()
		warmStartFromCache(ctx, cache, st, toolID)
	}

	idx, err := openSearchIndex()
	if err != nil {
		logger.Warn("search index unavailable", "err", err)
	}

	// The backend is the source of truth; overwrite whatever the cache gave.
	sessions, err := c.ListSessions(ctx, toolID, false)
	if err != nil {
		return err
	}
	st.SetSessions(sessions)
	if sessionID != "" {
		sess, err := c.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		st.AddSession(sess)
		st.SetCurrentSession(sess.ID)
	} else if len(sessions) > 0 {
		st.SetCurrentSession(sessions[0].ID)
	}

	fmt.Printf("chatting with %s — each message uses %d credit(s); /new starts a session, /quit exits\n",
		tool.Name, tool.CreditCost)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case line == "/new":
			st.SetCurrentSession("")
			continue
		}
		if err := sendMessage(ctx, c, st, cache, idx, tool, line, logger); err != nil {
			logger.Error("send failed", "err", err)
		}
	}
	return scanner.Err()
}

func warmStartFromCache(ctx context.Context, cache *sqlite.Cache, st *store.Store, toolID string) {
	archived := false
	cached, err := cache.ListSessions(ctx, &sqlite.FindSessions{ToolID: &toolID, Archived: &archived})
	if err != nil {
		return
	}
	for _, sess := range cached {
		if msgs, err := cache.ListMessages(ctx, sess.ID); err == nil {
			sess.Messages = msgs
		}
	}
	st.SetSessions(cached)
}

// sendMessage runs one full exchange: ensure a session, persist the user
// message, stream the assistant reply with typing-paced output, persist the
// final text, and keep the store consistent on every failure path.
func sendMessage(ctx context.Context, c *client.Client, st *store.Store, cache *sqlite.Cache, idx *searchindex.Index, tool *client.Tool, content string, logger *slog.Logger) error {
	if !st.BeginSend() {
		return fmt.Errorf("a message is already in flight")
	}
	defer st.EndSend()

	sess, ok := st.CurrentSession()
	if !ok {
		created, err := c.CreateSession(ctx, client.CreateSessionParams{
			ToolID: tool.ID,
			Title:  truncate(content, 50),
		})
		if err != nil {
			return err
		}
		st.AddSession(created)
		st.SetCurrentSession(created.ID)
		sess = created
	}

	st.SetThinking(true)
	st.ClearToolCalls()

	userMsg, err := c.SaveUserMessage(ctx, sess.ID, content)
	if err != nil {
		st.SetThinking(false)
		return err
	}
	st.AddMessage(sess.ID, userMsg)

	placeholderID := store.NewPlaceholderID()
	st.AddMessage(sess.ID, &store.ChatMessage{
		ID:        placeholderID,
		SessionID: sess.ID,
		Role:      store.RoleAssistant,
		CreatedAt: time.Now(),
	})
	st.SetStreamingMessage(placeholderID, "")
	st.SetThinking(false)

	done := make(chan error, 1)
	cancel := stream.Open(ctx, stream.Options{
		BaseURL:   c.BaseURL(),
		SessionID: sess.ID,
		MessageID: userMsg.ID,
		Identity:  c.Identity(),
		Logger:    logger,
	}, stream.Callbacks{
		OnChunk: func(chunk string) {
			st.AppendStreamingContent(chunk)
			fmt.Print(chunk)
		},
		OnComplete: func(fullMessage string) {
			fmt.Println()
			done <- persistAssistantMessage(ctx, c, st, sess.ID, placeholderID, fullMessage)
		},
		OnError: func(err error) {
			fmt.Println()
			st.UpdateMessage(sess.ID, placeholderID, &store.UpdateChatMessage{
				Content: strPtr(apologyMessage),
			})
			st.SetStreamingMessage("", "")
			done <- err
		},
		OnToolCallStart: func(tc stream.ToolCallInfo) {
			st.AddToolCall(store.ActiveToolCall{
				Name:        tc.Name,
				Description: tc.Description,
				NodeType:    tc.NodeType,
			})
			fmt.Printf("[using %s...]\n", tc.Name)
		},
		OnToolCallEnd: func(tc stream.ToolCallInfo) {
			st.RemoveToolCall(tc.Name)
		},
	})
	defer cancel()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	// The cache write and the embedding call are independent; the embed is a
	// network round-trip, so run them concurrently. Neither failing should
	// fail the exchange itself.
	g, gctx := errgroup.WithContext(ctx)
	if cache != nil {
		g.Go(func() error {
			if err := cache.UpsertSession(gctx, sess, false); err != nil {
				return err
			}
			return cache.ReplaceMessages(gctx, sess.ID, st.SessionMessages(sess.ID))
		})
	}
	if idx != nil {
		g.Go(func() error {
			return indexFinishedReply(gctx, idx, st, sess.ID)
		})
	}
	if err := g.Wait(); err != nil {
		logger.Warn("post-exchange bookkeeping failed", "err", err)
	}
	return nil
}

// indexFinishedReply embeds the newest assistant message so it shows up in
// `toolbridge search`.
func indexFinishedReply(ctx context.Context, idx *searchindex.Index, st *store.Store, sessionID string) error {
	msgs := st.SessionMessages(sessionID)
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role != store.RoleAssistant || m.Content == "" || store.IsPlaceholderID(m.ID) {
			continue
		}
		return idx.IndexMessage(ctx, viper.GetString("user"), sessionID, m.ID, m.Content)
	}
	return nil
}

// persistAssistantMessage saves the streamed text and rekeys the placeholder.
// A save failure here is distinct from a stream failure: the streamed content
// stays in the store either way.
func persistAssistantMessage(ctx context.Context, c *client.Client, st *store.Store, sessionID, placeholderID, fullMessage string) error {
	saved, err := c.SaveAssistantMessage(ctx, sessionID, fullMessage)
	if err != nil {
		st.UpdateMessage(sessionID, placeholderID, &store.UpdateChatMessage{
			Content: strPtr(fullMessage),
		})
		st.SetStreamingMessage("", "")
		return err
	}
	st.UpdateMessage(sessionID, placeholderID, &store.UpdateChatMessage{
		ID:      strPtr(saved.ID),
		Content: strPtr(fullMessage),
	})
	st.SetStreamingMessage("", "")
	return nil
}

// truncate cuts s to at most n runes, never splitting a multi-byte sequence.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func strPtr(s string) *string {
	return &s
}
