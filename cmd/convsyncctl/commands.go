package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/matheus3301/convsync/internal/bus"
	"github.com/matheus3301/convsync/internal/chat"
	"github.com/matheus3301/convsync/internal/chatview"
	chatsync "github.com/matheus3301/convsync/internal/sync"
	"github.com/spf13/cobra"
)

var (
	openFollow bool
	sendWait   time.Duration
	createName string
)

func init() {
	openCmd.Flags().BoolVarP(&openFollow, "follow", "f", false, "keep printing new messages until interrupted")
	sendCmd.Flags().DurationVar(&sendWait, "wait", 5*time.Second, "how long to wait for the server to confirm")
	createCmd.Flags().StringVar(&createName, "group", "", "create a group with this name instead of a private conversation")
}

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"ls"},
	Short:   "List conversations with unread counts",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := startEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer e.stop()

		list, err := e.coord.LoadConversations(cmd.Context(), e.account)
		if err != nil {
			return err
		}
		if err := e.coord.RefreshUnreadCounts(cmd.Context(), e.account); err != nil {
			return err
		}
		if flagJSON {
			outputJSON(list)
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "ID\tTYPE\tTITLE\tUNREAD\tLAST")
		for _, c := range list {
			last := ""
			if c.LastMessage != nil {
				last = fmt.Sprintf("%s  %s", c.LastMessage.Timestamp.Local().Format(time.DateTime), truncate(c.LastMessage.Content, 40))
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", c.ID, c.Kind, c.Title(), e.coord.UnreadCount(e.account, c.ID), last)
		}
		return w.Flush()
	},
}

var unreadCmd = &cobra.Command{
	Use:   "unread",
	Short: "Show unread counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := startEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer e.stop()

		if err := e.coord.RefreshUnreadCounts(cmd.Context(), e.account); err != nil {
			return err
		}
		total := e.coord.TotalUnread(e.account)
		if flagJSON {
			outputJSON(map[string]any{"total": total})
			return nil
		}
		fmt.Printf("Unread: %d\n", total)
		return nil
	},
}

var openCmd = &cobra.Command{
	Use:   "open <conversation>",
	Short: "Print a conversation, optionally following new messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		e, err := startEngine(ctx)
		if err != nil {
			return err
		}
		defer e.stop()

		v := e.view()
		defer v.Close()
		if err := v.LoadConversation(ctx, args[0]); err != nil {
			return err
		}
		if msg := v.Error(); msg != "" {
			return fmt.Errorf("load %s: %s", args[0], msg)
		}

		p := &printer{seen: make(map[string]bool)}
		p.render(v)
		if !openFollow {
			return nil
		}
		for {
			select {
			case <-v.RefreshCh():
				p.render(v)
			case <-ctx.Done():
				return nil
			}
		}
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation> <text>...",
	Short: "Send a message and wait for the server to confirm it",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := startEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer e.stop()

		ctx := cmd.Context()
		conversation := args[0]
		if err := e.coord.LoadConversation(ctx, e.account, conversation); err != nil {
			return err
		}

		events, unsub := e.bus.SubscribeAccount("message.", e.account, 16)
		defer unsub()

		pending, ok := e.sender.Send(ctx, e.account, conversation, strings.Join(args[1:], " "))
		if !ok {
			return errors.New("message not sent")
		}
		if sendWait <= 0 {
			fmt.Println(pending.ClientID)
			return nil
		}

		timeout := time.After(sendWait)
		for {
			select {
			case evt := <-events:
				c, ok := evt.Payload.(chatsync.Confirmation)
				if evt.Kind != bus.KindMessageConfirmed || !ok || c.ClientID != pending.ClientID {
					continue
				}
				if flagJSON {
					outputJSON(c.Message)
				} else {
					fmt.Println(c.Message.ID)
				}
				return nil
			case <-timeout:
				return fmt.Errorf("no confirmation for %s within %s", pending.ClientID, sendWait)
			}
		}
	},
}

var createCmd = &cobra.Command{
	Use:   "create <user>...",
	Short: "Create a private conversation, or a group with --group",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := startEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer e.stop()

		var conv chat.ConversationSummary
		if createName != "" {
			conv, err = e.coord.CreateGroupConversation(cmd.Context(), e.account, createName, args)
		} else if len(args) == 1 {
			conv, err = e.coord.CreatePrivateConversation(cmd.Context(), e.account, args[0])
		} else {
			return errors.New("a private conversation takes exactly one user; use --group")
		}
		if err != nil {
			return err
		}
		if flagJSON {
			outputJSON(conv)
			return nil
		}
		fmt.Println(conv.ID)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <conversation>",
	Short: "Delete a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := startEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer e.stop()
		return e.coord.DeleteConversation(cmd.Context(), e.account, args[0])
	},
}

// printer writes messages once each, in order, plus a typing line when it changes.
type printer struct {
	seen   map[string]bool
	typing string
}

func (p *printer) render(v *chatview.View) {
	data, ok := v.ChatData()
	if !ok {
		return
	}
	for _, m := range data.Messages {
		if p.seen[m.ID] {
			continue
		}
		p.seen[m.ID] = true
		if m.IsPending() {
			// Printed again under its server id once confirmed.
			continue
		}
		if flagJSON {
			outputJSON(m)
			continue
		}
		sender := m.SenderID
		if prof, ok := data.Participants[m.SenderID]; ok && prof.DisplayName != "" {
			sender = prof.DisplayName
		}
		fmt.Printf("[%s] %s: %s\n", m.Timestamp.Local().Format(time.TimeOnly), sender, m.Content)
	}

	var names []string
	for _, u := range v.TypingUsers() {
		name := u.DisplayName
		if name == "" {
			name = u.UserID
		}
		names = append(names, name)
	}
	line := ""
	if len(names) > 0 {
		line = strings.Join(names, ", ") + " typing..."
	}
	if line != p.typing && !flagJSON {
		if line != "" {
			fmt.Println(line)
		}
		p.typing = line
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
