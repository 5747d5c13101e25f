package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"jan-server/services/dm-api/internal/domain/conversation"
	"jan-server/services/dm-api/internal/domain/ingest"
	"jan-server/services/dm-api/internal/domain/viewsession"
	"jan-server/services/dm-api/internal/infrastructure/dmclient"
)

var chatCmd = &cobra.Command{
	Use:   "chat <conversation-id>",
	Short: "Open a conversation and chat interactively",
	Long: `Prints the conversation history, then follows new messages live.
Each line typed is sent as a message. Type /quit or press Ctrl+D to leave.`,
	Args: cobra.ExactArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().Duration("match-window", viewsession.DefaultMatchWindow, "How far apart a local send and its stored copy may be")
	chatCmd.Flags().String("attach", "", "Attachment reference sent with the first message")
}

func runChat(cmd *cobra.Command, args []string) error {
	client, cfg, log, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	userID := cfg.identity()
	if userID == "" {
		return errors.New("cannot determine your user id; set user_id or use a token with a subject")
	}
	window, _ := cmd.Flags().GetDuration("match-window")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conversationID := args[0]
	history, err := client.ListMessages(ctx, conversationID)
	if err != nil {
		return err
	}

	out := newChatPrinter(cmd.OutOrStdout(), userID)
	for _, msg := range history {
		out.printMessage(msg)
	}

	session, err := viewsession.Open(ctx, viewsession.Options{
		ConversationID: conversationID,
		UserID:         userID,
		Bus:            dmclient.NewStreamBus(client),
		Ingest:         client,
		MatchWindow:    window,
		Listener:       out.handle,
		Logger:         log,
	}, history)
	if session != nil {
		defer session.Close()
	}
	if err != nil {
		return err
	}

	attach, _ := cmd.Flags().GetString("attach")
	return chatLoop(ctx, session, cmd.InOrStdin(), out, attach)
}

// chatLoop sends each input line until input ends or the user quits. A failed
// session only stops live updates; history stays on screen and sends still go out.
func chatLoop(ctx context.Context, session *viewsession.Session, in io.Reader, out *chatPrinter, attach string) error {
	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text := strings.TrimSpace(line)
			switch text {
			case "":
				continue
			case "/quit", "/exit":
				return nil
			}

			var opts []ingest.SendOption
			if attach != "" {
				opts = append(opts, ingest.WithAttachment(attach))
				attach = ""
			}
			if _, err := session.Send(ctx, text, opts...); err != nil {
				out.notice("not sent: %v", err)
			}
		}
	}
}

// chatPrinter renders session changes as terminal lines. A confirmed message
// is printed once, the first time it appears.
type chatPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	userID  string
	printed map[string]struct{}
	lost    bool
}

func newChatPrinter(w io.Writer, userID string) *chatPrinter {
	return &chatPrinter{
		w:       w,
		userID:  userID,
		printed: make(map[string]struct{}),
	}
}

// handle is the session listener; it never calls back into the session.
// Removed provisional entries are not shown: a failed send is reported by
// chatLoop and an echo that beat its own send is printed as confirmed.
func (p *chatPrinter) handle(change viewsession.Change) {
	switch change.Kind {
	case viewsession.ChangeInserted:
		if change.Entry.Kind == viewsession.KindConfirmed {
			p.printMessage(change.Entry.Message)
		}
	case viewsession.ChangeReplaced:
		if change.Entry.Kind != viewsession.KindConfirmed {
			return
		}
		// An edit is shown again; a confirmation of our own send only once.
		p.print(change.Entry.Message, change.Entry.Message.Edited)
	case viewsession.ChangeState:
		switch change.State {
		case viewsession.StateOpen:
			p.notice("connected, type a message and press enter")
		case viewsession.StateError:
			if p.markLost() {
				p.notice("connection lost: %v", change.Err)
				p.notice("live updates stopped; you can still send, rerun chat to reconnect")
			}
		}
	}
}

// markLost reports whether this is the first time the connection was lost.
func (p *chatPrinter) markLost() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	first := !p.lost
	p.lost = true
	return first
}

func (p *chatPrinter) printMessage(msg conversation.Message) {
	p.print(msg, false)
}

func (p *chatPrinter) print(msg conversation.Message, again bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.printed[msg.ID]; ok && !again {
		return
	}
	p.printed[msg.ID] = struct{}{}

	who := msg.SenderID
	if who == p.userID {
		who = "you"
	}
	line := fmt.Sprintf("[%s] %s: %s", msg.CreatedAt.Local().Format(time.Kitchen), who, msg.Text)
	if msg.AttachmentRef != nil {
		line += " [attachment: " + *msg.AttachmentRef + "]"
	}
	if msg.Edited {
		line += " (edited)"
	}
	fmt.Fprintln(p.w, line)
}

func (p *chatPrinter) notice(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "* "+format+"\n", args...)
}
