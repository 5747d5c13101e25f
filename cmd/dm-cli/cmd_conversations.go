package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"conv"},
	Short:   "List and start conversations",
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your conversations, most recent first",
	Args:  cobra.NoArgs,
	RunE:  runConversationsList,
}

var conversationsStartCmd = &cobra.Command{
	Use:   "start <user>",
	Short: "Start (or find) the conversation with another user",
	Args:  cobra.ExactArgs(1),
	RunE:  runConversationsStart,
}

func init() {
	conversationsCmd.AddCommand(conversationsListCmd)
	conversationsCmd.AddCommand(conversationsStartCmd)
}

func runConversationsList(cmd *cobra.Command, _ []string) error {
	client, _, _, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	conversations, err := client.ListConversations(cmd.Context())
	if err != nil {
		return err
	}
	if len(conversations) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No conversations yet.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tWITH\tLAST ACTIVITY\tLAST MESSAGE")
	for _, conv := range conversations {
		last, preview := "-", ""
		if conv.LastMessageAt != nil {
			last = conv.LastMessageAt.Local().Format(time.DateTime)
		}
		if conv.LastMessage != nil {
			preview = truncate(conv.LastMessage.Text, 40)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", conv.ID, conv.CounterpartID, last, preview)
	}
	return w.Flush()
}

func runConversationsStart(cmd *cobra.Command, args []string) error {
	client, _, _, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	conv, err := client.StartConversation(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", conv.ID)
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
