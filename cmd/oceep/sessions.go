package main

import (
	"fmt"
	"strings"

	"github.com/MegaGrindStone/oceep-web-ui/internal/ui"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"chats"},
	Short:   "List chats, newest first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		ui.PrintChats(cmd.OutOrStdout(), a.library.List(), a.library.Latest().ID())
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <chat-id>",
	Short: "Print the transcript of a chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		conv, err := a.library.Get(args[0])
		if err != nil {
			return err
		}
		ui.PrintChat(cmd.OutOrStdout(), conv.Snapshot())
		return nil
	},
}

var renameCmd = &cobra.Command{
	Use:   "rename <chat-id> <title>",
	Short: "Rename a chat",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		title := strings.TrimSpace(strings.Join(args[1:], " "))
		if title == "" {
			return fmt.Errorf("title is empty")
		}
		return a.library.Rename(args[0], title)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <chat-id>",
	Short: "Delete a chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		return a.library.Delete(args[0])
	},
}

func init() {
	sessionsCmd.AddCommand(showCmd)
	sessionsCmd.AddCommand(renameCmd)
	sessionsCmd.AddCommand(deleteCmd)
}
