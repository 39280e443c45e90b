package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/MegaGrindStone/oceep-web-ui/internal/conversation"
	"github.com/MegaGrindStone/oceep-web-ui/internal/models"
	"github.com/MegaGrindStone/oceep-web-ui/internal/ui"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	askChatID string
	askNew    bool
	askSearch bool
	askTutor  bool
	askSmart  bool
	askImage  string
)

var askCmd = &cobra.Command{
	Use:   "ask [prompt]",
	Short: "Send a prompt and stream the answer",
	Long: `Send a prompt to the latest chat, or to the one picked with --chat, and stream the answer.

Press Ctrl-C to stop the answer; what was streamed so far is kept in the chat.`,
	Args: cobra.ArbitraryArgs,
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askChatID, "chat", "c", "", "ID of the chat to continue")
	askCmd.Flags().BoolVarP(&askNew, "new", "n", false, "Start a new chat")
	askCmd.Flags().BoolVarP(&askSearch, "search", "s", false, "Ground the answer on a web search")
	askCmd.Flags().BoolVarP(&askTutor, "tutor", "t", false, "Answer as a tutor")
	askCmd.Flags().BoolVar(&askSmart, "smart", false, "Use the smart model")
	askCmd.Flags().StringVarP(&askImage, "image", "i", "", "Path of an image to attach")
	askCmd.MarkFlagsMutuallyExclusive("chat", "new")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	prompt := models.Prompt{
		Text: strings.Join(args, " "),
		Options: models.Options{
			Search:  askSearch,
			Tutor:   askTutor,
			Quality: models.QualityFast,
		},
	}
	if askSmart {
		prompt.Quality = models.QualitySmart
	}
	if askImage != "" {
		img, err := readImage(askImage)
		if err != nil {
			return err
		}
		prompt.Image = img
	}
	if strings.TrimSpace(prompt.Text) == "" && prompt.Image == "" {
		return fmt.Errorf("nothing to ask, pass a prompt or an image")
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	provider, err := a.cfg.Provider(ctx, a.logger)
	if err != nil {
		return fmt.Errorf("error creating provider: %w", err)
	}

	conv, err := pickConversation(a.library)
	if err != nil {
		return err
	}

	sp := ui.NewSpinner("Thinking")
	r := ui.NewStreamRenderer(cmd.OutOrStdout())
	a.library.OnChange(replyRenderer(conv.ID(), sp, r))

	sp.Start()
	s, err := conv.Send(ctx, provider, prompt)
	if err != nil {
		sp.Stop()
		return err
	}

	res := waitInterruptible(s)
	sp.Stop()
	r.Finish(res)

	if res.Outcome == conversation.OutcomeCompleted && !r.Started() {
		color.New(color.Faint).Fprintln(cmd.ErrOrStderr(), "[empty answer]")
	}
	if res.Outcome == conversation.OutcomeFailed {
		return fmt.Errorf("reply failed: %w", res.Err)
	}
	return nil
}

func pickConversation(lib *conversation.Library) (*conversation.Conversation, error) {
	switch {
	case askNew:
		return lib.New(), nil
	case askChatID != "":
		return lib.Get(askChatID)
	}
	return lib.Latest(), nil
}

// replyRenderer returns a change listener printing the streaming reply of the chat chatID.
func replyRenderer(chatID string, sp *ui.Spinner, r *ui.StreamRenderer) func(conversation.Change) {
	return func(ch conversation.Change) {
		if ch.Chat.ID != chatID || ch.Message == nil || ch.Message.Role != models.RoleModel {
			return
		}
		// The final update is reported through the stream result.
		if !ch.Message.IsStreaming || ch.Message.Content == "" {
			return
		}
		sp.Stop()
		r.Update(ch.Message.Content)
	}
}

// waitInterruptible waits for s, stopping it on the first interrupt. A second interrupt kills the
// process as usual.
func waitInterruptible(s *conversation.Stream) conversation.Result {
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)

	select {
	case <-s.Done():
	case <-sigCtx.Done():
		s.Stop()
	}
	stop()
	return s.Wait()
}

// readImage returns the image file at path as a data URL.
func readImage(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("error reading image: %w", err)
	}
	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		return "", fmt.Errorf("%s is not an image (%s)", path, mimeType)
	}
	return models.DataURL(mimeType, data), nil
}
