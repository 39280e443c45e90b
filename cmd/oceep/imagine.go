package main

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"slices"
	"strings"

	"github.com/MegaGrindStone/oceep-web-ui/internal/config"
	"github.com/MegaGrindStone/oceep-web-ui/internal/conversation"
	"github.com/MegaGrindStone/oceep-web-ui/internal/models"
	"github.com/MegaGrindStone/oceep-web-ui/internal/ui"
	"github.com/spf13/cobra"
)

var imagineOutput string

var imagineCmd = &cobra.Command{
	Use:   "imagine [prompt]",
	Short: "Generate an image into the latest chat and save it",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runImagine,
}

func init() {
	imagineCmd.Flags().StringVarP(&imagineOutput, "output", "o", "", "File to write the image to (default is image.<ext>)")
	imagineCmd.Flags().StringVarP(&askChatID, "chat", "c", "", "ID of the chat to add the image to")
	imagineCmd.Flags().BoolVarP(&askNew, "new", "n", false, "Start a new chat")
	imagineCmd.MarkFlagsMutuallyExclusive("chat", "new")
}

func runImagine(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	gen, err := a.cfg.ImageGenerator(ctx, a.logger)
	if errors.Is(err, config.ErrImageUnsupported) {
		return fmt.Errorf("the configured provider can't generate images")
	}
	if err != nil {
		return fmt.Errorf("error creating image generator: %w", err)
	}

	conv, err := pickConversation(a.library)
	if err != nil {
		return err
	}

	sp := ui.NewSpinner("Generating image")
	sp.Start()
	s, err := conv.GenerateImage(ctx, gen, strings.Join(args, " "))
	if err != nil {
		sp.Stop()
		return err
	}
	res := waitInterruptible(s)
	sp.Stop()

	if res.Outcome == conversation.OutcomeFailed {
		return fmt.Errorf("image generation failed: %w", res.Err)
	}

	msgs := conv.Snapshot().Messages
	idx := slices.IndexFunc(msgs, func(m models.Message) bool { return m.ID == s.ID })
	if idx == -1 || msgs[idx].Image == "" {
		return fmt.Errorf("no image was generated")
	}

	mimeType, data, err := models.ParseDataURL(msgs[idx].Image)
	if err != nil {
		return err
	}
	path := imagineOutput
	if path == "" {
		path = "image" + extension(mimeType)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("error writing image: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), res.Content)
	fmt.Fprintf(cmd.OutOrStdout(), "Saved to %s\n", path)
	return nil
}

func extension(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	}
	if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
		return exts[0]
	}
	return ".img"
}
