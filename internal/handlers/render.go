package handlers

import (
	"bytes"
	"fmt"
	"html/template"
	"slices"
	"strings"

	"github.com/MegaGrindStone/oceep-web-ui/internal/models"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/util"
)

type chat struct {
	ID    string
	Title string

	Active    bool
	Streaming bool
}

type message struct {
	ID     string
	ChatID string
	Index  int
	Role   string

	// Content is the rendered answer, without the reasoning segment.
	Content template.HTML
	// Copy is the plain text offered by the copy button.
	Copy     string
	Thinking string
	// Thinking is still being produced.
	ThinkingOpen bool

	Image   template.URL
	Sources []models.WebSource

	StreamingState string

	// CanRegenerate is set on model answers to a user message.
	CanRegenerate bool
}

const (
	streamingStateLoading   = "loading"
	streamingStateStreaming = "streaming"
	streamingStateEnded     = "ended"
)

var templateFuncs = template.FuncMap{
	"isUser": func(role string) bool { return role == string(models.RoleUser) },
}

func newMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			highlighting.NewHighlighting(
				highlighting.WithStyle("github"),
			),
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			// Raw HTML is shown as text instead of being dropped.
			renderer.WithNodeRenderers(util.Prioritized(escapedHTML{}, 100)),
		),
	)
}

// escapedHTML renders raw HTML nodes as escaped text.
type escapedHTML struct{}

func (escapedHTML) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindRawHTML, renderRawHTML)
	reg.Register(ast.KindHTMLBlock, renderHTMLBlock)
}

func renderRawHTML(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkSkipChildren, nil
	}
	n := node.(*ast.RawHTML)
	for i := 0; i < n.Segments.Len(); i++ {
		seg := n.Segments.At(i)
		_, _ = w.Write(util.EscapeHTML(seg.Value(source)))
	}
	return ast.WalkSkipChildren, nil
}

func renderHTMLBlock(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	n := node.(*ast.HTMLBlock)
	if entering {
		_, _ = w.WriteString("<p>")
		for i := 0; i < n.Lines().Len(); i++ {
			line := n.Lines().At(i)
			_, _ = w.Write(util.EscapeHTML(line.Value(source)))
		}
		return ast.WalkContinue, nil
	}
	if n.HasClosure() {
		_, _ = w.Write(util.EscapeHTML(n.ClosureLine.Value(source)))
	}
	_, _ = w.WriteString("</p>\n")
	return ast.WalkContinue, nil
}

func (m Main) renderMarkdown(src string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := m.markdown.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return template.HTML(buf.String()), nil
}

// imageURL returns img as a template URL if it is an inline image.
func imageURL(img string) template.URL {
	if !strings.HasPrefix(img, "data:image/") {
		return ""
	}
	if _, _, err := models.ParseDataURL(img); err != nil {
		return ""
	}
	return template.URL(img)
}

func (m Main) messageView(chatID string, msgs []models.Message, idx int) (message, error) {
	msg := msgs[idx]

	// Only model answers carry a reasoning segment; user text is shown as typed.
	segs, copyText := models.Segments{Display: msg.Content}, msg.Content
	if msg.Role == models.RoleModel {
		segs, copyText = models.SplitThinking(msg.Content), models.StripThinking(msg.Content)
	}
	content, err := m.renderMarkdown(segs.Display)
	if err != nil {
		return message{}, err
	}

	state := streamingStateEnded
	if msg.IsStreaming {
		state = streamingStateStreaming
		if msg.Content == "" {
			state = streamingStateLoading
		}
	}

	thinkingOpen := msg.Role == models.RoleModel && msg.IsStreaming &&
		strings.Contains(msg.Content, models.ThinkOpen) && !models.Closed(msg.Content)
	canRegenerate := msg.Role == models.RoleModel && !msg.IsStreaming &&
		idx > 0 && msgs[idx-1].Role == models.RoleUser

	return message{
		ID:             msg.ID,
		ChatID:         chatID,
		Index:          idx,
		Role:           string(msg.Role),
		Content:        content,
		Copy:           copyText,
		Thinking:       strings.TrimSpace(segs.Thinking),
		ThinkingOpen:   thinkingOpen,
		Image:          imageURL(msg.Image),
		Sources:        msg.GroundingMetadata.Sources(),
		StreamingState: state,
		CanRegenerate:  canRegenerate,
	}, nil
}

func (m Main) messageViews(ch models.Chat) ([]message, error) {
	msgs := make([]message, len(ch.Messages))
	for i := range ch.Messages {
		v, err := m.messageView(ch.ID, ch.Messages, i)
		if err != nil {
			return nil, err
		}
		msgs[i] = v
	}
	return msgs, nil
}

// renderAIBody renders the inner part of a model message of ch, which is what is streamed to
// clients.
func (m Main) renderAIBody(ch models.Chat, msg models.Message) (string, error) {
	msgs, idx := ch.Messages, slices.IndexFunc(ch.Messages, func(cm models.Message) bool { return cm.ID == msg.ID })
	if idx == -1 {
		msgs, idx = []models.Message{msg}, 0
	}
	v, err := m.messageView(ch.ID, msgs, idx)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, "ai_body", v); err != nil {
		return "", fmt.Errorf("failed to execute ai_body template: %w", err)
	}
	return sb.String(), nil
}

func (m Main) chatViews(activeID string) []chat {
	chats := m.library.List()
	views := make([]chat, len(chats))
	for i, ch := range chats {
		streaming := false
		for _, msg := range ch.Messages {
			if msg.IsStreaming {
				streaming = true
				break
			}
		}
		views[i] = chat{
			ID:        ch.ID,
			Title:     ch.Title,
			Active:    ch.ID == activeID,
			Streaming: streaming,
		}
	}
	return views
}
