package models

// Message represents an individual entry within a chat. A model message is only mutated while
// IsStreaming is true; once streaming ends its content is final.
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Image is a data URL of an attached (user) or generated (model) image.
	Image string `json:"image,omitempty"`

	IsStreaming bool `json:"isStreaming,omitempty"`

	// GroundingMetadata holds the source citations of a search-grounded answer.
	GroundingMetadata *GroundingMetadata `json:"groundingMetadata,omitempty"`
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a message typed by the user, optionally with an attached image.
	RoleUser Role = "user"
	// RoleModel represents a message produced by the language model.
	RoleModel Role = "model"
)

// GroundingMetadata carries the citations a provider attached to a search-grounded answer.
type GroundingMetadata struct {
	Chunks           []GroundingChunk `json:"groundingChunks,omitempty"`
	WebSearchQueries []string         `json:"webSearchQueries,omitempty"`
}

// GroundingChunk is a single cited source.
type GroundingChunk struct {
	Web *WebSource `json:"web,omitempty"`
}

// WebSource is a web page used to ground an answer.
type WebSource struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// Sources returns the web sources that can be shown to the user, which are the ones carrying
// both an URI and a title. It is safe to call on a nil receiver.
func (g *GroundingMetadata) Sources() []WebSource {
	if g == nil {
		return nil
	}
	var sources []WebSource
	for _, c := range g.Chunks {
		if c.Web == nil || c.Web.URI == "" || c.Web.Title == "" {
			continue
		}
		sources = append(sources, *c.Web)
	}
	return sources
}

// FragmentKind tells which variant a Fragment holds.
type FragmentKind int

const (
	// FragmentText is a plain text delta.
	FragmentText FragmentKind = iota
	// FragmentCitations is out-of-band citation metadata. It never contributes to the text.
	FragmentCitations
)

// Fragment is one unit yielded by a streaming provider response. Providers decide the variant
// when they build it; consumers switch on Kind and never inspect the payload shape.
type Fragment struct {
	Kind FragmentKind

	// Text would be filled if Kind is FragmentText.
	Text string
	// Citations would be filled if Kind is FragmentCitations.
	Citations *GroundingMetadata
}

// TextFragment returns a text delta fragment.
func TextFragment(text string) Fragment {
	return Fragment{Kind: FragmentText, Text: text}
}

// CitationsFragment returns a citation metadata fragment.
func CitationsFragment(g *GroundingMetadata) Fragment {
	return Fragment{Kind: FragmentCitations, Citations: g}
}
