// Package notifier is the single notification egress: a bounded queue, one
// worker, per-kind channel routing and retry on transport errors.
package notifier

// Kind selects the destination channel.
type Kind string

const (
	KindSystem    Kind = "system"
	KindCharacter Kind = "character"
	KindKill      Kind = "kill"
	KindRally     Kind = "rally"
	KindStatus    Kind = "status"
)

// Field is one embed field.
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// Embed is one rich block in a webhook payload.
type Embed struct {
	Title       string  `json:"title,omitempty"`
	Description string  `json:"description,omitempty"`
	URL         string  `json:"url,omitempty"`
	Color       int     `json:"color,omitempty"`
	Thumbnail   *Image  `json:"thumbnail,omitempty"`
	Fields      []Field `json:"fields,omitempty"`
}

// Image is an embed thumbnail reference.
type Image struct {
	URL string `json:"url"`
}

// WebhookPayload is the outbound chat-webhook body.
type WebhookPayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

// Notification is one unit of egress work.
type Notification struct {
	Kind Kind
	// Fingerprint identifies the originating entity for failure bookkeeping,
	// e.g. "kill:123456".
	Fingerprint string
	Payload     WebhookPayload
}

// Embed colors per kind.
const (
	ColorSystem    = 0x3498DB // blue
	ColorCharacter = 0x2ECC71 // green
	ColorKill      = 0xE74C3C // red
	ColorRally     = 0xF1C40F // yellow
	ColorStatus    = 0x95A5A6 // grey
)

// ColorFor maps a kind to its embed color.
func ColorFor(kind Kind) int {
	switch kind {
	case KindSystem:
		return ColorSystem
	case KindCharacter:
		return ColorCharacter
	case KindKill:
		return ColorKill
	case KindRally:
		return ColorRally
	default:
		return ColorStatus
	}
}
