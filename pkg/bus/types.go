package bus

type EventType int

const (
	EventMessageCreate EventType = iota
	EventMessageUpdate
	EventReady
	EventDisconnected
	EventClosed
)

func (t EventType) String() string {
	switch t {
	case EventMessageCreate:
		return "message_create"
	case EventMessageUpdate:
		return "message_update"
	case EventReady:
		return "ready"
	case EventDisconnected:
		return "disconnected"
	case EventClosed:
		return "closed"
	}
	return "unknown"
}

type Attachment struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
}

type Embed struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// Message is a gateway message validated at the boundary: ID, ChannelID and
// AuthorID are always set.
type Message struct {
	ID              string       `json:"id"`
	ChannelID       string       `json:"channel_id"`
	GuildID         string       `json:"guild_id,omitempty"`
	AuthorID        string       `json:"author_id"`
	Content         string       `json:"content"`
	Attachments     []Attachment `json:"attachments,omitempty"`
	Embeds          []Embed      `json:"embeds,omitempty"`
	InteractionName string       `json:"interaction_name,omitempty"`
	Flags           int          `json:"flags,omitempty"`
}

// Event is the tagged variant pushed by the gateway. Message is set for
// EventMessageCreate/EventMessageUpdate, SessionID for EventReady, Err for
// EventDisconnected when the gateway reported one.
type Event struct {
	Type      EventType
	Message   *Message
	SessionID string
	Err       error
}

func (e Event) IsUpdate() bool {
	return e.Type == EventMessageUpdate
}

type EventHandler func(Event)
