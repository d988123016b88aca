// Package playbook parses playbook source into agent classes (spec §4.6 and
// §6, C6): H1 agent sections with typed headers, metadata, and delivery
// preferences, containing H2 playbooks (markdown-interpreted or native
// embedded-code) with triggers and steps.
package playbook

// AgentType is the declared kind of an H1 agent section.
type AgentType string

const (
	TypeAI     AgentType = "AI"
	TypeHuman  AgentType = "Human"
	TypeRemote AgentType = "Remote"
)

// Kind distinguishes a markdown (LLM-interpreted) playbook from a native
// embedded-code one.
type Kind string

const (
	KindMarkdown Kind = "markdown"
	KindCode     Kind = "embedded-code"
)

// Param is one parameter of a playbook's signature, with an optional
// default expressed as the raw source text (evaluated lazily by the
// executor's mini-language).
type Param struct {
	Name    string
	Default string
	HasDefault bool
}

// Playbook is a named, parameterized unit of agent behavior (GLOSSARY).
type Playbook struct {
	Name              string
	Params            []Param
	Kind              Kind
	Body              string // markdown step/notes source, or code body
	Public            bool
	Meeting           bool
	RequiredAttendees []string
	OptionalAttendees []string
	Triggers          []TriggerSource
	Steps             []string
	Notes             []string
	Description       string
}

// TriggerSource is one raw "### Triggers" bullet, before compilation into a
// predicate by the trigger package (C12).
type TriggerSource struct {
	Text string
}

// DeliveryChannel is a Human agent's delivery channel preference.
type DeliveryChannel string

const (
	ChannelStreaming DeliveryChannel = "streaming"
	ChannelBuffered  DeliveryChannel = "buffered"
	ChannelCustom    DeliveryChannel = "custom"
)

// MeetingNotifications controls which meeting broadcasts a Human is shown.
type MeetingNotifications string

const (
	NotifyAll      MeetingNotifications = "all"
	NotifyTargeted MeetingNotifications = "targeted"
	NotifyNone     MeetingNotifications = "none"
)

// DeliveryPreferences configures how a Human agent receives messages
// (spec §3).
type DeliveryPreferences struct {
	Channel              DeliveryChannel       `mapstructure:"channel"`
	StreamingEnabled     bool                  `mapstructure:"streaming_enabled"`
	StreamingChunkSize   int                   `mapstructure:"streaming_chunk_size"`
	BufferMessages       int                   `mapstructure:"buffer_messages"`
	BufferTimeoutSeconds int                   `mapstructure:"buffer_timeout"`
	MeetingNotifications MeetingNotifications  `mapstructure:"meeting_notifications"`
	CustomHandler        string                `mapstructure:"custom_handler"`
}

// RemoteTransport describes how to reach a Remote agent (here, an A2A peer;
// see SPEC_FULL DOMAIN STACK).
type RemoteTransport struct {
	AgentCardURL string `mapstructure:"agent_card_url"`
	Endpoint     string `mapstructure:"endpoint"`
}

// AgentClass is the declarative, builder-produced description of an agent
// (spec §4.6): Program (C10) instantiates concrete Agent values from these.
type AgentClass struct {
	Name        string
	Type        AgentType
	Description string
	Metadata    map[string]any

	// AI
	Playbooks        map[string]*Playbook
	Triggers         []TriggerSource
	StartAtInit      bool

	// Human
	HumanName   string
	Delivery    DeliveryPreferences

	// Remote
	Transport RemoteTransport
}
