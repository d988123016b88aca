package playbook

import (
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/mitchellh/mapstructure"
	"github.com/playbooks-run/core/perr"
)

func rawBytesProvider(raw string) *rawbytes.RawBytes {
	return rawbytes.Provider([]byte(raw))
}

// BuildClasses turns a parsed AST into the mapping of agent class name to
// AgentClass the program instantiates from (spec §4.6).
func BuildClasses(ast *AST) (map[string]*AgentClass, error) {
	classes := make(map[string]*AgentClass, len(ast.Sections))
	for _, sec := range ast.Sections {
		class, err := buildClass(sec)
		if err != nil {
			return nil, err
		}
		classes[class.Name] = class
	}
	return classes, nil
}

func buildClass(sec Section) (*AgentClass, error) {
	metadata, err := decodeMetadata(sec.MetadataRaw)
	if err != nil {
		return nil, perr.New(perr.KindInvalidMetadata, "playbook", "buildClass", sec.Name+": "+err.Error(), err)
	}

	class := &AgentClass{
		Name:        sec.Name,
		Type:        sec.Type,
		Description: sec.Description,
		Metadata:    metadata,
	}

	switch sec.Type {
	case TypeHuman:
		if err := buildHuman(class, metadata); err != nil {
			return nil, err
		}
	case TypeRemote:
		if err := buildRemote(class, metadata, sec); err != nil {
			return nil, err
		}
	default:
		if err := buildAI(class, sec); err != nil {
			return nil, err
		}
	}
	return class, nil
}

func decodeMetadata(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	k := koanf.New(".")
	if err := k.Load(rawBytesProvider(raw), yaml.Parser()); err != nil {
		return nil, err
	}
	return k.Raw(), nil
}

func buildHuman(class *AgentClass, metadata map[string]any) error {
	prefs := DeliveryPreferences{
		Channel:               ChannelStreaming,
		StreamingEnabled:      true,
		StreamingChunkSize:    1,
		MeetingNotifications:  NotifyAll,
	}
	if name, ok := metadata["name"].(string); ok {
		class.HumanName = name
	}
	if raw, ok := metadata["delivery"]; ok {
		if err := mapstructure.Decode(raw, &prefs); err != nil {
			return perr.New(perr.KindInvalidMetadata, "playbook", "buildHuman", class.Name+": delivery: "+err.Error(), err)
		}
	}
	switch prefs.Channel {
	case ChannelStreaming, ChannelBuffered, ChannelCustom:
	case "":
		prefs.Channel = ChannelStreaming
	default:
		return perr.New(perr.KindInvalidMetadata, "playbook", "buildHuman", class.Name+": unknown delivery channel "+string(prefs.Channel), nil)
	}
	// Invariant: channel=buffered implies streaming_enabled=false.
	if prefs.Channel == ChannelBuffered {
		prefs.StreamingEnabled = false
	}
	class.Delivery = prefs
	return nil
}

func buildRemote(class *AgentClass, metadata map[string]any, sec Section) error {
	transport := RemoteTransport{}
	if raw, ok := metadata["transport"]; ok {
		if err := mapstructure.Decode(raw, &transport); err != nil {
			return perr.New(perr.KindInvalidMetadata, "playbook", "buildRemote", class.Name+": transport: "+err.Error(), err)
		}
	}
	for _, pb := range sec.Playbooks {
		if raw, ok := pb.Flags["remote"]; ok {
			if err := decodeInlineFlagMap(raw, &transport); err != nil {
				return err
			}
		}
	}
	class.Transport = transport
	return nil
}

func buildAI(class *AgentClass, sec Section) error {
	class.Playbooks = make(map[string]*Playbook, len(sec.Playbooks)+len(sec.NativeCode))

	for _, nc := range sec.NativeCode {
		if _, exists := class.Playbooks[nc.Name]; exists {
			return perr.New(perr.KindDuplicateAgent, "playbook", "buildAI", class.Name+"."+nc.Name, nil)
		}
		class.Playbooks[nc.Name] = &Playbook{
			Name:   nc.Name,
			Params: nc.Params,
			Kind:   KindCode,
			Body:   nc.Body,
			Public: true,
		}
	}

	for _, pbAST := range sec.Playbooks {
		pb, triggers, err := buildMarkdownPlaybook(pbAST)
		if err != nil {
			return err
		}
		if _, exists := class.Playbooks[pb.Name]; exists {
			return perr.New(perr.KindDuplicateAgent, "playbook", "buildAI", class.Name+"."+pb.Name, nil)
		}
		class.Playbooks[pb.Name] = pb
		class.Triggers = append(class.Triggers, triggers...)
		for _, t := range triggers {
			if isProgramStartTrigger(t.Text) {
				class.StartAtInit = true
			}
		}
	}
	// An agent with no start-triggers still needs instantiation at program
	// start so it can receive its first message.
	if len(class.Triggers) == 0 {
		class.StartAtInit = true
	}
	return nil
}

func buildMarkdownPlaybook(pbAST playbookAST) (*Playbook, []TriggerSource, error) {
	pb := &Playbook{
		Name:        pbAST.Name,
		Params:      pbAST.Params,
		Kind:        KindMarkdown,
		Description: pbAST.Description,
		Steps:       pbAST.Steps,
		Notes:       pbAST.Notes,
		Body:        strings.Join(pbAST.Steps, "\n"),
	}

	if v, ok := pbAST.Flags["public"]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, nil, perr.New(perr.KindInvalidMetadata, "playbook", "buildMarkdownPlaybook", pbAST.Name+": public: "+v, err)
		}
		pb.Public = b
	}
	if v, ok := pbAST.Flags["meeting"]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, nil, perr.New(perr.KindInvalidMetadata, "playbook", "buildMarkdownPlaybook", pbAST.Name+": meeting: "+v, err)
		}
		pb.Meeting = b
	}
	if v, ok := pbAST.Flags["required_attendees"]; ok {
		pb.RequiredAttendees = parseNameList(v)
	}
	if v, ok := pbAST.Flags["optional_attendees"]; ok {
		pb.OptionalAttendees = parseNameList(v)
	}

	triggers := make([]TriggerSource, 0, len(pbAST.Triggers))
	for _, t := range pbAST.Triggers {
		triggers = append(triggers, TriggerSource{Text: t})
	}
	pb.Triggers = triggers
	return pb, triggers, nil
}

func parseNameList(v string) []string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "[")
	v = strings.TrimSuffix(v, "]")
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isProgramStartTrigger(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "at program start") || strings.Contains(lower, "on program start") || strings.Contains(lower, "program startup")
}

// decodeInlineFlagMap decodes a single-line "{ key: value, ... }" flag body
// (e.g. "remote: { endpoint: ... }") via the YAML parser, then into dst.
func decodeInlineFlagMap(raw string, dst any) error {
	k := koanf.New(".")
	if err := k.Load(rawBytesProvider(raw), yaml.Parser()); err != nil {
		return perr.New(perr.KindInvalidMetadata, "playbook", "decodeInlineFlagMap", err.Error(), err)
	}
	return mapstructure.Decode(k.Raw(), dst)
}
