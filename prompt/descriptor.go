package prompt

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
	"github.com/playbooks-run/core/playbook"
)

// Descriptor is a callable playbook's interpreter-facing summary: owning
// agent, name, one-line description, visibility and a JSON schema of its
// parameters, built by BuildDescriptor. It carries no playbook source; Build
// renders the active playbook's source from Input.Active (spec §4.7).
type Descriptor struct {
	AgentName   string
	Name        string
	Description string
	Public      bool
	Schema      map[string]any
}

// Signature renders the "Name($p1, $p2=default)" form used in the catalog.
func Signature(name string, params []playbook.Param) string {
	s := name + "("
	for i, p := range params {
		if i > 0 {
			s += ", "
		}
		s += "$" + p.Name
		if p.HasDefault {
			s += "=" + p.Default
		}
	}
	return s + ")"
}

// BuildSchema generates a JSON-schema object describing a playbook's
// parameters. The embedded mini-language (spec §9) is untyped, so every
// parameter is schema'd as a free-form string; a parameter with a declared
// default is marked optional and its default surfaces in the description.
func BuildSchema(params []playbook.Param) map[string]any {
	props := jsonschema.NewProperties()
	required := make([]string, 0, len(params))
	for _, p := range params {
		desc := "playbook parameter"
		if p.HasDefault {
			desc = "playbook parameter, default " + p.Default
		} else {
			required = append(required, p.Name)
		}
		props.Set(p.Name, &jsonschema.Schema{
			Type:        "string",
			Description: desc,
		})
	}
	schema := &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	return out
}

// BuildDescriptor summarizes one playbook for the catalog entry of its
// owning class.
func BuildDescriptor(agentName string, pb *playbook.Playbook) Descriptor {
	return Descriptor{
		AgentName:   agentName,
		Name:        pb.Name,
		Description: pb.Description,
		Public:      pb.Public,
		Schema:      BuildSchema(pb.Params),
	}
}
