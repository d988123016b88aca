package program

import (
	"context"
	"fmt"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2aclient"
	"github.com/a2aproject/a2a-go/a2aclient/agentcard"
)

// a2aTransportClient is the production RemoteTransportClient binding: it
// resolves the peer's agent card once and sends every subsequent message
// over a2a-go's native JSON-RPC client, grounded on hector's
// pkg/a2a/client/native.go (NativeClient wraps a2aclient.Client the same
// way) and pkg/agent/remoteagent/a2a.go's NewA2A (agent-card resolution
// then a2aclient.NewFromCard). A Remote agent's transport.endpoint (spec
// §4.6) doubles as the agent-card URL when agent_card_url is unset — the
// common case of a peer serving its own card at the well-known path.
type a2aTransportClient struct {
	ctx    context.Context
	client *a2aclient.Client
	card   *a2a.AgentCard
}

// newA2ATransportClient resolves cardURL's agent card and opens a client
// against it. Call once per Remote agent instance; Send is then cheap.
func newA2ATransportClient(ctx context.Context, cardURL string) (*a2aTransportClient, error) {
	card, err := agentcard.DefaultResolver.Resolve(ctx, cardURL)
	if err != nil {
		return nil, fmt.Errorf("resolve agent card at %s: %w", cardURL, err)
	}
	client, err := a2aclient.NewFromCard(ctx, card)
	if err != nil {
		return nil, fmt.Errorf("create a2a client for %s: %w", cardURL, err)
	}
	return &a2aTransportClient{ctx: ctx, client: client, card: card}, nil
}

// Send implements RemoteTransportClient by wrapping content in a single
// user-role text message and delegating to the peer's SendMessage RPC.
// endpoint is accepted for interface symmetry with other transports but
// unused here: a2a-go's client already pins itself to the resolved card's
// endpoint at construction time.
func (c *a2aTransportClient) Send(endpoint string, content string) error {
	msg := a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: content})
	params := &a2a.MessageSendParams{Message: msg}
	_, err := c.client.SendMessage(c.ctx, params)
	return err
}
