package trigger

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/playbooks-run/core/ids"
	"github.com/playbooks-run/core/message"
	"github.com/playbooks-run/core/playbook"
)

func mustAgent(t *testing.T, s string) ids.AgentID {
	t.Helper()
	id, err := ids.ParseAgentID(s)
	require.NoError(t, err)
	return id
}

func directMessage(t *testing.T, content string) message.Message {
	t.Helper()
	msg, err := message.New(message.Params{
		SenderID: mustAgent(t, "alice"),
		Content:  content,
		Type:     message.TypeDirect,
	})
	require.NoError(t, err)
	return msg
}

func TestCompileProgramStartTrigger(t *testing.T) {
	c, err := compile("Main", "at program start", 0)
	require.NoError(t, err)
	require.Equal(t, KindProgramStart, c.Kind)
}

func TestCompileCronTrigger(t *testing.T) {
	c, err := compile("Digest", "every 0 9 * * *", 0)
	require.NoError(t, err)
	require.Equal(t, KindCron, c.Kind)
	require.Equal(t, "0 9 * * *", c.CronExpr)
	require.NoError(t, ValidateCronExpr(c.CronExpr))
}

func TestCompileRejectsInvalidCron(t *testing.T) {
	c, err := compile("Digest", "every not-a-cron-expr", 0)
	require.NoError(t, err) // parsed as a trigger; validity is checked separately
	require.Error(t, ValidateCronExpr(c.CronExpr))
}

func TestCompileQuotedPhraseTrigger(t *testing.T) {
	c, err := compile("Pricing", `when the message mentions "pricing" or "cost"`, 0)
	require.NoError(t, err)
	require.Equal(t, KindMessage, c.Kind)
	require.ElementsMatch(t, []string{"pricing", "cost"}, c.Phrases)
	require.True(t, c.matchesMessage(directMessage(t, "What is the pricing for this plan?")))
	require.False(t, c.matchesMessage(directMessage(t, "How are you today?")))
}

func TestCompileKeywordTriggerRequiresAllKeywords(t *testing.T) {
	c, err := compile("Escalate", "when asked about urgent refund", 0)
	require.NoError(t, err)
	require.True(t, c.matchesMessage(directMessage(t, "I need an urgent refund please")))
	require.False(t, c.matchesMessage(directMessage(t, "just an urgent question")))
}

func TestCompileCatchAllTrigger(t *testing.T) {
	c, err := compile("LogAll", "on any message", 0)
	require.NoError(t, err)
	require.Equal(t, 0, c.Specificity)
	require.True(t, c.matchesMessage(directMessage(t, "anything at all")))
}

func TestCompileMeetingInviteTrigger(t *testing.T) {
	c, err := compile("JoinStandup", "when invited to a meeting", 0)
	require.NoError(t, err)
	require.Equal(t, KindMeetingInvite, c.Kind)

	meetingID := ids.NewMeetingID("standup")
	invite, err := message.New(message.Params{
		SenderID:  mustAgent(t, "host"),
		MeetingID: &meetingID,
		Type:      message.TypeMeetingInvite,
	})
	require.NoError(t, err)
	require.True(t, c.matchesMessage(invite))
	require.False(t, c.matchesMessage(directMessage(t, "hello")))
}

func TestCatalogMatchPrefersMostSpecific(t *testing.T) {
	broad, err := compile("General", "on any message", 0)
	require.NoError(t, err)
	narrow, err := compile("Pricing", `when the message mentions "pricing question"`, 1)
	require.NoError(t, err)

	cat := &Catalog{triggers: []Compiled{broad, narrow}}
	best, ok := cat.Match(directMessage(t, "I have a pricing question for you"))
	require.True(t, ok)
	require.Equal(t, "Pricing", best.Playbook)
}

func TestCatalogMatchTiesBreakOnDeclarationOrder(t *testing.T) {
	first, err := compile("First", "when asked about billing", 0)
	require.NoError(t, err)
	second, err := compile("Second", "when asked about billing", 1)
	require.NoError(t, err)

	cat := &Catalog{triggers: []Compiled{second, first}}
	best, ok := cat.Match(directMessage(t, "a billing question"))
	require.True(t, ok)
	require.Equal(t, "First", best.Playbook)
}

func TestCatalogMatchNoneFound(t *testing.T) {
	t1, err := compile("Billing", "when asked about billing", 0)
	require.NoError(t, err)
	cat := &Catalog{triggers: []Compiled{t1}}

	_, ok := cat.Match(directMessage(t, "completely unrelated content"))
	require.False(t, ok)
}

func TestCompileClassBuildsDeterministicCatalog(t *testing.T) {
	src := `# Host:AI

## Main

### Triggers
- at program start

### Steps
- EXE $x = 1

## Pricing

### Triggers
- when the message mentions "pricing"

### Steps
- EXE $y = 2
`
	ast, err := playbook.Parse(src)
	require.NoError(t, err)
	classes, err := playbook.BuildClasses(ast)
	require.NoError(t, err)

	catalog, err := CompileClass(classes["Host"])
	require.NoError(t, err)

	_, ok := catalog.Match(directMessage(t, "what's your pricing?"))
	require.True(t, ok)
}
