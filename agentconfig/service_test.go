package agentconfig

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelai/agentcore/model"
	"github.com/kestrelai/agentcore/store"
	"github.com/kestrelai/agentcore/store/storetest"
)

func newAgentWithConfig(t *testing.T, s store.Store, model_ string) (*model.Agent, *model.AgentConfig) {
	t.Helper()
	ctx := context.Background()
	agent, err := s.CreateAgent(ctx, store.CreateAgentParams{Name: "test-agent"})
	require.NoError(t, err)

	v, err := s.CreateVersion(ctx, model.AgentConfig{
		AgentID:     agent.ID,
		Model:       model_,
		Temperature: 0.7,
		SystemPrompt: "be helpful",
	})
	require.NoError(t, err)
	require.NoError(t, s.SetCurrentVersion(ctx, agent.ID, v.VersionID))
	agent.CurrentVersionID = v.VersionID
	return agent, v
}

func TestGetCurrent_ReturnsPointedVersion(t *testing.T) {
	s := storetest.New()
	agent, v0 := newAgentWithConfig(t, s, "gpt-4o-mini")

	cur, err := New(s).GetCurrent(context.Background(), agent.ID)
	require.NoError(t, err)
	assert.Equal(t, v0.VersionID, cur.VersionID)
}

func TestUpdate_CreatesNewVersionChainedToCurrent(t *testing.T) {
	s := storetest.New()
	agent, v0 := newAgentWithConfig(t, s, "gpt-4o-mini")
	svc := New(s)

	newModel := "gpt-4o"
	updated, err := svc.Update(context.Background(), agent.ID, ConfigPatch{Model: &newModel}, "switch model")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", updated.Model)
	assert.Equal(t, v0.VersionID, updated.ParentVersion)
	assert.Equal(t, 0.7, updated.Temperature, "unpatched fields carry over")

	cur, err := svc.GetCurrent(context.Background(), agent.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.VersionID, cur.VersionID)
}

func TestUpdate_FiresConfigChangedEvent(t *testing.T) {
	s := storetest.New()
	agent, _ := newAgentWithConfig(t, s, "gpt-4o-mini")
	svc := New(s)

	var got *ChangeEvent
	svc.OnChange(func(ev ChangeEvent) { got = &ev })

	newModel := "gpt-4o"
	updated, err := svc.Update(context.Background(), agent.ID, ConfigPatch{Model: &newModel}, "switch model")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, agent.ID, got.AgentID)
	assert.Equal(t, updated.VersionID, got.NewVersion.VersionID)
}

func TestRollback_CreatesNewVersionPointingAtTargetContentWithoutMutatingHistory(t *testing.T) {
	s := storetest.New()
	agent, v0 := newAgentWithConfig(t, s, "gpt-4o-mini")
	svc := New(s)
	ctx := context.Background()

	newModel := "gpt-4o"
	v1, err := svc.Update(ctx, agent.ID, ConfigPatch{Model: &newModel}, "switch model")
	require.NoError(t, err)

	rolled, err := svc.Rollback(ctx, agent.ID, v0.VersionID)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", rolled.Model, "content matches the rollback target")
	assert.Equal(t, v0.VersionID, rolled.ParentVersion, "parent is the target, not the prior current")
	assert.NotEqual(t, v0.VersionID, rolled.VersionID, "rollback is a new version, not a mutation")

	history, err := svc.ListVersions(ctx, agent.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 3, "v0 and v1 remain in history alongside the rollback version")

	orig, err := s.GetVersion(ctx, v0.VersionID)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", orig.Model, "the original version is untouched")
	_ = v1
}

func TestListVersions_NewestFirstAndLimited(t *testing.T) {
	s := storetest.New()
	agent, _ := newAgentWithConfig(t, s, "gpt-4o-mini")
	svc := New(s)
	ctx := context.Background()

	m1, m2 := "gpt-4o", "gpt-4"
	_, err := svc.Update(ctx, agent.ID, ConfigPatch{Model: &m1}, "step 1")
	require.NoError(t, err)
	latest, err := svc.Update(ctx, agent.ID, ConfigPatch{Model: &m2}, "step 2")
	require.NoError(t, err)

	history, err := svc.ListVersions(ctx, agent.ID, 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, latest.VersionID, history[0].VersionID)
}

func TestUpdate_ReasoningEnabled_ClearedForUnsupportedModel(t *testing.T) {
	s := storetest.New()
	agent, _ := newAgentWithConfig(t, s, "gpt-4o-mini")
	svc := New(s)

	enabled := true
	maxReasoning := 4000
	updated, err := svc.Update(context.Background(), agent.ID, ConfigPatch{
		ReasoningEnabled:   &enabled,
		MaxReasoningTokens: &maxReasoning,
	}, "enable reasoning")
	require.NoError(t, err)
	assert.False(t, updated.ReasoningEnabled, "gpt-4o-mini does not support reasoning")
	assert.Nil(t, updated.MaxReasoningTokens)
}

func TestUpdate_ReasoningEnabled_KeptForSupportedModel(t *testing.T) {
	s := storetest.New()
	agent, _ := newAgentWithConfig(t, s, "deepseek-reasoner")
	svc := New(s)

	enabled := true
	maxReasoning := 4000
	updated, err := svc.Update(context.Background(), agent.ID, ConfigPatch{
		ReasoningEnabled:   &enabled,
		MaxReasoningTokens: &maxReasoning,
	}, "enable reasoning")
	require.NoError(t, err)
	assert.True(t, updated.ReasoningEnabled)
	require.NotNil(t, updated.MaxReasoningTokens)
	assert.Equal(t, 4000, *updated.MaxReasoningTokens)
}

func TestGetCurrent_NoVersion_ReturnsInvalidRequest(t *testing.T) {
	s := storetest.New()
	agent, err := s.CreateAgent(context.Background(), store.CreateAgentParams{Name: "bare"})
	require.NoError(t, err)

	_, err = New(s).GetCurrent(context.Background(), agent.ID)
	require.Error(t, err)
}
