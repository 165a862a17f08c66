package llm

import (
	"errors"
	"os"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/harun/otto/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toolPath(t *testing.T) []*session.Item {
	t.Helper()
	s := session.New(session.Config{})
	require.NoError(t, s.AppendToLast(session.NewUserItem(session.ToContent("delete record 7")...)))

	agent := session.NewAgentItem("anthropic/claude-sonnet-4-20250514")
	agent.Content = []session.Content{
		session.NewText("Deleting"),
		session.NewThinking("the user wants 7 gone", "sig"),
		session.NewToolUse("call_1", "delete_record", map[string]interface{}{"id": float64(7)}),
		session.NewToolUse("call_2", "think", map[string]interface{}{"thought": "wait"}),
	}
	require.NoError(t, s.AppendToLast(agent))
	require.True(t, s.SetOverride("call_1", map[string]interface{}{"id": float64(8)}))
	s.ApplyToolUseUpdates(session.ToolUseUpdate{ID: "call_1", Result: "deleted"})
	return s.ActivePath()
}

func TestRender(t *testing.T) {
	t.Run("should put the system prompt first", func(t *testing.T) {
		msgs := Render(toolPath(t), "You are helpful", false)
		require.NotEmpty(t, msgs)
		assert.Equal(t, RoleSystem, msgs[0].Role)
		assert.Equal(t, "You are helpful", msgs[0].Text())
	})

	t.Run("should omit an empty system prompt", func(t *testing.T) {
		msgs := Render(toolPath(t), "", false)
		assert.Equal(t, RoleUser, msgs[0].Role)
	})

	t.Run("should follow tool calls with their finished results", func(t *testing.T) {
		msgs := Render(toolPath(t), "", false)

		require.Len(t, msgs, 3)
		assistant := msgs[1]
		assert.Equal(t, RoleAssistant, assistant.Role)
		require.Len(t, assistant.ToolCalls, 2)
		assert.Equal(t, float64(7), assistant.ToolCalls[0].Args["id"])

		tool := msgs[2]
		assert.Equal(t, RoleTool, tool.Role)
		assert.Equal(t, "call_1", tool.ToolCallID)
		assert.Equal(t, "deleted", tool.Text())
		assert.False(t, tool.IsError)
	})

	t.Run("should drop thinking unless asked to keep it", func(t *testing.T) {
		dropped := Render(toolPath(t), "", false)
		for _, p := range dropped[1].Parts {
			assert.NotEqual(t, session.ContentThinking, p.Type)
		}

		kept := Render(toolPath(t), "", true)
		var found bool
		for _, p := range kept[1].Parts {
			if p.Type == session.ContentThinking {
				found = true
				assert.Equal(t, "sig", p.Signature)
			}
		}
		assert.True(t, found)
	})
}

func TestToAnthropicMessages(t *testing.T) {
	t.Run("should merge tool results with the next user turn", func(t *testing.T) {
		msgs := Render(toolPath(t), "system", true)
		msgs = append(msgs, Message{Role: RoleUser, Parts: []Part{{Type: session.ContentText, Text: "thanks"}}})

		out, err := toAnthropicMessages(msgs)
		require.NoError(t, err)

		require.Len(t, out, 3)
		assert.Equal(t, anthropic.MessageParamRoleUser, out[0].Role)
		assert.Equal(t, anthropic.MessageParamRoleAssistant, out[1].Role)
		assert.Equal(t, anthropic.MessageParamRoleUser, out[2].Role)
		assert.Len(t, out[2].Content, 2)
		// thinking, text, two tool uses
		assert.Len(t, out[1].Content, 4)
	})

	t.Run("should fail on nothing to send", func(t *testing.T) {
		_, err := toAnthropicMessages([]Message{{Role: RoleSystem}})
		assert.Error(t, err)
	})
}

func TestProviderHelpers(t *testing.T) {
	t.Run("should split known providers only", func(t *testing.T) {
		p, name, ok := SplitModel("gemini/gemini-2.5-flash")
		assert.True(t, ok)
		assert.Equal(t, "gemini", p)
		assert.Equal(t, "gemini-2.5-flash", name)

		_, _, ok = SplitModel("gpt-4")
		assert.False(t, ok)
		_, _, ok = SplitModel("openai/")
		assert.False(t, ok)
	})

	t.Run("should map efforts to budgets", func(t *testing.T) {
		assert.Equal(t, 0, ThinkingBudget(session.EffortNone))
		assert.Equal(t, 4096, ThinkingBudget(session.EffortLow))
		assert.Equal(t, 8192, ThinkingBudget(session.EffortMedium))
		assert.Equal(t, 16384, ThinkingBudget(session.EffortHigh))
	})

	t.Run("should keep thinking for sonnet and opus", func(t *testing.T) {
		assert.True(t, preserveThinking("anthropic/claude-sonnet-4-20250514"))
		assert.True(t, preserveThinking("anthropic/claude-opus-4-1"))
		assert.False(t, preserveThinking("anthropic/claude-3-5-haiku"))
	})

	t.Run("should prefer the environment over configured keys", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "AIza-env")
		name, key := resolveKey(ProviderGemini, map[string]string{"gemini": "AIza-cfg"})
		assert.Equal(t, "GEMINI_API_KEY", name)
		assert.Equal(t, "AIza-env", key)

		require.NoError(t, os.Unsetenv("GEMINI_API_KEY"))
		_, key = resolveKey(ProviderGemini, map[string]string{"gemini_api_key": "AIza-cfg"})
		assert.Equal(t, "AIza-cfg", key)
	})

	t.Run("should parse data urls", func(t *testing.T) {
		mt, data, ok := parseDataURL("data:application/pdf;base64,JVBERi0=")
		require.True(t, ok)
		assert.Equal(t, "application/pdf", mt)
		assert.Equal(t, "JVBERi0=", data)

		_, _, ok = parseDataURL("https://example.com/a.png")
		assert.False(t, ok)
	})

	t.Run("should normalize finish reasons", func(t *testing.T) {
		assert.Equal(t, FinishToolCalls, normalizeFinish("function_call"))
		assert.Equal(t, FinishStop, normalizeFinish("stop"))
		assert.Equal(t, session.EndToolUse, endReason(normalizeFinish("tool_calls")))
		assert.Equal(t, session.EndTurn, endReason("stop"))
		assert.Equal(t, session.EndReason(""), endReason("length"))
	})

	t.Run("should only attach gemini thinking with a budget", func(t *testing.T) {
		assert.Empty(t, geminiThinking(Request{}))
		assert.Len(t, geminiThinking(Request{ThinkingBudget: 4096}), 2)
		assert.Equal(t, ProviderGemini, NewGeminiProvider("AIza-test").Name())
	})

	t.Run("should recognise rate limit messages", func(t *testing.T) {
		assert.True(t, IsRateLimited(errors.New("Error: rate_limit_error")))
		assert.True(t, IsRateLimited(errors.New("This request would exceed the rate limit for your organization")))
		assert.False(t, IsRateLimited(errors.New("bad request")))
		assert.False(t, IsRateLimited(nil))
		assert.True(t, IsConfigError(&ConfigError{Reason: "x"}))
	})
}
