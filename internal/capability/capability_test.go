package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"mcpcore/internal/mcp"
)

func TestDefaultNegotiator_ServerOwnedCapability(t *testing.T) {
	n := DefaultNegotiator()
	server := &mcp.Capabilities{Tools: &mcp.ToolsCapability{}}
	results := n.Negotiate(nil, server)
	assert.True(t, IsActive(results, "tools"))
}

func TestDefaultNegotiator_ClientOwnedCapability(t *testing.T) {
	n := DefaultNegotiator()
	client := &mcp.Capabilities{Sampling: &mcp.SamplingCapability{}}
	results := n.Negotiate(client, nil)
	assert.True(t, IsActive(results, "sampling"))
	assert.False(t, IsActive(results, "tools"))
}

func TestDefaultNegotiator_OptionalActivatesFromEitherSide(t *testing.T) {
	n := DefaultNegotiator()

	onlyClient := n.Negotiate(&mcp.Capabilities{Progress: &mcp.ProgressCapability{}}, nil)
	assert.True(t, IsActive(onlyClient, "progress"))

	onlyServer := n.Negotiate(nil, &mcp.Capabilities{Progress: &mcp.ProgressCapability{}})
	assert.True(t, IsActive(onlyServer, "progress"))

	neither := n.Negotiate(nil, nil)
	assert.False(t, IsActive(neither, "progress"))
}

func TestRequireBoth_NeedsBothSides(t *testing.T) {
	n := New(Entry{Name: "tools", Rule: RequireBoth})

	onlyServer := n.Negotiate(nil, &mcp.Capabilities{Tools: &mcp.ToolsCapability{}})
	assert.False(t, IsActive(onlyServer, "tools"))

	both := n.Negotiate(&mcp.Capabilities{Tools: &mcp.ToolsCapability{}}, &mcp.Capabilities{Tools: &mcp.ToolsCapability{}})
	assert.True(t, IsActive(both, "tools"))
}

func TestCustomRule_DefersToFunc(t *testing.T) {
	called := false
	n := New(Entry{Name: "weird", Rule: Custom, Custom: func(client, server *mcp.Capabilities) bool {
		called = true
		return true
	}})
	results := n.Negotiate(nil, nil)
	assert.True(t, called)
	assert.True(t, IsActive(results, "weird"))
}

func TestCustomRule_NilFuncIsInactive(t *testing.T) {
	n := New(Entry{Name: "weird", Rule: Custom})
	results := n.Negotiate(nil, nil)
	assert.False(t, IsActive(results, "weird"))
}

func TestIsActive_UnknownNameIsFalse(t *testing.T) {
	n := DefaultNegotiator()
	results := n.Negotiate(nil, nil)
	assert.False(t, IsActive(results, "does-not-exist"))
}
