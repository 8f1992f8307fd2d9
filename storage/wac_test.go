package storage

import (
	"testing"

	"github.com/ruteri/pod-consent-gateway/interfaces"
	"github.com/stretchr/testify/assert"
)

func TestWACRoundTrip(t *testing.T) {
	access := interfaces.Access{
		Public: interfaces.AccessModes{Read: true},
		Agents: map[interfaces.UserIdentity]interfaces.AccessModes{
			"https://acme.example/#id":  {Read: true, Append: true},
			"https://other.example/#id": {Read: true},
		},
	}

	doc := renderWAC("https://pod.example/alice/data/x/", "https://alice.example/#me", access)
	assert.Contains(t, string(doc), "acl:default <https://pod.example/alice/data/x/>")

	parsed := parseWAC(doc)
	assert.Equal(t, access.Public, parsed.Public)
	assert.Equal(t, access.Agents, parsed.Agents)
	assert.True(t, parsed.AgentModes("https://alice.example/#me").None(), "owner is not reported")
}

func TestWACEmpty(t *testing.T) {
	parsed := parseWAC(renderWAC("https://pod.example/alice/file", "", interfaces.Access{}))
	assert.True(t, parsed.Public.None())
	assert.Empty(t, parsed.Agents)
}
