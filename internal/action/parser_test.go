// ABOUTME: Tests for action marker extraction
// ABOUTME: Covers document order, malformed markers, unknown types, and payload defaults

package action

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craterhq/crater/internal/store"
)

func TestParseProposal_ExtractsMarkersInOrder(t *testing.T) {
	raw := `I'd suggest two changes.

[ACTION]{"type":"read-file","description":"check the config","payload":{"serverId":"s1","path":"server.properties"}}[/ACTION]

Then restart:

[ACTION]{"type":"server-control","description":"restart the server","payload":{"serverId":"s1","action":"restart"}}[/ACTION]`

	got := ParseProposal(raw, nil)
	require.Len(t, got, 2)
	assert.Equal(t, store.ActionReadFile, got[0].Type)
	assert.Equal(t, "check the config", got[0].Description)
	assert.Equal(t, store.ActionServerControl, got[1].Type)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(got[0].Payload, &payload))
	assert.Equal(t, "server.properties", payload["path"])
}

func TestParseProposal_SkipsMalformedJSON(t *testing.T) {
	raw := `[ACTION]not json at all[/ACTION]
[ACTION]{"type":"delete-file","description":"clean up","payload":{"serverId":"s1","path":"old.log"}}[/ACTION]`

	got := ParseProposal(raw, nil)
	require.Len(t, got, 1)
	assert.Equal(t, store.ActionDeleteFile, got[0].Type)
}

func TestParseProposal_SkipsUnknownType(t *testing.T) {
	raw := `[ACTION]{"type":"format-disk","description":"bad idea"}[/ACTION]`
	assert.Empty(t, ParseProposal(raw, nil))
}

func TestParseProposal_DefaultsMissingPayload(t *testing.T) {
	raw := `[ACTION]{"type":"optimize","description":"tune the JVM flags"}[/ACTION]`

	got := ParseProposal(raw, nil)
	require.Len(t, got, 1)
	assert.JSONEq(t, `{}`, string(got[0].Payload))
}

func TestParseProposal_NoMarkersIsEmpty(t *testing.T) {
	assert.Empty(t, ParseProposal("plain prose with no actions", nil))
}

func TestParseProposal_MultilineMarkerBody(t *testing.T) {
	raw := `[ACTION]
{
  "type": "write-file",
  "description": "bump the motd",
  "payload": {"serverId": "s1", "path": "server.properties", "content": "motd=hi"}
}
[/ACTION]`

	got := ParseProposal(raw, nil)
	require.Len(t, got, 1)
	assert.Equal(t, store.ActionWriteFile, got[0].Type)
}
