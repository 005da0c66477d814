package redis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/crossclob/arbot/internal/domain"
)

func TestKeySchema(t *testing.T) {
	assert.Equal(t, "book:polymarket:0xabc", bookKey(domain.VenuePolymarket, "0xabc"))
	assert.Equal(t, "book:kalshi:KXBTC:ts", bookTSKey(domain.VenueKalshi, "KXBTC"))
	assert.Equal(t, "heartbeat:kalshi", heartbeatKey(domain.VenueKalshi))
}

func TestBookSetScriptEmbedded(t *testing.T) {
	assert.True(t, strings.Contains(bookSetLua, "PX"))
	assert.True(t, strings.Contains(bookSetLua, "tonumber"))
}
