package history

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/meshlink/wire"
)

func TestBuildStoreForwardHistoryRequest(t *testing.T) {
	tests := []struct {
		name                     string
		lastRequest, window, max int
		want                     wire.StoreForwardHistory
	}{
		{"non-positive values clamp to zero", 0, -1, 0, wire.StoreForwardHistory{}},
		{"positive values are kept", 42, 15, 25, wire.StoreForwardHistory{LastRequest: 42, Window: 15, HistoryMessages: 25}},
		{"mixed", -3, 60, 10, wire.StoreForwardHistory{Window: 60, HistoryMessages: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := BuildStoreForwardHistoryRequest(tt.lastRequest, tt.window, tt.max)
			assert.Equal(t, wire.SFClientHistory, req.RR)
			require.NotNil(t, req.History)
			assert.Equal(t, tt.want, *req.History)
		})
	}
}

func TestResolveHistoryRequestParameters(t *testing.T) {
	tests := []struct {
		window, max         int
		wantWindow, wantMax int
	}{
		{0, -5, 1440, 100},
		{30, 10, 30, 10},
		{30, 0, 1440, 100},
		{0, 10, 1440, 100},
	}
	for _, tt := range tests {
		w, m := ResolveHistoryRequestParameters(tt.window, tt.max)
		assert.Equal(t, tt.wantWindow, w, "window for (%d, %d)", tt.window, tt.max)
		assert.Equal(t, tt.wantMax, m, "max for (%d, %d)", tt.window, tt.max)
	}
}

func TestRequestHistoryReplay(t *testing.T) {
	ctx := context.Background()
	sender := &recordingSender{}
	m := NewManager(sender)

	require.NoError(t, m.RequestHistoryReplay(ctx, "test", 0x10, &wire.StoreForwardConfig{Enabled: false}, "tcp:radio"))
	assert.Empty(t, sender.packets)

	m.UpdateStoreForwardLastRequest("router", 1234, "tcp:radio")
	m.UpdateStoreForwardLastRequest("router", 0, "tcp:radio")
	assert.Equal(t, uint32(1234), m.LastRequest("tcp:radio"))

	cfg := &wire.StoreForwardConfig{Enabled: true, HistoryReturnWindow: 60}
	require.NoError(t, m.RequestHistoryReplay(ctx, "test", 0x10, cfg, "tcp:radio"))
	require.Len(t, sender.packets, 1)
	p := sender.packets[0]
	assert.Equal(t, "!00000010", p.To)
	assert.Equal(t, wire.PortStoreForward, p.DataType)

	var req wire.StoreAndForward
	require.NoError(t, req.Unmarshal(p.Bytes))
	assert.Equal(t, wire.SFClientHistory, req.RR)
	assert.Equal(t, uint32(1440), req.History.Window)
	assert.Equal(t, uint32(100), req.History.HistoryMessages)
	assert.Equal(t, uint32(1234), req.History.LastRequest)

	m.SetServer(0x20)
	require.NoError(t, m.RequestHistoryReplay(ctx, "test", 0x10, cfg, "tcp:other"))
	require.Len(t, sender.packets, 2)
	assert.Equal(t, "!00000020", sender.packets[1].To)
}
