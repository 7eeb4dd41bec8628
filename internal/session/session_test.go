package session

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/argon-hosting/daemon/internal/dockergw"
)

func TestSanitizeCommandStripsQuotesAndControlBytes(t *testing.T) {
	tests := map[string]string{
		`"say hello"`:        "say hello",
		"'restart'":          "restart",
		"  list players  ":   "list players",
		"say\x07hi":          "sayhi",
		"":                   "",
		`"unterminated`:      "unterminated",
		`say "hi there" now`: "say hi there now",
		`it's a test`:        "its a test",
	}
	for in, want := range tests {
		require.Equal(t, want, sanitizeCommand(in), "input %q", in)
	}
}

func TestFrameRoundTripsEventAndData(t *testing.T) {
	raw, err := json.Marshal(frame{Event: "send_command", Data: json.RawMessage(`"say hi"`)})
	require.NoError(t, err)

	var decoded frame
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, "send_command", decoded.Event)

	var cmd sendCommandData
	require.NoError(t, json.Unmarshal(raw, &cmd))
	require.Equal(t, "say hi", cmd.Data)
}

func TestStatsFrameComputesCPUPercentAndRates(t *testing.T) {
	prev := &dockergw.Stats{
		CPUTotalUsage:  1_000,
		SystemCPUUsage: 10_000,
		OnlineCPUs:     2,
		MemoryUsage:    100,
		MemoryLimit:    1000,
		NetworkRxBytes: 500,
		NetworkTxBytes: 200,
	}
	cur := &dockergw.Stats{
		CPUTotalUsage:  5_000,
		SystemCPUUsage: 20_000,
		OnlineCPUs:     2,
		MemoryUsage:    250,
		MemoryLimit:    1000,
		NetworkRxBytes: 1500,
		NetworkTxBytes: 400,
	}

	out := statsFrame("running", cur, prev, 1*time.Second)

	require.Equal(t, "running", out["state"])
	cpu := out["cpu_percent"].(float64)
	require.InDelta(t, 80.0, cpu, 0.01) // (4000/10000)*2*100 = 80

	mem := out["memory"].(map[string]any)
	require.Equal(t, uint64(250), mem["used"])
	require.InDelta(t, 25.0, mem["percent"].(float64), 0.01)

	net := out["network"].(map[string]any)
	require.InDelta(t, 1000.0, net["rx_rate"].(float64), 0.01)
	require.InDelta(t, 200.0, net["tx_rate"].(float64), 0.01)
}

func TestStatsFrameNoPriorSampleHasZeroRates(t *testing.T) {
	cur := &dockergw.Stats{MemoryUsage: 10, MemoryLimit: 100}
	out := statsFrame("running", cur, nil, 0)

	require.Equal(t, 0.0, out["cpu_percent"])
	net := out["network"].(map[string]any)
	require.Equal(t, 0.0, net["rx_rate"])
	require.Equal(t, 0.0, net["tx_rate"])
}

func TestSanitizeServerIDStripsDisallowedRunes(t *testing.T) {
	tests := map[string]string{
		"s1":             "s1",
		"srv_01-a":       "srv_01-a",
		"../../etc":      "etc",
		"id with spaces": "idwithspaces",
		"dots.are.gone":  "dotsaregone",
		"日本語abc":         "abc",
	}
	for in, want := range tests {
		require.Equal(t, want, sanitizeServerID(in), "input %q", in)
	}
}

func TestHubIPBound(t *testing.T) {
	h := NewHub(nil, nil, nil, nil, 2, discardLogger())

	require.True(t, h.acquireIP("10.0.0.1"))
	require.True(t, h.acquireIP("10.0.0.1"))
	require.False(t, h.acquireIP("10.0.0.1"))
	require.True(t, h.acquireIP("10.0.0.2"), "bound is per ip, not global")

	h.releaseIP("10.0.0.1")
	require.True(t, h.acquireIP("10.0.0.1"))
}

func TestHubIPBoundDisabledByDefault(t *testing.T) {
	h := NewHub(nil, nil, nil, nil, 0, discardLogger())
	for i := 0; i < 100; i++ {
		require.True(t, h.acquireIP("10.0.0.1"))
	}
}

func TestValidationCacheKeyHidesToken(t *testing.T) {
	c := newValidationCache()
	k := c.key("s1", "super-secret-token")
	require.NotContains(t, k, "super-secret-token")
	require.Equal(t, k, c.key("s1", "super-secret-token"))
	require.NotEqual(t, k, c.key("s2", "super-secret-token"))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
