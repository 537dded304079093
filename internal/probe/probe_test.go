package probe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeRunner records invocations and answers from a table keyed by command name
type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	outputs map[string]string
	errs    map[string]error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, strings.Join(append([]string{name}, args...), " "))
	if err, ok := f.errs[name]; ok {
		return "", err
	}
	return f.outputs[name], nil
}

func TestClientInfoArgs(t *testing.T) {
	tests := []struct {
		name   string
		device string
		want   string
	}{
		{name: "serial", device: "COM5", want: "meshtastic --info --device COM5"},
		{name: "radio", device: "A1:B2:C3:D4:E5:F6", want: "meshtastic --info --device A1:B2:C3:D4:E5:F6"},
		{name: "network", device: "192.168.1.20", want: "meshtastic --info --host 192.168.1.20"},
		{name: "default device", device: "", want: "meshtastic --info"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{outputs: map[string]string{"meshtastic": "ok"}}
			client := NewClient(runner, zaptest.NewLogger(t))

			out, err := client.Info(context.Background(), tt.device)
			require.NoError(t, err)
			assert.Equal(t, "ok", out)
			assert.Equal(t, []string{tt.want}, runner.calls)
		})
	}
}

func TestClientFallback(t *testing.T) {
	runner := &fakeRunner{
		outputs: map[string]string{"python3": `{"nodes":{}}`},
		errs:    map[string]error{"meshtastic": ErrToolNotFound},
	}
	client := NewClient(runner, zaptest.NewLogger(t))

	out, err := client.Info(context.Background(), "COM5")
	require.NoError(t, err)
	assert.Equal(t, `{"nodes":{}}`, out)
	assert.Equal(t, []string{
		"meshtastic --info --device COM5",
		"python3 -m meshtastic --info --device COM5",
	}, runner.calls)
}

func TestClientToolNotFound(t *testing.T) {
	runner := &fakeRunner{errs: map[string]error{
		"meshtastic": ErrToolNotFound,
		"python3":    ErrToolNotFound,
	}}
	client := NewClient(runner, zaptest.NewLogger(t))

	_, err := client.Info(context.Background(), "COM5")
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestClientWithoutFallback(t *testing.T) {
	runner := &fakeRunner{errs: map[string]error{"meshtastic": ErrToolNotFound}}
	client := NewClient(runner, zaptest.NewLogger(t), WithFallback(""))

	_, err := client.Info(context.Background(), "COM5")
	assert.ErrorIs(t, err, ErrToolNotFound)
	assert.Len(t, runner.calls, 1)
}

func TestClientOtherErrorsWrapped(t *testing.T) {
	boom := errors.New("boom")
	runner := &fakeRunner{errs: map[string]error{"meshtastic": boom}}
	client := NewClient(runner, zaptest.NewLogger(t))

	_, err := client.Info(context.Background(), "COM5")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrToolNotFound)
	assert.Len(t, runner.calls, 1)
}

func TestExecRunnerMissingBinary(t *testing.T) {
	_, err := ExecRunner{}.Run(context.Background(), "meshroster-no-such-binary-xyz", "--info")
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestExecRunnerMissingAbsolutePath(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "meshtastic")
	_, err := ExecRunner{}.Run(context.Background(), missing, "--info")
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestMissingModule(t *testing.T) {
	tests := []struct {
		stderr string
		want   bool
	}{
		{"/usr/bin/python3: No module named meshtastic", true},
		{"ModuleNotFoundError: No module named 'meshtastic'", true},
		{"Error connecting to COM5", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, missingModule(tt.stderr), tt.stderr)
	}

	_, err := exitOutput("python3", "", "No module named meshtastic")
	assert.ErrorIs(t, err, ErrToolNotFound)

	out, err := exitOutput("python3", "partial", "No module named meshtastic")
	require.NoError(t, err, "stdout wins over a module warning")
	assert.Equal(t, "partial", out)
}

func TestClientFallbackModuleMissing(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	script := filepath.Join(t.TempDir(), "python3")
	body := "#!/bin/sh\necho \"$0: No module named meshtastic\" >&2\nexit 1\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))

	client := NewClient(ExecRunner{}, zaptest.NewLogger(t),
		WithCommand("meshroster-no-such-binary-xyz"),
		WithFallback(script+" -m meshtastic"),
	)

	_, err := client.Info(context.Background(), "COM5")
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "meshtastic --info --device A1:B2", shellJoin([]string{"meshtastic", "--info", "--device", "A1:B2"}))
	assert.Equal(t, `'it'\''s here'`, shellQuote("it's here"))
	assert.Equal(t, "''", shellQuote(""))
}

func TestParse(t *testing.T) {
	t.Run("nodes key", func(t *testing.T) {
		info := Parse(`{"nodes":{"!abcd":{"snr":5}}}`)
		assert.Equal(t, "nodes", string(info.Kind))
		assert.Contains(t, info.Nodes, "!abcd")
	})

	t.Run("devices list indexed by id", func(t *testing.T) {
		info := Parse(`{"devices":[{"id":"x"},{"num":42}]}`)
		assert.Equal(t, "nodes", string(info.Kind))
		assert.Contains(t, info.Nodes, "x")
		assert.Contains(t, info.Nodes, "42")
	})

	t.Run("empty nodes is info", func(t *testing.T) {
		info := Parse(`{"nodes":{},"myInfo":{"myNodeNum":1}}`)
		assert.Equal(t, "info", string(info.Kind))
		assert.Empty(t, info.Nodes)
		assert.NotNil(t, info.Info)

		info = Parse(`{"devices":[]}`)
		assert.Equal(t, "info", string(info.Kind))
	})

	t.Run("other json is info", func(t *testing.T) {
		info := Parse(`{"myInfo":{"myNodeNum":1}}`)
		assert.Equal(t, "info", string(info.Kind))
		assert.NotNil(t, info.Info)
	})

	t.Run("non json is raw", func(t *testing.T) {
		info := Parse("Connected to radio\nOwner: base")
		assert.Equal(t, "raw", string(info.Kind))
		assert.Equal(t, "Connected to radio\nOwner: base", info.Raw)
	})
}

func TestParsedJSONShape(t *testing.T) {
	data, err := Parse(`{"nodes":{"a":1}}`).MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"nodes":{"a":1}}`, string(data))

	data, err = Parse(`[1,2]`).MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"info":[1,2]}`, string(data))

	data, err = Parse(`hello`).MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"raw":"hello"}`, string(data))
}

func TestSummarize(t *testing.T) {
	info := Parse(`{"nodes":{
		"!b":{"user":{"longName":"Base","shortName":"BS","macaddr":"a1:b2:c3:d4:e5:f6","hwModel":"TBEAM"},"snr":6.5,"hopsAway":1,"lastHeard":1700000000},
		"!a":{"deviceMetrics":{"hwModel":"HELTEC"}},
		"!c":"not an object"
	}}`)

	summaries := Summarize(info)
	require.Len(t, summaries, 3)

	assert.Equal(t, "!a", summaries[0].ID)
	assert.Equal(t, "HELTEC", summaries[0].HWModel)
	assert.Nil(t, summaries[0].SNR)

	b := summaries[1]
	assert.Equal(t, "Base", b.LongName)
	assert.Equal(t, "BS", b.ShortName)
	assert.Equal(t, "a1:b2:c3:d4:e5:f6", b.MACAddr)
	assert.Equal(t, "TBEAM", b.HWModel)
	require.NotNil(t, b.SNR)
	assert.InDelta(t, 6.5, *b.SNR, 0.001)
	require.NotNil(t, b.HopsAway)
	assert.Equal(t, 1, *b.HopsAway)
	require.NotNil(t, b.LastHeard)
	assert.Equal(t, int64(1700000000), *b.LastHeard)

	assert.Equal(t, "!c", summaries[2].ID)
	assert.Nil(t, Summarize(Parse("plain text")))
}

func TestEntryFor(t *testing.T) {
	info := Parse(`{"nodes":{
		"!a":{"user":{"macaddr":"00:11:22:33:44:55"}},
		"!b":{"user":{"mac":"A1:B2:C3:D4:E5:F6"},"battery":50}
	}}`)

	entry, ok := EntryFor(info, "a1-b2-c3-d4-e5-f6")
	require.True(t, ok)
	assert.Equal(t, float64(50), entry["battery"])

	entry, ok = EntryFor(info, "!a")
	require.True(t, ok)
	assert.NotNil(t, entry["user"])

	entry, ok = EntryFor(info, "COM5")
	require.True(t, ok, "falls back to first entry")
	assert.Contains(t, entry, "user")

	_, ok = EntryFor(Parse("raw"), "COM5")
	assert.False(t, ok)
}

func TestExtractTelemetry(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("nested", func(t *testing.T) {
		entry, _ := DecodeObject(`{
			"deviceMetrics":{"batteryLevel":87},
			"position":{"latitude":47.6,"longitude":-122.3},
			"gps":{"alt":12},
			"environment":{"temperature":21.5}
		}`)
		s := ExtractTelemetry("COM5", entry, at)
		assert.Equal(t, "COM5", s.NodeID)
		assert.Equal(t, at, s.RecordedAt)
		require.NotNil(t, s.Battery)
		assert.Equal(t, 87.0, *s.Battery)
		require.NotNil(t, s.Latitude)
		assert.Equal(t, 47.6, *s.Latitude)
		require.NotNil(t, s.Longitude)
		assert.Equal(t, -122.3, *s.Longitude)
		require.NotNil(t, s.Altitude)
		assert.Equal(t, 12.0, *s.Altitude)
		assert.Equal(t, 21.5, s.Env["temperature"])
	})

	t.Run("top level", func(t *testing.T) {
		entry, _ := DecodeObject(`{"battery":40,"lat":1.5,"lon":2.5}`)
		s := ExtractTelemetry("n", entry, at)
		assert.Equal(t, 40.0, *s.Battery)
		assert.Equal(t, 1.5, *s.Latitude)
		assert.Equal(t, 2.5, *s.Longitude)
		assert.Nil(t, s.Altitude)
		assert.False(t, s.Empty())
	})

	t.Run("nothing", func(t *testing.T) {
		s := ExtractTelemetry("n", map[string]any{"user": map[string]any{}}, at)
		assert.True(t, s.Empty())
	})
}

// countingFetcher counts Info calls
type countingFetcher struct {
	calls   int
	devices []string
	out     string
	err     error
}

func (f *countingFetcher) Info(ctx context.Context, deviceID string) (string, error) {
	f.calls++
	f.devices = append(f.devices, deviceID)
	return f.out, f.err
}

func TestInfoCacheTTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	fetcher := &countingFetcher{out: `{"nodes":{"!a":{}}}`}
	cache := NewInfoCache(fetcher, 8*time.Second, WithClock(clock))
	ctx := context.Background()

	entry, err := cache.Get(ctx, "COM5")
	require.NoError(t, err)
	assert.Equal(t, now, entry.FetchedAt)
	assert.Equal(t, "nodes", string(entry.Parsed.Kind))
	assert.Equal(t, 1, fetcher.calls)

	now = now.Add(7 * time.Second)
	_, err = cache.Get(ctx, "COM5")
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.calls, "fresh entry served from cache")

	now = now.Add(1 * time.Second)
	_, err = cache.Get(ctx, "COM5")
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.calls, "entry at exactly ttl is stale")

	_, err = cache.Refresh(ctx, "COM5")
	require.NoError(t, err)
	assert.Equal(t, 3, fetcher.calls)
}

func TestInfoCacheGlobalKey(t *testing.T) {
	fetcher := &countingFetcher{out: "hello"}
	cache := NewInfoCache(fetcher, 0)

	_, err := cache.Get(context.Background(), "")
	require.NoError(t, err)
	_, err = cache.Get(context.Background(), GlobalKey)
	require.NoError(t, err)

	assert.Equal(t, 1, fetcher.calls)
	assert.Equal(t, []string{""}, fetcher.devices)
	assert.Equal(t, DefaultTTL, cache.TTL())
}

func TestInfoCacheErrorsNotCached(t *testing.T) {
	fetcher := &countingFetcher{err: ErrToolNotFound}
	cache := NewInfoCache(fetcher, time.Minute)

	_, err := cache.Get(context.Background(), "COM5")
	assert.ErrorIs(t, err, ErrToolNotFound)
	assert.Equal(t, 0, cache.Len())

	_, err = cache.Get(context.Background(), "COM5")
	assert.ErrorIs(t, err, ErrToolNotFound)
	assert.Equal(t, 2, fetcher.calls)
}
