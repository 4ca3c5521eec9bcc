package main

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zaptest"

	"github.com/SwincikJr/cloud-solutions/pkg/events"
	"github.com/SwincikJr/cloud-solutions/pkg/queue/memory"
)

// parseFlags runs a throwaway app with flags and returns the built config
func parseFlags(t *testing.T, flags []cli.Flag, args ...string) (*Config, error) {
	t.Helper()
	var (
		cfg      *Config
		buildErr error
	)
	app := &cli.App{
		Name:  "eventsctl",
		Flags: flags,
		Action: func(c *cli.Context) error {
			cfg, buildErr = buildConfig(c)
			return nil
		},
	}
	require.NoError(t, app.Run(append([]string{"eventsctl"}, args...)))
	return cfg, buildErr
}

func TestBuildConfig_RunDefaults(t *testing.T) {
	cfg, err := parseFlags(t, runFlags(), "--topic-name", "orders", "--queue", "billing,shipping", "--queue", "audit")
	require.NoError(t, err)

	assert.Equal(t, providerAWS, cfg.Provider)
	assert.Equal(t, "orders", cfg.Events.TopicName)
	assert.Equal(t, events.ModeStandard, cfg.Events.Mode)
	assert.Equal(t, []string{"billing", "shipping", "audit"}, cfg.Queues)
	assert.Equal(t, events.DefaultListenInterval, cfg.Events.ListenInterval)
	assert.Equal(t, events.DefaultMaxNumberOfMessages, cfg.Events.MaxNumberOfMessages)
	assert.Equal(t, events.DefaultVisibilityTimeout, cfg.Events.VisibilityTimeout)
	assert.Equal(t, ":9090", cfg.MetricsAddr())
}

func TestBuildConfig_Overrides(t *testing.T) {
	cfg, err := parseFlags(t, runFlags(),
		"--topic-name", "orders",
		"--queue", "billing",
		"--prefix", "prod",
		"--mode", "fifo",
		"--max-messages", "5",
		"--listen-interval", "2s",
		"--wait-time", "10s",
		"--throw-error",
		"--queue-attribute", "Policy={}",
		"--topic-attribute", "DisplayName=Orders",
		"--metrics-host", "127.0.0.1",
		"--metrics-port", "9100",
	)
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Events.Prefix)
	assert.Equal(t, events.ModeFIFO, cfg.Events.Mode)
	assert.Equal(t, 5, cfg.Events.MaxNumberOfMessages)
	assert.Equal(t, 2*time.Second, cfg.Events.ListenInterval)
	assert.Equal(t, 10*time.Second, cfg.Events.WaitTime)
	assert.True(t, cfg.Events.ThrowError)
	assert.Equal(t, map[string]string{"Policy": "{}"}, cfg.Events.QueueAttributes)
	assert.Equal(t, map[string]string{"DisplayName": "Orders"}, cfg.Events.TopicAttributes)
	assert.Equal(t, "127.0.0.1:9100", cfg.MetricsAddr())
}

func TestBuildConfig_ZeroRetryLimitKept(t *testing.T) {
	cfg, err := parseFlags(t, runFlags(), "--topic-name", "orders", "--queue", "a", "--retry-limit", "0")
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Events.RetryLimit)

	e, err := events.New(memory.New(), cfg.Events, zaptest.NewLogger(t).Sugar(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, e.Options().RetryLimit)
}

func TestBuildConfig_InvalidMode(t *testing.T) {
	_, err := parseFlags(t, runFlags(), "--topic-name", "orders", "--queue", "a", "--mode", "lifo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid mode")
}

func TestBuildConfig_InvalidAttribute(t *testing.T) {
	_, err := parseFlags(t, sendFlags(), "--topic-name", "orders", "--queue", "a", "--send-attribute", "novalue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send-attribute")
}

func TestBuildConfig_ZeroMaxMessagesInvalid(t *testing.T) {
	_, err := parseFlags(t, runFlags(), "--topic-name", "orders", "--queue", "a", "--max-messages", "0")
	require.Error(t, err)
}

func TestParseAttributes(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    map[string]string
		wantErr bool
	}{
		{name: "empty", pairs: nil, want: map[string]string{}},
		{name: "pairs", pairs: []string{"A=1", " B = two "}, want: map[string]string{"A": "1", "B": "two"}},
		{name: "value with equals", pairs: []string{"Policy=a=b"}, want: map[string]string{"Policy": "a=b"}},
		{name: "empty value", pairs: []string{"A="}, want: map[string]string{"A": ""}},
		{name: "missing separator", pairs: []string{"A"}, wantErr: true},
		{name: "missing key", pairs: []string{"=1"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAttributes(tt.pairs)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitList([]string{"a, b", "", " c "}))
	assert.Nil(t, splitList(nil))
}

func TestParsePayload(t *testing.T) {
	got, err := parsePayload(`{"id":1}`, nil)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`{"id":1}`), got)

	got, err = parsePayload(`[1,2]`, nil)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`[1,2]`), got)

	got, err = parsePayload(`{not json`, nil)
	require.NoError(t, err)
	assert.Equal(t, "{not json", got)

	got, err = parsePayload("hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	got, err = parsePayload("-", strings.NewReader(` {"from":"stdin"} `))
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`{"from":"stdin"}`), got)
}

func TestNewBackend(t *testing.T) {
	log := zaptest.NewLogger(t).Sugar()

	b, err := newBackend(context.Background(), &Config{Provider: providerLocal}, log)
	require.NoError(t, err)
	assert.IsType(t, &memory.Backend{}, b)

	_, err = newBackend(context.Background(), &Config{Provider: "azure"}, log)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

type recordingProducer struct {
	sent map[string][]any
	err  error
}

func (p *recordingProducer) SendToQueue(_ context.Context, name string, payload any, _ ...events.SendOption) error {
	if p.err != nil {
		return p.err
	}
	if p.sent == nil {
		p.sent = make(map[string][]any)
	}
	p.sent[name] = append(p.sent[name], payload)
	return nil
}

func (p *recordingProducer) Publish(context.Context, any, ...events.SendOption) error {
	return p.err
}

func TestLogHandler(t *testing.T) {
	log := zaptest.NewLogger(t).Sugar()
	prod := &recordingProducer{}
	msg := &events.Message{Queue: "billing", ID: "m-1", Raw: `{"id":1}`, Producer: prod}

	require.NoError(t, newLogHandler(log, "")(context.Background(), msg))
	assert.Empty(t, prod.sent)

	require.NoError(t, newLogHandler(log, "archive")(context.Background(), msg))
	assert.Equal(t, []any{`{"id":1}`}, prod.sent["archive"])

	prod.err = errors.New("boom")
	err := newLogHandler(log, "archive")(context.Background(), msg)
	require.Error(t, err)
	assert.ErrorIs(t, err, prod.err)
}

func runCommand(t *testing.T, name string, flags []cli.Flag, action cli.ActionFunc, args ...string) error {
	t.Helper()
	app := &cli.App{
		Name: "eventsctl",
		Commands: []*cli.Command{
			{Name: name, Flags: flags, Action: action},
		},
	}
	return app.Run(append([]string{"eventsctl", name}, args...))
}

func TestRun_DeleteAllQueuesExits(t *testing.T) {
	err := runCommand(t, "run", runFlags(), run,
		"--provider", providerLocal,
		"--topic-name", "orders",
		"--queue", "billing",
		"--delete-all-queues",
		"--log-level", "error",
	)
	require.NoError(t, err)
}

func TestSend_Local(t *testing.T) {
	err := runCommand(t, "send", sendFlags(), send,
		"--provider", providerLocal,
		"--topic-name", "orders",
		"--queue", "billing,shipping",
		"--data", `{"id":1}`,
		"--log-level", "error",
	)
	require.NoError(t, err)
}

func TestPublish_Local(t *testing.T) {
	err := runCommand(t, "publish", publishFlags(), publish,
		"--provider", providerLocal,
		"--topic-name", "orders",
		"--data", "hello",
		"--log-level", "error",
	)
	require.NoError(t, err)
}

func TestRemove(t *testing.T) {
	err := runCommand(t, "remove", removeFlags(), remove,
		"--provider", providerLocal,
		"--topic-name", "orders",
		"--queue", "billing",
		"--delete-topic",
		"--log-level", "error",
	)
	require.NoError(t, err)

	err = runCommand(t, "remove", removeFlags(), remove,
		"--provider", providerLocal,
		"--topic-name", "orders",
		"--log-level", "error",
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to remove")
}
