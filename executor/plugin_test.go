package executor

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarungka/opwire/channel"
)

type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	j.events = append(j.events, s)
	j.mu.Unlock()
}

func (j *journal) filter(suffix string) []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []string
	for _, e := range j.events {
		if n := len(e) - len(suffix); n > 1 && e[n-1] == ':' && e[n:] == suffix {
			out = append(out, e[:n-1])
		}
	}
	return out
}

// recorder implements every hook.
type recorder struct {
	name      string
	j         *journal
	startErr  error
	errs      []error
	transited int
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) OnServiceStart(context.Context, *Context) error {
	r.j.add(r.name + ":service_start")
	return r.startErr
}

func (r *recorder) OnServiceShutdown(context.Context, *Context) error {
	r.j.add(r.name + ":service_shutdown")
	return nil
}

func (r *recorder) OnResourceCreation(context.Context, *Context) error {
	r.j.add(r.name + ":resource_creation")
	return nil
}

func (r *recorder) OnResourceDeletion(context.Context, *Context) error {
	r.j.add(r.name + ":resource_deletion")
	return nil
}

func (r *recorder) OnInit(context.Context, *Context) error {
	r.j.add(r.name + ":init")
	return nil
}

func (r *recorder) OnRunning(context.Context, *Context) error {
	r.j.add(r.name + ":running")
	return nil
}

func (r *recorder) OnShutdown(context.Context, *Context) error {
	r.j.add(r.name + ":shutdown")
	return nil
}

func (r *recorder) OnError(_ context.Context, _ *Context, err error) {
	r.errs = append(r.errs, err)
}

func (r *recorder) OnTransition(*Context, Transition) { r.transited++ }

type tagLogger struct{ tag string }

func (tagLogger) Name() string { return "tag-logger" }

func (l tagLogger) Logger(base zerolog.Logger) zerolog.Logger {
	return base.With().Str("tag", l.tag).Logger()
}

type otherLogger struct{ tagLogger }

func (otherLogger) Name() string { return "other-logger" }

func TestExecutor_PluginOrder(t *testing.T) {
	j := &journal{}
	a := &recorder{name: "a", j: j}
	b := &recorder{name: "b", j: j}
	c := &recorder{name: "c", j: j}
	op := Operator{
		Name:  "gen",
		Logic: finished{},
		Plugins: []PluginEntry{
			{Plugin: a},
			{Plugin: b, DependsOn: []string{"a"}},
			{Plugin: c},
		},
	}
	e, err := New(op, testConfig())
	require.NoError(t, err)
	res := e.Run(context.Background())
	require.True(t, res.OK, res.String())

	forward := []string{"a", "c", "b"}
	reverse := []string{"b", "c", "a"}
	assert.Equal(t, forward, j.filter("service_start"))
	assert.Equal(t, forward, j.filter("resource_creation"))
	assert.Equal(t, forward, j.filter("init"))
	assert.Equal(t, forward, j.filter("running"))
	assert.Equal(t, reverse, j.filter("shutdown"))
	assert.Equal(t, reverse, j.filter("resource_deletion"))
	assert.Equal(t, reverse, j.filter("service_shutdown"))

	assert.Equal(t, len(e.Transitions()), a.transited)
	assert.Empty(t, a.errs)
}

func TestExecutor_ServiceStartFailure(t *testing.T) {
	j := &journal{}
	boom := errors.New("port in use")
	a := &recorder{name: "a", j: j, startErr: boom}
	e, err := New(Operator{Name: "gen", Logic: finished{}, Plugins: []PluginEntry{{Plugin: a}}}, testConfig())
	require.NoError(t, err)

	res := e.Run(context.Background())
	require.False(t, res.OK)
	assert.Equal(t, ExitServiceStart, res.ExitCode)
	assert.Equal(t, channel.KindProcessing, res.Kind)
	assert.ErrorIs(t, res.Err, boom)
	assert.Equal(t, []State{Created, ServiceShutdown, Stopped}, states(e.Transitions()))
	assert.Equal(t, []string{"a"}, j.filter("service_shutdown"), "services are stopped even when start failed")
	require.Len(t, a.errs, 1)
	assert.ErrorIs(t, a.errs[0], boom)
}

func TestExecutor_LoggerPlugin(t *testing.T) {
	var buf bytes.Buffer
	e, err := New(Operator{
		Name:    "gen",
		Logic:   finished{},
		Plugins: []PluginEntry{{Plugin: tagLogger{tag: "blue"}}},
	}, testConfig(), WithLogger(zerolog.New(&buf)))
	require.NoError(t, err)
	require.True(t, e.Run(context.Background()).OK)
	assert.Contains(t, buf.String(), `"tag":"blue"`)
	assert.Contains(t, buf.String(), `"operator":"gen"`)
	assert.Contains(t, buf.String(), "(Created)--[proceed]-->(ResourceCreation)")

	_, err = New(Operator{
		Name:  "gen",
		Logic: finished{},
		Plugins: []PluginEntry{
			{Plugin: tagLogger{}},
			{Plugin: otherLogger{}},
		},
	}, testConfig())
	assert.ErrorIs(t, err, ErrLoggerPlugins)
}

func TestResolveLevels(t *testing.T) {
	p := func(name string) Plugin { return &recorder{name: name} }
	tests := []struct {
		name    string
		entries []PluginEntry
		want    [][]string
		wantErr string
	}{
		{
			name:    "independent",
			entries: []PluginEntry{{Plugin: p("a")}, {Plugin: p("b")}},
			want:    [][]string{{"a", "b"}},
		},
		{
			name: "chain",
			entries: []PluginEntry{
				{Plugin: p("c"), DependsOn: []string{"b"}},
				{Plugin: p("b"), DependsOn: []string{"a"}},
				{Plugin: p("a")},
			},
			want: [][]string{{"a"}, {"b"}, {"c"}},
		},
		{
			name: "diamond",
			entries: []PluginEntry{
				{Plugin: p("a")},
				{Plugin: p("b"), DependsOn: []string{"a"}},
				{Plugin: p("c"), DependsOn: []string{"a"}},
				{Plugin: p("d"), DependsOn: []string{"b", "c"}},
			},
			want: [][]string{{"a"}, {"b", "c"}, {"d"}},
		},
		{
			name: "cycle",
			entries: []PluginEntry{
				{Plugin: p("a"), DependsOn: []string{"b"}},
				{Plugin: p("b"), DependsOn: []string{"a"}},
			},
			wantErr: "cycle",
		},
		{
			name:    "unknown",
			entries: []PluginEntry{{Plugin: p("a"), DependsOn: []string{"z"}}},
			wantErr: "unknown plugin",
		},
		{
			name:    "duplicate",
			entries: []PluginEntry{{Plugin: p("a")}, {Plugin: p("a")}},
			wantErr: "duplicate",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			levels, err := resolveLevels(tt.entries)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			var got [][]string
			for _, l := range levels {
				var names []string
				for _, pl := range l {
					names = append(names, pl.Name())
				}
				got = append(got, names)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPluginRegistry(t *testing.T) {
	RegisterPlugin("test-recorder", func(name string, _ map[string]any) (Plugin, error) {
		return &recorder{name: name}, nil
	})
	pl, err := NewPlugin("test-recorder", "r1", nil)
	require.NoError(t, err)
	assert.Equal(t, "r1", pl.Name())
	assert.Contains(t, PluginTypes(), "test-recorder")

	_, err = NewPlugin("nope", "x", nil)
	assert.ErrorIs(t, err, ErrUnknownPlugin)
}
