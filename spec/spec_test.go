package spec

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarungka/opwire/executor"
)

const pipelineYAML = `
name: demo
executor:
  read_timeout: 250ms
  commit_interval: 2s
  resource_retry:
    attempts: 7
    delay: 10ms
    max_delay: 1s
operators:
  - name: gen
    logic: generator
    parameters:
      count: 100
    outputs:
      - name: out
        connects: [upper.in]
  - name: upper
    logic: uppercase
    inputs:
      - name: in
        offset: earliest
        channel:
          type: local
          location: mem://demo
    outputs:
      - name: out
        connects: [sink.in]
    plugins:
      - name: log
        type: logger
        parameters:
          level: debug
      - name: health
        type: healthcheck
        depends_on: [log]
  - name: sink
    logic: counter
    inputs:
      - name: in
    status:
      channel:
        location: mem://demo
      retain: false
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFiles_YAML(t *testing.T) {
	p, err := LoadFiles(writeFile(t, "pipeline.yaml", pipelineYAML))
	require.NoError(t, err)

	assert.Equal(t, "demo", p.Name)
	assert.Equal(t, []string{"gen", "upper", "sink"}, p.Names())
	assert.Equal(t, 250*time.Millisecond, p.Executor.ReadTimeout)
	assert.Equal(t, 2*time.Second, p.Executor.CommitInterval)
	assert.Equal(t, uint(7), p.Executor.ResourceRetry.Attempts)
	assert.Equal(t, executor.DefaultConfig().OpenTimeout, p.Executor.OpenTimeout, "unset keys keep defaults")

	upper, ok := p.Operator("upper")
	require.True(t, ok)
	in, ok := upper.Input("in")
	require.True(t, ok)
	assert.Equal(t, "earliest", in.Offset)
	assert.Equal(t, "mem://demo", in.Channel.Location)
	require.Len(t, upper.Plugins, 2)
	assert.Equal(t, []string{"log"}, upper.Plugins[1].DependsOn)
	assert.Equal(t, "debug", upper.Plugins[0].Parameters["level"])

	sink, _ := p.Operator("sink")
	assert.Equal(t, DefaultBackend, sink.Inputs[0].Channel.Type)
	require.NotNil(t, sink.Status)
	assert.False(t, sink.Status.Retained())
	assert.Equal(t, DefaultBackend, sink.Status.Channel.Type)

	gen, _ := p.Operator("gen")
	assert.EqualValues(t, 100, gen.Parameters["count"])
}

func TestLoadFiles_JSONAndEnv(t *testing.T) {
	t.Setenv("OPWIRE_EXECUTOR__MODE", "skip")
	path := writeFile(t, "pipeline.json", `{
		"name": "j",
		"operators": [{"name": "gen", "logic": "generator", "status": {"channel": {}}}]
	}`)
	p, err := LoadFiles(path)
	require.NoError(t, err)
	assert.Equal(t, "skip", p.Executor.Mode)
	assert.True(t, p.Operators[0].Status.Retained())
}

func TestLoadFiles_Errors(t *testing.T) {
	_, err := LoadFiles(writeFile(t, "pipeline.toml", "name = 1"))
	assert.ErrorContains(t, err, "unsupported file extension")

	_, err = LoadFiles(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		conf map[string]any
		want string
	}{
		{
			name: "no operators",
			conf: map[string]any{"name": "p"},
			want: "Operators",
		},
		{
			name: "duplicate operator",
			conf: map[string]any{"name": "p", "operators": []any{
				map[string]any{"name": "a", "logic": "generator"},
				map[string]any{"name": "a", "logic": "generator"},
			}},
			want: `duplicate operator "a"`,
		},
		{
			name: "unknown target operator",
			conf: map[string]any{"name": "p", "operators": []any{
				map[string]any{"name": "a", "logic": "generator", "outputs": []any{
					map[string]any{"name": "out", "connects": []any{"b.in"}},
				}},
			}},
			want: `unknown operator "b"`,
		},
		{
			name: "unknown target port",
			conf: map[string]any{"name": "p", "operators": []any{
				map[string]any{"name": "a", "logic": "generator", "outputs": []any{
					map[string]any{"name": "out", "connects": []any{"b.data"}},
				}},
				map[string]any{"name": "b", "logic": "counter", "inputs": []any{
					map[string]any{"name": "in"},
				}},
			}},
			want: `unknown input port "data"`,
		},
		{
			name: "bad connection",
			conf: map[string]any{"name": "p", "operators": []any{
				map[string]any{"name": "a", "logic": "generator", "outputs": []any{
					map[string]any{"name": "out", "connects": []any{"b"}},
				}},
			}},
			want: "want <operator>.<port>",
		},
		{
			name: "dotted operator name",
			conf: map[string]any{"name": "p", "operators": []any{
				map[string]any{"name": "a.b", "logic": "generator"},
			}},
			want: "excludesall",
		},
		{
			name: "bad offset policy",
			conf: map[string]any{"name": "p", "operators": []any{
				map[string]any{"name": "a", "logic": "counter", "inputs": []any{
					map[string]any{"name": "in", "offset": "middle"},
				}},
			}},
			want: "oneof",
		},
		{
			name: "input fed twice by one operator",
			conf: map[string]any{"name": "p", "operators": []any{
				map[string]any{"name": "a", "logic": "generator", "outputs": []any{
					map[string]any{"name": "one", "connects": []any{"b.in"}},
					map[string]any{"name": "two", "connects": []any{"b.in"}},
				}},
				map[string]any{"name": "b", "logic": "counter", "inputs": []any{
					map[string]any{"name": "in"},
				}},
			}},
			want: "b.in connected twice",
		},
		{
			name: "bad mode",
			conf: map[string]any{"name": "p", "executor": map[string]any{"mode": "maybe"}, "operators": []any{
				map[string]any{"name": "a", "logic": "generator"},
			}},
			want: "execution mode",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := koanf.New(".")
			require.NoError(t, k.Load(confmap.Provider(tt.conf, ""), nil))
			_, err := FromKoanf(k)
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSplitTarget(t *testing.T) {
	op, port, err := SplitTarget("sink.in")
	require.NoError(t, err)
	assert.Equal(t, "sink", op)
	assert.Equal(t, "in", port)

	for _, bad := range []string{"", "sink", ".in", "sink.", "a.b.c"} {
		_, _, err := SplitTarget(bad)
		assert.Error(t, err, bad)
	}
}

func TestPipeline_Writers(t *testing.T) {
	p := Pipeline{Name: "p", Operators: []Operator{
		{Name: "a", Outputs: []Output{{Name: "out", Connects: []string{"sink.in", "side.in"}}}},
		{Name: "b", Outputs: []Output{{Name: "out", Connects: []string{"sink.in"}}}},
		{Name: "sink", Inputs: []Input{{Name: "in"}}},
		{Name: "side", Inputs: []Input{{Name: "in"}}},
	}}

	assert.Equal(t, 2, p.Writers("sink", "in"))
	assert.Equal(t, 1, p.Writers("side", "in"))
	assert.Equal(t, 0, p.Writers("a", "in"))
}
