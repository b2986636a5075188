package workflow

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/conductor/internal/scheduler"
)

func sampleWorkflow() Workflow {
	return Workflow{
		ID:          "wf-1",
		Name:        "recon",
		Description: "scan then report",
		CreatedAt:   time.Now(),
		State:       StateCompleted,
		Results:     map[string]any{"scan": "done"},
		Metadata:    map[string]any{"owner": "red-team", "runs": 3},
		Steps: []Step{
			{
				Name:       "scan",
				ModuleName: "portscan",
				Config: map[string]any{
					"target":   "10.0.0.1",
					"ports":    "1-1024",
					"failures": 2,
					"ratio":    0.5,
					"args":     []any{"-sV", "-T4"},
					"nested":   map[string]any{"depth": 1, "verbose": true},
				},
				RetryCount: 2,
				Timeout:    90 * time.Second,
				Priority:   scheduler.PriorityHigh,
			},
			{
				Name:              "report",
				ModuleName:        "command",
				Config:            map[string]any{"command": "echo"},
				Dependencies:      []string{"scan"},
				Timeout:           DefaultStepTimeout,
				ContinueOnFailure: true,
			},
		},
	}
}

func TestTemplate_YAMLRoundTrip(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "nested", "recon.yaml")
	second := filepath.Join(dir, "again.yml")

	wf := sampleWorkflow()
	require.NoError(t, SaveTemplate(wf, first))

	tpl, err := LoadTemplate(first)
	require.NoError(t, err)
	assert.Equal(t, wf.Steps, tpl.Steps)
	assert.Equal(t, wf.Metadata, tpl.Metadata)
	assert.Equal(t, "recon", tpl.Name)
	assert.Equal(t, "scan then report", tpl.Description)
	assert.Equal(t, "red-team", tpl.Metadata["owner"])
	require.Len(t, tpl.Steps, 2)

	scan := tpl.Steps[0]
	assert.Equal(t, "portscan", scan.ModuleName)
	assert.Equal(t, 2, scan.RetryCount)
	assert.Equal(t, 90*time.Second, scan.Timeout)
	assert.Equal(t, scheduler.PriorityHigh, scan.Priority)
	assert.Equal(t, "10.0.0.1", scan.Config["target"])

	report := tpl.Steps[1]
	assert.Equal(t, []string{"scan"}, report.Dependencies)
	assert.True(t, report.ContinueOnFailure)
	assert.Equal(t, scheduler.PriorityMedium, report.Priority)

	require.NoError(t, WriteTemplate(tpl, second))
	a, err := os.ReadFile(first)
	require.NoError(t, err)
	b, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestTemplate_JSONRoundTrip(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "recon.json")
	second := filepath.Join(dir, "copy.json")

	wf := sampleWorkflow()
	require.NoError(t, SaveTemplate(wf, first))
	tpl, err := LoadTemplate(first)
	require.NoError(t, err)
	assert.Equal(t, wf.Name, tpl.Name)
	assert.Equal(t, wf.Description, tpl.Description)
	assert.Equal(t, wf.Steps, tpl.Steps)
	assert.Equal(t, wf.Metadata, tpl.Metadata)
	assert.IsType(t, 0, tpl.Steps[0].Config["failures"])
	assert.IsType(t, 0, tpl.Metadata["runs"])
	assert.Equal(t, 90*time.Second, tpl.Steps[0].Timeout)
	assert.Equal(t, scheduler.PriorityHigh, tpl.Steps[0].Priority)

	require.NoError(t, WriteTemplate(tpl, second))
	a, err := os.ReadFile(first)
	require.NoError(t, err)
	b, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
}

func TestTemplate_TimeoutInSeconds(t *testing.T) {
	yamlDoc := []byte(`
name: quick
steps:
  - name: ping
    module_name: command
    timeout: 30
  - name: pong
    module_name: command
    timeout: 1.5
    dependencies: [ping]
`)
	tpl, err := DecodeTemplate(yamlDoc, FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, tpl.Steps[0].Timeout)
	assert.Equal(t, 1500*time.Millisecond, tpl.Steps[1].Timeout)

	jsonDoc := []byte(`{"name":"quick","steps":[{"module_name":"command","timeout":45},{"name":"b","module_name":"command","timeout":"2m"}]}`)
	tpl, err = DecodeTemplate(jsonDoc, FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, tpl.Steps[0].Timeout)
	assert.Equal(t, 2*time.Minute, tpl.Steps[1].Timeout)
}

func TestTemplate_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing name", `{"steps":[{"module_name":"command"}]}`},
		{"no steps", `{"name":"x","steps":[]}`},
		{"missing module", `{"name":"x","steps":[{"name":"a"}]}`},
		{"negative retry", `{"name":"x","steps":[{"module_name":"command","retry_count":-1}]}`},
		{"priority out of range", `{"name":"x","steps":[{"module_name":"command","priority":"urgent"}]}`},
		{"empty dependency", `{"name":"x","steps":[{"module_name":"command","dependencies":[""]}]}`},
		{"unknown dependency", `{"name":"x","steps":[{"module_name":"command","dependencies":["ghost"]}]}`},
		{"not json", "name: x\nsteps:\n  - module_name: command\n"},
		{"cycle", `{"name":"x","steps":[
			{"name":"a","module_name":"command","dependencies":["b"]},
			{"name":"b","module_name":"command","dependencies":["a"]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeTemplate([]byte(tt.doc), FormatJSON)
			assert.Error(t, err)
		})
	}

	_, err := DecodeTemplate([]byte(`{"name":"x","steps":[{"module_name":"command"}]}`), FormatJSON)
	assert.NoError(t, err)
}

func TestTemplate_UnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	err := SaveTemplate(sampleWorkflow(), filepath.Join(dir, "recon.toml"))
	assert.Error(t, err)

	_, err = LoadTemplate(filepath.Join(dir, "recon.txt"))
	assert.Error(t, err)

	_, err = LoadTemplate(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestManager_CreateFromTemplate(t *testing.T) {
	var c counters
	m, _ := newTestManager(t, scheduler.DefaultConfig(), testRegistry(&c, nil))

	tpl := &Template{
		Name:     "from-template",
		Steps:    []Step{echo("a"), echo("b", "a")},
		Metadata: map[string]any{"ticket": "OPS-12"},
	}
	id, err := m.CreateFromTemplate(tpl)
	require.NoError(t, err)

	wf, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "from-template", wf.Name)
	assert.Equal(t, StateCreated, wf.State)
	assert.Equal(t, "OPS-12", wf.Metadata["ticket"])

	// The workflow owns its own copy of the metadata.
	tpl.Metadata["ticket"] = "changed"
	wf, err = m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "OPS-12", wf.Metadata["ticket"])

	require.NoError(t, m.Start(id))
	st := wait(t, m, id)
	assert.Equal(t, StateCompleted, st.State)

	_, err = m.CreateFromTemplate(nil)
	assert.ErrorIs(t, err, ErrInvalidWorkflow)
}
