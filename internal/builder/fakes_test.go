package builder

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"evalgo.org/deployer/internal/docker"
	"evalgo.org/deployer/models"
)

// fakeRuntime implements Runtime for tests.
type fakeRuntime struct {
	mu sync.Mutex

	buildErr     error
	runErr       error
	inspectErr   error
	inspectPanic bool

	buildDeadlines []time.Duration

	builtTags   []string
	dockerfiles []string
	runSpecs    []docker.ContainerSpec
	removed     []string
	states      map[string]*docker.ContainerState
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{states: map[string]*docker.ContainerState{}}
}

func (f *fakeRuntime) BuildImage(ctx context.Context, _, dockerfile, tag string, onOutput func(string)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		f.buildDeadlines = append(f.buildDeadlines, time.Until(deadline))
	}
	f.builtTags = append(f.builtTags, tag)
	f.dockerfiles = append(f.dockerfiles, dockerfile)
	if onOutput != nil {
		onOutput("Step 1/1 : FROM scratch")
	}
	return f.buildErr
}

func (f *fakeRuntime) RunContainer(_ context.Context, spec docker.ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runSpecs = append(f.runSpecs, spec)
	if f.runErr != nil {
		return "", f.runErr
	}
	return "cid-" + spec.Name, nil
}

func (f *fakeRuntime) RemoveContainer(_ context.Context, nameOrID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, nameOrID)
	return nil
}

func (f *fakeRuntime) InspectContainer(_ context.Context, nameOrID string) (*docker.ContainerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inspectPanic {
		panic("runtime exploded")
	}
	if f.inspectErr != nil {
		return nil, f.inspectErr
	}
	state, ok := f.states[nameOrID]
	if !ok {
		return nil, docker.ErrNotFound
	}
	copied := *state
	return &copied, nil
}

func (f *fakeRuntime) setState(key string, state docker.ContainerState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[key] = &state
}

type phaseEvent struct {
	Phase    models.Phase
	Progress int
	Metadata map[string]any
}

// recorder collects sink output.
type recorder struct {
	mu     sync.Mutex
	phases []phaseEvent
	logs   []models.LogEntry
}

func (r *recorder) OnPhaseUpdate(_ context.Context, phase models.Phase, progress int, metadata map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, phaseEvent{Phase: phase, Progress: progress, Metadata: metadata})
}

func (r *recorder) OnLog(_ context.Context, entry models.LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, entry)
}

func (r *recorder) last() phaseEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.phases) == 0 {
		return phaseEvent{}
	}
	return r.phases[len(r.phases)-1]
}

func (r *recorder) phaseNames() []models.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]models.Phase, 0, len(r.phases))
	for _, p := range r.phases {
		names = append(names, p.Phase)
	}
	return names
}

func (r *recorder) hasLog(level models.LogLevel, step string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.logs {
		if l.Level == level && l.Step == step {
			return true
		}
	}
	return false
}

func fastOptions() Options {
	return Options{
		HealthTimeout:  30 * time.Millisecond,
		HealthInterval: 5 * time.Millisecond,
		DefaultPort:    3000,
	}
}

func newConfig(t *testing.T, rec *recorder) *models.BuilderConfig {
	t.Helper()
	return &models.BuilderConfig{
		DeploymentID: "0123456789abcdef",
		ServiceName:  "web",
		SourcePath:   t.TempDir(),
		PhaseSink:    rec,
		LogSink:      rec,
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
