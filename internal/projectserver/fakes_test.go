package projectserver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"evalgo.org/deployer/internal/config"
	"evalgo.org/deployer/internal/docker"
	"evalgo.org/deployer/internal/logging"
)

type fakeContainer struct {
	id      string
	image   string
	labels  map[string]string
	running bool
	health  string
}

// fakeRuntime is an in-memory container runtime.
type fakeRuntime struct {
	mu         sync.Mutex
	containers map[string]*fakeContainer // by name
	seq        int
	runs       int
	stopped    []string
	removed    []string
	volumes    []string
	networks   []string
	execs      [][]string
	runDelay   time.Duration

	// exec decides the outcome of a command; nil succeeds
	exec func(containerID string, cmd []string) (*docker.ExecResult, error)
	// onRun may alter a freshly created container
	onRun func(c *fakeContainer)
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{containers: map[string]*fakeContainer{}}
}

func (f *fakeRuntime) find(nameOrID string) (string, *fakeContainer) {
	if c, ok := f.containers[nameOrID]; ok {
		return nameOrID, c
	}
	for name, c := range f.containers {
		if c.id == nameOrID {
			return name, c
		}
	}
	return "", nil
}

func (f *fakeRuntime) InspectContainer(_ context.Context, nameOrID string) (*docker.ContainerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, c := f.find(nameOrID)
	if c == nil {
		return nil, docker.ErrNotFound
	}
	labels := map[string]string{}
	for k, v := range c.labels {
		labels[k] = v
	}
	status := "exited"
	if c.running {
		status = "running"
	}
	return &docker.ContainerState{ID: c.id, Name: name, Image: c.image, Status: status, Running: c.running, Health: c.health, Labels: labels}, nil
}

func (f *fakeRuntime) RunContainer(_ context.Context, spec docker.ContainerSpec) (string, error) {
	time.Sleep(f.runDelay)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.containers[spec.Name]; exists {
		return "", fmt.Errorf("conflict: container name %s in use", spec.Name)
	}
	f.seq++
	f.runs++
	c := &fakeContainer{id: fmt.Sprintf("cid-%d", f.seq), image: spec.Image, labels: spec.Labels, running: true, health: docker.HealthStarting}
	if f.onRun != nil {
		f.onRun(c)
	}
	f.containers[spec.Name] = c
	return c.id, nil
}

func (f *fakeRuntime) StartContainer(_ context.Context, nameOrID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, c := f.find(nameOrID)
	if c == nil {
		return docker.ErrNotFound
	}
	c.running = true
	return nil
}

func (f *fakeRuntime) StopContainer(_ context.Context, nameOrID string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, nameOrID)
	if _, c := f.find(nameOrID); c != nil {
		c.running = false
	}
	return nil
}

func (f *fakeRuntime) RemoveContainer(_ context.Context, nameOrID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, nameOrID)
	if name, c := f.find(nameOrID); c != nil {
		delete(f.containers, name)
	}
	return nil
}

func (f *fakeRuntime) Exec(_ context.Context, containerID, _ string, cmd []string) (*docker.ExecResult, error) {
	f.mu.Lock()
	f.execs = append(f.execs, cmd)
	hook := f.exec
	f.mu.Unlock()
	if hook != nil {
		return hook(containerID, cmd)
	}
	return &docker.ExecResult{}, nil
}

func (f *fakeRuntime) EnsureVolume(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes = append(f.volumes, name)
	return nil
}

func (f *fakeRuntime) EnsureNetwork(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.networks = append(f.networks, name)
	return nil
}

func (f *fakeRuntime) put(name string, c *fakeContainer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[name] = c
}

func (f *fakeRuntime) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

func (f *fakeRuntime) execsContaining(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, cmd := range f.execs {
		if strings.Contains(strings.Join(cmd, " "), substr) {
			n++
		}
	}
	return n
}

func testServerConfig() config.ProjectServerConfig {
	return config.ProjectServerConfig{
		Image:          "nginx:alpine",
		Volume:         "deployer-static-files",
		StaticMount:    "/srv/static",
		DocumentRoot:   "/usr/share/nginx/html",
		ServerUser:     "nginx",
		HealthTimeout:  40 * time.Millisecond,
		HealthInterval: 5 * time.Millisecond,
		CreateAttempts: 3,
		CreateBackoff:  2 * time.Second,
		VhostAttempts:  3,
		VhostBackoff:   time.Second,
	}
}

// newTestManager returns a manager whose sleeps are recorded, not slept.
func newTestManager(rt *fakeRuntime, dynamicDir string) (*Manager, *[]time.Duration) {
	m := NewManager(rt, testServerConfig(), "deployer", config.RoutingConfig{DynamicConfigDir: dynamicDir, EntryPoint: "web"}, logging.Discard())
	var mu sync.Mutex
	sleeps := &[]time.Duration{}
	m.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		if d > 0 {
			*sleeps = append(*sleeps, d)
		}
		return ctx.Err()
	}
	return m, sleeps
}
