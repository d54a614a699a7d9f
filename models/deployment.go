package models

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Phase is a named step in the deployment progress state machine.
// Phases advance monotonically until ACTIVE, or jump to FAILED from any point.
type Phase string

const (
	PhasePending        Phase = "PENDING"
	PhaseBuilding       Phase = "BUILDING"
	PhaseCopyingFiles   Phase = "COPYING_FILES"
	PhaseUpdatingRoutes Phase = "UPDATING_ROUTES"
	PhaseHealthCheck    Phase = "HEALTH_CHECK"
	PhaseActive         Phase = "ACTIVE"
	PhaseFailed         Phase = "FAILED"
)

// Terminal reports whether no further phase follows p.
func (p Phase) Terminal() bool {
	return p == PhaseActive || p == PhaseFailed
}

// BuildType selects the builder strategy for a deployment.
type BuildType string

const (
	BuildTypeBuildpack BuildType = "buildpack"
	BuildTypeCompose   BuildType = "compose"
	BuildTypeStatic    BuildType = "static"
)

// ParseBuildType converts user input into a BuildType.
func ParseBuildType(s string) (BuildType, error) {
	switch BuildType(strings.ToLower(strings.TrimSpace(s))) {
	case BuildTypeBuildpack, "auto", "nixpacks":
		return BuildTypeBuildpack, nil
	case BuildTypeCompose, "docker-compose":
		return BuildTypeCompose, nil
	case BuildTypeStatic:
		return BuildTypeStatic, nil
	}
	return "", fmt.Errorf("unknown build type %q", s)
}

// Language is a source language supported by the buildpack strategy.
type Language string

const (
	LanguageNodeJS Language = "nodejs"
	LanguagePython Language = "python"
	LanguageRuby   Language = "ruby"
	LanguageGo     Language = "go"
)

// ParseLanguage converts user input into a Language. An empty string yields "" with no error.
func ParseLanguage(s string) (Language, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "nodejs", "node", "javascript", "typescript":
		return LanguageNodeJS, nil
	case "python", "py":
		return LanguagePython, nil
	case "ruby", "rb":
		return LanguageRuby, nil
	case "go", "golang":
		return LanguageGo, nil
	}
	return "", fmt.Errorf("unsupported language %q", s)
}

// ResultStatus is the outcome of a strategy invocation.
type ResultStatus string

const (
	// StatusSuccess means containers are running and passed their health check.
	StatusSuccess ResultStatus = "success"

	// StatusPartial means containers were created but the final health check failed.
	// The containers are left running for inspection.
	StatusPartial ResultStatus = "partial"

	// StatusFailed means the pipeline aborted before containers were meaningfully created.
	StatusFailed ResultStatus = "failed"
)

// ResourceLimits are optional container constraints expressed as strings ("512m", "0.5").
type ResourceLimits struct {
	Memory  string `json:"memory,omitempty" yaml:"memory,omitempty"`
	CPU     string `json:"cpu,omitempty" yaml:"cpu,omitempty"`
	Storage string `json:"storage,omitempty" yaml:"storage,omitempty"`
}

// MemoryBytes parses Memory ("256m", "1g", "1024k", "1048576") into bytes.
// An empty value returns 0.
func (r ResourceLimits) MemoryBytes() (int64, error) {
	return parseByteSize(r.Memory)
}

// NanoCPUs parses CPU ("0.5", "2") into Docker nano CPUs. An empty value returns 0.
func (r ResourceLimits) NanoCPUs() (int64, error) {
	v := strings.TrimSpace(r.CPU)
	if v == "" {
		return 0, nil
	}
	cpus, err := strconv.ParseFloat(v, 64)
	if err != nil || cpus <= 0 {
		return 0, fmt.Errorf("invalid cpu limit %q", r.CPU)
	}
	return int64(cpus * 1e9), nil
}

func parseByteSize(s string) (int64, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" {
		return 0, nil
	}
	v = strings.TrimSuffix(v, "b")
	multiplier := int64(1)
	switch {
	case strings.HasSuffix(v, "k"):
		multiplier = 1 << 10
		v = strings.TrimSuffix(v, "k")
	case strings.HasSuffix(v, "m"):
		multiplier = 1 << 20
		v = strings.TrimSuffix(v, "m")
	case strings.HasSuffix(v, "g"):
		multiplier = 1 << 30
		v = strings.TrimSuffix(v, "g")
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return int64(n * float64(multiplier)), nil
}

// LogLevel of a structured deployment log line.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogEntry is a structured log line delivered to a LogSink.
type LogEntry struct {
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	Phase     Phase     `json:"phase,omitempty"`
	Step      string    `json:"step,omitempty"`
	Service   string    `json:"service"`
	Timestamp time.Time `json:"timestamp"`
}

// PhaseSink receives phase transitions. Implementations are called synchronously.
type PhaseSink interface {
	OnPhaseUpdate(ctx context.Context, phase Phase, progress int, metadata map[string]any)
}

// LogSink receives structured log lines. Implementations are called synchronously.
type LogSink interface {
	OnLog(ctx context.Context, entry LogEntry)
}

// PhaseSinkFunc adapts a function to PhaseSink.
type PhaseSinkFunc func(ctx context.Context, phase Phase, progress int, metadata map[string]any)

func (f PhaseSinkFunc) OnPhaseUpdate(ctx context.Context, phase Phase, progress int, metadata map[string]any) {
	f(ctx, phase, progress, metadata)
}

// LogSinkFunc adapts a function to LogSink.
type LogSinkFunc func(ctx context.Context, entry LogEntry)

func (f LogSinkFunc) OnLog(ctx context.Context, entry LogEntry) {
	f(ctx, entry)
}

// NopPhaseSink discards phase updates.
type NopPhaseSink struct{}

func (NopPhaseSink) OnPhaseUpdate(context.Context, Phase, int, map[string]any) {}

// NopLogSink discards log lines.
type NopLogSink struct{}

func (NopLogSink) OnLog(context.Context, LogEntry) {}

// BuildpackOptions pin or override what the buildpack strategy would otherwise detect.
type BuildpackOptions struct {
	Language       Language `json:"language,omitempty"`
	Version        string   `json:"version,omitempty"`
	InstallCommand string   `json:"installCommand,omitempty"`
	BuildCommand   string   `json:"buildCommand,omitempty"`
	StartCommand   string   `json:"startCommand,omitempty"`
}

// ComposeOptions configure the Docker Compose strategy.
type ComposeOptions struct {
	// ComposeFile is relative to SourcePath (default: docker-compose.yml)
	ComposeFile string `json:"composeFile,omitempty"`

	// ProjectName defaults to the service name
	ProjectName string `json:"projectName,omitempty"`

	// Services restricts the deployment to a subset of declared services
	Services []string `json:"services,omitempty"`
}

// StaticOptions configure the static strategy.
type StaticOptions struct {
	ProjectID string `json:"projectId,omitempty"`
	Domain    string `json:"domain,omitempty"`
	Subdomain string `json:"subdomain,omitempty"`
}

// BuilderConfig is the input to a builder strategy. It is built per deployment
// attempt by the caller and consumed by exactly one strategy invocation.
type BuilderConfig struct {
	DeploymentID         string            `json:"deploymentId"`
	ServiceName          string            `json:"serviceName"`
	SourcePath           string            `json:"sourcePath"`
	EnvironmentVariables map[string]string `json:"environmentVariables,omitempty"`

	// Port overrides the detected port; 0 means unset
	Port int `json:"port,omitempty"`

	// HealthCheckPath defaults to /health
	HealthCheckPath string         `json:"healthCheckPath,omitempty"`
	ResourceLimits  ResourceLimits `json:"resourceLimits,omitempty"`

	PhaseSink PhaseSink `json:"-"`
	LogSink   LogSink   `json:"-"`

	Buildpack *BuildpackOptions `json:"buildpack,omitempty"`
	Compose   *ComposeOptions   `json:"compose,omitempty"`
	Static    *StaticOptions    `json:"static,omitempty"`
}

// BuilderResult is the output of a builder strategy.
type BuilderResult struct {
	DeploymentID   string         `json:"deploymentId"`
	ContainerIDs   []string       `json:"containerIds"`
	Status         ResultStatus   `json:"status"`
	HealthCheckURL string         `json:"healthCheckUrl,omitempty"`
	Domain         string         `json:"domain,omitempty"`
	Message        string         `json:"message"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}
