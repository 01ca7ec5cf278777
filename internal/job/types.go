package job

import (
	"fmt"
	"slices"
	"time"
)

// PayloadKind identifies what a job runs.
type PayloadKind int

const (
	PayloadCommand PayloadKind = iota + 1
	PayloadExecutable
	PayloadWorkflow
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadCommand:
		return "command"
	case PayloadExecutable:
		return "executable"
	case PayloadWorkflow:
		return "workflow"
	default:
		return "unknown"
	}
}

// Payload is exactly one of an inline command, an executable to upload, or a
// workflow document. The zero value is invalid; build one with
// CommandPayload, ExecutablePayload or WorkflowPayload.
type Payload struct {
	kind       PayloadKind
	command    []string
	executable []byte
	workflow   *Workflow
}

// Workflow is a workflow-language definition plus its input document.
type Workflow struct {
	Path  string // definition file, handed to the preprocessor
	Input []byte // job input document (YAML or JSON)
}

// CommandPayload runs each element as one shell statement.
func CommandPayload(statements ...string) Payload {
	return Payload{kind: PayloadCommand, command: slices.Clone(statements)}
}

// ExecutablePayload uploads content and runs it on the instance.
func ExecutablePayload(content []byte) Payload {
	return Payload{kind: PayloadExecutable, executable: slices.Clone(content)}
}

// WorkflowPayload runs a workflow definition through the interpreter.
func WorkflowPayload(path string, input []byte) Payload {
	return Payload{kind: PayloadWorkflow, workflow: &Workflow{Path: path, Input: slices.Clone(input)}}
}

// Kind returns the payload mode, or 0 for the zero Payload.
func (p Payload) Kind() PayloadKind { return p.kind }

// Command returns the statements of a command payload.
func (p Payload) Command() []string { return slices.Clone(p.command) }

// Executable returns the bytes of an executable payload.
func (p Payload) Executable() []byte { return p.executable }

// Workflow returns the workflow of a workflow payload.
func (p Payload) Workflow() *Workflow { return p.workflow }

// EnvVar is one container environment entry.
type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// BlockMount asks for a fresh EBS volume of SizeGB mounted at Mountpoint.
type BlockMount struct {
	Mountpoint string `json:"mountpoint"`
	SizeGB     int    `json:"sizeGB"`
}

// SharedMount asks for an EFS filesystem (ID or Name tag) at Mountpoint.
type SharedMount struct {
	Mountpoint string `json:"mountpoint"`
	Filesystem string `json:"filesystem"`
}

// Volume is a host path exposed to the container.
type Volume struct {
	HostPath      string `json:"hostPath"`
	ContainerPath string `json:"containerPath"`
}

// Ulimit is a container resource limit; soft and hard are equal.
type Ulimit struct {
	Name  string `json:"name"`
	Value int32  `json:"value"`
}

// Resources describes the container shape registered in the job definition.
type Resources struct {
	Image      string   `json:"image"`
	VCPUs      int32    `json:"vcpus"`
	MemoryMB   int32    `json:"memoryMB"`
	Privileged bool     `json:"privileged"`
	Ulimits    []Ulimit `json:"ulimits,omitempty"`
	Volumes    []Volume `json:"volumes,omitempty"`
	JobRole    string   `json:"jobRole"`
}

// WaitMode selects what Submit does after the job is accepted.
type WaitMode int

const (
	WaitNone  WaitMode = iota
	WaitWatch          // follow status and logs until terminal
	WaitBlock          // block without output; not implemented
)

// Request is a job submission.
type Request struct {
	Name          string
	Queue         string
	Payload       Payload
	Environment   []EnvVar
	BlockStorage  []BlockMount
	SharedStorage *SharedMount
	Resources     Resources
	RetryAttempts int32
	Timeout       time.Duration
	DependsOn     []string
	Parameters    map[string]string
	DefinitionARN string // pinned job definition; skips registration
	DryRun        bool
	Wait          WaitMode
}

// Spec is the container invocation derived from a Request.
// Command is Preamble, then Bootstrap, then Tail.
type Spec struct {
	Preamble    []string
	Bootstrap   []string
	Tail        []string
	Environment []EnvVar
	Resources   Resources
}

// Command returns the full container command.
func (s *Spec) Command() []string {
	cmd := make([]string, 0, len(s.Preamble)+len(s.Bootstrap)+len(s.Tail))
	cmd = append(cmd, s.Preamble...)
	cmd = append(cmd, s.Bootstrap...)
	return append(cmd, s.Tail...)
}

// Definition identifies a registered job definition revision.
type Definition struct {
	Name     string
	Revision int32
	ARN      string
}

// Status is the lifecycle state reported by the compute service.
type Status string

const (
	StatusSubmitted Status = "SUBMITTED"
	StatusPending   Status = "PENDING"
	StatusRunnable  Status = "RUNNABLE"
	StatusStarting  Status = "STARTING"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusSubmitted, StatusPending, StatusRunnable, StatusStarting,
	StatusRunning, StatusSucceeded, StatusFailed,
}

// Rank orders statuses along the lifecycle; SUCCEEDED and FAILED share the
// last rank. Unknown statuses rank 0.
func (s Status) Rank() int {
	switch s {
	case StatusSubmitted:
		return 1
	case StatusPending:
		return 2
	case StatusRunnable:
		return 3
	case StatusStarting:
		return 4
	case StatusRunning:
		return 5
	case StatusSucceeded, StatusFailed:
		return 6
	default:
		return 0
	}
}

// IsTerminal reports whether the job is finished.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// HasLogs reports whether the job has reached a state with a log stream.
func (s Status) HasLogs() bool {
	return s == StatusRunning || s.IsTerminal()
}

// ParseStatus validates a status name.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if st.Rank() == 0 {
		return "", fmt.Errorf("unknown job status %q", s)
	}
	return st, nil
}

// Description is what the compute service reports about a job.
type Description struct {
	ID           string     `json:"jobId"`
	Name         string     `json:"jobName"`
	Queue        string     `json:"jobQueue,omitempty"`
	Definition   string     `json:"jobDefinition,omitempty"`
	Status       Status     `json:"status"`
	StatusReason string     `json:"statusReason,omitempty"`
	LogStream    string     `json:"logStreamName,omitempty"`
	ExitCode     *int32     `json:"exitCode,omitempty"`
	CreatedAt    *time.Time `json:"createdAt,omitempty"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	StoppedAt    *time.Time `json:"stoppedAt,omitempty"`
	FromSnapshot bool       `json:"fromSnapshot,omitempty"`
}

// Snapshot is the durable copy of a description kept after the live record
// expires.
type Snapshot struct {
	JobID        string    `json:"jobId"`
	JobName      string    `json:"jobName"`
	Status       Status    `json:"status"`
	StatusReason string    `json:"statusReason,omitempty"`
	LogStream    string    `json:"logStreamName,omitempty"`
	SavedAt      time.Time `json:"savedAt"`
}

// SnapshotOf captures the fields of d that outlive the live record.
func SnapshotOf(d *Description, now time.Time) *Snapshot {
	return &Snapshot{
		JobID:        d.ID,
		JobName:      d.Name,
		Status:       d.Status,
		StatusReason: d.StatusReason,
		LogStream:    d.LogStream,
		SavedAt:      now.UTC(),
	}
}

// Description rebuilds a description from the snapshot.
func (s *Snapshot) Description() *Description {
	return &Description{
		ID:           s.JobID,
		Name:         s.JobName,
		Status:       s.Status,
		StatusReason: s.StatusReason,
		LogStream:    s.LogStream,
		FromSnapshot: true,
	}
}

// SubmitResult is returned by Submit.
type SubmitResult struct {
	JobID      string         `json:"jobId,omitempty"`
	JobName    string         `json:"jobName"`
	JobARN     string         `json:"jobArn,omitempty"`
	Definition string         `json:"jobDefinition,omitempty"`
	DryRun     bool           `json:"dryRun,omitempty"`
	Final      *Description   `json:"final,omitempty"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	Spec       *Spec          `json:"-"`
}
