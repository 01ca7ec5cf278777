// Package config provides configuration loading from environment variables
// and an optional YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds settings shared by all batchctl commands. Values come from
// built-in defaults, then the YAML file, then BATCHCTL_* environment
// variables; command-line flags override all three.
type Config struct {
	Region  string `yaml:"region"`
	Profile string `yaml:"profile"`

	Queue         string   `yaml:"queue"`
	Image         string   `yaml:"image"`
	VCPUs         int      `yaml:"vcpus"`
	MemoryMB      int      `yaml:"memoryMB"`
	Ulimits       []string `yaml:"ulimits"`
	RetryAttempts int      `yaml:"retryAttempts"`
	JobRole       string   `yaml:"jobRole"`

	LogGroup     string        `yaml:"logGroup"`
	PollInterval time.Duration `yaml:"pollInterval"`

	StagingBucketPrefix string `yaml:"stagingBucketPrefix"`
	StatusTable         string `yaml:"statusTable"`
	WorkflowRunner      string `yaml:"workflowRunner"`

	SnapshotBackend string `yaml:"snapshotBackend"` // "jobdef" or "sqlite"
	SnapshotDB      string `yaml:"snapshotDB"`

	ComputeEnvironment ComputeEnvironmentConfig `yaml:"computeEnvironment"`

	NotifyURL        string   `yaml:"notifyURL"`
	NotifyEvents     []string `yaml:"notifyEvents"`
	NotifySigningKey string   `yaml:"-"`

	// DockerHost overrides DOCKER_HOST for run-local.
	DockerHost string `yaml:"dockerHost"`

	MetricsAddr string `yaml:"metricsAddr"`
	LogLevel    string `yaml:"logLevel"`
	LogFormat   string `yaml:"logFormat"`
}

// ComputeEnvironmentConfig holds defaults for compute environments created
// on demand.
type ComputeEnvironmentConfig struct {
	ComputeType   string   `yaml:"computeType"` // EC2 or SPOT
	MinVCPUs      int      `yaml:"minVCPUs"`
	DesiredVCPUs  int      `yaml:"desiredVCPUs"`
	MaxVCPUs      int      `yaml:"maxVCPUs"`
	InstanceTypes []string `yaml:"instanceTypes"`
	InstanceRole  string   `yaml:"instanceRole"`
	ServiceRole   string   `yaml:"serviceRole"`
	SecurityGroup string   `yaml:"securityGroup"`
	SSHKeyName    string   `yaml:"sshKeyName"`
	ImageID       string   `yaml:"imageId"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Queue:               "batchctl",
		Image:               "ubuntu",
		VCPUs:               1,
		MemoryMB:            1024,
		Ulimits:             []string{"nofile:100000"},
		RetryAttempts:       1,
		JobRole:             "batchctl.worker",
		LogGroup:            "/aws/batch/job",
		PollInterval:        200 * time.Millisecond,
		StagingBucketPrefix: "batchctl-jobs",
		StatusTable:         "batchctl-jobs",
		WorkflowRunner:      "cwltool",
		SnapshotBackend:     "jobdef",
		SnapshotDB:          defaultStatePath("snapshots.db"),
		ComputeEnvironment: ComputeEnvironmentConfig{
			ComputeType:   "EC2",
			MinVCPUs:      0,
			DesiredVCPUs:  2,
			MaxVCPUs:      64,
			InstanceTypes: []string{"optimal"},
			InstanceRole:  "batchctl.ecs_container_instance",
			ServiceRole:   "batchctl.service",
			SecurityGroup: "batchctl.launch",
			SSHKeyName:    "batchctl",
		},
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// Load builds the configuration. A missing config file is not an error.
func Load() (*Config, error) {
	cfg := Defaults()

	path := GetEnv("BATCHCTL_CONFIG", defaultStatePath("config.yaml"))
	if err := cfg.mergeFile(path); err != nil {
		return nil, err
	}
	cfg.mergeEnv()
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) mergeEnv() {
	c.Region = GetEnv("BATCHCTL_REGION", GetEnv("AWS_REGION", c.Region))
	c.Profile = GetEnv("BATCHCTL_PROFILE", c.Profile)
	c.Queue = GetEnv("BATCHCTL_QUEUE", c.Queue)
	c.Image = GetEnv("BATCHCTL_IMAGE", c.Image)
	c.VCPUs = GetIntEnv("BATCHCTL_VCPUS", c.VCPUs)
	c.MemoryMB = GetIntEnv("BATCHCTL_MEMORY_MB", c.MemoryMB)
	c.Ulimits = GetListEnv("BATCHCTL_ULIMITS", c.Ulimits)
	c.RetryAttempts = GetIntEnv("BATCHCTL_RETRY_ATTEMPTS", c.RetryAttempts)
	c.JobRole = GetEnv("BATCHCTL_JOB_ROLE", c.JobRole)
	c.LogGroup = GetEnv("BATCHCTL_LOG_GROUP", c.LogGroup)
	c.PollInterval = GetDurationEnv("BATCHCTL_POLL_INTERVAL", c.PollInterval)
	c.StagingBucketPrefix = GetEnv("BATCHCTL_STAGING_BUCKET_PREFIX", c.StagingBucketPrefix)
	c.StatusTable = GetEnv("BATCHCTL_STATUS_TABLE", c.StatusTable)
	c.WorkflowRunner = GetEnv("BATCHCTL_WORKFLOW_RUNNER", c.WorkflowRunner)
	c.SnapshotBackend = GetEnv("BATCHCTL_SNAPSHOT_BACKEND", c.SnapshotBackend)
	c.SnapshotDB = GetEnv("BATCHCTL_SNAPSHOT_DB", c.SnapshotDB)
	c.NotifyURL = GetEnv("BATCHCTL_NOTIFY_URL", c.NotifyURL)
	c.NotifyEvents = GetListEnv("BATCHCTL_NOTIFY_EVENTS", c.NotifyEvents)
	c.DockerHost = GetEnv("BATCHCTL_DOCKER_HOST", c.DockerHost)
	c.NotifySigningKey = GetSecretFile(GetEnv("BATCHCTL_NOTIFY_SIGNING_KEY_FILE", ""))
	c.MetricsAddr = GetEnv("BATCHCTL_METRICS_ADDR", c.MetricsAddr)
	c.LogLevel = GetEnv("BATCHCTL_LOG_LEVEL", c.LogLevel)
	c.LogFormat = GetEnv("BATCHCTL_LOG_FORMAT", c.LogFormat)

	ce := &c.ComputeEnvironment
	ce.ComputeType = GetEnv("BATCHCTL_COMPUTE_TYPE", ce.ComputeType)
	ce.MaxVCPUs = GetIntEnv("BATCHCTL_MAX_VCPUS", ce.MaxVCPUs)
	ce.InstanceTypes = GetListEnv("BATCHCTL_INSTANCE_TYPES", ce.InstanceTypes)
	ce.SSHKeyName = GetEnv("BATCHCTL_SSH_KEY_NAME", ce.SSHKeyName)
	ce.ImageID = GetEnv("BATCHCTL_CE_IMAGE_ID", ce.ImageID)
}

// StateDir is where batchctl keeps its config file, local state and
// generated SSH keys. It is empty when the user config directory is unknown.
func StateDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "batchctl")
}

func defaultStatePath(name string) string {
	dir := StateDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, name)
}
