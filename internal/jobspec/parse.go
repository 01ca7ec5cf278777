package jobspec

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"batchctl/internal/apperrors"
	"batchctl/internal/job"
)

// ParseEnvVar parses NAME=VALUE.
func ParseEnvVar(s string) (job.EnvVar, error) {
	name, value, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return job.EnvVar{}, apperrors.Validation("environment", fmt.Sprintf("expected NAME=VALUE, got %q", s))
	}
	return job.EnvVar{Name: name, Value: value}, nil
}

// ParseBlockMount parses MOUNTPOINT=SIZE_GB; a trailing G, GB or gb is
// accepted.
func ParseBlockMount(s string) (job.BlockMount, error) {
	mp, size, ok := strings.Cut(s, "=")
	if !ok || mp == "" {
		return job.BlockMount{}, apperrors.Validation("storage", fmt.Sprintf("expected MOUNTPOINT=SIZE_GB, got %q", s))
	}
	gb, err := strconv.Atoi(strings.TrimRight(size, "GBgb"))
	if err != nil || gb <= 0 {
		return job.BlockMount{}, apperrors.Validation("storage", fmt.Sprintf("invalid size %q for %s", size, mp))
	}
	return job.BlockMount{Mountpoint: mp, SizeGB: gb}, nil
}

// ParseSharedMount parses MOUNTPOINT=FILESYSTEM or a bare MOUNTPOINT, which
// uses the filesystem named DefaultFilesystemName.
func ParseSharedMount(s string) (*job.SharedMount, error) {
	mp, fs, ok := strings.Cut(s, "=")
	if mp == "" {
		return nil, apperrors.Validation("efsStorage", fmt.Sprintf("expected MOUNTPOINT[=FILESYSTEM], got %q", s))
	}
	if !ok || fs == "" {
		fs = DefaultFilesystemName
	}
	return &job.SharedMount{Mountpoint: mp, Filesystem: fs}, nil
}

// ParseVolume parses HOST_PATH=CONTAINER_PATH.
func ParseVolume(s string) (job.Volume, error) {
	host, guest, ok := strings.Cut(s, "=")
	if !ok || host == "" || guest == "" {
		return job.Volume{}, apperrors.Validation("volumes", fmt.Sprintf("expected HOST_PATH=GUEST_PATH, got %q", s))
	}
	return job.Volume{HostPath: host, ContainerPath: guest}, nil
}

// ParseUlimit parses NAME:VALUE.
func ParseUlimit(s string) (job.Ulimit, error) {
	name, value, ok := strings.Cut(s, ":")
	if !ok || name == "" {
		return job.Ulimit{}, apperrors.Validation("ulimits", fmt.Sprintf("expected NAME:VALUE, got %q", s))
	}
	n, err := strconv.ParseInt(value, 10, 32)
	if err != nil {
		return job.Ulimit{}, apperrors.Validation("ulimits", fmt.Sprintf("invalid value for ulimit %s: %q", name, value))
	}
	return job.Ulimit{Name: name, Value: int32(n)}, nil
}

// ParseParameters parses NAME=VALUE pairs into a map.
func ParseParameters(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, apperrors.Validation("parameters", fmt.Sprintf("expected NAME=VALUE, got %q", p))
		}
		params[k] = v
	}
	return params, nil
}

var timeoutUnits = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}

// ParseTimeout parses a count with an s, m, h, d or w suffix. A bare number
// is seconds.
func ParseTimeout(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	unit := time.Second
	if u, ok := timeoutUnits[s[len(s)-1]]; ok {
		unit = u
		s = s[:len(s)-1]
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, apperrors.Validation("timeout", fmt.Sprintf("invalid timeout %q", s))
	}
	return time.Duration(n) * unit, nil
}
