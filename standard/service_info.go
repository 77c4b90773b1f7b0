package standard

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// ServiceType represents how the bridge process is running.
type ServiceType string

const (
	ServiceTypeSystemd    ServiceType = "systemd"
	ServiceTypeDocker     ServiceType = "docker"
	ServiceTypeStandalone ServiceType = "standalone"
)

// ServiceInfo holds process information printed in the startup banner.
type ServiceInfo struct {
	ServiceName      string
	Version          string
	RemoteURL        string
	StartTime        time.Time
	ServiceType      ServiceType
	GoVersion        string
	BinaryPath       string
	WorkingDirectory string
	User             string
}

// AutoDetect creates ServiceInfo with auto-detected runtime information.
func AutoDetect(serviceName, version, remoteURL string) *ServiceInfo {
	binaryPath, _ := os.Executable()
	if binaryPath != "" {
		if resolved, err := filepath.EvalSymlinks(binaryPath); err == nil {
			binaryPath = resolved
		}
	}

	workingDir, _ := os.Getwd()

	userName := "unknown"
	if currentUser, err := user.Current(); err == nil {
		userName = currentUser.Username
	}

	return &ServiceInfo{
		ServiceName:      serviceName,
		Version:          version,
		RemoteURL:        remoteURL,
		StartTime:        time.Now().UTC(),
		ServiceType:      detectServiceType(),
		GoVersion:        runtime.Version(),
		BinaryPath:       binaryPath,
		WorkingDirectory: workingDir,
		User:             userName,
	}
}

// GetData converts ServiceInfo to log context.
func (s *ServiceInfo) GetData() map[string]interface{} {
	return map[string]interface{}{
		"name":              s.ServiceName,
		"version":           s.Version,
		"remote_url":        s.RemoteURL,
		"pid":               os.Getpid(),
		"start_time":        s.StartTime.Format("2006-01-02T15:04:05+00:00"),
		"type":              string(s.ServiceType),
		"go_version":        s.GoVersion,
		"binary_path":       s.BinaryPath,
		"working_directory": s.WorkingDirectory,
		"user":              s.User,
	}
}

// detectServiceType determines how the process is running.
func detectServiceType() ServiceType {
	// systemd sets INVOCATION_ID for every unit it starts
	if os.Getenv("INVOCATION_ID") != "" {
		return ServiceTypeSystemd
	}

	if _, err := os.Stat("/.dockerenv"); err == nil {
		return ServiceTypeDocker
	}

	if data, err := os.ReadFile("/proc/self/cgroup"); err == nil {
		cgroup := string(data)
		if strings.Contains(cgroup, "docker") || strings.Contains(cgroup, "containerd") {
			return ServiceTypeDocker
		}
	}

	return ServiceTypeStandalone
}
