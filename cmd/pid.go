package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const (
	stateDirName = ".sf-file-export"
	pidFileName  = "sf-file-export.pid"
	taskFileName = "current_task.json"
)

// TaskInfo is the progress of the running export, as shown by `status`
type TaskInfo struct {
	PID            int       `json:"pid"`
	StartTime      time.Time `json:"start_time"`
	Query          string    `json:"query"`
	OutputDir      string    `json:"output_dir"`
	CurrentTask    string    `json:"current_task"`
	CurrentBatch   int       `json:"current_batch,omitempty"`
	TotalBatches   int       `json:"total_batches"`
	Progress       float64   `json:"progress"`
	TotalItems     int       `json:"total_items"`
	CompletedItems int       `json:"completed_items"`
	FailedItems    int       `json:"failed_items"`
	LastUpdate     time.Time `json:"last_update"`
}

// GetStateDir returns the directory holding the PID, task and log files
func GetStateDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, stateDirName)
}

func GetPIDFilePath() string {
	return filepath.Join(GetStateDir(), pidFileName)
}

func GetTaskFilePath() string {
	return filepath.Join(GetStateDir(), taskFileName)
}

// writeStateFile replaces path in one rename so a concurrent `status --watch`
// never reads a half-written file
func writeStateFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// WritePIDFile records the current process as the running export
func WritePIDFile() error {
	return writeStateFile(GetPIDFilePath(), []byte(strconv.Itoa(os.Getpid())))
}

func RemovePIDFile() error {
	return os.Remove(GetPIDFilePath())
}

// ReadPIDFile returns the PID of the export that wrote the PID file
func ReadPIDFile() (int, error) {
	data, err := os.ReadFile(GetPIDFilePath())
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}
	return pid, nil
}

// IsProcessRunning probes pid with signal 0. FindProcess always succeeds on
// Windows, so the signal is what tells a live process from a stale file.
func IsProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// WriteTaskInfo stamps LastUpdate and replaces the task file
func WriteTaskInfo(info *TaskInfo) error {
	info.LastUpdate = time.Now()

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal task info: %w", err)
	}
	return writeStateFile(GetTaskFilePath(), data)
}

func ReadTaskInfo() (*TaskInfo, error) {
	data, err := os.ReadFile(GetTaskFilePath())
	if err != nil {
		return nil, err
	}

	var info TaskInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task info: %w", err)
	}
	return &info, nil
}

func RemoveTaskFile() error {
	return os.Remove(GetTaskFilePath())
}
