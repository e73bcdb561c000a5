package core

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vetle/fleet/internal/logging"
)

// LogFileInfo describes one log file on disk.
type LogFileInfo struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// LogPage is one page of log lines with pagination metadata.
type LogPage struct {
	Lines      []string `json:"lines"`
	TotalLines int      `json:"total_lines"`
	TotalPages int      `json:"total_pages"`
	Page       int      `json:"page"`
	PageSize   int      `json:"page_size"`
}

// LogService exposes the per-server log files (install logs and their
// rotated generations) for inspection over the API.
type LogService struct {
	logs *InstallLogs
}

func NewLogService(logs *InstallLogs) *LogService {
	return &LogService{logs: logs}
}

// List returns the log files recorded for a server, newest first.
func (s *LogService) List(serverID string) ([]LogFileInfo, error) {
	if err := checkPathComponent(serverID); err != nil {
		return nil, err
	}
	return listDir(s.logs.ServerDir(serverID))
}

// ListSystem returns the service's own log files, newest first.
func (s *LogService) ListSystem() ([]LogFileInfo, error) {
	return listDir(s.logs.dir)
}

func listDir(dir string) ([]LogFileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []LogFileInfo{}, nil
		}
		return nil, fmt.Errorf("list logs: %w", err)
	}

	files := []LogFileInfo{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, LogFileInfo{
			Name:     e.Name(),
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
	}
	for i, j := 0, len(files)-1; i < j; i, j = i+1, j-1 {
		files[i], files[j] = files[j], files[i]
	}
	return files, nil
}

// Read returns one page of a server's log file, 1-indexed. A page past the
// end is clamped to the last page.
func (s *LogService) Read(serverID, file string, page, pageSize int) (*LogPage, error) {
	if err := checkPathComponent(serverID); err != nil {
		return nil, err
	}
	if file == "" {
		file = installLogName
	}
	if err := checkPathComponent(file); err != nil {
		return nil, err
	}
	return readPage(filepath.Join(s.logs.ServerDir(serverID), file), file, page, pageSize)
}

// ReadSystem returns one page of a service log file, 1-indexed.
func (s *LogService) ReadSystem(file string, page, pageSize int) (*LogPage, error) {
	if file == "" {
		file = logging.SystemLogName
	}
	if err := checkPathComponent(file); err != nil {
		return nil, err
	}
	return readPage(filepath.Join(s.logs.dir, file), file, page, pageSize)
}

func readPage(path, file string, page, pageSize int) (*LogPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 100
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("log file %s: %w", file, ErrNotFound)
		}
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	lines := []string{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}

	total := len(lines)
	totalPages := (total + pageSize - 1) / pageSize
	if totalPages == 0 {
		totalPages = 1
	}
	if page > totalPages {
		page = totalPages
	}
	start := (page - 1) * pageSize
	end := start + pageSize
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	return &LogPage{
		Lines:      lines[start:end],
		TotalLines: total,
		TotalPages: totalPages,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// TailPath returns the install log path for streaming, validating the id the
// same way reads do.
func (s *LogService) TailPath(serverID string) (string, error) {
	if err := checkPathComponent(serverID); err != nil {
		return "", err
	}
	return s.logs.Path(serverID), nil
}

// checkPathComponent rejects values that could escape the log directory.
func checkPathComponent(v string) error {
	if v == "" || v == "." || v == ".." ||
		strings.ContainsAny(v, `/\`) || strings.Contains(v, "..") {
		return validationf("invalid path component %q", v)
	}
	return nil
}
