package client

import (
	"encoding/json"
	"fmt"
	"time"
)

// Script mirrors a script record as served by the API.
type Script struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Command      string     `json:"command"`
	RepositoryID string     `json:"repositoryId"`
	IsRunning    bool       `json:"isRunning"`
	LastRun      *time.Time `json:"lastRun,omitempty"`
	Output       []string   `json:"output"`
	PID          *int       `json:"pid,omitempty"`
	State        string     `json:"state"`
}

// CreateScriptRequest is the body of POST /api/scripts.
type CreateScriptRequest struct {
	Name         string `json:"name"`
	Command      string `json:"command"`
	RepositoryID string `json:"repositoryId"`
}

// ExecuteRequest is the body of POST /api/scripts/:id/execute.
type ExecuteRequest struct {
	Arguments        string            `json:"arguments,omitempty"`
	Environment      map[string]string `json:"environment,omitempty"`
	UseRepositoryEnv bool              `json:"useRepositoryEnv,omitempty"`
}

type Repository struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Path           string    `json:"path"`
	Type           string    `json:"type"`
	PackageManager string    `json:"packageManager"`
	LastAccessed   time.Time `json:"lastAccessed"`
	IsActive       bool      `json:"isActive"`
	ConfigFiles    []string  `json:"configFiles,omitempty"`
}

// RepositoryQuery filters ListRepositories. Zero values are omitted.
type RepositoryQuery struct {
	Search         string
	Type           string
	PackageManager string
	Page           int
	Limit          int
}

type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

type MemoryUsage struct {
	Used       uint64 `json:"used"`
	Total      uint64 `json:"total"`
	Percentage int    `json:"percentage"`
}

type SystemStatus struct {
	Status            string      `json:"status"`
	Uptime            float64     `json:"uptime"`
	MemoryUsage       MemoryUsage `json:"memoryUsage"`
	CPUUsage          float64     `json:"cpuUsage"`
	SystemCPU         float64     `json:"systemCpu"`
	ActiveScripts     int         `json:"activeScripts"`
	TotalRepositories int         `json:"totalRepositories"`
}

// FieldError is one entry of a validation failure's details.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// APIError is returned for any response with success=false or a non-2xx
// status.
type APIError struct {
	StatusCode int
	Message    string
	Details    []FieldError
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

type envelope struct {
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error"`
	Details    []FieldError    `json:"details"`
	Pagination *Pagination     `json:"pagination"`
	Message    string          `json:"message"`
}
