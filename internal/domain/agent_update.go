package domain

import (
	"maps"
	"strings"
	"time"
)

// UpdateSource identifies who pushed an agent update.
type UpdateSource string

// UpdateSourceAgent and related constants define supported update sources.
const (
	UpdateSourceAgent UpdateSource = "agent"
	UpdateSourceMCP   UpdateSource = "mcp"
)

// AgentUpdate stores one free-form update pushed by an agent for a project.
type AgentUpdate struct {
	ID        string         `json:"id"`
	ProjectID string         `json:"project_id"`
	Source    UpdateSource   `json:"source"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewAgentUpdate validates and constructs one agent update.
func NewAgentUpdate(id, projectID string, source UpdateSource, payload map[string]any, now time.Time) (AgentUpdate, error) {
	id = strings.TrimSpace(id)
	projectID = strings.TrimSpace(projectID)
	if id == "" || projectID == "" {
		return AgentUpdate{}, ErrInvalidID
	}
	source = NormalizeUpdateSource(source)
	if source == "" {
		return AgentUpdate{}, ErrInvalidUpdateSource
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return AgentUpdate{
		ID:        id,
		ProjectID: projectID,
		Source:    source,
		Payload:   maps.Clone(payload),
		CreatedAt: now.UTC(),
	}, nil
}

// NormalizeUpdateSource canonicalizes an update source, defaulting empty values to agent.
func NormalizeUpdateSource(source UpdateSource) UpdateSource {
	switch UpdateSource(strings.ToLower(strings.TrimSpace(string(source)))) {
	case "", UpdateSourceAgent:
		return UpdateSourceAgent
	case UpdateSourceMCP:
		return UpdateSourceMCP
	default:
		return ""
	}
}
