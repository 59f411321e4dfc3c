package model

import "time"

// APIKey tells how to authenticate against a remote service
type APIKey struct {
	In    string `json:"in"` // only "header" is supported
	Name  string `json:"name"`
	Value string `json:"value,omitempty"`
}

// Action is one operation exposed by a remote service
type Action struct {
	ID     string   `json:"id"`
	Title  string   `json:"title,omitempty"`
	Path   string   `json:"path"`
	Input  []string `json:"input"`  // concepts the action needs from each row
	Output []Field  `json:"output"` // fields the action adds to each row
}

// RemoteService is an external enrichment service registered in the store
type RemoteService struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Server  string   `json:"server"`
	APIKey  APIKey   `json:"apiKey"`
	Actions []Action `json:"actions"`
}

// Action returns the action with the given id
func (s *RemoteService) Action(id string) (*Action, bool) {
	for i := range s.Actions {
		if s.Actions[i].ID == id {
			return &s.Actions[i], true
		}
	}
	return nil, false
}

// Event types not tied to a stage
const (
	EventDatasetCreated = "dataset-created"
	EventDataUpdated    = "data-updated"
)

// Event is a lifecycle event published for a dataset
type Event struct {
	DatasetID string         `json:"datasetId"`
	Type      string         `json:"type"`
	Date      time.Time      `json:"date"`
	Data      map[string]any `json:"data,omitempty"`
}

// Lock is a leased claim on a resource
type Lock struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	UpdatedAt time.Time `json:"updatedAt"`
}
