package models

import "time"

// TrainingType classifies a training item.
type TrainingType string

const (
	TrainingSQL           TrainingType = "sql"
	TrainingDDL           TrainingType = "ddl"
	TrainingDocumentation TrainingType = "documentation"
)

// TrainingData is one piece of context handed to the SQL generator.
type TrainingData struct {
	ID        string       `json:"id"`
	Type      TrainingType `json:"training_data_type"`
	Question  string       `json:"question,omitempty"`
	Content   string       `json:"content"`
	CreatedAt time.Time    `json:"created_at"`
}

// TrainingRequest is the body of POST /api/v0/train. Exactly one kind is stored per call,
// checked in the order question+sql, ddl, documentation.
type TrainingRequest struct {
	Question      string `json:"question,omitempty"`
	SQL           string `json:"sql,omitempty"`
	DDL           string `json:"ddl,omitempty"`
	Documentation string `json:"documentation,omitempty"`
}
