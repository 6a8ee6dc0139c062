package models

import "time"

// QuestionRecord is one top-level question asked by a user.
type QuestionRecord struct {
	ID        string    `json:"id"`
	Username  string    `json:"username,omitempty"`
	Question  string    `json:"question"`
	SQL       string    `json:"sql"`
	Timestamp time.Time `json:"timestamp"`
}

// FollowUpRecord is a rewritten question attached to a parent QuestionRecord.
type FollowUpRecord struct {
	FollowUpID       int64     `json:"follow_up_id"`
	QuestionID       string    `json:"question_id"`
	FollowUpQuestion string    `json:"follow_up_question"`
	Username         string    `json:"username"`
	SQL              string    `json:"sql"`
	Timestamp        time.Time `json:"timestamp"`
}
