package models

import "time"

// Article is a news item returned by a fetcher.
type Article struct {
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
}

// SynthesisRequest describes a synthesis to generate.
// When Question is set the synthesis answers it instead of summarizing.
type SynthesisRequest struct {
	Topics           []string `json:"topics"`
	ArticlesPerTopic int      `json:"articles_per_topic"`
	DaysBack         int      `json:"days_back"`
	Question         string   `json:"question,omitempty"`
}

// SynthesisResult is the outcome of a synthesis request.
type SynthesisResult struct {
	Success      bool   `json:"success"`
	Content      string `json:"content,omitempty"`
	ArticleCount int    `json:"article_count"`
	Error        string `json:"error,omitempty"`
}

// Synthesis is a delivered premium digest.
type Synthesis struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	Topics       []string  `json:"topics"`
	Content      string    `json:"content"`
	ArticleCount int       `json:"article_count"`
	MessageID    string    `json:"message_id,omitempty"`
	SentAt       time.Time `json:"sent_at"`
}
