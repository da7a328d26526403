package domain

import "time"

// NewsletterIssue is one published issue. It is written once by the publish
// transaction and never modified or deleted afterwards.
type NewsletterIssue struct {
	ID          string    `json:"newsletter_issue_id" db:"newsletter_issue_id"`
	Title       string    `json:"title" db:"title"`
	TextContent string    `json:"text_content" db:"text_content"`
	HTMLContent string    `json:"html_content" db:"html_content"`
	PublishedAt time.Time `json:"published_at" db:"published_at"`
}

// DeliveryTask is a pending "send issue IssueID to SubscriberEmail" unit.
// A task exists only while it is pending; retiring it deletes the row.
// Attempts counts transient failures and never bounds retries.
type DeliveryTask struct {
	IssueID         string    `json:"newsletter_issue_id" db:"newsletter_issue_id"`
	SubscriberEmail string    `json:"subscriber_email" db:"subscriber_email"`
	Attempts        int       `json:"n_attempts" db:"n_attempts"`
	EnqueuedAt      time.Time `json:"enqueued_at" db:"enqueued_at"`
}
