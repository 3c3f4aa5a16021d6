package model

import "time"

// AllowedCommenter is one row of the commenter admission allow/deny list
// (spec §3, §4.6, §4.7).
type AllowedCommenter struct {
	ID               ID         `db:"id,pk"              json:"id"`
	ExternalUsername string     `db:"external_username,unique" json:"external_username"`
	ExternalUserID   string     `db:"external_user_id"   json:"external_user_id,omitempty"`
	Enabled          bool       `db:"enabled"             json:"enabled"`
	AddedBy          string     `db:"added_by"            json:"added_by,omitempty"`
	Notes            string     `db:"notes"               json:"notes,omitempty"`
	LastCommentAt    *time.Time `db:"last_comment_at"     json:"last_comment_at,omitempty"`
	CommentCount     int        `db:"comment_count"       json:"comment_count"`
}

// CommentFilterSettings is the singleton row governing admission policy.
type CommentFilterSettings struct {
	ID                ID     `db:"id,pk"                  json:"id"`
	Enabled           bool   `db:"enabled"                 json:"enabled"`
	AutoAddCommenters bool   `db:"auto_add_commenters"     json:"auto_add_commenters"`
	AutoReplyEnabled  bool   `db:"auto_reply_enabled"      json:"auto_reply_enabled"`
	AutoReplyMessage  string `db:"auto_reply_message"      json:"auto_reply_message"`
	WhitelistMode     bool   `db:"whitelist_mode"          json:"whitelist_mode"`
}
