package core

import (
	"time"
)

// Row is one result row keyed by column name. []byte values are converted to string.
type Row map[string]interface{}

type User struct {
	UID          int64     `json:"uid"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Email        string    `json:"email"`
	Group        string    `json:"group"`
	CreatedAt    time.Time `json:"created_at"`
}

// Page is an offset-paginated result.
type Page struct {
	Data    []Row `json:"data"`
	Total   int64 `json:"total"`
	Page    int   `json:"page"`
	PerPage int   `json:"per_page"`
	HasMore bool  `json:"has_more"`
}

// CursorPage is an ascending cursor page; NextCursor feeds the following call.
type CursorPage struct {
	Data       []Row       `json:"data"`
	NextCursor interface{} `json:"next_cursor"`
	HasNext    bool        `json:"has_next"`
}

// TimeCursorPage is the descending (newest first) mirror of CursorPage.
type TimeCursorPage struct {
	Data       []Row       `json:"data"`
	PrevCursor interface{} `json:"prev_cursor"`
	HasPrev    bool        `json:"has_prev"`
}
