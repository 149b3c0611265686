package types

import (
	"fmt"
	"strings"
	"time"
)

// EmailSummary is one row of a folder listing. Summaries are immutable once
// cached except for their flags.
type EmailSummary struct {
	ID            string  `json:"id"`
	UID           uint32  `json:"uid"`
	Subject       string  `json:"subject"`
	From          string  `json:"from"`
	Date          string  `json:"date"`
	IsRead        bool    `json:"is_read"`
	IsStarred     bool    `json:"is_starred"`
	HasAttachment bool    `json:"has_attachment"`
	Category      *string `json:"category,omitempty"`
	Preview       string  `json:"preview"`
	Body          string  `json:"body"`
}

// Email is a fully decoded message.
type Email struct {
	ID            string    `json:"id"`
	UID           uint32    `json:"uid"`
	Subject       string    `json:"subject"`
	From          string    `json:"from"`
	To            []string  `json:"to"`
	Date          time.Time `json:"date"`
	Body          string    `json:"body"`
	HTMLBody      *string   `json:"html_body,omitempty"`
	Folder        string    `json:"folder"`
	Flags         []string  `json:"flags"`
	IsRead        bool      `json:"is_read"`
	IsStarred     bool      `json:"is_starred"`
	Category      *string   `json:"category,omitempty"`
	HasAttachment bool      `json:"has_attachment"`
	Size          uint64    `json:"size"`
}

// FolderStatus is what the server reports when a folder is selected.
type FolderStatus struct {
	Name        string `json:"name"`
	Messages    uint32 `json:"messages"`
	UIDValidity uint32 `json:"uid_validity"`
	UIDNext     uint32 `json:"uid_next"`
}

// FolderSyncState records how far a folder has been synced. A change of
// UIDValidity invalidates LastUID.
type FolderSyncState struct {
	AccountID    string `json:"account_id" db:"account_id"`
	Folder       string `json:"folder" db:"folder"`
	LastUID      uint32 `json:"last_uid" db:"last_uid"`
	UIDValidity  uint32 `json:"uid_validity" db:"uid_validity"`
	LastSyncTime int64  `json:"last_sync_time" db:"last_sync_time"`
}

// CachedEmailList holds the newest-first summaries of one folder.
type CachedEmailList struct {
	AccountID   string         `json:"account_id"`
	Folder      string         `json:"folder"`
	Emails      []EmailSummary `json:"emails"`
	LastUpdated int64          `json:"last_updated"`
}

// Page returns emails[offset:offset+limit], clamped to the list bounds.
func (l *CachedEmailList) Page(offset, limit int) []EmailSummary {
	return Page(l.Emails, offset, limit)
}

// Page slices a newest-first summary list.
func Page(emails []EmailSummary, offset, limit int) []EmailSummary {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(emails) || limit <= 0 {
		return []EmailSummary{}
	}
	end := offset + limit
	if end > len(emails) {
		end = len(emails)
	}
	out := make([]EmailSummary, end-offset)
	copy(out, emails[offset:end])
	return out
}

// EmailID derives the client-side identifier of a message.
func EmailID(accountID string, uid uint32) string {
	return fmt.Sprintf("%s_%d", accountID, uid)
}

// Category is an optional classification tag of a message.
type Category string

const (
	CategorySpam         Category = "spam"
	CategoryAds          Category = "ads"
	CategorySubscription Category = "subscription"
	CategoryWork         Category = "work"
	CategoryPersonal     Category = "personal"
	CategoryOther        Category = "other"
)

// ParseCategory maps a tag to a known category; unknown tags become CategoryOther.
func ParseCategory(s string) Category {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case CategorySpam, CategoryAds, CategorySubscription, CategoryWork, CategoryPersonal:
		return c
	default:
		return CategoryOther
	}
}
