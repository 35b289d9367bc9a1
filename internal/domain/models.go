// Package domain defines the persistence models for chat sessions, messages,
// user profiles and the identity records behind them. These types are mapped
// with GORM and form the core data layer of the Pegasus chat backend.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Sender identifies who authored a chat message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// DefaultChatTitle is used when a session is created without a usable title.
const DefaultChatTitle = "New chat"

// Chat is a conversation session owned by one user. The title is derived from
// the first prompt; UpdatedAt is bumped on every appended message and is the
// sort key for the chat list.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - UserID: owner identifier; immutable and indexed.
//   - Title: at most 100 runes.
//   - CreatedAt / UpdatedAt: timestamps, UpdatedAt doubles as "last activity".
type Chat struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string    `json:"user_id"    gorm:"type:varchar(64);not null;index:idx_user_chats,priority:1"`
	Title     string    `json:"title"      gorm:"type:varchar(255);not null;default:'New chat'"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"index:idx_user_chats,priority:2"`
}

// TableName returns the database table name for Chat.
func (Chat) TableName() string { return "chats" }

// SearchResult is one entry returned by the web search tool.
type SearchResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// Message is a single append-only entry in a chat. The payload is sparse:
// user messages carry Prompt, AI messages carry exactly one facet (text,
// image, investigation or search) together with its error, if any.
//
// Messages are ordered by (Timestamp ASC, ID ASC). IDs are UUIDv7 so the
// secondary key keeps insertion order when timestamps collide.
type Message struct {
	ID        string    `json:"id"        gorm:"type:char(36);primaryKey"`
	ChatID    string    `json:"chat_id"   gorm:"type:char(36);not null;index:idx_chat_msgs,priority:1"`
	Sender    Sender    `json:"sender"    gorm:"type:varchar(8);not null;check:sender IN ('user','ai')"`
	Timestamp time.Time `json:"timestamp" gorm:"not null;index:idx_chat_msgs,priority:2"`

	// user
	Prompt string `json:"prompt,omitempty" gorm:"type:text"`

	// text facet
	Response  string `json:"response,omitempty"   gorm:"type:text"`
	TextError string `json:"text_error,omitempty" gorm:"type:text"`

	// image facet; ImageURI is a data URI
	ImageURI   string `json:"image_uri,omitempty"   gorm:"type:text"`
	ImageError string `json:"image_error,omitempty" gorm:"type:text"`

	// investigation facet
	InvestigationData  datatypes.JSON `json:"investigation_data,omitempty"`
	InvestigationError string         `json:"investigation_error,omitempty" gorm:"type:text"`
	ConsultationType   string         `json:"consultation_type,omitempty"   gorm:"type:varchar(64)"`

	// search facet
	SearchSummary string                           `json:"search_summary,omitempty" gorm:"type:text"`
	SearchResults datatypes.JSONSlice[SearchResult] `json:"search_results,omitempty"`
	SearchError   *string                          `json:"search_error,omitempty"   gorm:"type:text"`

	// Chat is the parent session. Messages are cascade-deleted with it.
	Chat Chat `json:"-" gorm:"foreignKey:ChatID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }
