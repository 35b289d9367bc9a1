// Package services – ChatService
//
// ChatService is the chat store: it creates sessions, appends messages (each
// append bumps the session's last activity), lists sessions and messages, and
// fans an InteractionRecord out into persisted messages. Session creation and
// message appends are separate writes; a failure between them leaves a session
// with fewer messages than intended and is not recovered.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/pegasus-backend/internal/domain"
)

const (
	// TitleMaxRunes caps stored session titles.
	TitleMaxRunes = 100
	// DerivedTitleRunes is how much of the first prompt becomes the title of
	// a session created by an interaction.
	DerivedTitleRunes = 50
	// DefaultPrompt is stored when a user message somehow has no prompt.
	DefaultPrompt = "User prompt"
)

// ChatRepo defines the session persistence required by ChatService.
type ChatRepo interface {
	CreateChat(ctx context.Context, db *gorm.DB, userID, title string) (*domain.Chat, error)
	ListChats(ctx context.Context, db *gorm.DB, userID string) ([]domain.Chat, error)
	GetChat(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Chat, error)
	TouchChat(ctx context.Context, db *gorm.DB, id string, at time.Time) error
	CountChats(ctx context.Context, db *gorm.DB, userID string) (int64, error)
	ListChatsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Chat, error)
}

// MessageRepo defines the message persistence required by ChatService.
type MessageRepo interface {
	CreateMessage(ctx context.Context, db *gorm.DB, m *domain.Message) error
	ListMessages(ctx context.Context, db *gorm.DB, chatID string, limit int) ([]domain.Message, error)
	CountMessages(ctx context.Context, db *gorm.DB, chatID string) (int64, error)
	ListMessagesPage(ctx context.Context, db *gorm.DB, chatID string, offset, limit int) ([]domain.Message, error)
}

// ChatService provides session and message operations.
type ChatService struct {
	DB       *gorm.DB
	Repo     ChatRepo
	Messages MessageRepo

	// TitleMaxLen caps stored titles by rune length.
	TitleMaxLen int
}

// NewChatService constructs a ChatService with the default title limit.
func NewChatService(db *gorm.DB, chats ChatRepo, msgs MessageRepo) *ChatService {
	return &ChatService{
		DB:          db,
		Repo:        chats,
		Messages:    msgs,
		TitleMaxLen: TitleMaxRunes,
	}
}

func tracer() trace.Tracer { return otel.Tracer("services/ChatService") }

// CreateSession inserts a new chat owned by userID. Titles are normalized,
// clipped, and fall back to domain.DefaultChatTitle when blank.
func (s *ChatService) CreateSession(ctx context.Context, userID, title string) (*domain.Chat, error) {
	title = normalizeTitle(title)
	if title == "" {
		title = domain.DefaultChatTitle
	}
	return s.Repo.CreateChat(ctx, s.DB, userID, s.clip(title))
}

// AppendMessage stores m in chatID and bumps the chat's last activity. It
// returns the new message id.
func (s *ChatService) AppendMessage(ctx context.Context, chatID string, m *domain.Message) (string, error) {
	m.ChatID = chatID
	if err := s.Messages.CreateMessage(ctx, s.DB, m); err != nil {
		return "", err
	}
	if err := s.Repo.TouchChat(ctx, s.DB, chatID, m.Timestamp); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return m.ID, ErrChatNotFound
		}
		return m.ID, err
	}
	return m.ID, nil
}

// ListSessions returns every chat of userID, most recently active first.
func (s *ChatService) ListSessions(ctx context.Context, userID string) ([]domain.Chat, error) {
	return s.Repo.ListChats(ctx, s.DB, userID)
}

// ListSessionsPage returns a page of chats for a user and the total count.
// Invalid page or pageSize values fall back to defaults.
func (s *ChatService) ListSessionsPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Chat, int64, error) {
	page, pageSize = pageDefaults(page, pageSize)
	offset := (page - 1) * pageSize

	total, err := s.Repo.CountChats(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Chat{}, 0, nil
	}

	items, err := s.Repo.ListChatsPage(ctx, s.DB, userID, offset, pageSize)
	return items, total, err
}

// GetSession returns the chat if it exists and belongs to userID.
func (s *ChatService) GetSession(ctx context.Context, userID, chatID string) (*domain.Chat, error) {
	c, err := s.Repo.GetChat(ctx, s.DB, chatID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	return c, nil
}

// ListMessages returns every message of chatID in display order.
func (s *ChatService) ListMessages(ctx context.Context, chatID string) ([]domain.Message, error) {
	return s.Messages.ListMessages(ctx, s.DB, chatID, 0)
}

// ListMessagesPage returns a page of messages of a chat owned by userID.
func (s *ChatService) ListMessagesPage(ctx context.Context, userID, chatID string, page, pageSize int) ([]domain.Message, int64, error) {
	ctx, span := tracer().Start(ctx, "ListMessagesPage",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if _, err := s.GetSession(ctx, userID, chatID); err != nil {
		return nil, 0, err
	}

	page, pageSize = pageDefaults(page, pageSize)
	offset := (page - 1) * pageSize

	total, err := s.Messages.CountMessages(ctx, s.DB, chatID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}

	items, err := s.Messages.ListMessagesPage(ctx, s.DB, chatID, offset, pageSize)
	return items, total, err
}

// LogInteraction persists rec into chatID, creating a session titled after
// the prompt when chatID is empty. The user message is written first, then
// one AI message per populated facet in the order text, image, investigation,
// search. It returns the chat id, also on partial failure once the session
// exists.
func (s *ChatService) LogInteraction(ctx context.Context, chatID, userID string, rec *InteractionRecord) (string, error) {
	ctx, span := tracer().Start(ctx, "LogInteraction",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if userID == "" {
		return "", errors.New("user id is required to log an interaction")
	}

	if chatID == "" {
		title := strings.TrimSpace(rec.Prompt)
		if utf8.RuneCountInString(title) > DerivedTitleRunes {
			title = string([]rune(title)[:DerivedTitleRunes])
		}
		chat, err := s.CreateSession(ctx, userID, title)
		if err != nil {
			span.RecordError(err)
			return "", err
		}
		chatID = chat.ID
	}

	for _, m := range rec.Messages() {
		if _, err := s.AppendMessage(ctx, chatID, &m); err != nil {
			span.RecordError(err)
			return chatID, err
		}
	}
	return chatID, nil
}

func (s *ChatService) clip(title string) string {
	max := s.TitleMaxLen
	if max <= 0 {
		max = TitleMaxRunes
	}
	if utf8.RuneCountInString(title) > max {
		return string([]rune(title)[:max])
	}
	return title
}

func pageDefaults(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return page, pageSize
}

// normalizeTitle composes Unicode, trims, and collapses whitespace runs.
func normalizeTitle(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(norm.NFC.String(s)), " ")
}

var whitespaceRE = regexp.MustCompile(`\s+`)
