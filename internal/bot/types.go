package bot

import (
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"ivyreader/internal/reading"
)

// Bot represents the Telegram bot wrapper
type Bot struct {
	api          *tgbotapi.BotAPI
	token        string
	tracker      *reading.Tracker
	allowedUsers map[int64]bool
	// devUserID acts for unauthenticated Mini App requests in polling mode
	devUserID int64
	states    map[int64]*ConversationState
	statesMu  sync.RWMutex
	// userLocks serializes update handling per user, so a conversation
	// step never runs concurrently with another one for the same user
	userLocks   map[int64]*sync.Mutex
	userLocksMu sync.Mutex
	logger      *zap.Logger
}

// ConversationState tracks the state of multi-step commands
type ConversationState struct {
	Command string
	Step    int
	Data    map[string]interface{}
}

// Conversation steps
const (
	stepDone = -1

	stepNewBookTitle = 1
	stepNewBookPages = 2

	stepLogPickBook = 1
	stepLogPages    = 2
	stepLogMinutes  = 3

	stepDonePickBook = 1
)
