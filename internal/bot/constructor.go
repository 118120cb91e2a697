package bot

import (
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"ivyreader/internal/reading"
)

// NewBot creates a new Telegram bot
func NewBot(token string, tracker *reading.Tracker, allowedUserIDs []int64, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		logger.Error("Failed to create bot API", zap.Error(err))
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b := newBot(api, token, tracker, allowedUserIDs, logger)
	logger.Info("Bot created",
		zap.String("bot_username", api.Self.UserName),
		zap.Int64s("allowed_users", allowedUserIDs),
	)
	return b, nil
}

// newBot wires a Bot around an optional API client. Tests pass a nil api.
func newBot(api *tgbotapi.BotAPI, token string, tracker *reading.Tracker, allowedUserIDs []int64, logger *zap.Logger) *Bot {
	allowedUsers := make(map[int64]bool)
	for _, id := range allowedUserIDs {
		allowedUsers[id] = true
	}

	var devUserID int64
	if len(allowedUserIDs) > 0 {
		devUserID = allowedUserIDs[0]
	}

	return &Bot{
		api:          api,
		token:        token,
		tracker:      tracker,
		allowedUsers: allowedUsers,
		devUserID:    devUserID,
		states:       make(map[int64]*ConversationState),
		userLocks:    make(map[int64]*sync.Mutex),
		logger:       logger,
	}
}
