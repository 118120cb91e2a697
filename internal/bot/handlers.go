package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// handleMessage processes a single message
func (b *Bot) handleMessage(message *tgbotapi.Message) {
	defer b.lockUser(message.From.ID)()

	// Recover from panics to prevent bot crashes
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in handleMessage",
				zap.Any("panic", r),
				zap.Int64("user_id", message.From.ID),
			)
			b.reply(message.Chat.ID, "An error occurred while processing your request. Please try again.")
		}
	}()

	userID := message.From.ID
	ctx := context.Background()

	// Check if user is in a conversation
	if state, ok := b.getState(userID); ok {
		// If conversation is already complete, clean it up and process as new command
		if state.Step == stepDone {
			b.clearState(userID)
		} else if message.IsCommand() {
			// Allow any command to interrupt/cancel an ongoing conversation
			b.clearState(userID)
		} else {
			b.handleConversation(ctx, message, state)
			return
		}
	}

	if !message.IsCommand() {
		return
	}

	switch message.Command() {
	case "start":
		b.handleStart(message)
	case "new_book":
		b.handleNewBookStart(message)
	case "books":
		b.handleBooks(ctx, message)
	case "log":
		b.handleLogStart(ctx, message)
	case "stats":
		b.handleStats(ctx, message)
	case "recalc":
		b.handleRecalc(ctx, message)
	case "last":
		b.handleLast(ctx, message)
	case "next":
		b.handleNext(ctx, message)
	case "goal":
		b.handleGoal(ctx, message)
	case "done":
		b.handleDoneStart(ctx, message)
	default:
		b.reply(message.Chat.ID, "Unknown command. Use /start to see available commands.")
	}
}

// handleCallbackQuery processes inline keyboard button clicks
func (b *Bot) handleCallbackQuery(query *tgbotapi.CallbackQuery) {
	defer b.lockUser(query.From.ID)()

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in handleCallbackQuery",
				zap.Any("panic", r),
				zap.String("callback_data", query.Data),
			)
		}
	}()

	userID := query.From.ID
	ctx := context.Background()

	// Answer the callback query to remove loading state
	if b.api != nil {
		if _, err := b.api.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
			b.logger.Debug("Failed to answer callback query", zap.Error(err))
		}
	}

	state, ok := b.getState(userID)
	if !ok {
		return
	}

	data := query.Data
	switch {
	case strings.HasPrefix(data, "log_book:"):
		b.handleLogBookCallback(ctx, query, state)
	case strings.HasPrefix(data, "done_book:"):
		b.handleDoneBookCallback(ctx, query, state)
	}

	if state.Step == stepDone {
		b.clearState(userID)
	}
}
