package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"mealplan/internal/app"
	"mealplan/internal/config"
	"mealplan/internal/planner"
	"mealplan/internal/replacement"
	"mealplan/internal/session"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Service is the part of the application the bot drives. *app.App satisfies it.
type Service interface {
	GeneratePlan(ctx context.Context, userID, prompt string) (*app.PlanResponse, error)
	ModifyPlan(ctx context.Context, sessionToken, feedback string) (*app.PlanResponse, error)
	FinalizePlan(ctx context.Context, sessionToken string) (string, error)
	ReplaceRecipe(ctx context.Context, planID, day, mealType, oldID, chosenID string) (*app.ReplaceResponse, error)
	GetGroceryList(ctx context.Context, planID string, forceRefresh bool) (*planner.GroceryList, error)
	ActiveSessionToken(ctx context.Context, userID string) (string, error)
	CurrentPlan(ctx context.Context, userID string) (*planner.MealPlan, error)
	UsageReport(ctx context.Context, days int) (string, error)
	Ping(ctx context.Context) error
}

// sender is the subset of *tgbotapi.BotAPI the bot uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

const (
	requestTimeout = 3 * time.Minute
	swapPrefix     = "sw"
)

// Bot is a thin chat adapter over the planning operations.
type Bot struct {
	api     sender
	svc     Service
	cfg     *config.Config
	logger  *zap.Logger
	timeout time.Duration
}

// NewBot initializes the Telegram Bot and sets the Webhook.
func NewBot(cfg *config.Config, svc Service, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to init telegram api: %w", err)
	}
	b := newBot(api, svc, cfg, logger)
	b.logger.Info("authorized", zap.String("account", api.Self.UserName))

	wh, err := tgbotapi.NewWebhook(cfg.TelegramWebhookURL)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook url %s: %w", cfg.TelegramWebhookURL, err)
	}
	resp, err := api.Request(wh)
	if err != nil {
		return nil, fmt.Errorf("failed to set webhook to %s: %w", cfg.TelegramWebhookURL, err)
	}
	b.logger.Info("webhook set", zap.String("description", resp.Description))
	return b, nil
}

func newBot(api sender, svc Service, cfg *config.Config, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bot{api: api, svc: svc, cfg: cfg, logger: logger.Named("telegram"), timeout: requestTimeout}
}

// RegisterHandlers registers the webhook and health endpoints on mux.
func (b *Bot) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/webhook", b.handleWebhook)
	mux.HandleFunc("/health", b.handleHealth)
}

func (b *Bot) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := b.svc.Ping(r.Context()); err != nil {
		b.logger.Error("health check failed", zap.Error(err))
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (b *Bot) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		b.logger.Warn("error parsing update", zap.Error(err))
		http.Error(w, "bad update", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)

	// Telegram retries slow webhooks, so the work happens after replying.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()
		b.handleUpdate(ctx, update)
	}()
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		if b.allowed(update.CallbackQuery.From) {
			b.handleCallbackQuery(ctx, update.CallbackQuery)
		}
	case update.Message != nil:
		if b.allowed(update.Message.From) {
			b.processMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) allowed(u *tgbotapi.User) bool {
	if u == nil {
		return false
	}
	if slices.Contains(b.cfg.TelegramAllowedUserIDs, u.ID) {
		return true
	}
	b.logger.Warn("unauthorized access attempt", zap.Int64("telegram_id", u.ID), zap.String("username", u.UserName))
	return false
}

func (b *Bot) processMessage(ctx context.Context, msg *tgbotapi.Message) {
	userID := strconv.FormatInt(msg.From.ID, 10)
	chatID := msg.Chat.ID

	cmd, args := parseCommand(msg.Text)
	switch cmd {
	case "":
		b.handlePlannerRequest(ctx, userID, chatID, msg.Text, false)
	case "start", "help":
		b.reply(chatID, helpText)
	case "new":
		if args == "" {
			b.reply(chatID, "Tell me what to plan, e.g. `/new 5 days of vegetarian dinners`")
			return
		}
		b.handlePlannerRequest(ctx, userID, chatID, args, true)
	case "done":
		b.handleDone(ctx, userID, chatID)
	case "grocery":
		b.handleGrocery(ctx, userID, chatID, args == "refresh")
	case "swap":
		b.handleSwap(ctx, userID, chatID, args)
	case "metrics":
		b.handleMetricsRequest(ctx, msg.From.ID, chatID)
	default:
		b.reply(chatID, "Unknown command. Send /help for the list.")
	}
}

const helpText = `🧑‍🍳 *Meal Planner*

Tell me what you'd like to eat, e.g. _a week of quick vegetarian dinners_.
While a plan is open, any message is treated as feedback on it.

/new <request> – start over with a new plan
/done – accept the current plan
/swap <day> <meal> – suggest replacements for one meal
/grocery [refresh] – shopping list for the current plan`

func (b *Bot) handlePlannerRequest(ctx context.Context, userID string, chatID int64, text string, fresh bool) {
	sent, err := b.api.Send(markdown(tgbotapi.NewMessage(chatID, "🧑‍🍳 *Thinking...*")))
	if err != nil {
		b.logger.Error("failed to send initial reply", zap.Error(err))
		return
	}

	var token string
	if !fresh {
		token, err = b.svc.ActiveSessionToken(ctx, userID)
		if err != nil {
			b.edit(chatID, sent.MessageID, errorText(err))
			return
		}
	}

	var resp *app.PlanResponse
	if token == "" {
		b.logger.Info("generating plan", zap.String("user_id", userID))
		resp, err = b.svc.GeneratePlan(ctx, userID, text)
	} else {
		b.logger.Info("modifying plan", zap.String("user_id", userID))
		resp, err = b.svc.ModifyPlan(ctx, token, text)
	}
	if err != nil {
		b.logger.Error("planning failed", zap.String("user_id", userID), zap.Error(err))
		b.edit(chatID, sent.MessageID, errorText(err))
		return
	}
	b.edit(chatID, sent.MessageID, formatPlan(resp.Plan, resp.Warning))
}

func (b *Bot) handleDone(ctx context.Context, userID string, chatID int64) {
	token, err := b.svc.ActiveSessionToken(ctx, userID)
	if err != nil {
		b.reply(chatID, errorText(err))
		return
	}
	if token == "" {
		b.reply(chatID, errorText(session.ErrSessionNotFound))
		return
	}
	if _, err := b.svc.FinalizePlan(ctx, token); err != nil {
		b.reply(chatID, errorText(err))
		return
	}
	b.reply(chatID, "✅ *Plan saved!* Send /grocery for the shopping list.")
}

func (b *Bot) handleGrocery(ctx context.Context, userID string, chatID int64, refresh bool) {
	plan, err := b.svc.CurrentPlan(ctx, userID)
	if err != nil {
		b.reply(chatID, errorText(err))
		return
	}
	list, err := b.svc.GetGroceryList(ctx, plan.ID, refresh)
	if err != nil {
		b.reply(chatID, errorText(err))
		return
	}
	b.reply(chatID, formatGroceryList(list))
}

func (b *Bot) handleSwap(ctx context.Context, userID string, chatID int64, args string) {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		b.reply(chatID, "Usage: `/swap <day> <meal>`, e.g. `/swap 2 dinner`")
		return
	}
	day, err := app.ParseDay(fields[0])
	if err != nil {
		b.reply(chatID, errorText(err))
		return
	}
	mt, ok := planner.ParseMealType(fields[1])
	if !ok {
		b.reply(chatID, "Meal must be breakfast, lunch, dinner or snack.")
		return
	}

	plan, slot, err := b.slot(ctx, userID, day, mt)
	if err != nil {
		b.reply(chatID, errorText(err))
		return
	}
	resp, err := b.svc.ReplaceRecipe(ctx, plan.ID, strconv.Itoa(day), string(mt), slot.RecipeID, "")
	if err != nil {
		b.reply(chatID, errorText(err))
		return
	}
	if len(resp.Candidates) == 0 {
		b.reply(chatID, fmt.Sprintf("No alternatives found for %s.", escape(slot.RecipeTitle)))
		return
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, c := range resp.Candidates {
		data := strings.Join([]string{swapPrefix, strconv.Itoa(day), string(mt), c.ID}, "|")
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(c.Title, data)))
	}
	msg := markdown(tgbotapi.NewMessage(chatID, fmt.Sprintf("🔄 Replace *%s* (day %d, %s) with:", escape(slot.RecipeTitle), day, mt)))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	b.send(msg)
}

func (b *Bot) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		b.logger.Warn("failed to answer callback", zap.Error(err))
	}
	if query.Message == nil || query.Message.Chat == nil {
		return
	}
	chatID := query.Message.Chat.ID

	parts := strings.Split(query.Data, "|")
	if len(parts) != 4 || parts[0] != swapPrefix {
		return
	}
	day, err := strconv.Atoi(parts[1])
	if err != nil {
		return
	}
	mt := planner.MealType(parts[2])
	userID := strconv.FormatInt(query.From.ID, 10)

	plan, slot, err := b.slot(ctx, userID, day, mt)
	if err != nil {
		b.edit(chatID, query.Message.MessageID, errorText(err))
		return
	}
	resp, err := b.svc.ReplaceRecipe(ctx, plan.ID, parts[1], parts[2], slot.RecipeID, parts[3])
	if err != nil {
		b.edit(chatID, query.Message.MessageID, errorText(err))
		return
	}
	b.edit(chatID, query.Message.MessageID, formatPlan(resp.Plan, ""))
}

func (b *Bot) slot(ctx context.Context, userID string, day int, mt planner.MealType) (*planner.MealPlan, planner.Slot, error) {
	plan, err := b.svc.CurrentPlan(ctx, userID)
	if err != nil {
		return nil, planner.Slot{}, err
	}
	i, ok := plan.SlotIndex(day, mt)
	if !ok {
		return nil, planner.Slot{}, fmt.Errorf("%w: day %d %s", replacement.ErrSlotNotFound, day, mt)
	}
	return plan, plan.Slots[i], nil
}

func (b *Bot) handleMetricsRequest(ctx context.Context, telegramID, chatID int64) {
	if b.cfg.AdminTelegramID == 0 || telegramID != b.cfg.AdminTelegramID {
		b.reply(chatID, "⛔ *Access Denied*: Admin only.")
		return
	}
	report, err := b.svc.UsageReport(ctx, 7)
	if err != nil {
		b.logger.Error("failed to build usage report", zap.Error(err))
		b.reply(chatID, "❌ Error fetching metrics.")
		return
	}
	b.send(tgbotapi.NewMessage(chatID, "📊 Usage & Health Report\n\n"+report))
}

func (b *Bot) reply(chatID int64, text string) {
	b.send(markdown(tgbotapi.NewMessage(chatID, text)))
}

func (b *Bot) edit(chatID int64, messageID int, text string) {
	e := tgbotapi.NewEditMessageText(chatID, messageID, text)
	e.ParseMode = tgbotapi.ModeMarkdown
	b.send(e)
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		b.logger.Error("failed to send message", zap.Error(err))
	}
}

func markdown(m tgbotapi.MessageConfig) tgbotapi.MessageConfig {
	m.ParseMode = tgbotapi.ModeMarkdown
	return m
}

func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}

// parseCommand splits "/cmd@bot args" into its lower-cased name and
// arguments. Plain text yields an empty command.
func parseCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	name, args, _ := strings.Cut(text[1:], " ")
	name, _, _ = strings.Cut(name, "@")
	return strings.ToLower(name), strings.TrimSpace(args)
}

func errorText(err error) string {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return "There is no open plan. Tell me what you'd like to eat to start one."
	case errors.Is(err, session.ErrNothingToFinalize):
		return "There is nothing to save yet."
	case errors.Is(err, planner.ErrPlanNotFound):
		return "You don't have a plan yet. Tell me what you'd like to eat."
	case errors.Is(err, replacement.ErrSlotNotFound):
		return "That meal is not in your current plan."
	case errors.Is(err, replacement.ErrRecipeNotFound):
		return "That recipe is no longer on offer. Try /swap again."
	case errors.Is(err, planner.ErrInvalidRequest):
		return "I couldn't understand that request."
	case errors.Is(err, planner.ErrConcurrentUpdate):
		return "The plan just changed. Please try again."
	default:
		return "❌ Something went wrong. Please try again later."
	}
}
