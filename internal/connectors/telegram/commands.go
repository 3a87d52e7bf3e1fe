package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/reynekefox/chatrelay/internal/store"
	"github.com/reynekefox/chatrelay/internal/textsplit"
)

const welcomeMessage = "👋 Привет! Я ваш ИИ-помощник по вопросам детского воспитания и мотивации. " +
	"Я здесь, чтобы помочь родителям справиться с трудностями, связанными с воспитанием, обучением, мотивацией и дисциплиной, " +
	"разобраться в причинах нежелания ребенка учиться, подобрать способы мотивации, подходящие именно вашему ребенку, " +
	"найти подход к сложностям в поведении.\n\n" +
	"Я могу:\n" +
	"✨ Выдать подробный гайд по вашей проблеме.\n" +
	"🛠️ Разработать стратегию и конкретные шаги по решению вашей проблемы с индивидуальными рекомендациями.\n" +
	"🧩 Сгенерировать для вас персональные идеи мотивирующих сказок или историй, которые помогут вашему ребенку понять ценность знаний в игровой форме.\n" +
	"🎲 Предложить подборку развивающих игр, адаптированных под возраст вашего ребенка, которые сделают процесс обучения увлекательным.\n\n" +
	"Расскажите, пожалуйста, с каким вопросом или проблемой вы столкнулись? И сколько лет вашему ребенку? 🤔"

const noAccessMessage = "У вас нет прав для использования этой команды."

// handleCommand runs one slash command. It returns false for commands it
// does not know so the message falls through to the relay.
func (c *Connector) handleCommand(ctx context.Context, message telegramMessage, text string) bool {
	command, args, _ := strings.Cut(text, " ")
	command = strings.ToLower(strings.TrimSpace(command))
	if at := strings.Index(command, "@"); at > 0 {
		command = command[:at]
	}
	args = strings.TrimSpace(args)

	switch command {
	case "/start":
		c.commandStart(ctx, message)
	case "/reset":
		c.commandReset(ctx, message)
	case "/reload_prompts":
		c.commandReloadPrompts(ctx, message)
	case "/show_prompt":
		c.commandShowPrompt(ctx, message)
	case "/user_info":
		c.commandUserInfo(ctx, message, args)
	case "/all_users":
		c.commandAllUsers(ctx, message)
	case "/broadcast":
		c.commandBroadcast(ctx, message, args)
	default:
		return false
	}
	return true
}

func (c *Connector) commandStart(ctx context.Context, message telegramMessage) {
	if err := c.meta.RegisterUser(ctx, store.RegisterUserInput{
		ID:        message.From.ID,
		Username:  message.From.Username,
		FirstName: message.From.FirstName,
		LastName:  message.From.LastName,
	}); err != nil {
		c.logger.Error("register user on start failed", "user_id", message.From.ID, "error", err)
	}
	c.reply(ctx, message.Chat.ID, welcomeMessage)
}

func (c *Connector) commandReset(ctx context.Context, message telegramMessage) {
	if err := c.dialogs.Clear(message.From.ID); err != nil {
		c.logger.Error("dialog reset failed", "user_id", message.From.ID, "error", err)
		c.reply(ctx, message.Chat.ID, "Произошла ошибка при сбросе диалога.")
		return
	}
	c.logger.Info("dialog reset", "user_id", message.From.ID)
	c.reply(ctx, message.Chat.ID, "Диалог сброшен. Давайте начнем заново! 😊")
}

func (c *Connector) commandReloadPrompts(ctx context.Context, message telegramMessage) {
	if !c.isAdmin(message.From.ID) {
		c.reply(ctx, message.Chat.ID, noAccessMessage)
		return
	}
	c.reply(ctx, message.Chat.ID, "🔄 Обновляю кешированные инструкции...")
	if err := c.prompts.Reload(); err != nil {
		c.logger.Error("prompt reload failed", "error", err)
		c.reply(ctx, message.Chat.ID, "❌ Произошла ошибка при обновлении инструкций.")
		return
	}
	c.reply(ctx, message.Chat.ID, "✅ Кешированные инструкции успешно обновлены!")
}

func (c *Connector) commandShowPrompt(ctx context.Context, message telegramMessage) {
	if !c.isAdmin(message.From.ID) {
		c.reply(ctx, message.Chat.ID, noAccessMessage)
		return
	}
	c.replyLong(ctx, message.Chat.ID, c.prompts.SystemPrompt())
}

func (c *Connector) commandUserInfo(ctx context.Context, message telegramMessage, args string) {
	if !c.isAdmin(message.From.ID) {
		c.reply(ctx, message.Chat.ID, noAccessMessage)
		return
	}
	userID, err := strconv.ParseInt(args, 10, 64)
	if err != nil || args == "" {
		c.reply(ctx, message.Chat.ID, "Использование: /user_info <user_id>")
		return
	}
	record, err := c.meta.LookupUser(ctx, userID)
	if err != nil {
		c.logger.Error("user lookup failed", "user_id", userID, "error", err)
		c.reply(ctx, message.Chat.ID, "Произошла ошибка при получении информации о пользователе.")
		return
	}
	info := fmt.Sprintf(
		"📊 Информация о пользователе %d\n\n🆕 Первый контакт: %s\n💬 Сообщений: %d\n⏰ Последнее взаимодействие: %s",
		record.ID,
		record.FirstSeen.Format("2006-01-02 15:04:05"),
		record.Turns,
		record.LastSeen.Format("2006-01-02 15:04:05"),
	)
	c.reply(ctx, message.Chat.ID, info)
}

func (c *Connector) commandAllUsers(ctx context.Context, message telegramMessage) {
	if !c.isAdmin(message.From.ID) {
		c.reply(ctx, message.Chat.ID, noAccessMessage)
		return
	}
	records, err := c.meta.ListUsers(ctx)
	if err != nil {
		c.logger.Error("user listing failed", "error", err)
		c.reply(ctx, message.Chat.ID, "Произошла ошибка при получении списка пользователей.")
		return
	}
	if len(records) == 0 {
		c.reply(ctx, message.Chat.ID, "Нет данных о пользователях.")
		return
	}
	var report strings.Builder
	report.WriteString("📊 Список всех пользователей:\n\n")
	for _, record := range records {
		fmt.Fprintf(&report, "👤 ID: %d\n💬 Сообщений: %d\n⏰ Последняя активность: %s\n\n",
			record.ID, record.Turns, record.LastSeen.Format("2006-01-02 15:04:05"))
	}
	c.replyLong(ctx, message.Chat.ID, strings.TrimSpace(report.String()))
}

func (c *Connector) commandBroadcast(ctx context.Context, message telegramMessage, args string) {
	if !c.isAdmin(message.From.ID) {
		c.logger.Warn("broadcast attempted without admin rights", "user_id", message.From.ID)
		c.reply(ctx, message.Chat.ID, noAccessMessage)
		return
	}
	if args == "" {
		c.reply(ctx, message.Chat.ID, "Пожалуйста, укажите текст для рассылки. Пример: /broadcast Привет всем!")
		return
	}
	c.reply(ctx, message.Chat.ID, fmt.Sprintf("Начинаю рассылку сообщения:\n\n%s\n\nЭто может занять некоторое время...", args))

	sent, blocked, err := c.broadcaster.Send(ctx, args)
	if err != nil {
		c.logger.Error("broadcast failed", "error", err)
		c.reply(ctx, message.Chat.ID, "Произошла ошибка при выполнении рассылки. Проверьте логи.")
		return
	}
	c.reply(ctx, message.Chat.ID, fmt.Sprintf(
		"Рассылка завершена. Отправлено %d сообщений. Не удалось отправить (бот заблокирован/чат не найден) %d пользователям.",
		sent, blocked))
}

func (c *Connector) isAdmin(userID int64) bool {
	return c.adminIDs[userID]
}

func (c *Connector) reply(ctx context.Context, chatID int64, text string) {
	if _, err := c.SendText(ctx, chatID, text, false); err != nil {
		c.logger.Error("command reply failed", "chat_id", chatID, "error", err)
	}
}

// replyLong chunks a reply the way the relay does, without HTML parsing.
func (c *Connector) replyLong(ctx context.Context, chatID int64, text string) {
	chunks := textsplit.Split(text, 2000)
	for index, chunk := range chunks {
		if len(chunks) > 1 {
			chunk = fmt.Sprintf("📝 Часть %d/%d:\n\n%s", index+1, len(chunks), chunk)
		}
		c.reply(ctx, chatID, chunk)
	}
}
