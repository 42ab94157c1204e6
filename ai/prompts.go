package ai

import (
	"fmt"
	"strings"

	"marketplace-responder/backend/internal/models"
)

const historyInPrompt = 3

// AnalysisPrompt asks the model to classify a buyer message as JSON
func AnalysisPrompt(text string, sender *models.SenderContext, listing *models.ListingContext) string {
	var b strings.Builder
	b.WriteString("Ты - эксперт по анализу сообщений на торговой площадке Авито.\n")
	b.WriteString("Проанализируй входящее сообщение от покупателя и верни результат в JSON формате.\n\n")

	b.WriteString("КОНТЕКСТ ТОВАРА:\n")
	fmt.Fprintf(&b, "- Название: %s\n", listing.Title)
	fmt.Fprintf(&b, "- Цена: %s руб.\n", orDefault(listing.PriceString(), "не указана"))
	fmt.Fprintf(&b, "- Описание: %s\n", orDefault(listing.Description, "отсутствует"))
	fmt.Fprintf(&b, "- Категория: %s\n\n", orDefault(listing.Category, "общая"))

	fmt.Fprintf(&b, "СООБЩЕНИЕ ПОКУПАТЕЛЯ:\n%q\n\n", text)

	b.WriteString("ИСТОРИЯ ОБЩЕНИЯ:\n")
	b.WriteString(recentHistory(sender))
	b.WriteString("\n\n")

	b.WriteString("Определи и верни в JSON:\n")
	fmt.Fprintf(&b, "1. message_type - тип сообщения (%s)\n", messageTypeList())
	b.WriteString("2. confidence - уверенность в классификации (0.0-1.0)\n")
	b.WriteString("3. intent - основное намерение пользователя (1-2 слова)\n")
	b.WriteString("4. sentiment - эмоциональная окраска (positive, negative, neutral)\n")
	b.WriteString("5. urgency - срочность (low, medium, high)\n")
	b.WriteString("6. keywords_found - найденные ключевые слова (массив)\n")
	b.WriteString("7. requires_human - нужно ли вмешательство человека (true/false)\n\n")
	b.WriteString("Отвечай только валидным JSON без дополнительного текста.")
	return b.String()
}

// ReplyPrompt asks the model for a seller reply in the given style
func ReplyPrompt(text string, analysis *models.Analysis, listing *models.ListingContext, style models.ResponseStyle) string {
	var b strings.Builder
	b.WriteString("Ты - опытный продавец на Авито, отвечаешь покупателю.\n\n")
	fmt.Fprintf(&b, "СТИЛЬ ОБЩЕНИЯ: %s\n\n", style.Instructions())

	b.WriteString("ИНФОРМАЦИЯ О ТОВАРЕ:\n")
	fmt.Fprintf(&b, "- Название: %s\n", listing.Title)
	fmt.Fprintf(&b, "- Цена: %s руб.\n", orDefault(listing.PriceString(), "договорная"))
	fmt.Fprintf(&b, "- Состояние: %s\n", orDefault(listing.Condition, "хорошее"))
	fmt.Fprintf(&b, "- Описание: %s\n", orDefault(listing.Description, "см. объявление"))
	fmt.Fprintf(&b, "- Доставка: %s\n", choose(listing.DeliveryAvailable, "доступна", "самовывоз"))
	fmt.Fprintf(&b, "- Торг: %s\n\n", choose(listing.Negotiable, "возможен", "неуместен"))

	b.WriteString("АНАЛИЗ СООБЩЕНИЯ:\n")
	fmt.Fprintf(&b, "- Тип: %s\n", analysis.Type)
	fmt.Fprintf(&b, "- Намерение: %s\n", analysis.Intent)
	fmt.Fprintf(&b, "- Настроение: %s\n", analysis.Sentiment)
	fmt.Fprintf(&b, "- Срочность: %s\n\n", analysis.Urgency)

	fmt.Fprintf(&b, "СООБЩЕНИЕ ПОКУПАТЕЛЯ:\n%q\n\n", text)

	b.WriteString("ТРЕБОВАНИЯ К ОТВЕТУ:\n")
	b.WriteString("1. Отвечай персонально и по существу\n")
	b.WriteString("2. Используй указанный стиль общения\n")
	b.WriteString("3. Включай конкретную информацию о товаре\n")
	b.WriteString("4. Длина ответа: 50-200 символов\n")
	b.WriteString("5. Если можешь - предлагай встречу/осмотр\n")
	b.WriteString("6. Будь дружелюбным но не навязчивым\n\n")
	b.WriteString("Сгенерируй ответ:")
	return b.String()
}

// ReplyConversation replays the sender's history before the reply prompt
func ReplyConversation(prompt string, sender *models.SenderContext) Prompt {
	var turns []Turn
	if sender != nil {
		for _, h := range sender.History {
			turns = append(turns, Turn{Role: RoleUser, Text: h.Text})
			if h.Response != "" {
				turns = append(turns, Turn{Role: RoleModel, Text: h.Response})
			}
		}
	}
	if len(turns) == 0 {
		return Text(prompt)
	}
	turns = append(turns, Turn{Role: RoleUser, Text: prompt})
	return Conversation(turns...)
}

func recentHistory(sender *models.SenderContext) string {
	if sender == nil || len(sender.History) == 0 {
		return "Первое сообщение"
	}
	history := sender.History
	if len(history) > historyInPrompt {
		history = history[len(history)-historyInPrompt:]
	}
	lines := make([]string, len(history))
	for i, h := range history {
		lines[i] = "- " + h.Text
	}
	return strings.Join(lines, "\n")
}

func messageTypeList() string {
	names := make([]string, len(models.MessageTypes))
	for i, t := range models.MessageTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func choose(cond bool, yes, no string) string {
	if cond {
		return yes
	}
	return no
}
