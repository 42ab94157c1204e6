package classifier

import "marketplace-responder/backend/internal/models"

// DefaultKeywords is the built-in keyword table per message type
var DefaultKeywords = map[models.MessageType][]string{
	models.PriceQuestion: {
		"цена", "сколько", "стоимость", "дорого", "дешево", "рубль", "тысяч",
		"торг", "скидка", "цену", "стоит", "руб", "дороже", "дешевле",
	},
	models.Availability: {
		"есть", "доступен", "наличи", "остался", "продан", "забронирован",
		"свободен", "занят", "актуален", "продается", "имеется",
	},
	models.ProductInfo: {
		"состояние", "размер", "цвет", "материал", "характеристики", "описание",
		"дефект", "царапин", "новый", "б/у", "подержанный", "качество",
	},
	models.MeetingRequest: {
		"встреч", "посмотреть", "приехать", "забрать", "осмотр", "когда можно",
		"время", "адрес", "где находится", "встреча", "приезжайте",
	},
	models.DeliveryQuestion: {
		"доставка", "привезете", "отправка", "почта", "курьер", "самовывоз",
		"доставить", "привезти", "отправить", "получение", "доставляет",
	},
	models.Greeting: {
		"привет", "здравствуйте", "добрый", "доброе", "добрый день",
		"добрый вечер", "доброе утро", "салют", "хай",
	},
	models.Complaint: {
		"жалоба", "недоволен", "плохо", "обман", "мошенник", "верните",
		"возврат", "претензия", "некачественный", "сломанный",
	},
	models.Spam: {
		"заработок", "инвестиции", "криптовалюта", "займ", "кредит",
		"млм", "сетевой маркетинг", "пирамида", "биткоин",
	},
}
