package responder

import "marketplace-responder/backend/internal/models"

// Fallback is the deterministic reply used when neither a template nor generation produced text
func Fallback(mt models.MessageType, listing *models.ListingContext) string {
	switch mt {
	case models.PriceQuestion:
		if listing.HasPrice() {
			return "Цена " + listing.PriceString() + " руб. Торг возможен!"
		}
		return "Цена указана в объявлении. Готов обсудить детали."
	case models.Availability:
		return "Товар в наличии. Можете посмотреть!"
	case models.Greeting:
		return "Здравствуйте! Чем могу помочь?"
	case models.MeetingRequest:
		return "Можем встретиться для осмотра. Напишите когда удобно."
	case models.ProductInfo:
		return "Вся информация есть в описании. Что именно интересует?"
	case models.DeliveryQuestion:
		return "По доставке можем договориться отдельно."
	case models.GeneralQuestion:
		return "Спасибо за интерес! Отвечу на все вопросы."
	}
	return "Спасибо за сообщение! Скоро отвечу подробнее."
}
