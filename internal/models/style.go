package models

import "fmt"

// ResponseStyle is the tone of a generated reply
type ResponseStyle string

const (
	StyleProfessional ResponseStyle = "professional"
	StyleFriendly     ResponseStyle = "friendly"
	StyleCasual       ResponseStyle = "casual"
	StyleSales        ResponseStyle = "sales"
)

// ParseStyle converts configuration input to a ResponseStyle
func ParseStyle(s string) (ResponseStyle, error) {
	switch style := ResponseStyle(s); style {
	case StyleProfessional, StyleFriendly, StyleCasual, StyleSales:
		return style, nil
	}
	return "", fmt.Errorf("unknown response style %q", s)
}

// Instructions describes the style to a text-generation model
func (s ResponseStyle) Instructions() string {
	switch s {
	case StyleProfessional:
		return "Официальный, вежливый, используй 'Вы'"
	case StyleFriendly:
		return "Дружелюбный, теплый, можно использовать 'ты'"
	case StyleCasual:
		return "Простой, неформальный, как с другом"
	case StyleSales:
		return "Активно продающий, подчеркивай выгоды"
	}
	return "Нейтральный, вежливый"
}
