package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"marketplace-responder/backend/internal/models"
)

func TestClassifyPriceQuestion(t *testing.T) {
	c := NewDefault()

	res := c.Classify("сколько стоит?")
	assert.Equal(t, models.PriceQuestion, res.Type)
	assert.Greater(t, res.Confidence, 0.0)
	assert.InDelta(t, 2.0/14.0, res.Confidence, 1e-9)
	assert.ElementsMatch(t, []string{"сколько", "стоит"}, res.Keywords)
}

func TestClassifySubstringScoresHalf(t *testing.T) {
	c := New(map[models.MessageType][]string{
		models.MeetingRequest: {"встреч", "адрес"},
	})

	res := c.Classify("Давайте встречу назначим")
	assert.Equal(t, models.MeetingRequest, res.Type)
	assert.InDelta(t, 0.25, res.Confidence, 1e-9)
}

func TestClassifyMultiWordKeyword(t *testing.T) {
	c := NewDefault()

	res := c.Classify("Добрый вечер!")
	assert.Equal(t, models.Greeting, res.Type)
	assert.Contains(t, res.Keywords, "добрый вечер")
}

func TestClassifyDefaultsToGeneralQuestion(t *testing.T) {
	c := NewDefault()

	res := c.Classify("ммм интересно")
	assert.Equal(t, models.GeneralQuestion, res.Type)
	assert.Equal(t, 0.5, res.Confidence)
	assert.Empty(t, res.Keywords)
}

func TestClassifyConfidenceIsClamped(t *testing.T) {
	c := New(map[models.MessageType][]string{
		models.Complaint: {"плохо"},
	})

	res := c.Classify("плохо плохо, очень плохо")
	assert.Equal(t, 1.0, res.Confidence)
}

func TestClassifyTieGoesToEarlierType(t *testing.T) {
	c := New(map[models.MessageType][]string{
		models.Greeting:      {"привет"},
		models.PriceQuestion: {"цена"},
	})

	res := c.Classify("привет, цена?")
	assert.Equal(t, models.PriceQuestion, res.Type)
}

func TestClassifyIsDeterministic(t *testing.T) {
	c := NewDefault()
	texts := []string{
		"Здравствуйте! Товар еще есть в наличии?",
		"Можно приехать посмотреть завтра, какой адрес?",
		"Доставка курьером возможна?",
		"",
		"Заработок на криптовалюта",
	}
	for _, text := range texts {
		first := c.Classify(text)
		for i := 0; i < 20; i++ {
			assert.Equal(t, first, c.Classify(text), text)
		}
	}
}
