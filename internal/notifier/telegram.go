package notifier

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/coinrun/baseline-trader/internal/utils"
)

type TelegramNotifier struct {
	Token  string
	ChatID string
}

func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	return &TelegramNotifier{Token: token, ChatID: chatID}
}

func (t *TelegramNotifier) Send(message string) error {
	apiURL := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.Token)
	resp, err := http.PostForm(apiURL, url.Values{
		"chat_id": {t.ChatID},
		"text":    {message},
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("telegram send failed: %s", resp.Status)
	}
	return nil
}

// SendWithRetry retries transient failures with a short backoff.
func (t *TelegramNotifier) SendWithRetry(message string) error {
	var err error
	backoff := time.Second
	for attempt := 1; attempt <= 3; attempt++ {
		err = t.Send(message)
		if err == nil {
			return nil
		}
		utils.GetLogger().Printf("Notifier | telegram send attempt %d/3 failed: %v", attempt, err)
		time.Sleep(backoff)
		backoff *= 2
	}
	return err
}
