package notifier

import (
	"context"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worthit/pipeline/internal/models"
)

type fakeSender struct {
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.err
}

func TestNotifySuccessFormatsResultAndSendsToChatID(t *testing.T) {
	fake := &fakeSender{}
	n := &TelegramNotifier{bot: fake}

	result := &models.AnalysisResult{
		Title:      "Widget",
		Price:      "19.99",
		ValueScore: 8.4,
		Pros:       []string{"sturdy", "cheap"},
		Cons:       []string{"heavy"},
	}

	require.NoError(t, n.NotifySuccess(context.Background(), "12345", result))
	require.Len(t, fake.sent, 1)

	msg, ok := fake.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.EqualValues(t, 12345, msg.ChatID)
	assert.Contains(t, msg.Text, "Widget")
	assert.Contains(t, msg.Text, "8.4")
}

func TestNotifyFailureUsesCategoryMessage(t *testing.T) {
	fake := &fakeSender{}
	n := &TelegramNotifier{bot: fake}

	require.NoError(t, n.NotifyFailure(context.Background(), "12345", "invalid_url"))
	require.Len(t, fake.sent, 1)

	msg, ok := fake.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, failureMessages["invalid_url"], msg.Text)
}

func TestNotifyFailureFallsBackToOtherForUnknownCategory(t *testing.T) {
	fake := &fakeSender{}
	n := &TelegramNotifier{bot: fake}

	require.NoError(t, n.NotifyFailure(context.Background(), "12345", "some_new_category"))
	msg := fake.sent[0].(tgbotapi.MessageConfig)
	assert.Equal(t, failureMessages["other"], msg.Text)
}

func TestNotifyRejectsNonNumericChatID(t *testing.T) {
	fake := &fakeSender{}
	n := &TelegramNotifier{bot: fake}

	err := n.NotifyFailure(context.Background(), "not-a-number", "other")
	require.Error(t, err)
	assert.Empty(t, fake.sent)
}
