// Package push delivers notifications to a user's devices over FCM.
package push

import (
	"context"
	"fmt"

	"firebase.google.com/go/messaging"
)

// Logger provides minimal logging required by the sender.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Messenger sends one FCM message. *messaging.Client satisfies it.
type Messenger interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// Tokens stores device registration tokens per user.
type Tokens interface {
	Tokens(ctx context.Context, uid string) ([]string, error)
	AddToken(ctx context.Context, uid, token string) error
	RemoveToken(ctx context.Context, uid, token string) error
}

// FCMSender pushes to every registered device of a user.
type FCMSender struct {
	client Messenger
	tokens Tokens
	logger Logger
}

// NewFCMSender constructs an FCMSender.
func NewFCMSender(client Messenger, tokens Tokens, logger Logger) *FCMSender {
	return &FCMSender{client: client, tokens: tokens, logger: logger}
}

// Notify sends title and body to each of uid's devices. Tokens FCM reports
// as unregistered are dropped. It fails only when no device received the
// message.
func (s *FCMSender) Notify(ctx context.Context, uid, title, body string, data map[string]string) error {
	tokens, err := s.tokens.Tokens(ctx, uid)
	if err != nil {
		return fmt.Errorf("push tokens for %s: %w", uid, err)
	}
	if len(tokens) == 0 {
		return nil
	}

	var lastErr error
	sent := 0
	for _, token := range tokens {
		_, err := s.client.Send(ctx, message(token, title, body, data))
		if err == nil {
			sent++
			continue
		}
		if messaging.IsRegistrationTokenNotRegistered(err) {
			if rerr := s.tokens.RemoveToken(ctx, uid, token); rerr != nil {
				s.logger.Errorf("push: drop stale token for %s: %v", uid, rerr)
			}
			continue
		}
		s.logger.Errorf("push: send to %s: %v", uid, err)
		lastErr = err
	}
	if sent == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

func message(token, title, body string, data map[string]string) *messaging.Message {
	return &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID: "high_priority_channel",
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority": "10",
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{
						Title: title,
						Body:  body,
					},
					Sound: "default",
				},
			},
		},
	}
}
