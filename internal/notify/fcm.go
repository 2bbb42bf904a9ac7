package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/fanclub/backend/internal/logger"
)

const maxPushBody = 120

// Sender delivers one FCM message; *messaging.Client satisfies it.
type Sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// NewFCMClient initialises the Firebase app from a service account file.
func NewFCMClient(ctx context.Context, credentialsPath string) (*messaging.Client, error) {
	if credentialsPath == "" {
		return nil, fmt.Errorf("FIREBASE_CREDENTIALS_PATH not set")
	}
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsPath))
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting Messaging client: %w", err)
	}
	return client, nil
}

// FCMDispatcher turns notification events into topic pushes.
type FCMDispatcher struct {
	ch     Channel
	sender Sender
}

func NewFCMDispatcher(ch Channel, sender Sender) *FCMDispatcher {
	return &FCMDispatcher{ch: ch, sender: sender}
}

// Run forwards events until ctx is done.
func (d *FCMDispatcher) Run(ctx context.Context) error {
	events, err := d.ch.SubscribeNotifications(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to notifications: %w", err)
	}
	logger.Infof("FCM dispatcher started")
	for payload := range events {
		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			logger.Errorf("FCM dispatcher: bad payload: %v", err)
			continue
		}
		if err := d.Dispatch(ctx, ev); err != nil {
			logger.Errorf("FCM dispatcher: %v", err)
		}
	}
	return nil
}

// Dispatch sends one event to its chat topic.
func (d *FCMDispatcher) Dispatch(ctx context.Context, ev Event) error {
	msg := &messaging.Message{
		Topic: Topic(ev.ChatID),
		Notification: &messaging.Notification{
			Title: "New message",
			Body:  truncate(ev.Content, maxPushBody),
		},
		Data: map[string]string{
			"chat_id":   ev.ChatID.String(),
			"sender_id": ev.SenderID.String(),
			"chat_type": string(ev.ChatType),
		},
	}
	id, err := d.sender.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to send push for chat %s: %w", ev.ChatID, err)
	}
	logger.Debugf("push %s sent to %s", id, msg.Topic)
	return nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
