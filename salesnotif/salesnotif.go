package salesnotif

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/slack-go/slack"
)

// Notifier posts account activity (new connections) to a Slack channel
type Notifier struct {
	webhookURL  string
	environment string
	appName     string
	wg          sync.WaitGroup
}

func New(webhookURL, environment, appName string) *Notifier {
	return &Notifier{
		webhookURL:  webhookURL,
		environment: environment,
		appName:     appName,
	}
}

// Notify sends asynchronously. It is a no-op without a webhook URL.
func (n *Notifier) Notify(userID, message string) {
	if n == nil || n.webhookURL == "" {
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.send(userID, message)
	}()
}

// Wait blocks until in-flight notifications are sent
func (n *Notifier) Wait() {
	if n == nil {
		return
	}
	n.wg.Wait()
}

func (n *Notifier) send(userID, message string) {
	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Service:* %s", n.appName), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Environment:* %s", n.environment), false, false),
	}
	if userID != "" {
		fields = append(fields,
			slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*UserID:* `%s`", userID), false, false))
	}
	fields = append(fields, slack.NewTextBlockObject(
		slack.MarkdownType,
		fmt.Sprintf("*Timestamp:* %s", time.Now().UTC().Format("2006-01-02 15:04:05 UTC")),
		false,
		false,
	))

	activity := slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("📊 *Activity:*\n%s", message), false, false)
	msg := &slack.WebhookMessage{
		Text: message,
		Blocks: &slack.Blocks{
			BlockSet: []slack.Block{
				slack.NewSectionBlock(nil, fields, nil),
				slack.NewSectionBlock(activity, nil, nil),
			},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := slack.PostWebhookContext(ctx, n.webhookURL, msg); err != nil {
		log.Printf("❌ Failed to send activity notification: %v", err)
		return
	}

	log.Printf("💰 Activity notification sent: %s", message)
}
