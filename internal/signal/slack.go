package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Block is a Slack layout block holding one markdown section.
type Block struct {
	Type string    `json:"type"`
	Text BlockText `json:"text"`
}

// BlockText is the text of a section block.
type BlockText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Markdown wraps text in a single mrkdwn section.
func Markdown(text string) []Block {
	return []Block{{Type: "section", Text: BlockText{Type: "mrkdwn", Text: text}}}
}

// Slack posts events to incoming webhooks, one URL per event kind.
type Slack struct {
	webhooks map[Kind]string
	client   *http.Client
}

// NewSlack creates a Slack provider. Kinds without a webhook URL are not
// supported.
func NewSlack(webhooks map[Kind]string, client *http.Client) *Slack {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	hooks := make(map[Kind]string, len(webhooks))
	for kind, url := range webhooks {
		if url != "" {
			hooks[kind] = url
		}
	}
	return &Slack{webhooks: hooks, client: client}
}

// Supported implements Provider.
func (s *Slack) Supported(ev Event) bool {
	_, ok := s.webhooks[ev.Kind]
	return ok
}

// Send implements Provider.
func (s *Slack) Send(ctx context.Context, ev Event) error {
	url, ok := s.webhooks[ev.Kind]
	if !ok {
		return nil
	}

	var text string
	switch ev.Kind {
	case KindSubmission:
		if ev.Submission == nil {
			return fmt.Errorf("submission event without submission")
		}
		sub := ev.Submission
		text = fmt.Sprintf("`%s` submission from *%s* (`%s`): %d devices, %d entities",
			sub.HomeAssistant, sub.Subject, sub.ID, sub.Devices, sub.Entities)
		if sub.Malformed > 0 {
			text += fmt.Sprintf(", %d malformed", sub.Malformed)
		}
	default:
		return nil
	}

	body, err := json.Marshal(struct {
		Blocks []Block `json:"blocks"`
	}{Blocks: Markdown(text)})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("slack webhook: %s", resp.Status)
	}
	return nil
}
