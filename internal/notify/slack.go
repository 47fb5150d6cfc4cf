package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const slackPostMessageURL = "https://slack.com/api/chat.postMessage"

// SlackNotifier posts mention summaries via chat.postMessage. It talks to
// the one endpoint we need directly rather than pulling in a full SDK.
type SlackNotifier struct {
	token   string
	channel string
	client  *http.Client
	baseURL string
}

func NewSlackNotifier(token, channel string) *SlackNotifier {
	return &SlackNotifier{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: slackPostMessageURL,
	}
}

type slackPostMessageRequest struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

type slackPostMessageResponse struct {
	OK    bool   `json:"ok"`
	TS    string `json:"ts"`
	Error string `json:"error"`
}

func (s *SlackNotifier) NotifyMention(ctx context.Context, ev MentionEvent) (string, error) {
	text := fmt.Sprintf("*mend* mention in `%s#%d` by `%s`: `%s`\n%s",
		ev.Repository, ev.IssueNumber, ev.Author, ev.Command, ev.CommentURL)

	payload, err := json.Marshal(slackPostMessageRequest{
		Channel: s.channel,
		Text:    text,
	})
	if err != nil {
		return "", fmt.Errorf("serializing slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("posting slack message: %w", err)
	}
	defer resp.Body.Close()

	var decoded slackPostMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decoding slack response: %w", err)
	}
	if !decoded.OK {
		return "", fmt.Errorf("slack api error: %s", decoded.Error)
	}
	return decoded.TS, nil
}
