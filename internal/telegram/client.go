package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/allfoodsicily/draftdesk/internal/models"
)

// DefaultBaseURL is the public Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// maxMessageRunes stays below the Bot API limit of 4096 characters.
const maxMessageRunes = 4000

// Client is a minimal Telegram Bot API client.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a Bot API client. An empty baseURL uses DefaultBaseURL.
func NewClient(token, baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: httpClient}
}

// User is the subset of a Telegram user we read.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

// Chat identifies a conversation.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// Message is an incoming text message.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
}

// Update is one entry returned by getUpdates.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// SendMessage posts a plain-text message, split into several messages when
// it exceeds the API limit.
func (c *Client) SendMessage(ctx context.Context, chatID, text string) error {
	for _, chunk := range splitMessage(text, maxMessageRunes) {
		form := url.Values{}
		form.Set("chat_id", chatID)
		form.Set("text", chunk)
		form.Set("disable_web_page_preview", "true")

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("sendMessage"), strings.NewReader(form.Encode()))
		if err != nil {
			return models.NewError(models.ErrorKindMalformed, "telegram sendMessage", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		if err := c.do(req, "sendMessage", nil); err != nil {
			return err
		}
	}
	return nil
}

// SendDocument uploads a file with an optional caption.
func (c *Client) SendDocument(ctx context.Context, chatID, filename string, data []byte, caption string) error {
	return c.upload(ctx, "sendDocument", "document", chatID, filename, data, caption)
}

// SendPhoto uploads an image with an optional caption.
func (c *Client) SendPhoto(ctx context.Context, chatID, filename string, data []byte, caption string) error {
	return c.upload(ctx, "sendPhoto", "photo", chatID, filename, data, caption)
}

// GetUpdates long-polls for new updates after offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	query := url.Values{}
	query.Set("offset", strconv.FormatInt(offset, 10))
	query.Set("timeout", strconv.Itoa(int(timeout.Seconds())))
	query.Set("allowed_updates", `["message"]`)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("getUpdates")+"?"+query.Encode(), nil)
	if err != nil {
		return nil, models.NewError(models.ErrorKindMalformed, "telegram getUpdates", err)
	}

	var updates []Update
	if err := c.do(req, "getUpdates", &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

func (c *Client) upload(ctx context.Context, method, field, chatID, filename string, data []byte, caption string) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	_ = writer.WriteField("chat_id", chatID)
	if caption != "" {
		_ = writer.WriteField("caption", caption)
	}
	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		return models.NewError(models.ErrorKindMalformed, "telegram "+method, err)
	}
	if _, err := part.Write(data); err != nil {
		return models.NewError(models.ErrorKindMalformed, "telegram "+method, err)
	}
	if err := writer.Close(); err != nil {
		return models.NewError(models.ErrorKindMalformed, "telegram "+method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(method), &body)
	if err != nil {
		return models.NewError(models.ErrorKindMalformed, "telegram "+method, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return c.do(req, method, nil)
}

func (c *Client) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}

// do executes a request and decodes the API envelope, classifying failures.
func (c *Client) do(req *http.Request, method string, result any) error {
	op := "telegram " + method

	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(op, err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		if resp.StatusCode != http.StatusOK {
			return models.NewError(models.KindForHTTPStatus(resp.StatusCode), op, fmt.Errorf("unexpected status %s", resp.Status))
		}
		return models.NewError(models.ErrorKindMalformed, op, fmt.Errorf("decode response: %w", err))
	}

	if !envelope.OK {
		code := envelope.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		apiErr := fmt.Errorf("telegram error %d: %s", code, envelope.Description)
		kind := models.KindForHTTPStatus(code)
		if kind == models.ErrorKindRateLimited {
			return models.RateLimited(op, apiErr, time.Duration(envelope.Parameters.RetryAfter)*time.Second)
		}
		return models.NewError(kind, op, apiErr)
	}

	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return models.NewError(models.ErrorKindMalformed, op, fmt.Errorf("decode result: %w", err))
		}
	}
	return nil
}

func transportError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return models.NewError(models.ErrorKindTimeout, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.NewError(models.ErrorKindTimeout, op, err)
	}
	return models.NewError(models.ErrorKindNetwork, op, err)
}

// splitMessage breaks text on line boundaries into chunks of at most max runes.
func splitMessage(text string, max int) []string {
	if len([]rune(text)) <= max {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if currentLen > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
			currentLen = 0
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		runes := []rune(line)
		for len(runes) > max {
			flush()
			chunks = append(chunks, string(runes[:max]))
			runes = runes[max:]
		}
		if currentLen+len(runes) > max {
			flush()
		}
		current.WriteString(string(runes))
		currentLen += len(runes)
	}
	flush()

	return chunks
}
