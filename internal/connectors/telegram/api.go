package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/reynekefox/chatrelay/internal/render"
)

// ErrRecipientUnreachable marks a send failure caused by the recipient, not
// the transport: the user blocked the bot or the chat is gone. Broadcast
// delivery prunes such users instead of retrying.
var ErrRecipientUnreachable = errors.New("recipient unreachable")

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// SendText delivers one text message and returns its message id. With html
// set the message is sent with HTML parse mode.
func (c *Connector) SendText(ctx context.Context, chatID int64, text string, html bool) (int64, error) {
	body := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if html {
		body["parse_mode"] = "HTML"
	}
	result, err := c.callMethod(ctx, "sendMessage", body)
	if err != nil {
		return 0, err
	}

	var message struct {
		MessageID int64 `json:"message_id"`
	}
	if err := json.Unmarshal(result, &message); err != nil {
		return 0, fmt.Errorf("decode sendMessage result: %w", err)
	}
	return message.MessageID, nil
}

func (c *Connector) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	_, err := c.callMethod(ctx, "deleteMessage", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	})
	return err
}

// SendEmotion delivers the illustration for a resolved emotion label with the
// given caption attached, parsed as HTML.
func (c *Connector) SendEmotion(ctx context.Context, chatID int64, emotion, caption string) error {
	imageName := render.EmotionImage(emotion)
	if imageName == "" {
		return fmt.Errorf("no image for emotion %q", emotion)
	}
	imagePath := filepath.Join(c.assetsDir, imageName)
	file, err := os.Open(imagePath)
	if err != nil {
		return fmt.Errorf("open emotion image: %w", err)
	}
	defer file.Close()

	var buffer bytes.Buffer
	writer := multipart.NewWriter(&buffer)
	if err := writer.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return err
	}
	if err := writer.WriteField("caption", caption); err != nil {
		return err
	}
	if err := writer.WriteField("parse_mode", "HTML"); err != nil {
		return err
	}
	part, err := writer.CreateFormFile("photo", imageName)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendPhoto", c.apiBase, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buffer)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	var response apiResponse
	if err := json.NewDecoder(res.Body).Decode(&response); err != nil {
		return fmt.Errorf("decode sendPhoto: %w", err)
	}
	if !response.OK {
		return apiError("sendPhoto", response.Description)
	}
	return nil
}

func (c *Connector) callMethod(ctx context.Context, method string, body map[string]any) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", c.apiBase, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	var response apiResponse
	if err := json.NewDecoder(res.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode %s: %w", method, err)
	}
	if !response.OK {
		return nil, apiError(method, response.Description)
	}
	return response.Result, nil
}

func apiError(method, description string) error {
	lowered := strings.ToLower(description)
	if strings.Contains(lowered, "bot was blocked by the user") || strings.Contains(lowered, "chat not found") {
		return fmt.Errorf("%w: %s", ErrRecipientUnreachable, description)
	}
	if strings.TrimSpace(description) == "" {
		return fmt.Errorf("telegram %s failed", method)
	}
	return fmt.Errorf("telegram %s failed: %s", method, description)
}
