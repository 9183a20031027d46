package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ChatHistoryClient links repository contexts to conversations in the
// chat-history service. The service itself is an external collaborator.
type ChatHistoryClient interface {
	ConversationCreate(ctx context.Context, userID string) (string, error)
	ConversationDelete(ctx context.Context, conversationID, userID string) error
}

// HTTPChatHistoryClient talks to the chat-history service over HTTP.
type HTTPChatHistoryClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewChatHistoryClient(baseURL string) *HTTPChatHistoryClient {
	return &HTTPChatHistoryClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type conversationCreateRequest struct {
	UserID string `json:"user_id"`
}

type conversationResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (c *HTTPChatHistoryClient) ConversationCreate(ctx context.Context, userID string) (string, error) {
	body, err := json.Marshal(conversationCreateRequest{UserID: userID})
	if err != nil {
		return "", fmt.Errorf("failed to encode conversation create: %v", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat-history/conversations", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("conversation create failed: %v", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("conversation create rejected with %d", response.StatusCode)
	}

	var decoded conversationResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("failed to decode conversation response: %v", err)
	}
	return decoded.Data.ID, nil
}

func (c *HTTPChatHistoryClient) ConversationDelete(ctx context.Context, conversationID, userID string) error {
	body, err := json.Marshal(conversationCreateRequest{UserID: userID})
	if err != nil {
		return fmt.Errorf("failed to encode conversation delete: %v", err)
	}

	url := fmt.Sprintf("%s/chat-history/conversations/%s", c.baseURL, conversationID)
	request, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("conversation delete failed: %v", err)
	}
	io.Copy(io.Discard, response.Body)
	response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("conversation delete rejected with %d", response.StatusCode)
	}
	return nil
}
