package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/matheus3301/convsync/internal/chat"
)

// ListConversations returns every conversation summary of account.
func (c *Client) ListConversations(ctx context.Context, account string) ([]chat.ConversationSummary, error) {
	data, err := c.doRequest(ctx, account, http.MethodGet, accountPath(account, "chat", "conversations"), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[[]chat.ConversationSummary](data)
}

// GetConversation returns conversation metadata.
func (c *Client) GetConversation(ctx context.Context, account, conversation string) (*chat.ConversationSummary, error) {
	data, err := c.doRequest(ctx, account, http.MethodGet, accountPath(account, "chat", "conversations", url.PathEscape(conversation)), nil, nil)
	if err != nil {
		return nil, err
	}
	conv, err := decodeJSON[chat.ConversationSummary](data)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// GetMessages returns the message history of a conversation. Every returned
// message is marked confirmed.
func (c *Client) GetMessages(ctx context.Context, account, conversation string) ([]chat.Message, error) {
	data, err := c.doRequest(ctx, account, http.MethodGet, accountPath(account, "chat", "conversations", url.PathEscape(conversation), "messages"), nil, nil)
	if err != nil {
		return nil, err
	}
	msgs, err := decodeJSON[[]chat.Message](data)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i].Status = chat.StatusConfirmed
		if msgs[i].ConversationID == "" {
			msgs[i].ConversationID = conversation
		}
	}
	return msgs, nil
}

// GetParticipants fetches conversation members. The response shape depends
// on kind: a single profile for private conversations, a list for groups.
func (c *Client) GetParticipants(ctx context.Context, account, conversation string, kind chat.Kind) (chat.ParticipantResponse, error) {
	query := url.Values{"conversationType": {string(kind)}}
	data, err := c.doRequest(ctx, account, http.MethodGet, accountPath(account, "chat", "conversations", url.PathEscape(conversation), "participants"), nil, query)
	if err != nil {
		return chat.ParticipantResponse{}, err
	}

	switch kind {
	case chat.Private:
		p, err := decodeJSON[chat.ParticipantProfile](data)
		if err != nil {
			return chat.ParticipantResponse{}, err
		}
		return chat.ParticipantResponse{Kind: chat.Private, Single: &p}, nil
	case chat.Group:
		list, err := decodeJSON[[]chat.ParticipantProfile](data)
		if err != nil {
			return chat.ParticipantResponse{}, err
		}
		return chat.ParticipantResponse{Kind: chat.Group, Multiple: list}, nil
	}
	return chat.ParticipantResponse{}, fmt.Errorf("participants: unknown conversation type %q", kind)
}

// CreatePrivateConversation opens (or returns) the one-to-one conversation with otherUserID.
func (c *Client) CreatePrivateConversation(ctx context.Context, account, otherUserID string) (*chat.ConversationSummary, error) {
	body := map[string]string{"otherUserId": otherUserID}
	data, err := c.doRequest(ctx, account, http.MethodPost, accountPath(account, "chat", "conversations", "private"), body, nil)
	if err != nil {
		return nil, err
	}
	conv, err := decodeJSON[chat.ConversationSummary](data)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// CreateGroupConversation creates a named group with the given members.
func (c *Client) CreateGroupConversation(ctx context.Context, account, name string, participants []string) (*chat.ConversationSummary, error) {
	body := map[string]any{"name": name, "participants": participants}
	data, err := c.doRequest(ctx, account, http.MethodPost, accountPath(account, "chat", "conversations", "group"), body, nil)
	if err != nil {
		return nil, err
	}
	conv, err := decodeJSON[chat.ConversationSummary](data)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// UnreadCounts returns the unread count of every conversation with unread messages.
func (c *Client) UnreadCounts(ctx context.Context, account string) (map[string]int, error) {
	data, err := c.doRequest(ctx, account, http.MethodGet, accountPath(account, "chat", "messages", "unread", "count", "byConversation"), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[map[string]int](data)
}

// MarkAsRead marks every message of the conversation as read for account.
func (c *Client) MarkAsRead(ctx context.Context, account, conversation string) error {
	_, err := c.doRequest(ctx, account, http.MethodPut, accountPath(account, "chat", "conversations", url.PathEscape(conversation), "read"), nil, nil)
	return err
}

// DeleteConversation deletes the conversation for account.
func (c *Client) DeleteConversation(ctx context.Context, account, conversation string) error {
	_, err := c.doRequest(ctx, account, http.MethodDelete, accountPath(account, "chat", "conversations", url.PathEscape(conversation)), nil, nil)
	return err
}
