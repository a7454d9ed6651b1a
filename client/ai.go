package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/H4MSA/solivrah/internal/ai"
)

var _ ai.Backend = (*Client)(nil)

var endpoints = map[ai.Operation]string{
	ai.OpAffirmation:  "/assistant",
	ai.OpCoaching:     "/assistant",
	ai.OpChatbot:      "/chatbot",
	ai.OpRoadmap:      "/roadmap",
	ai.OpMood:         "/mood-journal",
	ai.OpVerification: "/verify-photo",
}

// Call runs one attempt of op against the server so an ai.Client on the
// device keeps its own retries and fallbacks. Rejected requests are
// reported as permanent.
func (c *Client) Call(ctx context.Context, op ai.Operation, payload any, out any) error {
	path, ok := endpoints[op]
	if !ok {
		return ai.Permanent(fmt.Errorf("unknown operation %q", op))
	}
	var err error
	if op == ai.OpVerification {
		err = c.verify(ctx, payload, out)
	} else {
		err = c.postOperation(ctx, op, path, payload, out)
	}
	var se *StatusError
	if errors.As(err, &se) && !se.Retryable() {
		return ai.Permanent(err)
	}
	return err
}

// postOperation sends payload as JSON; /assistant also needs the
// operation name in a "type" field.
func (c *Client) postOperation(ctx context.Context, op ai.Operation, path string, payload, out any) error {
	body := payload
	if path == "/assistant" {
		raw, err := json.Marshal(payload)
		if err != nil {
			return ai.Permanent(err)
		}
		fields := map[string]any{}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return ai.Permanent(err)
		}
		fields["type"] = string(op)
		body = fields
	}
	return c.doJSON(ctx, string(op), http.MethodPost, path, body, out)
}

func (c *Client) verify(ctx context.Context, payload, out any) error {
	req, ok := payload.(ai.VerifyRequest)
	if !ok {
		return ai.Permanent(fmt.Errorf("verification: unexpected payload %T", payload))
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range map[string]string{
		"imageUrl":         req.ImageURL,
		"questId":          req.QuestID,
		"questTitle":       req.QuestTitle,
		"questDescription": req.QuestDescription,
	} {
		if err := mw.WriteField(k, v); err != nil {
			return ai.Permanent(err)
		}
	}
	if err := mw.Close(); err != nil {
		return ai.Permanent(err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/verify-photo", &buf)
	if err != nil {
		return ai.Permanent(err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	return c.send("verification", httpReq, out)
}
