// Package assistant streams replies from the care assistant.
package assistant

import (
	"context"
	"encoding/json"
	"iter"
	"time"

	"github.com/google/uuid"

	"github.com/petal-labs/carelink/core"
)

// Endpoint is the assistant stream endpoint. It is not under the API root.
const Endpoint = "/invoke"

// FallbackReply is emitted for a line that carries no response items.
const FallbackReply = "Sorry, I can't help with that right now."

// Message is one assistant reply.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	FromAI    bool      `json:"from_ai"`
}

// Request is the body sent to the assistant.
type Request struct {
	Input        Input  `json:"input"`
	ThreadID     string `json:"thread_id"`
	ClientTurnID string `json:"client_turn_id"`
}

// Input carries the user's message.
type Input struct {
	Message string `json:"message"`
}

type reply struct {
	Response []item `json:"response"`
}

type item struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Service talks to the assistant through a core.Client.
type Service struct {
	client *core.Client
	now    func() time.Time
	newID  func() string
}

// New creates a Service.
func New(client *core.Client) *Service {
	return &Service{
		client: client,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// NewThreadID returns a fresh conversation identifier.
func NewThreadID() string {
	return uuid.NewString()
}

// Ask sends prompt on threadID and streams the replies. An empty threadID
// starts a new thread. Each call carries a new client turn ID.
func (s *Service) Ask(ctx context.Context, prompt, threadID string) (iter.Seq[core.Result[Message]], error) {
	if threadID == "" {
		threadID = NewThreadID()
	}
	return core.Stream(ctx, s.client, core.StreamRequest{
		Method:   core.MethodPost,
		Auth:     core.AuthAccess,
		Endpoint: Endpoint,
		Body: Request{
			Input:        Input{Message: prompt},
			ThreadID:     threadID,
			ClientTurnID: s.newID(),
		},
	}, s.decode)
}

// decode turns one stream payload into a Message. Only the first response
// item is considered; an empty text yields nothing.
func (s *Service) decode(payload string) (Message, bool, error) {
	var r reply
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return Message{}, false, err
	}
	if len(r.Response) == 0 {
		return s.message(FallbackReply), true, nil
	}
	if r.Response[0].Text == "" {
		return Message{}, false, nil
	}
	return s.message(r.Response[0].Text), true, nil
}

func (s *Service) message(text string) Message {
	return Message{
		ID:        s.newID(),
		Text:      text,
		CreatedAt: s.now(),
		FromAI:    true,
	}
}
