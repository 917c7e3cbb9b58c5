package provider

import (
	"context"

	"github.com/masgolf/golang_services/internal/campaign_service/domain"
)

// OutboundMessage is one rendered message for one address.
type OutboundMessage struct {
	To   string
	Text string
}

// SendRequest is a single campaign batch handed to a provider.
type SendRequest struct {
	// DispatchKey tags every message so an interrupted submission can be located later.
	DispatchKey string
	Kind        domain.MessageKind
	ImageID     string
	Messages    []OutboundMessage
}

// SendResult reports what the provider took. A provider may split one batch
// into several groups, so GroupIDs can hold more than one entry.
type SendResult struct {
	GroupIDs      []string
	AcceptedCount int
	Rejected      []domain.RejectedRecipient
}

// Provider is the outbound messaging gateway.
type Provider interface {
	// Send submits a batch. A non-nil error with a non-empty result means part
	// of the batch was accepted before the failure.
	Send(ctx context.Context, req SendRequest) (*SendResult, error)
	QueryStatus(ctx context.Context, groupID string) (*domain.GroupStatus, error)
	// FindGroups returns the groups already created for dispatchKey, if any.
	FindGroups(ctx context.Context, dispatchKey string) ([]string, error)
	GetName() string
}

// fragment is a run of messages that go out as one provider request.
type fragment struct {
	kind     domain.MessageKind
	messages []OutboundMessage
}

// splitByKind buckets messages by the class each one resolves to, keeping
// first-seen order of classes and of messages within a class.
func splitByKind(req SendRequest) []fragment {
	var out []fragment
	index := map[domain.MessageKind]int{}
	for _, m := range req.Messages {
		kind := domain.ResolveKind(req.Kind, m.Text)
		i, ok := index[kind]
		if !ok {
			i = len(out)
			index[kind] = i
			out = append(out, fragment{kind: kind})
		}
		out[i].messages = append(out[i].messages, m)
	}
	return out
}
