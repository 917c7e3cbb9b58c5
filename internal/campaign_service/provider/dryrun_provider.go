package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/masgolf/golang_services/internal/campaign_service/domain"
)

// DryRunProvider accepts batches without contacting anyone. It keeps what it
// was sent in memory so rehearsals and tests can inspect and re-query it.
type DryRunProvider struct {
	logger *slog.Logger

	// RejectNumbers are refused per recipient, as a real provider would for a blocked number.
	RejectNumbers map[string]string
	// FailSend makes every Send return an error before any group is created.
	FailSend error
	// FragmentSize > 0 splits batches into groups of at most that many messages.
	FragmentSize   int
	SimulatedDelay time.Duration

	mu     sync.Mutex
	groups map[string][]string // dispatch key -> group ids
	status map[string]domain.GroupStatus
	sends  int
}

func NewDryRunProvider(logger *slog.Logger) *DryRunProvider {
	return &DryRunProvider{
		logger:        logger.With("provider", "dry-run"),
		RejectNumbers: map[string]string{},
		groups:        map[string][]string{},
		status:        map[string]domain.GroupStatus{},
	}
}

func (p *DryRunProvider) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	timer := prometheus.NewTimer(ProviderRequestDurationHist.WithLabelValues(p.GetName(), "send"))
	defer timer.ObserveDuration()

	if p.SimulatedDelay > 0 {
		select {
		case <-time.After(p.SimulatedDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.FailSend != nil {
		p.logger.WarnContext(ctx, "Dry-run provider simulated send failure", "dispatch_key", req.DispatchKey)
		return nil, p.FailSend
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.sends++

	var chunks [][]OutboundMessage
	for _, frag := range splitByKind(req) {
		size := p.FragmentSize
		if size <= 0 {
			size = len(frag.messages)
		}
		for i := 0; i < len(frag.messages); i += size {
			end := i + size
			if end > len(frag.messages) {
				end = len(frag.messages)
			}
			chunks = append(chunks, frag.messages[i:end])
		}
	}

	result := &SendResult{}
	for _, chunk := range chunks {
		groupID := fmt.Sprintf("DRY-RUN-GROUP-%s-%d", req.DispatchKey, len(p.groups[req.DispatchKey])+1)
		accepted := 0
		for _, m := range chunk {
			if reason, blocked := p.RejectNumbers[m.To]; blocked {
				result.Rejected = append(result.Rejected, domain.RejectedRecipient{Phone: m.To, Code: "REJECTED", Reason: reason})
				continue
			}
			accepted++
		}
		p.groups[req.DispatchKey] = append(p.groups[req.DispatchKey], groupID)
		p.status[groupID] = domain.GroupStatus{GroupID: groupID, Success: accepted, Fail: len(chunk) - accepted, Final: true}
		result.GroupIDs = append(result.GroupIDs, groupID)
		result.AcceptedCount += accepted
	}

	p.logger.InfoContext(ctx, "Dry-run batch accepted",
		"dispatch_key", req.DispatchKey, "group_ids", result.GroupIDs, "accepted", result.AcceptedCount)
	return result, nil
}

func (p *DryRunProvider) QueryStatus(_ context.Context, groupID string) (*domain.GroupStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.status[groupID]
	if !ok {
		return nil, fmt.Errorf("dry-run group %s: %w", groupID, domain.ErrNotFound)
	}
	return &st, nil
}

func (p *DryRunProvider) FindGroups(_ context.Context, dispatchKey string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.groups[dispatchKey]...), nil
}

// SendCount is how many Send calls were accepted.
func (p *DryRunProvider) SendCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sends
}

func (p *DryRunProvider) GetName() string {
	return "dry-run"
}
