package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masgolf/golang_services/internal/campaign_service/domain"
)

func TestDryRunProvider_SendAndRecover(t *testing.T) {
	p := NewDryRunProvider(slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.FragmentSize = 2
	p.RejectNumbers["01099990000"] = "blocked"

	res, err := p.Send(context.Background(), SendRequest{
		DispatchKey: "k1",
		Kind:        domain.KindLMS,
		Messages: []OutboundMessage{
			{To: "01011110000", Text: "a"},
			{To: "01099990000", Text: "b"},
			{To: "01022220000", Text: "c"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"DRY-RUN-GROUP-k1-1", "DRY-RUN-GROUP-k1-2"}, res.GroupIDs)
	assert.Equal(t, 2, res.AcceptedCount)
	require.Len(t, res.Rejected, 1)

	groups, err := p.FindGroups(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, res.GroupIDs, groups)

	st, err := p.QueryStatus(context.Background(), "DRY-RUN-GROUP-k1-1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.Success)
	assert.Equal(t, 1, st.Fail)
	assert.True(t, st.Final)

	_, err = p.QueryStatus(context.Background(), "unknown")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDryRunProvider_FailSend(t *testing.T) {
	p := NewDryRunProvider(slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.FailSend = errors.New("quota exceeded")

	res, err := p.Send(context.Background(), SendRequest{DispatchKey: "k2", Kind: domain.KindSMS,
		Messages: []OutboundMessage{{To: "01011110000", Text: "a"}}})
	assert.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, 0, p.SendCount())

	groups, _ := p.FindGroups(context.Background(), "k2")
	assert.Empty(t, groups)
}
