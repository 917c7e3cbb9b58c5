package main

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masgolf/golang_services/internal/campaign_service/domain"
)

func TestRootCommandTree(t *testing.T) {
	want := []string{
		"create-draft", "edit", "attach-media", "split", "delete", "lint",
		"schedule", "unschedule", "send-now", "resync-status", "follow-up",
		"show", "list", "migrate",
	}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestArgValidation(t *testing.T) {
	assert.Error(t, scheduleCmd.Args(scheduleCmd, []string{"only-one"}))
	assert.Error(t, sendNowCmd.Args(sendNowCmd, nil))
	assert.NoError(t, sendNowCmd.Args(sendNowCmd, []string{"a", "b"}))
}

func TestParseID(t *testing.T) {
	id := uuid.New()
	got, err := parseID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = parseID("42")
	assert.ErrorContains(t, err, `invalid campaign id "42"`)
}

func TestBuildFilter(t *testing.T) {
	t.Cleanup(func() { listFlags.status, listFlags.parent = "", "" })

	parent := uuid.New()
	listFlags.status = "sent"
	listFlags.parent = parent.String()
	listFlags.limit = 10
	f, err := buildFilter()
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, f.Status)
	assert.Equal(t, uuid.NullUUID{UUID: parent, Valid: true}, f.ParentID)
	assert.Equal(t, 10, f.Limit)

	listFlags.status = "archived"
	_, err = buildFilter()
	assert.ErrorContains(t, err, "unknown status")
}

func TestNonEmpty(t *testing.T) {
	assert.Nil(t, nonEmpty([]string{""}))
	assert.Equal(t, []string{"a"}, nonEmpty([]string{"", "a"}))
}
