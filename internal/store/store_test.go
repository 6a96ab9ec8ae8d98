package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"timeclerk/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "directory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestResolveUserRoundTrip(t *testing.T) {
	s := openTestStore(t)

	u := types.User{
		TenantID:    "acme",
		UserID:      "u42",
		Address:     "+15550001111",
		Credentials: "tok-abc",
		Timezone:    "Europe/Berlin",
	}
	require.NoError(t, s.UpsertUser(u, types.ChannelSMS))

	got, err := s.ResolveUser(types.ChannelSMS, "+15550001111")
	require.NoError(t, err)
	require.Equal(t, u, got)
}

func TestResolveUserUnknownSender(t *testing.T) {
	s := openTestStore(t)
	_, err := s.ResolveUser(types.ChannelSMS, "+19990000000")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUserNotFound))
}

// The same address can exist on different channels and map to
// different users.
func TestResolveUserPerChannel(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.UpsertUser(types.User{TenantID: "acme", UserID: "u1", Address: "42"}, types.ChannelSlack))
	require.NoError(t, s.UpsertUser(types.User{TenantID: "beta", UserID: "u9", Address: "42"}, types.ChannelTelegram))

	a, err := s.ResolveUser(types.ChannelSlack, "42")
	require.NoError(t, err)
	b, err := s.ResolveUser(types.ChannelTelegram, "42")
	require.NoError(t, err)
	require.Equal(t, "acme", a.TenantID)
	require.Equal(t, "beta", b.TenantID)
}

func TestUpsertUserReplaces(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.UpsertUser(types.User{TenantID: "acme", UserID: "u1", Address: "a@x.test"}, types.ChannelEmail))
	require.NoError(t, s.UpsertUser(types.User{TenantID: "acme", UserID: "u1", Address: "a@x.test", Credentials: "fresh"}, types.ChannelEmail))

	got, err := s.ResolveUser(types.ChannelEmail, "a@x.test")
	require.NoError(t, err)
	require.Equal(t, "fresh", got.Credentials)
}

func TestRecentTurnsPairsAndWindows(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 15; i++ {
		require.NoError(t, s.AppendTurn(types.TurnRecord{
			TenantID: "acme", UserID: "u42", Channel: types.ChannelSMS,
			Direction: types.DirectionInbound,
			Content:   fmt.Sprintf("question %d", i),
			Timestamp: base.Add(time.Duration(2*i) * time.Minute),
		}))
		require.NoError(t, s.AppendTurn(types.TurnRecord{
			TenantID: "acme", UserID: "u42", Channel: types.ChannelSMS,
			Direction: types.DirectionOutbound,
			Content:   fmt.Sprintf("answer %d", i),
			Timestamp: base.Add(time.Duration(2*i+1) * time.Minute),
		}))
	}

	turns, err := s.RecentTurns("acme", "u42", types.HistoryWindow)
	require.NoError(t, err)
	require.Len(t, turns, types.HistoryWindow)

	// Oldest first, and each inbound is paired with its answer.
	require.Equal(t, "question 5", turns[0].UserText)
	require.Equal(t, "answer 5", turns[0].ResponseText)
	require.Equal(t, "question 14", turns[len(turns)-1].UserText)
	require.Equal(t, "answer 14", turns[len(turns)-1].ResponseText)
}

func TestRecentTurnsUnansweredInbound(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.AppendTurn(types.TurnRecord{
		TenantID: "acme", UserID: "u42", Channel: types.ChannelSMS,
		Direction: types.DirectionInbound, Content: "anyone there?",
	}))

	turns, err := s.RecentTurns("acme", "u42", 5)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	require.Equal(t, "anyone there?", turns[0].UserText)
	require.Empty(t, turns[0].ResponseText)
}

// Identical user ids under different tenants must never see each
// other's history.
func TestRecentTurnsTenantIsolation(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.AppendTurn(types.TurnRecord{
		TenantID: "acme", UserID: "u42", Channel: types.ChannelSMS,
		Direction: types.DirectionInbound, Content: "acme question",
	}))
	require.NoError(t, s.AppendTurn(types.TurnRecord{
		TenantID: "globex", UserID: "u42", Channel: types.ChannelSMS,
		Direction: types.DirectionInbound, Content: "globex question",
	}))

	turns, err := s.RecentTurns("acme", "u42", 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	require.Equal(t, "acme question", turns[0].UserText)
}

func TestClaimDeliveryIdempotent(t *testing.T) {
	s := openTestStore(t)

	first, err := s.ClaimDelivery("req-1", types.ChannelSMS, "+15550001111")
	require.NoError(t, err)
	require.True(t, first)

	second, err := s.ClaimDelivery("req-1", types.ChannelSMS, "+15550001111")
	require.NoError(t, err)
	require.False(t, second, "a request id can only be claimed once")

	other, err := s.ClaimDelivery("req-2", types.ChannelSMS, "+15550001111")
	require.NoError(t, err)
	require.True(t, other)
}

func TestReleaseDeliveryReopensClaim(t *testing.T) {
	s := openTestStore(t)

	claimed, err := s.ClaimDelivery("req-1", types.ChannelSMS, "+15550001111")
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, s.ReleaseDelivery("req-1"))

	again, err := s.ClaimDelivery("req-1", types.ChannelSMS, "+15550001111")
	require.NoError(t, err)
	require.True(t, again, "a released claim can be taken again")

	require.NoError(t, s.MarkDelivered("req-1", types.DeliveryReceipt{ExternalMessageID: "SM1", Status: "sent"}))
	require.NoError(t, s.ReleaseDelivery("req-1"))

	_, ok, err := s.Delivery("req-1")
	require.NoError(t, err)
	require.True(t, ok, "a completed delivery is never released")
}

func TestDeliveryReceiptRoundTrip(t *testing.T) {
	s := openTestStore(t)

	_, err := s.ClaimDelivery("req-1", types.ChannelSMS, "+15550001111")
	require.NoError(t, err)

	want := types.DeliveryReceipt{ExternalMessageID: "SM123", Status: "sent"}
	require.NoError(t, s.MarkDelivered("req-1", want))

	got, ok, err := s.Delivery("req-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want, got)

	_, ok, err = s.Delivery("req-404")
	require.NoError(t, err)
	require.False(t, ok)
}
