//go:build !integration

package model

import (
	"fmt"
	"testing"
	"time"
)

func TestNewSessionState(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewSessionState("s-1", now)
	if s.SessionID != "s-1" {
		t.Errorf("expected session id s-1, got %q", s.SessionID)
	}
	if len(s.History) != 0 {
		t.Errorf("expected empty history, got %d turns", len(s.History))
	}
	if !s.CreatedAt.Equal(now) {
		t.Errorf("expected createdAt %v, got %v", now, s.CreatedAt)
	}
}

func TestWithExchange(t *testing.T) {
	t.Run("appends user then assistant without touching the original", func(t *testing.T) {
		s := NewSessionState("s-1", time.Now())
		next := s.WithExchange("q", "a", DefaultMaxHistory)

		if len(s.History) != 0 {
			t.Fatalf("original state mutated: %+v", s.History)
		}
		if len(next.History) != 2 {
			t.Fatalf("expected 2 turns, got %d", len(next.History))
		}
		if next.History[0] != (ConversationTurn{Role: RoleUser, Text: "q"}) {
			t.Errorf("unexpected first turn: %+v", next.History[0])
		}
		if next.History[1] != (ConversationTurn{Role: RoleAssistant, Text: "a"}) {
			t.Errorf("unexpected second turn: %+v", next.History[1])
		}
	})

	t.Run("history length is min(2N, 20) and keeps the newest turns in order", func(t *testing.T) {
		s := NewSessionState("s-1", time.Now())
		for n := 1; n <= 15; n++ {
			s = s.WithExchange(fmt.Sprintf("u-%d", n), fmt.Sprintf("a-%d", n), DefaultMaxHistory)
			want := 2 * n
			if want > DefaultMaxHistory {
				want = DefaultMaxHistory
			}
			if len(s.History) != want {
				t.Fatalf("after %d requests: want %d turns, got %d", n, want, len(s.History))
			}
		}
		// 15 exchanges -> the last 10 survive: u-6/a-6 ... u-15/a-15
		for i, turn := range s.History {
			n := 6 + i/2
			want := fmt.Sprintf("u-%d", n)
			role := RoleUser
			if i%2 == 1 {
				want = fmt.Sprintf("a-%d", n)
				role = RoleAssistant
			}
			if turn.Text != want || turn.Role != role {
				t.Fatalf("turn %d: want %s/%s, got %s/%s", i, role, want, turn.Role, turn.Text)
			}
		}
	})
}

func TestTruncateHistory(t *testing.T) {
	h := []ConversationTurn{{RoleUser, "1"}, {RoleAssistant, "2"}, {RoleUser, "3"}}
	if got := TruncateHistory(h, 5); len(got) != 3 {
		t.Errorf("short history should be kept, got %d", len(got))
	}
	got := TruncateHistory(h, 2)
	if len(got) != 2 || got[0].Text != "2" || got[1].Text != "3" {
		t.Errorf("unexpected truncation: %+v", got)
	}
}
