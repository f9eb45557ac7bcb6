package detect

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	testCases := []struct {
		name      string
		event     RawEvent
		wantErr   bool
		wantField string
	}{
		{
			name:  "valid chat message",
			event: RawEvent{UserID: "u1", Text: "hello there", Source: SourceChat},
		},
		{
			name:  "valid mood note",
			event: RawEvent{UserID: "u2", Text: "feeling okay today", Source: SourceMood},
		},
		{
			name:  "valid forum post with locale",
			event: RawEvent{UserID: "u3", Text: "anyone else struggling?", Source: SourceForum, Locale: "en-GB"},
		},
		{
			name:      "empty user id",
			event:     RawEvent{UserID: "", Text: "hello", Source: SourceChat},
			wantErr:   true,
			wantField: "user_id",
		},
		{
			name:      "whitespace user id",
			event:     RawEvent{UserID: "   ", Text: "hello", Source: SourceChat},
			wantErr:   true,
			wantField: "user_id",
		},
		{
			name:      "empty text",
			event:     RawEvent{UserID: "u1", Text: "", Source: SourceChat},
			wantErr:   true,
			wantField: "text",
		},
		{
			name:      "whitespace-only text",
			event:     RawEvent{UserID: "u1", Text: " \n\t ", Source: SourceChat},
			wantErr:   true,
			wantField: "text",
		},
		{
			name:      "unknown source",
			event:     RawEvent{UserID: "u1", Text: "hello", Source: "email"},
			wantErr:   true,
			wantField: "source",
		},
		{
			name:      "oversized text",
			event:     RawEvent{UserID: "u1", Text: strings.Repeat("a", MaxTextLen+1), Source: SourceChat},
			wantErr:   true,
			wantField: "text",
		},
	}

	n := NewNormalizer()
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sig, err := n.Normalize(tc.event)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected validation error, got signal %+v", sig)
				}
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("expected *ValidationError, got %T: %v", err, err)
				}
				if verr.Field != tc.wantField {
					t.Errorf("expected rejected field %q, got %q", tc.wantField, verr.Field)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if sig.ID.String() == "00000000-0000-0000-0000-000000000000" {
				t.Error("signal should get a non-zero id")
			}
			if sig.ReceivedAt.IsZero() {
				t.Error("signal should be timestamped at ingestion")
			}
		})
	}
}

func TestNormalizeTimestampsAtIngestion(t *testing.T) {
	n := NewNormalizer()
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return fixed }

	origin := fixed.Add(-3 * time.Hour)
	sig, err := n.Normalize(RawEvent{UserID: "u1", Text: "hi", Source: SourceChat, OccurredAt: origin})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sig.ReceivedAt.Equal(fixed) {
		t.Errorf("ReceivedAt should come from ingestion clock, got %v", sig.ReceivedAt)
	}
}

func TestNormalizeTrimsText(t *testing.T) {
	n := NewNormalizer()
	sig, err := n.Normalize(RawEvent{UserID: "u1", Text: "  some text  \n", Source: SourceMood})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig.Text != "some text" {
		t.Errorf("expected trimmed text, got %q", sig.Text)
	}
}
