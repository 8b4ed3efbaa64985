package audit

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestLoggerFormat(t *testing.T) {
	logger := NewLogger(&bytes.Buffer{})
	logger.hostname = "gw1"
	logger.pid = 42

	event := AuthenticateEvent{
		UserID:   "alice",
		ClientIP: "192.168.1.1",
		Method:   "api-key",
		Success:  true,
	}

	got := logger.Format(event, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	want := `<86>1 2026-03-01T12:00:00.000Z gw1 scitex 42 authn ` +
		`[action@32473 operation="authenticate" result="success"]` +
		`[auth@32473 method="api-key" user="alice"]` +
		`[client@32473 ip="192.168.1.1"] ` +
		"alice successfully authenticated with api-key\n"
	if got != want {
		t.Errorf("Format() =\n%q\nwant\n%q", got, want)
	}
}

func TestLoggerLogWritesAndDisables(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf)

	logger.Log(JobEvent{UserID: "u1", JobID: "j1", Backend: "slurm", Operation: "submit", Success: true})
	if !strings.Contains(buf.String(), "u1 submitted job j1 on slurm") {
		t.Errorf("expected job message in output, got %q", buf.String())
	}

	buf.Reset()
	logger.SetEnabled(false)
	logger.Log(JobEvent{UserID: "u1", JobID: "j2", Operation: "cancel", Success: true})
	if buf.Len() != 0 {
		t.Errorf("expected no output when disabled, got %q", buf.String())
	}

	var nilLogger *Logger
	nilLogger.Log(JobEvent{})
}

func TestEvents(t *testing.T) {
	tests := []struct {
		name      string
		event     Event
		wantMsg   string
		wantSev   Severity
		wantFac   int
		wantMsgID string
	}{
		{
			name:      "failed authentication",
			event:     AuthenticateEvent{ClientIP: "10.0.0.1", Method: "token", ErrorMessage: "token expired"},
			wantMsg:   "unknown user failed to authenticate with token: token expired",
			wantSev:   SeverityWarning,
			wantFac:   FacilityAuthPriv,
			wantMsgID: "authn",
		},
		{
			name:      "job cancelled",
			event:     JobEvent{UserID: "u1", JobID: "j1", Backend: "task", Operation: "cancel", Success: true},
			wantMsg:   "u1 cancelled job j1 on task",
			wantSev:   SeverityInfo,
			wantFac:   FacilityUser,
			wantMsgID: "job",
		},
		{
			name:      "job submit refused",
			event:     JobEvent{UserID: "u1", Operation: "submit", ErrorMessage: "job quota exceeded"},
			wantMsg:   "u1 tried to submit a job: job quota exceeded",
			wantSev:   SeverityWarning,
			wantFac:   FacilityUser,
			wantMsgID: "job",
		},
		{
			name:      "task enqueued",
			event:     TaskEvent{UserID: "u1", Task: "writer.ai_suggest", TaskID: "t1", Queue: "ai", Success: true},
			wantMsg:   "u1 enqueued task writer.ai_suggest (t1) on queue ai",
			wantSev:   SeverityInfo,
			wantFac:   FacilityUser,
			wantMsgID: "task",
		},
		{
			name:      "project deleted",
			event:     ProjectEvent{UserID: "u1", ProjectID: "p1", Slug: "thesis", Operation: "delete", Success: true},
			wantMsg:   "u1 deleted project thesis",
			wantSev:   SeverityInfo,
			wantFac:   FacilityUser,
			wantMsgID: "project",
		},
		{
			name:      "api key created",
			event:     APIKeyEvent{UserID: "u1", KeyPrefix: "stx_ab12", KeyName: "laptop"},
			wantMsg:   "u1 created API key laptop (stx_ab12)",
			wantSev:   SeverityNotice,
			wantFac:   FacilityAuthPriv,
			wantMsgID: "api-key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.event.Message(); got != tt.wantMsg {
				t.Errorf("Message() = %q, want %q", got, tt.wantMsg)
			}
			if got := tt.event.Severity(); got != tt.wantSev {
				t.Errorf("Severity() = %v, want %v", got, tt.wantSev)
			}
			if got := tt.event.Facility(); got != tt.wantFac {
				t.Errorf("Facility() = %v, want %v", got, tt.wantFac)
			}
			if got := tt.event.MessageID(); got != tt.wantMsgID {
				t.Errorf("MessageID() = %q, want %q", got, tt.wantMsgID)
			}
		})
	}
}

func TestEscapeSDValue(t *testing.T) {
	tests := map[string]string{
		`plain`:        `"plain"`,
		`with "quote"`: `"with \"quote\""`,
		`back\slash`:   `"back\\slash"`,
		`close]`:       `"close\]"`,
	}
	for in, want := range tests {
		if got := escapeSDValue(in); got != want {
			t.Errorf("escapeSDValue(%q) = %q, want %q", in, got, want)
		}
	}
}
