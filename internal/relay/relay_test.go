package relay

import (
	"testing"

	logx "catpanel/pkg/logx"
)

func TestFormatLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		line string
		want string
	}{
		{
			line: "MISSED 09:00 at 2025-03-14 09:31:00",
			want: "Missed feeding for 09:00 at 2025-03-14 09:31:00",
		},
		{
			line: "REMINDER 09:00 at 2025-03-14 10:01:00",
			want: "Reminder: still not fed for 09:00 at 2025-03-14 10:01:00",
		},
		{
			line: "FED 12:00 at 2025-03-14 12:05:00 (via panel)",
			want: "Fed confirmed: 12:00 at 2025-03-14 12:05:00 (via panel)",
		},
		{
			line: "UNSET 12:00 at 2025-03-14 12:06:00 (via panel)",
			want: "Feeding unmarked: 12:00 at 2025-03-14 12:06:00 (via panel)",
		},
		{line: "garbage", want: "garbage"},
		{line: "WEIRD thing happened", want: "WEIRD thing happened"},
	}
	for _, tt := range tests {
		if got := formatLine(tt.line); got != tt.want {
			t.Fatalf("formatLine(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}

func TestNewRejectsMissingTarget(t *testing.T) {
	if _, err := New(Config{Token: ""}, nil, nil, nil, logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
	if _, err := New(Config{Token: "x"}, nil, nil, nil, logx.Nop()); err == nil {
		t.Fatal("expected error for missing chat_id")
	}
}
