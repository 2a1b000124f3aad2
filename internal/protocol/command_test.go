package protocol

import "testing"

func TestCommandString(t *testing.T) {
	cmd := Command{
		Area:       "task",
		Event:      "logissue",
		Properties: map[string]string{"type": "error", "sourcepath": "a;b]c"},
		Data:       "100% broken\nsecond line",
	}

	want := "##vso[task.logissue sourcepath=a%3Bb%5Dc;type=error]100%AZP25 broken%0Asecond line"
	if got := cmd.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantOK  bool
		checkFn func(t *testing.T, c Command)
	}{
		{
			name:   "complete with result",
			line:   "##vso[task.complete result=Failed;]done",
			wantOK: true,
			checkFn: func(t *testing.T, c Command) {
				if !c.Is("TASK", "Complete") {
					t.Errorf("unexpected area/event %s.%s", c.Area, c.Event)
				}
				if c.Properties["result"] != "Failed" || c.Data != "done" {
					t.Errorf("unexpected command %+v", c)
				}
			},
		},
		{
			name:   "escaped data round trip",
			line:   Command{Area: "task", Event: "logissue", Properties: map[string]string{"type": "warning"}, Data: "a%0Ab\r\nc"}.String(),
			wantOK: true,
			checkFn: func(t *testing.T, c Command) {
				if c.Data != "a%0Ab\r\nc" {
					t.Errorf("data = %q", c.Data)
				}
				if c.Properties["type"] != "warning" {
					t.Errorf("type = %q", c.Properties["type"])
				}
			},
		},
		{
			name:   "no properties",
			line:   "##vso[digest.verify]payload",
			wantOK: true,
			checkFn: func(t *testing.T, c Command) {
				if c.Area != "digest" || c.Event != "verify" || len(c.Properties) != 0 {
					t.Errorf("unexpected command %+v", c)
				}
			},
		},
		{name: "plain text", line: "hello", wantOK: false},
		{name: "missing event", line: "##vso[task]x", wantOK: false},
		{name: "unterminated", line: "##vso[task.complete result=Failed", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ok := ParseCommand(tt.line)
			if ok != tt.wantOK {
				t.Fatalf("ParseCommand(%q) ok = %v, want %v", tt.line, ok, tt.wantOK)
			}
			if ok && tt.checkFn != nil {
				tt.checkFn(t, c)
			}
		})
	}
}
