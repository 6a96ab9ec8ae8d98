package llm

import (
	"testing"
)

func TestFindJSONCandidates(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "bare object",
			input: `{"a": 1}`,
			want:  []string{`{"a": 1}`},
		},
		{
			name:  "prose wrapped",
			input: "Sure, here you go:\n{\"a\": 1}\nHope that helps!",
			want:  []string{`{"a": 1}`},
		},
		{
			name:  "markdown fence",
			input: "```json\n{\"a\": 1}\n```",
			want:  []string{`{"a": 1}`},
		},
		{
			name:  "nested braces",
			input: `{"outer": {"inner": {"deep": true}}}`,
			want:  []string{`{"outer": {"inner": {"deep": true}}}`},
		},
		{
			name:  "braces inside strings",
			input: `{"text": "use { and } freely"}`,
			want:  []string{`{"text": "use { and } freely"}`},
		},
		{
			name:  "escaped quotes",
			input: `{"text": "she said \"hi\" {here}"}`,
			want:  []string{`{"text": "she said \"hi\" {here}"}`},
		},
		{
			name:  "multiple objects",
			input: `first {"a": 1} then {"b": 2}`,
			want:  []string{`{"a": 1}`, `{"b": 2}`},
		},
		{
			name:  "no object",
			input: "just some text",
			want:  nil,
		},
		{
			name:  "unbalanced",
			input: `{"a": 1`,
			want:  nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := findJSONCandidates(tc.input)
			if len(got) != len(tc.want) {
				t.Fatalf("got %d candidates %v, want %d", len(got), got, len(tc.want))
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("candidate %d: got %q, want %q", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestDecodeFirstJSONSkipsUnparseable(t *testing.T) {
	var out struct {
		Operation string `json:"operation"`
	}
	input := `{"broken": } and then {"operation": "get_schedule"}`
	if err := DecodeFirstJSON(input, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Operation != "get_schedule" {
		t.Fatalf("got %q", out.Operation)
	}
}

func TestDecodeFirstJSONNoCandidates(t *testing.T) {
	var out map[string]interface{}
	if err := DecodeFirstJSON("nothing here", &out); err == nil {
		t.Fatal("expected error when no object present")
	}
}
