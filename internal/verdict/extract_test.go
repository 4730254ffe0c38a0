package verdict

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"gardenbot/internal/domain"
)

// escapeLiteral mimics how the chat application serializes an answer as a string literal.
func escapeLiteral(doc string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
	return r.Replace(doc)
}

func mustDecode(t *testing.T, doc string) domain.Verdict {
	t.Helper()
	var v domain.Verdict
	if err := json.Unmarshal([]byte(doc), &v); err != nil {
		t.Fatalf("fixture is not valid JSON: %v", err)
	}
	return v
}

func TestExtract_QuotedEscapedWithPreamble(t *testing.T) {
	raw := `Here you go: "{\"health\":8,\"note\":\"ok\"}"`
	got, err := Extract(raw)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := domain.Verdict{"health": float64(8), "note": "ok"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestExtract_RoundTrip(t *testing.T) {
	docs := []string{
		`{"health":8,"note":"ok"}`,
		`{"health": 3, "issues": ["yellow leaves", "dry soil"], "water": true}`,
		"{\n  \"health\": 6,\n  \"advice\": {\n    \"water_ml\": 250,\n    \"light\": \"indirect\"\n  }\n}",
		`{"note":"she said \"water me\""}`,
		`{"path":"C:\\plants\\basil","tips":"line one\nline two"}`,
		`{"empty":{},"list":[],"nil":null,"ratio":0.75}`,
		`{"unicode":"bazylia \u00e9t\u00e9 🌿"}`,
	}
	preambles := []string{"", "Here you go: ", "Sure! Based on the photo and readings:\n\n"}

	for _, doc := range docs {
		want := mustDecode(t, doc)
		for _, pre := range preambles {
			raw := pre + `"` + escapeLiteral(doc) + `"`
			got, err := Extract(raw)
			if err != nil {
				t.Fatalf("Extract(%q): %v", raw, err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("Extract(%q) = %v, want %v", raw, got, want)
			}
		}
	}
}

func TestExtract_CleanDocumentIsIdempotent(t *testing.T) {
	docs := []string{
		`{"health":8,"note":"ok"}`,
		`{"note":"she said \"water me\"","tips":"a\nb"}`,
		`{"path":"C:\\plants"}`,
	}
	for _, doc := range docs {
		clean, err := Extract(doc)
		if err != nil {
			t.Fatalf("Extract clean %q: %v", doc, err)
		}
		roundTripped, err := Extract(`"` + escapeLiteral(doc) + `"`)
		if err != nil {
			t.Fatalf("Extract escaped %q: %v", doc, err)
		}
		if !reflect.DeepEqual(clean, roundTripped) {
			t.Errorf("clean %v != escaped %v", clean, roundTripped)
		}
		if !reflect.DeepEqual(clean, mustDecode(t, doc)) {
			t.Errorf("clean parse of %q changed the document: %v", doc, clean)
		}
	}
}

func TestExtract_CapturedVariants(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want domain.Verdict
	}{
		{
			name: "bare object",
			raw:  `{"health":7}`,
			want: domain.Verdict{"health": float64(7)},
		},
		{
			name: "bare object after prose",
			raw:  "Analysis complete.\n{\"health\":7,\"note\":\"fine\"}",
			want: domain.Verdict{"health": float64(7), "note": "fine"},
		},
		{
			name: "trailing prose after object",
			raw:  `{"health":5} Let me know if you need more help!`,
			want: domain.Verdict{"health": float64(5)},
		},
		{
			name: "escaped without surrounding quotes",
			raw:  `{\"health\":4,\"note\":\"needs water\"}`,
			want: domain.Verdict{"health": float64(4), "note": "needs water"},
		},
		{
			name: "escaped newlines between fields",
			raw:  `"{\n  \"health\": 9,\n  \"note\": \"thriving\"\n}"`,
			want: domain.Verdict{"health": float64(9), "note": "thriving"},
		},
		{
			name: "trailing whitespace after closing quote",
			raw:  "Result: \"{\\\"health\\\":2}\"  \n",
			want: domain.Verdict{"health": float64(2)},
		},
		{
			name: "single-quoted clean payload",
			raw:  `Here: '{"health":6,"note":"it's \"ok\""}'`,
			want: domain.Verdict{"health": float64(6), "note": `it's "ok"`},
		},
		{
			name: "quoted escaped payload followed by prose",
			raw:  `He said "{\"health\":1}" and left`,
			want: domain.Verdict{"health": float64(1)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract(tt.raw)
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtract_Malformed(t *testing.T) {
	inputs := []string{
		"",
		"No response received.",
		"I could not analyze this image.",
		`{"health": 8,`,
		`"{\"health\":}"`,
		`{not json at all}`,
	}
	for _, raw := range inputs {
		_, err := Extract(raw)
		if err == nil {
			t.Errorf("Extract(%q): expected error", raw)
			continue
		}
		if !errors.Is(err, domain.ErrVerdictMalformed) {
			t.Errorf("Extract(%q): expected VerdictMalformed, got %v", raw, err)
		}
	}
}

func TestUnescape(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`plain`, `plain`},
		{`\"a\"`, `"a"`},
		{`a\nb`, `ab`},
		{`a\\b`, `a\b`},
		{`\\n`, `\n`},
		{`\\\"`, `\"`},
		{`trailing\`, `trailing\`},
		{`\t`, `\t`},
	}
	for _, tt := range tests {
		if got := Unescape(tt.in); got != tt.want {
			t.Errorf("Unescape(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
