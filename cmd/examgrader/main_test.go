package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRootHasSubcommands(t *testing.T) {
	root := rootCmd()
	for _, name := range []string{"serve", "grade", "import", "attempts", "export"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not found: %v", name, err)
		}
	}
}

func TestViperEnvOverride(t *testing.T) {
	t.Setenv("EXAMGRADER_PARTIAL_CREDIT", "0.5")
	t.Setenv("EXAMGRADER_GRADE_SCALE", "50:2,0:1")

	v := viperForCmd(gradeCmd())
	if got := v.GetFloat64("partial-credit"); got != 0.5 {
		t.Errorf("partial-credit = %v, want 0.5", got)
	}
	if got := v.GetString("grade-scale"); got != "50:2,0:1" {
		t.Errorf("grade-scale = %q", got)
	}
	if got := v.GetString("db"); got != "examgrader.db" {
		t.Errorf("db default = %q", got)
	}
}

func TestNewGraderRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		env  string
		val  string
	}{
		{"scale", "EXAMGRADER_GRADE_SCALE", "90:10"},
		{"partial credit", "EXAMGRADER_PARTIAL_CREDIT", "1.5"},
		{"language", "EXAMGRADER_LANG", "not a tag!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.env, tt.val)
			t.Setenv("EXAMGRADER_DB", ":memory:")
			v := viperForCmd(gradeCmd())

			db, err := openStore(t.Context(), v)
			if err != nil {
				t.Fatalf("openStore: %v", err)
			}
			defer db.Close()
			if _, err := newGrader(v, db); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNewGraderRulesOnly(t *testing.T) {
	cmd := gradeCmd()
	_ = cmd.Flags().Set("db", ":memory:")
	_ = cmd.Flags().Set("llm-url", "")
	v := viperForCmd(cmd)
	db, err := openStore(t.Context(), v)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer db.Close()

	g, err := newGrader(v, db)
	if err != nil {
		t.Fatalf("newGrader: %v", err)
	}
	if g.llm != nil {
		t.Error("empty llm-url should disable the AI tier")
	}
}

func TestReadAnswers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "answers.json")
	if err := os.WriteFile(path, []byte(`[{"question_id": 1, "answer": "Paris"}, {"question_id": 2}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	answers, err := readAnswers(path)
	if err != nil {
		t.Fatalf("readAnswers: %v", err)
	}
	if len(answers) != 2 || answers[0].Answer != "Paris" || answers[1].QuestionID != 2 {
		t.Errorf("answers = %+v", answers)
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	_ = os.WriteFile(bad, []byte(`{`), 0o644)
	if _, err := readAnswers(bad); err == nil {
		t.Error("expected parse error")
	}
}
