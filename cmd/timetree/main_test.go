package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/viper"
)

func TestParseProps(t *testing.T) {
	got, err := parseProps([]string{"created=1440416586000", "subject=hello world", `quoted="42"`, "flag=true", "gone="})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"created": json.Number("1440416586000"),
		"subject": "hello world",
		"quoted":  "42",
		"flag":    true,
		"gone":    nil,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("props (-want +got):\n%s", diff)
	}

	if _, err := parseProps([]string{"novalue"}); err == nil {
		t.Error("pair without = accepted")
	}
	if _, err := parseProps([]string{"=x"}); err == nil {
		t.Error("empty key accepted")
	}
}

func TestWriteYAML(t *testing.T) {
	var buf bytes.Buffer
	v := []eventOut{{Node: nodeOut{ID: 7, Label: "Email", Properties: map[string]any{"created": int64(1)}}, RelationshipType: "Created", Direction: "INCOMING"}}
	if err := write(&buf, "yaml", v); err != nil {
		t.Fatal(err)
	}
	for _, s := range []string{"id: 7", "label: Email", "relationshipType: Created", "direction: INCOMING"} {
		if !strings.Contains(buf.String(), s) {
			t.Errorf("yaml output lacks %q:\n%s", s, buf.String())
		}
	}
	if err := write(&buf, "toml", v); err == nil {
		t.Error("unknown format accepted")
	}
}

// run executes the CLI against a sqlite file and decodes its JSON output.
func run(t *testing.T, out any, args ...string) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("timetree %s: %v", strings.Join(args, " "), err)
	}
	if out != nil {
		if err := json.Unmarshal(buf.Bytes(), out); err != nil {
			t.Fatalf("decode %q: %v", buf.String(), err)
		}
	}
}

func TestCLI(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("TIMETREE_DATABASE_DRIVER", "sqlite")
	t.Setenv("TIMETREE_DATABASE_PATH", filepath.Join(t.TempDir(), "tree.db"))
	t.Setenv("TIMETREE_LOG_LEVEL", "error")

	var leaf nodeOut
	run(t, &leaf, "instant", "1440416586000", "--timezone", "GMT+11", "--resolution", "Hour")
	if leaf.Label != "Hour" || leaf.Value == nil || *leaf.Value != 22 {
		t.Fatalf("leaf = %+v", leaf)
	}

	var email nodeOut
	run(t, &email, "node", "create", "Email", "subject=hi")
	if email.ID == 0 || email.Properties["uid"] == nil {
		t.Fatalf("email = %+v", email)
	}

	id := strconv.FormatInt(int64(email.ID), 10)
	run(t, nil, "attach", id, "1440416586000", "--type", "Created", "--timezone", "UTC", "--resolution", "Second")

	var events []eventOut
	run(t, &events, "events", "1440416586000", "1440416586000", "--timezone", "UTC", "--resolution", "Day")
	if len(events) != 1 || events[0].Node.ID != email.ID || events[0].RelationshipType != "Created" {
		t.Errorf("events = %+v", events)
	}
}
