package protocol

import (
	"strings"
	"testing"
	"time"
)

func TestEncoder_EncodeResult_Message(t *testing.T) {
	encoder := NewEncoder()

	output := encoder.EncodeResult(&CallResult{
		Name:    "suggest_plot_twist",
		Status:  StatusSuccess,
		Message: "Plot Twist Suggestions\n1. ...\n",
	})

	if output != "Plot Twist Suggestions\n1. ..." {
		t.Errorf("EncodeResult() = %q", output)
	}
}

func TestEncoder_EncodeResult_Error(t *testing.T) {
	encoder := NewEncoder()

	output := encoder.EncodeResult(&CallResult{
		Name:   "schedule_task",
		Status: StatusError,
		Error:  "permission denied",
	})

	if output != "Error from schedule_task: permission denied" {
		t.Errorf("EncodeResult() = %q", output)
	}
}

func TestEncoder_EncodeResult_WithStructData(t *testing.T) {
	encoder := NewEncoder()

	type Task struct {
		ID     string `json:"id"`
		Kind   string `json:"kind"`
		Detail string `json:"detail"`
	}

	output := encoder.EncodeResult(&CallResult{
		Name:    "get_scheduled_tasks",
		Status:  StatusSuccess,
		Message: "Found 2 tasks",
		Data: []Task{
			{ID: "a", Kind: "delay", Detail: "write 500 words"},
			{ID: "b", Kind: "cron", Detail: "journal, daily"},
		},
	})

	if !strings.HasPrefix(output, "Found 2 tasks\n\ndata:\n") {
		t.Errorf("Output should start with message and data header, got %q", output)
	}
	if !strings.Contains(output, "items[2]{id,kind,detail}") {
		t.Error("Output should contain TOON header")
	}
	if !strings.Contains(output, `"journal, daily"`) {
		t.Error("values with commas should be quoted")
	}
}

func TestEncoder_EncodeResult_MarkdownFallback(t *testing.T) {
	encoder := NewEncoder()

	output := encoder.EncodeResult(&CallResult{
		Name:     "generate_report",
		Status:   StatusSuccess,
		Markdown: "## Report\n- Item 1\n",
	})
	if output != "## Report\n- Item 1" {
		t.Errorf("EncodeResult() = %q", output)
	}

	output = encoder.EncodeResult(&CallResult{Name: "noop", Status: StatusSuccess})
	if output != "noop completed with no output" {
		t.Errorf("EncodeResult(empty) = %q", output)
	}
}

func TestEncoder_EncodeResult_PendingSkipsData(t *testing.T) {
	encoder := NewEncoder()

	output := encoder.EncodeResult(&CallResult{
		Name:    "cancel_scheduled_task",
		Status:  StatusPending,
		Message: "waiting for confirmation",
		Data:    map[string]any{"task_id": "a"},
	})
	if output != "waiting for confirmation" {
		t.Errorf("EncodeResult() = %q", output)
	}
}

func TestEncoder_EncodeToTOON_Map(t *testing.T) {
	encoder := NewEncoder()

	output, err := encoder.encodeToTOON(map[string]any{
		"type":  "delayed",
		"id":    "t1",
		"when":  "30",
		"count": 42,
	})
	if err != nil {
		t.Fatalf("encodeToTOON() error = %v", err)
	}

	want := "count: 42\nid: t1\ntype: delayed\nwhen: 30"
	if output != want {
		t.Errorf("encodeToTOON() = %q, want %q", output, want)
	}
}

func TestEncoder_EncodeToTOON_Struct(t *testing.T) {
	encoder := NewEncoder()

	type Profile struct {
		Name string `json:"name"`
		Age  int    `json:"age"`
		note string
	}

	output, err := encoder.encodeToTOON(&Profile{Name: "Mara", Age: 42, note: "hidden"})
	if err != nil {
		t.Fatalf("encodeToTOON() error = %v", err)
	}
	if output != "name: Mara\nage: 42" {
		t.Errorf("encodeToTOON() = %q", output)
	}
}

func TestEncoder_EncodeToTOON_SkipsAndTimes(t *testing.T) {
	encoder := NewEncoder()

	type Run struct {
		ID       string    `json:"id"`
		Secret   string    `json:"-"`
		Started  time.Time `json:"started_at"`
		Finished *time.Time
	}

	started := time.Date(2030, 5, 1, 9, 0, 0, 0, time.UTC)
	output, err := encoder.encodeToTOON([]*Run{
		{ID: "r1", Secret: "x", Started: started},
		nil,
	})
	if err != nil {
		t.Fatalf("encodeToTOON() error = %v", err)
	}

	want := "items[2]{id,started_at,finished}:\n  r1,2030-05-01T09:00:00Z,\n  ,,"
	if output != want {
		t.Errorf("encodeToTOON() = %q, want %q", output, want)
	}
}

func TestEncoder_EncodeToTOON_ScalarSlice(t *testing.T) {
	encoder := NewEncoder()

	output, err := encoder.encodeToTOON([]string{"outline", "draft, v2"})
	if err != nil {
		t.Fatalf("encodeToTOON() error = %v", err)
	}
	if output != `items[2]: outline,"draft, v2"` {
		t.Errorf("encodeToTOON() = %q", output)
	}
}
