package llmjson

import "testing"

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestExtract_DirectJSON(t *testing.T) {
	var got payload
	if err := Extract(`{"name":"apt29","count":3}`, &got); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if got.Name != "apt29" || got.Count != 3 {
		t.Errorf("got %+v", got)
	}
}

func TestExtract_CodeBlock(t *testing.T) {
	raw := "Here is the result:\n```json\n{\"name\":\"lockbit\",\"count\":1}\n```\nDone."
	var got payload
	if err := Extract(raw, &got); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if got.Name != "lockbit" {
		t.Errorf("name = %q, want lockbit", got.Name)
	}
}

func TestExtract_CodeBlockWithoutLanguageTag(t *testing.T) {
	raw := "```\n{\"name\":\"x\",\"count\":2}\n```"
	var got payload
	if err := Extract(raw, &got); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if got.Count != 2 {
		t.Errorf("count = %d, want 2", got.Count)
	}
}

func TestExtract_EmbeddedObject(t *testing.T) {
	raw := `Sure! The extraction is {"name":"scattered spider","count":7} as requested.`
	var got payload
	if err := Extract(raw, &got); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if got.Name != "scattered spider" || got.Count != 7 {
		t.Errorf("got %+v", got)
	}
}

func TestExtract_BracesInsideStrings(t *testing.T) {
	raw := `prefix {"name":"weird {value} here","count":1} suffix`
	var got payload
	if err := Extract(raw, &got); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if got.Name != "weird {value} here" {
		t.Errorf("name = %q", got.Name)
	}
}

func TestExtract_NoJSON(t *testing.T) {
	var got payload
	if err := Extract("I could not produce any structured output.", &got); err == nil {
		t.Fatal("expected an error for a response with no JSON")
	}
}
