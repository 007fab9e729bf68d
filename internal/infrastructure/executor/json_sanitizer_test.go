package executor

import "testing"

func TestSanitizeJSONParam_RejectsShellMetacharacters(t *testing.T) {
	_, err := sanitizeJSONParam("jsonSchema", map[string]interface{}{"cmd": "$(rm -rf /)"})
	if err == nil {
		t.Fatal("expected rejection for shell metacharacters")
	}
}

func TestSanitizeJSONParam_RejectsDeepNesting(t *testing.T) {
	var v interface{} = "leaf"
	for i := 0; i < 12; i++ {
		v = map[string]interface{}{"n": v}
	}
	_, err := sanitizeJSONParam("jsonSchema", v)
	if err == nil {
		t.Fatal("expected rejection for depth > 10")
	}
}

func TestSanitizeJSONParam_AllowsShallowSafeObject(t *testing.T) {
	s, err := sanitizeJSONParam("jsonSchema", map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name": map[string]interface{}{"type": "string"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
	if s == "" {
		t.Fatal("expected non-empty encoded string")
	}
}

func TestSanitizeJSONParam_RejectsOversizedPayload(t *testing.T) {
	big := make(map[string]interface{}, 1)
	padding := make([]byte, maxJSONBytes)
	for i := range padding {
		padding[i] = 'a'
	}
	big["pad"] = string(padding)
	_, err := sanitizeJSONParam("jsonSchema", big)
	if err == nil {
		t.Fatal("expected rejection for oversized payload")
	}
}

func TestSanitizeJSONParam_RejectsVariousMetacharacterPatterns(t *testing.T) {
	cases := []interface{}{
		map[string]interface{}{"a": "x && y"},
		map[string]interface{}{"a": "x || y"},
		map[string]interface{}{"a": "x;rm"},
		map[string]interface{}{"a": "echo 1 >& 2"},
		map[string]interface{}{"a": "cat a |rm"},
		map[string]interface{}{"a": "foo <(bar)"},
		map[string]interface{}{"a": "`whoami`"},
	}
	for _, c := range cases {
		if _, err := sanitizeJSONParam("agents", c); err == nil {
			t.Errorf("expected rejection for %v", c)
		}
	}
}
