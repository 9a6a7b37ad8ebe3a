package directive

import "testing"

func TestRecoverJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantOK  bool
		wantKey string
		wantVal any
	}{
		{"strict", `{"query":"Saber"}`, true, "query", "Saber"},
		{"whitespace", "\n  {\"query\": \"Saber\"}\n", true, "query", "Saber"},
		{"fenced", "```json\n{\"title\":\"Excalibur\"}\n```", true, "title", "Excalibur"},
		{"fenced no lang", "```\n{\"title\":\"Avalon\"}\n```", true, "title", "Avalon"},
		{"prose around object", `Sure: {"limit": 3} hope that helps`, true, "limit", float64(3)},
		{"braces in strings", `x {"content":"a } tricky { value"} y`, true, "content", "a } tricky { value"},
		{"escaped quote in string", `{"content":"she said \"}\" loudly"}`, true, "content", `she said "}" loudly`},
		{"quoted literal", `"{\"name\":\"Rin\"}"`, true, "name", "Rin"},
		{"single quoted", `'{"name":"Sakura"}'`, true, "name", "Sakura"},
		{"not json", "not json", false, "", nil},
		{"empty", "", false, "", nil},
		{"array", `[1,2,3]`, false, "", nil},
		{"unclosed", `{"query": "Sab`, false, "", nil},
		{"null", "null", false, "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := RecoverJSON(tt.body)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v (got %v)", ok, tt.wantOK, got)
			}
			if got == nil {
				t.Fatal("RecoverJSON returned nil map")
			}
			if !tt.wantOK {
				if len(got) != 0 {
					t.Errorf("fallback = %v, want empty", got)
				}
				return
			}
			if got[tt.wantKey] != tt.wantVal {
				t.Errorf("%s = %#v, want %#v", tt.wantKey, got[tt.wantKey], tt.wantVal)
			}
		})
	}
}
