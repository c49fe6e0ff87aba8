package notif

import (
	"testing"
	"time"
)

func TestRender(t *testing.T) {
	due := time.Date(2021, 3, 12, 8, 30, 0, 0, time.UTC)

	tests := []struct {
		name      string
		tmpl      Template
		vars      Vars
		wantTitle string
		wantBody  string
		wantErr   string
	}{
		{
			name: "simple substitution",
			tmpl: Template{
				TitleTmpl: "Fees due for {{student_name}}",
				BodyTmpl:  "Dear {{parent_name}}, {{amount}} is due.",
			},
			vars:      Vars{"student_name": "Amina", "parent_name": "Mr. Yusuf", "amount": 1500},
			wantTitle: "Fees due for Amina",
			wantBody:  "Dear Mr. Yusuf, 1500 is due.",
		},
		{
			name: "whitespace inside braces",
			tmpl: Template{
				TitleTmpl: "Hello {{ name }}",
				BodyTmpl:  "{{  name  }}!",
			},
			vars:      Vars{"name": "Juma"},
			wantTitle: "Hello Juma",
			wantBody:  "Juma!",
		},
		{
			name: "missing required variable",
			tmpl: Template{
				TitleTmpl:    "Fees due",
				BodyTmpl:     "{{amount}} is due",
				RequiredVars: []string{"amount"},
			},
			vars:    Vars{"student_name": "Amina"},
			wantErr: `missing required template variable "amount"`,
		},
		{
			name: "unknown placeholder left verbatim",
			tmpl: Template{
				TitleTmpl: "Report for {{term}}",
				BodyTmpl:  "See {{link}}",
			},
			vars:      Vars{"term": "Term 2"},
			wantTitle: "Report for Term 2",
			wantBody:  "See {{link}}",
		},
		{
			name: "extra variables ignored",
			tmpl: Template{
				TitleTmpl: "Hi {{name}}",
				BodyTmpl:  "Welcome.",
			},
			vars:      Vars{"name": "Neema", "unused": true},
			wantTitle: "Hi Neema",
			wantBody:  "Welcome.",
		},
		{
			name: "time formatted as RFC3339",
			tmpl: Template{
				TitleTmpl: "Due {{due_date}}",
				BodyTmpl:  "-",
			},
			vars:      Vars{"due_date": due},
			wantTitle: "Due 2021-03-12T08:30:00Z",
			wantBody:  "-",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, body, err := Render(tt.tmpl, tt.vars)
			if tt.wantErr != "" {
				if err == nil || err.Error() != tt.wantErr {
					t.Fatalf("Render() error = %v, wantErr %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Render() unexpected error: %v", err)
			}
			if title != tt.wantTitle {
				t.Errorf("Render() title = %q, want %q", title, tt.wantTitle)
			}
			if body != tt.wantBody {
				t.Errorf("Render() body = %q, want %q", body, tt.wantBody)
			}
		})
	}
}

func TestStringify(t *testing.T) {
	tests := []struct {
		name string
		v    interface{}
		want string
	}{
		{name: "string", v: "abc", want: "abc"},
		{name: "int", v: 42, want: "42"},
		{name: "int64", v: int64(-7), want: "-7"},
		{name: "float64", v: 1500.5, want: "1500.5"},
		{name: "float64 no trailing zeros", v: 10.0, want: "10"},
		{name: "bool", v: true, want: "true"},
		{name: "stringer", v: ClockTime(510), want: "08:30"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Stringify(tt.v); got != tt.want {
				t.Errorf("Stringify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestVarsMerge(t *testing.T) {
	base := Vars{"a": 1, "b": 2}
	merged := base.Merge(Vars{"b": 3, "c": 4})

	if merged["a"] != 1 || merged["b"] != 3 || merged["c"] != 4 {
		t.Errorf("Merge() = %v", merged)
	}
	if base["b"] != 2 {
		t.Errorf("Merge() mutated the base bag: %v", base)
	}
}
