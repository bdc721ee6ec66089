package template

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/beyonder07/XenoCrm-sub001/internal/domain"
)

func sampleCustomer() domain.Customer {
	lastActive := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return domain.Customer{
		ID:         uuid.New(),
		Email:      "ada@example.com",
		FirstName:  "Ada",
		LastName:   "Lovelace",
		Location:   "london",
		TotalSpend: 15234.5,
		VisitCount: 12,
		Tags:       []string{"vip"},
		LastActive: &lastActive,
	}
}

func TestEngine_Render(t *testing.T) {
	e := NewEngine()

	tests := []struct {
		name   string
		source string
		want   string
	}{
		{
			name:   "plain variables",
			source: "Hi {{ first_name }} {{ last_name }}!",
			want:   "Hi Ada Lovelace!",
		},
		{
			name:   "capitalize filter",
			source: "Deals in {{ location | capitalize }}",
			want:   "Deals in London",
		},
		{
			name:   "money filter",
			source: "You've spent ${{ total_spend | money }}",
			want:   "You've spent $15234.50",
		},
		{
			name:   "conditional on spend",
			source: "{% if total_spend > 10000 %}VIP offer{% else %}Standard offer{% endif %}",
			want:   "VIP offer",
		},
		{
			name:   "missing variable renders empty",
			source: "Code: {{ promo_code }}.",
			want:   "Code: .",
		},
		{
			name:   "default filter fills missing variable",
			source: "Hey {{ nickname | default: \"there\" }}",
			want:   "Hey there",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Render(tt.source, sampleCustomer())
			if err != nil {
				t.Fatalf("Render() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEngine_RenderEmptyFirstName(t *testing.T) {
	e := NewEngine()
	c := sampleCustomer()
	c.FirstName = ""

	got, err := e.Render("Hi {{ first_name | default: \"there\" }}", c)
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if got != "Hi there" {
		t.Errorf("Render() = %q, want %q", got, "Hi there")
	}
}

func TestEngine_Validate(t *testing.T) {
	e := NewEngine()

	if err := e.Validate("Hi {{ first_name }}"); err != nil {
		t.Errorf("Validate() error on well-formed template: %v", err)
	}

	err := e.Validate("Hi {% if total_spend > 100 %}big spender")
	if err == nil {
		t.Error("Validate() should reject an unterminated block")
	}
	if err != nil && !strings.Contains(err.Error(), "parse template") {
		t.Errorf("Validate() error = %v, want parse error", err)
	}
}

func TestEngine_ValidateUncloseDelimiters(t *testing.T) {
	// Liquid itself treats these as literal text; they must still be
	// rejected so raw markup never reaches a recipient.
	e := NewEngine()
	bad := []string{
		"hi {% if x",
		"hi {{ first_name",
		"{{ a {{ b }}",
		"{% if x %}{% endif %}{{ oops",
	}
	for _, source := range bad {
		if err := e.Validate(source); err == nil {
			t.Errorf("Validate(%q) = nil, want error", source)
		}
	}

	good := []string{
		"plain text, no markup",
		"amounts like {not a tag} and } stray braces {",
		"{{ first_name }} and {% if total_spend > 1 %}x{% endif %}",
	}
	for _, source := range good {
		if err := e.Validate(source); err != nil {
			t.Errorf("Validate(%q) = %v, want nil", source, err)
		}
	}
}

func TestEngine_RenderFailsOnUnclosedDelimiter(t *testing.T) {
	e := NewEngine()
	if _, err := e.Render("hello {% if x", sampleCustomer()); err == nil {
		t.Error("Render() should fail on an unclosed tag delimiter")
	}
}

func TestEngine_ParseCacheReuse(t *testing.T) {
	e := NewEngine()
	source := "Hi {{ first_name }}"

	if _, err := e.Render(source, sampleCustomer()); err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	first, ok := e.cache.Load(source)
	if !ok {
		t.Fatal("template not cached after first render")
	}

	if _, err := e.Render(source, sampleCustomer()); err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	second, _ := e.cache.Load(source)
	if first != second {
		t.Error("second render re-parsed a cached template")
	}
}

func TestBindings(t *testing.T) {
	c := sampleCustomer()
	b := Bindings(c)

	if b["email"] != c.Email || b["total_spend"] != c.TotalSpend {
		t.Errorf("Bindings() = %v", b)
	}
	if _, ok := b["last_active_at"]; !ok {
		t.Error("last_active_at missing for customer with activity")
	}

	c.LastActive = nil
	b = Bindings(c)
	if _, ok := b["last_active_at"]; ok {
		t.Error("last_active_at present for never-active customer")
	}
}
