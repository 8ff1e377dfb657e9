package route

import (
	"errors"
	"net/url"
	"testing"
	"time"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse(%q): %v", raw, err)
	}
	return u
}

func newTestTable(t *testing.T) *Table {
	t.Helper()
	tbl, err := NewTable(
		Route{Name: "user-service", Prefix: "/api/users", Target: mustParse(t, "http://user-service:3001")},
		Route{Name: "ticket-service", Prefix: "/api/tickets", Target: mustParse(t, "http://ticket-service:3002")},
		Route{Name: "booking-service", Prefix: "/api/bookings", Target: mustParse(t, "http://booking-service:3003")},
	)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return tbl
}

func TestTable_Match(t *testing.T) {
	tbl := newTestTable(t)

	tests := []struct {
		path      string
		wantName  string
		wantMatch bool
	}{
		{"/api/users", "user-service", true},
		{"/api/users/", "user-service", true},
		{"/api/users/42", "user-service", true},
		{"/api/users/42/orders", "user-service", true},
		{"/api/tickets/7", "ticket-service", true},
		{"/api/bookings/stats/summary", "booking-service", true},
		{"/api/usersx", "", false},
		{"/api/user", "", false},
		{"/api", "", false},
		{"/foo/bar", "", false},
		{"/", "", false},
		{"", "", false},
		{"/API/USERS", "", false},
		{"/api/users%2Fadmin", "", false},
		{"/api/%75sers/x", "", false},
		{"/api/users/a%2Fb", "user-service", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			r, ok := tbl.Match(tt.path)
			if ok != tt.wantMatch {
				t.Fatalf("Match(%q) ok = %v, want %v", tt.path, ok, tt.wantMatch)
			}
			if r.Name != tt.wantName {
				t.Errorf("Match(%q).Name = %q, want %q", tt.path, r.Name, tt.wantName)
			}
		})
	}
}

func TestTable_Match_LongestPrefixWins(t *testing.T) {
	tbl, err := NewTable(
		Route{Name: "api", Prefix: "/api", Target: mustParse(t, "http://a")},
		Route{Name: "users", Prefix: "/api/users", Target: mustParse(t, "http://b")},
	)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	if r, _ := tbl.Match("/api/users/1"); r.Name != "users" {
		t.Errorf("Match(/api/users/1).Name = %q, want %q", r.Name, "users")
	}
	if r, _ := tbl.Match("/api/tickets"); r.Name != "api" {
		t.Errorf("Match(/api/tickets).Name = %q, want %q", r.Name, "api")
	}
}

func TestTable_Match_FirstRegisteredWinsTie(t *testing.T) {
	tbl, err := NewTable(
		Route{Name: "first", Prefix: "/api/users", Target: mustParse(t, "http://a")},
		Route{Name: "second", Prefix: "/api/users/", Target: mustParse(t, "http://b")},
	)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	r, ok := tbl.Match("/api/users/1")
	if !ok {
		t.Fatal("Match() = no match, want first")
	}
	if r.Name != "first" {
		t.Errorf("Match().Name = %q, want %q", r.Name, "first")
	}
}

func TestRoute_StripPrefix(t *testing.T) {
	r := Route{Prefix: "/api/users"}

	tests := []struct {
		path string
		want string
	}{
		{"/api/users", "/"},
		{"/api/users/", "/"},
		{"/api/users/42", "/42"},
		{"/api/users/register", "/register"},
		{"/api/users/a/b/c", "/a/b/c"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := r.StripPrefix(tt.path); got != tt.want {
				t.Errorf("StripPrefix(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestNewTable_Invalid(t *testing.T) {
	target := mustParse(t, "http://svc:80")

	tests := []struct {
		name  string
		route Route
	}{
		{"empty prefix", Route{Prefix: "", Target: target}},
		{"root prefix", Route{Prefix: "/", Target: target}},
		{"relative prefix", Route{Prefix: "api", Target: target}},
		{"nil target", Route{Prefix: "/api"}},
		{"relative target", Route{Prefix: "/api", Target: mustParse(t, "/svc")}},
		{"negative timeout", Route{Prefix: "/api", Target: target, Timeout: -time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTable(tt.route)
			if !errors.Is(err, ErrInvalidRoute) {
				t.Errorf("NewTable() error = %v, want ErrInvalidRoute", err)
			}
		})
	}
}

func TestTable_PrefixesAndDefaults(t *testing.T) {
	tbl, err := NewTable(
		Route{Prefix: "/api/users/", Target: mustParse(t, "http://a")},
		Route{Prefix: "/api/tickets", Target: mustParse(t, "http://b")},
	)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	got := tbl.Prefixes()
	want := []string{"/api/users", "/api/tickets"}
	if len(got) != len(want) {
		t.Fatalf("Prefixes() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Prefixes()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	routes := tbl.Routes()
	if routes[0].Name != "/api/users" {
		t.Errorf("default Name = %q, want prefix %q", routes[0].Name, "/api/users")
	}
	routes[0].Prefix = "/mutated"
	if tbl.Prefixes()[0] != "/api/users" {
		t.Error("Routes() must return a copy")
	}
}
