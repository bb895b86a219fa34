package repository

import "testing"

// TestEscapeLike проверяет экранирование метасимволов LIKE:
// пользовательский префикс инвалидации сопоставляется буквально.
func TestEscapeLike(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"search:", "search:"},
		{"%", `\%`},
		{"_", `\_`},
		{`\`, `\\`},
		{"item:gd_1977%", `item:gd\_1977\%`},
		{`a\%b`, `a\\\%b`},
		{"", ""},
	}

	for _, tt := range tests {
		if got := escapeLike(tt.input); got != tt.want {
			t.Errorf("escapeLike(%q) = %q, ожидался %q", tt.input, got, tt.want)
		}
	}
}
