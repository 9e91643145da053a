package voice

import "testing"

func TestSpokenText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "What is your email address?", "What is your email address?"},
		{"whitespace", "  Thanks.\n\tWhat is   your name? ", "Thanks. What is your name?"},
		{"markup", "**Please** confirm your [order](https://shop.example/cart).", "Please confirm your order."},
		{"emoji", "Thank you! 🎉 Your order is being placed.", "Thank you! Your order is being placed."},
		{"empty", "   ", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := spokenText(tc.in); got != tc.want {
				t.Fatalf("spokenText(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
