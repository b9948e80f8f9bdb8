package obscure

import "testing"

func TestObscureKnownValues(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "abc", want: "def"},
		{in: "xyz", want: "abc"},
		{in: "XYZ", want: "ABC"},
		{in: "M:12.5,T:'ok'", want: "P:12.5,W:'rn'"},
		{in: "", want: ""},
		{in: "0123-+#~", want: "0123-+#~"},
	}
	for _, tc := range cases {
		if got := Obscure(tc.in); got != tc.want {
			t.Fatalf("Obscure(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestRevealInvertsObscure(t *testing.T) {
	var all []byte
	for c := byte(0x20); c < 0x7f; c++ {
		all = append(all, c)
	}
	inputs := []string{
		string(all),
		"'M':21.4,'BT':3.9,'La':-1.2834,'L':36.8219",
		"SMSPSL",
		"The Quick Brown Fox!",
	}
	for _, in := range inputs {
		if got := Reveal(Obscure(in)); got != in {
			t.Fatalf("round trip mismatch: %q -> %q", in, got)
		}
		if got := Obscure(Reveal(in)); got != in {
			t.Fatalf("reverse round trip mismatch: %q -> %q", in, got)
		}
	}
}

func TestNonASCIIBytesPassThrough(t *testing.T) {
	in := "température"
	out := Obscure(in)
	if Reveal(out) != in {
		t.Fatalf("multibyte text not preserved: %q", Reveal(out))
	}
}
