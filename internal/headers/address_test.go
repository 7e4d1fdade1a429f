package headers

import (
	"strings"
	"testing"
)

func TestAddressesHTML(t *testing.T) {
	tests := []struct {
		name  string
		addrs []Address
		want  string
	}{
		{
			name:  "bare address",
			addrs: []Address{{Address: "a@example.com"}},
			want: `<span class="mp_address_group"><a href="mailto:a@example.com" class="mp_address_email" ` +
				`title="a@example.com">&lt;a@example.com&gt;</a></span>`,
		},
		{
			name:  "named address",
			addrs: []Address{{Name: "Alice", Address: "a@example.com"}},
			want: `<span class="mp_address_group"><span class="mp_address_name">Alice</span> ` +
				`<a href="mailto:a@example.com" class="mp_address_email" title="a@example.com">&lt;a@example.com&gt;</a></span>`,
		},
		{
			name:  "group",
			addrs: []Address{{Name: "Team", Group: []Address{{Address: "x@y"}, {Address: "z@y"}}}},
			want: `<span class="mp_address_group"><span class="mp_address_name">Team: </span>` +
				`<span class="mp_address_group"><a href="mailto:x@y" class="mp_address_email" title="x@y">&lt;x@y&gt;</a></span>, ` +
				`<span class="mp_address_group"><a href="mailto:z@y" class="mp_address_email" title="z@y">&lt;z@y&gt;</a></span>;</span>`,
		},
		{
			name:  "empty",
			addrs: nil,
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AddressesHTML(tt.addrs)
			if got != tt.want {
				t.Errorf("AddressesHTML() =\n%s\nwant\n%s", got, tt.want)
			}
		})
	}
}

func TestAddressesHTML_Escapes(t *testing.T) {
	got := AddressesHTML([]Address{{
		Name:    `<script>alert("x")</script>`,
		Address: `"><img src=x>@evil.example`,
	}})
	for _, bad := range []string{"<script>", "<img", `"><`} {
		if strings.Contains(got, bad) {
			t.Errorf("AddressesHTML() contains unescaped %q: %s", bad, got)
		}
	}
}

func TestDecodeAddresses(t *testing.T) {
	got := DecodeAddresses([]Address{
		{Name: "=?UTF-8?B?w5xiZXI=?=", Address: "u@example.com"},
		{Name: "=?UTF-8?Q?Gr=C3=BCppe?=", Group: []Address{{Name: "=?UTF-8?Q?M=C3=BC?=", Address: "m@example.com"}}},
	})
	if got[0].Name != "Über" {
		t.Errorf("Name = %q, want %q", got[0].Name, "Über")
	}
	if got[1].Name != "Grüppe" {
		t.Errorf("group Name = %q, want %q", got[1].Name, "Grüppe")
	}
	if got[1].Group[0].Name != "Mü" {
		t.Errorf("member Name = %q, want %q", got[1].Group[0].Name, "Mü")
	}
	if DecodeAddresses(nil) != nil {
		t.Error("DecodeAddresses(nil) should be nil")
	}
}

func TestPlain(t *testing.T) {
	got := Plain([]Address{
		{Name: "Alice", Address: "a@x"},
		{Address: "b@x"},
		{Name: "List", Group: []Address{{Address: "c@x"}}},
	})
	want := "Alice, b@x, List: c@x;"
	if got != want {
		t.Errorf("Plain() = %q, want %q", got, want)
	}
}
