package headers

import (
	"html"
	"strings"
)

// Address is a structured address as stored in a parsed message header.
// A group has a Name and member addresses in Group, and no Address.
type Address struct {
	Name    string    `json:"name,omitempty"`
	Address string    `json:"address,omitempty"`
	Group   []Address `json:"group,omitempty"`
}

// DecodeAddresses decodes encoded words in display names, recursing into groups.
func DecodeAddresses(addrs []Address) []Address {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]Address, len(addrs))
	for i, a := range addrs {
		out[i] = Address{
			Name:    ParseText(a.Name),
			Address: ParseRaw(a.Address),
			Group:   DecodeAddresses(a.Group),
		}
	}
	return out
}

// AddressesHTML renders addrs as HTML with mailto links. Every name and address
// is escaped. Groups render as "name: member, member;".
func AddressesHTML(addrs []Address) string {
	var b strings.Builder
	writeAddresses(&b, addrs)
	return b.String()
}

func writeAddresses(b *strings.Builder, addrs []Address) {
	for i, a := range addrs {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(`<span class="mp_address_group">`)
		isGroup := len(a.Group) > 0
		if a.Address != "" || isGroup {
			if a.Name != "" {
				b.WriteString(`<span class="mp_address_name">`)
				b.WriteString(html.EscapeString(a.Name))
				if isGroup {
					b.WriteString(": ")
				}
				b.WriteString(`</span>`)
				if a.Address != "" {
					b.WriteString(" ")
				}
			}
			if a.Address != "" {
				addr := html.EscapeString(a.Address)
				b.WriteString(`<a href="mailto:`)
				b.WriteString(addr)
				b.WriteString(`" class="mp_address_email" title="`)
				b.WriteString(addr)
				b.WriteString(`">&lt;`)
				b.WriteString(addr)
				b.WriteString(`&gt;</a>`)
			}
		}
		if isGroup {
			writeAddresses(b, a.Group)
			b.WriteString(";")
		}
		b.WriteString(`</span>`)
	}
}

// Plain renders addrs as a comma separated list of names, falling back to the
// address when there is no name.
func Plain(addrs []Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		switch {
		case len(a.Group) > 0:
			parts = append(parts, a.Name+": "+Plain(a.Group)+";")
		case a.Name != "":
			parts = append(parts, a.Name)
		default:
			parts = append(parts, a.Address)
		}
	}
	return strings.Join(parts, ", ")
}
