package business

import (
	"strings"
	"unicode"
)

// Slugify builds a URL slug from the listing name and its locality.
func Slugify(parts ...string) string {
	var sb strings.Builder
	dash := false
	for _, part := range parts {
		for _, r := range strings.ToLower(part) {
			switch {
			case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
				if dash && sb.Len() > 0 {
					sb.WriteByte('-')
				}
				dash = false
				sb.WriteRune(r)
			case r == '\'':
				// "Bob's" -> "bobs"
			default:
				dash = true
			}
		}
		dash = true
	}
	return sb.String()
}

// NormalizePhone strips formatting and the US country code.
func NormalizePhone(phone string) string {
	digits := make([]byte, 0, len(phone))
	for i := range len(phone) {
		if phone[i] >= '0' && phone[i] <= '9' {
			digits = append(digits, phone[i])
		}
	}
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	return string(digits)
}

// FormatPhone renders a US number as 512-555-0100. Anything else is only
// trimmed.
func FormatPhone(phone string) string {
	if p := NormalizePhone(phone); len(p) == 10 {
		return p[:3] + "-" + p[3:6] + "-" + p[6:]
	}
	return strings.TrimSpace(phone)
}

var nameNoise = map[string]bool{
	"llc": true, "inc": true, "co": true, "corp": true, "company": true,
	"the": true, "and": true, "ltd": true,
}

// NormalizeName lowercases the name and drops punctuation and legal suffixes
// so that "Bob's Dumpsters, LLC" and "bobs dumpsters" compare equal.
func NormalizeName(name string) string {
	words := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	out := words[:0]
	for _, w := range words {
		w = strings.ReplaceAll(w, "'", "")
		if w == "" || nameNoise[w] {
			continue
		}
		out = append(out, w)
	}
	return strings.Join(out, " ")
}

// NormalizeZip keeps the five-digit prefix of a ZIP or ZIP+4.
func NormalizeZip(zip string) string {
	zip = strings.TrimSpace(zip)
	if i := strings.IndexByte(zip, '-'); i >= 0 {
		zip = zip[:i]
	}
	if len(zip) > 5 {
		zip = zip[:5]
	}
	return zip
}

// DedupeKey returns the identity used to detect duplicate listings: the
// normalized phone when present, otherwise name plus ZIP.
func DedupeKey(b *Business) string {
	if p := NormalizePhone(b.Phone); len(p) >= 10 {
		return "phone:" + p
	}
	return "name:" + NormalizeName(b.Name) + "|" + NormalizeZip(b.Zip)
}

// Normalize trims fields and canonicalizes phone, state and ZIP in place.
func (b *Business) Normalize() {
	b.Name = strings.TrimSpace(b.Name)
	b.Email = strings.ToLower(strings.TrimSpace(b.Email))
	b.Website = strings.TrimSpace(b.Website)
	b.Address = strings.TrimSpace(b.Address)
	b.City = strings.TrimSpace(b.City)
	b.State = strings.ToUpper(strings.TrimSpace(b.State))
	b.Zip = NormalizeZip(b.Zip)
	b.Category = strings.TrimSpace(b.Category)
	b.Phone = FormatPhone(b.Phone)
	if b.Services == nil {
		b.Services = []string{}
	}
	if b.Gallery == nil {
		b.Gallery = []string{}
	}
	if b.Slug == "" {
		b.Slug = Slugify(b.Name, b.City, b.State)
	}
}
