package cookiestore

import "strings"

// Cookie is one name/value pair. Attributes are not modeled, the
// portal only ever issues bare session pairs.
type Cookie struct {
	Name  string
	Value string
}

// Parser extracts cookie pairs from a raw Set-Cookie header value.
type Parser interface {
	Parse(header string) []Cookie
}

// NaiveParser splits the header on commas and keeps the name=value
// pair in front of each attribute list. An attribute value that
// legitimately contains a comma (an Expires date for instance) gets
// treated as the start of a new pair, its tail is then dropped for
// lacking a "=". The portal only sets plain session cookies so this
// never bites in practice, and the Parser interface is the seam for
// an attribute-aware replacement if it ever does.
type NaiveParser struct{}

func (NaiveParser) Parse(header string) []Cookie {
	var out []Cookie
	for _, part := range strings.Split(header, ",") {
		pair, _, _ := strings.Cut(part, ";")
		name, value, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		if name == "" || value == "" {
			continue
		}
		out = append(out, Cookie{Name: name, Value: value})
	}
	return out
}

// Store holds the cookies of a single portal session. It is not safe
// for concurrent use, sessions are strictly sequential.
type Store struct {
	order  []string
	values map[string]string
}

func New() *Store {
	return &Store{values: map[string]string{}}
}

// Merge parses header with p and folds the resulting pairs into the
// store. Later pairs win over earlier ones for the same name, names
// the header does not mention keep their current value. An empty
// header leaves the store untouched.
func (s *Store) Merge(p Parser, header string) {
	if header == "" {
		return
	}
	for _, c := range p.Parse(header) {
		s.Set(c.Name, c.Value)
	}
}

func (s *Store) Set(name, value string) {
	if _, ok := s.values[name]; !ok {
		s.order = append(s.order, name)
	}
	s.values[name] = value
}

// Get returns the value for name, or "" when absent.
func (s *Store) Get(name string) string {
	return s.values[name]
}

func (s *Store) Len() int {
	return len(s.values)
}

// Render produces the value for a Cookie request header, pairs joined
// with "; " in first-set order.
func (s *Store) Render() string {
	var b strings.Builder
	for i, name := range s.order {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(name)
		b.WriteString("=")
		b.WriteString(s.values[name])
	}
	return b.String()
}
