package verify

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ManifestPath is the reserved location of the manifest.
const ManifestPath = "META-INF/MANIFEST.MF"

// maxLineLen is the longest manifest line in bytes, excluding the line break.
const maxLineLen = 72

type attribute struct {
	key   string
	value string
}

// Attributes is an ordered set of manifest attributes.
// Keys compare without regard to case.
type Attributes struct {
	list []attribute
}

// Get returns the value of key, or "" if it is absent.
func (a *Attributes) Get(key string) string {
	v, _ := a.Lookup(key)
	return v
}

// Lookup returns the value of key and whether it is present.
func (a *Attributes) Lookup(key string) (string, bool) {
	if a == nil {
		return "", false
	}
	for _, kv := range a.list {
		if strings.EqualFold(kv.key, key) {
			return kv.value, true
		}
	}
	return "", false
}

// Set adds key or replaces its value in place.
func (a *Attributes) Set(key, value string) {
	for i := range a.list {
		if strings.EqualFold(a.list[i].key, key) {
			a.list[i].value = value
			return
		}
	}
	a.list = append(a.list, attribute{key: key, value: value})
}

// Keys returns the keys in insertion order.
func (a *Attributes) Keys() []string {
	if a == nil {
		return nil
	}
	keys := make([]string, len(a.list))
	for i, kv := range a.list {
		keys[i] = kv.key
	}
	return keys
}

// Len returns the number of attributes.
func (a *Attributes) Len() int {
	if a == nil {
		return 0
	}
	return len(a.list)
}

// Manifest is a parsed manifest or signature file: a main section followed
// by per-entry sections keyed by their Name attribute.
type Manifest struct {
	Main    *Attributes
	entries map[string]*Attributes
	names   []string
}

// NewManifest returns an empty manifest with Manifest-Version set.
func NewManifest() *Manifest {
	m := &Manifest{Main: &Attributes{}, entries: make(map[string]*Attributes)}
	m.Main.Set("Manifest-Version", "1.0")
	return m
}

// ParseManifest parses manifest text. CRLF, LF and CR line breaks are
// accepted. Entry sections without a Name attribute are ignored; repeated
// names have their attributes merged.
func ParseManifest(data []byte) (*Manifest, error) {
	sections, err := scanManifest(data)
	if err != nil {
		return nil, err
	}
	m := &Manifest{Main: &Attributes{}, entries: make(map[string]*Attributes)}
	for i, s := range sections {
		if i == 0 {
			m.Main = s.attrs
			continue
		}
		if s.name == "" {
			continue
		}
		existing, ok := m.entries[s.name]
		if !ok {
			m.entries[s.name] = s.attrs
			m.names = append(m.names, s.name)
			continue
		}
		for _, kv := range s.attrs.list {
			existing.Set(kv.key, kv.value)
		}
	}
	return m, nil
}

// Entry returns the attributes of the named entry section.
func (m *Manifest) Entry(name string) (*Attributes, bool) {
	a, ok := m.entries[name]
	return a, ok
}

// SetEntry replaces the attributes of the named entry section, appending a
// new section if there is none.
func (m *Manifest) SetEntry(name string, attrs *Attributes) {
	if _, ok := m.entries[name]; !ok {
		m.names = append(m.names, name)
	}
	m.entries[name] = attrs
}

// Names returns the entry section names in order.
func (m *Manifest) Names() []string {
	return append([]string(nil), m.names...)
}

// Bytes encodes the manifest with CRLF line breaks, wrapping lines at 72
// bytes.
func (m *Manifest) Bytes() []byte {
	var buf bytes.Buffer
	for _, kv := range m.Main.list {
		writeAttribute(&buf, kv.key, kv.value)
	}
	buf.WriteString("\r\n")
	for _, name := range m.names {
		writeAttribute(&buf, "Name", name)
		for _, kv := range m.entries[name].list {
			if strings.EqualFold(kv.key, "Name") {
				continue
			}
			writeAttribute(&buf, kv.key, kv.value)
		}
		buf.WriteString("\r\n")
	}
	return buf.Bytes()
}

// writeAttribute writes "key: value" split into lines of at most 72 bytes.
// Continuation lines start with a single space. Multi-byte characters are
// never split.
func writeAttribute(buf *bytes.Buffer, key, value string) {
	line := key + ": " + value
	limit := maxLineLen
	for len(line) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		buf.WriteString(line[:cut])
		buf.WriteString("\r\n ")
		line = line[cut:]
		limit = maxLineLen - 1
	}
	buf.WriteString(line)
	buf.WriteString("\r\n")
}

// rawSection is one section of manifest text. The byte range [start, end)
// includes the terminating blank line when there is one.
type rawSection struct {
	start, end int
	name       string
	attrs      *Attributes
}

// scanManifest splits manifest text into sections. The first section is the
// main section and is always present, possibly empty.
func scanManifest(data []byte) ([]rawSection, error) {
	var (
		sections []rawSection
		cur      = rawSection{attrs: &Attributes{}}
		last     = -1 // index in cur.attrs of the attribute being continued
		inSect   bool
		pos      int
		lineNo   int
	)
	flush := func(end int) {
		cur.end = end
		cur.name = cur.attrs.Get("Name")
		sections = append(sections, cur)
		cur = rawSection{start: end, attrs: &Attributes{}}
		last = -1
		inSect = false
	}

	for pos < len(data) {
		lineNo++
		line, next := nextLine(data, pos)
		switch {
		case len(line) == 0:
			if inSect || len(sections) == 0 {
				flush(next)
			} else {
				cur.start = next
			}
		case line[0] == ' ':
			if last < 0 {
				return nil, fmt.Errorf("%w: line %d: continuation without attribute", ErrMalformedManifest, lineNo)
			}
			cur.attrs.list[last].value += string(line[1:])
		default:
			i := bytes.Index(line, []byte(": "))
			if i <= 0 {
				return nil, fmt.Errorf("%w: line %d: missing separator", ErrMalformedManifest, lineNo)
			}
			cur.attrs.list = append(cur.attrs.list, attribute{key: string(line[:i]), value: string(line[i+2:])})
			last = len(cur.attrs.list) - 1
			inSect = true
		}
		pos = next
	}
	if inSect || len(sections) == 0 {
		flush(len(data))
	}
	return sections, nil
}

// nextLine returns the line starting at pos without its line break, and the
// position after the break.
func nextLine(data []byte, pos int) ([]byte, int) {
	for i := pos; i < len(data); i++ {
		switch data[i] {
		case '\n':
			return data[pos:i], i + 1
		case '\r':
			if i+1 < len(data) && data[i+1] == '\n' {
				return data[pos:i], i + 2
			}
			return data[pos:i], i + 1
		}
	}
	return data[pos:], len(data)
}
