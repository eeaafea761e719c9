package types

// Attachment is a named payload captured while a test ran.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Details is an insertion-ordered set of attachments.
type Details []Attachment

// Append adds data under name. Data for an existing name is concatenated,
// as streams may split one attachment across several events.
func (d Details) Append(name, contentType string, data []byte) Details {
	for i := range d {
		if d[i].Name == name {
			d[i].Data = append(d[i].Data, data...)
			if d[i].ContentType == "" {
				d[i].ContentType = contentType
			}
			return d
		}
	}
	return append(d, Attachment{Name: name, ContentType: contentType, Data: append([]byte(nil), data...)})
}

// Merge appends every attachment of other.
func (d Details) Merge(other Details) Details {
	for _, a := range other {
		d = d.Append(a.Name, a.ContentType, a.Data)
	}
	return d
}

// Get returns the attachment with the given name.
func (d Details) Get(name string) (Attachment, bool) {
	for _, a := range d {
		if a.Name == name {
			return a, true
		}
	}
	return Attachment{}, false
}

// Text returns the payload of name as a string, empty if absent.
func (d Details) Text(name string) string {
	a, ok := d.Get(name)
	if !ok {
		return ""
	}
	return string(a.Data)
}
