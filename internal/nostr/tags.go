package nostr

// Tag is a single event tag such as ["e", "<id>", "<relay>"].
type Tag []string

// Key returns the tag name, or "" for an empty tag.
func (t Tag) Key() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Value returns the first tag argument, or "".
func (t Tag) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// Tags is the ordered tag list of an event. Order is part of the event id.
type Tags []Tag

// Find returns the first tag with the given key, or nil.
func (tags Tags) Find(key string) Tag {
	for _, t := range tags {
		if t.Key() == key {
			return t
		}
	}
	return nil
}

// FindAll returns every tag with the given key, in order.
func (tags Tags) FindAll(key string) []Tag {
	var out []Tag
	for _, t := range tags {
		if t.Key() == key {
			out = append(out, t)
		}
	}
	return out
}

// ContainsValue reports whether some tag has the given key and first value.
func (tags Tags) ContainsValue(key, value string) bool {
	for _, t := range tags {
		if t.Key() == key && t.Value() == value {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers cannot alias a signed event's tags.
func (tags Tags) Clone() Tags {
	if tags == nil {
		return nil
	}
	out := make(Tags, len(tags))
	for i, t := range tags {
		out[i] = append(Tag(nil), t...)
	}
	return out
}
