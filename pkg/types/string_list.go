package types

// StringList is a jsonb array of strings (merch size options).
type StringList []string

// Contains reports whether value is one of the entries.
func (l StringList) Contains(value string) bool {
	for _, v := range l {
		if v == value {
			return true
		}
	}
	return false
}
