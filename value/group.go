package value

import "fmt"

// Group is one run of consecutive items sharing a key.
type Group struct {
	Key  Value
	List []Value
}

// AsValue exposes the group as a mapping with "grouper" and "list" keys.
func (g Group) AsValue() Value {
	return Map(map[string]Value{
		"grouper": g.Key,
		"list":    Seq(g.List...),
	})
}

// GroupBy splits the sequence into runs of consecutive items whose attribute
// path evaluates equal. Items are not sorted first.
func (v Value) GroupBy(attr string) ([]Group, error) {
	seq, err := v.Iter()
	if err != nil {
		return nil, err
	}
	var groups []Group
	for item := range seq {
		key, err := item.Lookup(attr)
		if err != nil {
			return nil, fmt.Errorf("group by %q: %w", attr, err)
		}
		if n := len(groups); n > 0 && Equal(groups[n-1].Key, key) {
			groups[n-1].List = append(groups[n-1].List, item)
			continue
		}
		groups = append(groups, Group{Key: key, List: []Value{item}})
	}
	return groups, nil
}
