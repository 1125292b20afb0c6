package trace

// Entry is one recorded span. Times are seconds since the Clock epoch.
//
// Entries of one buffer are well nested: any two either contain one another
// or are disjoint, and Depth is the number of spans still open on the owning
// context when this one began.
type Entry struct {
	Name      string  `msgpack:"n"`
	SubID     int     `msgpack:"s"`
	Beginning float64 `msgpack:"b"`
	End       float64 `msgpack:"e"`
	Depth     int     `msgpack:"d"`
}

// Duration returns End - Beginning in seconds.
func (e Entry) Duration() float64 {
	return e.End - e.Beginning
}

// Contains reports whether other lies within e. Depth breaks ties between
// spans that share both edges.
func (e Entry) Contains(other Entry) bool {
	if other.Beginning < e.Beginning || other.End > e.End {
		return false
	}
	if other.Beginning == e.Beginning && other.End == e.End {
		return e.Depth < other.Depth
	}
	return true
}
