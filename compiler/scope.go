package compiler

// Scope is one level of a variable-name-to-address chain: the
// top-level data section plus one nested level per function body.
// Lookup walks outward (function locals/params shadow globals),
// grounded on the source's scope-chain variable lookup walking
// self.scopes in reverse.
type Scope struct {
	parent *Scope
	addrs  map[string]uint32
}

// NewScope creates a scope nested under parent (nil for the
// top-level/global scope).
func NewScope(parent *Scope) *Scope {
	return &Scope{parent: parent, addrs: make(map[string]uint32)}
}

// Define binds name to addr in this scope, shadowing any outer
// binding of the same name for lookups starting here.
func (s *Scope) Define(name string, addr uint32) {
	s.addrs[name] = addr
}

// Lookup walks this scope and its ancestors outward-to-global,
// returning the nearest binding.
func (s *Scope) Lookup(name string) (uint32, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if addr, ok := cur.addrs[name]; ok {
			return addr, true
		}
	}
	return 0, false
}
