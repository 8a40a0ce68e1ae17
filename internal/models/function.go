package models

// FunctionKey identifies one hooked function: the binary address it is
// installed at plus its qualified source name.
type FunctionKey struct {
	Address  string // normalized: lowercase hex, no 0x prefix, 8 digits
	Class    string
	Function string
}

// QualifiedName returns "Class::Function", or just the function name for
// free functions.
func (k FunctionKey) QualifiedName() string {
	if k.Class == "" {
		return k.Function
	}
	return k.Class + "::" + k.Function
}

func (k FunctionKey) String() string {
	return "0x" + k.Address + " " + k.QualifiedName()
}

// SourceFeatures holds the structural counts derived from a function body.
type SourceFeatures struct {
	LineCount   int // non-blank lines
	PluginCalls int // prefixed wrapper calls (plugin::Call family)
	PlainCalls  int // call expressions other than wrapper calls
	ControlFlow int // if/for/while/switch statements and value returns
	FloatOps    int // float literals and float-typed tokens

	HasStubMarker  bool
	HasNaNHandling bool
	IsForwarder    bool // body is a single call statement and nothing else
}

// TotalCalls is the combined call-expression count.
func (f SourceFeatures) TotalCalls() int {
	return f.PluginCalls + f.PlainCalls
}

// FunctionRecord is one indexed function: identity, body text, and derived
// features. Records are snapshots of a single indexing pass and are never
// mutated afterwards. HasBody is false for declaration-only matches.
type FunctionRecord struct {
	Address  string
	Class    string
	Function string
	File     string // path relative to the indexed root
	HasBody  bool
	Body     string
	Features SourceFeatures
}

// Key returns the record's identity.
func (r *FunctionRecord) Key() FunctionKey {
	return FunctionKey{Address: r.Address, Class: r.Class, Function: r.Function}
}
