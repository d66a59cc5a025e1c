package dao

// Parameter narrows a List call. Backends ignore names they do not support.
type Parameter struct {
	Name  string
	Value interface{}
}

// Well-known parameter names.
const (
	ParamStatus   = "status"
	ParamCategory = "category"
)

func NewParameter(name string, values ...string) *Parameter {
	if len(values) == 1 {
		return &Parameter{Name: name, Value: values[0]}
	}
	return &Parameter{Name: name, Value: values}
}

// Lookup returns the string value of the named parameter.
func Lookup(name string, parameters ...*Parameter) (string, bool) {
	for _, p := range parameters {
		if p == nil || p.Name != name {
			continue
		}
		if v, ok := p.Value.(string); ok {
			return v, true
		}
	}
	return "", false
}
