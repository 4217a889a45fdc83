package fhir

// Parameters represents a FHIR Parameters resource, used as the wire format
// for operation results such as $translate and $lookup.
type Parameters struct {
	ResourceType string      `json:"resourceType"`
	Parameter    []Parameter `json:"parameter"`
}

// Parameter is a single entry in a Parameters resource. Nested parts (as in
// a $translate match) are carried in Part.
type Parameter struct {
	Name         string      `json:"name"`
	ValueBoolean *bool       `json:"valueBoolean,omitempty"`
	ValueString  string      `json:"valueString,omitempty"`
	ValueCode    string      `json:"valueCode,omitempty"`
	ValueURI     string      `json:"valueUri,omitempty"`
	ValueDecimal *float64    `json:"valueDecimal,omitempty"`
	ValueCoding  *Coding     `json:"valueCoding,omitempty"`
	Part         []Parameter `json:"part,omitempty"`
}

// NewParameters creates a Parameters resource from the given entries.
func NewParameters(params ...Parameter) *Parameters {
	return &Parameters{ResourceType: "Parameters", Parameter: params}
}

// BoolParam builds a valueBoolean parameter.
func BoolParam(name string, v bool) Parameter {
	return Parameter{Name: name, ValueBoolean: &v}
}

// StringParam builds a valueString parameter.
func StringParam(name, v string) Parameter {
	return Parameter{Name: name, ValueString: v}
}

// CodeParam builds a valueCode parameter.
func CodeParam(name, v string) Parameter {
	return Parameter{Name: name, ValueCode: v}
}

// CodingParam builds a valueCoding parameter.
func CodingParam(name string, c Coding) Parameter {
	return Parameter{Name: name, ValueCoding: &c}
}

// FindParameter returns the first parameter with the given name, or nil.
func (p *Parameters) FindParameter(name string) *Parameter {
	for i := range p.Parameter {
		if p.Parameter[i].Name == name {
			return &p.Parameter[i]
		}
	}
	return nil
}
