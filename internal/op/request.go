package op

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"
)

// Type tags what the execution loop should do with a request.
type Type string

const (
	// TypeQuery is executed by the query executor.
	TypeQuery Type = "query"

	// TypeTransaction is reserved. The loop completes it with a failure.
	TypeTransaction Type = "transaction"
)

// QueryParam is the reserved Strings key that carries the SQL text.
const QueryParam = "query"

// Params holds the request parameters, grouped by kind.
//
// Every scalar parameter other than QueryParam is bound by name when the
// statement runs. Array parameters are carried for the mirror but are never
// bound.
type Params struct {
	Strings      map[string]string   `json:"strings,omitempty"`
	Ints         map[string]int64    `json:"ints,omitempty"`
	Doubles      map[string]float64  `json:"doubles,omitempty"`
	Bools        map[string]bool     `json:"bools,omitempty"`
	StringArrays map[string][]string `json:"string_arrays,omitempty"`
	IntArrays    map[string][]int64  `json:"int_arrays,omitempty"`
}

// SetString sets a string parameter.
func (p *Params) SetString(key, v string) *Params {
	if p.Strings == nil {
		p.Strings = make(map[string]string)
	}
	p.Strings[key] = v
	return p
}

// SetInt sets an integer parameter.
func (p *Params) SetInt(key string, v int64) *Params {
	if p.Ints == nil {
		p.Ints = make(map[string]int64)
	}
	p.Ints[key] = v
	return p
}

// SetDouble sets a floating point parameter.
func (p *Params) SetDouble(key string, v float64) *Params {
	if p.Doubles == nil {
		p.Doubles = make(map[string]float64)
	}
	p.Doubles[key] = v
	return p
}

// SetBool sets a boolean parameter.
func (p *Params) SetBool(key string, v bool) *Params {
	if p.Bools == nil {
		p.Bools = make(map[string]bool)
	}
	p.Bools[key] = v
	return p
}

// SetStringArray sets a string array parameter.
func (p *Params) SetStringArray(key string, v []string) *Params {
	if p.StringArrays == nil {
		p.StringArrays = make(map[string][]string)
	}
	p.StringArrays[key] = slices.Clone(v)
	return p
}

// SetIntArray sets an integer array parameter.
func (p *Params) SetIntArray(key string, v []int64) *Params {
	if p.IntArrays == nil {
		p.IntArrays = make(map[string][]int64)
	}
	p.IntArrays[key] = slices.Clone(v)
	return p
}

// Set stores v under key in the map matching its Go type.
//
// Accepted types: string, bool, int, int32, int64, float32, float64,
// []string, []int64 and []int. nil is stored as an empty string so the
// placeholder still binds (to '' rather than NULL).
func (p *Params) Set(key string, v any) error {
	switch x := v.(type) {
	case nil:
		p.SetString(key, "")
	case string:
		p.SetString(key, x)
	case bool:
		p.SetBool(key, x)
	case int:
		p.SetInt(key, int64(x))
	case int32:
		p.SetInt(key, int64(x))
	case int64:
		p.SetInt(key, x)
	case float32:
		p.SetDouble(key, float64(x))
	case float64:
		p.SetDouble(key, x)
	case []string:
		p.SetStringArray(key, x)
	case []int64:
		p.SetIntArray(key, x)
	case []int:
		ints := make([]int64, len(x))
		for i, n := range x {
			ints[i] = int64(n)
		}
		p.SetIntArray(key, ints)
	default:
		return fmt.Errorf("parameter %q: unsupported type %T", key, v)
	}
	return nil
}

// ParamsFrom builds Params from a plain map.
func ParamsFrom(m map[string]any) (Params, error) {
	var p Params
	for _, k := range slices.Sorted(maps.Keys(m)) {
		if err := p.Set(k, m[k]); err != nil {
			return Params{}, err
		}
	}
	return p, nil
}

// Clone returns a deep copy.
func (p Params) Clone() Params {
	out := Params{
		Strings: maps.Clone(p.Strings),
		Ints:    maps.Clone(p.Ints),
		Doubles: maps.Clone(p.Doubles),
		Bools:   maps.Clone(p.Bools),
	}
	if p.StringArrays != nil {
		out.StringArrays = make(map[string][]string, len(p.StringArrays))
		for k, v := range p.StringArrays {
			out.StringArrays[k] = slices.Clone(v)
		}
	}
	if p.IntArrays != nil {
		out.IntArrays = make(map[string][]int64, len(p.IntArrays))
		for k, v := range p.IntArrays {
			out.IntArrays[k] = slices.Clone(v)
		}
	}
	return out
}

// JSON encodes the parameters for the queue mirror. Keys are sorted.
func (p Params) JSON() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode params: %w", err)
	}
	return string(data), nil
}

// Request is one unit of work submitted to the pipeline.
type Request struct {
	ID        string
	Type      Type
	Params    Params
	CreatedAt time.Time
}

// NewRequest builds a request that owns a copy of params.
func NewRequest(id string, typ Type, params Params, createdAt time.Time) Request {
	return Request{
		ID:        id,
		Type:      typ,
		Params:    params.Clone(),
		CreatedAt: createdAt,
	}
}

// NewQuery builds a TypeQuery request carrying sql under QueryParam.
func NewQuery(id, sql string, params Params, createdAt time.Time) Request {
	req := NewRequest(id, TypeQuery, params, createdAt)
	req.Params.SetString(QueryParam, sql)
	return req
}

// IsZero reports whether r is the empty sentinel returned by an empty dequeue.
func (r Request) IsZero() bool {
	return r.ID == ""
}

// SQL returns the statement text carried under QueryParam.
func (r Request) SQL() string {
	return r.Params.Strings[QueryParam]
}
