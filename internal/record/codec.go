package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// wireRecord fixes the key order of the JSON line.
type wireRecord struct {
	Name      string              `json:"name"`
	Vers      string              `json:"vers"`
	Deps      []wireDep           `json:"deps"`
	Cksum     string              `json:"cksum"`
	Features  map[string][]string `json:"features"`
	Yanked    bool                `json:"yanked"`
	Links     *string             `json:"links,omitempty"`
	V         int                 `json:"v,omitempty"`
	Features2 map[string][]string `json:"features2,omitempty"`
}

type wireDep struct {
	Name            string   `json:"name"`
	Req             string   `json:"req"`
	Features        []string `json:"features"`
	Optional        bool     `json:"optional"`
	DefaultFeatures bool     `json:"default_features"`
	Target          *string  `json:"target,omitempty"`
	Kind            string   `json:"kind,omitempty"`
	Registry        *string  `json:"registry,omitempty"`
	Package         *string  `json:"package,omitempty"`
}

// UnmarshalJSON defaults default_features to true when the key is absent.
func (d *wireDep) UnmarshalJSON(b []byte) error {
	type plain wireDep
	p := plain{DefaultFeatures: true}
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*d = wireDep(p)
	return nil
}

var (
	recordKeys   = []string{"name", "vers", "deps", "cksum", "features", "yanked", "links", "v", "features2"}
	requiredKeys = []string{"name", "vers", "deps", "cksum", "features", "yanked"}
	depKeys      = []string{"name", "req", "features", "optional", "default_features", "target", "kind", "registry", "package"}
)

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Encode returns the canonical single-line JSON of r without a trailing
// newline.
func Encode(r Record) ([]byte, error) {
	w := wireRecord{
		Name:     r.Name,
		Vers:     r.Vers,
		Deps:     make([]wireDep, 0, len(r.Deps)),
		Cksum:    r.Cksum,
		Features: make(map[string][]string, len(r.Features)),
		Yanked:   r.Yanked,
		Links:    optional(r.Links),
	}
	for k, v := range r.Features {
		if v == nil {
			v = []string{}
		}
		w.Features[k] = v
	}
	if r.Schema() == SchemaV2 {
		w.V = int(SchemaV2)
		w.Features2 = r.Features2
	}
	for _, d := range r.Deps {
		kind := d.Kind
		if kind == "" {
			kind = KindNormal
		}
		features := d.Features
		if features == nil {
			features = []string{}
		}
		w.Deps = append(w.Deps, wireDep{
			Name:            d.Name,
			Req:             d.Req,
			Features:        features,
			Optional:        d.Optional,
			DefaultFeatures: d.DefaultFeatures,
			Target:          optional(d.Target),
			Kind:            string(kind),
			Registry:        optional(d.Registry),
			Package:         optional(d.Package),
		})
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(w); err != nil {
		return nil, fmt.Errorf("cannot encode %s: %w", r.ID(), err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// EncodeLine is Encode followed by a newline.
func EncodeLine(r Record) ([]byte, error) {
	b, err := Encode(r)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Decode parses one record line, ignoring unknown keys.
func Decode(line []byte) (Record, error) {
	var w wireRecord
	if err := json.Unmarshal(line, &w); err != nil {
		return Record{}, err
	}
	return fromWire(w), nil
}

// SchemaError describes why a line does not match the record schema.
type SchemaError struct {
	Field string
	Msg   string
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("field `%s`: %s", e.Field, e.Msg)
}

// DecodeStrict parses one record line and rejects anything that is not a
// well-formed record: invalid JSON, unknown or missing keys, a `v` other
// than 1 or 2, or features2 on a v1 record. The returned error is a
// *SchemaError.
func DecodeStrict(line []byte) (Record, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return Record{}, &SchemaError{Msg: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if f := firstUnknown(raw, recordKeys); f != "" {
		return Record{}, &SchemaError{Field: f, Msg: "unknown key"}
	}
	for _, k := range requiredKeys {
		if _, ok := raw[k]; !ok {
			return Record{}, &SchemaError{Field: k, Msg: "missing required key"}
		}
	}
	var deps []map[string]json.RawMessage
	if err := json.Unmarshal(raw["deps"], &deps); err != nil {
		return Record{}, &SchemaError{Field: "deps", Msg: err.Error()}
	}
	for i, d := range deps {
		if f := firstUnknown(d, depKeys); f != "" {
			return Record{}, &SchemaError{Field: fmt.Sprintf("deps[%d].%s", i, f), Msg: "unknown key"}
		}
		for _, k := range []string{"name", "req"} {
			if _, ok := d[k]; !ok {
				return Record{}, &SchemaError{Field: fmt.Sprintf("deps[%d].%s", i, k), Msg: "missing required key"}
			}
		}
	}

	var w wireRecord
	if err := json.Unmarshal(line, &w); err != nil {
		return Record{}, &SchemaError{Msg: err.Error()}
	}
	if _, ok := raw["v"]; ok && w.V != int(SchemaV1) && w.V != int(SchemaV2) {
		return Record{}, &SchemaError{Field: "v", Msg: fmt.Sprintf("unsupported schema version %d", w.V)}
	}
	if _, ok := raw["features2"]; ok && w.V < int(SchemaV2) {
		return Record{}, &SchemaError{Field: "features2", Msg: "features2 requires v >= 2"}
	}
	return fromWire(w), nil
}

func firstUnknown(m map[string]json.RawMessage, known []string) string {
	var unknown []string
	for k := range m {
		found := false
		for _, kk := range known {
			if k == kk {
				found = true
				break
			}
		}
		if !found {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return ""
	}
	sort.Strings(unknown)
	return strings.Join(unknown, ",")
}

func fromWire(w wireRecord) Record {
	r := Record{
		Name:      w.Name,
		Vers:      w.Vers,
		Deps:      make([]Dependency, 0, len(w.Deps)),
		Cksum:     w.Cksum,
		Features:  w.Features,
		Yanked:    w.Yanked,
		Links:     deref(w.Links),
		V:         SchemaV1,
		Features2: w.Features2,
	}
	if w.V == int(SchemaV2) {
		r.V = SchemaV2
	}
	if r.Features == nil {
		r.Features = map[string][]string{}
	}
	for _, d := range w.Deps {
		kind := DepKind(d.Kind)
		if kind == "" {
			kind = KindNormal
		}
		r.Deps = append(r.Deps, Dependency{
			Name:            d.Name,
			Req:             d.Req,
			Features:        d.Features,
			Optional:        d.Optional,
			DefaultFeatures: d.DefaultFeatures,
			Target:          deref(d.Target),
			Kind:            kind,
			Registry:        deref(d.Registry),
			Package:         deref(d.Package),
		})
	}
	return r
}
