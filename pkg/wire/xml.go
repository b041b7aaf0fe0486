package wire

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/printops/driver-config/pkg/group"
	"github.com/printops/driver-config/pkg/lookup"
	"github.com/printops/driver-config/pkg/rules"
)

// elementNamePattern matches the XML element names the external schema
// accepts for dynamic keys (rule names, setting keys).
var elementNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

// ResultsXML renders a lookup result set into the external XML schema:
// a DriverLookupResults root wrapping one Driver element per query name
// in query order. The config element is omitted entirely for misses, and
// the store-internal identifier is never emitted.
func ResultsXML(results []lookup.Result) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")

	w := &xmlWriter{enc: enc}
	w.start("DriverLookupResults")
	for _, r := range results {
		w.start("Driver")
		w.element("driver", r.Driver)
		w.element("found", strconv.FormatBool(r.Found))
		if r.Found && r.Config != nil {
			w.start("config")
			writeConfig(w, r.Config)
			w.end("config")
		}
		w.end("Driver")
	}
	w.end("DriverLookupResults")

	if w.err != nil {
		return nil, w.err
	}
	if err := enc.Flush(); err != nil {
		return nil, fmt.Errorf("flushing XML: %w", err)
	}
	return buf.Bytes(), nil
}

// ErrorXML renders the XML error envelope. It carries the same stable
// kind and message as the JSON error shape.
func ErrorXML(kind, message string) []byte {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")

	w := &xmlWriter{enc: enc}
	w.start("Error")
	if kind != "" {
		w.element("kind", kind)
	}
	w.element("message", message)
	w.end("Error")
	_ = enc.Flush()
	return buf.Bytes()
}

// xmlWriter wraps an xml.Encoder with first-error capture so the schema
// walk reads linearly.
type xmlWriter struct {
	enc *xml.Encoder
	err error
}

func (w *xmlWriter) start(name string, attrs ...xml.Attr) {
	if w.err != nil {
		return
	}
	w.err = w.enc.EncodeToken(xml.StartElement{Name: xml.Name{Local: name}, Attr: attrs})
}

func (w *xmlWriter) end(name string) {
	if w.err != nil {
		return
	}
	w.err = w.enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: name}})
}

func (w *xmlWriter) text(s string) {
	if w.err != nil {
		return
	}
	w.err = w.enc.EncodeToken(xml.CharData(s))
}

func (w *xmlWriter) element(name, value string) {
	w.start(name)
	w.text(value)
	w.end(name)
}

func (w *xmlWriter) fail(field, message string) {
	if w.err == nil {
		w.err = &SerializationError{Field: field, Message: message}
	}
}

// validName reports whether a dynamic key can become an element name.
func validName(name string) bool {
	return elementNamePattern.MatchString(name) &&
		!strings.HasPrefix(strings.ToLower(name), "xml")
}

// writeConfig renders a narrowed DriverGroup. History and the internal
// identifier stay out of the external schema.
func writeConfig(w *xmlWriter, g *group.Group) {
	w.element("groupId", g.GroupID)
	w.element("groupName", g.GroupName)
	if g.Notes != "" {
		w.element("notes", g.Notes)
	}
	if g.DataSource != "" {
		w.element("dataSource", string(g.DataSource))
	}
	w.element("enabled", strconv.FormatBool(g.Enabled))

	w.start("drivers")
	for _, e := range g.Drivers {
		if e.Enabled != nil {
			w.start("driver", xml.Attr{
				Name:  xml.Name{Local: "enabled"},
				Value: strconv.FormatBool(*e.Enabled),
			})
			w.text(e.Name)
			w.end("driver")
			continue
		}
		w.element("driver", e.Name)
	}
	w.end("drivers")

	if g.MetadataRules.Len() > 0 {
		w.start("metadataRules")
		for _, name := range g.MetadataRules.Names() {
			if !validName(name) {
				w.fail("metadataRules", fmt.Sprintf("rule name %q is not a valid XML element name", name))
				return
			}
			rule, _ := g.MetadataRules.Get(name)
			w.start(name)
			writeRule(w, rule)
			w.end(name)
		}
		w.end("metadataRules")
	}

	if g.DriverSettings != nil {
		w.start("driverSettings")
		for _, s := range g.DriverSettings {
			w.start("setting")
			writeSetting(w, s)
			w.end("setting")
		}
		w.end("driverSettings")
	}

	w.element("version", strconv.Itoa(g.Version))
	if !g.UpdatedAt.IsZero() {
		w.element("updatedAt", g.UpdatedAt.Format(time.RFC3339))
	}
}

func writeRule(w *xmlWriter, r rules.Rule) {
	if r.Hardcoded != nil {
		w.element("hardcoded", strconv.FormatBool(*r.Hardcoded))
	}
	if r.Offset != nil {
		w.element("offset", strconv.Itoa(*r.Offset))
	}
	if r.Type != "" {
		w.element("type", string(r.Type))
	}
	if r.ConditionalOffset != nil {
		w.element("conditionalOffset", strconv.Itoa(*r.ConditionalOffset))
	}
	if r.ConditionalValue != nil {
		w.element("conditionalValue", strconv.Itoa(*r.ConditionalValue))
	}
	if r.Condition != nil {
		w.start("condition")
		w.element("operator", string(r.Condition.Operator))
		if r.Condition.Value != nil {
			w.element("value", strconv.Itoa(*r.Condition.Value))
		}
		if len(r.Condition.Values) > 0 {
			w.start("values")
			for _, v := range r.Condition.Values {
				w.element("value", strconv.Itoa(v))
			}
			w.end("values")
		}
		w.end("condition")
	}
	if r.Mapping.Len() > 0 {
		writeMapping(w, r.Mapping)
	}
	if r.Default != nil {
		w.element("default", r.Default.String())
	}
	if r.Result != nil {
		w.element("result", strconv.FormatBool(*r.Result))
	}
	if r.Description != "" {
		w.element("description", r.Description)
	}
	if r.Complex != nil {
		w.start("complexCondition")
		writeComparison(w, "first", r.Complex.First)
		writeComparison(w, "second", r.Complex.Second)
		w.start("action")
		if r.Complex.Action.SetBooklet != nil {
			w.element("setBooklet", strconv.FormatBool(*r.Complex.Action.SetBooklet))
		}
		if r.Complex.Action.SetPagesPerSheet != nil {
			w.element("setPagesPerSheet", strconv.Itoa(*r.Complex.Action.SetPagesPerSheet))
		}
		w.end("action")
		w.end("complexCondition")
	}
}

// writeMapping encodes a mapping as a repeated item element list in
// insertion order, never as a native map.
func writeMapping(w *xmlWriter, m *rules.Mapping) {
	w.start("mapping")
	for _, e := range m.Entries() {
		w.start("item")
		w.element("key", e.Key)
		w.element("value", e.Value.String())
		w.end("item")
	}
	w.end("mapping")
}

func writeComparison(w *xmlWriter, name string, c rules.Comparison) {
	w.start(name)
	w.element("offset", strconv.Itoa(c.Offset))
	w.element("operator", string(c.Operator))
	w.element("value", strconv.Itoa(c.Value))
	w.end(name)
}

// writeSetting renders one per-driver override block. driverName leads;
// the remaining opaque keys follow in sorted order for determinism.
func writeSetting(w *xmlWriter, s group.DriverSetting) {
	if name := s.DriverName(); name != "" {
		w.element("driverName", name)
	}
	keys := make([]string, 0, len(s))
	for k := range s {
		if k == "driverName" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeValue(w, "driverSettings."+k, k, s[k])
	}
}

// writeValue renders an opaque JSON value. Objects become nested
// elements, arrays become repeated item elements, scalars become text.
func writeValue(w *xmlWriter, path, name string, v any) {
	if !validName(name) {
		w.fail(path, fmt.Sprintf("key %q is not a valid XML element name", name))
		return
	}
	switch val := v.(type) {
	case map[string]any:
		w.start(name)
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			writeValue(w, path+"."+k, k, val[k])
		}
		w.end(name)
	case []any:
		w.start(name)
		for _, item := range val {
			writeValue(w, path+".item", "item", item)
		}
		w.end(name)
	default:
		w.element(name, scalarText(val))
	}
}

// scalarText formats a JSON scalar the way it appeared in the document.
func scalarText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}
