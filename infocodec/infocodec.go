// Package infocodec implements the schema-less key/value encoder/decoder
// described in spec §4.1: a self-delimiting ASCII (JSON) tree, one root key
// bound to an ordered list of single-key items, with support for nested
// children and associative "table" children.
//
// The wire shape mirrors the teacher's bifaci.EncodeFrame/DecodeFrame
// map-building style (bifaci/codec.go), adapted from CBOR integer keys to
// a JSON tree because spec §4.1 requires an ASCII, human-diffable format.
package infocodec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Key is a plain string key, matching the C++ source's `using Key = const
// std::string`.
type Key = string

// InfoCodec accumulates items under a mutex for encode, or walks a decoded
// item list on decode. A single instance is either primarily an encoder or
// primarily a decoder, selected by decodeOnly, but set() always writes
// through to a target pointer when one is supplied regardless of mode.
type InfoCodec struct {
	infoKey    string
	decodeOnly bool

	mu    sync.Mutex
	items []map[string]interface{} // pending encode-side items, insertion order

	current map[string]json.RawMessage // decode-side: the item under visitor()

	// ValidateSchema gates decode() with a gojsonschema pre-check of the
	// root document's shape before any per-item visitor runs, per
	// SPEC_FULL.md's domain-stack wiring. Off by default: the cost is
	// only worth paying for untrusted wire input (e.g. GlobalNodeInfo
	// fleet decode), not for small local round-trips.
	ValidateSchema bool
}

// New creates an InfoCodec bound to infoKey. decodeOnly codecs never
// accumulate encode items; set() on them only performs the target
// write-through.
func New(infoKey string, decodeOnly bool) *InfoCodec {
	return &InfoCodec{infoKey: infoKey, decodeOnly: decodeOnly}
}

// InfoKey returns the root key this codec encodes/decodes under.
func (c *InfoCodec) InfoKey() string { return c.infoKey }

// DecodeOnly reports whether this codec ever accumulates encode items.
func (c *InfoCodec) DecodeOnly() bool { return c.decodeOnly }

// Clear drops any pending encode items.
func (c *InfoCodec) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
}

// IsEmpty reports whether there are no pending encode items.
func (c *InfoCodec) IsEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items) == 0
}

// Set appends {key: value} as a new single-key item to the pending list (if
// this codec is encode-capable), and writes *target = value when target is
// non-nil. In decode-only mode, only the write-through happens.
func Set[T any](c *InfoCodec, key Key, value T, target *T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if target != nil {
		*target = value
	}
	if c.decodeOnly {
		return
	}
	c.items = append(c.items, map[string]interface{}{key: value})
}

// SetVec serializes a float vector as "N v0 v1 ... v_{N-1}" before storing,
// per spec §4.1's setVec contract.
func SetVec(c *InfoCodec, key Key, value []float64, target *[]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if target != nil {
		*target = append([]float64(nil), value...)
	}
	if c.decodeOnly {
		return
	}
	c.items = append(c.items, map[string]interface{}{key: encodeVec(value)})
}

func encodeVec(v []float64) string {
	parts := make([]string, 0, len(v)+1)
	parts = append(parts, strconv.Itoa(len(v)))
	for _, f := range v {
		parts = append(parts, strconv.FormatFloat(f, 'g', -1, 64))
	}
	return strings.Join(parts, " ")
}

func decodeVec(s string) ([]float64, bool) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, false
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n < 0 || len(fields) != n+1 {
		return nil, false
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		f, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}

// GetVecFloat reads a setVec-encoded field from the current decode item.
func (c *InfoCodec) GetVecFloat(key Key) ([]float64, bool) {
	raw, ok := c.currentField(key)
	if !ok {
		return nil, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false
	}
	return decodeVec(s)
}

func (c *InfoCodec) currentField(key Key) (json.RawMessage, bool) {
	if c.current == nil {
		return nil, false
	}
	raw, ok := c.current[key]
	return raw, ok
}

// Get reads a scalar field of type T from the current decode item. A
// missing key is not an error: it returns false.
func Get[T any](c *InfoCodec, key Key, out *T) bool {
	raw, ok := c.currentField(key)
	if !ok {
		return false
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	*out = v
	return true
}

var rootSchema = `{
  "type": "object",
  "minProperties": 1
}`

// Encode serializes root = {infoKey: [item, ...]} and drains the pending
// item list. Returns false (not an error) when there was nothing to
// encode, matching spec §4.1.
func (c *InfoCodec) Encode() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.decodeOnly || len(c.items) == 0 {
		return nil, false
	}
	root := map[string]interface{}{c.infoKey: c.items}
	buf, err := json.Marshal(root)
	if err != nil {
		return nil, false
	}
	c.items = nil
	return buf, true
}

// EncodeChild folds child's accumulated items into this codec as a nested
// value {childKey: {child.infoKey: [...]}} and drains the child. No-op if
// child has nothing pending.
func (c *InfoCodec) EncodeChild(childKey Key, child *InfoCodec) {
	child.mu.Lock()
	if len(child.items) == 0 {
		child.mu.Unlock()
		return
	}
	nested := map[string]interface{}{child.infoKey: child.items}
	child.items = nil
	child.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.decodeOnly {
		return
	}
	c.items = append(c.items, map[string]interface{}{childKey: nested})
}

// EncodeTable folds item's accumulated items into this codec as an
// associative entry {tableKey: {itemKey: {item.infoKey: [...]}}}.
func (c *InfoCodec) EncodeTable(tableKey, itemKey Key, item *InfoCodec) {
	item.mu.Lock()
	if len(item.items) == 0 {
		item.mu.Unlock()
		return
	}
	nested := map[string]interface{}{item.infoKey: item.items}
	item.items = nil
	item.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.decodeOnly {
		return
	}
	c.items = append(c.items, map[string]interface{}{
		tableKey: map[string]interface{}{itemKey: nested},
	})
}

// DecodeError indicates a parse failure or a visitor veto; in-memory state
// of the codec is left unchanged (spec §4.1 failure mode).
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return fmt.Sprintf("infocodec: decode failed: %s", e.Reason) }

// Decode parses inBytes, then for each item in the infoKey array sets it
// as the "current" item and invokes visitor(). Returns the number of items
// consumed, or an error on parse failure or visitor veto.
func (c *InfoCodec) Decode(inBytes []byte, visitor func() bool) (int, error) {
	if c.ValidateSchema {
		if err := validateRootShape(inBytes); err != nil {
			return 0, &DecodeError{Reason: err.Error()}
		}
	}

	var root map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(inBytes))
	dec.UseNumber()
	if err := dec.Decode(&root); err != nil {
		return 0, &DecodeError{Reason: err.Error()}
	}

	groupRaw, ok := root[c.infoKey]
	if !ok {
		return 0, nil
	}
	var group []map[string]json.RawMessage
	if err := json.Unmarshal(groupRaw, &group); err != nil {
		return 0, &DecodeError{Reason: err.Error()}
	}

	total := 0
	for _, item := range group {
		c.current = item
		if !visitor() {
			return 0, &DecodeError{Reason: "visitor vetoed item"}
		}
		total++
	}
	return total, nil
}

func validateRootShape(inBytes []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(rootSchema)
	docLoader := gojsonschema.NewBytesLoader(inBytes)
	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return err
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("root shape invalid: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// DecodeChild extracts the raw nested document for childKey from the
// current decode item. Returns ok=false (not an error) when absent.
func (c *InfoCodec) DecodeChild(childKey Key) ([]byte, bool) {
	raw, ok := c.currentField(childKey)
	if !ok {
		return nil, false
	}
	return raw, true
}

// DecodeTable extracts the single (itemKey, itemData) pair nested under
// tableKey in the current decode item. Returns ok=false when tableKey is
// absent or its value doesn't have exactly one member.
func (c *InfoCodec) DecodeTable(tableKey Key) (itemKey string, itemData []byte, ok bool) {
	raw, present := c.currentField(tableKey)
	if !present {
		return "", nil, false
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil || len(m) != 1 {
		return "", nil, false
	}
	for k, v := range m {
		return k, v, true
	}
	return "", nil, false
}
