// Package streamparse tracks a streamed JSON response object byte by
// byte, turning arbitrary text fragments into per-field events for the
// structured turn content.
package streamparse

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"stagehand/internal/domain/models"
)

// Field event kinds emitted by the ObjectTracker.
const (
	FieldEventStarted   = "started"
	FieldEventDelta     = "delta"
	FieldEventCompleted = "completed"
)

// FieldEvent is one field-level event produced while tracking a streamed
// response object.
type FieldEvent struct {
	Kind  string
	Field string

	// Delta carries the content that arrived since the previous event for
	// this field. For string fields it is decoded text; for composite
	// values it is raw JSON, and JSON is set.
	Delta string
	JSON  bool

	// Value is the complete raw JSON value. Set on completed events only.
	Value json.RawMessage
}

// FieldSnapshot is the replayable state of one tracked field, used to
// catch up clients that attach mid-stream.
type FieldSnapshot struct {
	Field   string
	Done    bool
	Value   json.RawMessage
	Partial string
	JSON    bool
}

type trackerState int

const (
	stateStart          trackerState = iota // before the opening brace
	stateBody                               // inside the object, between members
	stateKey                                // inside a key string
	statePostKey                            // after a key, before the colon
	statePreValue                           // after the colon, before the value
	stateStringValue                        // inside a string value
	stateCompositeValue                     // inside an object or array value
	stateScalarValue                        // inside a number, boolean, or null
	stateDone                               // after the closing brace
)

type fieldRecord struct {
	name       string
	known      bool
	isString   bool
	completed  bool
	raw        strings.Builder // raw JSON bytes of the value
	text       strings.Builder // decoded text, string values only
	emittedLen int             // how much of raw/text has been emitted as deltas
}

func (r *fieldRecord) contentLen() int {
	if r.isString {
		return r.text.Len()
	}
	return r.raw.Len()
}

func (r *fieldRecord) content() string {
	if r.isString {
		return r.text.String()
	}
	return r.raw.String()
}

// ObjectTracker consumes raw text fragments of one streamed JSON object
// and turns them into per-field events for the response's top-level
// fields (performance, vectors, evolution, meta).
//
// Rules:
//   - A field starts when its key and the first byte of its value have
//     been seen, and completes when the scanner passes the value
//     terminator. A completed value is never re-emitted.
//   - A duplicate top-level key is a malformed response and poisons the
//     tracker.
//   - Unknown top-level keys are consumed without events; Finalize
//     reports them so the caller can log a warning.
//
// Chunk boundaries are arbitrary: fragments may split keys, escape
// sequences, and multi-byte characters, and the tracker holds whatever
// partial state it needs across Feed calls.
//
// Thread-safety: NOT thread-safe. Feed, Snapshot, and Finalize must be
// called from a single goroutine (the generation executor).
type ObjectTracker struct {
	state   trackerState
	keyBuf  strings.Builder
	keyDec  stringDecoder
	valDec  stringDecoder
	current *fieldRecord
	fields  map[string]*fieldRecord

	// composite value scanning
	depth       int
	inString    bool
	compEscaped bool

	unknownKeys []string
	err         error
}

// NewObjectTracker creates a tracker for a single generation.
func NewObjectTracker() *ObjectTracker {
	return &ObjectTracker{
		state:  stateStart,
		fields: make(map[string]*fieldRecord),
	}
}

func (t *ObjectTracker) fail(format string, args ...interface{}) error {
	t.err = fmt.Errorf(format, args...)
	return t.err
}

// Feed consumes one raw fragment and returns the field events it caused,
// in order. Once Feed returns an error the tracker is poisoned and every
// further call fails with the same error.
func (t *ObjectTracker) Feed(chunk string) ([]FieldEvent, error) {
	if t.err != nil {
		return nil, t.err
	}

	var events []FieldEvent
	for i := 0; i < len(chunk); i++ {
		var err error
		events, err = t.processByte(chunk[i], events)
		if err != nil {
			return events, err
		}
	}

	return t.flushDelta(events), nil
}

func isJSONWhitespace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func (t *ObjectTracker) processByte(b byte, events []FieldEvent) ([]FieldEvent, error) {
	switch t.state {
	case stateStart:
		if isJSONWhitespace(b) {
			return events, nil
		}
		if b != '{' {
			return events, t.fail("expected response object, got %q", string(rune(b)))
		}
		t.state = stateBody

	case stateBody:
		if isJSONWhitespace(b) || b == ',' {
			return events, nil
		}
		switch b {
		case '"':
			t.keyBuf.Reset()
			t.keyDec = stringDecoder{}
			t.state = stateKey
		case '}':
			t.state = stateDone
		default:
			return events, t.fail("unexpected character %q in response object", string(rune(b)))
		}

	case stateKey:
		out, closed, err := t.keyDec.feed(b)
		if err != nil {
			return events, t.fail("malformed object key: %v", err)
		}
		t.keyBuf.WriteString(out)
		if closed {
			t.state = statePostKey
		}

	case statePostKey:
		if isJSONWhitespace(b) {
			return events, nil
		}
		if b != ':' {
			return events, t.fail("expected ':' after key %q", t.keyBuf.String())
		}
		t.state = statePreValue

	case statePreValue:
		if isJSONWhitespace(b) {
			return events, nil
		}
		var err error
		events, err = t.startField(b, events)
		if err != nil {
			return events, err
		}

	case stateStringValue:
		t.current.raw.WriteByte(b)
		out, closed, err := t.valDec.feed(b)
		if err != nil {
			return events, t.fail("malformed value for %q: %v", t.current.name, err)
		}
		t.current.text.WriteString(out)
		if closed {
			events = t.completeCurrent(events)
			t.state = stateBody
		}

	case stateCompositeValue:
		t.current.raw.WriteByte(b)
		if t.inString {
			switch {
			case t.compEscaped:
				t.compEscaped = false
			case b == '\\':
				t.compEscaped = true
			case b == '"':
				t.inString = false
			}
			return events, nil
		}
		switch b {
		case '"':
			t.inString = true
		case '{', '[':
			t.depth++
		case '}', ']':
			t.depth--
			if t.depth == 0 {
				events = t.completeCurrent(events)
				t.state = stateBody
			}
		}

	case stateScalarValue:
		if b == ',' || b == '}' || isJSONWhitespace(b) {
			events = t.completeCurrent(events)
			if b == '}' {
				t.state = stateDone
			} else {
				t.state = stateBody
			}
			return events, nil
		}
		t.current.raw.WriteByte(b)

	case stateDone:
		if !isJSONWhitespace(b) {
			return events, t.fail("unexpected content after response object")
		}
	}

	return events, nil
}

// startField begins tracking the value whose first byte is b.
func (t *ObjectTracker) startField(b byte, events []FieldEvent) ([]FieldEvent, error) {
	name := t.keyBuf.String()
	if _, exists := t.fields[name]; exists {
		return events, t.fail("duplicate top-level key %q", name)
	}

	known := false
	for _, f := range models.TopLevelFields() {
		if f == name {
			known = true
			break
		}
	}

	record := &fieldRecord{name: name, known: known}
	t.fields[name] = record
	t.current = record
	if !known {
		t.unknownKeys = append(t.unknownKeys, name)
	}

	switch {
	case b == '"':
		record.isString = true
		record.raw.WriteByte(b)
		t.valDec = stringDecoder{}
		t.state = stateStringValue
	case b == '{' || b == '[':
		record.raw.WriteByte(b)
		t.depth = 1
		t.inString = false
		t.compEscaped = false
		t.state = stateCompositeValue
	case b == '}' || b == ']' || b == ',':
		return events, t.fail("missing value for key %q", name)
	default:
		record.raw.WriteByte(b)
		t.state = stateScalarValue
	}

	if known {
		events = append(events, FieldEvent{Kind: FieldEventStarted, Field: name})
	}
	return events, nil
}

// flushDelta emits the not-yet-emitted content of the in-flight field.
func (t *ObjectTracker) flushDelta(events []FieldEvent) []FieldEvent {
	r := t.current
	if r == nil || r.completed {
		return events
	}
	total := r.contentLen()
	if total == r.emittedLen {
		return events
	}
	if r.known {
		events = append(events, FieldEvent{
			Kind:  FieldEventDelta,
			Field: r.name,
			Delta: r.content()[r.emittedLen:],
			JSON:  !r.isString,
		})
	}
	r.emittedLen = total
	return events
}

// completeCurrent finalizes the in-flight field and emits its events.
func (t *ObjectTracker) completeCurrent(events []FieldEvent) []FieldEvent {
	events = t.flushDelta(events)
	r := t.current
	r.completed = true
	if r.known {
		events = append(events, FieldEvent{
			Kind:  FieldEventCompleted,
			Field: r.name,
			Value: json.RawMessage(r.raw.String()),
		})
	}
	t.current = nil
	return events
}

// Snapshot returns the replayable state of every known field seen so far,
// in canonical field order.
func (t *ObjectTracker) Snapshot() []FieldSnapshot {
	var snaps []FieldSnapshot
	for _, name := range models.TopLevelFields() {
		r, ok := t.fields[name]
		if !ok {
			continue
		}
		snap := FieldSnapshot{Field: name, Done: r.completed, JSON: !r.isString}
		if r.completed {
			snap.Value = json.RawMessage(r.raw.String())
		} else {
			snap.Partial = r.content()
		}
		snaps = append(snaps, snap)
	}
	return snaps
}

// UnknownKeys returns the unknown top-level keys encountered, in order.
func (t *ObjectTracker) UnknownKeys() []string {
	return t.unknownKeys
}

// Finalize is called after a clean stream end. It completes a still-open
// string value (the text that arrived stands as the value), rejects a
// stream that ended inside a key or a composite value, validates the
// assembled object, and returns the final turn content. A previously
// recorded malformation fails Finalize with the same error.
func (t *ObjectTracker) Finalize() (*models.TurnContent, []FieldEvent, error) {
	if t.err != nil {
		return nil, nil, t.err
	}

	var events []FieldEvent
	switch t.state {
	case stateStart:
		return nil, nil, t.fail("empty response")
	case stateKey, statePostKey, statePreValue:
		return nil, nil, t.fail("stream ended inside an object key")
	case stateStringValue:
		// Close the value from the decoded text so the raw form is valid
		// even when the stream died inside an escape sequence.
		r := t.current
		events = t.flushDelta(events)
		r.completed = true
		encoded, err := json.Marshal(r.text.String())
		if err != nil {
			return nil, nil, t.fail("encode partial value for %q: %v", r.name, err)
		}
		r.raw.Reset()
		r.raw.Write(encoded)
		if r.known {
			events = append(events, FieldEvent{
				Kind:  FieldEventCompleted,
				Field: r.name,
				Value: json.RawMessage(encoded),
			})
		}
		t.current = nil
	case stateCompositeValue:
		return nil, events, t.fail("stream ended inside the %q value", t.current.name)
	case stateScalarValue:
		events = t.completeCurrent(events)
	case stateBody, stateDone:
		// A missing closing brace after complete members is tolerated.
	}
	t.state = stateDone

	content, err := t.buildContent()
	if err != nil {
		t.err = err
		return nil, events, err
	}
	return content, events, nil
}

// buildContent decodes the completed raw values into turn content and
// enforces the response contract.
func (t *ObjectTracker) buildContent() (*models.TurnContent, error) {
	content := &models.TurnContent{}

	perf, ok := t.fields[models.FieldPerformance]
	if !ok {
		return nil, fmt.Errorf("response has no %q field", models.FieldPerformance)
	}
	if err := json.Unmarshal(json.RawMessage(perf.raw.String()), &content.Performance); err != nil {
		return nil, fmt.Errorf("%q must be a string: %w", models.FieldPerformance, err)
	}
	if strings.TrimSpace(content.Performance) == "" {
		return nil, fmt.Errorf("response %q is empty", models.FieldPerformance)
	}

	if r, ok := t.fields[models.FieldVectors]; ok && !isJSONNull(r.raw.String()) {
		var vectors models.Vectors
		if err := json.Unmarshal(json.RawMessage(r.raw.String()), &vectors); err != nil {
			return nil, fmt.Errorf("decode %q: %w", models.FieldVectors, err)
		}
		content.Vectors = &vectors
	}

	if r, ok := t.fields[models.FieldEvolution]; ok && !isJSONNull(r.raw.String()) {
		var evolution models.Evolution
		if err := json.Unmarshal(json.RawMessage(r.raw.String()), &evolution); err != nil {
			return nil, fmt.Errorf("decode %q: %w", models.FieldEvolution, err)
		}
		content.Evolution = &evolution
	}

	if r, ok := t.fields[models.FieldMeta]; ok && !isJSONNull(r.raw.String()) {
		var meta string
		if err := json.Unmarshal(json.RawMessage(r.raw.String()), &meta); err != nil {
			return nil, fmt.Errorf("%q must be a string: %w", models.FieldMeta, err)
		}
		content.Meta = &meta
	}

	return content, nil
}

// isJSONNull reports whether a raw value is the JSON null literal.
// Unmarshal treats null as a no-op, which would turn an explicit null
// into a pointer to a zero value instead of an absent field.
func isJSONNull(raw string) bool {
	return strings.TrimSpace(raw) == "null"
}

// stringDecoder incrementally decodes the body of a JSON string, one byte
// at a time, handling escape sequences and surrogate pairs that may be
// split across chunks. Raw UTF-8 bytes pass through untouched.
type stringDecoder struct {
	escaped     bool
	unicodeBuf  []byte
	pendingHigh rune
}

// drainPending flushes a dangling high surrogate as the replacement rune.
func (d *stringDecoder) drainPending() string {
	if d.pendingHigh == 0 {
		return ""
	}
	d.pendingHigh = 0
	return string(utf8.RuneError)
}

func isHexDigit(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

// feed consumes one byte of string body. It returns the decoded output to
// append, and closed=true when the terminating quote was consumed.
func (d *stringDecoder) feed(b byte) (string, bool, error) {
	if d.unicodeBuf != nil {
		if !isHexDigit(b) {
			return "", false, fmt.Errorf("invalid \\u escape digit %q", string(rune(b)))
		}
		d.unicodeBuf = append(d.unicodeBuf, b)
		if len(d.unicodeBuf) < 4 {
			return "", false, nil
		}
		v, _ := strconv.ParseUint(string(d.unicodeBuf), 16, 32)
		d.unicodeBuf = nil
		return d.decodeUnicode(rune(v)), false, nil
	}

	if d.escaped {
		d.escaped = false
		switch b {
		case '"':
			return d.drainPending() + `"`, false, nil
		case '\\':
			return d.drainPending() + `\`, false, nil
		case '/':
			return d.drainPending() + "/", false, nil
		case 'b':
			return d.drainPending() + "\b", false, nil
		case 'f':
			return d.drainPending() + "\f", false, nil
		case 'n':
			return d.drainPending() + "\n", false, nil
		case 'r':
			return d.drainPending() + "\r", false, nil
		case 't':
			return d.drainPending() + "\t", false, nil
		case 'u':
			d.unicodeBuf = make([]byte, 0, 4)
			return "", false, nil
		default:
			return "", false, fmt.Errorf("invalid escape character %q", string(rune(b)))
		}
	}

	switch b {
	case '\\':
		d.escaped = true
		return "", false, nil
	case '"':
		return d.drainPending(), true, nil
	default:
		return d.drainPending() + string([]byte{b}), false, nil
	}
}

// decodeUnicode resolves one \uXXXX code unit, pairing surrogates.
func (d *stringDecoder) decodeUnicode(r rune) string {
	if utf16.IsSurrogate(r) {
		if d.pendingHigh != 0 {
			combined := utf16.DecodeRune(d.pendingHigh, r)
			d.pendingHigh = 0
			if combined == utf8.RuneError {
				// Two high surrogates in a row: the second may still open
				// a valid pair.
				if r >= 0xD800 && r <= 0xDBFF {
					d.pendingHigh = r
				}
				return string(utf8.RuneError)
			}
			return string(combined)
		}
		if r >= 0xD800 && r <= 0xDBFF {
			d.pendingHigh = r
			return ""
		}
		return string(utf8.RuneError)
	}
	return d.drainPending() + string(r)
}
