// Package record keeps the durable per-caller medical record: profile fields,
// dated history entries and the pending buffer of the call in progress.
package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// TimestampLayout is the key format of committed history entries.
const TimestampLayout = "01/02/2006 03:04PM"

// NotAvailable is written for unset profile fields.
const NotAvailable = "N/A"

const (
	keyEntries     = "entries"
	keyFirstName   = "fname"
	keyLastName    = "lname"
	keyAge         = "age"
	keyGender      = "gender"
	keyHeight      = "height"
	keyWeight      = "weight"
	keyCurrentCall = "current_call"
	keyPhoneNumber = "phone_number"
	keyState       = "prediction_state"
	keyTurns       = "prediction_turns"
	keyLanguage    = "prediction_language"
)

var reservedKeys = map[string]bool{
	keyEntries:     true,
	keyCurrentCall: true,
	keyPhoneNumber: true,
	keyState:       true,
	keyTurns:       true,
	keyLanguage:    true,
}

var fieldAliases = map[string]string{
	"first_name": keyFirstName,
	"firstname":  keyFirstName,
	"last_name":  keyLastName,
	"lastname":   keyLastName,
}

type Entry struct {
	Timestamp string
	Bullets   []string
}

type Profile struct {
	FirstName string
	LastName  string
	Age       string
	Gender    string
	Height    string
	Weight    string
}

type Record struct {
	Profile

	Entries     []Entry
	CurrentCall []string
	PhoneNumber string

	// State is the caller's position in the decision tree.
	State string
	// Turns counts answered turns of the current session.
	Turns int
	// Language of the current session.
	Language string

	// Extra keeps keys this package does not model.
	Extra map[string]any

	// raw holds profile values as they were decoded, written back while the
	// field still reads the same.
	raw map[string]rawValue
	// entryGroups is the number of timestamps in each decoded entry object.
	entryGroups []int

	isNew bool
}

type rawValue struct {
	value any
	view  string
}

// New returns the record of a caller seen for the first time. The profile is
// left empty; nothing about the caller is assumed.
func New(phoneNumber string) *Record {
	return &Record{
		PhoneNumber: phoneNumber,
		CurrentCall: []string{},
		Extra:       map[string]any{},
		isNew:       true,
	}
}

// IsNew reports whether the record was never persisted.
func (r *Record) IsNew() bool {
	return r.isNew
}

func (r *Record) profileField(key string) *string {
	switch key {
	case keyFirstName:
		return &r.FirstName
	case keyLastName:
		return &r.LastName
	case keyAge:
		return &r.Age
	case keyGender:
		return &r.Gender
	case keyHeight:
		return &r.Height
	case keyWeight:
		return &r.Weight
	default:
		return nil
	}
}

// Set stores an extracted fact. Empty and unknown values never overwrite
// anything, reserved keys are ignored. It reports whether the record changed.
func (r *Record) Set(key, value string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if alias, ok := fieldAliases[key]; ok {
		key = alias
	}

	value = strings.TrimSpace(value)
	if key == "" || reservedKeys[key] || isUnknownValue(value) {
		return false
	}

	if field := r.profileField(key); field != nil {
		if *field == value {
			return false
		}
		*field = value
		return true
	}

	if r.Extra == nil {
		r.Extra = map[string]any{}
	}
	if current, ok := r.Extra[key]; ok && fmt.Sprint(current) == value {
		return false
	}
	r.Extra[key] = value

	return true
}

// Get returns a profile field or extra value, empty when unset.
func (r *Record) Get(key string) string {
	if alias, ok := fieldAliases[key]; ok {
		key = alias
	}

	if field := r.profileField(key); field != nil {
		return *field
	}

	if value, ok := r.Extra[key]; ok {
		return fmt.Sprint(value)
	}

	return ""
}

// FullName joins the known name parts.
func (r *Record) FullName() string {
	return strings.TrimSpace(r.FirstName + " " + r.LastName)
}

// ResetPosition forgets where the caller was in the tree; the next session
// starts over.
func (r *Record) ResetPosition() {
	r.State = ""
	r.Turns = 0
	r.Language = ""
}

// AddPending appends bullets to the in-progress buffer.
func (r *Record) AddPending(bullets ...string) {
	r.CurrentCall = append(r.CurrentCall, bullets...)
}

// Finalize commits the pending buffer as a history entry stamped with now.
// It is a no-op when the buffer is empty and reports whether an entry was added.
func (r *Record) Finalize(now time.Time) bool {
	if len(r.CurrentCall) == 0 {
		return false
	}

	r.Entries = append(r.Entries, Entry{
		Timestamp: now.Format(TimestampLayout),
		Bullets:   r.CurrentCall,
	})
	r.CurrentCall = []string{}

	return true
}

// AddEntry appends a committed entry directly, bypassing the pending buffer.
func (r *Record) AddEntry(now time.Time, bullets []string) {
	r.Entries = append(r.Entries, Entry{
		Timestamp: now.Format(TimestampLayout),
		Bullets:   bullets,
	})
}

func (r *Record) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(r.Extra)+12)

	for key, value := range r.Extra {
		if reservedKeys[key] || r.profileField(key) != nil {
			continue
		}
		doc[key] = value
	}

	doc[keyEntries] = r.groupEntries()

	for _, key := range []string{keyFirstName, keyLastName, keyAge, keyGender, keyHeight, keyWeight} {
		value := *r.profileField(key)
		if raw, ok := r.raw[key]; ok && raw.view == value {
			doc[key] = raw.value
			continue
		}
		if value == "" {
			value = NotAvailable
		}
		doc[key] = value
	}

	currentCall := r.CurrentCall
	if currentCall == nil {
		currentCall = []string{}
	}
	doc[keyCurrentCall] = currentCall
	doc[keyPhoneNumber] = r.PhoneNumber

	if r.State != "" {
		doc[keyState] = r.State
	}
	if r.Turns > 0 {
		doc[keyTurns] = r.Turns
	}
	if r.Language != "" {
		doc[keyLanguage] = r.Language
	}

	return json.Marshal(doc)
}

// groupEntries packs entries back into the objects they were decoded from.
// Entries added since then get an object each.
func (r *Record) groupEntries() []map[string][]string {
	groups := r.entryGroups
	total := 0
	for _, n := range groups {
		total += n
	}
	if total > len(r.Entries) {
		groups = nil
	}

	result := make([]map[string][]string, 0, len(r.Entries))
	next := 0
	for _, n := range groups {
		obj := make(map[string][]string, n)
		for _, e := range r.Entries[next : next+n] {
			obj[e.Timestamp] = nonNil(e.Bullets)
		}
		result = append(result, obj)
		next += n
	}

	for _, e := range r.Entries[next:] {
		result = append(result, map[string][]string{e.Timestamp: nonNil(e.Bullets)})
	}

	return result
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

func (r *Record) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var doc map[string]any
	if err := decoder.Decode(&doc); err != nil {
		return fmt.Errorf("failed to decode record: %w", err)
	}

	*r = Record{
		CurrentCall: []string{},
		Extra:       map[string]any{},
		raw:         map[string]rawValue{},
	}

	for key, value := range doc {
		switch {
		case key == keyEntries:
			entries, groups, err := decodeEntries(value)
			if err != nil {
				return err
			}
			r.Entries = entries
			r.entryGroups = groups
		case key == keyCurrentCall:
			r.CurrentCall = toStrings(value)
		case key == keyPhoneNumber:
			r.PhoneNumber = scalar(value)
		case key == keyState:
			r.State = scalar(value)
		case key == keyLanguage:
			r.Language = scalar(value)
		case key == keyTurns:
			if n, ok := value.(json.Number); ok {
				turns, _ := n.Int64()
				r.Turns = int(turns)
			}
		case r.profileField(key) != nil:
			v := scalar(value)
			if isUnknownValue(v) {
				v = ""
			}
			*r.profileField(key) = v
			r.raw[key] = rawValue{value: value, view: v}
		default:
			r.Extra[key] = value
		}
	}

	return nil
}

func decodeEntries(value any) ([]Entry, []int, error) {
	if value == nil {
		return nil, nil, nil
	}

	list, ok := value.([]any)
	if !ok {
		return nil, nil, fmt.Errorf("entries must be a list, got %T", value)
	}

	result := make([]Entry, 0, len(list))
	groups := make([]int, 0, len(list))
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, nil, fmt.Errorf("entry must be an object, got %T", item)
		}
		groups = append(groups, len(obj))

		timestamps := make([]string, 0, len(obj))
		for ts := range obj {
			timestamps = append(timestamps, ts)
		}
		sort.Strings(timestamps)

		for _, ts := range timestamps {
			result = append(result, Entry{
				Timestamp: ts,
				Bullets:   toStrings(obj[ts]),
			})
		}
	}

	return result, groups, nil
}

func toStrings(value any) []string {
	list, ok := value.([]any)
	if !ok {
		return []string{}
	}

	result := make([]string, 0, len(list))
	for _, item := range list {
		result = append(result, scalar(item))
	}

	return result
}

func scalar(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func isUnknownValue(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "null", "none", "n/a", "unknown", "<nil>":
		return true
	default:
		return false
	}
}
