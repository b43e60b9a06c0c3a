// Package frame holds the identifier and key model shared by every stage of
// a reconciliation run: frame codes, placements, and the bidirectional
// mapping between (frame, placement) pairs and storage keys.
package frame

import (
	"fmt"
	"regexp"
	"strings"
)

// Bucket is the coarse destination partition of the ML tree.
type Bucket string

const (
	Train    Bucket = "train"
	Validate Bucket = "validate"
	Test     Bucket = "test"
)

// Buckets lists every valid bucket, in canonical order.
var Buckets = []Bucket{Train, Validate, Test}

// ParseBucket reports whether s names a known bucket.
func ParseBucket(s string) (Bucket, bool) {
	switch Bucket(s) {
	case Train, Validate, Test:
		return Bucket(s), true
	}
	return "", false
}

// UnitCode identifies one reconciliation scope (one episode).
type UnitCode struct {
	Season  int
	Episode int
}

var unitRe = regexp.MustCompile(`^S(\d{2})E(\d{2})$`)

// ParseUnit parses an episode id like "S01E02".
func ParseUnit(s string) (UnitCode, error) {
	m := unitRe.FindStringSubmatch(strings.ToUpper(s))
	if m == nil {
		return UnitCode{}, fmt.Errorf("invalid unit code %q", s)
	}
	var u UnitCode
	fmt.Sscanf(m[1], "%d", &u.Season)
	fmt.Sscanf(m[2], "%d", &u.Episode)
	return u, nil
}

// String renders the canonical episode id, e.g. "S01E02".
func (u UnitCode) String() string {
	return fmt.Sprintf("S%02dE%02d", u.Season, u.Episode)
}

// Lower renders the lowercase form used in storage paths, e.g. "s01e02".
func (u UnitCode) Lower() string {
	return strings.ToLower(u.String())
}

// FrameCodePrefix renders the prefix every frame code of this unit carries,
// e.g. "TT_S01_E02_FRM".
func (u UnitCode) FrameCodePrefix() string {
	return fmt.Sprintf("TT_S%02d_E%02d_FRM", u.Season, u.Episode)
}

// ID identifies one image frame within a unit. Offset is the timestamp-like
// group of the frame code, e.g. "00-00-08-20".
type ID struct {
	Unit   UnitCode
	Offset string
}

var frameRe = regexp.MustCompile(`^TT_S(\d{2})_E(\d{2})_FRM-(\d{2}-\d{2}-\d{2}-\d{2})$`)

// ParseCode parses a full frame code like "TT_S01_E02_FRM-00-00-08-20".
func ParseCode(s string) (ID, error) {
	m := frameRe.FindStringSubmatch(s)
	if m == nil {
		return ID{}, fmt.Errorf("invalid frame code %q", s)
	}
	var u UnitCode
	fmt.Sscanf(m[1], "%d", &u.Season)
	fmt.Sscanf(m[2], "%d", &u.Episode)
	return ID{Unit: u, Offset: m[3]}, nil
}

// String renders the canonical frame code. Same frame always renders the
// same string; the diff relies on this for map keys.
func (f ID) String() string {
	return f.Unit.FrameCodePrefix() + "-" + f.Offset
}

// Placement is the (bucket, class) pair that determines a frame's key.
type Placement struct {
	Bucket Bucket
	Class  string
}

// Equal reports field-wise equality; the reconciler's no-op test.
func (p Placement) Equal(o Placement) bool { return p.Bucket == o.Bucket && p.Class == o.Class }

func (p Placement) String() string { return string(p.Bucket) + "/" + p.Class }

// DesiredRecord is one row of desired state: where a frame should live and
// the source key its content can be copied from.
type DesiredRecord struct {
	Frame     ID
	SrcKey    string
	Placement Placement
}

// ActualRecord is one observed object, decoded back from its storage key.
type ActualRecord struct {
	Frame     ID
	Key       string
	Placement Placement
}

// ParseError reports a storage key that does not decode to a valid
// (frame, placement) pair. Callers treat this as data corruption under the
// scanned prefix, never as a missing record.
type ParseError struct {
	Key    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparsable key %q: %s", e.Key, e.Reason)
}

// Layout renders and parses the ML tree keys:
//
//	<root>/<s01e02>/ML/<bucket>/<class>/<frame code><ext>
//
// Key and ParseKey are exact inverses for valid inputs.
type Layout struct {
	RootPrefix string // e.g. "tuttle_twins"
	Ext        string // e.g. ".jpg"
}

// DefaultLayout matches the production media tree.
var DefaultLayout = Layout{RootPrefix: "tuttle_twins", Ext: ".jpg"}

// UnitPrefix returns the listing prefix for a unit's ML tree, with a
// trailing slash.
func (l Layout) UnitPrefix(u UnitCode) string {
	return l.RootPrefix + "/" + u.Lower() + "/ML/"
}

// Key renders the storage key for a frame at a placement.
func (l Layout) Key(f ID, p Placement) string {
	return l.UnitPrefix(f.Unit) + string(p.Bucket) + "/" + p.Class + "/" + f.String() + l.Ext
}

// ParseKey decodes a storage key under unit u back into an ActualRecord.
func (l Layout) ParseKey(u UnitCode, key string) (ActualRecord, error) {
	prefix := l.UnitPrefix(u)
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok {
		return ActualRecord{}, &ParseError{Key: key, Reason: "outside unit prefix " + prefix}
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return ActualRecord{}, &ParseError{Key: key, Reason: fmt.Sprintf("want bucket/class/file, got %d segments", len(parts))}
	}
	bucket, ok := ParseBucket(parts[0])
	if !ok {
		return ActualRecord{}, &ParseError{Key: key, Reason: "unknown bucket " + parts[0]}
	}
	class := parts[1]
	if class == "" {
		return ActualRecord{}, &ParseError{Key: key, Reason: "empty class segment"}
	}
	file, ok := strings.CutSuffix(parts[2], l.Ext)
	if !ok {
		return ActualRecord{}, &ParseError{Key: key, Reason: "missing extension " + l.Ext}
	}
	f, err := ParseCode(file)
	if err != nil {
		return ActualRecord{}, &ParseError{Key: key, Reason: err.Error()}
	}
	if f.Unit != u {
		return ActualRecord{}, &ParseError{Key: key, Reason: "frame code belongs to " + f.Unit.String()}
	}
	return ActualRecord{Frame: f, Key: key, Placement: Placement{Bucket: bucket, Class: class}}, nil
}
