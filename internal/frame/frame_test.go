package frame

import (
	"strings"
	"testing"
)

func TestParseUnit(t *testing.T) {
	u, err := ParseUnit("S01E02")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Season != 1 || u.Episode != 2 {
		t.Fatalf("got %+v", u)
	}
	if u.String() != "S01E02" || u.Lower() != "s01e02" {
		t.Fatalf("render: %q %q", u.String(), u.Lower())
	}
	if u.FrameCodePrefix() != "TT_S01_E02_FRM" {
		t.Fatalf("frame code prefix: %q", u.FrameCodePrefix())
	}

	// lowercase input is accepted
	if _, err := ParseUnit("s01e02"); err != nil {
		t.Fatalf("lowercase unit: %v", err)
	}

	for _, bad := range []string{"", "S1E2", "S01", "S01E02X", "E02S01"} {
		if _, err := ParseUnit(bad); err == nil {
			t.Fatalf("ParseUnit(%q) should fail", bad)
		}
	}
}

func TestParseCode(t *testing.T) {
	f, err := ParseCode("TT_S01_E02_FRM-00-00-08-20")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Unit.String() != "S01E02" || f.Offset != "00-00-08-20" {
		t.Fatalf("got %+v", f)
	}
	if f.String() != "TT_S01_E02_FRM-00-00-08-20" {
		t.Fatalf("render: %q", f.String())
	}

	for _, bad := range []string{
		"TT_S01_E02_FRM",
		"TT_S01_E02_FRM-00-00-08",
		"XX_S01_E02_FRM-00-00-08-20",
		"TT_S01_E02_FRM-00-00-08-20.jpg",
	} {
		if _, err := ParseCode(bad); err == nil {
			t.Fatalf("ParseCode(%q) should fail", bad)
		}
	}
}

func TestKeyBijection(t *testing.T) {
	l := DefaultLayout
	u := UnitCode{Season: 1, Episode: 2}
	for _, b := range Buckets {
		for _, class := range []string{"Common", "Uncommon", "Rare", "Legendary"} {
			f := ID{Unit: u, Offset: "00-19-16-19"}
			p := Placement{Bucket: b, Class: class}
			key := l.Key(f, p)
			rec, err := l.ParseKey(u, key)
			if err != nil {
				t.Fatalf("ParseKey(%q): %v", key, err)
			}
			if rec.Frame != f || !rec.Placement.Equal(p) || rec.Key != key {
				t.Fatalf("round trip mismatch: %+v", rec)
			}
		}
	}
}

func TestKeyRender(t *testing.T) {
	l := DefaultLayout
	f := ID{Unit: UnitCode{Season: 1, Episode: 1}, Offset: "00-00-09-01"}
	got := l.Key(f, Placement{Bucket: Validate, Class: "Rare"})
	want := "tuttle_twins/s01e01/ML/validate/Rare/TT_S01_E01_FRM-00-00-09-01.jpg"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestParseKeyErrors(t *testing.T) {
	l := DefaultLayout
	u := UnitCode{Season: 1, Episode: 1}
	cases := map[string]string{
		"other_show/s01e01/ML/train/Common/TT_S01_E01_FRM-00-00-08-11.jpg":  "outside unit prefix",
		"tuttle_twins/s01e01/ML/train/TT_S01_E01_FRM-00-00-08-11.jpg":       "segments",
		"tuttle_twins/s01e01/ML/holdout/Common/TT_S01_E01_FRM-00-00-08.jpg": "unknown bucket",
		"tuttle_twins/s01e01/ML/train/Common/TT_S01_E01_FRM-00-00-08-11":    "missing extension",
		"tuttle_twins/s01e01/ML/train/Common/garbage.jpg":                   "invalid frame code",
		"tuttle_twins/s01e01/ML/train/Common/TT_S01_E02_FRM-00-00-08-11.jpg": "belongs to S01E02",
	}
	for key, wantSub := range cases {
		_, err := l.ParseKey(u, key)
		if err == nil {
			t.Fatalf("ParseKey(%q) should fail", key)
		}
		pe, ok := err.(*ParseError)
		if !ok {
			t.Fatalf("ParseKey(%q): want *ParseError, got %T", key, err)
		}
		if !strings.Contains(pe.Reason, wantSub) {
			t.Fatalf("ParseKey(%q) reason %q missing %q", key, pe.Reason, wantSub)
		}
	}
}
