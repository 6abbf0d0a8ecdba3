package feed

import (
	"archive/zip"
	"bytes"
	"errors"
	"testing"
	"time"
)

var captured = time.Date(2026, 3, 14, 6, 0, 0, 0, time.UTC)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func wantMalformed(t *testing.T, err error, kind Kind) *MalformedError {
	t.Helper()
	if err == nil {
		t.Fatalf("expected malformed feed error of kind %s, got nil", kind)
	}
	if !errors.Is(err, ErrMalformedFeed) {
		t.Fatalf("errors.Is(err, ErrMalformedFeed) = false for %v", err)
	}
	var me *MalformedError
	if !errors.As(err, &me) {
		t.Fatalf("expected *MalformedError, got %T", err)
	}
	if me.Kind != kind {
		t.Fatalf("Kind = %q, want %q (%v)", me.Kind, kind, err)
	}
	return me
}

func TestExtract_ParsesRowsInOrder(t *testing.T) {
	payload := buildZip(t, map[string]string{
		"export/WheelInvPriceData.CSV": "PartNumber,PartDescription,TotalQOH,MSRP\n" +
			"00123,Wheel 17x8,10,199.99\n" +
			"AB-1, Cap ,5.0,12\n" +
			"000,Spacer,-2,1\n",
	})

	snap, err := NewExtractor(Options{}).Extract("msg-1", captured, payload)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	want := []Row{
		{SKU: "123", Description: "Wheel 17x8", Quantity: 10},
		{SKU: "AB-1", Description: "Cap", Quantity: 5},
		{SKU: "0", Description: "Spacer", Quantity: -2},
	}
	if snap.Len() != len(want) {
		t.Fatalf("Len() = %d, want %d", snap.Len(), len(want))
	}
	for i, r := range want {
		if snap.Rows[i] != r {
			t.Errorf("Rows[%d] = %+v, want %+v", i, snap.Rows[i], r)
		}
	}
	if snap.SourceID != "msg-1" {
		t.Errorf("SourceID = %q, want %q", snap.SourceID, "msg-1")
	}
	if !snap.CapturedAt.Equal(captured) {
		t.Errorf("CapturedAt = %v, want %v", snap.CapturedAt, captured)
	}
	if got := snap.TotalQuantity(); got != 13 {
		t.Errorf("TotalQuantity() = %d, want 13", got)
	}
	if r, ok := snap.Lookup("123"); !ok || r.Quantity != 10 {
		t.Errorf("Lookup(123) = %+v, %v", r, ok)
	}
}

func TestExtract_ToleratesBOMAndHeaderCase(t *testing.T) {
	payload := buildZip(t, map[string]string{
		"wheelInvPriceData.csv": "\ufeffpartnumber, PartDescription ,TOTALQOH\nX1,Lug,3\n",
	})

	snap, err := NewExtractor(Options{}).Extract("m", captured, payload)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if snap.Len() != 1 || snap.Rows[0].SKU != "X1" {
		t.Fatalf("Rows = %+v", snap.Rows)
	}
}

func TestExtract_CustomColumns(t *testing.T) {
	payload := buildZip(t, map[string]string{
		"feed.csv": "sku,name,qty\nA,Alpha,1\n",
	})
	ex := NewExtractor(Options{CSVName: "feed.csv", Columns: Columns{Key: "sku", Description: "name", Quantity: "qty"}})

	snap, err := ex.Extract("m", captured, payload)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if snap.Rows[0] != (Row{SKU: "A", Description: "Alpha", Quantity: 1}) {
		t.Errorf("Rows[0] = %+v", snap.Rows[0])
	}
}

func TestExtract_Malformed(t *testing.T) {
	header := "PartNumber,PartDescription,TotalQOH\n"
	tests := []struct {
		name    string
		payload func(t *testing.T) []byte
		kind    Kind
		line    int
	}{
		{
			name:    "not a zip",
			payload: func(t *testing.T) []byte { return []byte("PartNumber,TotalQOH\n1,2\n") },
			kind:    KindContainer,
		},
		{
			name: "csv entry absent",
			payload: func(t *testing.T) []byte {
				return buildZip(t, map[string]string{"other.csv": header + "A,a,1\n"})
			},
			kind: KindPayloadMissing,
		},
		{
			name: "missing quantity column",
			payload: func(t *testing.T) []byte {
				return buildZip(t, map[string]string{"wheelInvPriceData.csv": "PartNumber,PartDescription\nA,a\n"})
			},
			kind: KindMissingColumns,
			line: 1,
		},
		{
			name: "non numeric quantity",
			payload: func(t *testing.T) []byte {
				return buildZip(t, map[string]string{"wheelInvPriceData.csv": header + "A,a,1\nB,b,lots\n"})
			},
			kind: KindInvalidRow,
			line: 3,
		},
		{
			name: "fractional quantity",
			payload: func(t *testing.T) []byte {
				return buildZip(t, map[string]string{"wheelInvPriceData.csv": header + "A,a,1.5\n"})
			},
			kind: KindInvalidRow,
			line: 2,
		},
		{
			name: "exponent quantity",
			payload: func(t *testing.T) []byte {
				return buildZip(t, map[string]string{"wheelInvPriceData.csv": header + "A,a,1e3\n"})
			},
			kind: KindInvalidRow,
			line: 2,
		},
		{
			name: "empty quantity",
			payload: func(t *testing.T) []byte {
				return buildZip(t, map[string]string{"wheelInvPriceData.csv": header + "A,a,\n"})
			},
			kind: KindInvalidRow,
			line: 2,
		},
		{
			name: "empty key",
			payload: func(t *testing.T) []byte {
				return buildZip(t, map[string]string{"wheelInvPriceData.csv": header + "  ,a,1\n"})
			},
			kind: KindInvalidRow,
			line: 2,
		},
		{
			name: "short row",
			payload: func(t *testing.T) []byte {
				return buildZip(t, map[string]string{"wheelInvPriceData.csv": header + "A,a\n"})
			},
			kind: KindInvalidRow,
			line: 2,
		},
		{
			name: "duplicate key after normalization",
			payload: func(t *testing.T) []byte {
				return buildZip(t, map[string]string{"wheelInvPriceData.csv": header + "007,a,1\n7,b,2\n"})
			},
			kind: KindDuplicateKey,
			line: 3,
		},
		{
			name: "header only",
			payload: func(t *testing.T) []byte {
				return buildZip(t, map[string]string{"wheelInvPriceData.csv": header})
			},
			kind: KindEmpty,
		},
		{
			name: "empty file",
			payload: func(t *testing.T) []byte {
				return buildZip(t, map[string]string{"wheelInvPriceData.csv": ""})
			},
			kind: KindEmpty,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := NewExtractor(Options{}).Extract("m", captured, tt.payload(t))
			me := wantMalformed(t, err, tt.kind)
			if tt.line != 0 && me.Line != tt.line {
				t.Errorf("Line = %d, want %d", me.Line, tt.line)
			}
			if snap.Len() != 0 {
				t.Errorf("expected no rows on failure, got %d", snap.Len())
			}
		})
	}
}

func TestNormalizeSKU(t *testing.T) {
	tests := map[string]string{
		"00123":  "123",
		"000":    "0",
		" 42 ":   "42",
		"0A12":   "0A12",
		"AB-001": "AB-001",
		"":       "",
	}
	for in, want := range tests {
		if got := NormalizeSKU(in); got != want {
			t.Errorf("NormalizeSKU(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSnapshotFingerprint(t *testing.T) {
	rows := []Row{{SKU: "A", Description: "a", Quantity: 1}, {SKU: "B", Description: "b", Quantity: 2}}
	s1, err := NewSnapshot("m1", captured, rows)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := NewSnapshot("m2", captured.Add(time.Hour), rows)
	if err != nil {
		t.Fatal(err)
	}
	if s1.Fingerprint() != s2.Fingerprint() {
		t.Error("identical rows should share a fingerprint")
	}

	changed := append([]Row(nil), rows...)
	changed[1].Quantity = 3
	s3, err := NewSnapshot("m3", captured, changed)
	if err != nil {
		t.Fatal(err)
	}
	if s1.Fingerprint() == s3.Fingerprint() {
		t.Error("different quantities should change the fingerprint")
	}
	if len(s1.Fingerprint()) != 32 {
		t.Errorf("fingerprint length = %d, want 32", len(s1.Fingerprint()))
	}
}

func TestNewSnapshotCopiesRows(t *testing.T) {
	rows := []Row{{SKU: "A", Quantity: 1}}
	s, err := NewSnapshot("m", captured, rows)
	if err != nil {
		t.Fatal(err)
	}
	rows[0].Quantity = 99
	if s.Rows[0].Quantity != 1 {
		t.Errorf("snapshot row mutated through caller slice: %+v", s.Rows[0])
	}
}

func TestParseQuantity(t *testing.T) {
	valid := map[string]int64{
		"12":     12,
		" 7 ":    7,
		"-3":     -3,
		"+4":     4,
		"12.0":   12,
		"12.000": 12,
		"5.":     5,
	}
	for in, want := range valid {
		got, err := parseQuantity(in)
		if err != nil || got != want {
			t.Errorf("parseQuantity(%q) = %d, %v; want %d", in, got, err, want)
		}
	}

	for _, in := range []string{"", "1e3", "0x1p4", "0x10", "1.5", ".0", "+-1", "1_000", "Inf", "NaN", "99999999999999999999"} {
		if got, err := parseQuantity(in); err == nil {
			t.Errorf("parseQuantity(%q) = %d, want error", in, got)
		}
	}
}

func TestNewSnapshotRejectsTotalOverflow(t *testing.T) {
	big := int64(MaxTotalQuantity)
	_, err := NewSnapshot("m", captured, []Row{
		{SKU: "A", Quantity: big},
		{SKU: "B", Quantity: 1},
	})
	var me *MalformedError
	if !errors.As(err, &me) || me.Kind != KindInvalidRow || me.Line != 3 {
		t.Fatalf("err = %v, want invalid_row at line 3", err)
	}

	_, err = NewSnapshot("m", captured, []Row{
		{SKU: "A", Quantity: -big},
		{SKU: "B", Quantity: -1},
	})
	if !errors.Is(err, ErrMalformedFeed) {
		t.Errorf("negative overflow err = %v, want ErrMalformedFeed", err)
	}

	s, err := NewSnapshot("m", captured, []Row{
		{SKU: "A", Quantity: big},
		{SKU: "B", Quantity: -big},
	})
	if err != nil || s.TotalQuantity() != 0 {
		t.Errorf("balanced total = %d, %v; want 0", s.TotalQuantity(), err)
	}
}
