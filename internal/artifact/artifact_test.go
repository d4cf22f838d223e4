package artifact

import (
	"bytes"
	"strings"
	"testing"
)

func TestFunctionEqual_IgnoresLastChange(t *testing.T) {
	a := NewFunction(0x4011a0, "parse_header")
	b := NewFunction(0x4011a0, "parse_header")
	a.LastChange = 100
	b.LastChange = 2000

	if !a.Equal(b) {
		t.Error("expected functions differing only in LastChange to be equal")
	}

	b.Name = "parse_hdr"
	if a.Equal(b) {
		t.Error("expected functions with different names to differ")
	}
}

func TestFunctions_RoundTrip(t *testing.T) {
	funcs := map[uint64]Function{
		0x4011a0: NewFunction(0x4011a0, "parse_header"),
		0x402200: NewFunction(0x402200, "main"),
	}

	data, err := DumpFunctions(funcs)
	if err != nil {
		t.Fatalf("dumping functions: %v", err)
	}

	loaded, err := LoadFunctions(data)
	if err != nil {
		t.Fatalf("loading functions: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 functions, got %d", len(loaded))
	}
	if loaded[0x4011a0].Name != "parse_header" {
		t.Errorf("expected parse_header, got %q", loaded[0x4011a0].Name)
	}
}

func TestDumpFunctions_Deterministic(t *testing.T) {
	funcs := map[uint64]Function{
		0x401000: NewFunction(0x401000, "a"),
		0x402000: NewFunction(0x402000, "b"),
		0x403000: NewFunction(0x403000, "c"),
	}

	first, err := DumpFunctions(funcs)
	if err != nil {
		t.Fatalf("dumping functions: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := DumpFunctions(funcs)
		if err != nil {
			t.Fatalf("dumping functions: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("expected byte-identical dumps of unchanged data")
		}
	}
}

func TestStackVariableEqual_IgnoresOffsetType(t *testing.T) {
	a := NewStackVariable(0x4011a0, -0x18, OffsetIDA, "buf", "char[16]", 16)
	b := NewStackVariable(0x4011a0, -0x18, OffsetBinja, "buf", "char[16]", 16)

	if !a.Equal(b) {
		t.Error("expected variables differing only in offset convention to be equal")
	}

	b.Type = "int"
	if a.Equal(b) {
		t.Error("expected variables with different types to differ")
	}
}

func TestStackVariable_OffsetConversion(t *testing.T) {
	v := NewStackVariable(0x4011a0, -0x18, OffsetIDA, "buf", "char[16]", 16)

	off, err := v.OffsetFor(OffsetBinja)
	if err != nil {
		t.Fatalf("converting within the frame-relative family: %v", err)
	}
	if off != -0x18 {
		t.Errorf("expected identity conversion, got %#x", off)
	}

	if _, err := v.OffsetFor(OffsetGhidra); err == nil {
		t.Error("expected conversion to ghidra convention to fail")
	}
	v.OffsetType = OffsetAngr
	if _, err := v.OffsetFor(OffsetIDA); err == nil {
		t.Error("expected conversion from angr convention to fail")
	}
}

func TestDumpStackVariables_SortedByOffset(t *testing.T) {
	vars := map[int64]StackVariable{
		-0x08: NewStackVariable(0x4011a0, -0x08, OffsetIDA, "count", "int", 4),
		-0x20: NewStackVariable(0x4011a0, -0x20, OffsetIDA, "buf", "char[16]", 16),
		-0x10: NewStackVariable(0x4011a0, -0x10, OffsetIDA, "ptr", "void*", 8),
	}

	data, err := DumpStackVariables(vars)
	if err != nil {
		t.Fatalf("dumping stack variables: %v", err)
	}

	text := string(data)
	bufIdx := strings.Index(text, `"buf"`)
	ptrIdx := strings.Index(text, `"ptr"`)
	countIdx := strings.Index(text, `"count"`)
	if bufIdx < 0 || ptrIdx < 0 || countIdx < 0 {
		t.Fatalf("missing variable names in dump:\n%s", text)
	}
	if !(bufIdx < ptrIdx && ptrIdx < countIdx) {
		t.Errorf("expected variables ordered by offset, got:\n%s", text)
	}

	loaded, err := LoadStackVariables(data)
	if err != nil {
		t.Fatalf("loading stack variables: %v", err)
	}
	if len(loaded) != 3 {
		t.Fatalf("expected 3 variables, got %d", len(loaded))
	}
	if loaded[-0x20].Name != "buf" {
		t.Errorf("expected buf at -0x20, got %q", loaded[-0x20].Name)
	}
}

func TestOffsetKey_RoundTrip(t *testing.T) {
	for _, off := range []int64{-0x18, 0, 0x10, -1} {
		key := OffsetKey(off)
		parsed, err := ParseOffsetKey(key)
		if err != nil {
			t.Fatalf("parsing key %q: %v", key, err)
		}
		if parsed != off {
			t.Errorf("offset %d round-tripped to %d via %q", off, parsed, key)
		}
	}
}

func TestComments_RoundTrip(t *testing.T) {
	cmts := map[uint64]Comment{
		0x4011b0: NewComment(0x4011a0, 0x4011b0, "checks magic bytes", false),
		0x4011c4: NewComment(0x4011a0, 0x4011c4, "// length field", true),
	}

	data, err := DumpComments(cmts)
	if err != nil {
		t.Fatalf("dumping comments: %v", err)
	}
	loaded, err := LoadComments(data)
	if err != nil {
		t.Fatalf("loading comments: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 comments, got %d", len(loaded))
	}
	if !loaded[0x4011c4].Decompiled {
		t.Error("expected decompiled flag to survive the round trip")
	}
	if loaded[0x4011b0].Text != "checks magic bytes" {
		t.Errorf("unexpected comment text %q", loaded[0x4011b0].Text)
	}
}

func TestStructEqual(t *testing.T) {
	a := NewStruct("header_t", 24)
	a.AddMember("magic", 0, "uint32_t", 4)
	a.AddMember("length", 4, "uint32_t", 4)

	b := NewStruct("header_t", 24)
	b.AddMember("length", 4, "uint32_t", 4)
	b.AddMember("magic", 0, "uint32_t", 4)
	b.LastChange = 999

	// Insertion order must not matter, members are offset-sorted.
	if !a.Equal(b) {
		t.Error("expected structs with identical members to be equal")
	}

	b.AddMember("flags", 8, "uint16_t", 2)
	if a.Equal(b) {
		t.Error("expected structs with different members to differ")
	}
}

func TestStruct_RoundTrip(t *testing.T) {
	s := NewStruct("header_t", 24)
	s.AddMember("magic", 0, "uint32_t", 4)
	s.AddMember("payload", 8, "char[16]", 16)

	data, err := s.EncodeTOML()
	if err != nil {
		t.Fatalf("encoding struct: %v", err)
	}
	loaded, err := DecodeStructTOML(data)
	if err != nil {
		t.Fatalf("decoding struct: %v", err)
	}
	if !s.Equal(loaded) {
		t.Errorf("struct changed across the round trip: %+v vs %+v", s, loaded)
	}
}

func TestOffsetTypeString(t *testing.T) {
	if OffsetIDA.String() == OffsetGhidra.String() {
		t.Error("expected distinct names for distinct conventions")
	}
}
