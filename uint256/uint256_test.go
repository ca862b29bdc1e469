package uint256

import "testing"

// Vectors chosen to cross word boundaries and exercise carry paths.

func TestAddDeadbeef(t *testing.T) {
	x := FromUint64(0xDEADBEEFDEADBEEF)
	got := x.Add(x)
	want := Uint256{Words: [4]uint64{0xBD5B7DDFBD5B7DDE, 1, 0, 0}}
	if got != want {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestShl(t *testing.T) {
	x := FromUint64(0xDEADBEEFDEADBEEF)
	got := x.Shl(88)
	// 0xDEADBEEFDEADBEEF << 88 spans into words[1] and words[2].
	want := Uint256{Words: [4]uint64{0, 0xEFDEADBEEF000000, 0xDEADBE, 0}}
	if got != want {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestShr(t *testing.T) {
	x := Uint256{Words: [4]uint64{0, 0xEFDEADBEEF000000, 0xDEADBE, 0}}
	got := x.Shr(88)
	want := FromUint64(0xDEADBEEFDEADBEEF)
	if got != want {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestIncrement(t *testing.T) {
	x := Uint256{Words: [4]uint64{0xffffffffffffffff, 0, 0, 0}}
	got := x.Increment()
	want := Uint256{Words: [4]uint64{0, 1, 0, 0}}
	if got != want {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestSub(t *testing.T) {
	a := FromUint64(300)
	b := FromUint64(100)
	got := a.Sub(b)
	want := FromUint64(200)
	if got != want {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestMulU32(t *testing.T) {
	x := FromUint64(100)
	got := x.MulU32(300)
	want := FromUint64(30000)
	if got != want {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestDiv(t *testing.T) {
	x := FromUint64(30000)
	if got := x.Div(FromUint64(300)); got != FromUint64(100) {
		t.Fatalf("30000/300 = %v, want 100", got)
	}
	if got := x.Div(FromUint64(5)); got != FromUint64(6000) {
		t.Fatalf("30000/5 = %v, want 6000", got)
	}
}

func TestMaskAndBitSlice(t *testing.T) {
	x := Uint256{Words: [4]uint64{0xffffffffffffffff, 0xffffffffffffffff, 0, 0}}
	got := x.Mask(70)
	want := Uint256{Words: [4]uint64{0xffffffffffffffff, 0x3f, 0, 0}}
	if got != want {
		t.Fatalf("got %v want %v", got, want)
	}
	slice := x.BitSlice(64, 70)
	if slice != FromUint64(0x3f) {
		t.Fatalf("bit_slice(64,70) = %v, want 0x3f", slice)
	}
}

func TestTrailingZeros(t *testing.T) {
	if FromUint64(0).TrailingZeros() != 256 {
		t.Fatal("zero value should report 256 trailing zeros")
	}
	if FromUint64(8).TrailingZeros() != 3 {
		t.Fatal("8 should have 3 trailing zeros")
	}
	x := Uint256{Words: [4]uint64{0, 0, 4, 0}}
	if got := x.TrailingZeros(); got != 64*2+2 {
		t.Fatalf("got %d want %d", got, 64*2+2)
	}
}

func TestBitsAndBitValue(t *testing.T) {
	x := FromUint64(0x8000000000000000)
	if x.Bits() != 64 {
		t.Fatalf("bits() = %d, want 64", x.Bits())
	}
	if !x.BitValue(63) {
		t.Fatal("bit 63 should be set")
	}
	if x.BitValue(62) {
		t.Fatal("bit 62 should be clear")
	}
}

func TestCmp(t *testing.T) {
	a := FromUint64(5)
	b := FromUint64(10)
	if a.Cmp(b) >= 0 {
		t.Fatal("5 should be less than 10")
	}
	if b.Cmp(a) <= 0 {
		t.Fatal("10 should be greater than 5")
	}
	if a.Cmp(a) != 0 {
		t.Fatal("5 should equal 5")
	}
}

func TestBytes32RoundTrip(t *testing.T) {
	x := Uint256{Words: [4]uint64{1, 2, 3, 4}}
	b := x.Bytes32()
	got := FromBytes32(b)
	if got != x {
		t.Fatalf("round trip mismatch: got %v want %v", got, x)
	}
}

func TestShiftEdgeCases(t *testing.T) {
	x := One
	if got := x.Shl(256); !got.IsZero() {
		t.Fatalf("shl(256) should overflow to zero, got %v", got)
	}
	if got := x.Shr(256); !got.IsZero() {
		t.Fatalf("shr(256) should underflow to zero, got %v", got)
	}
	// shift by exactly one word width
	y := FromUint64(1)
	got := y.Shl(64)
	want := Uint256{Words: [4]uint64{0, 1, 0, 0}}
	if got != want {
		t.Fatalf("shl(64) = %v, want %v", got, want)
	}
}

func TestXorAnd(t *testing.T) {
	a := FromUint64(0b1100)
	b := FromUint64(0b1010)
	if got := a.Xor(b); got != FromUint64(0b0110) {
		t.Fatalf("xor mismatch: %v", got)
	}
	if got := a.And(b); got != FromUint64(0b1000) {
		t.Fatalf("and mismatch: %v", got)
	}
}
