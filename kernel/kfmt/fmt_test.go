package kfmt

import (
	"bytes"
	"testing"
)

func TestPrintf(t *testing.T) {
	defer func() { outputSink = nil }()

	printfn := Printf

	specs := []struct {
		fn        func()
		expOutput string
	}{
		{func() { printfn("no args") }, "no args"},
		{func() { printfn("%t", true) }, "true"},
		{func() { printfn("%t", false) }, "false"},
		{func() { printfn("%s arg", "STRING") }, "STRING arg"},
		{func() { printfn("%s arg", []byte("BYTES")) }, "BYTES arg"},
		{func() { printfn("'%4s'", "AB") }, "'  AB'"},
		{func() { printfn("uint: %d", uint8(10)) }, "uint: 10"},
		{func() { printfn("oct: %o", uint16(0777)) }, "oct: 777"},
		{func() { printfn("hex: %02x", uint32(0xf)) }, "hex: 0f"},
		{func() { printfn("neg: %d", int8(-5)) }, "neg: -5"},
		{func() { printfn("%s", "a") }, "a"},
		{func() { printfn("%z") }, "%!(NOVERB)"},
		{func() { printfn("%d") }, "(MISSING)"},
		{func() { printfn("%d", 1, 2) }, "1%!(EXTRA)"},
		{func() { printfn("%d", "nope") }, "%!(WRONGTYPE)"},
	}

	for specIndex, spec := range specs {
		var buf bytes.Buffer
		SetOutputSink(&buf)
		spec.fn()
		SetOutputSink(nil)

		if got := buf.String(); got != spec.expOutput {
			t.Errorf("[spec %d] expected output %q; got %q", specIndex, spec.expOutput, got)
		}
	}
}

func TestEarlyBufferFlush(t *testing.T) {
	defer func() {
		outputSink = nil
		earlyBuffer = ringBuffer{}
	}()

	outputSink = nil
	Printf("buffered %d", 42)

	var buf bytes.Buffer
	SetOutputSink(&buf)

	if got, want := buf.String(), "buffered 42"; got != want {
		t.Errorf("expected flushed early output %q; got %q", want, got)
	}
}
