// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package wire

import "testing"

func TestScalarRoundTrip(t *testing.T) {
	var b Buffer
	b.WriteBool(true)
	b.WriteInt(-1234)
	b.WriteUint(9999999999)
	b.WriteFloat(3.5)
	b.WriteString("hello world")
	b.WriteBlob([]byte{1, 2, 3, 4})
	b.WriteSymbol(Symbol(7))

	buf := b.Bytes()

	boolv, buf, err := ReadBool(buf)
	if err != nil || boolv != true {
		t.Fatalf("ReadBool: %v %v", boolv, err)
	}
	intv, buf, err := ReadInt(buf)
	if err != nil || intv != -1234 {
		t.Fatalf("ReadInt: %v %v", intv, err)
	}
	uintv, buf, err := ReadUint(buf)
	if err != nil || uintv != 9999999999 {
		t.Fatalf("ReadUint: %v %v", uintv, err)
	}
	floatv, buf, err := ReadFloat(buf)
	if err != nil || floatv != 3.5 {
		t.Fatalf("ReadFloat: %v %v", floatv, err)
	}
	strv, buf, err := ReadString(buf)
	if err != nil || strv != "hello world" {
		t.Fatalf("ReadString: %v %v", strv, err)
	}
	blobv, buf, err := ReadBytesShared(buf)
	if err != nil || string(blobv) != "\x01\x02\x03\x04" {
		t.Fatalf("ReadBytesShared: %v %v", blobv, err)
	}
	symv, buf, err := ReadSymbol(buf)
	if err != nil || symv != 7 {
		t.Fatalf("ReadSymbol: %v %v", symv, err)
	}
	if len(buf) != 0 {
		t.Fatalf("trailing bytes: %d", len(buf))
	}
}

func TestStructRoundTrip(t *testing.T) {
	var st Symtab
	name := st.Intern("name")
	age := st.Intern("age")

	var b Buffer
	b.BeginStruct(-1)
	b.BeginField(name)
	b.WriteString("ada")
	b.BeginField(age)
	b.WriteInt(36)
	b.EndStruct()

	body, rest, err := ReadStruct(b.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 0 {
		t.Fatalf("unexpected trailing bytes: %d", len(rest))
	}

	var gotName string
	var gotAge int64
	for len(body) > 0 {
		var sym Symbol
		sym, body, err = ReadLabel(body)
		if err != nil {
			t.Fatal(err)
		}
		switch st.Get(sym) {
		case "name":
			gotName, body, err = ReadString(body)
		case "age":
			gotAge, body, err = ReadInt(body)
		default:
			body = body[SizeOf(body):]
		}
		if err != nil {
			t.Fatal(err)
		}
	}
	if gotName != "ada" || gotAge != 36 {
		t.Fatalf("got name=%q age=%d", gotName, gotAge)
	}
}

func TestSymtabRoundTrip(t *testing.T) {
	var st Symtab
	st.Intern("foo")
	st.Intern("bar")
	st.Intern("baz")

	var b Buffer
	st.Encode(&b)

	got, rest, err := DecodeSymtab(b.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 0 {
		t.Fatalf("unexpected trailing bytes: %d", len(rest))
	}
	for i, want := range []string{"foo", "bar", "baz"} {
		if got.Get(Symbol(i)) != want {
			t.Fatalf("symbol %d: got %q want %q", i, got.Get(Symbol(i)), want)
		}
	}
}

func TestSizeOfSkipsUnknownFields(t *testing.T) {
	var st Symtab
	known := st.Intern("known")
	unknown := st.Intern("unknown")

	var b Buffer
	b.BeginStruct(-1)
	b.BeginField(unknown)
	b.WriteString("skip me")
	b.BeginField(known)
	b.WriteInt(42)
	b.EndStruct()

	body, _, err := ReadStruct(b.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	var got int64 = -1
	for len(body) > 0 {
		var sym Symbol
		sym, body, err = ReadLabel(body)
		if err != nil {
			t.Fatal(err)
		}
		if st.Get(sym) == "known" {
			got, body, err = ReadInt(body)
			if err != nil {
				t.Fatal(err)
			}
			continue
		}
		body = body[SizeOf(body):]
	}
	if got != 42 {
		t.Fatalf("got %d want 42", got)
	}
}
