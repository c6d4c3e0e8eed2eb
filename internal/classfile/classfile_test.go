package classfile

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func sampleClass() *Definition {
	return &Definition{
		Name:       "com/example/Adder",
		Super:      ObjectName,
		Interfaces: []string{"java/util/function/IntUnaryOperator"},
		Access:     AccPublic,
		Version:    "52.0",
		Fields: []Member{
			{Name: "cache", Descriptor: "[Lcom/example/Entry;", Access: AccPrivate},
		},
		Methods: []Member{
			{
				Name:       "add",
				Descriptor: "(II)I",
				Access:     AccPublic | AccStatic,
				Code: &Code{
					Instructions: []Instruction{
						ILoad(0),
						ILoad(1),
						Op(OpIAdd),
						Op(OpIReturn),
					},
					MaxLocals: 2,
				},
			},
			{
				Name:       "make",
				Descriptor: "()Lcom/example/Helper;",
				Access:     AccStatic,
				Code: &Code{
					Instructions: []Instruction{
						New("com/example/Helper"),
						Op(OpAReturn),
					},
				},
			},
		},
	}
}

func TestMarshal(t *testing.T) {
	t.Run("produces_identical_bytes_for_identical_definitions", func(t *testing.T) {
		a, err := Marshal(sampleClass())
		if err != nil {
			t.Fatalf("Marshal() error: %v", err)
		}
		b, err := Marshal(sampleClass())
		if err != nil {
			t.Fatalf("Marshal() error: %v", err)
		}

		if !bytes.Equal(a, b) {
			t.Error("encodings differ for identical definitions")
		}
	})

	t.Run("decodes_back_to_equal_definition", func(t *testing.T) {
		data, err := Marshal(sampleClass())
		if err != nil {
			t.Fatalf("Marshal() error: %v", err)
		}

		got, err := Unmarshal(data)

		if err != nil {
			t.Fatalf("Unmarshal() error: %v", err)
		}
		if !reflect.DeepEqual(got, sampleClass()) {
			t.Errorf("got %+v, want %+v", got, sampleClass())
		}
	})

	t.Run("rejects_garbage", func(t *testing.T) {
		_, err := Unmarshal([]byte("not a class"))

		if err == nil {
			t.Error("expected error, got nil")
		}
	})
}

func TestReferences(t *testing.T) {
	got := References(sampleClass())
	want := []string{
		"com/example/Entry",
		"com/example/Helper",
		"java/lang/Object",
		"java/util/function/IntUnaryOperator",
	}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestRelocate(t *testing.T) {
	d := sampleClass()
	Relocate(d, func(name string) string { return "sandbox/" + name })

	if d.Name != "sandbox/com/example/Adder" {
		t.Errorf("Name = %q", d.Name)
	}
	if d.Super != "sandbox/java/lang/Object" {
		t.Errorf("Super = %q", d.Super)
	}
	if got := d.Fields[0].Descriptor; got != "[Lsandbox/com/example/Entry;" {
		t.Errorf("field descriptor = %q", got)
	}
	mk := d.MethodByName("make")
	if got := mk.Descriptor; got != "()Lsandbox/com/example/Helper;" {
		t.Errorf("method descriptor = %q", got)
	}
	if got := mk.Code.Instructions[0].Str; got != "sandbox/com/example/Helper" {
		t.Errorf("new operand = %q", got)
	}
}

func TestClone(t *testing.T) {
	t.Run("copies_are_independent", func(t *testing.T) {
		orig := sampleClass()
		c := orig.Clone()

		c.Methods[0].Code.Instructions[0] = IConst(7)
		c.Methods[0].Access |= AccSynchronized
		c.Interfaces[0] = "x/Y"

		if orig.Methods[0].Code.Instructions[0] != ILoad(0) {
			t.Error("clone shares instruction storage")
		}
		if orig.Methods[0].Access.Has(AccSynchronized) {
			t.Error("clone shares member storage")
		}
		if orig.Interfaces[0] == "x/Y" {
			t.Error("clone shares interface storage")
		}
	})
}

func TestParseMethodDescriptor(t *testing.T) {
	tests := []struct {
		name    string
		desc    string
		params  int
		ret     string
		wantErr bool
	}{
		{name: "void_no_args", desc: "()V", params: 0, ret: "V"},
		{name: "mixed_args", desc: "(I[JLjava/lang/String;)Z", params: 3, ret: "Z"},
		{name: "object_return", desc: "()Ljava/lang/List;", params: 0, ret: "Ljava/lang/List;"},
		{name: "missing_paren", desc: "I)V", wantErr: true},
		{name: "unterminated_object", desc: "(Ljava/lang/String)V", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mt, err := ParseMethodDescriptor(tt.desc)

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(mt.Params) != tt.params || mt.Return != tt.ret {
				t.Errorf("got %+v", mt)
			}
		})
	}
}

func TestVerify(t *testing.T) {
	method := func(insns ...Instruction) *Definition {
		return &Definition{
			Name: "T",
			Methods: []Member{{
				Name:       "m",
				Descriptor: "(I)I",
				Access:     AccStatic,
				Code:       &Code{Instructions: insns, MaxLocals: 1},
			}},
		}
	}

	tests := []struct {
		name    string
		def     *Definition
		wantErr bool
	}{
		{
			name: "accepts_loop",
			def: method(
				IConst(0),
				IStore(0),
				Mark("top"),
				ILoad(0),
				IConst(10),
				Jump(OpIfICmpGe, "done"),
				ILoad(0),
				IConst(1),
				Op(OpIAdd),
				IStore(0),
				Jump(OpGoto, "top"),
				Mark("done"),
				ILoad(0),
				Op(OpIReturn),
			),
		},
		{
			name:    "rejects_underflow",
			def:     method(Op(OpIAdd), Op(OpIReturn)),
			wantErr: true,
		},
		{
			name:    "rejects_unknown_label",
			def:     method(Jump(OpGoto, "nowhere")),
			wantErr: true,
		},
		{
			name:    "rejects_negative_load",
			def:     method(ILoad(-1), Op(OpIReturn)),
			wantErr: true,
		},
		{
			name:    "rejects_negative_store",
			def:     method(IConst(1), IStore(-2), ILoad(0), Op(OpIReturn)),
			wantErr: true,
		},
		{
			name:    "rejects_falling_off_end",
			def:     method(ILoad(0), Op(OpPop)),
			wantErr: true,
		},
		{
			name: "rejects_inconsistent_merge",
			def: method(
				ILoad(0),
				Jump(OpIfEq, "join"),
				IConst(1),
				Mark("join"),
				ILoad(0),
				Op(OpIReturn),
			),
			wantErr: true,
		},
		{
			name: "rejects_duplicate_label",
			def: method(
				Mark("a"),
				Mark("a"),
				ILoad(0),
				Op(OpIReturn),
			),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Verify(tt.def)

			if tt.wantErr {
				var verr *VerifyError
				if !errors.As(err, &verr) {
					t.Fatalf("got %v, want *VerifyError", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestClassNameOf(t *testing.T) {
	tests := []struct {
		entry string
		want  string
		ok    bool
	}{
		{entry: "com/example/A.class", want: "com/example/A", ok: true},
		{entry: "META-INF/detbox-preload", ok: false},
		{entry: ".class", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.entry, func(t *testing.T) {
			got, ok := ClassNameOf(tt.entry)

			if got != tt.want || ok != tt.ok {
				t.Errorf("ClassNameOf(%q) = %q, %v, want %q, %v", tt.entry, got, ok, tt.want, tt.ok)
			}
		})
	}
}
