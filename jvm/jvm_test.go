package jvm

import "testing"

func TestBinaryNameToFieldDescriptor(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"boolean", "Z"},
		{"byte", "B"},
		{"char", "C"},
		{"double", "D"},
		{"float", "F"},
		{"int", "I"},
		{"long", "J"},
		{"short", "S"},
		{"Integer", "LInteger;"},
		{"java.lang.Integer", "Ljava/lang/Integer;"},
		{"int[][]", "[[I"},
		{"java.lang.Integer[][][]", "[[[Ljava/lang/Integer;"},
	}
	for _, c := range cases {
		if got := BinaryNameToFieldDescriptor(c.in); got != c.want {
			t.Errorf("BinaryNameToFieldDescriptor(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestFieldDescriptorToBinaryName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Z", "boolean"},
		{"B", "byte"},
		{"C", "char"},
		{"D", "double"},
		{"F", "float"},
		{"I", "int"},
		{"J", "long"},
		{"S", "short"},
		{"LInteger;", "Integer"},
		{"Ljava/lang/Integer;", "java.lang.Integer"},
		{"[[I", "int[][]"},
		{"[[Ljava/lang/Integer;", "java.lang.Integer[][]"},
	}
	for _, c := range cases {
		got, err := FieldDescriptorToBinaryName(c.in)
		if err != nil {
			t.Fatalf("FieldDescriptorToBinaryName(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("FieldDescriptorToBinaryName(%q) = %q, want %q", c.in, got, c.want)
		}
	}

	if _, err := FieldDescriptorToBinaryName(""); err == nil {
		t.Error("FieldDescriptorToBinaryName(\"\") should fail")
	}
	if _, err := FieldDescriptorToBinaryName("Q"); err == nil {
		t.Error("FieldDescriptorToBinaryName(\"Q\") should fail")
	}
}

func TestDescriptorRoundTrip(t *testing.T) {
	// For every valid binary name, descriptor conversion and its inverse
	// must compose to identity.
	names := []string{
		"boolean", "byte", "char", "double", "float", "int", "long", "short",
		"int[][]", "java.lang.Integer", "java.lang.Byte$ByteCache[]",
	}
	for _, name := range names {
		desc := BinaryNameToFieldDescriptor(name)
		back, err := FieldDescriptorToBinaryName(desc)
		if err != nil {
			t.Fatalf("round trip of %q: %v", name, err)
		}
		if back != name {
			t.Errorf("round trip of %q: got %q via %q", name, back, desc)
		}
	}
}

func TestBinaryNameToClassGetName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"int", "int"},
		{"Integer", "Integer"},
		{"java.lang.Integer", "java.lang.Integer"},
		{"int[][]", "[[I"},
		{"java.lang.Integer[][][]", "[[[Ljava.lang.Integer;"},
	}
	for _, c := range cases {
		if got := BinaryNameToClassGetName(c.in); got != c.want {
			t.Errorf("BinaryNameToClassGetName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestFieldDescriptorToClassGetName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Z", "boolean"},
		{"I", "int"},
		{"LInteger;", "Integer"},
		{"Ljava/lang/Integer;", "java.lang.Integer"},
		{"[[I", "[[I"},
		{"[[Ljava/lang/Integer;", "[[Ljava.lang.Integer;"},
	}
	for _, c := range cases {
		got, err := FieldDescriptorToClassGetName(c.in)
		if err != nil {
			t.Fatalf("FieldDescriptorToClassGetName(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("FieldDescriptorToClassGetName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestArglistToJVM(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"()", "()"},
		{"(int)", "(I)"},
		{"(int, int)", "(II)"},
		{"(int, long, short)", "(IJS)"},
		{"(java.lang.Integer, int, java.lang.Integer)", "(Ljava/lang/Integer;ILjava/lang/Integer;)"},
		{"(int[])", "([I)"},
		{"(int[], int, int)", "([III)"},
		{"(int, int[][], int)", "(I[[II)"},
		{"(java.lang.Integer[], int, java.lang.Integer[][])", "([Ljava/lang/Integer;I[[Ljava/lang/Integer;)"},
	}
	for _, c := range cases {
		got, err := ArglistToJVM(c.in)
		if err != nil {
			t.Fatalf("ArglistToJVM(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("ArglistToJVM(%q) = %q, want %q", c.in, got, c.want)
		}
	}

	if _, err := ArglistToJVM("int)"); err == nil {
		t.Error("ArglistToJVM without parens should fail")
	}
}

func TestArglistFromJVM(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"()", "()"},
		{"(I)", "(int)"},
		{"(II)", "(int, int)"},
		{"(IJS)", "(int, long, short)"},
		{"(Ljava/lang/Integer;ILjava/lang/Integer;)", "(java.lang.Integer, int, java.lang.Integer)"},
		{"([I)", "(int[])"},
		{"([III)", "(int[], int, int)"},
		{"(I[[II)", "(int, int[][], int)"},
		{"([Ljava/lang/Integer;I[[Ljava/lang/Integer;)", "(java.lang.Integer[], int, java.lang.Integer[][])"},
	}
	for _, c := range cases {
		got, err := ArglistFromJVM(c.in)
		if err != nil {
			t.Fatalf("ArglistFromJVM(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("ArglistFromJVM(%q) = %q, want %q", c.in, got, c.want)
		}
	}

	if _, err := ArglistFromJVM("([)"); err == nil {
		t.Error("ArglistFromJVM with dangling array marker should fail")
	}
}
