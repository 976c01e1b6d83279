package classfile

import (
	"fmt"
	"strings"
)

// TypeKind discriminates the Type union.
type TypeKind uint8

// Type kinds. KindUnknown doubles as the verifier's "top": an undefined or
// unusable slot.
const (
	KindUnknown TypeKind = iota
	KindBoolean
	KindByte
	KindChar
	KindShort
	KindInt
	KindFloat
	KindLong
	KindDouble
	KindObject
	KindNull
	KindReturnAddress
	KindUninitialized
	KindVoid
)

// Type is a source-level JVM type. Object types carry the class's internal
// (slash-separated) name; array types carry their field descriptor ("[[I").
// Uninitialized types carry the allocation site's bytecode offset, or -1 for
// the not-yet-initialized receiver of a constructor. ReturnAddress types
// carry the return target's bytecode offset.
type Type struct {
	Kind   TypeKind
	Name   string
	Offset int
}

// Predefined types.
var (
	TypeUnknown = Type{Kind: KindUnknown}
	TypeBoolean = Type{Kind: KindBoolean}
	TypeByte    = Type{Kind: KindByte}
	TypeChar    = Type{Kind: KindChar}
	TypeShort   = Type{Kind: KindShort}
	TypeInt     = Type{Kind: KindInt}
	TypeFloat   = Type{Kind: KindFloat}
	TypeLong    = Type{Kind: KindLong}
	TypeDouble  = Type{Kind: KindDouble}
	TypeNull    = Type{Kind: KindNull}
	TypeVoid    = Type{Kind: KindVoid}

	TypeObject    = ObjectType("java/lang/Object")
	TypeString    = ObjectType("java/lang/String")
	TypeClass     = ObjectType("java/lang/Class")
	TypeThrowable = ObjectType("java/lang/Throwable")
)

// ObjectType returns the reference type for the given internal class name or
// array descriptor.
func ObjectType(name string) Type {
	return Type{Kind: KindObject, Name: name}
}

// UninitializedType returns the type of a freshly allocated, not yet
// constructed object. offset is the allocation site's bytecode offset; -1
// marks a constructor's receiver.
func UninitializedType(name string, offset int) Type {
	return Type{Kind: KindUninitialized, Name: name, Offset: offset}
}

// ReturnAddressType returns the type pushed by jsr: the address of the
// instruction at target, to be consumed by ret.
func ReturnAddressType(target int) Type {
	return Type{Kind: KindReturnAddress, Offset: target}
}

// Size returns the number of stack/local slots the type occupies: 2 for long
// and double, 0 for void, 1 otherwise.
func (t Type) Size() int {
	switch t.Kind {
	case KindLong, KindDouble:
		return 2
	case KindVoid:
		return 0
	default:
		return 1
	}
}

// IsReference reports whether the type is a reference: an object, array,
// null, or uninitialized object.
func (t Type) IsReference() bool {
	switch t.Kind {
	case KindObject, KindNull, KindUninitialized:
		return true
	default:
		return false
	}
}

// IsIntLike reports whether the type verifies as an int (the JVM collapses
// boolean, byte, char, and short into int).
func (t Type) IsIntLike() bool {
	switch t.Kind {
	case KindBoolean, KindByte, KindChar, KindShort, KindInt:
		return true
	default:
		return false
	}
}

// String returns a readable form of the type.
func (t Type) String() string {
	switch t.Kind {
	case KindUnknown:
		return "<unknown>"
	case KindBoolean:
		return "boolean"
	case KindByte:
		return "byte"
	case KindChar:
		return "char"
	case KindShort:
		return "short"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindLong:
		return "long"
	case KindDouble:
		return "double"
	case KindObject:
		return t.Name
	case KindNull:
		return "<null>"
	case KindReturnAddress:
		return fmt.Sprintf("<returnaddress %d>", t.Offset)
	case KindUninitialized:
		if t.Offset < 0 {
			return fmt.Sprintf("<uninitialized this %s>", t.Name)
		}
		return fmt.Sprintf("<uninitialized %s @%d>", t.Name, t.Offset)
	case KindVoid:
		return "void"
	default:
		return fmt.Sprintf("Type(%d)", t.Kind)
	}
}

// Descriptor returns the field descriptor for the type. Array object types
// already carry descriptor form in Name.
func (t Type) Descriptor() string {
	switch t.Kind {
	case KindBoolean:
		return "Z"
	case KindByte:
		return "B"
	case KindChar:
		return "C"
	case KindShort:
		return "S"
	case KindInt:
		return "I"
	case KindFloat:
		return "F"
	case KindLong:
		return "J"
	case KindDouble:
		return "D"
	case KindVoid:
		return "V"
	case KindObject:
		if strings.HasPrefix(t.Name, "[") {
			return t.Name
		}
		return "L" + t.Name + ";"
	default:
		return "?"
	}
}

// TypeFromDescriptor parses one field descriptor at the start of desc and
// returns the type and the number of descriptor bytes consumed.
func TypeFromDescriptor(desc string) (Type, int, error) {
	if desc == "" {
		return Type{}, 0, fmt.Errorf("classfile: empty type descriptor")
	}
	switch desc[0] {
	case 'Z':
		return TypeBoolean, 1, nil
	case 'B':
		return TypeByte, 1, nil
	case 'C':
		return TypeChar, 1, nil
	case 'S':
		return TypeShort, 1, nil
	case 'I':
		return TypeInt, 1, nil
	case 'F':
		return TypeFloat, 1, nil
	case 'J':
		return TypeLong, 1, nil
	case 'D':
		return TypeDouble, 1, nil
	case 'V':
		return TypeVoid, 1, nil
	case 'L':
		semi := strings.IndexByte(desc, ';')
		if semi == -1 {
			return Type{}, 0, fmt.Errorf("classfile: unterminated class descriptor %q", desc)
		}
		return ObjectType(desc[1:semi]), semi + 1, nil
	case '[':
		_, n, err := TypeFromDescriptor(desc[1:])
		if err != nil {
			return Type{}, 0, err
		}
		// arrays keep full descriptor form as their name
		return ObjectType(desc[:n+1]), n + 1, nil
	default:
		return Type{}, 0, fmt.Errorf("classfile: malformed type descriptor %q", desc)
	}
}

// ParseMethodDescriptor parses a method descriptor such as "(I[[J)V" into
// its argument and return types.
func ParseMethodDescriptor(desc string) ([]Type, Type, error) {
	if !strings.HasPrefix(desc, "(") {
		return nil, Type{}, fmt.Errorf("classfile: malformed method descriptor %q", desc)
	}
	var args []Type
	rest := desc[1:]
	for !strings.HasPrefix(rest, ")") {
		if rest == "" {
			return nil, Type{}, fmt.Errorf("classfile: unterminated method descriptor %q", desc)
		}
		t, n, err := TypeFromDescriptor(rest)
		if err != nil {
			return nil, Type{}, err
		}
		args = append(args, t)
		rest = rest[n:]
	}
	ret, n, err := TypeFromDescriptor(rest[1:])
	if err != nil {
		return nil, Type{}, err
	}
	if rest[1+n:] != "" {
		return nil, Type{}, fmt.Errorf("classfile: trailing characters in method descriptor %q", desc)
	}
	return args, ret, nil
}

// MethodDescriptor builds a method descriptor string from argument and
// return types.
func MethodDescriptor(args []Type, ret Type) string {
	var sb strings.Builder
	sb.WriteByte('(')
	for _, a := range args {
		sb.WriteString(a.Descriptor())
	}
	sb.WriteByte(')')
	sb.WriteString(ret.Descriptor())
	return sb.String()
}

// ArrayElementType returns the element type of an array type. Returns
// TypeUnknown if t is not an array.
func ArrayElementType(t Type) Type {
	if t.Kind != KindObject || !strings.HasPrefix(t.Name, "[") {
		return TypeUnknown
	}
	elem, _, err := TypeFromDescriptor(t.Name[1:])
	if err != nil {
		return TypeUnknown
	}
	return elem
}
