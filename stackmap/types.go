package stackmap

import (
	"fmt"

	"github.com/classweave/classweave/classfile"
)

// Tag is a verification type tag as encoded in a StackMapTable attribute.
type Tag uint8

// Verification type tags, in classfile encoding order.
const (
	TagTop               Tag = 0
	TagInteger           Tag = 1
	TagFloat             Tag = 2
	TagDouble            Tag = 3
	TagLong              Tag = 4
	TagNull              Tag = 5
	TagUninitializedThis Tag = 6
	TagObject            Tag = 7
	TagUninitialized     Tag = 8
)

// VerificationType is one verification_type_info union value. Object types
// carry the class's internal name or array descriptor; Uninitialized types
// carry the allocation site's bytecode offset.
type VerificationType struct {
	Tag       Tag
	ClassName string
	Offset    int
}

// Convenience values for the payload-free tags.
var (
	VTTop     = VerificationType{Tag: TagTop}
	VTInteger = VerificationType{Tag: TagInteger}
	VTFloat   = VerificationType{Tag: TagFloat}
	VTDouble  = VerificationType{Tag: TagDouble}
	VTLong    = VerificationType{Tag: TagLong}
	VTNull    = VerificationType{Tag: TagNull}
)

// VTObject returns the Object verification type for an internal class name
// or array descriptor.
func VTObject(name string) VerificationType {
	return VerificationType{Tag: TagObject, ClassName: name}
}

// VTUninitialized returns the Uninitialized verification type for an
// allocation at the given bytecode offset.
func VTUninitialized(offset int) VerificationType {
	return VerificationType{Tag: TagUninitialized, Offset: offset}
}

// FromType converts a source-level type to its verification type. Boolean,
// byte, char, and short verify as Integer. An Unknown type becomes an
// Uninitialized placeholder at offset 0, matching how undefined slots have
// historically been written. A constructor receiver (uninitialized, offset
// -1) becomes UninitializedThis.
func FromType(t classfile.Type) (VerificationType, error) {
	switch {
	case t.IsIntLike():
		return VTInteger, nil
	case t.Kind == classfile.KindFloat:
		return VTFloat, nil
	case t.Kind == classfile.KindLong:
		return VTLong, nil
	case t.Kind == classfile.KindDouble:
		return VTDouble, nil
	case t.Kind == classfile.KindObject:
		return VTObject(t.Name), nil
	case t.Kind == classfile.KindNull:
		return VTNull, nil
	case t.Kind == classfile.KindUninitialized:
		if t.Offset < 0 {
			return VerificationType{Tag: TagUninitializedThis}, nil
		}
		return VTUninitialized(t.Offset), nil
	case t.Kind == classfile.KindUnknown:
		return VTUninitialized(0), nil
	default:
		return VerificationType{}, fmt.Errorf("stackmap: type %s has no verification encoding", t)
	}
}

// ToType converts a verification type back to a source-level type. Top and
// Null decode to the Unknown type, which callers treat as "slot not
// usable" rather than an error.
func (v VerificationType) ToType() (classfile.Type, error) {
	switch v.Tag {
	case TagTop, TagNull:
		return classfile.TypeUnknown, nil
	case TagInteger:
		return classfile.TypeInt, nil
	case TagFloat:
		return classfile.TypeFloat, nil
	case TagLong:
		return classfile.TypeLong, nil
	case TagDouble:
		return classfile.TypeDouble, nil
	case TagObject:
		return classfile.ObjectType(v.ClassName), nil
	case TagUninitializedThis:
		return classfile.UninitializedType("", -1), nil
	case TagUninitialized:
		return classfile.UninitializedType("", v.Offset), nil
	default:
		return classfile.Type{}, fmt.Errorf("stackmap: invalid verification type tag %d", v.Tag)
	}
}

// SlotSize returns the number of local/stack slots the type occupies: 2
// for Long and Double, 1 otherwise.
func (v VerificationType) SlotSize() int {
	switch v.Tag {
	case TagLong, TagDouble:
		return 2
	default:
		return 1
	}
}

func (v VerificationType) String() string {
	switch v.Tag {
	case TagTop:
		return "top"
	case TagInteger:
		return "int"
	case TagFloat:
		return "float"
	case TagDouble:
		return "double"
	case TagLong:
		return "long"
	case TagNull:
		return "null"
	case TagUninitializedThis:
		return "uninitializedThis"
	case TagObject:
		return v.ClassName
	case TagUninitialized:
		return fmt.Sprintf("uninitialized@%d", v.Offset)
	default:
		return fmt.Sprintf("tag(%d)", v.Tag)
	}
}
